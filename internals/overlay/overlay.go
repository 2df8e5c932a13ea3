// Copyright (c) 2024 Canonical Ltd
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License version 3 as
// published by the Free Software Foundation.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package overlay manages the writable overlay kept for each partition
// set on the state partition.
package overlay

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/canonical/x-go/randutil"

	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

const trashPrefix = ".trash-"

// Manager handles the overlays below <state-dir>/overlay.
type Manager struct {
	dir string
}

// New returns the manager for the overlays kept in stateDir.
func New(stateDir string) *Manager {
	return &Manager{dir: filepath.Join(stateDir, "overlay")}
}

// Dir returns the overlay directory of set.
func (m *Manager) Dir(set ota.Set) string {
	return filepath.Join(m.dir, string(set))
}

// Present reports whether set has a non-empty overlay.
func (m *Manager) Present(set ota.Set) bool {
	entries, err := os.ReadDir(m.Dir(set))
	return err == nil && len(entries) > 0
}

// PrepareForInstall gets the overlay of target ready for an install into
// target. The overlay is discarded unless keep is set, in which case it
// is left alone with a warning. The overlay of the running set hot is
// never touched.
func (m *Manager) PrepareForInstall(target, hot ota.Set, keep bool) error {
	if !target.Valid() {
		return ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot prepare overlay of invalid set %q", target)
	}
	if target == hot {
		return ota.Errorf(ota.ErrorKindPolicyViolation, target, "cannot prepare overlay of the running set")
	}
	if keep {
		if m.Present(target) {
			logger.Warnf("Keeping overlay of set %s; it may be inconsistent with the new system.", target)
		}
		return nil
	}
	if err := m.discard(target); err != nil {
		return ota.Errorf(ota.ErrorKindIO, target, "cannot discard overlay: %w", err)
	}
	return nil
}

// discard moves the overlay out of the way in one rename and only then
// removes it, so an interrupted discard never leaves a partial overlay in
// place.
func (m *Manager) discard(set ota.Set) error {
	if err := m.emptyTrash(); err != nil {
		return err
	}
	dir := m.Dir(set)
	if !osutil.CanStat(dir) {
		logger.Debugf("Set %s has no overlay to discard.", set)
		return nil
	}
	trash := filepath.Join(m.dir, fmt.Sprintf("%s%s-%s", trashPrefix, set, randutil.RandomString(8)))
	if err := os.Rename(dir, trash); err != nil {
		return err
	}
	if err := osutil.SyncDir(m.dir); err != nil {
		return err
	}
	logger.Noticef("Discarding overlay of set %s.", set)
	if err := os.RemoveAll(trash); err != nil {
		return err
	}
	if err := os.Mkdir(dir, 0755); err != nil {
		return err
	}
	return osutil.SyncDir(m.dir)
}

// emptyTrash removes overlays left behind by an interrupted discard.
func (m *Manager) emptyTrash() error {
	entries, err := os.ReadDir(m.dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), trashPrefix) {
			continue
		}
		logger.Debugf("Removing stale overlay %s.", e.Name())
		if err := os.RemoveAll(filepath.Join(m.dir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}
