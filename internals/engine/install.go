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

package engine

import (
	"context"
	"io"

	"github.com/canonical/otactl/internals/installer"
	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/reboot"
	"github.com/canonical/otactl/internals/slots"
)

// InstallOptions controls Install.
type InstallOptions struct {
	// KeepOverlay leaves the overlay of the target set in place.
	KeepOverlay bool
	// NoReboot skips the reboot into the freshly installed set.
	NoReboot bool
}

// InstallResult describes a completed install.
type InstallResult struct {
	Set    ota.Set
	Bundle string
	Bytes  int64
	// Rebooting is set when a reboot into Set was requested.
	Rebooting bool
}

// Install writes the bundle read from src to the spare set. The default
// set is never changed. Unless opts.NoReboot is set the device then
// reboots once into the spare set.
func (d *Device) Install(ctx context.Context, src io.Reader, opts *InstallOptions) (res *InstallResult, err error) {
	if opts == nil {
		opts = &InstallOptions{}
	}
	unlock, err := d.lock()
	if err != nil {
		return nil, err
	}
	defer unlock()
	j, err := d.openJournal()
	if err != nil {
		return nil, err
	}
	defer j.Close()

	st, err := d.status(j)
	if err != nil {
		return nil, err
	}
	target := st.Spare
	entry := &journal.Entry{Op: journal.OpInstall, Set: target}
	installed := false
	defer func() {
		if err != nil && !installed {
			d.record(j, entry, err)
		}
	}()

	if !slots.Can(st.State, slots.EventInstall) {
		return nil, ota.Errorf(ota.ErrorKindStateConflict, target,
			"cannot install while set %s waits to be committed or rolled back", st.Hot)
	}
	if target == st.Hot {
		return nil, ota.Errorf(ota.ErrorKindPolicyViolation, target, "cannot install over the running set")
	}

	if err := d.overlays.PrepareForInstall(target, st.Hot, opts.KeepOverlay); err != nil {
		return nil, err
	}
	// Whatever the spare held before is gone from here on.
	if err := j.ClearStaged(target); err != nil {
		return nil, err
	}

	written, err := installer.Install(ctx, src, installer.TargetFor(d.layout, target), &installer.Options{
		Architecture: d.layout.Architecture,
	})
	if written != nil {
		entry.Bundle = written.Manifest.String()
		entry.Bytes = written.Bytes()
	}
	if err != nil {
		return nil, err
	}

	installed = true
	d.record(j, entry, nil)
	if err := j.MarkStaged(&journal.Staged{Set: target, EntryID: entry.ID, Bundle: entry.Bundle}); err != nil {
		return nil, err
	}
	d.writeMetrics(j)
	res = &InstallResult{Set: target, Bundle: entry.Bundle, Bytes: entry.Bytes}

	if opts.NoReboot {
		logger.Noticef("Set %s is staged. Reboot into it with \"otactl system reboot --spare\".", target)
		return res, nil
	}
	res.Rebooting = true
	if err := d.rebootLocked(j, reboot.TargetSpare); err != nil {
		return res, err
	}
	return res, nil
}
