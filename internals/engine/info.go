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
	"errors"

	"github.com/canonical/otactl/internals/firmware"
	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/layout"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/slots"
)

// Pseudo states reported by Info when the slot state cannot be derived.
const (
	StateUnknown       slots.State = "unknown"
	StateUnprovisioned slots.State = "unprovisioned"
)

// Info is a snapshot of the device for display.
type Info struct {
	Layout *layout.Layout
	// Image describes the running system image, if it carries metadata.
	Image *firmware.Info
	// Hot is empty when the running system is not on either set.
	Hot      ota.Set
	Default  ota.Set
	Spare    ota.Set
	Override ota.Set
	NextBoot ota.Set
	State    slots.State
	// Staged is the install waiting in the spare set, if any.
	Staged   *journal.Staged
	Overlays map[ota.Set]bool
}

// Info inspects the device. It takes no lock and tolerates a running
// system that is on neither set.
func (d *Device) Info() (*Info, error) {
	info := &Info{
		Layout:   d.layout,
		Image:    d.image,
		Overlays: make(map[ota.Set]bool, len(ota.Sets)),
	}
	for _, set := range ota.Sets {
		info.Overlays[set] = d.overlays.Present(set)
	}

	hot, err := slots.DetectHot(d.layout)
	if err != nil {
		if !ota.IsKind(err, ota.ErrorKindPolicyViolation) {
			return nil, err
		}
		logger.Debugf("%v", err)
	}
	info.Hot = hot

	override, err := d.reboot.Pending()
	if err != nil {
		return nil, err
	}
	info.Override = override
	info.Default, err = d.store.Read()
	if ota.IsKind(err, ota.ErrorKindStateConflict) {
		info.State = StateUnprovisioned
		return info, nil
	}
	if err != nil {
		return nil, err
	}
	info.Spare = slots.Spare(info.Default)

	j, err := journal.Open(d.cfg.Journal, &journal.Options{
		Timeout:  d.cfg.JournalTimeout.Value,
		ReadOnly: true,
	})
	switch {
	case errors.Is(err, journal.ErrNoJournal):
	case err != nil:
		return nil, err
	default:
		defer j.Close()
		if info.Staged, err = j.Staged(info.Spare); err != nil {
			return nil, err
		}
	}

	st := slots.Derive(hot, info.Default, info.Staged != nil, override)
	info.NextBoot = st.NextBoot()
	info.State = st.State
	if hot == "" {
		info.State = StateUnknown
	}
	return info, nil
}

// History returns up to limit journal entries, newest first. A limit of
// zero returns all of them.
func (d *Device) History(limit int) ([]*journal.Entry, error) {
	j, err := journal.Open(d.cfg.Journal, &journal.Options{
		Timeout:  d.cfg.JournalTimeout.Value,
		ReadOnly: true,
	})
	if errors.Is(err, journal.ErrNoJournal) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer j.Close()
	return j.Entries(limit)
}
