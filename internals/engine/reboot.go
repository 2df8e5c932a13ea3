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
	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/reboot"
	"github.com/canonical/otactl/internals/slots"
)

// Reboot restarts the device. With reboot.TargetSpare the next boot, and
// only that one, runs the spare set. The boot configuration is not
// touched.
func (d *Device) Reboot(target reboot.Target) error {
	unlock, err := d.lock()
	if err != nil {
		return err
	}
	defer unlock()
	j, err := d.openJournal()
	if err != nil {
		return err
	}
	defer j.Close()
	return d.rebootLocked(j, target)
}

func (d *Device) rebootLocked(j *journal.Journal, target reboot.Target) error {
	def, err := d.store.Read()
	if err != nil {
		return err
	}
	spare := slots.Spare(def)
	next := def
	ev := slots.EventRebootDefault
	if target == reboot.TargetSpare {
		next = spare
		ev = slots.EventRebootSpare
	}

	if st, err := d.status(j); err == nil {
		if _, err := slots.Transition(st.State, ev); err != nil {
			return err
		}
	} else if !ota.IsKind(err, ota.ErrorKindPolicyViolation) {
		return err
	} else {
		logger.Debugf("Rebooting a system not booted from either set: %v", err)
	}

	entry := &journal.Entry{Op: journal.OpReboot, Set: next}
	arg, err := d.reboot.Arrange(target, spare)
	if err != nil {
		d.record(j, entry, err)
		return err
	}
	// Record before restarting: a successful restart does not return.
	d.record(j, entry, nil)
	logger.Noticef("Rebooting into set %s.", next)
	if err := d.reboot.Restart(arg); err != nil {
		d.record(j, &journal.Entry{Op: journal.OpReboot, Set: next}, err)
		return err
	}
	return nil
}
