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
	"github.com/canonical/otactl/internals/bootcfg"
	"github.com/canonical/otactl/internals/journal"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/slots"
)

var clearOverride = (*bootcfg.Marker).Clear

// CommitResult describes a completed commit.
type CommitResult struct {
	Set ota.Set
	// Changed is false when Set already was the default.
	Changed bool
}

// Commit makes the running set the default. When set is not empty it
// must name the running set. Committing is the only way the default set
// changes after provisioning.
func (d *Device) Commit(set ota.Set) (res *CommitResult, err error) {
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

	entry := &journal.Entry{Op: journal.OpCommit, Set: set}
	defer func() {
		d.record(j, entry, err)
	}()

	st, err := d.status(j)
	if err != nil {
		return nil, err
	}
	entry.Set = st.Hot
	if set != "" && set != st.Hot {
		return nil, ota.Errorf(ota.ErrorKindPolicyViolation, set,
			"cannot commit a set that is not running (running set is %s)", st.Hot)
	}
	if _, err := slots.Transition(st.State, slots.EventCommit); err != nil {
		return nil, err
	}

	res = &CommitResult{Set: st.Hot, Changed: st.Default != st.Hot}
	if err := d.store.Write(st.Hot); err != nil {
		return nil, err
	}
	if err := j.ClearStaged(st.Hot); err != nil {
		return nil, err
	}
	if !res.Changed {
		logger.Debugf("Set %s already is the default.", st.Hot)
		return res, nil
	}
	logger.Noticef("Committed set %s as the default.", st.Hot)
	// The default now boots the same set. The commit stands even if the
	// leftover override cannot be dropped.
	if err := clearOverride(d.marker); err != nil {
		logger.Noticef("Cannot clear boot override after commit: %v", err)
	}
	return res, nil
}
