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

package slots

import (
	"github.com/canonical/otactl/internals/ota"
)

// Spare returns the set an install writes to, given the default set.
func Spare(def ota.Set) ota.Set {
	return def.Other()
}

// NextBoot returns the set the firmware boots next: the override when one
// is set, the default otherwise. An invalid override counts as not set.
func NextBoot(def, override ota.Set) ota.Set {
	if override.Valid() {
		return override
	}
	return def
}

// Status is a snapshot of the slot state of a device.
type Status struct {
	Hot     ota.Set
	Default ota.Set
	Spare   ota.Set
	// Override is the set named by a pending one-time override, if any.
	Override ota.Set
	// Staged is set when the spare set holds a completed install that
	// was not committed.
	Staged bool
	State  State
}

// NextBoot returns the set the device boots next.
func (s *Status) NextBoot() ota.Set {
	return NextBoot(s.Default, s.Override)
}

// Derive computes the status from the running set, the persisted default
// and whether the spare set holds a staged install. Nothing is cached, so
// every call reflects the device as it is now.
func Derive(hot, def ota.Set, staged bool, override ota.Set) *Status {
	st := &Status{
		Hot:      hot,
		Default:  def,
		Spare:    Spare(def),
		Override: override,
		Staged:   staged,
	}
	switch {
	case hot != def:
		st.State = StatePendingVerification
	case staged:
		st.State = StateStaged
	default:
		st.State = StateStable
	}
	return st
}
