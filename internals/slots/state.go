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

// Package slots models the A/B slot state machine: which set runs, which
// boots by default, and which transitions are legal between them.
package slots

import (
	"context"
	"errors"

	"github.com/looplab/fsm"

	"github.com/canonical/otactl/internals/ota"
)

// State is the derived state of a device.
type State string

const (
	// StateStable means the default set runs and no update is pending.
	StateStable State = "stable"
	// StateStaged means the spare set holds a freshly installed update
	// while the default set still runs.
	StateStaged State = "staged"
	// StatePendingVerification means the spare set runs through a
	// one-time override and waits to be committed.
	StatePendingVerification State = "pending-verification"
	// StateCommitted is entered by a commit. It is derived as stable
	// afterwards.
	StateCommitted State = "committed"
)

// Event is an operation applied to the state machine.
type Event string

const (
	EventInstall       Event = "install"
	EventRebootSpare   Event = "reboot-spare"
	EventRebootDefault Event = "reboot-default"
	EventCommit        Event = "commit"
)

func states(s ...State) []string {
	names := make([]string, len(s))
	for i, st := range s {
		names[i] = string(st)
	}
	return names
}

var events = fsm.Events{
	{Name: string(EventInstall), Src: states(StateStable, StateStaged), Dst: string(StateStaged)},

	{Name: string(EventRebootSpare), Src: states(StateStable, StateStaged, StatePendingVerification), Dst: string(StatePendingVerification)},

	{Name: string(EventRebootDefault), Src: states(StateStable), Dst: string(StateStable)},
	{Name: string(EventRebootDefault), Src: states(StateStaged, StatePendingVerification), Dst: string(StateStaged)},

	{Name: string(EventCommit), Src: states(StatePendingVerification), Dst: string(StateCommitted)},
	{Name: string(EventCommit), Src: states(StateStable), Dst: string(StateStable)},
	{Name: string(EventCommit), Src: states(StateStaged), Dst: string(StateStaged)},
}

func newMachine(current State) *fsm.FSM {
	return fsm.NewFSM(string(current), events, fsm.Callbacks{})
}

// Transition returns the state reached by applying ev in state from. An
// event that is not legal in from is a state-conflict error.
func Transition(from State, ev Event) (State, error) {
	m := newMachine(from)
	err := m.Event(context.Background(), string(ev))
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		return from, ota.Errorf(ota.ErrorKindStateConflict, "", "cannot %s while %s", ev, from)
	}
	return State(m.Current()), nil
}

// Can reports whether ev is legal in state.
func Can(state State, ev Event) bool {
	return newMachine(state).Can(string(ev))
}
