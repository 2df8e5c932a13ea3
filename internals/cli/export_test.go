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

package cli

import (
	"os"
)

var (
	Truncate   = truncate
	FormatTime = formatTime
)

func FakeIsStdoutTTY(t bool) (restore func()) {
	oldIsStdoutTTY := isStdoutTTY
	isStdoutTTY = t
	return func() {
		isStdoutTTY = oldIsStdoutTTY
	}
}

func FakeIsStdinTTY(t bool) (restore func()) {
	oldIsStdinTTY := isStdinTTY
	isStdinTTY = t
	return func() {
		isStdinTTY = oldIsStdinTTY
	}
}

func FakeTermSize(width, height int) (restore func()) {
	old := termSize
	termSize = func() (int, int) { return width, height }
	return func() {
		termSize = old
	}
}

func MockSignals(notify func(c chan<- os.Signal, sig ...os.Signal), stop func(c chan<- os.Signal)) (restore func()) {
	oldNotify, oldStop := signalNotify, signalStop
	signalNotify, signalStop = notify, stop
	return func() {
		signalNotify, signalStop = oldNotify, oldStop
	}
}
