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

package osutil

import (
	"errors"

	. "gopkg.in/check.v1"
)

type outputSuite struct{}

var _ = Suite(&outputSuite{})

func (s *outputSuite) TestOutputErr(c *C) {
	err := errors.New("exit status 1")
	c.Check(OutputErr(nil, err), Equals, err)
	c.Check(OutputErr([]byte("  \n"), err), Equals, err)
	c.Check(OutputErr([]byte("Failed to reboot\n"), err), ErrorMatches, "Failed to reboot")
	c.Check(OutputErr([]byte("one\ntwo\n"), err), ErrorMatches, "\n-----\none\ntwo\n-----")
}
