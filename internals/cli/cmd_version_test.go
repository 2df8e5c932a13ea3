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

package cli_test

import (
	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/cmd"
	"github.com/canonical/otactl/internals/cli"
)

func (s *OtactlSuite) TestVersion(c *C) {
	oldVersion := cmd.Version
	cmd.Version = "4.56"
	defer func() { cmd.Version = oldVersion }()

	c.Assert(s.run(c, "version"), IsNil)
	c.Check(s.Stdout(), Equals, "4.56\n")
	c.Check(s.Stderr(), Equals, "")
}

func (s *OtactlSuite) TestVersionExtraArgs(c *C) {
	rest, err := cli.Parser().ParseArgs([]string{"version", "extra", "args"})
	c.Assert(err, Equals, cli.ErrExtraArgs)
	c.Assert(rest, HasLen, 1)
}
