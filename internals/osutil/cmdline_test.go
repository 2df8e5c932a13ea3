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
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"
)

type cmdlineSuite struct{}

var _ = Suite(&cmdlineSuite{})

func (s *cmdlineSuite) TestKernelCommandLineValue(c *C) {
	path := filepath.Join(c.MkDir(), "cmdline")
	content := `console=ttyS0 root=/dev/sda2 quiet opt="a b" root=PARTUUID=0c1e2f3a-05 rootwait` + "\n"
	c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)

	for _, t := range []struct {
		key   string
		value string
		found bool
	}{
		{"root", "PARTUUID=0c1e2f3a-05", true},
		{"opt", "a b", true},
		{"console", "ttyS0", true},
		{"quiet", "", false},
		{"missing", "", false},
	} {
		value, found, err := KernelCommandLineValue(path, t.key)
		c.Check(err, IsNil)
		c.Check(value, Equals, t.value, Commentf("%s", t.key))
		c.Check(found, Equals, t.found, Commentf("%s", t.key))
	}
}

func (s *cmdlineSuite) TestKernelCommandLineMissing(c *C) {
	_, _, err := KernelCommandLineValue(filepath.Join(c.MkDir(), "nope"), "root")
	c.Check(os.IsNotExist(err), Equals, true)
}
