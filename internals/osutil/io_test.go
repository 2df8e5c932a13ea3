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

type ioSuite struct{}

var _ = Suite(&ioSuite{})

func (s *ioSuite) TestAtomicWriteFile(c *C) {
	dir := c.MkDir()
	fname := filepath.Join(dir, "marker")

	c.Assert(AtomicWriteFile(fname, []byte("one"), 0600), IsNil)
	c.Assert(AtomicWriteFile(fname, []byte("two"), 0600), IsNil)

	data, err := os.ReadFile(fname)
	c.Assert(err, IsNil)
	c.Check(string(data), Equals, "two")

	st, err := os.Stat(fname)
	c.Assert(err, IsNil)
	c.Check(st.Mode().Perm(), Equals, os.FileMode(0600))

	// No temporary files are left behind.
	entries, err := os.ReadDir(dir)
	c.Assert(err, IsNil)
	c.Check(entries, HasLen, 1)
}

func (s *ioSuite) TestAtomicWriteFileMissingDir(c *C) {
	fname := filepath.Join(c.MkDir(), "missing", "marker")
	err := AtomicWriteFile(fname, []byte("x"), 0600)
	c.Check(os.IsNotExist(err), Equals, true)
}

func (s *ioSuite) TestRemoveSync(c *C) {
	fname := filepath.Join(c.MkDir(), "marker")
	c.Assert(os.WriteFile(fname, nil, 0600), IsNil)

	c.Assert(RemoveSync(fname), IsNil)
	c.Check(CanStat(fname), Equals, false)
	// Removing again is fine.
	c.Check(RemoveSync(fname), IsNil)
}
