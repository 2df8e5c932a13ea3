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
	"path/filepath"

	. "gopkg.in/check.v1"
)

type flockSuite struct{}

var _ = Suite(&flockSuite{})

func (s *flockSuite) TestTryLockContention(c *C) {
	path := filepath.Join(c.MkDir(), "lock")

	l1, err := NewFileLock(path)
	c.Assert(err, IsNil)
	defer l1.Close()
	l2, err := NewFileLock(path)
	c.Assert(err, IsNil)
	defer l2.Close()

	c.Check(l1.Path(), Equals, path)
	c.Assert(l1.TryLock(), IsNil)
	c.Check(l2.TryLock(), Equals, ErrAlreadyLocked)

	c.Assert(l1.Unlock(), IsNil)
	c.Check(l2.TryLock(), IsNil)
}

func (s *flockSuite) TestCloseReleases(c *C) {
	path := filepath.Join(c.MkDir(), "lock")

	l1, err := NewFileLock(path)
	c.Assert(err, IsNil)
	c.Assert(l1.Lock(), IsNil)
	c.Assert(l1.Close(), IsNil)

	l2, err := NewFileLock(path)
	c.Assert(err, IsNil)
	defer l2.Close()
	c.Check(l2.TryLock(), IsNil)
}
