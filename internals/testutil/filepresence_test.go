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

package testutil_test

import (
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/testutil"
)

type filePresenceSuite struct{}

var _ = Suite(&filePresenceSuite{})

func (*filePresenceSuite) TestFilePresence(c *C) {
	filename := filepath.Join(c.MkDir(), "foo")
	c.Check(filename, testutil.FileAbsent)
	c.Check(filename, Not(testutil.FilePresent))
	c.Assert(os.WriteFile(filename, nil, 0644), IsNil)
	c.Check(filename, testutil.FilePresent)
	c.Check(filename, Not(testutil.FileAbsent))

	ok, msg := testutil.FilePresent.Check([]interface{}{42}, nil)
	c.Check(ok, Equals, false)
	c.Check(msg, Equals, "filename must be a string")
}

func (*filePresenceSuite) TestFileEquals(c *C) {
	filename := filepath.Join(c.MkDir(), "hostname")
	c.Assert(os.WriteFile(filename, []byte("old"), 0644), IsNil)
	c.Check(filename, testutil.FileEquals, "old")
	c.Check(filename, testutil.FileEquals, []byte("old"))
	c.Check(filename, Not(testutil.FileEquals), "new")

	ok, msg := testutil.FileEquals.Check([]interface{}{filename, "oldest"}, nil)
	c.Check(ok, Equals, false)
	c.Check(msg, Equals, "file contents differ:\n\"old\"")
	ok, msg = testutil.FileEquals.Check([]interface{}{filename, 42}, nil)
	c.Check(ok, Equals, false)
	c.Check(msg, Equals, "cannot compare file contents with something of type int")
	ok, msg = testutil.FileEquals.Check([]interface{}{filename + ".missing", "old"}, nil)
	c.Check(ok, Equals, false)
	c.Check(msg, Matches, `cannot read file ".*hostname.missing": .*no such file or directory`)
}
