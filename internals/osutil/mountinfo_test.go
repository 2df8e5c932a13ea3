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

type mountinfoSuite struct{}

var _ = Suite(&mountinfoSuite{})

func (s *mountinfoSuite) TestParseEntry(c *C) {
	e, err := ParseMountInfoEntry("36 35 179:4 / / rw,noatime shared:1 - ext4 /dev/mmcblk0p4 rw")
	c.Assert(err, IsNil)
	c.Check(e, DeepEquals, &MountInfoEntry{
		MountID:     36,
		DevMajor:    179,
		DevMinor:    4,
		Root:        "/",
		MountDir:    "/",
		FsType:      "ext4",
		MountSource: "/dev/mmcblk0p4",
	})
	c.Check(e.DevNum(), Equals, "179:4")
}

func (s *mountinfoSuite) TestParseEntryEscapes(c *C) {
	e, err := ParseMountInfoEntry(`1 2 8:1 / /mnt/with\040space rw - vfat /dev/sda1 rw`)
	c.Assert(err, IsNil)
	c.Check(e.MountDir, Equals, "/mnt/with space")
}

func (s *mountinfoSuite) TestParseEntryErrors(c *C) {
	for _, t := range []struct{ line, err string }{
		{"1 2 8:1 / /", "incorrect number of fields, expected at least 10 but found 5"},
		{"x 2 8:1 / / rw - ext4 /dev/sda1 rw", `cannot parse mount ID: "x"`},
		{"1 2 81 / / rw - ext4 /dev/sda1 rw", `cannot parse device major:minor number pair: "81"`},
		{"1 2 a:1 / / rw - ext4 /dev/sda1 rw", `cannot parse device major number: "a"`},
		{"1 2 8:b / / rw - ext4 /dev/sda1 rw", `cannot parse device minor number: "b"`},
		{"1 2 8:1 / / rw shared:1 ext4 /dev/sda1 rw", "list of optional fields is not terminated properly"},
	} {
		_, err := ParseMountInfoEntry(t.line)
		c.Check(err, ErrorMatches, t.err, Commentf("%s", t.line))
	}
}

func (s *mountinfoSuite) TestLoadMountInfo(c *C) {
	path := filepath.Join(c.MkDir(), "mountinfo")
	content := "22 1 179:4 / / rw - ext4 /dev/mmcblk0p4 rw\n\n23 22 0:5 / /dev rw - devtmpfs udev rw\n"
	c.Assert(os.WriteFile(path, []byte(content), 0644), IsNil)

	entries, err := LoadMountInfo(path)
	c.Assert(err, IsNil)
	c.Assert(entries, HasLen, 2)
	c.Check(entries[1].MountDir, Equals, "/dev")

	c.Assert(os.WriteFile(path, []byte("garbage\n"), 0644), IsNil)
	_, err = LoadMountInfo(path)
	c.Check(err, ErrorMatches, "cannot parse .*/mountinfo: incorrect number of fields.*")
}
