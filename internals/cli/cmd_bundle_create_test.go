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
	"bytes"
	"io"
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/bundle"
	"github.com/canonical/otactl/internals/cli"
)

func (s *OtactlSuite) TestBundleCreate(c *C) {
	dir := c.MkDir()
	boot := filepath.Join(dir, "boot.img")
	root := filepath.Join(dir, "root.img")
	c.Assert(os.WriteFile(boot, []byte("kernel"), 0644), IsNil)
	c.Assert(os.WriteFile(root, bytes.Repeat([]byte("r"), 10000), 0644), IsNil)
	out := filepath.Join(dir, "update.otab")

	c.Assert(s.run(c, "bundle", "create", "--name", "core-os", "--version", "2.1", "--arch", "arm64",
		"--boot", boot, "--root", root, "--note", "built by ci", out), IsNil)
	c.Check(s.Stderr(), Equals, "Created bundle "+out+" for core-os 2.1.\n")

	f, err := os.Open(out)
	c.Assert(err, IsNil)
	defer f.Close()
	br, err := bundle.NewReader(f)
	c.Assert(err, IsNil)
	c.Check(br.Manifest(), DeepEquals, &bundle.Manifest{Name: "core-os", Version: "2.1", Architecture: "arm64"})

	got := map[bundle.Role]int{}
	for {
		p, err := br.Next()
		if err == io.EOF {
			break
		}
		c.Assert(err, IsNil)
		data, err := io.ReadAll(p)
		c.Assert(err, IsNil)
		got[p.Role] = len(data)
	}
	c.Check(got, DeepEquals, map[bundle.Role]int{bundle.RoleBoot: 6, bundle.RoleRoot: 10000})

	// Nothing but the bundle is left behind.
	entries, err := os.ReadDir(dir)
	c.Assert(err, IsNil)
	c.Check(entries, HasLen, 3)
}

func (s *OtactlSuite) TestBundleCreateInstalls(c *C) {
	dir := c.MkDir()
	root := filepath.Join(dir, "root.img")
	c.Assert(os.WriteFile(root, []byte("fresh root"), 0644), IsNil)
	out := filepath.Join(dir, "update.otab")
	c.Assert(s.run(c, "bundle", "create", "--name", "core-os", "--version", "3", "--root", root, out), IsNil)

	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	s.ResetStdStreams()
	c.Assert(s.run(c, "update", "install", "--no-reboot", out), IsNil)
	c.Check(s.Stdout(), Matches, "Installed core-os 3 into set b.\n.*")
}

func (s *OtactlSuite) TestBundleCreateToStdout(c *C) {
	root := filepath.Join(c.MkDir(), "root.img")
	c.Assert(os.WriteFile(root, []byte("root"), 0644), IsNil)

	c.Assert(s.run(c, "bundle", "create", "--name", "os", "--version", "1", "--root", root, "-"), IsNil)
	c.Check(bytes.HasPrefix(s.stdout.Bytes(), []byte(bundle.Magic)), Equals, true)

	restore := cli.FakeIsStdoutTTY(true)
	defer restore()
	err := s.run(c, "bundle", "create", "--name", "os", "--version", "1", "--root", root, "-")
	c.Check(err, ErrorMatches, "cannot write update bundle to a terminal")
}

func (s *OtactlSuite) TestBundleCreateErrors(c *C) {
	dir := c.MkDir()
	out := filepath.Join(dir, "update.otab")
	err := s.run(c, "bundle", "create", "--name", "os", "--version", "1", "--root", filepath.Join(dir, "missing"), out)
	c.Check(err, ErrorMatches, `io error: cannot read root image: .*`)
	c.Check(cli.ExitCode(err), Equals, 11)
	entries, err := os.ReadDir(dir)
	c.Assert(err, IsNil)
	c.Check(entries, HasLen, 0)

	err = s.run(c, "bundle", "create", "--name", "os", "--root", "x", out)
	c.Check(err, ErrorMatches, "the required flag .*--version.* not specified")
	c.Check(cli.ExitCode(err), Equals, 2)
}
