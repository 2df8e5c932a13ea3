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
	"os"
	"path/filepath"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/bootcfg"
	"github.com/canonical/otactl/internals/cli"
	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/testutil"
)

func (s *OtactlSuite) defaultSet(c *C) ota.Set {
	def, err := bootcfg.New(dirs.DefaultBootConfigDir).Read()
	c.Assert(err, IsNil)
	return def
}

// bootOverride boots the set the firmware would pick next and consumes a
// pending override.
func (s *OtactlSuite) bootOverride(c *C) {
	marker := bootcfg.NewMarker(dirs.DefaultBootConfigDir)
	override, err := marker.Get()
	c.Assert(err, IsNil)
	c.Assert(marker.Clear(), IsNil)
	if override == "" {
		override = s.defaultSet(c)
	}
	s.dev.BootInto(c, override)
}

func (s *OtactlSuite) TestProvision(c *C) {
	c.Assert(s.run(c, "system", "provision", "B"), IsNil)
	c.Check(s.Stdout(), Equals, "Set b is the default.\n")
	c.Check(s.defaultSet(c), Equals, ota.SetB)

	err := s.run(c, "system", "provision", "a")
	c.Check(err, ErrorMatches, `state-conflict error on set b: cannot provision boot configuration: already provisioned`)
	c.Check(cli.ExitCode(err), Equals, 13)

	err = s.run(c, "system", "provision", "c")
	c.Check(err, ErrorMatches, `invalid partition set "c" .*`)
	c.Check(cli.ExitCode(err), Equals, 2)
}

func (s *OtactlSuite) TestInfo(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(s.run(c, "update", "install", s.writeBundle(c, "arm64", []byte("root"))), IsNil)
	s.bootOverride(c)
	s.ResetStdStreams()

	c.Assert(s.run(c, "system", "info"), IsNil)
	out := s.Stdout()
	for _, line := range []string{
		`disk: +.*/dev/sda \(gpt\)`,
		`architecture: +arm64`,
		`image: +-`,
		`state: +pending-verification`,
		`hot: +b`,
		`default: +a`,
		`spare: +b`,
		`next-boot: +a`,
		`overlays: +-`,
		`Role +Partition +Node +Size`,
		`boot-config +1 +.*/dev/sda1 +\S+B`,
		`root-b +5 +.*/dev/sda5 +\S+B`,
		`state +6 +.*/dev/sda6 +\S+B`,
	} {
		c.Check(out, Matches, `(?s)(.*\n)?`+line+`\n.*`, Commentf(line))
	}
	c.Check(out, Matches, `(?s).*\nstaged: +core-os 2.0 \(\S+Z\)\n.*`)
}

func (s *OtactlSuite) TestInfoUnknownRunningSet(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(os.WriteFile(dirs.FirmwareMetaFile, []byte(`{"name":"core-os","version":"1.0"}`), 0644), IsNil)
	s.dev.WriteCmdline(c, "console=ttyS0")
	s.dev.WriteRootMount(c, nil)
	s.ResetStdStreams()

	c.Assert(s.run(c, "system", "info"), IsNil)
	c.Check(s.Stdout(), Matches, `(?s).*image: +core-os 1.0\n.*state: +unknown\nhot: +-\ndefault: +a\n.*`)
}

func (s *OtactlSuite) TestCommit(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(s.run(c, "update", "install", s.writeBundle(c, "arm64", []byte("root"))), IsNil)
	s.bootOverride(c)
	s.ResetStdStreams()

	err := s.run(c, "system", "commit", "a")
	c.Check(err, ErrorMatches, `policy-violation error on set a: cannot commit a set that is not running \(running set is b\)`)
	c.Check(cli.ExitCode(err), Equals, 14)
	c.Check(s.defaultSet(c), Equals, ota.SetA)

	c.Assert(s.run(c, "system", "commit"), IsNil)
	c.Check(s.Stdout(), Equals, "Set b is now the default.\n")
	c.Check(s.defaultSet(c), Equals, ota.SetB)

	s.ResetStdStreams()
	c.Assert(s.run(c, "system", "commit", "b"), IsNil)
	c.Check(s.Stdout(), Equals, "Set b already is the default.\n")
}

func (s *OtactlSuite) TestCommitUnknownRunningSet(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	s.dev.WriteCmdline(c, "console=ttyS0")
	s.dev.WriteRootMount(c, nil)

	err := s.run(c, "system", "commit")
	c.Check(cli.ExitCode(err), Equals, 14)
	c.Check(s.defaultSet(c), Equals, ota.SetA)
}

func (s *OtactlSuite) TestReboot(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(s.run(c, "update", "install", "--no-reboot", s.writeBundle(c, "arm64", []byte("root"))), IsNil)
	s.ResetStdStreams()

	c.Assert(s.run(c, "system", "reboot", "--spare"), IsNil)
	c.Check(s.Stdout(), Equals, "Rebooting.\n")
	s.bootOverride(c)

	// Rolling back is a plain reboot.
	c.Assert(s.run(c, "system", "reboot"), IsNil)
	s.bootOverride(c)
	c.Check(s.reboot.Calls(), HasLen, 2)
	c.Check(s.defaultSet(c), Equals, ota.SetA)

	s.ResetStdStreams()
	c.Assert(s.run(c, "system", "info"), IsNil)
	c.Check(s.Stdout(), Matches, `(?s).*state: +staged\nhot: +a\n.*staged: +core-os 2.0 .*`)
}

func (s *OtactlSuite) TestRebootArgument(c *C) {
	s.writeConfig(c, "override: reboot-argument\n")
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)

	c.Assert(s.run(c, "system", "reboot", "--spare"), IsNil)
	c.Check(s.reboot.Calls(), DeepEquals, [][]string{{"reboot", "0 tryboot"}})
	c.Check(filepath.Join(dirs.DefaultBootConfigDir, bootcfg.MarkerName), testutil.FileAbsent)
}

func (s *OtactlSuite) TestHistory(c *C) {
	c.Assert(s.run(c, "system", "history"), IsNil)
	c.Check(s.Stdout(), Equals, "")
	c.Check(s.Stderr(), Equals, "No operations recorded.\n")

	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(s.run(c, "update", "install", "--no-reboot", s.writeBundle(c, "arm64", []byte("root"))), IsNil)
	c.Check(s.run(c, "update", "install", s.writeBundle(c, "s390x", []byte("root"))), NotNil)
	s.ResetStdStreams()

	c.Assert(s.run(c, "system", "history"), IsNil)
	c.Check(s.Stdout(), Matches, `Time +Op +Set +Result +Details
\S+Z +install +b +artifact-format +artifact-format error on set b: cannot install core-os 2.0: built for s390x, device is arm64
\S+Z +install +b +ok +core-os 2.0
\S+Z +provision +a +ok +-
`)

	s.ResetStdStreams()
	c.Assert(s.run(c, "system", "history", "--limit", "1"), IsNil)
	c.Check(s.Stdout(), Matches, `Time +Op +Set +Result +Details\n\S+Z +install .*\n`)

	err := s.run(c, "system", "history", "--limit=-1")
	c.Check(err, ErrorMatches, "--limit cannot be negative")
}

func (s *OtactlSuite) TestLockedDevice(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	c.Assert(os.MkdirAll(dirs.RunDir, 0755), IsNil)
	lock, err := osutil.NewFileLock(dirs.LockFile)
	c.Assert(err, IsNil)
	defer lock.Close()
	c.Assert(lock.TryLock(), IsNil)

	err = s.run(c, "system", "commit")
	c.Check(err, ErrorMatches, `state-conflict error: another operation is in progress`)
	c.Check(cli.ExitCode(err), Equals, 13)
}
