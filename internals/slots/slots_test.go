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

package slots_test

import (
	"os"
	"path/filepath"
	"testing"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/layout"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/slots"
	"github.com/canonical/otactl/internals/testutil"
)

func Test(t *testing.T) { TestingT(t) }

type stateSuite struct{}

var _ = Suite(&stateSuite{})

func (s *stateSuite) TestNextBoot(c *C) {
	for _, def := range ota.Sets {
		c.Check(slots.NextBoot(def, ""), Equals, def)
		c.Check(slots.NextBoot(def, "bogus"), Equals, def)
		c.Check(slots.NextBoot(def, def.Other()), Equals, def.Other())
		c.Check(slots.NextBoot(def, def), Equals, def)
	}
}

func (s *stateSuite) TestSpareIsOtherOfDefault(c *C) {
	for _, def := range ota.Sets {
		c.Check(slots.Spare(def), Equals, def.Other())
		c.Check(slots.Spare(def), Not(Equals), def)
	}
}

func (s *stateSuite) TestDerive(c *C) {
	for _, t := range []struct {
		hot, def ota.Set
		staged   bool
		state    slots.State
	}{
		{ota.SetA, ota.SetA, false, slots.StateStable},
		{ota.SetB, ota.SetB, false, slots.StateStable},
		{ota.SetA, ota.SetA, true, slots.StateStaged},
		{ota.SetB, ota.SetA, false, slots.StatePendingVerification},
		{ota.SetB, ota.SetA, true, slots.StatePendingVerification},
	} {
		st := slots.Derive(t.hot, t.def, t.staged, "")
		c.Check(st.State, Equals, t.state, Commentf("%+v", t))
		c.Check(st.Spare, Equals, t.def.Other())
		c.Check(st.NextBoot(), Equals, t.def)
	}

	st := slots.Derive(ota.SetA, ota.SetA, true, ota.SetB)
	c.Check(st.NextBoot(), Equals, ota.SetB)
}

func (s *stateSuite) TestTransitions(c *C) {
	for _, t := range []struct {
		from slots.State
		ev   slots.Event
		to   slots.State
		err  string
	}{
		{slots.StateStable, slots.EventInstall, slots.StateStaged, ""},
		{slots.StateStaged, slots.EventInstall, slots.StateStaged, ""},
		{slots.StatePendingVerification, slots.EventInstall, "", `state-conflict error: cannot install while pending-verification`},

		{slots.StateStaged, slots.EventRebootSpare, slots.StatePendingVerification, ""},
		{slots.StateStable, slots.EventRebootSpare, slots.StatePendingVerification, ""},
		{slots.StatePendingVerification, slots.EventRebootSpare, slots.StatePendingVerification, ""},

		{slots.StateStable, slots.EventRebootDefault, slots.StateStable, ""},
		{slots.StateStaged, slots.EventRebootDefault, slots.StateStaged, ""},
		{slots.StatePendingVerification, slots.EventRebootDefault, slots.StateStaged, ""},

		{slots.StatePendingVerification, slots.EventCommit, slots.StateCommitted, ""},
		{slots.StateStable, slots.EventCommit, slots.StateStable, ""},
		{slots.StateStaged, slots.EventCommit, slots.StateStaged, ""},
		{slots.StateCommitted, slots.EventCommit, "", `state-conflict error: cannot commit while committed`},
	} {
		to, err := slots.Transition(t.from, t.ev)
		comment := Commentf("%s --%s-->", t.from, t.ev)
		if t.err != "" {
			c.Check(err, ErrorMatches, t.err, comment)
			c.Check(err, testutil.ErrorKind, ota.ErrorKindStateConflict)
			c.Check(to, Equals, t.from)
			c.Check(slots.Can(t.from, t.ev), Equals, false)
			continue
		}
		c.Check(err, IsNil, comment)
		c.Check(to, Equals, t.to, comment)
	}
}

type hotSuite struct {
	testutil.BaseTest
	root   string
	dev    *testutil.FakeDevice
	layout *layout.Layout
}

var _ = Suite(&hotSuite{})

func (s *hotSuite) SetUpTest(c *C) {
	s.BaseTest.SetUpTest(c)
	s.root = c.MkDir()
	dirs.SetRootDir(s.root)
	s.AddCleanup(func() { dirs.SetRootDir("") })
	_, restore := logger.MockLogger("")
	s.AddCleanup(restore)

	s.dev = testutil.MakeFakeDevice(c, s.root, testutil.FakeDeviceOptions{})
	l, err := layout.Resolve(layout.Options{Disk: "sda", Architecture: "arm64"})
	c.Assert(err, IsNil)
	s.layout = l
}

func (s *hotSuite) TestPartUUID(c *C) {
	for _, set := range ota.Sets {
		s.dev.BootInto(c, set)
		hot, err := slots.DetectHot(s.layout)
		c.Assert(err, IsNil)
		c.Check(hot, Equals, set)
	}
}

func (s *hotSuite) TestPartUUIDUpperCase(c *C) {
	s.dev.WriteRootMount(c, nil)
	s.dev.WriteCmdline(c, "root=PARTUUID="+upper(s.dev.Rootfs(ota.SetB).UUID))
	hot, err := slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetB)
}

func upper(s string) string {
	b := []byte(s)
	for i, ch := range b {
		if ch >= 'a' && ch <= 'z' {
			b[i] = ch - 'a' + 'A'
		}
	}
	return string(b)
}

func (s *hotSuite) TestDevNode(c *C) {
	s.dev.WriteRootMount(c, nil)
	s.dev.WriteCmdline(c, "quiet root=/dev/sda5 ro")
	hot, err := slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetB)
}

func (s *hotSuite) TestDevSymlink(c *C) {
	s.dev.WriteRootMount(c, nil)
	byLabel := filepath.Join(s.root, "dev", "disk", "by-label")
	c.Assert(os.MkdirAll(byLabel, 0755), IsNil)
	c.Assert(os.Symlink("../../sda4", filepath.Join(byLabel, "root-a")), IsNil)
	s.dev.WriteCmdline(c, "root=/dev/disk/by-label/root-a")
	hot, err := slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetA)
}

func (s *hotSuite) TestDevNumber(c *C) {
	s.dev.WriteRootMount(c, nil)
	s.dev.WriteCmdline(c, "root=8:5")
	hot, err := slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetB)
}

func (s *hotSuite) TestFallbackToMountTable(c *C) {
	s.dev.WriteCmdline(c, "root=LABEL=writable")
	s.dev.WriteRootMount(c, s.dev.Rootfs(ota.SetB))
	hot, err := slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetB)

	// Without any command line at all.
	c.Assert(os.Remove(filepath.Join(s.root, "proc", "cmdline")), IsNil)
	hot, err = slots.DetectHot(s.layout)
	c.Assert(err, IsNil)
	c.Check(hot, Equals, ota.SetB)
}

func (s *hotSuite) TestUnattributable(c *C) {
	s.dev.WriteCmdline(c, "root=PARTUUID=00000000-0000-0000-0000-000000000000")
	s.dev.WriteRootMount(c, nil)
	_, err := slots.DetectHot(s.layout)
	c.Check(err, testutil.ErrorKind, ota.ErrorKindPolicyViolation)
	c.Check(err, ErrorMatches, `policy-violation error: cannot attribute the running system to a partition set`)

	// The boot partition is not a root partition.
	s.dev.WriteCmdline(c, "root=/dev/sda2")
	_, err = slots.DetectHot(s.layout)
	c.Check(err, testutil.ErrorKind, ota.ErrorKindPolicyViolation)

	s.dev.WriteCmdline(c, "root=PARTUUID="+s.dev.Rootfs(ota.SetA).UUID+"/PARTNROFF=1")
	_, err = slots.DetectHot(s.layout)
	c.Check(err, testutil.ErrorKind, ota.ErrorKindPolicyViolation)
}
