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
	"os"
	"path/filepath"
	"syscall"
	"time"

	. "gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/bootcfg"
	"github.com/canonical/otactl/internals/cli"
	"github.com/canonical/otactl/internals/dirs"
	"github.com/canonical/otactl/internals/ota"
	"github.com/canonical/otactl/internals/testutil"
)

func (s *OtactlSuite) readRoot(c *C, set ota.Set, n int) []byte {
	data, err := os.ReadFile(s.dev.Rootfs(set).Node)
	c.Assert(err, IsNil)
	return data[:n]
}

func (s *OtactlSuite) TestInstall(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	s.ResetStdStreams()

	path := s.writeBundle(c, "arm64", []byte("new root"))
	c.Assert(s.run(c, "update", "install", path), IsNil)
	c.Check(s.Stdout(), Equals, "Installed core-os 2.0 into set b.\n")
	c.Check(string(s.readRoot(c, ota.SetB, 8)), Equals, "new root")
	c.Check(s.reboot.Calls(), DeepEquals, [][]string{{"reboot"}})

	override, err := bootcfg.NewMarker(dirs.DefaultBootConfigDir).Get()
	c.Assert(err, IsNil)
	c.Check(override, Equals, ota.SetB)
}

func (s *OtactlSuite) TestInstallNoReboot(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	s.ResetStdStreams()

	path := s.writeBundle(c, "arm64", []byte("new root"))
	c.Assert(s.run(c, "update", "install", "--no-reboot", path), IsNil)
	c.Check(s.Stdout(), Equals, "Installed core-os 2.0 into set b.\n"+
		"Run \"otactl system reboot --spare\" to boot set b once.\n")
	c.Check(s.reboot.Calls(), HasLen, 0)
}

func (s *OtactlSuite) TestInstallFromStdin(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	data, err := os.ReadFile(s.writeBundle(c, "arm64", []byte("piped")))
	c.Assert(err, IsNil)
	s.stdin.Write(data)

	c.Assert(s.run(c, "update", "install", "--no-reboot", "-"), IsNil)
	c.Check(string(s.readRoot(c, ota.SetB, 5)), Equals, "piped")
}

func (s *OtactlSuite) TestInstallRefusesTerminal(c *C) {
	restore := cli.FakeIsStdinTTY(true)
	defer restore()
	err := s.run(c, "update", "install", "-")
	c.Check(err, ErrorMatches, "cannot read update bundle from a terminal")
	c.Check(cli.ExitCode(err), Equals, 2)
}

func (s *OtactlSuite) TestInstallErrors(c *C) {
	err := s.run(c, "update", "install", filepath.Join(c.MkDir(), "missing"))
	c.Check(err, ErrorMatches, `io error: cannot open update bundle: .*no such file or directory`)
	c.Check(cli.ExitCode(err), Equals, 11)

	// Not provisioned yet.
	path := s.writeBundle(c, "arm64", []byte("root"))
	err = s.run(c, "update", "install", path)
	c.Check(cli.ExitCode(err), Equals, 13)

	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	err = s.run(c, "update", "install", s.writeBundle(c, "riscv64", []byte("root")))
	c.Check(err, ErrorMatches, `artifact-format error on set b: cannot install core-os 2.0: built for riscv64, device is arm64`)
	c.Check(cli.ExitCode(err), Equals, 12)

	garbage := filepath.Join(c.MkDir(), "garbage")
	c.Assert(os.WriteFile(garbage, bytes.Repeat([]byte("x"), 100), 0644), IsNil)
	err = s.run(c, "update", "install", garbage)
	c.Check(cli.ExitCode(err), Equals, 12)
	c.Check(s.reboot.Calls(), HasLen, 0)
}

func (s *OtactlSuite) TestInstallMissingArgument(c *C) {
	err := s.run(c, "update", "install")
	c.Check(err, ErrorMatches, `the required argument .<path>. was not provided`)
	c.Check(cli.ExitCode(err), Equals, 2)
}

func (s *OtactlSuite) TestInstallInterruptedWhileInputStalls(c *C) {
	c.Assert(s.run(c, "system", "provision", "a"), IsNil)
	data, err := os.ReadFile(s.writeBundle(c, "arm64", bytes.Repeat([]byte("r"), 1024*1024)))
	c.Assert(err, IsNil)

	// The writer stays open: reading past the first half blocks.
	r, w, err := os.Pipe()
	c.Assert(err, IsNil)
	defer r.Close()
	defer w.Close()
	go w.Write(data[:len(data)/2])
	cli.Stdin = r

	stops := 0
	restore := cli.MockSignals(func(ch chan<- os.Signal, sig ...os.Signal) {
		c.Check(sig, DeepEquals, []os.Signal{syscall.SIGINT, syscall.SIGTERM})
		go func() {
			time.Sleep(100 * time.Millisecond)
			ch <- syscall.SIGINT
		}()
	}, func(ch chan<- os.Signal) {
		stops++
	})
	defer restore()

	done := make(chan error, 1)
	go func() {
		done <- s.run(c, "update", "install", "--no-reboot", "-")
	}()
	select {
	case err = <-done:
	case <-time.After(5 * time.Second):
		c.Fatalf("install not cancelled while its input stalled")
	}
	c.Check(err, testutil.ErrorKind, ota.ErrorKindIO)
	c.Check(err, ErrorMatches, `io error on set b: cannot (read|write) root payload: context canceled`)
	c.Check(cli.ExitCode(err), Equals, 11)
	// Signals are released once the first one is handled.
	c.Check(stops, Equals, 2)
	c.Check(s.logbuf.String(), Matches, `(?s).*Received interrupt, cancelling install\..*`)
	c.Check(s.reboot.Calls(), HasLen, 0)
}
