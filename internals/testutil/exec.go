// Copyright (c) 2014-2020 Canonical Ltd
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

package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/check.v1"
)

// FakeCmd allows faking commands for testing.
type FakeCmd struct {
	binDir  string
	exeFile string
	logFile string
}

// The top of the script logs the command that was run and its arguments,
// separating arguments with \0 and invocations with \0\0.
var scriptTpl = `#!/bin/bash
printf "%%s" "$(basename "$0")" >> %[1]q
printf '\0' >> %[1]q

for arg in "$@"; do
     printf "%%s" "$arg" >> %[1]q
     printf '\0'  >> %[1]q
done

printf '\0' >> %[1]q
%s
`

// FakeCommand adds a faked command to the front of $PATH. Every invocation
// is logged and can be retrieved with Calls. If script is non-empty it runs
// after the logging, so it decides the exit status.
func FakeCommand(c *check.C, basename, script string) *FakeCmd {
	binDir := c.MkDir()
	exeFile := filepath.Join(binDir, basename)
	logFile := filepath.Join(binDir, basename+".log")
	err := os.WriteFile(exeFile, []byte(fmt.Sprintf(scriptTpl, logFile, script)), 0700)
	if err != nil {
		panic(err)
	}
	os.Setenv("PATH", binDir+":"+os.Getenv("PATH"))
	return &FakeCmd{binDir: binDir, exeFile: exeFile, logFile: logFile}
}

// Also fakes another command, sharing the same bin directory and log so
// the ordering of calls can be checked.
func (cmd *FakeCmd) Also(basename, script string) *FakeCmd {
	exeFile := filepath.Join(cmd.binDir, basename)
	err := os.WriteFile(exeFile, []byte(fmt.Sprintf(scriptTpl, cmd.logFile, script)), 0700)
	if err != nil {
		panic(err)
	}
	return &FakeCmd{binDir: cmd.binDir, exeFile: exeFile, logFile: cmd.logFile}
}

// Restore removes the faked command from $PATH.
func (cmd *FakeCmd) Restore() {
	entries := strings.Split(os.Getenv("PATH"), ":")
	for i, entry := range entries {
		if entry == cmd.binDir {
			entries = append(entries[:i], entries[i+1:]...)
			break
		}
	}
	os.Setenv("PATH", strings.Join(entries, ":"))
}

// Calls returns the list of calls made to the faked command, one slice of
// argv per invocation.
func (cmd *FakeCmd) Calls() [][]string {
	raw, err := os.ReadFile(cmd.logFile)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		panic(err)
	}
	logContent := strings.TrimSuffix(string(raw), "\000")

	allCalls := [][]string{}
	for _, call := range strings.Split(logContent, "\000\000") {
		call = strings.TrimSuffix(call, "\000")
		allCalls = append(allCalls, strings.Split(call, "\000"))
	}
	return allCalls
}

// Exe returns the full path of the fake binary.
func (cmd *FakeCmd) Exe() string {
	return cmd.exeFile
}
