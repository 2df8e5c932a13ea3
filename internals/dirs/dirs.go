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

// Package dirs holds the well-known filesystem locations used by otactl.
// Every location hangs off GlobalRootDir so tests can relocate them all at
// once with SetRootDir.
package dirs

import (
	"path/filepath"
)

var (
	GlobalRootDir string

	SysfsDir string
	DevDir   string

	ProcCmdline       string
	ProcSelfMountInfo string

	ConfigFile string
	RunDir     string
	LockFile   string

	DefaultBootConfigDir string
	DefaultStateDir      string

	// FirmwareMetaFile describes the running system image.
	FirmwareMetaFile string
)

// SetRootDir re-initialises all locations relative to rootdir. An empty
// rootdir means "/".
func SetRootDir(rootdir string) {
	if rootdir == "" {
		rootdir = "/"
	}
	GlobalRootDir = rootdir

	SysfsDir = filepath.Join(rootdir, "/sys")
	DevDir = filepath.Join(rootdir, "/dev")

	ProcCmdline = filepath.Join(rootdir, "/proc/cmdline")
	ProcSelfMountInfo = filepath.Join(rootdir, "/proc/self/mountinfo")

	ConfigFile = filepath.Join(rootdir, "/etc/otactl/config.yaml")
	RunDir = filepath.Join(rootdir, "/run/otactl")
	LockFile = filepath.Join(RunDir, "lock")

	DefaultBootConfigDir = filepath.Join(RunDir, "boot-config")
	DefaultStateDir = filepath.Join(RunDir, "state")

	FirmwareMetaFile = filepath.Join(rootdir, "/etc/otactl/system.json")
}

func init() {
	SetRootDir("/")
}
