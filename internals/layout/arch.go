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

package layout

import (
	"bytes"

	"github.com/canonical/x-go/strutil"
	"golang.org/x/sys/unix"

	"github.com/canonical/otactl/internals/ota"
)

// Architectures lists the recognized device architecture profiles.
var Architectures = []string{"amd64", "arm64", "armv7", "armhf", "arm"}

var machineArchitectures = map[string]string{
	"x86_64":   "amd64",
	"aarch64":  "arm64",
	"arm64":    "arm64",
	"armv7l":   "armv7",
	"armv8l":   "armv7",
	"armv6l":   "armhf",
	"armv5tel": "arm",
}

var uname = unix.Uname

// Architecture returns the architecture profile of the device. A declared
// architecture, usually from the running image's metadata, wins over the
// kernel's machine name. An unknown architecture is a layout error.
func Architecture(declared string) (string, error) {
	if declared != "" {
		if !strutil.ListContains(Architectures, declared) {
			return "", ota.Errorf(ota.ErrorKindLayout, "", "unsupported architecture %q", declared)
		}
		return declared, nil
	}
	var u unix.Utsname
	if err := uname(&u); err != nil {
		return "", ota.Errorf(ota.ErrorKindLayout, "", "cannot determine machine architecture: %w", err)
	}
	machine := string(bytes.TrimRight(u.Machine[:], "\x00"))
	arch, ok := machineArchitectures[machine]
	if !ok {
		return "", ota.Errorf(ota.ErrorKindLayout, "", "unsupported machine architecture %q", machine)
	}
	return arch, nil
}
