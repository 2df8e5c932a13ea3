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

// Package firmware extracts information about the running system image by
// inspecting the metadata file embedded in the root filesystem.
package firmware

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/canonical/otactl/internals/dirs"
)

// Info provides information about the running system image.
type Info struct {
	Name         string `json:"name"`
	Version      string `json:"version"`
	Summary      string `json:"summary,omitempty"`
	Architecture string `json:"architecture,omitempty"`
}

// ErrNoInfo is returned when the running image carries no metadata file.
var ErrNoInfo = errors.New("no system image metadata")

// GetInfo returns the metadata of the running image.
func GetInfo() (*Info, error) {
	data, err := os.ReadFile(dirs.FirmwareMetaFile)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoInfo
	}
	if err != nil {
		return nil, fmt.Errorf("cannot open firmware metadata file %s: %w", dirs.FirmwareMetaFile, err)
	}

	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("cannot parse firmware metadata json: %w", err)
	}
	return &info, nil
}

// String returns "name version", or a placeholder for empty fields.
func (i *Info) String() string {
	name, version := i.Name, i.Version
	if name == "" {
		name = "unknown"
	}
	if version == "" {
		version = "-"
	}
	return name + " " + version
}
