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

// Package bundle reads and writes update artifact streams.
//
// A bundle is a header followed by tagged sections:
//
//	header:  magic "OTABNDL\x00" | version u16 | reserved u16
//	section: tag u32 | length u64 | value[length]
//
// All integers are big-endian. The first section is the manifest and the
// last one is the end marker. Tags with the top bit set are optional and
// are skipped by readers that do not know them.
package bundle

import (
	"fmt"
)

const (
	Magic         = "OTABNDL\x00"
	FormatVersion = 1

	headerSize        = 12
	sectionHeaderSize = 12
	digestSize        = 32

	// maxManifestSize bounds the manifest section, which is read into
	// memory.
	maxManifestSize = 64 * 1024
)

// Tag identifies a section.
type Tag uint32

// TagOptional marks a section readers may skip.
const TagOptional Tag = 1 << 31

const (
	TagManifest Tag = 1
	TagPayload  Tag = 2
	TagEnd      Tag = 3
	TagNote     Tag = TagOptional | 1
)

func (t Tag) String() string {
	switch t {
	case TagManifest:
		return "manifest"
	case TagPayload:
		return "payload"
	case TagEnd:
		return "end"
	case TagNote:
		return "note"
	}
	return fmt.Sprintf("0x%08x", uint32(t))
}

// Optional reports whether readers may skip t.
func (t Tag) Optional() bool {
	return t&TagOptional != 0
}

// Role selects the partition of the target set a payload is written to.
type Role uint8

const (
	RoleBoot Role = 1
	RoleRoot Role = 2
)

func (r Role) String() string {
	switch r {
	case RoleBoot:
		return "boot"
	case RoleRoot:
		return "root"
	}
	return fmt.Sprintf("role %d", uint8(r))
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBoot || r == RoleRoot
}

// Manifest describes the system image carried by a bundle.
type Manifest struct {
	Name         string `yaml:"name"`
	Version      string `yaml:"version"`
	Architecture string `yaml:"architecture,omitempty"`
}

func (m *Manifest) String() string {
	return m.Name + " " + m.Version
}

func (m *Manifest) validate() error {
	if m.Name == "" {
		return fmt.Errorf("manifest has no name")
	}
	if m.Version == "" {
		return fmt.Errorf("manifest has no version")
	}
	return nil
}
