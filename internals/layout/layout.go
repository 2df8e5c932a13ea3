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

// Package layout discovers the partition layout of an A/B device and maps
// partitions to their roles.
package layout

import (
	"fmt"

	"github.com/canonical/otactl/internals/ota"
)

// Role is the function a partition serves in the A/B scheme.
type Role string

const (
	RoleBootConfig Role = "boot-config"
	RoleBootA      Role = "boot-a"
	RoleBootB      Role = "boot-b"
	RoleRootA      Role = "root-a"
	RoleRootB      Role = "root-b"
	RoleState      Role = "state"
)

// Roles lists all roles in partition table order.
var Roles = []Role{RoleBootConfig, RoleBootA, RoleBootB, RoleRootA, RoleRootB, RoleState}

// BootRole returns the boot role of set.
func BootRole(set ota.Set) Role {
	if set == ota.SetB {
		return RoleBootB
	}
	return RoleBootA
}

// RootRole returns the root role of set.
func RootRole(set ota.Set) Role {
	if set == ota.SetB {
		return RoleRootB
	}
	return RoleRootA
}

// mbrExtendedSlot is the primary slot an MBR layout reserves for the
// extended partition that holds the remaining roles.
const mbrExtendedSlot = 4

// RoleSlots returns the partition number of every role for the given
// table type. On MBR tables slot 4 is the extended container, so every
// role from the fourth on moves up by one.
func RoleSlots(t TableType) map[Role]int {
	slots := make(map[Role]int, len(Roles))
	for i, role := range Roles {
		n := i + 1
		if t == MBR && n >= mbrExtendedSlot {
			n++
		}
		slots[role] = n
	}
	return slots
}

// Partition is a partition with a role attached.
type Partition struct {
	Entry
	Role Role
	// Node is the device node, such as /dev/mmcblk0p2.
	Node string
	// DevNum is the kernel "major:minor" device number, if known.
	DevNum string
}

func (p *Partition) String() string {
	return fmt.Sprintf("%s (%s, partition %d)", p.Node, p.Role, p.Number)
}

// Layout is a validated A/B partition layout.
type Layout struct {
	// Disk is the device node of the whole disk.
	Disk         string
	Table        TableType
	DiskID       string
	Architecture string

	partitions map[Role]*Partition
}

// Partition returns the partition holding role.
func (l *Layout) Partition(role Role) *Partition {
	return l.partitions[role]
}

// Boot returns the boot partition of set.
func (l *Layout) Boot(set ota.Set) *Partition {
	return l.partitions[BootRole(set)]
}

// Root returns the root partition of set.
func (l *Layout) Root(set ota.Set) *Partition {
	return l.partitions[RootRole(set)]
}

// Partitions returns the role partitions in role order.
func (l *Layout) Partitions() []*Partition {
	parts := make([]*Partition, 0, len(Roles))
	for _, role := range Roles {
		parts = append(parts, l.partitions[role])
	}
	return parts
}

// RootSet returns the set whose root partition matches, which must be
// non-nil.
func (l *Layout) RootSet(match func(p *Partition) bool) (ota.Set, bool) {
	for _, set := range ota.Sets {
		if match(l.Root(set)) {
			return set, true
		}
	}
	return "", false
}

// normalize attaches roles to the entries of t and checks the size rules.
func normalize(t *Table) (map[Role]*Partition, error) {
	if t.Type == MBR {
		ext, ok := t.Entry(mbrExtendedSlot)
		if !ok || !ext.Extended {
			return nil, ota.Errorf(ota.ErrorKindLayout, "", "MBR partition %d must be an extended partition", mbrExtendedSlot)
		}
	}

	slots := RoleSlots(t.Type)
	parts := make(map[Role]*Partition, len(Roles))
	for _, role := range Roles {
		e, ok := t.Entry(slots[role])
		if !ok {
			return nil, ota.Errorf(ota.ErrorKindLayout, "", "missing partition %d for role %s (%s table has %d partitions)", slots[role], role, t.Type, len(t.Entries))
		}
		if e.Extended {
			return nil, ota.Errorf(ota.ErrorKindLayout, "", "partition %d for role %s is an extended partition", e.Number, role)
		}
		if e.Size == 0 {
			return nil, ota.Errorf(ota.ErrorKindLayout, "", "partition %d for role %s is empty", e.Number, role)
		}
		parts[role] = &Partition{Entry: e, Role: role}
	}

	for _, pair := range [][2]Role{{RoleBootA, RoleBootB}, {RoleRootA, RoleRootB}} {
		a, b := parts[pair[0]], parts[pair[1]]
		if a.Size != b.Size {
			return nil, ota.Errorf(ota.ErrorKindLayout, "", "%s and %s partitions differ in size (%d != %d bytes)", pair[0], pair[1], a.Size, b.Size)
		}
	}
	return parts, nil
}
