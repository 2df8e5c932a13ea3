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

package testutil

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"gopkg.in/check.v1"

	"github.com/canonical/otactl/internals/ota"
)

const (
	MiB = 1 << 20

	sectorSize = 512
	// Partitions start on 1MiB boundaries.
	alignSectors = MiB / sectorSize
)

var (
	gptTypeEFI   = uuid.MustParse("c12a7328-f81f-11d2-ba4b-00a0c93ec93b")
	gptTypeLinux = uuid.MustParse("0fc63daf-8483-4772-8e79-3d69d8477de4")
)

// DefaultRoleSizes are the partition sizes used when FakeDeviceOptions
// does not provide any, in role order: boot-config, boot-a, boot-b,
// root-a, root-b, state.
var DefaultRoleSizes = []uint64{1 * MiB, 4 * MiB, 4 * MiB, 8 * MiB, 8 * MiB, 2 * MiB}

// FakeDeviceOptions controls MakeFakeDevice.
type FakeDeviceOptions struct {
	// Disk is the kernel name of the disk, "sda" by default.
	Disk string
	// Table is "gpt" (default) or "mbr".
	Table string
	// RoleSizes lists the sizes of the role partitions in role order.
	// Fewer than six entries produce an incomplete table.
	RoleSizes []uint64
	// ExtendedType overrides the MBR type of partition 4 (0x05 by default).
	ExtendedType byte
	// Major is the device major number, 8 by default.
	Major int
}

// FakePartition describes a partition of a fake device.
type FakePartition struct {
	Number   int
	Node     string
	Start    uint64
	Size     uint64
	UUID     string
	Major    int
	Minor    int
	Extended bool
}

// DevNum returns the "major:minor" kernel device number.
func (p *FakePartition) DevNum() string {
	return fmt.Sprintf("%d:%d", p.Major, p.Minor)
}

// FakeDevice is a disk image with a partition table plus the sysfs and
// devfs entries the kernel would expose for it, rooted in a test directory.
type FakeDevice struct {
	Root       string
	Disk       string
	DiskNode   string
	Table      string
	Partitions []*FakePartition
}

// MakeFakeDevice creates a fake disk under root. The disk node holds only
// the partition table; every partition node is a separate sparse file.
func MakeFakeDevice(c *check.C, root string, opts FakeDeviceOptions) *FakeDevice {
	if opts.Disk == "" {
		opts.Disk = "sda"
	}
	if opts.Table == "" {
		opts.Table = "gpt"
	}
	if opts.RoleSizes == nil {
		opts.RoleSizes = DefaultRoleSizes
	}
	if opts.ExtendedType == 0 {
		opts.ExtendedType = 0x05
	}
	if opts.Major == 0 {
		opts.Major = 8
	}

	d := &FakeDevice{
		Root:     root,
		Disk:     opts.Disk,
		DiskNode: filepath.Join(root, "dev", opts.Disk),
		Table:    opts.Table,
	}
	c.Assert(os.MkdirAll(filepath.Dir(d.DiskNode), 0755), check.IsNil)

	var img *diskImage
	switch opts.Table {
	case "gpt":
		img = d.buildGPT(opts)
	case "mbr":
		img = d.buildMBR(opts)
	default:
		c.Fatalf("unknown partition table type %q", opts.Table)
	}
	img.write(c, d.DiskNode)

	sysDisk := filepath.Join(root, "sys", "block", d.Disk)
	c.Assert(os.MkdirAll(filepath.Join(sysDisk, "queue"), 0755), check.IsNil)
	writeFile(c, filepath.Join(sysDisk, "dev"), fmt.Sprintf("%d:0\n", opts.Major))
	writeFile(c, filepath.Join(sysDisk, "queue", "logical_block_size"), "512\n")
	for _, p := range d.Partitions {
		p.Major, p.Minor = opts.Major, p.Number
		name := PartitionName(d.Disk, p.Number)
		p.Node = filepath.Join(root, "dev", name)
		f, err := os.Create(p.Node)
		c.Assert(err, check.IsNil)
		if !p.Extended {
			c.Assert(f.Truncate(int64(p.Size)), check.IsNil)
		}
		c.Assert(f.Close(), check.IsNil)

		sysPart := filepath.Join(sysDisk, name)
		c.Assert(os.MkdirAll(sysPart, 0755), check.IsNil)
		writeFile(c, filepath.Join(sysPart, "partition"), fmt.Sprintf("%d\n", p.Number))
		writeFile(c, filepath.Join(sysPart, "dev"), p.DevNum()+"\n")
	}
	return d
}

// PartitionName returns the kernel name of partition n of disk, following
// the "p" separator rule for disk names ending in a digit.
func PartitionName(disk string, n int) string {
	if last := disk[len(disk)-1]; last >= '0' && last <= '9' {
		return fmt.Sprintf("%sp%d", disk, n)
	}
	return fmt.Sprintf("%s%d", disk, n)
}

// Partition returns the partition with the given number, or nil.
func (d *FakeDevice) Partition(n int) *FakePartition {
	for _, p := range d.Partitions {
		if p.Number == n {
			return p
		}
	}
	return nil
}

// RolePartition returns the partition holding the role with the given
// index (0 is boot-config, 5 is state).
func (d *FakeDevice) RolePartition(role int) *FakePartition {
	n := role + 1
	if d.Table == "mbr" && n >= 4 {
		n++
	}
	return d.Partition(n)
}

// Boot returns the boot partition of set.
func (d *FakeDevice) Boot(set ota.Set) *FakePartition {
	return d.RolePartition(1 + set.Index())
}

// Rootfs returns the root partition of set.
func (d *FakeDevice) Rootfs(set ota.Set) *FakePartition {
	return d.RolePartition(3 + set.Index())
}

// BootInto makes the fake system look like it booted the root partition of
// set: the kernel command line names it by PARTUUID and the root mount
// carries its device number.
func (d *FakeDevice) BootInto(c *check.C, set ota.Set) {
	p := d.Rootfs(set)
	d.WriteCmdline(c, fmt.Sprintf("console=ttyS0 root=PARTUUID=%s rootwait", p.UUID))
	d.WriteRootMount(c, p)
}

// WriteCmdline writes the fake /proc/cmdline.
func (d *FakeDevice) WriteCmdline(c *check.C, cmdline string) {
	path := filepath.Join(d.Root, "proc", "cmdline")
	c.Assert(os.MkdirAll(filepath.Dir(path), 0755), check.IsNil)
	writeFile(c, path, cmdline+"\n")
}

// WriteRootMount writes a fake /proc/self/mountinfo with p mounted on /.
// A nil p leaves only an overlay root with no backing block device.
func (d *FakeDevice) WriteRootMount(c *check.C, p *FakePartition) {
	path := filepath.Join(d.Root, "proc", "self", "mountinfo")
	c.Assert(os.MkdirAll(filepath.Dir(path), 0755), check.IsNil)
	root := "21 1 0:31 / / rw,relatime shared:1 - overlay overlay rw\n"
	if p != nil {
		root = fmt.Sprintf("21 1 %s / / rw,relatime shared:1 - ext4 /dev/root rw\n", p.DevNum())
	}
	writeFile(c, path, root+"22 21 0:5 / /dev rw,nosuid shared:2 - devtmpfs udev rw\n")
}

func writeFile(c *check.C, path, content string) {
	c.Assert(os.WriteFile(path, []byte(content), 0644), check.IsNil)
}

// mixedEndianGUID converts a UUID to the on-disk GPT byte order.
func mixedEndianGUID(u uuid.UUID) [16]byte {
	var g [16]byte
	copy(g[:], u[:])
	g[0], g[1], g[2], g[3] = u[3], u[2], u[1], u[0]
	g[4], g[5] = u[5], u[4]
	g[6], g[7] = u[7], u[6]
	return g
}

type gptHeader struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC      uint32
	Reserved       uint32
	CurrentLBA     uint64
	AlternateLBA   uint64
	FirstUsableLBA uint64
	LastUsableLBA  uint64
	DiskGUID       [16]byte
	EntriesLBA     uint64
	NEntries       uint32
	EntrySize      uint32
	EntriesCRC     uint32
}

type gptEntry struct {
	TypeGUID   [16]byte
	UniqueGUID [16]byte
	FirstLBA   uint64
	LastLBA    uint64
	Attributes uint64
	Name       [36]uint16
}

// diskImage is a sparse disk: its total size plus the sectors that carry
// data.
type diskImage struct {
	size    uint64
	sectors map[uint64][]byte
}

func (img *diskImage) at(lba uint64, n int) []byte {
	if img.sectors == nil {
		img.sectors = make(map[uint64][]byte)
	}
	b := make([]byte, n*sectorSize)
	img.sectors[lba] = b
	return b
}

func (img *diskImage) write(c *check.C, path string) {
	f, err := os.Create(path)
	c.Assert(err, check.IsNil)
	defer f.Close()
	c.Assert(f.Truncate(int64(img.size)), check.IsNil)
	for lba, data := range img.sectors {
		_, err := f.WriteAt(data, int64(lba*sectorSize))
		c.Assert(err, check.IsNil)
	}
}

func (d *FakeDevice) buildGPT(opts FakeDeviceOptions) *diskImage {
	const nEntries, entrySize = 128, 128
	img := &diskImage{}
	buf := img.at(0, 34)

	entries := make([]byte, nEntries*entrySize)
	lba := uint64(alignSectors)
	for i, size := range opts.RoleSizes {
		u := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s-%d", d.Disk, i+1)))
		e := gptEntry{
			TypeGUID:   mixedEndianGUID(gptTypeLinux),
			UniqueGUID: mixedEndianGUID(u),
			FirstLBA:   lba,
			LastLBA:    lba + size/sectorSize - 1,
		}
		if i == 0 {
			e.TypeGUID = mixedEndianGUID(gptTypeEFI)
		}
		for j, r := range fmt.Sprintf("part%d", i+1) {
			e.Name[j] = uint16(r)
		}
		putStruct(entries[i*entrySize:], &e)
		d.Partitions = append(d.Partitions, &FakePartition{
			Number: i + 1,
			Start:  lba * sectorSize,
			Size:   size,
			UUID:   u.String(),
		})
		lba += alignUp(size / sectorSize)
	}
	lastLBA := lba + 33
	img.size = (lastLBA + 1) * sectorSize
	h := gptHeader{
		Revision:       1 << 16,
		HeaderSize:     92,
		CurrentLBA:     1,
		AlternateLBA:   lastLBA,
		FirstUsableLBA: 34,
		LastUsableLBA:  lastLBA - 33,
		DiskGUID:       mixedEndianGUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(d.Disk))),
		EntriesLBA:     2,
		NEntries:       nEntries,
		EntrySize:      entrySize,
		EntriesCRC:     crc32.ChecksumIEEE(entries),
	}
	copy(h.Signature[:], "EFI PART")
	raw := make([]byte, 92)
	putStruct(raw, &h)
	h.HeaderCRC = crc32.ChecksumIEEE(raw)
	putStruct(buf[sectorSize:], &h)
	copy(buf[2*sectorSize:], entries)

	// Protective MBR.
	putMBREntry(buf, 0, 0xee, 1, uint32(min(lastLBA, 0xffffffff)))
	buf[510], buf[511] = 0x55, 0xaa
	return img
}

func (d *FakeDevice) buildMBR(opts FakeDeviceOptions) *diskImage {
	const diskSignature = 0x5eed1e55
	primary := opts.RoleSizes[:min(3, len(opts.RoleSizes))]
	logical := opts.RoleSizes[len(primary):]

	var ebrs []uint64
	lba := uint64(alignSectors)
	for i, size := range primary {
		d.addMBRPartition(diskSignature, i+1, lba, size)
		lba += alignUp(size / sectorSize)
	}
	extStart := lba
	for i, size := range logical {
		ebrs = append(ebrs, lba)
		d.addMBRPartition(diskSignature, i+5, lba+alignSectors, size)
		lba += alignSectors + alignUp(size/sectorSize)
	}

	img := &diskImage{size: lba * sectorSize}
	buf := img.at(0, 1)
	binary.LittleEndian.PutUint32(buf[440:], diskSignature)
	for i := range primary {
		p := d.Partitions[i]
		putMBREntry(buf, i, 0x83, uint32(p.Start/sectorSize), uint32(p.Size/sectorSize))
	}
	if len(logical) > 0 {
		putMBREntry(buf, 3, opts.ExtendedType, uint32(extStart), uint32(lba-extStart))
		for i, ebr := range ebrs {
			sector := img.at(ebr, 1)
			p := d.Partition(i + 5)
			putMBREntry(sector, 0, 0x83, alignSectors, uint32(p.Size/sectorSize))
			if i+1 < len(ebrs) {
				next := ebrs[i+1]
				putMBREntry(sector, 1, 0x05, uint32(next-extStart), uint32(lba-next))
			}
			sector[510], sector[511] = 0x55, 0xaa
		}
		d.Partitions = append(d.Partitions, &FakePartition{
			Number:   4,
			Start:    extStart * sectorSize,
			Size:     (lba - extStart) * sectorSize,
			UUID:     fmt.Sprintf("%08x-%02x", diskSignature, 4),
			Extended: true,
		})
	}
	buf[510], buf[511] = 0x55, 0xaa
	return img
}

func (d *FakeDevice) addMBRPartition(signature uint32, n int, lba, size uint64) {
	d.Partitions = append(d.Partitions, &FakePartition{
		Number: n,
		Start:  lba * sectorSize,
		Size:   size,
		UUID:   fmt.Sprintf("%08x-%02x", signature, n),
	})
}

func putMBREntry(sector []byte, i int, typ byte, start, sectors uint32) {
	e := sector[446+16*i : 446+16*(i+1)]
	e[4] = typ
	binary.LittleEndian.PutUint32(e[8:], start)
	binary.LittleEndian.PutUint32(e[12:], sectors)
}

func putStruct(dst []byte, v any) {
	var raw bytes.Buffer
	if err := binary.Write(&raw, binary.LittleEndian, v); err != nil {
		panic(err)
	}
	copy(dst, raw.Bytes())
}

func alignUp(sectors uint64) uint64 {
	return (sectors + alignSectors - 1) / alignSectors * alignSectors
}
