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
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"unicode/utf16"

	"github.com/google/uuid"
)

// TableType is the kind of partition table found on a disk.
type TableType string

const (
	GPT TableType = "gpt"
	MBR TableType = "mbr"
)

// Entry is a partition as described by the partition table, before any
// role is attached to it.
type Entry struct {
	Number int
	// Start and Size are in bytes.
	Start uint64
	Size  uint64
	// Type is the GPT type GUID or the MBR type byte in "0x%02x" form.
	Type string
	// UUID is the PARTUUID the kernel reports for the partition.
	UUID string
	Name string
	// Extended is set for MBR extended containers.
	Extended bool
}

// Table is a parsed partition table.
type Table struct {
	Type TableType
	// DiskID is the GPT disk GUID or the MBR disk signature.
	DiskID  string
	Entries []Entry
}

// Entry returns the entry with the given partition number.
func (t *Table) Entry(n int) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Number == n {
			return e, true
		}
	}
	return Entry{}, false
}

var errNoTable = errors.New("no partition table found")

// ReadTable parses the partition table of a disk. A valid GPT header at
// LBA 1 takes precedence over the MBR in sector 0.
func ReadTable(r io.ReaderAt, sectorSize uint64) (*Table, error) {
	t, err := readGPT(r, sectorSize)
	if err == nil {
		return t, nil
	}
	if !errors.Is(err, errNoGPT) {
		return nil, err
	}
	return readMBR(r, sectorSize)
}

type gptHeader struct {
	Signature      [8]byte
	Revision       uint32
	HeaderSize     uint32
	HeaderCRC      uint32
	_              uint32
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

const (
	gptSignature  = "EFI PART"
	gptHeaderSize = 92
	// Upper bound for the entry array, 128 entries of 128 bytes is the
	// usual size.
	maxGPTEntriesSize = 1 << 20
)

var errNoGPT = errors.New("no GPT header")

// readGPT reads the primary GPT header and entry array. Both CRCs must
// match.
func readGPT(r io.ReaderAt, sectorSize uint64) (*Table, error) {
	raw := make([]byte, sectorSize)
	if _, err := r.ReadAt(raw, int64(sectorSize)); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errNoGPT
		}
		return nil, fmt.Errorf("cannot read GPT header: %w", err)
	}
	if !bytes.Equal(raw[:8], []byte(gptSignature)) {
		return nil, errNoGPT
	}

	var h gptHeader
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &h); err != nil {
		return nil, fmt.Errorf("cannot parse GPT header: %w", err)
	}
	if h.HeaderSize < gptHeaderSize || uint64(h.HeaderSize) > sectorSize {
		return nil, fmt.Errorf("invalid GPT header size %d", h.HeaderSize)
	}
	// The CRC is computed with the CRC field zeroed.
	binary.LittleEndian.PutUint32(raw[16:20], 0)
	if crc := crc32.ChecksumIEEE(raw[:h.HeaderSize]); crc != h.HeaderCRC {
		return nil, fmt.Errorf("GPT header checksum mismatch: %#08x != %#08x", crc, h.HeaderCRC)
	}
	if h.EntrySize < 128 || h.EntrySize%8 != 0 {
		return nil, fmt.Errorf("invalid GPT entry size %d", h.EntrySize)
	}
	size := uint64(h.NEntries) * uint64(h.EntrySize)
	if size > maxGPTEntriesSize {
		return nil, fmt.Errorf("GPT entry array too large (%d bytes)", size)
	}

	entries := make([]byte, size)
	if _, err := r.ReadAt(entries, int64(h.EntriesLBA*sectorSize)); err != nil {
		return nil, fmt.Errorf("cannot read GPT entries: %w", err)
	}
	if crc := crc32.ChecksumIEEE(entries); crc != h.EntriesCRC {
		return nil, fmt.Errorf("GPT entries checksum mismatch: %#08x != %#08x", crc, h.EntriesCRC)
	}

	t := &Table{Type: GPT, DiskID: guidFromDisk(h.DiskGUID).String()}
	for i := 0; i < int(h.NEntries); i++ {
		var e gptEntry
		chunk := entries[i*int(h.EntrySize) : (i+1)*int(h.EntrySize)]
		if err := binary.Read(bytes.NewReader(chunk), binary.LittleEndian, &e); err != nil {
			return nil, fmt.Errorf("cannot parse GPT entry %d: %w", i+1, err)
		}
		if e.TypeGUID == ([16]byte{}) {
			continue
		}
		if e.LastLBA < e.FirstLBA {
			return nil, fmt.Errorf("GPT entry %d ends before it starts", i+1)
		}
		t.Entries = append(t.Entries, Entry{
			Number: i + 1,
			Start:  e.FirstLBA * sectorSize,
			Size:   (e.LastLBA - e.FirstLBA + 1) * sectorSize,
			Type:   guidFromDisk(e.TypeGUID).String(),
			UUID:   guidFromDisk(e.UniqueGUID).String(),
			Name:   decodeGPTName(e.Name),
		})
	}
	return t, nil
}

// guidFromDisk converts the mixed-endian on-disk GUID representation.
func guidFromDisk(b [16]byte) uuid.UUID {
	var u uuid.UUID
	copy(u[:], b[:])
	u[0], u[1], u[2], u[3] = b[3], b[2], b[1], b[0]
	u[4], u[5] = b[5], b[4]
	u[6], u[7] = b[7], b[6]
	return u
}

func decodeGPTName(name [36]uint16) string {
	n := 0
	for n < len(name) && name[n] != 0 {
		n++
	}
	return string(utf16.Decode(name[:n]))
}

type mbrEntry struct {
	Status   uint8
	_        [3]byte
	Type     uint8
	_        [3]byte
	StartLBA uint32
	Sectors  uint32
}

type mbrSector struct {
	_         [440]byte
	Signature uint32
	_         [2]byte
	Entries   [4]mbrEntry
	BootSig   uint16
}

const (
	mbrBootSig = 0xAA55
	// Bound on the EBR chain so a looping chain cannot hang the resolver.
	maxLogicalPartitions = 128
)

func isExtendedType(t uint8) bool {
	return t == 0x05 || t == 0x0f || t == 0x85
}

func readMBRSector(r io.ReaderAt, lba, sectorSize uint64) (*mbrSector, error) {
	raw := make([]byte, 512)
	if _, err := r.ReadAt(raw, int64(lba*sectorSize)); err != nil {
		return nil, err
	}
	var s mbrSector
	if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, &s); err != nil {
		return nil, err
	}
	if s.BootSig != mbrBootSig {
		return nil, fmt.Errorf("invalid boot signature %#04x at sector %d", s.BootSig, lba)
	}
	return &s, nil
}

// readMBR reads the four primary entries and follows the EBR chain of the
// extended partition, numbering logical partitions from 5.
func readMBR(r io.ReaderAt, sectorSize uint64) (*Table, error) {
	mbr, err := readMBRSector(r, 0, sectorSize)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errNoTable
		}
		return nil, fmt.Errorf("%w: %v", errNoTable, err)
	}
	t := &Table{Type: MBR, DiskID: fmt.Sprintf("%08x", mbr.Signature)}
	partUUID := func(n int) string {
		return fmt.Sprintf("%08x-%02x", mbr.Signature, n)
	}

	var extStart uint64
	for i, pe := range mbr.Entries {
		if pe.Type == 0 || pe.Sectors == 0 {
			continue
		}
		if pe.Type == 0xee {
			return nil, errors.New("protective MBR without a valid GPT")
		}
		e := Entry{
			Number:   i + 1,
			Start:    uint64(pe.StartLBA) * sectorSize,
			Size:     uint64(pe.Sectors) * sectorSize,
			Type:     fmt.Sprintf("0x%02x", pe.Type),
			UUID:     partUUID(i + 1),
			Extended: isExtendedType(pe.Type),
		}
		if e.Extended {
			if extStart != 0 {
				return nil, errors.New("more than one extended partition")
			}
			extStart = uint64(pe.StartLBA)
		}
		t.Entries = append(t.Entries, e)
	}
	if extStart == 0 {
		return t, nil
	}

	ebr := extStart
	for n := 5; ; n++ {
		if n-5 >= maxLogicalPartitions {
			return nil, errors.New("too many logical partitions")
		}
		s, err := readMBRSector(r, ebr, sectorSize)
		if err != nil {
			return nil, fmt.Errorf("cannot read extended boot record: %w", err)
		}
		logical, next := s.Entries[0], s.Entries[1]
		if logical.Type != 0 && logical.Sectors != 0 {
			t.Entries = append(t.Entries, Entry{
				Number: n,
				Start:  (ebr + uint64(logical.StartLBA)) * sectorSize,
				Size:   uint64(logical.Sectors) * sectorSize,
				Type:   fmt.Sprintf("0x%02x", logical.Type),
				UUID:   partUUID(n),
			})
		}
		if !isExtendedType(next.Type) || next.StartLBA == 0 {
			break
		}
		ebr = extStart + uint64(next.StartLBA)
	}
	return t, nil
}
