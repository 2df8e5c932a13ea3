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

// Package bootcfg persists the default partition set on the boot-config
// partition, plus the one-shot override marker the bootloader consumes.
package bootcfg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
)

const (
	// StoreName is the name of the store file in the boot-config
	// directory.
	StoreName = "otactl.env"

	recordSize    = 512
	recordVersion = 1
	recordSlots   = 2
)

var recordMagic = [4]byte{'O', 'T', 'A', 'E'}

// record is one of the two on-disk copies of the boot configuration.
type record struct {
	Magic    [4]byte
	Version  uint16
	Reserved uint16
	Seq      uint64
	Default  [8]byte
	Padding  [recordSize - 28]byte
	Crc32    uint32
}

func (r *record) encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, recordSize))
	binary.Write(buf, binary.LittleEndian, r)
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[recordSize-4:], crc32.ChecksumIEEE(data[:recordSize-4]))
	return data
}

// decodeRecord returns the record held in data, or an error describing why
// it cannot be trusted.
func decodeRecord(data []byte) (*record, error) {
	if len(data) < recordSize {
		return nil, fmt.Errorf("short record (%d bytes)", len(data))
	}
	var r record
	if err := binary.Read(bytes.NewReader(data[:recordSize]), binary.LittleEndian, &r); err != nil {
		return nil, err
	}
	if r.Magic != recordMagic {
		return nil, fmt.Errorf("bad magic %q", r.Magic[:])
	}
	if r.Version != recordVersion {
		return nil, fmt.Errorf("unsupported version %d", r.Version)
	}
	crc := crc32.ChecksumIEEE(data[:recordSize-4])
	if crc != r.Crc32 {
		return nil, fmt.Errorf("expected checksum 0x%X, got 0x%X", crc, r.Crc32)
	}
	if !r.set().Valid() {
		return nil, fmt.Errorf("invalid default set %q", r.set())
	}
	return &r, nil
}

func (r *record) set() ota.Set {
	return ota.Set(bytes.TrimRight(r.Default[:], "\x00"))
}

// Record is the decoded content of the store.
type Record struct {
	Default ota.Set
	// Seq increases by one on every write.
	Seq uint64
	// Slot is the record slot (0 or 1) the value was read from.
	Slot int
}

// Store is the boot configuration store. It keeps two copies of a small
// checksummed record and always overwrites the older one, so an
// interrupted write leaves the previous value readable.
type Store struct {
	path string
}

// New returns the store kept in the boot-config directory dir.
func New(dir string) *Store {
	return &Store{path: filepath.Join(dir, StoreName)}
}

// Path returns the location of the store file.
func (s *Store) Path() string {
	return s.path
}

// load returns the decoded record of each slot, nil for slots that are
// missing or invalid.
func (s *Store) load() ([recordSlots]*record, error) {
	var records [recordSlots]*record
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return records, ota.Errorf(ota.ErrorKindIO, "", "cannot read boot configuration: %w", err)
	}
	for i := range records {
		off := i * recordSize
		if off >= len(data) {
			logger.Debugf("Boot configuration record %d is missing.", i)
			continue
		}
		r, err := decodeRecord(data[off:])
		if err != nil {
			logger.Debugf("Ignoring boot configuration record %d in %s: %v", i, s.path, err)
			continue
		}
		records[i] = r
	}
	return records, nil
}

// latest returns the slot holding the valid record with the highest
// sequence number, or -1.
func latest(records [recordSlots]*record) int {
	best := -1
	for i, r := range records {
		if r == nil {
			continue
		}
		if best < 0 || r.Seq > records[best].Seq {
			best = i
		}
	}
	return best
}

// ReadRecord returns the current record. A store without any valid record
// is a state-conflict error: the device was never provisioned.
func (s *Store) ReadRecord() (*Record, error) {
	records, err := s.load()
	if err != nil {
		return nil, err
	}
	i := latest(records)
	if i < 0 {
		return nil, ota.Errorf(ota.ErrorKindStateConflict, "", "cannot read boot configuration: no valid record in %s", s.path)
	}
	return &Record{Default: records[i].set(), Seq: records[i].Seq, Slot: i}, nil
}

// Read returns the default set.
func (s *Store) Read() (ota.Set, error) {
	rec, err := s.ReadRecord()
	if err != nil {
		return "", err
	}
	return rec.Default, nil
}

// Write persists set as the new default. Writing the value already stored
// does nothing.
func (s *Store) Write(set ota.Set) error {
	if !set.Valid() {
		return ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot write boot configuration: invalid set %q", set)
	}
	records, err := s.load()
	if err != nil {
		return err
	}
	i := latest(records)
	if i < 0 {
		return ota.Errorf(ota.ErrorKindStateConflict, set, "cannot write boot configuration: no valid record in %s", s.path)
	}
	if records[i].set() == set {
		logger.Debugf("Boot configuration already names set %s.", set)
		return nil
	}
	return s.writeRecord(1-i, records[i].Seq+1, set)
}

// Provision initialises the store with set as the default. It refuses to
// touch a store that already holds a valid record.
func (s *Store) Provision(set ota.Set) error {
	if !set.Valid() {
		return ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot provision boot configuration: invalid set %q", set)
	}
	records, err := s.load()
	if err != nil {
		return err
	}
	if i := latest(records); i >= 0 {
		return ota.Errorf(ota.ErrorKindStateConflict, records[i].set(), "cannot provision boot configuration: already provisioned")
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot provision boot configuration: %w", err)
	}
	return s.writeRecord(0, 1, set)
}

func (s *Store) writeRecord(slot int, seq uint64, set ota.Set) error {
	r := &record{Magic: recordMagic, Version: recordVersion, Seq: seq}
	copy(r.Default[:], set)

	f, err := os.OpenFile(s.path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot write boot configuration: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteAt(r.encode(), int64(slot*recordSize)); err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot write boot configuration: %w", err)
	}
	if err := f.Sync(); err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot write boot configuration: %w", err)
	}
	logger.Debugf("Wrote boot configuration record %d (seq %d, default %s).", slot, seq, set)
	return nil
}

