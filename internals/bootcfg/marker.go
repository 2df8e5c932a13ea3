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
	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

// MarkerName is the name of the one-shot override marker in the
// boot-config directory.
const MarkerName = "otactl.try"

const markerSize = 16

var markerMagic = [4]byte{'O', 'T', 'A', 'T'}

type markerRecord struct {
	Magic    [4]byte
	Version  uint16
	Reserved uint16
	Target   [4]byte
	Crc32    uint32
}

// Marker is the one-shot boot override. The bootloader boots the set it
// names once and removes it, so it only affects the immediately following
// boot and BootConfig is never involved.
type Marker struct {
	path string
}

// NewMarker returns the override marker kept in the boot-config directory
// dir.
func NewMarker(dir string) *Marker {
	return &Marker{path: filepath.Join(dir, MarkerName)}
}

// Path returns the location of the marker file.
func (m *Marker) Path() string {
	return m.path
}

// Get returns the set named by the marker. A missing, torn or otherwise
// invalid marker is reported as not set, with an empty set and no error.
func (m *Marker) Get() (ota.Set, error) {
	data, err := os.ReadFile(m.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", ota.Errorf(ota.ErrorKindIO, "", "cannot read boot override: %w", err)
	}
	set, err := decodeMarker(data)
	if err != nil {
		logger.Noticef("Ignoring invalid boot override %s: %v", m.path, err)
		return "", nil
	}
	return set, nil
}

func decodeMarker(data []byte) (ota.Set, error) {
	if len(data) != markerSize {
		return "", fmt.Errorf("unexpected size %d", len(data))
	}
	var r markerRecord
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &r); err != nil {
		return "", err
	}
	if r.Magic != markerMagic || r.Version != recordVersion {
		return "", fmt.Errorf("bad header")
	}
	if crc := crc32.ChecksumIEEE(data[:markerSize-4]); crc != r.Crc32 {
		return "", fmt.Errorf("expected checksum 0x%X, got 0x%X", crc, r.Crc32)
	}
	set := ota.Set(bytes.TrimRight(r.Target[:], "\x00"))
	if !set.Valid() {
		return "", fmt.Errorf("invalid set %q", set)
	}
	return set, nil
}

// Set arranges for the next boot, and only that one, to use set.
func (m *Marker) Set(set ota.Set) error {
	if !set.Valid() {
		return ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot set boot override: invalid set %q", set)
	}
	r := markerRecord{Magic: markerMagic, Version: recordVersion}
	copy(r.Target[:], set)
	buf := bytes.NewBuffer(make([]byte, 0, markerSize))
	binary.Write(buf, binary.LittleEndian, &r)
	data := buf.Bytes()
	binary.LittleEndian.PutUint32(data[markerSize-4:], crc32.ChecksumIEEE(data[:markerSize-4]))

	if err := osutil.AtomicWriteFile(m.path, data, 0644); err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot set boot override: %w", err)
	}
	return nil
}

// Clear removes the marker, if any.
func (m *Marker) Clear() error {
	if err := osutil.RemoveSync(m.path); err != nil {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot clear boot override: %w", err)
	}
	return nil
}
