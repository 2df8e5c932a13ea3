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

package bundle

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Writer produces a bundle.
type Writer struct {
	w      io.Writer
	roles  map[Role]bool
	closed bool
}

// NewWriter writes the bundle header and the manifest m to w.
func NewWriter(w io.Writer, m *Manifest) (*Writer, error) {
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("cannot write bundle: %v", err)
	}
	data, err := yaml.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("cannot write bundle manifest: %w", err)
	}
	hdr := make([]byte, 0, headerSize)
	hdr = append(hdr, Magic...)
	hdr = binary.BigEndian.AppendUint16(hdr, FormatVersion)
	hdr = binary.BigEndian.AppendUint16(hdr, 0)
	if _, err := w.Write(hdr); err != nil {
		return nil, fmt.Errorf("cannot write bundle header: %w", err)
	}
	bw := &Writer{w: w, roles: make(map[Role]bool)}
	if err := bw.WriteSection(TagManifest, data); err != nil {
		return nil, err
	}
	return bw, nil
}

func (bw *Writer) sectionHeader(tag Tag, length uint64) error {
	if bw.closed {
		return fmt.Errorf("cannot write to closed bundle")
	}
	hdr := make([]byte, 0, sectionHeaderSize)
	hdr = binary.BigEndian.AppendUint32(hdr, uint32(tag))
	hdr = binary.BigEndian.AppendUint64(hdr, length)
	if _, err := bw.w.Write(hdr); err != nil {
		return fmt.Errorf("cannot write bundle section %s: %w", tag, err)
	}
	return nil
}

// WriteSection writes a raw section.
func (bw *Writer) WriteSection(tag Tag, value []byte) error {
	if err := bw.sectionHeader(tag, uint64(len(value))); err != nil {
		return err
	}
	if _, err := bw.w.Write(value); err != nil {
		return fmt.Errorf("cannot write bundle section %s: %w", tag, err)
	}
	return nil
}

// AddPayload writes data as the payload for role.
func (bw *Writer) AddPayload(role Role, data []byte) error {
	return bw.AddPayloadFrom(role, int64(len(data)), sha256.Sum256(data), bytes.NewReader(data))
}

// AddPayloadFrom copies size bytes from r as the payload for role, with
// digest as the declared SHA-256 digest.
func (bw *Writer) AddPayloadFrom(role Role, size int64, digest [32]byte, r io.Reader) error {
	if !role.Valid() {
		return fmt.Errorf("cannot add payload with unknown role %d", role)
	}
	if bw.roles[role] {
		return fmt.Errorf("cannot add %s payload twice", role)
	}
	bw.roles[role] = true
	if err := bw.sectionHeader(TagPayload, uint64(1+digestSize+size)); err != nil {
		return err
	}
	if _, err := bw.w.Write(append([]byte{byte(role)}, digest[:]...)); err != nil {
		return fmt.Errorf("cannot write %s payload: %w", role, err)
	}
	n, err := io.CopyN(bw.w, r, size)
	if err != nil {
		return fmt.Errorf("cannot write %s payload (%d of %d bytes): %w", role, n, size, err)
	}
	return nil
}

// AddNote writes an optional free-text note.
func (bw *Writer) AddNote(text string) error {
	return bw.WriteSection(TagNote, []byte(text))
}

// Close writes the end marker. It does not close the underlying writer.
func (bw *Writer) Close() error {
	if bw.closed {
		return nil
	}
	if len(bw.roles) == 0 {
		return fmt.Errorf("cannot close bundle without payloads")
	}
	if err := bw.sectionHeader(TagEnd, 0); err != nil {
		return err
	}
	bw.closed = true
	return nil
}
