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
	"bufio"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/canonical/otactl/internals/ota"
)

// Reader reads a bundle in a single forward pass.
type Reader struct {
	r        *bufio.Reader
	manifest *Manifest
	current  *Payload
	seen     map[Role]bool
	done     bool
}

// NewReader reads the header and the manifest of the bundle in r.
func NewReader(r io.Reader) (*Reader, error) {
	br := &Reader{
		r:    bufio.NewReaderSize(r, 64*1024),
		seen: make(map[Role]bool),
	}
	var hdr [headerSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		return nil, streamError("cannot read bundle header", err)
	}
	if string(hdr[:len(Magic)]) != Magic {
		return nil, formatErrorf("cannot read bundle: not a bundle (bad magic)")
	}
	if v := binary.BigEndian.Uint16(hdr[8:10]); v != FormatVersion {
		return nil, formatErrorf("cannot read bundle: unsupported format version %d", v)
	}

	tag, length, err := br.sectionHeader()
	if err != nil {
		return nil, err
	}
	if tag != TagManifest {
		return nil, formatErrorf("cannot read bundle: first section is %s, not manifest", tag)
	}
	if length > maxManifestSize {
		return nil, formatErrorf("cannot read bundle: manifest too large (%d bytes)", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(br.r, data); err != nil {
		return nil, streamError("cannot read bundle manifest", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, formatErrorf("cannot parse bundle manifest: %v", err)
	}
	if err := m.validate(); err != nil {
		return nil, formatErrorf("invalid bundle manifest: %v", err)
	}
	br.manifest = &m
	return br, nil
}

// Manifest returns the bundle manifest.
func (br *Reader) Manifest() *Manifest {
	return br.manifest
}

func (br *Reader) sectionHeader() (Tag, uint64, error) {
	var hdr [sectionHeaderSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		return 0, 0, streamError("cannot read bundle section", err)
	}
	return Tag(binary.BigEndian.Uint32(hdr[:4])), binary.BigEndian.Uint64(hdr[4:]), nil
}

// Next returns the next payload. Any unread data of the previous payload
// is consumed and verified first. After the end marker Next returns
// io.EOF.
func (br *Reader) Next() (*Payload, error) {
	if br.current != nil {
		if _, err := io.Copy(io.Discard, br.current); err != nil {
			return nil, err
		}
		br.current = nil
	}
	if br.done {
		return nil, io.EOF
	}
	for {
		tag, length, err := br.sectionHeader()
		if err != nil {
			return nil, err
		}
		switch {
		case tag == TagPayload:
			return br.payload(length)
		case tag == TagEnd:
			return nil, br.end(length)
		case tag == TagManifest:
			return nil, formatErrorf("cannot read bundle: duplicated manifest")
		case tag.Optional():
			if _, err := io.CopyN(io.Discard, br.r, int64(length)); err != nil {
				return nil, streamError(fmt.Sprintf("cannot skip bundle section %s", tag), err)
			}
		default:
			return nil, formatErrorf("cannot read bundle: unknown required section %s", tag)
		}
	}
}

func (br *Reader) payload(length uint64) (*Payload, error) {
	if length < 1+digestSize {
		return nil, formatErrorf("cannot read bundle: payload section too short (%d bytes)", length)
	}
	var hdr [1 + digestSize]byte
	if _, err := io.ReadFull(br.r, hdr[:]); err != nil {
		return nil, streamError("cannot read bundle payload header", err)
	}
	role := Role(hdr[0])
	if !role.Valid() {
		return nil, formatErrorf("cannot read bundle: unknown payload role %d", hdr[0])
	}
	if br.seen[role] {
		return nil, formatErrorf("cannot read bundle: duplicated %s payload", role)
	}
	br.seen[role] = true
	p := &Payload{
		Role: role,
		Size: int64(length) - int64(len(hdr)),
		hash: sha256.New(),
	}
	copy(p.Digest[:], hdr[1:])
	p.r = io.LimitedReader{R: br.r, N: p.Size}
	br.current = p
	return p, nil
}

func (br *Reader) end(length uint64) error {
	if length != 0 {
		return formatErrorf("cannot read bundle: end section has %d bytes", length)
	}
	if len(br.seen) == 0 {
		return formatErrorf("cannot read bundle: no payload")
	}
	br.done = true
	if _, err := br.r.ReadByte(); err == nil {
		return formatErrorf("cannot read bundle: data after end section")
	} else if err != io.EOF {
		return ota.Errorf(ota.ErrorKindIO, "", "cannot read bundle: %w", err)
	}
	return io.EOF
}

// Payload is the data for one partition. Reading it streams from the
// bundle and verifies the declared digest once the last byte is read.
type Payload struct {
	Role   Role
	Digest [digestSize]byte
	// Size is the number of data bytes.
	Size int64

	r    io.LimitedReader
	hash hash.Hash
	err  error
}

func (p *Payload) Read(b []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}
	n, err := p.r.Read(b)
	p.hash.Write(b[:n])
	if err == io.EOF {
		if p.r.N > 0 {
			p.err = formatErrorf("cannot read %s payload: truncated bundle", p.Role)
			return n, p.err
		}
		var sum [digestSize]byte
		copy(sum[:], p.hash.Sum(nil))
		if sum != p.Digest {
			p.err = formatErrorf("cannot verify %s payload: digest mismatch (got %s, want %s)",
				p.Role, hex.EncodeToString(sum[:]), hex.EncodeToString(p.Digest[:]))
			return n, p.err
		}
		p.err = io.EOF
		return n, io.EOF
	}
	if err != nil {
		p.err = ota.Errorf(ota.ErrorKindIO, "", "cannot read %s payload: %w", p.Role, err)
		return n, p.err
	}
	return n, nil
}

func formatErrorf(format string, v ...any) error {
	return ota.Errorf(ota.ErrorKindArtifactFormat, "", format, v...)
}

// streamError classifies a read failure: running out of data means the
// bundle is truncated, anything else is an I/O failure.
func streamError(what string, err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return formatErrorf("%s: truncated bundle", what)
	}
	return ota.Errorf(ota.ErrorKindIO, "", "%s: %w", what, err)
}
