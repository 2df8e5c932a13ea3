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

// Package installer writes the payloads of an update bundle to the
// partitions of the spare set.
package installer

import (
	"context"
	"errors"
	"io"
	"os"
	"time"

	"github.com/canonical/x-go/strutil/quantity"

	"github.com/canonical/otactl/internals/bundle"
	"github.com/canonical/otactl/internals/layout"
	"github.com/canonical/otactl/internals/logger"
	"github.com/canonical/otactl/internals/ota"
)

var chunkSize = 1 << 20

var (
	timeNow          = time.Now
	progressInterval = 5 * time.Second
)

// Target is the partition set an install writes to.
type Target struct {
	Set  ota.Set
	Boot *layout.Partition
	Root *layout.Partition
}

// TargetFor returns the partitions of set in l.
func TargetFor(l *layout.Layout, set ota.Set) *Target {
	return &Target{Set: set, Boot: l.Boot(set), Root: l.Root(set)}
}

func (t *Target) partition(role bundle.Role) *layout.Partition {
	if role == bundle.RoleBoot {
		return t.Boot
	}
	return t.Root
}

// Options controls Install.
type Options struct {
	// Architecture is the device profile. A bundle declaring another
	// architecture is rejected.
	Architecture string
}

// Result summarizes a completed install.
type Result struct {
	Manifest *bundle.Manifest
	// Written holds the number of bytes written per payload role.
	Written map[bundle.Role]int64
}

// Bytes returns the total number of payload bytes written.
func (r *Result) Bytes() int64 {
	var n int64
	for _, w := range r.Written {
		n += w
	}
	return n
}

// Install streams the bundle read from src into the partitions of
// target. Nothing outside target is written. The returned result is
// non-nil whenever the manifest could be read, even on failure, so that
// callers can report partial progress.
func Install(ctx context.Context, src io.Reader, target *Target, opts *Options) (*Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	br, err := bundle.NewReader(newContextReader(ctx, src))
	if err != nil {
		return nil, withSet(err, target.Set)
	}
	m := br.Manifest()
	res := &Result{Manifest: m, Written: make(map[bundle.Role]int64)}
	if m.Architecture != "" && opts.Architecture != "" && m.Architecture != opts.Architecture {
		return res, ota.Errorf(ota.ErrorKindArtifactFormat, target.Set,
			"cannot install %s: built for %s, device is %s", m, m.Architecture, opts.Architecture)
	}
	logger.Noticef("Installing %s into set %s.", m, target.Set)

	for {
		if err := ctx.Err(); err != nil {
			return res, ota.Errorf(ota.ErrorKindIO, target.Set, "cannot install %s: %w", m, err)
		}
		p, err := br.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return res, withSet(err, target.Set)
		}
		part := target.partition(p.Role)
		if part == nil {
			return res, ota.Errorf(ota.ErrorKindLayout, target.Set, "cannot install %s payload: no partition", p.Role)
		}
		if uint64(p.Size) > part.Size {
			return res, ota.Errorf(ota.ErrorKindLayout, target.Set,
				"cannot install %s payload: %d bytes do not fit in %s (%d bytes)", p.Role, p.Size, part.Node, part.Size)
		}
		n, err := writePayload(ctx, p, part)
		res.Written[p.Role] = n
		if err != nil {
			return res, withSet(err, target.Set)
		}
	}
	logger.Noticef("Installed %s into set %s (%sB).", m, target.Set, quantity.FormatAmount(uint64(res.Bytes()), -1))
	return res, nil
}

// contextReader fails reads with the context error once ctx is done, even
// while a read from the underlying reader is blocked. The blocked read is
// abandoned and its data discarded.
type contextReader struct {
	ctx context.Context
	r   io.Reader
	buf []byte
}

type readResult struct {
	n   int
	err error
}

func newContextReader(ctx context.Context, r io.Reader) io.Reader {
	if ctx.Done() == nil {
		return r
	}
	return &contextReader{ctx: ctx, r: r}
}

func (cr *contextReader) Read(b []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	// No read starts after an abandoned one, so buf is never shared.
	if cap(cr.buf) < len(b) {
		cr.buf = make([]byte, len(b))
	}
	buf := cr.buf[:len(b)]
	done := make(chan readResult, 1)
	go func() {
		n, err := cr.r.Read(buf)
		done <- readResult{n, err}
	}()
	select {
	case res := <-done:
		copy(b, buf[:res.n])
		return res.n, res.err
	case <-cr.ctx.Done():
		return 0, cr.ctx.Err()
	}
}

// withSet attaches set to an error that carries a kind but no set.
func withSet(err error, set ota.Set) error {
	var e *ota.Error
	if errors.As(err, &e) && e.Set == "" {
		return &ota.Error{Kind: e.Kind, Set: set, Err: e.Err}
	}
	return ota.Wrap(ota.ErrorKindIO, set, err)
}

func writePayload(ctx context.Context, p *bundle.Payload, part *layout.Partition) (written int64, err error) {
	f, err := os.OpenFile(part.Node, os.O_WRONLY, 0)
	if err != nil {
		return 0, ota.Errorf(ota.ErrorKindIO, "", "cannot open %s: %w", part.Node, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = ota.Errorf(ota.ErrorKindIO, "", "cannot close %s: %w", part.Node, cerr)
		}
	}()

	prog := newProgress(p.Role.String(), part.Node, p.Size)
	buf := make([]byte, chunkSize)
	for {
		if err := ctx.Err(); err != nil {
			return written, ota.Errorf(ota.ErrorKindIO, "", "cannot write %s payload: %w", p.Role, err)
		}
		n, rerr := io.ReadFull(p, buf)
		if n > 0 {
			if _, werr := f.Write(buf[:n]); werr != nil {
				return written, ota.Errorf(ota.ErrorKindIO, "", "cannot write %s payload to %s: %w", p.Role, part.Node, werr)
			}
			written += int64(n)
			prog.update(written)
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return written, rerr
		}
	}
	if err := f.Sync(); err != nil {
		return written, ota.Errorf(ota.ErrorKindIO, "", "cannot sync %s: %w", part.Node, err)
	}
	prog.done(written)
	return written, nil
}

type progress struct {
	what    string
	node    string
	total   int64
	started time.Time
	last    time.Time
}

func newProgress(what, node string, total int64) *progress {
	now := timeNow()
	return &progress{what: what, node: node, total: total, started: now, last: now}
}

func (p *progress) update(written int64) {
	now := timeNow()
	if now.Sub(p.last) < progressInterval {
		return
	}
	p.last = now
	elapsed := now.Sub(p.started).Seconds()
	logger.Noticef("Writing %s payload to %s: %sB of %sB (%sB/s)", p.what, p.node,
		quantity.FormatAmount(uint64(written), -1), quantity.FormatAmount(uint64(p.total), -1),
		quantity.FormatBPS(float64(written), elapsed, -1))
}

func (p *progress) done(written int64) {
	elapsed := timeNow().Sub(p.started)
	logger.Debugf("Wrote %s payload to %s: %sB in %s.", p.what, p.node,
		quantity.FormatAmount(uint64(written), -1), quantity.FormatDuration(elapsed.Seconds()))
}
