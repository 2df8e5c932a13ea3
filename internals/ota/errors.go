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

package ota

import (
	"errors"
	"fmt"
)

// Kind classifies failures of the update engine. Every kind aborts the
// current operation and leaves the persisted default set unchanged.
type Kind string

const (
	// ErrorKindLayout means the partition table does not match a supported
	// layout, or the device architecture is not recognized.
	ErrorKindLayout Kind = "layout"
	// ErrorKindIO means reading or writing a block device or file failed.
	ErrorKindIO Kind = "io"
	// ErrorKindArtifactFormat means an update artifact is malformed.
	ErrorKindArtifactFormat Kind = "artifact-format"
	// ErrorKindStateConflict means the operation is not legal in the
	// current state, or another operation is in progress.
	ErrorKindStateConflict Kind = "state-conflict"
	// ErrorKindPolicyViolation means the operation would break one of the
	// safety rules, such as committing a set that is not running.
	ErrorKindPolicyViolation Kind = "policy-violation"
)

// Error is the error type returned across component boundaries.
type Error struct {
	Kind Kind
	// Set is the partition set affected, if known.
	Set Set
	Err error
}

func (e *Error) Error() string {
	if e.Set != "" {
		return fmt.Sprintf("%s error on set %s: %v", e.Kind, e.Set, e.Err)
	}
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Errorf returns an *Error of the given kind with a formatted message.
// The format string may use %w.
func Errorf(kind Kind, set Set, format string, v ...any) error {
	return &Error{Kind: kind, Set: set, Err: fmt.Errorf(format, v...)}
}

// Wrap attaches a kind to err. An error that already carries a kind is
// returned unchanged, so the innermost classification wins. Wrap returns
// nil when err is nil.
func Wrap(kind Kind, set Set, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return &Error{Kind: kind, Set: set, Err: err}
}

// KindOf returns the kind of the first *Error in the chain of err, or the
// empty string if there is none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
