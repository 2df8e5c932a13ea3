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

// Package journal keeps the persistent record of update operations and of
// which partition sets hold a staged, not yet committed, update.
package journal

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/canonical/x-go/randutil"
	bolt "go.etcd.io/bbolt"

	"github.com/canonical/otactl/internals/osutil"
	"github.com/canonical/otactl/internals/ota"
)

var (
	bucketEvents = []byte("events")
	bucketStaged = []byte("staged")
)

// ErrNoJournal is returned by a read-only Open when the journal was never
// created.
var ErrNoJournal = errors.New("journal does not exist")

var timeNow = time.Now

// Op names a recorded operation.
type Op string

const (
	OpProvision Op = "provision"
	OpInstall   Op = "install"
	OpCommit    Op = "commit"
	OpReboot    Op = "reboot"
)

// Entry is one journal record.
type Entry struct {
	ID   string    `json:"id"`
	Time time.Time `json:"time"`
	Op   Op        `json:"op"`
	// Set is the partition set the operation targeted.
	Set ota.Set `json:"set,omitempty"`
	// Kind is empty on success.
	Kind    ota.Kind `json:"kind,omitempty"`
	Message string   `json:"message,omitempty"`
	// Bundle is the "name version" of an installed artifact.
	Bundle string `json:"bundle,omitempty"`
	Bytes  int64  `json:"bytes,omitempty"`
}

// Failed reports whether the operation failed.
func (e *Entry) Failed() bool {
	return e.Kind != "" || e.Message != ""
}

// Staged describes a completed install that was not committed yet.
type Staged struct {
	Set     ota.Set   `json:"set"`
	EntryID string    `json:"entry-id"`
	Bundle  string    `json:"bundle,omitempty"`
	Time    time.Time `json:"time"`
}

// Options controls Open.
type Options struct {
	// Timeout bounds the wait for the database file lock. Zero waits
	// forever.
	Timeout time.Duration
	// ReadOnly opens the journal without write access, sharing the file
	// lock with other readers.
	ReadOnly bool
}

// Journal is the bbolt-backed operation journal.
type Journal struct {
	db *bolt.DB
}

// Open opens or creates the journal at path.
func Open(path string, opts *Options) (*Journal, error) {
	if opts == nil {
		opts = &Options{}
	}
	exists, isDir, err := osutil.ExistsIsDir(path)
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot open journal: %w", err)
	}
	if isDir {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot open journal: %s is a directory", path)
	}
	if opts.ReadOnly {
		if !exists {
			return nil, ErrNoJournal
		}
	} else if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot create journal directory: %w", err)
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: opts.Timeout, ReadOnly: opts.ReadOnly})
	if errors.Is(err, bolt.ErrTimeout) {
		return nil, ota.Errorf(ota.ErrorKindStateConflict, "", "cannot open journal: %s is in use", path)
	}
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot open journal: %w", err)
	}
	if !opts.ReadOnly {
		err = db.Update(func(tx *bolt.Tx) error {
			for _, bucket := range [][]byte{bucketEvents, bucketStaged} {
				if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
					return fmt.Errorf("cannot create bucket %s: %w", bucket, err)
				}
			}
			return nil
		})
		if err != nil {
			db.Close()
			return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot initialize journal: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

// Close closes the journal.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e to the journal, filling in its ID and time when unset.
func (j *Journal) Record(e *Entry) error {
	if e.ID == "" {
		id, err := randutil.RandomKernelUUID()
		if err != nil {
			return ota.Errorf(ota.ErrorKindIO, e.Set, "cannot generate journal entry id: %w", err)
		}
		e.ID = id
	}
	if e.Time.IsZero() {
		e.Time = timeNow().UTC()
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, e.Set, "cannot record %s in journal: %w", e.Op, err)
	}
	return nil
}

func seqKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// Entries returns up to limit entries, newest first. A limit of zero or
// less returns them all.
func (j *Journal) Entries(limit int) ([]*Entry, error) {
	var entries []*Entry
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketEvents)
		if b == nil {
			return nil
		}
		cur := b.Cursor()
		for k, v := cur.Last(); k != nil; k, v = cur.Prev() {
			if limit > 0 && len(entries) >= limit {
				break
			}
			var e Entry
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("cannot decode entry %x: %w", k, err)
			}
			entries = append(entries, &e)
		}
		return nil
	})
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, "", "cannot read journal: %w", err)
	}
	return entries, nil
}

// MarkStaged records that set holds a freshly installed update.
func (j *Journal) MarkStaged(st *Staged) error {
	if !st.Set.Valid() {
		return ota.Errorf(ota.ErrorKindPolicyViolation, "", "cannot mark invalid set %q as staged", st.Set)
	}
	if st.Time.IsZero() {
		st.Time = timeNow().UTC()
	}
	err := j.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketStaged).Put([]byte(st.Set), data)
	})
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, st.Set, "cannot mark set as staged: %w", err)
	}
	return nil
}

// ClearStaged forgets any staged update in set.
func (j *Journal) ClearStaged(set ota.Set) error {
	err := j.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketStaged).Delete([]byte(set))
	})
	if err != nil {
		return ota.Errorf(ota.ErrorKindIO, set, "cannot clear staged state: %w", err)
	}
	return nil
}

// Staged returns the staged update held by set, or nil.
func (j *Journal) Staged(set ota.Set) (*Staged, error) {
	var st *Staged
	err := j.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketStaged)
		if b == nil {
			return nil
		}
		data := b.Get([]byte(set))
		if data == nil {
			return nil
		}
		st = &Staged{}
		return json.Unmarshal(data, st)
	})
	if err != nil {
		return nil, ota.Errorf(ota.ErrorKindIO, set, "cannot read staged state: %w", err)
	}
	return st, nil
}
