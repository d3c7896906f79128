/*
Copyright 2021 The Crossplane Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package store provides the emulator's metadata state and a transactional
// in-memory store over it. Every mutation runs against a deep copy of the
// state and is swapped in only on success, so a failing transaction leaves
// nothing behind. Reads operate on a private copy and may outlive the lock.
package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	errCopyState     = "cannot copy state"
	errLoadSnapshot  = "cannot load state snapshot"
	errParseSnapshot = "cannot parse state snapshot"
	errSaveSnapshot  = "cannot persist state snapshot"
)

func init() {
	// copystructure cannot descend into time.Time's unexported fields.
	// time.Time has value semantics, so handing the value back is a correct
	// deep copy.
	copystructure.Copiers[reflect.TypeOf(time.Time{})] = func(v interface{}) (interface{}, error) {
		return v.(time.Time), nil
	}
}

// Store is a transactional in-memory metadata store with an optional JSON
// snapshot on disk. A single writer runs at a time; readers are wait-free
// against each other.
type Store struct {
	mu    sync.RWMutex
	state *State

	// path of the snapshot file; empty disables persistence.
	path string
	log  *logrus.Entry
}

// New returns a Store. When snapshotPath names an existing file, the state
// is loaded from it; otherwise the store starts empty.
func New(log *logrus.Entry, snapshotPath string) (*Store, error) {
	s := &Store{state: NewState(), path: snapshotPath, log: log}
	if snapshotPath == "" {
		return s, nil
	}

	raw, err := os.ReadFile(snapshotPath)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, errLoadSnapshot)
	}
	loaded := &State{}
	if err := json.Unmarshal(raw, loaded); err != nil {
		return nil, errors.Wrap(err, errParseSnapshot)
	}
	loaded.init()
	s.state = loaded
	log.WithField("path", snapshotPath).Info("loaded state snapshot")
	return s, nil
}

// Update runs fn inside a transaction. fn receives a deep copy of the
// current state; when fn returns nil the copy is persisted (if configured)
// and becomes the current state, otherwise every change is discarded and
// fn's error is returned.
func (s *Store) Update(fn func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := s.copyState()
	if err != nil {
		return err
	}
	if err := fn(next); err != nil {
		return err
	}
	if err := s.persist(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// View runs fn on a deep copy of the current state. The copy is private to
// the caller, so values extracted from it may be used after View returns.
func (s *Store) View(fn func(*State) error) error {
	s.mu.RLock()
	snap, err := s.copyStateRLocked()
	s.mu.RUnlock()
	if err != nil {
		return err
	}
	return fn(snap)
}

func (s *Store) copyState() (*State, error) {
	c, err := copystructure.Copy(s.state)
	if err != nil {
		return nil, errors.Wrap(err, errCopyState)
	}
	next := c.(*State)
	next.init()
	return next, nil
}

func (s *Store) copyStateRLocked() (*State, error) {
	c, err := copystructure.Copy(s.state)
	if err != nil {
		return nil, errors.Wrap(err, errCopyState)
	}
	snap := c.(*State)
	snap.init()
	return snap, nil
}

// persist writes next to the snapshot path via a temp file and rename, so a
// crash mid-write never corrupts the previous snapshot.
func (s *Store) persist(next *State) error {
	if s.path == "" {
		return nil
	}
	raw, err := json.Marshal(next)
	if err != nil {
		return errors.Wrap(err, errSaveSnapshot)
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, errSaveSnapshot)
	}
	tmp, err := os.CreateTemp(dir, ".snapshot-*")
	if err != nil {
		return errors.Wrap(err, errSaveSnapshot)
	}
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()           // nolint:errcheck
		os.Remove(tmp.Name()) // nolint:errcheck
		return errors.Wrap(err, errSaveSnapshot)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name()) // nolint:errcheck
		return errors.Wrap(err, errSaveSnapshot)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name()) // nolint:errcheck
		return errors.Wrap(err, errSaveSnapshot)
	}
	return nil
}
