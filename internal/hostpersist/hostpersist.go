// Copyright 2023 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
//
// SPDX-License-Identifier: Apache-2.0

// Package hostpersist is a reference implementation of the
// "persistent collaborator" an embedded replica's host uses to keep a
// snapshot blob and an opaque sync token across restarts. It stores
// both in a single local SQLite file via the cgo-free modernc.org
// driver, the way MaxIOFS's internal/auth.SQLiteStore persists its
// state to a local file without requiring cgo — carry's origin as an
// embeddable library rules out a cgo-dependent driver.
package hostpersist

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS replica_state (
  id         INTEGER PRIMARY KEY CHECK (id = 0),
  snapshot   BLOB NOT NULL,
  sync_token TEXT NOT NULL DEFAULT ''
)`

// Store persists exactly one replica's snapshot blob plus sync token
// in a single SQLite file. The engine never reads this file directly;
// a host loads it, calls Import/set_sync_token, and writes it back
// through Save after each successful sync round.
type Store struct {
	db *sql.DB
}

// Open creates or opens the SQLite file at path, ensuring its schema
// exists.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "creating host persistence directory")
		}
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrap(err, "opening host persistence database")
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating host persistence schema")
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error { return s.db.Close() }

// Load returns the persisted snapshot blob and sync token, or
// (nil, "", false, nil) if nothing has been saved yet.
func (s *Store) Load() (snapshot []byte, syncToken string, ok bool, err error) {
	row := s.db.QueryRow(`SELECT snapshot, sync_token FROM replica_state WHERE id = 0`)
	if scanErr := row.Scan(&snapshot, &syncToken); scanErr != nil {
		if errors.Is(scanErr, sql.ErrNoRows) {
			return nil, "", false, nil
		}
		return nil, "", false, errors.Wrap(scanErr, "loading host persistence state")
	}
	return snapshot, syncToken, true, nil
}

// Save overwrites the persisted snapshot blob and sync token
// atomically.
func (s *Store) Save(snapshot []byte, syncToken string) error {
	_, err := s.db.Exec(`
		INSERT INTO replica_state (id, snapshot, sync_token) VALUES (0, ?, ?)
		ON CONFLICT (id) DO UPDATE SET snapshot = excluded.snapshot, sync_token = excluded.sync_token
	`, snapshot, syncToken)
	if err != nil {
		return errors.Wrap(err, "saving host persistence state")
	}
	return nil
}

// SaveSyncToken updates only the sync token, leaving the last saved
// snapshot untouched — used between full Export/Save rounds when a
// host only needs to record pull progress.
func (s *Store) SaveSyncToken(syncToken string) error {
	res, err := s.db.Exec(`UPDATE replica_state SET sync_token = ? WHERE id = 0`, syncToken)
	if err != nil {
		return errors.Wrap(err, "saving sync token")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "checking sync token update")
	}
	if affected == 0 {
		return fmt.Errorf("no replica state saved yet; call Save before SaveSyncToken")
	}
	return nil
}
