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

// Package store implements the record store: a map keyed by
// (collection, record_id) to Record, with schema-validated apply
// semantics and version/tombstone invariants.
package store

import (
	"sort"

	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/schema"
)

// Store holds every record the replica has ever seen, including
// tombstones, grouped by collection. It performs no locking of its
// own; the engine's exclusive guard protects it.
type Store struct {
	schema      *schema.Schema
	collections *OrderedMap[string, *OrderedMap[string, model.Record]]
	producers   *OrderedMap[string, *OrderedMap[string, string]] // collection -> record_id -> op_id that produced the current version
}

// New returns an empty Store validated against sch.
func New(sch *schema.Schema) *Store {
	return &Store{
		schema:      sch,
		collections: NewOrderedMap[string, *OrderedMap[string, model.Record]](),
		producers:   NewOrderedMap[string, *OrderedMap[string, string]](),
	}
}

// Get returns the record at (collection, id), including a tombstone
// if that's all that's there.
func (s *Store) Get(collection, id string) (model.Record, bool) {
	coll, ok := s.collections.Get(collection)
	if !ok {
		return model.Record{}, false
	}
	rec, ok := coll.Get(id)
	if !ok {
		return model.Record{}, false
	}
	return rec.Clone(), true
}

// Query returns every record in collection, ordered by record_id
// ascending, optionally including tombstones.
func (s *Store) Query(collection string, includeDeleted bool) []model.Record {
	coll, ok := s.collections.Get(collection)
	if !ok {
		return nil
	}
	var out []model.Record
	_ = coll.Range(func(_ string, rec model.Record) error {
		if rec.Deleted && !includeDeleted {
			return nil
		}
		out = append(out, rec.Clone())
		return nil
	})
	return out
}

// Collections returns the names of every collection with at least one
// record, in ascending order — used by the snapshot codec to build a
// canonical export.
func (s *Store) Collections() []string {
	return s.collections.Keys()
}

// Producer returns the op_id that produced the current version of
// (collection, id), used by the reconciler to decide whether that op
// is still sitting in the pending log and therefore a conflict loser.
func (s *Store) Producer(collection, id string) (string, bool) {
	coll, ok := s.producers.Get(collection)
	if !ok {
		return "", false
	}
	return coll.Get(id)
}

// ApplyResult is returned by Apply on success.
type ApplyResult struct {
	OpID     string
	RecordID string
	Version  uint64
}

// Apply constructs and stores the new Record for an operation, given
// the outcome of the existence/base-version checks the caller (engine
// or reconciler) has already decided apply to. Decision captures what
// the caller wants done to the record: local calls enforce strict
// existence/base-version rules themselves before calling Apply with
// DecisionMutate/DecisionCreate; the reconciler calls Apply only once
// it has already decided a remote op wins.
type Decision int

// The three state transitions Apply can perform.
const (
	// DecisionCreate inserts a brand-new record, or resurrects a
	// tombstone.
	DecisionCreate Decision = iota
	// DecisionMutate updates or tombstones an existing, live record.
	DecisionMutate
	// DecisionResurrect brings a tombstone back to life via a Create
	// whose clock dominates the tombstone's, replacing its payload.
	DecisionResurrect
)

// Apply constructs the new Record for op under decision and stores
// it, returning the ApplyResult. It does not itself check schema
// validity, existence, or base_version — those are the caller's
// responsibility; Apply performs step 4 only. Record metadata takes
// its timestamp from op.Timestamp exactly as the op's issuer set it;
// neither the engine nor the reconciler rewrites it before calling
// Apply.
func (s *Store) Apply(op model.Operation, decision Decision, origin model.Origin) ApplyResult {
	coll, ok := s.collections.Get(op.Collection)
	if !ok {
		coll = NewOrderedMap[string, model.Record]()
		s.collections.Put(op.Collection, coll)
	}

	prev, hadPrev := coll.Get(op.RecordID)

	rec := model.Record{
		ID:         op.RecordID,
		Collection: op.Collection,
		Deleted:    op.Type == model.OpDelete,
	}

	switch op.Type {
	case model.OpDelete:
		// Keep the last known payload; a tombstone retains its data
		// for conflict resolution.
		if hadPrev {
			rec.Payload = prev.Payload
		}
	default:
		rec.Payload = op.Payload
	}

	switch decision {
	case DecisionCreate, DecisionResurrect:
		rec.Version = 1
		if hadPrev {
			rec.Version = prev.Version + 1
		}
		rec.Metadata.CreatedAt = op.Timestamp
	case DecisionMutate:
		rec.Version = prev.Version + 1
		rec.Metadata.CreatedAt = prev.Metadata.CreatedAt
	}

	rec.Metadata.UpdatedAt = op.Timestamp
	rec.Metadata.Origin = origin
	rec.Metadata.Clock = op.Clock

	coll.Put(op.RecordID, rec)

	producers, ok := s.producers.Get(op.Collection)
	if !ok {
		producers = NewOrderedMap[string, string]()
		s.producers.Put(op.Collection, producers)
	}
	producers.Put(op.RecordID, op.OpID)

	return ApplyResult{OpID: op.OpID, RecordID: op.RecordID, Version: rec.Version}
}

// restoreRecord inserts rec verbatim, bypassing version/clock
// derivation. It is used only by snapshot import to replace the
// store's entire state.
func (s *Store) restoreRecord(rec model.Record) {
	coll, ok := s.collections.Get(rec.Collection)
	if !ok {
		coll = NewOrderedMap[string, model.Record]()
		s.collections.Put(rec.Collection, coll)
	}
	coll.Put(rec.ID, rec)
}

// Reset clears the store and replaces its schema, used only by
// snapshot import. The producer index starts empty: a freshly
// imported record is not known to be the result of any locally
// pending op until that op is applied again in this process.
func (s *Store) Reset(sch *schema.Schema, records map[string]map[string]model.Record) {
	s.schema = sch
	s.collections = NewOrderedMap[string, *OrderedMap[string, model.Record]]()
	s.producers = NewOrderedMap[string, *OrderedMap[string, string]]()
	for _, coll := range sortedKeys(records) {
		for _, id := range sortedKeys(records[coll]) {
			s.restoreRecord(records[coll][id])
		}
	}
}

// Schema returns the schema the store validates against.
func (s *Store) Schema() *schema.Schema { return s.schema }

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
