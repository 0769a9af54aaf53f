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

// Package engine composes the clock, schema, store, pending log, and
// reconciler behind a single exclusive guard, matching the
// single-threaded, mutation-exclusive concurrency model every call
// against a replica must observe. Nothing outside this package ever
// touches those components directly.
package engine

import (
	"sync"
	"time"

	"github.com/vsevex/carry/internal/clock"
	"github.com/vsevex/carry/internal/metrics"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/pendinglog"
	"github.com/vsevex/carry/internal/reconcile"
	"github.com/vsevex/carry/internal/schema"
	"github.com/vsevex/carry/internal/snapshot"
	"github.com/vsevex/carry/internal/store"
)

// Version is the engine's compile-time version string. There is no
// other global state.
const Version = "0.1.0"

// Metadata summarizes a replica's identity and size, returned by
// Engine.Metadata.
type Metadata struct {
	NodeID       string     `json:"nodeId"`
	Clock        clock.Time `json:"clock"`
	PendingCount int        `json:"pendingCount"`
	RecordCount  int        `json:"recordCount"`
}

// Engine is one replica: a node identity, its clock, its record
// store, its pending log, and a reconciler over all three. Every
// exported method acquires mu for its full duration; reads take
// RLock, writes take Lock.
type Engine struct {
	mu sync.RWMutex

	nodeID     string
	clock      *clock.Clock
	schema     *schema.Schema
	store      *store.Store
	pending    *pendinglog.Log
	reconciler *reconcile.Reconciler
}

// New returns a fresh, empty replica identified by nodeID, validating
// def as its collection schema. Repeated calls with the same nodeID
// produce independent handles; nodeID together with the clock counter
// is what distinguishes one replica's writes from another's.
func New(def schema.Definition, nodeID string) (*Engine, error) {
	if nodeID == "" {
		return nil, model.ErrMalformed(nil)
	}
	sch, err := schema.Compile(def)
	if err != nil {
		return nil, model.ErrMalformed(err)
	}

	c := clock.New(nodeID)
	s := store.New(sch)
	p := pendinglog.New()

	return &Engine{
		nodeID:     nodeID,
		clock:      c,
		schema:     sch,
		store:      s,
		pending:    p,
		reconciler: reconcile.New(c, s, p),
	}, nil
}

// Apply validates and applies a single locally-originated operation,
// appending it to the pending log on success. nowMS is the host's
// wall-clock reading at the moment of the call; it has no bearing on
// record metadata, which always takes its timestamp from op.Timestamp
// — nowMS exists only to stamp the pending log entry.
func (e *Engine) Apply(op model.Operation, nowMS int64) (result store.ApplyResult, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := time.Now()
	defer func() {
		metrics.ApplyDurations.WithLabelValues(op.Collection).Observe(time.Since(start).Seconds())
		if merr, ok := err.(*model.Error); ok {
			metrics.ApplyErrors.WithLabelValues(op.Collection, merr.Kind.String()).Inc()
		}
	}()

	if err := op.Validate(); err != nil {
		return store.ApplyResult{}, err
	}

	if op.Type != model.OpDelete {
		if err := e.schema.Validate(op.Collection, op.Payload); err != nil {
			return store.ApplyResult{}, err
		}
	}

	current, exists := e.store.Get(op.Collection, op.RecordID)

	var decision store.Decision
	switch op.Type {
	case model.OpCreate:
		switch {
		case !exists:
			decision = store.DecisionCreate
		case current.Deleted:
			decision = store.DecisionResurrect
		default:
			return store.ApplyResult{}, model.ErrAlreadyExists()
		}
	case model.OpUpdate, model.OpDelete:
		if !exists || current.Deleted {
			return store.ApplyResult{}, model.ErrNotFound()
		}
		if op.BaseVersion != current.Version {
			return store.ApplyResult{}, model.ErrVersionMismatch(op.BaseVersion, current.Version)
		}
		decision = store.DecisionMutate
	default:
		return store.ApplyResult{}, model.ErrMalformed(nil)
	}

	result = e.store.Apply(op, decision, model.OriginLocal)
	e.pending.Append(op, nowMS)
	return result, nil
}

// Get returns the record at (collection, id), including a tombstone.
func (e *Engine) Get(collection, id string) (model.Record, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(collection, id)
}

// Query returns every record in collection ordered by record_id.
func (e *Engine) Query(collection string, includeDeleted bool) []model.Record {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Query(collection, includeDeleted)
}

// PendingCount reports how many local operations await acknowledgement.
func (e *Engine) PendingCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.Len()
}

// PendingOps lists every pending entry in FIFO order.
func (e *Engine) PendingOps() []model.PendingEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.pending.Entries()
}

// Acknowledge removes the given op_ids from the pending log. Unknown
// ids are ignored, making the call idempotent.
func (e *Engine) Acknowledge(opIDs []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pending.Remove(opIDs)
}

// Tick advances the replica's clock by one and returns the new
// reading. A host must call Tick exactly once before emitting any
// local operation, using the result as that operation's Clock field.
func (e *Engine) Tick() clock.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clock.Tick()
}

// Reconcile merges remoteOps into the replica's state under strategy.
// The whole call runs under the exclusive guard, so it is
// observationally atomic to every other caller.
func (e *Engine) Reconcile(remoteOps []model.Operation, strategy reconcile.Strategy) model.ReconcileResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reconciler.Reconcile(remoteOps, strategy)
}

// Export returns a canonical, self-contained snapshot of the
// replica's entire state.
func (e *Engine) Export() snapshot.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return snapshot.Export(e.clock, e.store, e.pending)
}

// Import replaces the replica's state wholesale from snap, rejecting
// a mismatched format version without touching anything.
func (e *Engine) Import(snap snapshot.Snapshot) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := snapshot.Import(snap, e.clock, e.store, e.pending); err != nil {
		return err
	}
	// clock, store, and pending are mutated in place by Import, so the
	// reconciler (which holds the same pointers) already observes the
	// new state; only the cached convenience fields need refreshing.
	e.schema = e.store.Schema()
	e.nodeID = e.clock.NodeID()
	return nil
}

// Metadata summarizes the replica's current identity and size.
func (e *Engine) Metadata() Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	count := 0
	for _, coll := range e.store.Collections() {
		count += len(e.store.Query(coll, true))
	}
	return Metadata{
		NodeID:       e.nodeID,
		Clock:        e.clock.Now(),
		PendingCount: e.pending.Len(),
		RecordCount:  count,
	}
}

// SnapshotFormatVersion returns the snapshot wire format this engine
// reads and writes.
func (e *Engine) SnapshotFormatVersion() uint32 {
	return snapshot.FormatVersion
}
