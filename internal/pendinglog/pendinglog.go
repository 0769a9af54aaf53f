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

// Package pendinglog implements the append-only queue of locally
// applied operations a replica has not yet had acknowledged by a
// peer, plus the op_id index that lets an acknowledge or removal call
// find an entry in O(1) rather than scanning the queue.
package pendinglog

import (
	"github.com/vsevex/carry/internal/model"
)

// Log is a FIFO queue of PendingEntry values. It is not safe for
// concurrent use; the engine's exclusive guard protects it.
type Log struct {
	entries []model.PendingEntry
	index   map[string]int // op_id -> position in entries
}

// New returns an empty Log.
func New() *Log {
	return &Log{index: make(map[string]int)}
}

// Append adds op to the tail of the log, recording appliedAtMS as its
// apply time. Appending an op_id already present is a caller bug and
// panics, since the pending log's invariant is that op_id is unique
// across the lifetime of a replica's pending entries.
func (l *Log) Append(op model.Operation, appliedAtMS int64) {
	if _, exists := l.index[op.OpID]; exists {
		panic("pendinglog: duplicate op_id appended: " + op.OpID)
	}
	l.index[op.OpID] = len(l.entries)
	l.entries = append(l.entries, model.PendingEntry{Operation: op, AppliedAt: appliedAtMS})
}

// Len reports how many entries remain in the log.
func (l *Log) Len() int {
	return len(l.entries)
}

// Has reports whether opID is still pending.
func (l *Log) Has(opID string) bool {
	_, ok := l.index[opID]
	return ok
}

// Entries returns every pending entry in FIFO order. The slice is a
// copy; callers may not mutate the log through it.
func (l *Log) Entries() []model.PendingEntry {
	out := make([]model.PendingEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Get returns the entry for opID, if still pending.
func (l *Log) Get(opID string) (model.PendingEntry, bool) {
	pos, ok := l.index[opID]
	if !ok {
		return model.PendingEntry{}, false
	}
	return l.entries[pos], true
}

// Remove deletes every entry whose OpID is in opIDs, preserving the
// relative order of what remains. It reports how many entries were
// actually found and removed — callers that pass an unknown op_id get
// a count short of len(opIDs) rather than an error, since acknowledge
// is idempotent by design.
func (l *Log) Remove(opIDs []string) int {
	if len(opIDs) == 0 {
		return 0
	}
	toRemove := make(map[string]struct{}, len(opIDs))
	removed := 0
	for _, id := range opIDs {
		if _, ok := l.index[id]; ok {
			toRemove[id] = struct{}{}
			removed++
		}
	}
	if removed == 0 {
		return 0
	}

	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if _, drop := toRemove[e.Operation.OpID]; drop {
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	l.rebuildIndex()
	return removed
}

// RemoveByRecord deletes every pending entry targeting (collection,
// recordID). It returns the op_ids removed, in their original FIFO
// order, so the caller can report them.
func (l *Log) RemoveByRecord(collection, recordID string) []string {
	var removedIDs []string
	kept := l.entries[:0:0]
	for _, e := range l.entries {
		if e.Operation.Collection == collection && e.Operation.RecordID == recordID {
			removedIDs = append(removedIDs, e.Operation.OpID)
			continue
		}
		kept = append(kept, e)
	}
	l.entries = kept
	l.rebuildIndex()
	return removedIDs
}

// Reset replaces the log's contents wholesale, used only by snapshot
// import.
func (l *Log) Reset(entries []model.PendingEntry) {
	l.entries = append([]model.PendingEntry(nil), entries...)
	l.rebuildIndex()
}

func (l *Log) rebuildIndex() {
	l.index = make(map[string]int, len(l.entries))
	for i, e := range l.entries {
		l.index[e.Operation.OpID] = i
	}
}
