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

// Package reconcile merges a batch of remote operations into the
// record store and pending log, picking a winner for every contested
// record deterministically and reporting what happened.
package reconcile

import (
	"sort"
	"time"

	"github.com/vsevex/carry/internal/clock"
	"github.com/vsevex/carry/internal/metrics"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/pendinglog"
	"github.com/vsevex/carry/internal/store"
)

// Strategy picks how two competing operations on the same record are
// ranked against each other.
type Strategy string

// The two merge strategies a reconcile call can run under.
const (
	// ClockWins ranks purely by hybrid logical clock: (counter, node_id).
	ClockWins Strategy = "ClockWins"
	// TimestampWins ranks by wall-clock first, falling back to the
	// hybrid logical clock only to break a timestamp tie.
	TimestampWins Strategy = "TimestampWins"
)

// Reconciler merges remote operations into a Store and Log under the
// engine's exclusive guard; it holds no lock of its own.
type Reconciler struct {
	clock   *clock.Clock
	store   *store.Store
	pending *pendinglog.Log
}

// New returns a Reconciler operating against the given clock, store,
// and pending log.
func New(c *clock.Clock, s *store.Store, p *pendinglog.Log) *Reconciler {
	return &Reconciler{clock: c, store: s, pending: p}
}

// sKey is the ordering tuple a Strategy reduces an operation to. Ties
// fall through timestamp, then counter, then node_id; identical
// tuples mean identical operations.
type sKey struct {
	timestamp int64
	counter   uint64
	nodeID    string
}

func keyFor(strategy Strategy, timestamp int64, counter uint64, nodeID string) sKey {
	k := sKey{counter: counter, nodeID: nodeID}
	if strategy == TimestampWins {
		k.timestamp = timestamp
	}
	return k
}

func compareKeys(a, b sKey) int {
	switch {
	case a.timestamp < b.timestamp:
		return -1
	case a.timestamp > b.timestamp:
		return 1
	}
	switch {
	case a.counter < b.counter:
		return -1
	case a.counter > b.counter:
		return 1
	}
	switch {
	case a.nodeID < b.nodeID:
		return -1
	case a.nodeID > b.nodeID:
		return 1
	}
	return 0
}

// Reconcile merges remoteOps into the store and pending log under
// strategy, returning a stably-ordered report of what happened. It is
// observationally atomic: callers never see a partial post-state.
func (r *Reconciler) Reconcile(remoteOps []model.Operation, strategy Strategy) model.ReconcileResult {
	start := time.Now()
	defer func() {
		metrics.ReconcileDurations.WithLabelValues(string(strategy)).Observe(time.Since(start).Seconds())
	}()

	before := make(map[string]struct{}, r.pending.Len())
	for _, e := range r.pending.Entries() {
		before[e.Operation.OpID] = struct{}{}
	}

	var appliedRemote []string
	var rejectedRemote []model.RejectedOp
	var conflicts []model.Conflict
	removedLocal := make(map[string]struct{})

	groups := make(map[model.RecordKey][]model.Operation)
	var groupOrder []model.RecordKey

	for _, op := range remoteOps {
		if err := op.Validate(); err != nil {
			rejectedRemote = append(rejectedRemote, model.RejectedOp{OpID: op.OpID, Reason: model.ReasonMalformed})
			continue
		}
		if op.Type != model.OpDelete {
			if err := r.store.Schema().Validate(op.Collection, op.Payload); err != nil {
				rejectedRemote = append(rejectedRemote, model.RejectedOp{OpID: op.OpID, Reason: model.ReasonMalformed})
				continue
			}
		}

		r.clock.Observe(op.Clock)

		key := op.Key()
		if _, seen := groups[key]; !seen {
			groupOrder = append(groupOrder, key)
		}
		groups[key] = append(groups[key], op)
	}

	sort.Slice(groupOrder, func(i, j int) bool {
		if groupOrder[i].Collection != groupOrder[j].Collection {
			return groupOrder[i].Collection < groupOrder[j].Collection
		}
		return groupOrder[i].RecordID < groupOrder[j].RecordID
	})

	for _, key := range groupOrder {
		ops := groups[key]
		sort.SliceStable(ops, func(i, j int) bool {
			ki := keyFor(strategy, ops[i].Timestamp, ops[i].Clock.Counter, ops[i].Clock.NodeID)
			kj := keyFor(strategy, ops[j].Timestamp, ops[j].Clock.Counter, ops[j].Clock.NodeID)
			return compareKeys(ki, kj) < 0
		})

		for _, op := range ops {
			applied, rejected, conflict := r.applyOne(op, strategy)
			if applied != "" {
				appliedRemote = append(appliedRemote, applied)
			}
			if rejected != nil {
				rejectedRemote = append(rejectedRemote, *rejected)
			}
			if conflict != nil {
				conflicts = append(conflicts, *conflict)
				metrics.ReconcileConflicts.WithLabelValues(string(conflict.Resolution)).Inc()
				if conflict.Resolution == model.ResolutionRemoteWins {
					removedLocal[conflict.LocalOp] = struct{}{}
				}
			}
		}
	}

	var acceptedLocal, rejectedLocal []string
	for opID := range before {
		if _, gone := removedLocal[opID]; gone {
			rejectedLocal = append(rejectedLocal, opID)
		} else if r.pending.Has(opID) {
			acceptedLocal = append(acceptedLocal, opID)
		}
	}

	sort.Strings(acceptedLocal)
	sort.Strings(rejectedLocal)
	sort.Strings(appliedRemote)
	sort.Slice(rejectedRemote, func(i, j int) bool { return rejectedRemote[i].OpID < rejectedRemote[j].OpID })
	sort.Slice(conflicts, func(i, j int) bool {
		if conflicts[i].Collection != conflicts[j].Collection {
			return conflicts[i].Collection < conflicts[j].Collection
		}
		if conflicts[i].RecordID != conflicts[j].RecordID {
			return conflicts[i].RecordID < conflicts[j].RecordID
		}
		return conflicts[i].WinnerOpID < conflicts[j].WinnerOpID
	})

	return model.ReconcileResult{
		AcceptedLocal:  acceptedLocal,
		RejectedLocal:  rejectedLocal,
		AppliedRemote:  appliedRemote,
		RejectedRemote: rejectedRemote,
		Conflicts:      conflicts,
	}
}

// applyOne resolves a single remote op against the record's current
// state, mutating the store and pending log as needed, and reports
// which of applied/rejected/conflict (any subset) resulted.
func (r *Reconciler) applyOne(op model.Operation, strategy Strategy) (applied string, rejected *model.RejectedOp, conflict *model.Conflict) {
	current, exists := r.store.Get(op.Collection, op.RecordID)

	cleanApply := false
	switch op.Type {
	case model.OpCreate:
		cleanApply = !exists || current.Deleted
	case model.OpUpdate, model.OpDelete:
		cleanApply = exists && !current.Deleted
	}

	if !exists {
		// No record at all: Create always starts fresh; Update/Delete
		// have nothing to target.
		if op.Type == model.OpCreate {
			r.store.Apply(op, store.DecisionCreate, model.OriginRemote)
			return op.OpID, nil, nil
		}
		return "", &model.RejectedOp{OpID: op.OpID, Reason: model.ReasonOrphanOp}, nil
	}

	remoteKey := keyFor(strategy, op.Timestamp, op.Clock.Counter, op.Clock.NodeID)
	currentKey := keyFor(strategy, current.Metadata.UpdatedAt, current.Metadata.Clock.Counter, current.Metadata.Clock.NodeID)
	cmp := compareKeys(remoteKey, currentKey)

	if !cleanApply {
		// Update/Delete against a tombstone can never win; a Create
		// against a live record is resolved by S-key exactly like a
		// clean conflict below, so fall through to the shared
		// comparison instead of special-casing it.
		if op.Type != model.OpCreate {
			return "", &model.RejectedOp{OpID: op.OpID, Reason: model.ReasonOrphanOp}, nil
		}
	}

	switch {
	case cmp > 0:
		// Look up the op that produced the current version before Apply
		// records the remote op as the new producer.
		producerOpID, hadProducer := r.store.Producer(op.Collection, op.RecordID)

		decision := store.DecisionMutate
		if current.Deleted {
			decision = store.DecisionResurrect
		}
		r.store.Apply(op, decision, model.OriginRemote)

		var conflictOut *model.Conflict
		if hadProducer && r.pending.Has(producerOpID) {
			r.pending.Remove([]string{producerOpID})
			conflictOut = &model.Conflict{
				LocalOp:    producerOpID,
				RemoteOp:   op.OpID,
				Resolution: model.ResolutionRemoteWins,
				WinnerOpID: op.OpID,
				Collection: op.Collection,
				RecordID:   op.RecordID,
			}
		}
		return op.OpID, nil, conflictOut

	case cmp < 0:
		rejectedOut := &model.RejectedOp{OpID: op.OpID, Reason: model.ReasonStale}
		var conflictOut *model.Conflict
		if current.Metadata.Clock.NodeID != op.Clock.NodeID {
			if producerOpID, ok := r.store.Producer(op.Collection, op.RecordID); ok {
				conflictOut = &model.Conflict{
					LocalOp:    producerOpID,
					RemoteOp:   op.OpID,
					Resolution: model.ResolutionLocalWins,
					WinnerOpID: producerOpID,
					Collection: op.Collection,
					RecordID:   op.RecordID,
				}
			}
		}
		return "", rejectedOut, conflictOut

	default:
		return "", &model.RejectedOp{OpID: op.OpID, Reason: model.ReasonDuplicate}, nil
	}
}
