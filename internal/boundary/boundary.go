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

// Package boundary is the one stable, JSON-in/JSON-out surface hosts
// call against a replica. Every function here decodes its request
// once, calls straight into engine.Engine, and encodes the response
// once. The wire field names of operations, records and results are
// the json tags declared on the model types.
package boundary

import (
	"encoding/json"

	"github.com/pkg/errors"
	"github.com/vsevex/carry/internal/engine"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/reconcile"
	"github.com/vsevex/carry/internal/schema"
	"github.com/vsevex/carry/internal/snapshot"
)

// Handle is an opaque engine handle from the host's perspective. It
// wraps exactly one engine.Engine.
type Handle struct {
	eng *engine.Engine
}

// New decodes a schema definition and constructs a fresh handle for
// nodeID.
func New(schemaJSON []byte, nodeID string) (*Handle, error) {
	var def schema.Definition
	if err := json.Unmarshal(schemaJSON, &def); err != nil {
		return nil, model.ErrMalformed(err)
	}
	eng, err := engine.New(def, nodeID)
	if err != nil {
		return nil, err
	}
	return &Handle{eng: eng}, nil
}

// ErrorResponse is the JSON shape an *model.Error is rendered as when
// a boundary call fails. Field is set for MissingRequiredField and
// TypeMismatch; Want/Got for VersionMismatch; Version for
// UnsupportedFormat.
type ErrorResponse struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	Want    uint64 `json:"want,omitempty"`
	Got     uint64 `json:"got,omitempty"`
	Version uint32 `json:"version,omitempty"`
}

// EncodeError renders err as the ErrorResponse JSON a host should
// surface to its caller. It recognizes *model.Error specifically;
// anything else is reported as Internal.
func EncodeError(err error) ([]byte, error) {
	resp := ErrorResponse{Kind: model.KindInternal.String(), Message: err.Error()}
	var merr *model.Error
	if errors.As(err, &merr) {
		resp = ErrorResponse{
			Kind:    merr.Kind.String(),
			Message: merr.Error(),
			Field:   merr.Field,
			Want:    merr.Want,
			Got:     merr.Got,
			Version: merr.Version,
		}
	}
	return json.Marshal(resp)
}

// ApplyRequest is the decoded body of an apply call.
type ApplyRequest struct {
	Op    model.Operation `json:"op"`
	NowMS int64           `json:"nowMs"`
}

// Apply decodes reqJSON, applies the operation, and encodes the
// result.
func (h *Handle) Apply(reqJSON []byte) ([]byte, error) {
	var req ApplyRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, model.ErrMalformed(err)
	}
	result, err := h.eng.Apply(req.Op, req.NowMS)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// GetRequest is the decoded body of a get call.
type GetRequest struct {
	Collection string `json:"collection"`
	ID         string `json:"id"`
}

// Get decodes reqJSON and returns the matching Record, or JSON null
// if absent.
func (h *Handle) Get(reqJSON []byte) ([]byte, error) {
	var req GetRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, model.ErrMalformed(err)
	}
	rec, ok := h.eng.Get(req.Collection, req.ID)
	if !ok {
		return json.Marshal(nil)
	}
	return json.Marshal(rec)
}

// QueryRequest is the decoded body of a query call.
type QueryRequest struct {
	Collection     string `json:"collection"`
	IncludeDeleted bool   `json:"includeDeleted"`
}

// Query decodes reqJSON and returns the matching records.
func (h *Handle) Query(reqJSON []byte) ([]byte, error) {
	var req QueryRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, model.ErrMalformed(err)
	}
	recs := h.eng.Query(req.Collection, req.IncludeDeleted)
	if recs == nil {
		recs = []model.Record{}
	}
	return json.Marshal(recs)
}

// PendingCount returns the number of operations awaiting acknowledgement.
func (h *Handle) PendingCount() ([]byte, error) {
	return json.Marshal(h.eng.PendingCount())
}

// PendingOps returns every pending entry in FIFO order.
func (h *Handle) PendingOps() ([]byte, error) {
	entries := h.eng.PendingOps()
	if entries == nil {
		entries = []model.PendingEntry{}
	}
	return json.Marshal(entries)
}

// Acknowledge decodes a list of op_ids and removes them from the
// pending log.
func (h *Handle) Acknowledge(reqJSON []byte) error {
	var opIDs []string
	if err := json.Unmarshal(reqJSON, &opIDs); err != nil {
		return model.ErrMalformed(err)
	}
	h.eng.Acknowledge(opIDs)
	return nil
}

// Tick advances the replica's clock and returns the new reading.
func (h *Handle) Tick() ([]byte, error) {
	return json.Marshal(h.eng.Tick())
}

// ReconcileRequest is the decoded body of a reconcile call.
type ReconcileRequest struct {
	RemoteOps []model.Operation  `json:"remoteOps"`
	Strategy  reconcile.Strategy `json:"strategy"`
}

// Reconcile decodes a batch of remote operations and a strategy,
// merges them, and encodes the result.
func (h *Handle) Reconcile(reqJSON []byte) ([]byte, error) {
	var req ReconcileRequest
	if err := json.Unmarshal(reqJSON, &req); err != nil {
		return nil, model.ErrMalformed(err)
	}
	result := h.eng.Reconcile(req.RemoteOps, req.Strategy)
	return json.Marshal(result)
}

// Export encodes the replica's full snapshot.
func (h *Handle) Export() ([]byte, error) {
	return json.Marshal(h.eng.Export())
}

// Import decodes a snapshot and replaces the replica's state with it.
func (h *Handle) Import(reqJSON []byte) error {
	var snap snapshot.Snapshot
	if err := json.Unmarshal(reqJSON, &snap); err != nil {
		return model.ErrMalformed(err)
	}
	return h.eng.Import(snap)
}

// Metadata returns the replica's identity and size summary.
func (h *Handle) Metadata() ([]byte, error) {
	return json.Marshal(h.eng.Metadata())
}

// Version returns the engine's compile-time version string.
func (h *Handle) Version() string {
	return engine.Version
}

// SnapshotFormatVersion returns the snapshot wire format this engine
// reads and writes.
func (h *Handle) SnapshotFormatVersion() uint32 {
	return h.eng.SnapshotFormatVersion()
}
