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

// Package model contains the engine's core value types: operations,
// records, pending entries, conflicts, and the error taxonomy. These
// are plain data — no behavior that requires the engine's exclusive
// guard lives here.
package model

import (
	"encoding/json"

	"github.com/vsevex/carry/internal/clock"
)

// OpKind tags the variant a wire-level Operation carries.
type OpKind string

// The three mutation kinds the engine understands.
const (
	OpCreate OpKind = "create"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Payload is a JSON object value: the native map encoding/json
// produces for `{...}`. The engine treats it as opaque except for
// schema validation.
type Payload = map[string]any

// Operation is a tagged Create/Update/Delete mutation, serialized
// using stable wire field names so the host boundary never changes
// shape between versions.
type Operation struct {
	Type        OpKind     `json:"type"`
	OpID        string     `json:"opId"`
	RecordID    string     `json:"id"`
	Collection  string     `json:"collection"`
	Payload     Payload    `json:"payload,omitempty"`
	BaseVersion uint64     `json:"baseVersion,omitempty"`
	Timestamp   int64      `json:"timestamp"`
	Clock       clock.Time `json:"clock"`
}

// Key identifies the record an Operation targets.
func (op Operation) Key() RecordKey {
	return RecordKey{Collection: op.Collection, RecordID: op.RecordID}
}

// Validate performs the structural checks required before a remote op
// is even considered: opId, id and collection must be non-empty and
// Type must be one of the three known variants. Payload contents are
// left to schema validation.
func (op Operation) Validate() error {
	if op.OpID == "" || op.RecordID == "" || op.Collection == "" {
		return ErrMalformed(nil)
	}
	switch op.Type {
	case OpCreate, OpUpdate, OpDelete:
	default:
		return ErrMalformed(nil)
	}
	return nil
}

// RecordKey identifies a record by its (collection, record_id) pair.
type RecordKey struct {
	Collection string
	RecordID   string
}

// rawOperation exists only to give UnmarshalJSON a concrete struct to
// decode into before re-validating the variant tag; Operation's own
// json tags are reused verbatim so no field-name duplication occurs.
type rawOperation Operation

// MarshalJSON emits the wire shape for the operation's variant: a
// Create/Update omits baseVersion when it is meaningless (Create has
// none), and Delete omits payload.
func (op Operation) MarshalJSON() ([]byte, error) {
	raw := rawOperation(op)
	if op.Type == OpCreate {
		raw.BaseVersion = 0
	}
	if op.Type == OpDelete {
		raw.Payload = nil
	}
	return json.Marshal(raw)
}

// UnmarshalJSON decodes an Operation and validates that Type is one of
// the three known variants, returning ErrMalformed otherwise.
func (op *Operation) UnmarshalJSON(data []byte) error {
	var raw rawOperation
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrMalformed(err)
	}
	*op = Operation(raw)
	return op.Validate()
}
