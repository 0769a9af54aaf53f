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

package model

import "github.com/vsevex/carry/internal/clock"

// Origin distinguishes a record's most recent write as locally issued
// or received from reconciliation.
type Origin string

// The two possible origins of a record's most recent mutation.
const (
	OriginLocal  Origin = "local"
	OriginRemote Origin = "remote"
)

// Metadata carries the bookkeeping fields that ride along with a
// Record's payload.
type Metadata struct {
	CreatedAt int64      `json:"createdAt"`
	UpdatedAt int64      `json:"updatedAt"`
	Origin    Origin     `json:"origin"`
	Clock     clock.Time `json:"clock"`
}

// Record is the materialized state of a (collection, record_id) pair,
// including tombstones.
type Record struct {
	ID         string   `json:"id"`
	Collection string   `json:"collection"`
	Version    uint64   `json:"version"`
	Payload    Payload  `json:"payload"`
	Metadata   Metadata `json:"metadata"`
	Deleted    bool     `json:"deleted"`
}

// Key returns the record's identity.
func (r Record) Key() RecordKey {
	return RecordKey{Collection: r.Collection, RecordID: r.ID}
}

// Clone returns a deep copy of r so that callers returned a Record by
// value cannot mutate the store's payload map out from under it.
func (r Record) Clone() Record {
	var copyValue func(v any) any
	copyValue = func(v any) any {
		switch t := v.(type) {
		case map[string]any:
			m := make(map[string]any, len(t))
			for k, e := range t {
				m[k] = copyValue(e)
			}
			return m
		case []any:
			s := make([]any, len(t))
			for i, e := range t {
				s[i] = copyValue(e)
			}
			return s
		default:
			return v
		}
	}

	out := r
	if r.Payload != nil {
		out.Payload = copyValue(r.Payload).(Payload)
	}
	return out
}
