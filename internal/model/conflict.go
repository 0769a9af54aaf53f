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

// Resolution names which side of a Conflict the reconciler kept.
type Resolution string

// The two possible conflict resolutions.
const (
	ResolutionLocalWins  Resolution = "localWins"
	ResolutionRemoteWins Resolution = "remoteWins"
)

// Conflict records a detected disagreement between two operations on
// the same record that the reconciler resolved deterministically. It
// is informational, not a failure.
type Conflict struct {
	LocalOp    string     `json:"localOp"`
	RemoteOp   string     `json:"remoteOp"`
	Resolution Resolution `json:"resolution"`
	WinnerOpID string     `json:"winnerOpId"`
	Collection string     `json:"-"`
	RecordID   string     `json:"-"`
}

// RejectReason explains why a remote operation was not applied.
type RejectReason string

// Reasons a remote op can land in rejectedRemote.
const (
	ReasonMalformed RejectReason = "Malformed"
	ReasonStale     RejectReason = "Stale"
	ReasonDuplicate RejectReason = "Duplicate"
	ReasonOrphanOp  RejectReason = "OrphanOp"
)

// RejectedOp pairs a rejected remote op_id with the reason it was
// rejected.
type RejectedOp struct {
	OpID   string       `json:"opId"`
	Reason RejectReason `json:"reason"`
}

// ReconcileResult is the outcome of merging a batch of remote
// operations into the store and pending log.
type ReconcileResult struct {
	AcceptedLocal  []string     `json:"acceptedLocal"`
	RejectedLocal  []string     `json:"rejectedLocal"`
	AppliedRemote  []string     `json:"appliedRemote"`
	RejectedRemote []RejectedOp `json:"rejectedRemote"`
	Conflicts      []Conflict   `json:"conflicts"`
}
