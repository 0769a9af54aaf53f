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

// Package transport declares the pull/push contract a replica uses to
// move operations to and from a peer. The engine never imports this
// package; a host wires a Puller/Pusher on its own, the way a
// transport is a collaborator rather than a core dependency.
package transport

import (
	"context"

	"github.com/vsevex/carry/internal/model"
)

// PullResult is the decoded shape of a pull call: a batch of remote
// operations, the opaque token to resume from next time, and whether
// more operations remain beyond this batch.
type PullResult struct {
	Operations []model.Operation `json:"operations"`
	SyncToken  string            `json:"syncToken,omitempty"`
	HasMore    bool              `json:"hasMore"`
}

// PushResult is the decoded shape of a push call: which operations the
// peer accepted, and which it rejected and why.
type PushResult struct {
	Accepted []string           `json:"accepted"`
	Rejected []model.RejectedOp `json:"rejected"`
}

// Puller fetches operations a host has not yet seen. sinceToken is
// whatever SyncToken a prior PullResult returned; an empty token pulls
// from the beginning. The engine never interprets sinceToken's
// contents — hosts persist it opaquely, per the transport contract.
type Puller interface {
	Pull(ctx context.Context, sinceToken string) (PullResult, error)
}

// Pusher sends locally-applied operations to a peer for durable
// storage and fan-out.
type Pusher interface {
	Push(ctx context.Context, ops []model.Operation) (PushResult, error)
}

// Transport is the full collaborator surface a sync loop needs.
type Transport interface {
	Puller
	Pusher
}
