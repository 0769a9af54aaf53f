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

// Package metrics declares the server's Prometheus instrumentation,
// the way internal/staging/stage/metrics.go declares counters and
// histograms via promauto rather than hand-rolled registration.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// LatencyBuckets are the histogram boundaries (seconds) shared by
// every duration metric below, mirroring stage's single shared bucket
// slice rather than ad hoc buckets per metric.
var LatencyBuckets = []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10}

var (
	// ApplyDurations tracks how long a local Apply call took, by
	// collection.
	ApplyDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carry_apply_duration_seconds",
		Help:    "the length of time a local apply call took",
		Buckets: LatencyBuckets,
	}, []string{"collection"})

	// ApplyErrors counts rejected local Apply calls, by collection and
	// error kind.
	ApplyErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carry_apply_errors_total",
		Help: "the number of local apply calls rejected, by error kind",
	}, []string{"collection", "kind"})

	// ReconcileDurations tracks how long a reconcile batch took.
	ReconcileDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carry_reconcile_duration_seconds",
		Help:    "the length of time it took to reconcile a batch of remote operations",
		Buckets: LatencyBuckets,
	}, []string{"strategy"})

	// ReconcileConflicts counts conflicts the reconciler resolved, by
	// which side won.
	ReconcileConflicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carry_reconcile_conflicts_total",
		Help: "the number of conflicts the reconciler resolved, by resolution",
	}, []string{"resolution"})

	// TransportPullDurations tracks how long a pull round trip against
	// a peer took.
	TransportPullDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carry_transport_pull_duration_seconds",
		Help:    "the length of time a pull round trip took",
		Buckets: LatencyBuckets,
	}, []string{"outcome"})

	// TransportPushDurations tracks how long a push round trip against
	// a peer took.
	TransportPushDurations = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "carry_transport_push_duration_seconds",
		Help:    "the length of time a push round trip took",
		Buckets: LatencyBuckets,
	}, []string{"outcome"})

	// DurableLogAppends counts operations appended to the durable log,
	// by acceptance.
	DurableLogAppends = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "carry_durablelog_appends_total",
		Help: "the number of operations appended to the durable log, by outcome",
	}, []string{"outcome"})
)
