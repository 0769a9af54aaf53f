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

package main

import (
	"context"
	"net/http"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/vsevex/carry/internal/config"
	"github.com/vsevex/carry/internal/durablelog"
	"github.com/vsevex/carry/internal/engine"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/reconcile"
	"github.com/vsevex/carry/internal/transport/httptransport"
)

// backlog is the persistence collaborator replicatedLog writes
// reconciled operations to and serves pulls from. internal/durablelog.Log
// satisfies this structurally; it is declared locally, narrowed to
// exactly what replicatedLog needs, so tests can substitute an
// in-memory fake instead of a Postgres instance.
type backlog interface {
	Append(ctx context.Context, ops []model.Operation) ([]string, []model.RejectedOp, error)
	Since(ctx context.Context, token string, limit int) ([]model.Operation, string, bool, error)
}

var _ backlog = (*durablelog.Log)(nil)

// replicatedLog is the server replica's view of itself as a
// httptransport.Log: pushed batches are reconciled into the same
// engine.Engine a client replica runs, and only the subset the
// reconciler actually applied is persisted to the durable log. Pulls
// are served straight from the durable log, which is the backlog
// every client resumes from.
type replicatedLog struct {
	eng      *engine.Engine
	log      backlog
	strategy reconcile.Strategy
}

func newReplicatedLog(eng *engine.Engine, log backlog, strategy reconcile.Strategy) *replicatedLog {
	return &replicatedLog{eng: eng, log: log, strategy: strategy}
}

// Append reconciles ops into the server's engine and durably records
// whatever the reconciler applied. It satisfies httptransport.Log.
func (r *replicatedLog) Append(ctx context.Context, ops []model.Operation) ([]string, []model.RejectedOp, error) {
	result := r.eng.Reconcile(ops, r.strategy)

	applied := make(map[string]bool, len(result.AppliedRemote))
	for _, opID := range result.AppliedRemote {
		applied[opID] = true
	}
	toPersist := make([]model.Operation, 0, len(applied))
	for _, op := range ops {
		if applied[op.OpID] {
			toPersist = append(toPersist, op)
		}
	}

	accepted, dupRejected, err := r.log.Append(ctx, toPersist)
	if err != nil {
		return nil, nil, errors.Wrap(err, "persisting reconciled operations")
	}

	rejected := append([]model.RejectedOp{}, result.RejectedRemote...)
	rejected = append(rejected, dupRejected...)
	return accepted, rejected, nil
}

// Since delegates straight to the durable log; the engine has no
// opinion about replay order, only about what it already applied.
func (r *replicatedLog) Since(ctx context.Context, token string, limit int) ([]model.Operation, string, bool, error) {
	return r.log.Since(ctx, token, limit)
}

// Server is cmd/carryd's whole process: the sync transport listener
// and the Prometheus metrics listener, run together and shut down
// together, the way MaxIOFS's server.Server bundles its API and
// console listeners behind one Start(ctx).
type Server struct {
	cfg       *config.Config
	logger    *logrus.Logger
	transport *http.Server
	metrics   *http.Server
}

func newServer(cfg *config.Config, logger *logrus.Logger, log *replicatedLog) *Server {
	mux := httptransport.NewServer(log, logger)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	return &Server{
		cfg:       cfg,
		logger:    logger,
		transport: &http.Server{Addr: cfg.BindAddr, Handler: mux.Router()},
		metrics:   &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux},
	}
}

// Start runs both listeners until ctx is cancelled, then shuts both
// down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		s.logger.WithField("addr", s.cfg.BindAddr).Info("sync transport listening")
		if err := s.transport.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- errors.Wrap(err, "sync transport")
		}
	}()
	go func() {
		defer wg.Done()
		s.logger.WithField("addr", s.cfg.MetricsAddr).Info("metrics listening")
		if err := s.metrics.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errs <- errors.Wrap(err, "metrics transport")
		}
	}()

	go func() {
		<-ctx.Done()
		s.logger.Info("shutting down")
		_ = s.transport.Shutdown(context.Background())
		_ = s.metrics.Shutdown(context.Background())
	}()

	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
