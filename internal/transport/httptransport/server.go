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

// Package httptransport is a reference HTTP implementation of the
// pull/push transport contract, built on go-chi/chi/v5 the way
// axonops-schema-registry's api.Server wires its REST surface.
package httptransport

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/transport"
)

// Log is the feed a Server pulls from and pushes into: an append-only,
// sequence-ordered backlog of operations. internal/durablelog
// satisfies it against Postgres; tests can satisfy it in memory.
type Log interface {
	// Since returns every operation recorded after token (the empty
	// token means "from the beginning"), the token identifying the
	// last operation returned, and whether more remain beyond limit.
	Since(ctx context.Context, token string, limit int) (ops []model.Operation, next string, hasMore bool, err error)
	// Append records ops, returning per-op acceptance the way a
	// reconcile would: an op already recorded under the same op_id is
	// rejected as a duplicate rather than stored twice.
	Append(ctx context.Context, ops []model.Operation) (accepted []string, rejected []model.RejectedOp, err error)
}

// pageSize bounds how many operations a single pull returns; hosts
// page through HasMore rather than receiving an unbounded batch.
const pageSize = 500

// Server exposes a Log over HTTP as the pull/push contract's wire
// shape: GET /pull?since=<token>, POST /push.
type Server struct {
	log    Log
	router chi.Router
	logger *logrus.Logger
}

// NewServer builds a Server over log, ready to Router().ServeHTTP.
func NewServer(log Log, logger *logrus.Logger) *Server {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	s := &Server{log: log, logger: logger}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.loggingMiddleware)
	r.Get("/pull", s.handlePull)
	r.Post("/push", s.handlePush)
	s.router = r
	return s
}

// Router returns the HTTP handler, for http.ListenAndServe or testing
// against httptest.NewServer.
func (s *Server) Router() http.Handler { return s.router }

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Debug("transport request")
	})
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	sinceToken := r.URL.Query().Get("since")
	ops, next, hasMore, err := s.log.Since(r.Context(), sinceToken, pageSize)
	if err != nil {
		writeError(w, err)
		return
	}
	if ops == nil {
		ops = []model.Operation{}
	}
	writeJSON(w, http.StatusOK, transport.PullResult{
		Operations: ops,
		SyncToken:  next,
		HasMore:    hasMore,
	})
}

type pushRequest struct {
	Operations []model.Operation `json:"operations"`
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, model.ErrMalformed(err))
		return
	}
	accepted, rejected, err := s.log.Append(r.Context(), req.Operations)
	if err != nil {
		writeError(w, err)
		return
	}
	if accepted == nil {
		accepted = []string{}
	}
	if rejected == nil {
		rejected = []model.RejectedOp{}
	}
	writeJSON(w, http.StatusOK, transport.PushResult{Accepted: accepted, Rejected: rejected})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if _, ok := model.As(err, model.KindMalformed); ok {
		status = http.StatusBadRequest
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
