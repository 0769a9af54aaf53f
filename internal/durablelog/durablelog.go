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

// Package durablelog is the server replica's durable operation log: an
// opaque, persistent backlog ordered by a monotonically advancing
// sequence, stored as a Postgres/CockroachDB table the way
// internal/source/cdc/resolver.go marks resolved timestamps in its own
// metadata table. It satisfies httptransport.Log, but does not import
// that package, so it can also back a non-HTTP transport.
package durablelog

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"

	"github.com/vsevex/carry/internal/metrics"
	"github.com/vsevex/carry/internal/model"
)

// Log is a Postgres-backed append-only operation backlog. seq is a
// bigserial, so SyncTokens are the decimal string of the seq of the
// last operation a caller has seen — opaque to the engine, meaningful
// only to this package.
type Log struct {
	pool      *pgxpool.Pool
	tableName string

	sql struct {
		insert string
		since  string
	}
}

const createTableTemplate = `
CREATE TABLE IF NOT EXISTS %[1]s (
  seq        BIGSERIAL PRIMARY KEY,
  op_id      TEXT NOT NULL UNIQUE,
  collection TEXT NOT NULL,
  record_id  TEXT NOT NULL,
  payload    JSONB NOT NULL
)`

const insertTemplate = `
INSERT INTO %[1]s (op_id, collection, record_id, payload)
VALUES ($1, $2, $3, $4)
ON CONFLICT (op_id) DO NOTHING
RETURNING seq`

const sinceTemplate = `
SELECT seq, payload FROM %[1]s
WHERE seq > $1
ORDER BY seq
LIMIT $2`

// New opens a Log backed by pool, creating tableName if it does not
// already exist.
func New(ctx context.Context, pool *pgxpool.Pool, tableName string) (*Log, error) {
	l := &Log{pool: pool, tableName: tableName}
	l.sql.insert = fmt.Sprintf(insertTemplate, tableName)
	l.sql.since = fmt.Sprintf(sinceTemplate, tableName)

	if _, err := pool.Exec(ctx, fmt.Sprintf(createTableTemplate, tableName)); err != nil {
		return nil, errors.Wrap(err, "creating durable log table")
	}
	return l, nil
}

// Append inserts ops in order, skipping any op_id already recorded
// (idempotent retry from an at-least-once transport).
func (l *Log) Append(ctx context.Context, ops []model.Operation) ([]string, []model.RejectedOp, error) {
	var accepted []string
	var rejected []model.RejectedOp

	for _, op := range ops {
		payload, err := json.Marshal(op)
		if err != nil {
			return accepted, rejected, errors.Wrap(err, "encoding operation")
		}

		var seq int64
		err = l.pool.QueryRow(ctx, l.sql.insert, op.OpID, op.Collection, op.RecordID, payload).Scan(&seq)
		switch {
		case err == nil:
			accepted = append(accepted, op.OpID)
			metrics.DurableLogAppends.WithLabelValues("accepted").Inc()
		case errors.Is(err, pgx.ErrNoRows):
			// ON CONFLICT DO NOTHING left no row to RETURN: a duplicate.
			rejected = append(rejected, model.RejectedOp{OpID: op.OpID, Reason: model.ReasonDuplicate})
			metrics.DurableLogAppends.WithLabelValues("duplicate").Inc()
		default:
			metrics.DurableLogAppends.WithLabelValues("error").Inc()
			return accepted, rejected, errors.Wrapf(err, "appending op %s", op.OpID)
		}
	}
	return accepted, rejected, nil
}

// Since returns every operation recorded after token in seq order, the
// token of the last operation returned, and whether more remain beyond
// limit.
func (l *Log) Since(ctx context.Context, token string, limit int) ([]model.Operation, string, bool, error) {
	after := int64(0)
	if token != "" {
		if _, err := fmt.Sscanf(token, "%d", &after); err != nil {
			return nil, token, false, errors.Wrap(model.ErrMalformed(err), "decoding sync token")
		}
	}

	rows, err := l.pool.Query(ctx, l.sql.since, after, limit+1)
	if err != nil {
		return nil, token, false, errors.Wrap(err, "querying durable log")
	}
	defer rows.Close()

	var ops []model.Operation
	var seqs []int64
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, token, false, errors.Wrap(err, "scanning durable log row")
		}
		var op model.Operation
		if err := json.Unmarshal(payload, &op); err != nil {
			return nil, token, false, errors.Wrap(err, "decoding stored operation")
		}
		ops = append(ops, op)
		seqs = append(seqs, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, token, false, errors.Wrap(err, "iterating durable log rows")
	}

	hasMore := len(ops) > limit
	if hasMore {
		ops = ops[:limit]
		seqs = seqs[:limit]
	}

	next := token
	if len(seqs) > 0 {
		next = fmt.Sprintf("%d", seqs[len(seqs)-1])
	}
	return ops, next, hasMore, nil
}
