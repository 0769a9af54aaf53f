package durablelog_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/vsevex/carry/internal/durablelog"
	"github.com/vsevex/carry/internal/model"
)

// These tests talk to a real Postgres/CockroachDB instance, the way
// sinktest/all.Fixture does against a live cluster rather than a mock
// driver. Set TEST_DURABLELOG_DSN to run them.
func testPool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	dsn := os.Getenv("TEST_DURABLELOG_DSN")
	if dsn == "" {
		t.Skip("TEST_DURABLELOG_DSN not set; skipping durable log integration test")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestAppendIsIdempotentAndSinceLists(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	log, err := durablelog.New(ctx, pool, "carry_test_ops_idempotent")
	require.NoError(t, err)

	op := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "hi"}, Timestamp: 1,
	}

	accepted, rejected, err := log.Append(ctx, []model.Operation{op})
	require.NoError(t, err)
	require.Equal(t, []string{"op1"}, accepted)
	require.Empty(t, rejected)

	accepted, rejected, err = log.Append(ctx, []model.Operation{op})
	require.NoError(t, err)
	require.Empty(t, accepted)
	require.Equal(t, []model.RejectedOp{{OpID: "op1", Reason: model.ReasonDuplicate}}, rejected)

	ops, next, hasMore, err := log.Since(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, "op1", ops[0].OpID)
	require.False(t, hasMore)
	require.NotEmpty(t, next)
}

func TestSincePagesWhenBatchExceedsLimit(t *testing.T) {
	pool := testPool(t)
	ctx := context.Background()

	log, err := durablelog.New(ctx, pool, "carry_test_ops_paging")
	require.NoError(t, err)

	ops := make([]model.Operation, 0, 5)
	for i := 0; i < 5; i++ {
		ops = append(ops, model.Operation{
			Type: model.OpCreate, OpID: "op" + string(rune('a'+i)), RecordID: "r1",
			Collection: "todos", Payload: model.Payload{"title": "x"}, Timestamp: 1,
		})
	}
	_, _, err = log.Append(ctx, ops)
	require.NoError(t, err)

	page, next, hasMore, err := log.Since(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, page, 2)
	require.True(t, hasMore)

	rest, _, hasMore, err := log.Since(ctx, next, 10)
	require.NoError(t, err)
	require.Len(t, rest, 3)
	require.False(t, hasMore)
}
