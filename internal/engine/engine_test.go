package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vsevex/carry/internal/clock"
	"github.com/vsevex/carry/internal/engine"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/reconcile"
	"github.com/vsevex/carry/internal/schema"
)

func testDef() schema.Definition {
	return schema.Definition{
		Version: 1,
		Collections: map[string]schema.CollectionSchema{
			"todos": {Name: "todos", Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString, Required: true},
			}},
		},
	}
}

func TestNewRejectsEmptyNodeID(t *testing.T) {
	_, err := engine.New(testDef(), "")
	require.Error(t, err)
}

func TestApplyCreateThenGet(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	c := e.Tick()
	op := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "buy milk"}, Timestamp: 1000, Clock: c,
	}
	res, err := e.Apply(op, 1000)
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Version)

	rec, ok := e.Get("todos", "r1")
	require.True(t, ok)
	require.Equal(t, "buy milk", rec.Payload["title"])
	require.Equal(t, 1, e.PendingCount())
}

func TestApplyCreateOnLiveRejected(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	op := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1, Clock: e.Tick(),
	}
	_, err = e.Apply(op, 1)
	require.NoError(t, err)

	dup := model.Operation{
		Type: model.OpCreate, OpID: "op2", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "y"}, Timestamp: 2, Clock: e.Tick(),
	}
	_, err = e.Apply(dup, 2)
	require.Error(t, err)
	_, ok := model.As(err, model.KindAlreadyExists)
	require.True(t, ok)
}

func TestApplyUpdateVersionMismatch(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	create := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1, Clock: e.Tick(),
	}
	_, err = e.Apply(create, 1)
	require.NoError(t, err)

	update := model.Operation{
		Type: model.OpUpdate, OpID: "op2", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "y"}, BaseVersion: 99, Timestamp: 2, Clock: e.Tick(),
	}
	_, err = e.Apply(update, 2)
	require.Error(t, err)
	_, ok := model.As(err, model.KindVersionMismatch)
	require.True(t, ok)
}

func TestAcknowledgeClearsPending(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	op := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1, Clock: e.Tick(),
	}
	_, err = e.Apply(op, 1)
	require.NoError(t, err)
	require.Equal(t, 1, e.PendingCount())

	e.Acknowledge([]string{"op1"})
	require.Equal(t, 0, e.PendingCount())
}

func TestReconcileThroughEngine(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	local := model.Operation{
		Type: model.OpCreate, OpID: "local-1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "local"}, Timestamp: 10, Clock: e.Tick(),
	}
	_, err = e.Apply(local, 10)
	require.NoError(t, err)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "remote"}, BaseVersion: 1, Timestamp: 5,
		Clock: clock.Time{NodeID: "peer", Counter: 9999},
	}

	result := e.Reconcile([]model.Operation{remote}, reconcile.ClockWins)
	require.Equal(t, []string{"remote-1"}, result.AppliedRemote)
	require.Equal(t, []string{"local-1"}, result.RejectedLocal)

	rec, ok := e.Get("todos", "r1")
	require.True(t, ok)
	require.Equal(t, "remote", rec.Payload["title"])
}

func TestExportImportRoundTripThroughEngine(t *testing.T) {
	e, err := engine.New(testDef(), "node-a")
	require.NoError(t, err)

	op := model.Operation{
		Type: model.OpCreate, OpID: "op1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1, Clock: e.Tick(),
	}
	_, err = e.Apply(op, 1)
	require.NoError(t, err)

	snap := e.Export()
	require.Equal(t, e.SnapshotFormatVersion(), snap.FormatVersion)

	e2, err := engine.New(schema.Definition{Version: 1, Collections: map[string]schema.CollectionSchema{}}, "node-b")
	require.NoError(t, err)
	require.NoError(t, e2.Import(snap))

	rec, ok := e2.Get("todos", "r1")
	require.True(t, ok)
	require.Equal(t, "x", rec.Payload["title"])
	require.Equal(t, e.Metadata().NodeID, e2.Metadata().NodeID)
}
