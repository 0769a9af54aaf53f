package reconcile_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	carryclock "github.com/vsevex/carry/internal/clock"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/pendinglog"
	"github.com/vsevex/carry/internal/reconcile"
	"github.com/vsevex/carry/internal/schema"
	"github.com/vsevex/carry/internal/store"
)

type harness struct {
	clock *carryclock.Clock
	store *store.Store
	log   *pendinglog.Log
	rec   *reconcile.Reconciler
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	def := schema.Definition{
		Version: 1,
		Collections: map[string]schema.CollectionSchema{
			"todos": {Name: "todos", Fields: []schema.Field{
				{Name: "title", Type: schema.TypeString, Required: true},
			}},
		},
	}
	sch, err := schema.Compile(def)
	require.NoError(t, err)

	s := store.New(sch)
	c := carryclock.New("local")
	l := pendinglog.New()
	return &harness{clock: c, store: s, log: l, rec: reconcile.New(c, s, l)}
}

func (h *harness) applyLocal(t *testing.T, op model.Operation, decision store.Decision) {
	t.Helper()
	h.store.Apply(op, decision, model.OriginLocal)
	h.log.Append(op, op.Timestamp)
}

func TestReconcileFreshCreateApplies(t *testing.T) {
	h := newHarness(t)

	remote := model.Operation{
		Type: model.OpCreate, OpID: "r1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "hi"}, Timestamp: 100,
		Clock: carryclock.Time{NodeID: "peer", Counter: 1},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.ClockWins)

	require.Equal(t, []string{"r1"}, result.AppliedRemote)
	require.Empty(t, result.RejectedRemote)
	require.Empty(t, result.Conflicts)

	rec, ok := h.store.Get("todos", "x")
	require.True(t, ok)
	require.Equal(t, "hi", rec.Payload["title"])
}

func TestReconcileClockWinsEvictsLosingLocalPending(t *testing.T) {
	h := newHarness(t)

	local := model.Operation{
		Type: model.OpCreate, OpID: "local-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "local"}, Timestamp: 100,
		Clock: carryclock.Time{NodeID: "local", Counter: 1},
	}
	h.applyLocal(t, local, store.DecisionCreate)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "remote"}, BaseVersion: 1, Timestamp: 50,
		Clock: carryclock.Time{NodeID: "peer", Counter: 5},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.ClockWins)

	require.Equal(t, []string{"remote-1"}, result.AppliedRemote)
	require.Equal(t, []string{"local-1"}, result.RejectedLocal)
	require.Empty(t, result.AcceptedLocal)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, model.ResolutionRemoteWins, result.Conflicts[0].Resolution)
	require.False(t, h.log.Has("local-1"))

	rec, _ := h.store.Get("todos", "x")
	require.Equal(t, "remote", rec.Payload["title"])
}

func TestReconcileStaleRemoteRejected(t *testing.T) {
	h := newHarness(t)

	local := model.Operation{
		Type: model.OpCreate, OpID: "local-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "local"}, Timestamp: 100,
		Clock: carryclock.Time{NodeID: "local", Counter: 10},
	}
	h.applyLocal(t, local, store.DecisionCreate)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "remote"}, BaseVersion: 1, Timestamp: 50,
		Clock: carryclock.Time{NodeID: "peer", Counter: 1},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.ClockWins)

	require.Empty(t, result.AppliedRemote)
	require.Equal(t, []model.RejectedOp{{OpID: "remote-1", Reason: model.ReasonStale}}, result.RejectedRemote)
	require.Equal(t, []string{"local-1"}, result.AcceptedLocal)
	require.Len(t, result.Conflicts, 1)
	require.Equal(t, model.ResolutionLocalWins, result.Conflicts[0].Resolution)
	require.True(t, h.log.Has("local-1"))
}

func TestReconcileDuplicateIsNoConflict(t *testing.T) {
	h := newHarness(t)

	local := model.Operation{
		Type: model.OpCreate, OpID: "local-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "local"}, Timestamp: 100,
		Clock: carryclock.Time{NodeID: "local", Counter: 10},
	}
	h.applyLocal(t, local, store.DecisionCreate)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "remote"}, BaseVersion: 1, Timestamp: 100,
		Clock: carryclock.Time{NodeID: "local", Counter: 10},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.ClockWins)

	require.Equal(t, []model.RejectedOp{{OpID: "remote-1", Reason: model.ReasonDuplicate}}, result.RejectedRemote)
	require.Empty(t, result.Conflicts)
}

func TestReconcileOrphanUpdateRejected(t *testing.T) {
	h := newHarness(t)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "ghost", Collection: "todos",
		Payload: model.Payload{"title": "x"}, BaseVersion: 1, Timestamp: 50,
		Clock: carryclock.Time{NodeID: "peer", Counter: 1},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.ClockWins)

	require.Equal(t, []model.RejectedOp{{OpID: "remote-1", Reason: model.ReasonOrphanOp}}, result.RejectedRemote)
	require.Empty(t, result.Conflicts)
}

func TestReconcileDeleteThenCreateResurrection(t *testing.T) {
	h := newHarness(t)

	local := model.Operation{
		Type: model.OpCreate, OpID: "c1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "v1"}, Timestamp: 10,
		Clock: carryclock.Time{NodeID: "local", Counter: 1},
	}
	h.applyLocal(t, local, store.DecisionCreate)
	h.log.Remove([]string{"c1"})

	del := model.Operation{
		Type: model.OpDelete, OpID: "d1", RecordID: "x", Collection: "todos",
		BaseVersion: 1, Timestamp: 20, Clock: carryclock.Time{NodeID: "local", Counter: 2},
	}
	h.store.Apply(del, store.DecisionMutate, model.OriginLocal)

	remoteCreate := model.Operation{
		Type: model.OpCreate, OpID: "r1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "resurrected"}, Timestamp: 30,
		Clock: carryclock.Time{NodeID: "peer", Counter: 3},
	}
	result := h.rec.Reconcile([]model.Operation{remoteCreate}, reconcile.ClockWins)

	require.Equal(t, []string{"r1"}, result.AppliedRemote)
	rec, ok := h.store.Get("todos", "x")
	require.True(t, ok)
	require.False(t, rec.Deleted)
	require.Equal(t, "resurrected", rec.Payload["title"])
	require.Equal(t, uint64(3), rec.Version)
}

func TestReconcileTimestampWinsOverridesClock(t *testing.T) {
	h := newHarness(t)

	local := model.Operation{
		Type: model.OpCreate, OpID: "local-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "local"}, Timestamp: 10,
		Clock: carryclock.Time{NodeID: "local", Counter: 50},
	}
	h.applyLocal(t, local, store.DecisionCreate)

	remote := model.Operation{
		Type: model.OpUpdate, OpID: "remote-1", RecordID: "x", Collection: "todos",
		Payload: model.Payload{"title": "remote"}, BaseVersion: 1, Timestamp: 999999,
		Clock: carryclock.Time{NodeID: "peer", Counter: 1},
	}
	result := h.rec.Reconcile([]model.Operation{remote}, reconcile.TimestampWins)

	require.Equal(t, []string{"remote-1"}, result.AppliedRemote)
	require.Equal(t, []string{"local-1"}, result.RejectedLocal)
}

func TestReconcileMalformedRemoteRejectedNoClockObserve(t *testing.T) {
	h := newHarness(t)
	before := h.clock.Now()

	malformed := model.Operation{Type: model.OpCreate, RecordID: "x", Collection: "todos"}
	result := h.rec.Reconcile([]model.Operation{malformed}, reconcile.ClockWins)

	require.Equal(t, []model.RejectedOp{{OpID: "", Reason: model.ReasonMalformed}}, result.RejectedRemote)
	require.Equal(t, before, h.clock.Now())
}
