package store_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vsevex/carry/internal/clock"
	"github.com/vsevex/carry/internal/model"
	"github.com/vsevex/carry/internal/schema"
	"github.com/vsevex/carry/internal/store"
)

func newStore(t *testing.T) *store.Store {
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
	return store.New(sch)
}

func TestCreateThenUpdate(t *testing.T) {
	s := newStore(t)

	create := model.Operation{
		Type: model.OpCreate, OpID: "a1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1000,
		Clock: clock.Time{NodeID: "A", Counter: 1},
	}
	res := s.Apply(create, store.DecisionCreate, model.OriginLocal)
	require.Equal(t, uint64(1), res.Version)

	update := model.Operation{
		Type: model.OpUpdate, OpID: "a2", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "y"}, BaseVersion: 1, Timestamp: 2000,
		Clock: clock.Time{NodeID: "A", Counter: 2},
	}
	res = s.Apply(update, store.DecisionMutate, model.OriginLocal)
	require.Equal(t, uint64(2), res.Version)

	rec, ok := s.Get("todos", "r1")
	require.True(t, ok)
	require.Equal(t, model.Payload{"title": "y"}, rec.Payload)
	require.Equal(t, int64(1000), rec.Metadata.CreatedAt)
	require.Equal(t, int64(2000), rec.Metadata.UpdatedAt)
}

func TestDeleteKeepsPayload(t *testing.T) {
	s := newStore(t)
	s.Apply(model.Operation{
		Type: model.OpCreate, OpID: "a1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1000,
	}, store.DecisionCreate, model.OriginLocal)

	s.Apply(model.Operation{
		Type: model.OpDelete, OpID: "a2", RecordID: "r1", Collection: "todos",
		BaseVersion: 1, Timestamp: 2000,
	}, store.DecisionMutate, model.OriginLocal)

	rec, ok := s.Get("todos", "r1")
	require.True(t, ok)
	require.True(t, rec.Deleted)
	require.Equal(t, model.Payload{"title": "x"}, rec.Payload)
	require.Equal(t, uint64(2), rec.Version)
}

func TestQueryOrderingAndTombstones(t *testing.T) {
	s := newStore(t)
	for _, id := range []string{"b", "a", "c"} {
		s.Apply(model.Operation{
			Type: model.OpCreate, OpID: "op-" + id, RecordID: id, Collection: "todos",
			Payload: model.Payload{"title": id}, Timestamp: 1,
		}, store.DecisionCreate, model.OriginLocal)
	}
	s.Apply(model.Operation{
		Type: model.OpDelete, OpID: "del-b", RecordID: "b", Collection: "todos",
		BaseVersion: 1, Timestamp: 2,
	}, store.DecisionMutate, model.OriginLocal)

	live := s.Query("todos", false)
	require.Len(t, live, 2)
	require.Equal(t, "a", live[0].ID)
	require.Equal(t, "c", live[1].ID)

	all := s.Query("todos", true)
	require.Len(t, all, 3)
	require.Equal(t, []string{"a", "b", "c"}, []string{all[0].ID, all[1].ID, all[2].ID})
}

func TestGetClonesPayload(t *testing.T) {
	s := newStore(t)
	s.Apply(model.Operation{
		Type: model.OpCreate, OpID: "a1", RecordID: "r1", Collection: "todos",
		Payload: model.Payload{"title": "x"}, Timestamp: 1,
	}, store.DecisionCreate, model.OriginLocal)

	rec, _ := s.Get("todos", "r1")
	rec.Payload["title"] = "mutated"

	rec2, _ := s.Get("todos", "r1")
	require.Equal(t, "x", rec2.Payload["title"])
}
