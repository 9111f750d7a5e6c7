package dbserver

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdb/internal/store"
	"docdb/pkg/wire"
)

func newDispatcherForTest(t *testing.T) *Dispatcher {
	t.Helper()
	backend := store.NewFileBackend(t.TempDir())
	registry := store.NewRegistry(backend)
	locks := NewLocalLockManager()
	return NewDispatcher(registry, locks, nil, zerolog.Nop())
}

func TestDispatchInsertThenFind(t *testing.T) {
	d := newDispatcherForTest(t)
	ctx := context.Background()

	insertReq := &wire.Request{
		Database:   "app",
		Operation:  wire.OpInsert,
		Collection: "users",
		Data:       []json.RawMessage{[]byte(`{"name":"Ada"}`)},
	}
	resp := d.Dispatch(ctx, insertReq)
	require.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Count)

	findReq := &wire.Request{
		Database:   "app",
		Operation:  wire.OpFind,
		Collection: "users",
		Query:      []byte(`{"name":"Ada"}`),
	}
	resp = d.Dispatch(ctx, findReq)
	require.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Count)
	assert.Equal(t, 1, resp.TotalCount)
}

func TestDispatchMissingCollectionIsError(t *testing.T) {
	d := newDispatcherForTest(t)
	resp := d.Dispatch(context.Background(), &wire.Request{
		Database:  "app",
		Operation: wire.OpFind,
	})
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestDispatchUnknownOperationIsError(t *testing.T) {
	d := newDispatcherForTest(t)
	resp := d.Dispatch(context.Background(), &wire.Request{
		Database:   "app",
		Collection: "users",
		Operation:  wire.Operation("bogus"),
	})
	assert.Equal(t, wire.StatusError, resp.Status)
}

func TestDispatchDeleteRemovesMatching(t *testing.T) {
	d := newDispatcherForTest(t)
	ctx := context.Background()

	d.Dispatch(ctx, &wire.Request{
		Database: "app", Operation: wire.OpInsert, Collection: "users",
		Data: []json.RawMessage{[]byte(`{"name":"Ada"}`), []byte(`{"name":"Bob"}`)},
	})

	resp := d.Dispatch(ctx, &wire.Request{
		Database: "app", Operation: wire.OpDelete, Collection: "users",
		Query: []byte(`{"name":"Ada"}`),
	})
	require.Equal(t, wire.StatusSuccess, resp.Status)
	assert.Equal(t, 1, resp.Count)

	resp = d.Dispatch(ctx, &wire.Request{
		Database: "app", Operation: wire.OpFind, Collection: "users",
	})
	assert.Equal(t, 1, resp.TotalCount)
}
