package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdb/pkg/condition"
	"docdb/pkg/document"
)

// memBackend is an in-memory Backend double used across store tests so
// they don't depend on the filesystem or a real Postgres instance.
type memBackend struct {
	mu       sync.Mutex
	data     map[string]map[string]document.Document // "database/collection" -> docs
	failSave bool
}

func newMemBackend() *memBackend {
	return &memBackend{data: make(map[string]map[string]document.Document)}
}

func key(database, collection string) string { return database + "/" + collection }

func (m *memBackend) Load(_ context.Context, database, collection string) (map[string]document.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.data[key(database, collection)]
	if !ok {
		return make(map[string]document.Document), nil
	}
	out := make(map[string]document.Document, len(existing))
	for k, v := range existing {
		out[k] = v.Clone()
	}
	return out, nil
}

func (m *memBackend) Save(_ context.Context, database, collection string, docs map[string]document.Document) error {
	if m.failSave {
		return assert.AnError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	snap := make(map[string]document.Document, len(docs))
	for k, v := range docs {
		snap[k] = v.Clone()
	}
	m.data[key(database, collection)] = snap
	return nil
}

func mustCondition(t *testing.T, raw string) *condition.Condition {
	t.Helper()
	c, err := condition.Parse([]byte(raw))
	require.NoError(t, err)
	return c
}

func TestInsertThenFind(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	id, err := col.Insert(ctx, []byte(`{"name":"alice","age":30}`))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	results := col.Find(mustCondition(t, `{"name":"alice"}`))
	require.Len(t, results, 1)
	assert.Equal(t, "alice", results[0]["name"])
	assert.Equal(t, id, results[0].ID())
}

func TestNumericGreaterThan(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	for _, age := range []string{"10", "20", "30"} {
		_, err := col.Insert(ctx, []byte(`{"age":`+age+`}`))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, col.Count(mustCondition(t, `{"age":{"$gt":"15"}}`)))
}

func TestLikeOperator(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	for _, name := range []string{"alice", "bob", "alicia"} {
		_, err := col.Insert(ctx, []byte(`{"name":"`+name+`"}`))
		require.NoError(t, err)
	}

	assert.Equal(t, 2, col.Count(mustCondition(t, `{"name":{"$like":"ali%"}}`)))
}

func TestPagination(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	for i := 0; i < 25; i++ {
		_, err := col.Insert(ctx, []byte(`{"n":1}`))
		require.NoError(t, err)
	}

	page, total := col.FindPage(mustCondition(t, `{}`), 2, 10)
	assert.Len(t, page, 10)
	assert.Equal(t, 25, total)
}

func TestOutOfRangePageReturnsEmpty(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []byte(`{"n":1}`))
	require.NoError(t, err)

	page, total := col.FindPage(mustCondition(t, `{}`), 5, 10)
	assert.Empty(t, page)
	assert.Equal(t, 1, total)
}

func TestDeleteThenFind(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []byte(`{"name":"alice"}`))
	require.NoError(t, err)

	removed, err := col.Remove(ctx, mustCondition(t, `{"name":"alice"}`))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.Empty(t, col.Find(mustCondition(t, `{"name":"alice"}`)))

	reloaded, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)
	assert.Empty(t, reloaded.Find(mustCondition(t, `{}`)))
}

func TestRemoveWithNoMatchesSkipsIO(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	backend.failSave = true
	removed, err := col.Remove(ctx, mustCondition(t, `{"name":"nobody"}`))
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestInsertRollsBackOnPersistenceError(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	backend.failSave = true
	_, err = col.Insert(ctx, []byte(`{"name":"alice"}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.Empty(t, col.Find(mustCondition(t, `{}`)))
}

func TestInsertManyIsAtomicOnFailure(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)

	backend.failSave = true
	_, err = col.InsertMany(ctx, [][]byte{[]byte(`{"a":1}`), []byte(`{"a":2}`)})
	require.Error(t, err)
	assert.Empty(t, col.Find(mustCondition(t, `{}`)))
}

func TestSeqSurvivesReload(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	col, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)
	_, err = col.Insert(ctx, []byte(`{"n":1}`))
	require.NoError(t, err)

	reloaded, err := LoadCollection(ctx, backend, "d", "c")
	require.NoError(t, err)
	id, err := reloaded.Insert(ctx, []byte(`{"n":2}`))
	require.NoError(t, err)
	assert.Contains(t, id, "doc_2_")
}
