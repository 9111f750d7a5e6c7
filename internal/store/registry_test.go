package store

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryLazilyCreatesAndMemoizes(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemBackend())

	c1, err := reg.GetCollection(ctx, "d", "c")
	require.NoError(t, err)
	_, err = c1.Insert(ctx, []byte(`{"a":1}`))
	require.NoError(t, err)

	c2, err := reg.GetCollection(ctx, "d", "c")
	require.NoError(t, err)
	assert.Same(t, c1, c2)
	assert.Len(t, c2.Find(mustCondition(t, `{}`)), 1)
}

func TestRegistryConcurrentGetCollectionIsSafe(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemBackend())

	var wg sync.WaitGroup
	results := make([]*Collection, 32)
	for i := 0; i < 32; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := reg.GetCollection(ctx, "d", "c")
			require.NoError(t, err)
			results[i] = c
		}()
	}
	wg.Wait()

	for _, c := range results {
		assert.Same(t, results[0], c)
	}
}

func TestRegistryDatabaseNames(t *testing.T) {
	ctx := context.Background()
	reg := NewRegistry(newMemBackend())
	_, err := reg.GetCollection(ctx, "d1", "c")
	require.NoError(t, err)
	_, err = reg.GetCollection(ctx, "d2", "c")
	require.NoError(t, err)

	names := reg.DatabaseNames()
	assert.ElementsMatch(t, []string{"d1", "d2"}, names)
}
