package buffer

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docdb/internal/agent/event"
)

func newBufferForTest(t *testing.T, maxMemory int) *Buffer {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	b, err := New(path, maxMemory)
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() })
	return b
}

func sampleEvent(n int) event.SecurityEvent {
	return event.SecurityEvent{Source: "syslog", RawLog: "line", User: "u", Command: "c", Timestamp: "2024-01-01T00:00:00Z"}
}

func TestAddEventStaysInMemoryUnderCapacity(t *testing.T) {
	b := newBufferForTest(t, 10)
	for i := 0; i < 3; i++ {
		require.NoError(t, b.AddEvent(sampleEvent(i)))
	}
	assert.Equal(t, 3, b.Size())
}

func TestAddEventSpillsWhenMemoryFull(t *testing.T) {
	b := newBufferForTest(t, 2)
	require.NoError(t, b.AddEvent(sampleEvent(0)))
	require.NoError(t, b.AddEvent(sampleEvent(1)))
	require.NoError(t, b.AddEvent(sampleEvent(2))) // triggers spill of first two

	assert.Equal(t, 3, b.Size())
	assert.Len(t, b.memory, 1)
	assert.Equal(t, 2, b.diskLines)
}

func TestGetBatchTopsUpFromDisk(t *testing.T) {
	b := newBufferForTest(t, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.AddEvent(sampleEvent(i)))
	}
	batch, err := b.GetBatch(3)
	require.NoError(t, err)
	assert.Len(t, batch, 3)
}

func TestDrainRemovesOldestAcrossMemoryAndDisk(t *testing.T) {
	b := newBufferForTest(t, 1)
	for i := 0; i < 5; i++ {
		require.NoError(t, b.AddEvent(sampleEvent(i)))
	}
	require.NoError(t, b.Drain(3))
	assert.Equal(t, 2, b.Size())
}

func TestClearWipesMemoryAndSpillFile(t *testing.T) {
	b := newBufferForTest(t, 1)
	for i := 0; i < 4; i++ {
		require.NoError(t, b.AddEvent(sampleEvent(i)))
	}
	require.NoError(t, b.Clear())
	assert.Equal(t, 0, b.Size())
}

func TestBufferSurvivesCloseAndReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spill.jsonl")
	b, err := New(path, 1)
	require.NoError(t, err)
	require.NoError(t, b.AddEvent(sampleEvent(0)))
	require.NoError(t, b.AddEvent(sampleEvent(1)))
	require.NoError(t, b.Close())

	reopened, err := New(path, 1)
	require.NoError(t, err)
	defer reopened.Close()
	assert.Equal(t, 2, reopened.Size())
}
