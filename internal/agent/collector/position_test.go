package collector

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionStoreSetGetRoundTrip(t *testing.T) {
	store := newStoreForTest(t)
	store.Set("syslog", "/var/log/auth.log", 100, 42)

	pos, inode, ok := store.Get("syslog", "/var/log/auth.log")
	require.True(t, ok)
	assert.Equal(t, int64(100), pos)
	assert.Equal(t, uint64(42), inode)
}

func TestPositionStoreMissingKeyIsNotOk(t *testing.T) {
	store := newStoreForTest(t)
	_, _, ok := store.Get("syslog", "/nonexistent")
	assert.False(t, ok)
}

func TestPositionStorePersistsAcrossReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "positions.json")
	store, err := NewPositionStore(path)
	require.NoError(t, err)
	store.Set("auditd", "/var/log/audit/audit.log", 256, 7)
	require.NoError(t, store.Flush())

	reloaded, err := NewPositionStore(path)
	require.NoError(t, err)
	pos, inode, ok := reloaded.Get("auditd", "/var/log/audit/audit.log")
	require.True(t, ok)
	assert.Equal(t, int64(256), pos)
	assert.Equal(t, uint64(7), inode)
}
