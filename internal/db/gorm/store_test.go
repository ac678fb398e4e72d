package gorm

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

// testStore creates a Store on a temporary SQLite file with migrations run.
func testStore(t *testing.T) *Store {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	store, err := NewStore(Config{
		Path:     dbPath,
		MaxConns: 4,
		LogLevel: logger.Silent,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestNewStore(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.Ping())

	// Verify WAL mode is enabled
	var journalMode string
	require.NoError(t, store.DB.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	require.Equal(t, "wal", journalMode)

	// Verify core tables exist
	tables := []string{
		"workflow_sessions",
		"workflow_steps",
		"agent_handoffs",
		"telemetry_events",
		"quota_states",
	}
	for _, table := range tables {
		require.Truef(t, store.DB.Migrator().HasTable(table), "missing table %s", table)
	}
}

func TestNewStoreUnknownDriver(t *testing.T) {
	_, err := NewStore(Config{Driver: "oracle"})
	require.Error(t, err)
}
