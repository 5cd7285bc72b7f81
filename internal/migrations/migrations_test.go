// Package migrations provides migration testing for offsync database migrations.
package migrations

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestMigratorSingleton tests that the migrator is created once and reused
func TestMigratorSingleton(t *testing.T) {
	m, err := getMigrator()
	require.NoError(t, err, "Should create migrator instance")
	require.NotNil(t, m, "Should create migrator instance")

	m2, err2 := getMigrator()
	require.NoError(t, err2, "Should create migrator instance again")
	assert.Equal(t, m, m2, "Should return same migrator instance (singleton)")
}

// TestMigrationContent tests the embedded SQL content
func TestMigrationContent(t *testing.T) {
	assert.NotEmpty(t, createStoresSQL, "Embedded SQL should not be empty")

	assert.Contains(t, createStoresSQL, "CREATE TABLE IF NOT EXISTS records", "Should create records table")
	assert.Contains(t, createStoresSQL, "CREATE TABLE IF NOT EXISTS pending_sync", "Should create pending_sync table")

	// Synchronization attributes must be part of the record schema
	assert.Contains(t, createStoresSQL, "synced boolean", "Records should carry the synced flag")
	assert.Contains(t, createStoresSQL, "last_modified timestamp", "Records should carry last_modified")

	// The drain order depends on the ts index
	assert.Contains(t, createStoresSQL, "idx_pending_sync_ts", "Should index pending_sync by ts")
}
