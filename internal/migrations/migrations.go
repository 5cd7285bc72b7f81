// Package migrations contains database migration definitions and functionality for offsync.
package migrations

import (
	"context"
	"fmt"
	"sync"

	migrator "github.com/cybertec-postgresql/pgx-migrator"
	"github.com/jackc/pgx/v5"
)

// createStoresSQL creates every collection store and the pending-operation log.
// Records are stored schema-less: everything beyond the identifier and the
// synchronization attributes lives inside the jsonb payload.
const createStoresSQL = `
	-- Keyed record store, one logical collection per entity
	CREATE TABLE IF NOT EXISTS records (
		collection text NOT NULL,
		id text NOT NULL,
		data jsonb NOT NULL,
		synced boolean NOT NULL DEFAULT false,
		last_modified timestamp with time zone NOT NULL DEFAULT now(),
		PRIMARY KEY (collection, id)
	);

	-- Pending-operation log for writes not yet confirmed by the remote API
	CREATE TABLE IF NOT EXISTS pending_sync (
		id text PRIMARY KEY,
		entity text NOT NULL,
		op text NOT NULL,
		data jsonb NOT NULL,
		ts timestamp with time zone NOT NULL DEFAULT now()
	);

	-- Performance indexes
	CREATE INDEX IF NOT EXISTS idx_records_collection ON records(collection);
	CREATE INDEX IF NOT EXISTS idx_records_unsynced ON records(collection) WHERE NOT synced;
	CREATE INDEX IF NOT EXISTS idx_pending_sync_ts ON pending_sync(ts);
`

// migrations holds function returning all upgrade migrations needed
var migrations func() migrator.Option = func() migrator.Option {
	return migrator.Migrations(
		&migrator.Migration{
			Name: "001_create_stores",
			Func: func(ctx context.Context, tx pgx.Tx) error {
				_, err := tx.Exec(ctx, createStoresSQL)
				return err
			},
		},
		// adding new migration here

		// &migrator.Migration{
		// 	Name: "Short description of a migration",
		// 	Func: func(ctx context.Context, tx pgx.Tx) error {
		// 		...
		// 	},
		// },
	)
}

var (
	migratorInstance *migrator.Migrator
	once             sync.Once
)

// getMigrator returns a singleton migrator instance
func getMigrator() (*migrator.Migrator, error) {
	var err error
	once.Do(func() {
		migratorInstance, err = migrator.New(
			migrations(),
			migrator.TableName("offsync_migrations"),
		)
	})
	return migratorInstance, err
}

// Apply applies all pending migrations to the database
func Apply(ctx context.Context, conn *pgx.Conn) error {
	m, err := getMigrator()
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Migrate(ctx, conn); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	return nil
}

// NeedsUpgrade checks if the database needs migration
func NeedsUpgrade(ctx context.Context, conn *pgx.Conn) (bool, error) {
	m, err := getMigrator()
	if err != nil {
		return false, fmt.Errorf("failed to create migrator: %w", err)
	}

	needUpgrade, err := m.NeedUpgrade(ctx, conn)
	if err != nil {
		return false, fmt.Errorf("failed to check migration status: %w", err)
	}

	return needUpgrade, nil
}
