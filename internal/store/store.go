package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"
)

// Collection names one keyed record collection in the local store.
type Collection string

const (
	Products  Collection = "products"
	Retailers Collection = "retailers"
	Sales     Collection = "sales"
	Purchases Collection = "purchases"
)

// Collections lists every domain collection the store manages.
var Collections = []Collection{Products, Retailers, Sales, Purchases}

// Valid reports whether c is a known domain collection.
func (c Collection) Valid() bool {
	for _, known := range Collections {
		if c == known {
			return true
		}
	}
	return false
}

// Record is one locally cached entity record. The payload is opaque JSON;
// only the identifier and the synchronization attributes are structured.
// Synced=false marks records that originated locally and have not been
// confirmed by the remote API yet.
type Record struct {
	ID           string
	Data         json.RawMessage
	Synced       bool
	LastModified time.Time
}

// Save upserts one record by identifier and stamps last_modified with the
// current time. last_modified never decreases, even if the server clock
// stepped backwards between writes.
func Save(ctx context.Context, pool PgxIface, collection Collection, record Record) error {
	query := `INSERT INTO records (collection, id, data, synced, last_modified)
			  VALUES ($1, $2, $3, $4, now())
			  ON CONFLICT (collection, id) DO UPDATE SET
			  data = EXCLUDED.data, synced = EXCLUDED.synced,
			  last_modified = GREATEST(records.last_modified, EXCLUDED.last_modified)`

	_, err := pool.Exec(ctx, query, string(collection), record.ID, record.Data, record.Synced)
	if err != nil {
		return fmt.Errorf("failed to save record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"collection": collection,
		"id":         record.ID,
		"synced":     record.Synced,
	}).Debug("Saved record to local store")
	return nil
}

// GetAll returns every record in the collection. Order is unspecified.
func GetAll(ctx context.Context, pool PgxIface, collection Collection) ([]Record, error) {
	query := `SELECT id, data, synced, last_modified
		FROM records
		WHERE collection = $1`

	rows, err := pool.Query(ctx, query, string(collection))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var record Record
		if err := rows.Scan(&record.ID, &record.Data, &record.Synced, &record.LastModified); err != nil {
			return nil, fmt.Errorf("error scanning record: %w", err)
		}
		records = append(records, record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}

	return records, nil
}

// Get returns one record by identifier, or nil if absent.
func Get(ctx context.Context, pool PgxIface, collection Collection, id string) (*Record, error) {
	query := `SELECT id, data, synced, last_modified
		FROM records
		WHERE collection = $1 AND id = $2`

	var record Record
	err := pool.QueryRow(ctx, query, string(collection), id).
		Scan(&record.ID, &record.Data, &record.Synced, &record.LastModified)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record: %w", err)
	}

	return &record, nil
}

// Delete removes a record. Deleting an absent record is a no-op, not an error.
func Delete(ctx context.Context, pool PgxIface, collection Collection, id string) error {
	query := `DELETE FROM records WHERE collection = $1 AND id = $2`

	result, err := pool.Exec(ctx, query, string(collection), id)
	if err != nil {
		return fmt.Errorf("failed to delete record: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"collection": collection,
		"id":         id,
		"deleted":    result.RowsAffected(),
	}).Debug("Deleted record from local store")
	return nil
}

// BulkSave upserts a batch of records in one transaction, so the collection
// never exposes a partially applied batch. Atomicity holds per call, not
// across collections.
func BulkSave(ctx context.Context, pool PgxIface, collection Collection, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin bulk save: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	batch := &pgx.Batch{}
	query := `INSERT INTO records (collection, id, data, synced, last_modified)
			  VALUES ($1, $2, $3, $4, now())
			  ON CONFLICT (collection, id) DO UPDATE SET
			  data = EXCLUDED.data, synced = EXCLUDED.synced,
			  last_modified = GREATEST(records.last_modified, EXCLUDED.last_modified)`

	for _, record := range records {
		batch.Queue(query, string(collection), record.ID, record.Data, record.Synced)
	}

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("failed to execute batch save: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit bulk save: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"collection": collection,
		"count":      len(records),
	}).Info("Bulk saved records to local store")
	return nil
}
