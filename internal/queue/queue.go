// Package queue provides the pending-operation log for offsync.
//
// Every create/update/delete attempted without connectivity is appended here
// and drained against the remote API once connectivity returns. The queue is
// the single source of truth for "work not yet confirmed".
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stockpilot/offsync/internal/store"
)

// OpType is the kind of queued mutation.
type OpType string

const (
	OpCreate OpType = "create"
	OpUpdate OpType = "update"
	OpDelete OpType = "delete"
)

// Valid reports whether t is a known operation type.
func (t OpType) Valid() bool {
	switch t {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is one unconfirmed intent. The payload is opaque at this level;
// entity-specific shape is validated where it is used, inside the sync
// engine's per-entity branch.
type Operation struct {
	ID     string
	Entity store.Collection
	Type   OpType
	Data   json.RawMessage
	Ts     time.Time
}

// newOperationID derives a queue id from entity, operation type and creation
// time. The uuid fragment keeps ids unique even for same-millisecond writes.
func newOperationID(entity store.Collection, op OpType, ts time.Time) string {
	return fmt.Sprintf("%s-%s-%d-%s", entity, op, ts.UnixMilli(), uuid.NewString()[:8])
}

// Enqueue appends one operation with a generated id and the current time.
func Enqueue(ctx context.Context, pool store.PgxIface, entity store.Collection, op OpType, data json.RawMessage) (string, error) {
	if !entity.Valid() {
		return "", fmt.Errorf("unknown entity %q", entity)
	}
	// An unknown op type would be rejected only at drain time, wedging the
	// queue under the fail-fast rule
	if !op.Valid() {
		return "", fmt.Errorf("unknown operation type %q", op)
	}

	now := time.Now()
	id := newOperationID(entity, op, now)

	query := `INSERT INTO pending_sync (id, entity, op, data, ts)
			  VALUES ($1, $2, $3, $4, $5)`

	if _, err := pool.Exec(ctx, query, id, string(entity), string(op), data, now); err != nil {
		return "", fmt.Errorf("failed to enqueue operation: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"id":     id,
		"entity": entity,
		"op":     op,
	}).Info("Queued operation for later sync")
	return id, nil
}

// ListPending returns all queued operations, oldest first. Replaying in
// ascending timestamp order preserves causal intent ordering: a create
// replays before a later update to the same logical entity.
func ListPending(ctx context.Context, pool store.PgxIface) ([]Operation, error) {
	query := `SELECT id, entity, op, data, ts
		FROM pending_sync
		ORDER BY ts ASC`

	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending operations: %w", err)
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var entity, opType string
		if err := rows.Scan(&op.ID, &entity, &opType, &op.Data, &op.Ts); err != nil {
			return nil, fmt.Errorf("error scanning pending operation: %w", err)
		}
		op.Entity = store.Collection(entity)
		op.Type = OpType(opType)
		ops = append(ops, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating pending operations: %w", err)
	}

	return ops, nil
}

// Count returns the number of queued operations.
func Count(ctx context.Context, pool store.PgxIface) (int, error) {
	var count int
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM pending_sync`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending operations: %w", err)
	}
	return count, nil
}

// Dequeue removes one operation by id after successful replay.
func Dequeue(ctx context.Context, pool store.PgxIface, id string) error {
	result, err := pool.Exec(ctx, `DELETE FROM pending_sync WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to dequeue operation: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("no pending operation found for id %s", id)
	}

	return nil
}

// Clear removes all queued operations. Used only for explicit reset, never
// as part of the normal sync flow.
func Clear(ctx context.Context, pool store.PgxIface) error {
	result, err := pool.Exec(ctx, `DELETE FROM pending_sync`)
	if err != nil {
		return fmt.Errorf("failed to clear pending operations: %w", err)
	}

	logrus.WithField("count", result.RowsAffected()).Info("Cleared pending operation queue")
	return nil
}
