// Package sync drains the pending-operation queue against the remote
// inventory API once connectivity is available.
package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/stockpilot/offsync/internal/api"
	"github.com/stockpilot/offsync/internal/queue"
	"github.com/stockpilot/offsync/internal/retry"
	"github.com/stockpilot/offsync/internal/store"
)

// endpoints maps each domain collection to its remote resource base path.
var endpoints = map[store.Collection]string{
	store.Products:  "/api/products",
	store.Retailers: "/api/retailers",
	store.Sales:     "/api/sales",
	store.Purchases: "/api/purchases",
}

// Endpoint returns the remote resource base path for a collection.
func Endpoint(collection store.Collection) (string, bool) {
	endpoint, ok := endpoints[collection]
	return endpoint, ok
}

// Engine replays queued operations against the remote API.
type Engine struct {
	pool   store.PgxIface
	client *api.Client
	online func() bool
}

// NewEngine creates a sync engine. A nil online func means "assume online";
// the caller wires the connectivity monitor in after construction.
func NewEngine(pool store.PgxIface, client *api.Client, online func() bool) *Engine {
	return &Engine{
		pool:   pool,
		client: client,
		online: online,
	}
}

// SetOnline installs the connectivity source consulted at the start of a run.
func (e *Engine) SetOnline(online func() bool) {
	e.online = online
}

// Result reports the outcome of one drain pass.
type Result struct {
	Synced    int
	Remaining int
	Skipped   bool
}

// RunSync drains the queue in ascending timestamp order. The first failed
// operation stops the run: operations are order-dependent (an update after
// its create), so skipping a failure and continuing would corrupt remote
// state. The failed operation and everything after it stay queued for the
// next pass.
func (e *Engine) RunSync(ctx context.Context) (Result, error) {
	if e.online != nil && !e.online() {
		remaining, err := queue.Count(ctx, e.pool)
		if err != nil {
			return Result{Skipped: true}, err
		}
		logrus.WithField("remaining", remaining).Debug("Offline, sync skipped")
		return Result{Remaining: remaining, Skipped: true}, nil
	}

	ops, err := queue.ListPending(ctx, e.pool)
	if err != nil {
		return Result{}, err
	}
	if len(ops) == 0 {
		return Result{}, nil
	}

	sort.SliceStable(ops, func(i, j int) bool { return ops[i].Ts.Before(ops[j].Ts) })

	logrus.WithField("count", len(ops)).Info("Draining pending operations")

	synced := 0
	var runErr error
	for _, op := range ops {
		if err := e.replay(ctx, op); err != nil {
			logrus.WithError(err).WithFields(logrus.Fields{
				"id":     op.ID,
				"entity": op.Entity,
				"op":     op.Type,
			}).Error("Sync halted at failed operation")
			runErr = fmt.Errorf("sync halted at %s: %w", op.ID, err)
			break
		}
		synced++
	}

	remaining, err := queue.Count(ctx, e.pool)
	if err != nil && runErr == nil {
		runErr = err
	}

	logrus.WithFields(logrus.Fields{
		"synced":    synced,
		"remaining": remaining,
	}).Info("Sync pass finished")

	return Result{Synced: synced, Remaining: remaining}, runErr
}

// replay sends one queued operation to the remote API and, on success,
// confirms it locally: dequeue, mirror the server result, drop superseded
// locally-keyed records.
func (e *Engine) replay(ctx context.Context, op queue.Operation) error {
	endpoint, ok := endpoints[op.Entity]
	if !ok {
		return fmt.Errorf("unknown entity %q", op.Entity)
	}

	switch op.Type {
	case queue.OpCreate:
		return e.replayCreate(ctx, endpoint, op)
	case queue.OpUpdate:
		return e.replayUpdate(ctx, endpoint, op)
	case queue.OpDelete:
		return e.replayDelete(ctx, endpoint, op)
	default:
		return fmt.Errorf("unknown operation type %q", op.Type)
	}
}

func (e *Engine) replayCreate(ctx context.Context, endpoint string, op queue.Operation) error {
	payload := op.Data

	localID, _ := PayloadField(payload, "local_id")

	if op.Entity == store.Sales {
		enriched, err := enrichSale(ctx, e.client, payload)
		if err != nil {
			return fmt.Errorf("cannot enrich sale: %w", err)
		}
		payload = enriched
	}

	payload, err := stripLocalFields(payload)
	if err != nil {
		return fmt.Errorf("invalid create payload: %w", err)
	}

	resp, err := e.client.Post(ctx, endpoint, payload)
	if err != nil {
		return err
	}

	if err := queue.Dequeue(ctx, e.pool, op.ID); err != nil {
		return err
	}

	id, err := ExtractID(resp)
	if err != nil {
		return fmt.Errorf("create response for %s: %w", op.ID, err)
	}
	if err := store.Save(ctx, e.pool, op.Entity, store.Record{ID: id, Data: resp, Synced: true}); err != nil {
		return err
	}

	// The server assigned the real identifier; the provisional local record
	// must go, or it would sit next to the confirmed one forever.
	if localID != "" && localID != id {
		if err := store.Delete(ctx, e.pool, op.Entity, localID); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"id":     op.ID,
		"entity": op.Entity,
		"remote": id,
	}).Info("Replayed queued create")
	return nil
}

func (e *Engine) replayUpdate(ctx context.Context, endpoint string, op queue.Operation) error {
	id, err := PayloadField(op.Data, "id")
	if err != nil {
		return fmt.Errorf("update payload: %w", err)
	}

	payload, err := stripLocalFields(op.Data)
	if err != nil {
		return fmt.Errorf("invalid update payload: %w", err)
	}

	resp, err := e.client.Put(ctx, endpoint+"/"+id, payload)
	if err != nil {
		return err
	}

	if err := queue.Dequeue(ctx, e.pool, op.ID); err != nil {
		return err
	}

	data := resp
	if len(bytes.TrimSpace(resp)) == 0 {
		data = payload
	}
	if err := store.Save(ctx, e.pool, op.Entity, store.Record{ID: id, Data: data, Synced: true}); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"id":     op.ID,
		"entity": op.Entity,
		"remote": id,
	}).Info("Replayed queued update")
	return nil
}

func (e *Engine) replayDelete(ctx context.Context, endpoint string, op queue.Operation) error {
	id, err := PayloadField(op.Data, "id")
	if err != nil {
		return fmt.Errorf("delete payload: %w", err)
	}

	if _, err := e.client.Delete(ctx, endpoint+"/"+id); err != nil {
		return err
	}

	if err := queue.Dequeue(ctx, e.pool, op.ID); err != nil {
		return err
	}

	if err := store.Delete(ctx, e.pool, op.Entity, id); err != nil {
		return err
	}

	logrus.WithFields(logrus.Fields{
		"id":     op.ID,
		"entity": op.Entity,
		"remote": id,
	}).Info("Replayed queued delete")
	return nil
}

// Hydrate pulls every collection from the remote API and mirrors it into the
// local store, marked synced. Called on startup when connectivity is
// available, so reads have a current fallback before the first outage.
func (e *Engine) Hydrate(ctx context.Context) error {
	for _, collection := range store.Collections {
		endpoint := endpoints[collection]

		var body json.RawMessage
		err := retry.WithOperation(ctx, retry.RemoteDefaults(), func() error {
			var attemptErr error
			body, attemptErr = e.client.Get(ctx, endpoint)
			return attemptErr
		}, "hydrate "+string(collection))
		if err != nil {
			return fmt.Errorf("failed to hydrate %s: %w", collection, err)
		}

		var items []json.RawMessage
		if err := json.Unmarshal(body, &items); err != nil {
			return fmt.Errorf("unexpected %s list payload: %w", collection, err)
		}

		records := make([]store.Record, 0, len(items))
		for _, item := range items {
			id, err := ExtractID(item)
			if err != nil {
				logrus.WithError(err).WithField("collection", collection).Warn("Skipping remote record without identifier")
				continue
			}
			records = append(records, store.Record{ID: id, Data: item, Synced: true})
		}

		if err := store.BulkSave(ctx, e.pool, collection, records); err != nil {
			return fmt.Errorf("failed to mirror %s: %w", collection, err)
		}

		logrus.WithFields(logrus.Fields{
			"collection": collection,
			"count":      len(records),
		}).Info("Hydrated collection from remote")
	}

	return nil
}
