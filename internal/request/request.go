// Package request is the façade application code calls for reads and writes.
//
// Reads prefer the remote API and fall back to the local store only when the
// remote is unreachable. Writes go through to the remote when it answers and
// are queued for a later sync pass when it does not. Application errors mean
// the remote was reached and rejected the request; those propagate to the
// caller and are never queued, because retrying them verbatim cannot succeed.
package request

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/stockpilot/offsync/internal/api"
	"github.com/stockpilot/offsync/internal/queue"
	"github.com/stockpilot/offsync/internal/store"
	syncengine "github.com/stockpilot/offsync/internal/sync"
)

// Remote is the subset of the API client the façade uses.
type Remote interface {
	Get(ctx context.Context, path string) (json.RawMessage, error)
	Post(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error)
	Put(ctx context.Context, path string, body json.RawMessage) (json.RawMessage, error)
	Delete(ctx context.Context, path string) (json.RawMessage, error)
}

// Facade routes reads and writes between the remote API and the local store.
type Facade struct {
	pool   store.PgxIface
	client Remote
	online func() bool
}

// New creates a façade. A nil online func means "try the remote first"; the
// connectivity monitor is wired in after construction to skip doomed calls.
func New(pool store.PgxIface, client Remote, online func() bool) *Facade {
	return &Facade{
		pool:   pool,
		client: client,
		online: online,
	}
}

// SetOnline installs the connectivity source consulted before remote calls.
func (f *Facade) SetOnline(online func() bool) {
	f.online = online
}

// WriteResult reports where a write landed. Offline=true means the write is
// durable locally and queued for sync, not confirmed by the remote.
type WriteResult struct {
	ID      string
	Data    json.RawMessage
	Offline bool
	Message string
}

func (f *Facade) reachable() bool {
	return f.online == nil || f.online()
}

// GetWithFallback performs one remote GET and, on a network-class failure,
// serves the supplied local fallback instead of propagating the error.
// Application errors propagate unchanged. List and Fetch are the store-backed
// specializations; this is the general form for callers with their own
// fallback source.
func (f *Facade) GetWithFallback(ctx context.Context, path string, fallback func(context.Context) (json.RawMessage, error)) (json.RawMessage, error) {
	if f.reachable() {
		body, err := f.client.Get(ctx, path)
		if err == nil {
			return body, nil
		}
		if !api.IsNetworkError(err) {
			return nil, err
		}
		logrus.WithError(err).WithField("path", path).Debug("Remote read unreachable, using local fallback")
	}
	return fallback(ctx)
}

// List returns every record of a collection: the remote's authoritative list
// when it answers (mirrored into the local store on the way through), the
// local copy when the remote is unreachable. An application error from the
// remote propagates, it is not masked by stale local data.
func (f *Facade) List(ctx context.Context, entity store.Collection) ([]store.Record, error) {
	endpoint, ok := syncengine.Endpoint(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	if f.reachable() {
		body, err := f.client.Get(ctx, endpoint)
		if err == nil {
			return f.mirrorList(ctx, entity, body)
		}
		if !api.IsNetworkError(err) {
			return nil, err
		}
		logrus.WithError(err).WithField("entity", entity).Debug("Remote list unreachable, serving local store")
	}

	return store.GetAll(ctx, f.pool, entity)
}

// Fetch returns one record by identifier, falling back to the local store the
// same way List does. A record found in neither place is an error.
func (f *Facade) Fetch(ctx context.Context, entity store.Collection, id string) (*store.Record, error) {
	endpoint, ok := syncengine.Endpoint(entity)
	if !ok {
		return nil, fmt.Errorf("unknown entity %q", entity)
	}

	if f.reachable() {
		body, err := f.client.Get(ctx, endpoint+"/"+id)
		if err == nil {
			record := store.Record{ID: id, Data: body, Synced: true}
			if err := store.Save(ctx, f.pool, entity, record); err != nil {
				return nil, err
			}
			return &record, nil
		}
		if !api.IsNetworkError(err) {
			return nil, err
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"entity": entity,
			"id":     id,
		}).Debug("Remote fetch unreachable, serving local store")
	}

	record, err := store.Get(ctx, f.pool, entity, id)
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, fmt.Errorf("%s %q not found locally", entity, id)
	}
	return record, nil
}

// Create stores a new entity. When the remote answers, its representation is
// mirrored locally as synced and returned. When it is unreachable, the
// payload is saved under a provisional local identifier, queued, and reported
// as an offline write.
func (f *Facade) Create(ctx context.Context, entity store.Collection, payload json.RawMessage) (WriteResult, error) {
	endpoint, ok := syncengine.Endpoint(entity)
	if !ok {
		return WriteResult{}, fmt.Errorf("unknown entity %q", entity)
	}

	if f.reachable() {
		resp, err := f.client.Post(ctx, endpoint, payload)
		if err == nil {
			id, idErr := syncengine.ExtractID(resp)
			if idErr != nil {
				// The remote already committed the create; the raw response
				// goes back with the error so the caller can tell this apart
				// from a write that never happened.
				return WriteResult{Data: resp}, fmt.Errorf("create committed remotely but response carries no id: %w", idErr)
			}
			if err := store.Save(ctx, f.pool, entity, store.Record{ID: id, Data: resp, Synced: true}); err != nil {
				return WriteResult{}, err
			}
			return WriteResult{ID: id, Data: resp}, nil
		}
		if !api.IsNetworkError(err) {
			return WriteResult{}, err
		}
		logrus.WithError(err).WithField("entity", entity).Debug("Remote create unreachable, queueing")
	}

	return f.createOffline(ctx, entity, payload)
}

func (f *Facade) createOffline(ctx context.Context, entity store.Collection, payload json.RawMessage) (WriteResult, error) {
	localID := "offline-" + uuid.NewString()[:8]

	local, err := withField(payload, "local_id", localID)
	if err != nil {
		return WriteResult{}, fmt.Errorf("invalid create payload: %w", err)
	}

	if err := store.Save(ctx, f.pool, entity, store.Record{ID: localID, Data: local, Synced: false}); err != nil {
		return WriteResult{}, err
	}
	if _, err := queue.Enqueue(ctx, f.pool, entity, queue.OpCreate, local); err != nil {
		return WriteResult{}, err
	}

	logrus.WithFields(logrus.Fields{
		"entity":   entity,
		"local_id": localID,
	}).Info("Saved create locally for later sync")
	return WriteResult{ID: localID, Data: local, Offline: true, Message: api.MsgSavedOffline}, nil
}

// Update modifies an entity identified by the payload's id field. Offline
// updates overwrite the local copy immediately so reads reflect the change,
// then queue the operation.
func (f *Facade) Update(ctx context.Context, entity store.Collection, payload json.RawMessage) (WriteResult, error) {
	endpoint, ok := syncengine.Endpoint(entity)
	if !ok {
		return WriteResult{}, fmt.Errorf("unknown entity %q", entity)
	}

	id, err := syncengine.PayloadField(payload, "id")
	if err != nil {
		return WriteResult{}, fmt.Errorf("update payload: %w", err)
	}

	if f.reachable() {
		resp, err := f.client.Put(ctx, endpoint+"/"+id, payload)
		if err == nil {
			data := resp
			if len(bytes.TrimSpace(resp)) == 0 {
				data = payload
			}
			if err := store.Save(ctx, f.pool, entity, store.Record{ID: id, Data: data, Synced: true}); err != nil {
				return WriteResult{}, err
			}
			return WriteResult{ID: id, Data: data}, nil
		}
		if !api.IsNetworkError(err) {
			return WriteResult{}, err
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"entity": entity,
			"id":     id,
		}).Debug("Remote update unreachable, queueing")
	}

	if err := store.Save(ctx, f.pool, entity, store.Record{ID: id, Data: payload, Synced: false}); err != nil {
		return WriteResult{}, err
	}
	if _, err := queue.Enqueue(ctx, f.pool, entity, queue.OpUpdate, payload); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{ID: id, Data: payload, Offline: true, Message: api.MsgSavedOffline}, nil
}

// Remove deletes an entity. Offline deletes remove the local copy immediately
// and queue the operation, so the entity disappears from reads right away.
func (f *Facade) Remove(ctx context.Context, entity store.Collection, id string) (WriteResult, error) {
	endpoint, ok := syncengine.Endpoint(entity)
	if !ok {
		return WriteResult{}, fmt.Errorf("unknown entity %q", entity)
	}

	if f.reachable() {
		_, err := f.client.Delete(ctx, endpoint+"/"+id)
		if err == nil {
			if err := store.Delete(ctx, f.pool, entity, id); err != nil {
				return WriteResult{}, err
			}
			return WriteResult{ID: id}, nil
		}
		if !api.IsNetworkError(err) {
			return WriteResult{}, err
		}
		logrus.WithError(err).WithFields(logrus.Fields{
			"entity": entity,
			"id":     id,
		}).Debug("Remote delete unreachable, queueing")
	}

	if err := store.Delete(ctx, f.pool, entity, id); err != nil {
		return WriteResult{}, err
	}

	payload, err := json.Marshal(map[string]string{"id": id})
	if err != nil {
		return WriteResult{}, fmt.Errorf("failed to encode delete payload: %w", err)
	}
	if _, err := queue.Enqueue(ctx, f.pool, entity, queue.OpDelete, payload); err != nil {
		return WriteResult{}, err
	}

	return WriteResult{ID: id, Offline: true, Message: api.MsgSavedOffline}, nil
}

// mirrorList persists the remote list locally and converts it to records.
func (f *Facade) mirrorList(ctx context.Context, entity store.Collection, body json.RawMessage) ([]store.Record, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("unexpected %s list payload: %w", entity, err)
	}

	records := make([]store.Record, 0, len(items))
	for _, item := range items {
		id, err := syncengine.ExtractID(item)
		if err != nil {
			logrus.WithError(err).WithField("entity", entity).Warn("Skipping remote record without identifier")
			continue
		}
		records = append(records, store.Record{ID: id, Data: item, Synced: true})
	}

	if err := store.BulkSave(ctx, f.pool, entity, records); err != nil {
		return nil, err
	}
	return records, nil
}

// withField returns the payload with one string field set.
func withField(payload json.RawMessage, field, value string) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}
	if obj == nil {
		obj = map[string]json.RawMessage{}
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	obj[field] = raw

	return json.Marshal(obj)
}
