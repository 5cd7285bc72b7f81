package sync

import (
	"encoding/json"
	"fmt"
)

// Queued payloads are opaque JSON; the helpers here pull out the few fields
// the engine itself needs (identifiers and local-only bookkeeping markers).

// localOnlyFields never leave the device: local_id is the provisional
// identifier assigned to an offline create, offline_items marks sale lines
// still awaiting enrichment.
var localOnlyFields = []string{"local_id", "offline_items"}

// PayloadField returns the named field of a JSON object as a string,
// accepting both string and numeric values.
func PayloadField(payload json.RawMessage, field string) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return "", fmt.Errorf("payload is not an object: %w", err)
	}

	raw, ok := obj[field]
	if !ok {
		return "", fmt.Errorf("payload missing %q", field)
	}

	var id flexID
	if err := id.UnmarshalJSON(raw); err != nil {
		return "", fmt.Errorf("payload field %q: %w", field, err)
	}
	return string(id), nil
}

// ExtractID returns the identifier of a remote entity representation.
func ExtractID(payload json.RawMessage) (string, error) {
	return PayloadField(payload, "id")
}

// stripLocalFields removes local-only bookkeeping before transmission.
func stripLocalFields(payload json.RawMessage) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err != nil {
		return nil, fmt.Errorf("payload is not an object: %w", err)
	}

	changed := false
	for _, field := range localOnlyFields {
		if _, ok := obj[field]; ok {
			delete(obj, field)
			changed = true
		}
	}
	if !changed {
		return payload, nil
	}

	stripped, err := json.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("failed to encode stripped payload: %w", err)
	}
	return stripped, nil
}
