package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one row of a synchronized collection as held by the local store.
// Body contains the domain attributes as JSON, without the identifier; the
// identifier lives in ID so the store can key on it.
//
// Synced is the single source of truth for confirmation state: true means
// the row matched server state as of the last successful sync, false means
// it carries a local mutation the server has not confirmed.
type Record struct {
	ID        int64
	Body      json.RawMessage
	Synced    bool
	UpdatedAt time.Time
}

// Decode unmarshals the record body into v and, when v carries an `id`
// field, fills it with the record identifier.
func (r Record) Decode(v any) error {
	merged, err := InjectID(r.Body, r.ID)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, v)
}

// InjectID returns body with its `id` field set to id. A nil body yields
// `{"id":N}`.
func InjectID(body json.RawMessage, id int64) (json.RawMessage, error) {
	m := map[string]any{}
	if len(body) > 0 {
		if err := json.Unmarshal(body, &m); err != nil {
			return nil, fmt.Errorf("invalid record body: %w", err)
		}
	}
	m["id"] = id
	return json.Marshal(m)
}

// ExtractID returns the numeric `id` field of body (0 if absent) and the
// body with that field removed. Used on the wire path: the server assigns
// identifiers on create, so the correlation id must not be sent.
func ExtractID(body json.RawMessage) (int64, json.RawMessage, error) {
	if len(body) == 0 {
		return 0, body, nil
	}
	m := map[string]json.RawMessage{}
	if err := json.Unmarshal(body, &m); err != nil {
		return 0, nil, fmt.Errorf("invalid record body: %w", err)
	}
	raw, ok := m["id"]
	if !ok {
		return 0, body, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return 0, nil, fmt.Errorf("non-numeric record id: %w", err)
	}
	delete(m, "id")
	stripped, err := json.Marshal(m)
	if err != nil {
		return 0, nil, err
	}
	return id, stripped, nil
}

// EncodeBody marshals a domain value into a record body. Domain structs tag
// their identifier `json:"id,omitempty"` so an unset id is not serialized.
func EncodeBody(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record body: %w", err)
	}
	return b, nil
}
