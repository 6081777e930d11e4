package types

import (
	"encoding/json"
	"time"
)

// ContextEntry is one versioned key/value record in the shared state store.
// Version starts at 1 and increases by exactly one on every write to the key.
type ContextEntry struct {
	Key       string          `json:"key"`
	Value     json.RawMessage `json:"value"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Decode unmarshals the entry value into v.
func (e *ContextEntry) Decode(v any) error {
	return json.Unmarshal(e.Value, v)
}

// ChangeEvent is published on the key-derived topic after every successful
// write. Subscribers see events for the same key in version order.
type ChangeEvent struct {
	Key     string    `json:"key"`
	Version int64     `json:"version"`
	At      time.Time `json:"at"`
}
