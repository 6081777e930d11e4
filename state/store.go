package state

import (
	"context"
	"encoding/json"
	"time"

	"github.com/quantfleet/quantfleet/types"
)

// HistoryStream is the append-only audit stream fed by every Put.
const HistoryStream = "state:history"

// ChangeTopic returns the pub/sub topic carrying change events for key.
func ChangeTopic(key string) string {
	return "state:changed:" + key
}

// Message is one pub/sub delivery. Payload is the raw published bytes.
type Message struct {
	Topic   string
	Payload []byte
}

// Decode unmarshals the message payload into v.
func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Payload, v)
}

// LogRecord is one entry of an append-only stream. IDs are ordered and
// unique within their stream.
type LogRecord struct {
	ID     string            `json:"id"`
	Stream string            `json:"stream"`
	At     time.Time         `json:"at"`
	Fields map[string]string `json:"fields"`
}

// Store is the shared, versioned state store. Writes to the same key are
// totally ordered by version; writes to different keys carry no ordering
// guarantee relative to each other.
//
// Put is atomic per key: value and version commit as one visible update and
// the higher-numbered write is the one observed afterward. Every Put also
// appends a compact audit record to HistoryStream and publishes a
// types.ChangeEvent on ChangeTopic(key).
//
// When the backing store is unreachable, operations fail with a
// STORE_UNAVAILABLE error; callers retry with backoff. No write buffering
// happens inside the store.
type Store interface {
	Put(ctx context.Context, key string, value any) (int64, error)
	Get(ctx context.Context, key string) (*types.ContextEntry, error)

	Publish(ctx context.Context, topic string, payload any) error
	// Subscribe delivers messages for topic until the returned cancel func is
	// called. Delivery is asynchronous; subscribers must not assume ordering
	// relative to their own concurrent Puts.
	Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error)

	AppendLog(ctx context.Context, stream string, fields map[string]string) (string, error)
	// ReadLog returns up to limit records after fromID ("" reads from the
	// start), in append order.
	ReadLog(ctx context.Context, stream, fromID string, limit int64) ([]LogRecord, error)

	Close() error
}

func marshalPayload(payload any) ([]byte, error) {
	switch p := payload.(type) {
	case nil:
		return []byte("null"), nil
	case []byte:
		return p, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(payload)
	}
}
