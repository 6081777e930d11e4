package state

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

// subscriberBuffer bounds each subscriber channel. A subscriber that stops
// draining loses messages rather than blocking publishers.
const subscriberBuffer = 64

// MemoryStore is the in-process Store implementation, used in tests and for
// single-binary deployments without Redis. All bookkeeping happens under a
// single mutex held only for in-memory work; a separate per-key lock spans
// version assignment through change publish so subscribers observe same-key
// events in version order.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]*types.ContextEntry
	streams map[string][]LogRecord
	seq     map[string]int64

	keyMu    sync.Mutex
	keyLocks map[string]*sync.Mutex

	subMu  sync.RWMutex
	subs   map[string]map[int64]*subscriber
	subSeq int64

	logger *zap.Logger
	closed bool
}

// subscriber owns one delivery channel. closeOnce guards against the double
// close that would otherwise happen when Close races a subscriber cancel.
type subscriber struct {
	ch        chan Message
	closeOnce sync.Once
}

func (sub *subscriber) shutdown() {
	sub.closeOnce.Do(func() { close(sub.ch) })
}

// NewMemoryStore creates an empty in-process store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryStore{
		entries:  make(map[string]*types.ContextEntry),
		streams:  make(map[string][]LogRecord),
		seq:      make(map[string]int64),
		keyLocks: make(map[string]*sync.Mutex),
		subs:     make(map[string]map[int64]*subscriber),
		logger:   logger.With(zap.String("component", "state_memory")),
	}
}

// Put stores value under key, bumping the per-key version by one.
func (s *MemoryStore) Put(ctx context.Context, key string, value any) (int64, error) {
	if key == "" {
		return 0, types.NewError(types.ErrValidation, "empty state key")
	}
	raw, err := marshalPayload(value)
	if err != nil {
		return 0, types.Wrap(types.ErrValidation, "marshal state value", err)
	}

	// The key lock is held until the change event is published. Without it
	// a concurrent writer could publish a higher version first, breaking
	// the same-key ordering subscribers rely on. Publish never blocks, so
	// the lock spans only in-memory work.
	lock := s.orderLock(key)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now()
	s.mu.Lock()
	entry, ok := s.entries[key]
	if !ok {
		entry = &types.ContextEntry{Key: key}
		s.entries[key] = entry
	}
	entry.Version++
	entry.Value = raw
	entry.UpdatedAt = now
	version := entry.Version
	s.mu.Unlock()

	s.audit(ctx, key, version, now)
	return version, nil
}

// orderLock returns the per-key publish-ordering lock, creating it on first
// use.
func (s *MemoryStore) orderLock(key string) *sync.Mutex {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	lock, ok := s.keyLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		s.keyLocks[key] = lock
	}
	return lock
}

// Get returns the latest committed entry for key.
func (s *MemoryStore) Get(ctx context.Context, key string) (*types.ContextEntry, error) {
	s.mu.RLock()
	entry, ok := s.entries[key]
	if !ok {
		s.mu.RUnlock()
		return nil, types.Errorf(types.ErrKeyNotFound, "context key %q not found", key)
	}
	cp := *entry
	cp.Value = append([]byte(nil), entry.Value...)
	s.mu.RUnlock()
	return &cp, nil
}

// audit appends the compact history record and publishes the change event.
func (s *MemoryStore) audit(ctx context.Context, key string, version int64, at time.Time) {
	_, err := s.AppendLog(ctx, HistoryStream, map[string]string{
		"key":     key,
		"version": strconv.FormatInt(version, 10),
		"at":      at.Format(time.RFC3339Nano),
	})
	if err != nil {
		s.logger.Warn("history append failed", zap.String("key", key), zap.Error(err))
	}
	if err := s.Publish(ctx, ChangeTopic(key), types.ChangeEvent{Key: key, Version: version, At: at}); err != nil {
		s.logger.Warn("change publish failed", zap.String("key", key), zap.Error(err))
	}
}

// Publish fans payload out to current subscribers of topic. Slow subscribers
// are skipped, not waited on.
func (s *MemoryStore) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return types.Wrap(types.ErrValidation, "marshal publish payload", err)
	}
	msg := Message{Topic: topic, Payload: raw}

	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, sub := range s.subs[topic] {
		select {
		case sub.ch <- msg:
		default:
			s.logger.Warn("dropping message for slow subscriber", zap.String("topic", topic))
		}
	}
	return nil
}

// Subscribe registers a subscriber for topic.
func (s *MemoryStore) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	sub := &subscriber{ch: make(chan Message, subscriberBuffer)}

	s.subMu.Lock()
	if s.closed {
		s.subMu.Unlock()
		return nil, nil, types.NewError(types.ErrStoreUnavailable, "store closed")
	}
	s.subSeq++
	id := s.subSeq
	if s.subs[topic] == nil {
		s.subs[topic] = make(map[int64]*subscriber)
	}
	s.subs[topic][id] = sub
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		delete(s.subs[topic], id)
		s.subMu.Unlock()
		sub.shutdown()
	}
	return sub.ch, cancel, nil
}

// AppendLog appends fields to the named stream and returns the record id.
func (s *MemoryStore) AppendLog(ctx context.Context, stream string, fields map[string]string) (string, error) {
	cp := make(map[string]string, len(fields))
	for k, v := range fields {
		cp[k] = v
	}

	s.mu.Lock()
	s.seq[stream]++
	id := strconv.FormatInt(s.seq[stream], 10)
	rec := LogRecord{ID: id, Stream: stream, At: time.Now(), Fields: cp}
	s.streams[stream] = append(s.streams[stream], rec)
	s.mu.Unlock()

	return id, nil
}

// ReadLog returns up to limit records strictly after fromID.
func (s *MemoryStore) ReadLog(ctx context.Context, stream, fromID string, limit int64) ([]LogRecord, error) {
	var from int64
	if fromID != "" {
		n, err := strconv.ParseInt(fromID, 10, 64)
		if err != nil {
			return nil, types.Errorf(types.ErrValidation, "bad log record id %q", fromID)
		}
		from = n
	}

	s.mu.RLock()
	records := s.streams[stream]
	// records are appended with increasing ids, so binary search is enough
	idx := sort.Search(len(records), func(i int) bool {
		id, _ := strconv.ParseInt(records[i].ID, 10, 64)
		return id > from
	})
	out := make([]LogRecord, 0, limit)
	for i := idx; i < len(records) && int64(len(out)) < limit; i++ {
		out = append(out, records[i])
	}
	s.mu.RUnlock()
	return out, nil
}

// Close releases all subscribers.
func (s *MemoryStore) Close() error {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for topic, subs := range s.subs {
		for id, sub := range subs {
			sub.shutdown()
			delete(subs, id)
		}
		delete(s.subs, topic)
	}
	return nil
}
