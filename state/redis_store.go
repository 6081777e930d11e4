package state

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/quantfleet/quantfleet/types"
)

// putScript commits value, version, history record, and change notification
// as one atomic unit. Concurrent writers to the same key never interleave
// partial state, and subscribers receive same-key change events in version
// order because the publish happens inside the commit. The incremented
// version is the script's return value.
//
// KEYS[1] entry hash, KEYS[2] history stream, KEYS[3] change channel.
// ARGV[1] value, ARGV[2] timestamp, ARGV[3] bare context key.
var putScript = redis.NewScript(`
local version = redis.call('HINCRBY', KEYS[1], 'version', 1)
redis.call('HSET', KEYS[1], 'value', ARGV[1], 'updated_at', ARGV[2])
redis.call('XADD', KEYS[2], '*', 'key', ARGV[3], 'version', version, 'at', ARGV[2])
redis.call('PUBLISH', KEYS[3], cjson.encode({key=ARGV[3], version=version, at=ARGV[2]}))
return version
`)

// RedisConfig configures the Redis-backed store.
type RedisConfig struct {
	Addr      string `yaml:"addr" json:"addr"`
	Password  string `yaml:"password" json:"password"`
	DB        int    `yaml:"db" json:"db"`
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`
	PoolSize  int    `yaml:"pool_size" json:"pool_size"`
}

// RedisStore is the Store implementation for distributed deployments:
// context entries as hashes, change notification over Redis pub/sub, and
// append-only streams for the audit log.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
	logger    *zap.Logger

	mu     sync.Mutex
	closed bool
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, types.Wrap(types.ErrStoreUnavailable, "connect to redis", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "quantfleet:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
		logger:    logger.With(zap.String("component", "state_redis")),
	}, nil
}

func (s *RedisStore) entryKey(key string) string { return s.keyPrefix + "ctx:" + key }
func (s *RedisStore) streamKey(st string) string { return s.keyPrefix + "log:" + st }
func (s *RedisStore) channelKey(t string) string { return s.keyPrefix + "bus:" + t }

// Put stores value under key, bumping the per-key version atomically. The
// history append and change notification commit inside the same script, so
// same-key events are delivered to subscribers in version order.
func (s *RedisStore) Put(ctx context.Context, key string, value any) (int64, error) {
	if key == "" {
		return 0, types.NewError(types.ErrValidation, "empty state key")
	}
	raw, err := marshalPayload(value)
	if err != nil {
		return 0, types.Wrap(types.ErrValidation, "marshal state value", err)
	}

	now := time.Now()
	res, err := putScript.Run(ctx, s.client,
		[]string{s.entryKey(key), s.streamKey(HistoryStream), s.channelKey(ChangeTopic(key))},
		string(raw), now.Format(time.RFC3339Nano), key,
	).Int64()
	if err != nil {
		return 0, types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("put %q", key), err)
	}
	return res, nil
}

// Get returns the latest committed entry for key.
func (s *RedisStore) Get(ctx context.Context, key string) (*types.ContextEntry, error) {
	vals, err := s.client.HGetAll(ctx, s.entryKey(key)).Result()
	if err != nil {
		return nil, types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("get %q", key), err)
	}
	if len(vals) == 0 {
		return nil, types.Errorf(types.ErrKeyNotFound, "context key %q not found", key)
	}

	version, err := strconv.ParseInt(vals["version"], 10, 64)
	if err != nil {
		return nil, types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("corrupt version for %q", key), err)
	}
	entry := &types.ContextEntry{
		Key:     key,
		Value:   []byte(vals["value"]),
		Version: version,
	}
	if at, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		entry.UpdatedAt = at
	}
	return entry, nil
}

// Publish sends payload on the topic's pub/sub channel.
func (s *RedisStore) Publish(ctx context.Context, topic string, payload any) error {
	raw, err := marshalPayload(payload)
	if err != nil {
		return types.Wrap(types.ErrValidation, "marshal publish payload", err)
	}
	if err := s.client.Publish(ctx, s.channelKey(topic), raw).Err(); err != nil {
		return types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("publish %q", topic), err)
	}
	return nil
}

// Subscribe pumps the topic's pub/sub channel until cancel is called.
func (s *RedisStore) Subscribe(ctx context.Context, topic string) (<-chan Message, func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channelKey(topic))
	// force the subscription onto the wire before the caller relies on it
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, nil, types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("subscribe %q", topic), err)
	}

	out := make(chan Message, subscriberBuffer)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- Message{Topic: topic, Payload: []byte(msg.Payload)}:
			default:
				s.logger.Warn("dropping message for slow subscriber", zap.String("topic", topic))
			}
		}
	}()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if err := pubsub.Close(); err != nil {
				s.logger.Warn("pubsub close failed", zap.String("topic", topic), zap.Error(err))
			}
		})
	}
	return out, cancel, nil
}

// AppendLog appends fields to the named stream via XADD.
func (s *RedisStore) AppendLog(ctx context.Context, stream string, fields map[string]string) (string, error) {
	values := make(map[string]any, len(fields))
	for k, v := range fields {
		values[k] = v
	}
	id, err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.streamKey(stream),
		Values: values,
	}).Result()
	if err != nil {
		return "", types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("append %q", stream), err)
	}
	return id, nil
}

// ReadLog returns up to limit records strictly after fromID.
func (s *RedisStore) ReadLog(ctx context.Context, stream, fromID string, limit int64) ([]LogRecord, error) {
	start := "-"
	if fromID != "" {
		// "(" makes the range exclusive of fromID itself
		start = "(" + fromID
	}
	msgs, err := s.client.XRangeN(ctx, s.streamKey(stream), start, "+", limit).Result()
	if err != nil {
		return nil, types.Wrap(types.ErrStoreUnavailable, fmt.Sprintf("read %q", stream), err)
	}

	out := make([]LogRecord, 0, len(msgs))
	for _, m := range msgs {
		rec := LogRecord{ID: m.ID, Stream: stream, Fields: make(map[string]string, len(m.Values))}
		for k, v := range m.Values {
			if sv, ok := v.(string); ok {
				rec.Fields[k] = sv
			}
		}
		if ms, err := strconv.ParseInt(strings.SplitN(m.ID, "-", 2)[0], 10, 64); err == nil {
			rec.At = time.UnixMilli(ms)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

var _ Store = (*RedisStore)(nil)
var _ Store = (*MemoryStore)(nil)
