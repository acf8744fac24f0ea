// Package redis implements kvstore.Store on top of Redis, the production
// KV adapter backend named in the entity cache's configuration. Multi-get
// is issued as a single pipelined MGet round trip; prefix scans use SCAN
// with MATCH rather than KEYS to avoid blocking the Redis event loop on
// large keyspaces.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/lattice-graph/entity-cache/kvstore"
)

// Config mirrors the "redis" section of the entity cache's configuration.
type Config struct {
	URLs            []string
	Username        string
	Password        string
	PoolSize        int
	RequiredToStart bool
	TTL             time.Duration // fallback TTL, used by callers, not by this package

	// ScanCount is the COUNT hint passed to SCAN; it bounds how many keys
	// Redis inspects per cursor step, not how many are returned.
	ScanCount int64
}

// Store adapts a goredis.UniversalClient to kvstore.Store.
//
// reset_ttl is intentionally never sent to Redis by this adapter: TTL
// management is owned entirely by the entity cache, so every write carries
// an explicit TTL and reads never touch expiry.
type Store struct {
	client    goredis.UniversalClient
	scanCount int64
}

// New connects to Redis per cfg. If the initial PING fails and
// cfg.RequiredToStart is true, the error is returned as a fatal startup
// error; otherwise New still returns a Store, so the caller can decide to
// disable caching and keep running.
func New(ctx context.Context, cfg Config) (*Store, error) {
	client := goredis.NewUniversalClient(&goredis.UniversalOptions{
		Addrs:    cfg.URLs,
		Username: cfg.Username,
		Password: cfg.Password,
		PoolSize: cfg.PoolSize,
	})

	scanCount := cfg.ScanCount
	if scanCount <= 0 {
		scanCount = 1000
	}

	store := &Store{client: client, scanCount: scanCount}

	if err := client.Ping(ctx).Err(); err != nil {
		if cfg.RequiredToStart {
			return nil, fmt.Errorf("redis: required backend unavailable at startup: %w", err)
		}
	}

	return store, nil
}

type wireEntry struct {
	CacheControl []byte `json:"cc"`
	Payload      []byte `json:"payload"`
}

func encode(e kvstore.Entry) ([]byte, error) {
	return json.Marshal(wireEntry{CacheControl: e.CacheControl, Payload: e.Payload})
}

func decode(b []byte) (kvstore.Entry, error) {
	var w wireEntry
	if err := json.Unmarshal(b, &w); err != nil {
		return kvstore.Entry{}, err
	}
	return kvstore.Entry{CacheControl: w.CacheControl, Payload: w.Payload}, nil
}

func (s *Store) Get(ctx context.Context, key string) (kvstore.Entry, bool, error) {
	raw, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return kvstore.Entry{}, false, nil
	}
	if err != nil {
		return kvstore.Entry{}, false, err
	}
	entry, err := decode(raw)
	if err != nil {
		return kvstore.Entry{}, false, err
	}
	return entry, true, nil
}

// GetMulti pipelines MGet as a single round trip, positionally aligned
// with keys.
func (s *Store) GetMulti(ctx context.Context, keys []string) ([]kvstore.MultiGetResult, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	raw, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget: %w", err)
	}

	results := make([]kvstore.MultiGetResult, len(keys))
	for i, v := range raw {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		entry, err := decode([]byte(str))
		if err != nil {
			continue
		}
		results[i] = kvstore.MultiGetResult{Entry: entry, OK: true}
	}
	return results, nil
}

func (s *Store) Insert(ctx context.Context, key string, entry kvstore.Entry, ttl time.Duration) error {
	b, err := encode(entry)
	if err != nil {
		return fmt.Errorf("redis: encode entry: %w", err)
	}
	return s.client.Set(ctx, key, b, ttl).Err()
}

// InsertMulti writes every pair in a single pipeline.
func (s *Store) InsertMulti(ctx context.Context, pairs []kvstore.Pair, ttl time.Duration) error {
	if len(pairs) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, p := range pairs {
		b, err := encode(p.Entry)
		if err != nil {
			return fmt.Errorf("redis: encode entry for %s: %w", p.Key, err)
		}
		pipe.Set(ctx, p.Key, b, ttl)
	}
	_, err := pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("redis: pipelined insert: %w", err)
	}
	return nil
}

// ScanPrefix walks the keyspace with SCAN MATCH "prefix*", chunked by
// scanCount per cursor step so a large invalidation never blocks Redis.
func (s *Store) ScanPrefix(ctx context.Context, prefix string, yield func(key string) bool) error {
	var cursor uint64
	match := prefix + "*"
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, s.scanCount).Result()
		if err != nil {
			return fmt.Errorf("redis: scan: %w", err)
		}
		for _, k := range keys {
			if !yield(k) {
				return nil
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.client.Del(ctx, key).Err()
}

// Close releases the underlying client's connections.
func (s *Store) Close() error {
	return s.client.Close()
}
