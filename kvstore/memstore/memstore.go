// Package memstore implements an in-process kvstore.Store, used by tests
// and by operators running the entity cache without a Redis deployment. A
// single RWMutex-protected map with lazy TTL expiration is chosen over
// sync.Map: prefix scanning needs ordered key visibility that sync.Map
// cannot give cheaply, and the write path (Insert/Delete) is infrequent
// relative to Get on a cache workload.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lattice-graph/entity-cache/kvstore"
)

type item struct {
	entry     kvstore.Entry
	expiresAt time.Time
}

// Store is an in-memory, TTL-expiring implementation of kvstore.Store.
type Store struct {
	mu    sync.RWMutex
	items map[string]item
}

// New creates an empty Store.
func New() *Store {
	return &Store{items: make(map[string]item)}
}

func (s *Store) Get(_ context.Context, key string) (kvstore.Entry, bool, error) {
	s.mu.RLock()
	it, ok := s.items[key]
	s.mu.RUnlock()
	if !ok {
		return kvstore.Entry{}, false, nil
	}
	if time.Now().After(it.expiresAt) {
		s.mu.Lock()
		delete(s.items, key)
		s.mu.Unlock()
		return kvstore.Entry{}, false, nil
	}
	return it.entry, true, nil
}

func (s *Store) GetMulti(ctx context.Context, keys []string) ([]kvstore.MultiGetResult, error) {
	results := make([]kvstore.MultiGetResult, len(keys))
	for i, k := range keys {
		entry, ok, err := s.Get(ctx, k)
		if err != nil {
			return nil, err
		}
		results[i] = kvstore.MultiGetResult{Entry: entry, OK: ok}
	}
	return results, nil
}

func (s *Store) Insert(_ context.Context, key string, entry kvstore.Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[key] = item{entry: entry, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (s *Store) InsertMulti(ctx context.Context, pairs []kvstore.Pair, ttl time.Duration) error {
	for _, p := range pairs {
		if err := s.Insert(ctx, p.Key, p.Entry, ttl); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) ScanPrefix(_ context.Context, prefix string, yield func(key string) bool) error {
	s.mu.RLock()
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if !yield(k) {
			break
		}
	}
	return nil
}

func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, key)
	return nil
}

// Len returns the number of entries held, including expired entries that no
// Get has removed yet. Test helper.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
