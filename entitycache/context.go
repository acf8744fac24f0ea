package entitycache

import (
	"context"
	"sync"
)

// HitMissByType accumulates per-typename hit/miss counts for a single
// request, for a telemetry plugin to attach to a response extension.
type HitMissByType struct {
	mu     sync.Mutex
	counts map[string]*typeCounts
}

type typeCounts struct {
	Hits, Misses int
}

// NewHitMissByType returns an empty accumulator.
func NewHitMissByType() *HitMissByType {
	return &HitMissByType{counts: make(map[string]*typeCounts)}
}

func (h *HitMissByType) entry(typename string) *typeCounts {
	c, ok := h.counts[typename]
	if !ok {
		c = &typeCounts{}
		h.counts[typename] = c
	}
	return c
}

// RecordHit increments the hit count for typename.
func (h *HitMissByType) RecordHit(typename string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entry(typename).Hits++
}

// RecordMiss increments the miss count for typename.
func (h *HitMissByType) RecordMiss(typename string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entry(typename).Misses++
}

// Snapshot returns a point-in-time copy of the accumulated counts, keyed
// by typename, as (hits, misses) pairs.
func (h *HitMissByType) Snapshot() map[string][2]int {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make(map[string][2]int, len(h.counts))
	for typename, c := range h.counts {
		out[typename] = [2]int{c.Hits, c.Misses}
	}
	return out
}

type hitMissContextKey struct{}

// WithHitMissByType attaches a fresh HitMissByType accumulator to ctx,
// returning the derived context and the accumulator so the caller (e.g.
// the router's telemetry plugin) can read it back after the request
// completes.
func WithHitMissByType(ctx context.Context) (context.Context, *HitMissByType) {
	h := NewHitMissByType()
	return context.WithValue(ctx, hitMissContextKey{}, h), h
}

// HitMissFromContext reads back an accumulator attached by
// WithHitMissByType.
func HitMissFromContext(ctx context.Context) (*HitMissByType, bool) {
	h, ok := ctx.Value(hitMissContextKey{}).(*HitMissByType)
	return h, ok
}
