// Package registry implements the private-query registry: a process-wide
// (but not global — lifecycle tied to the owning middleware instance, so
// tests can create independent caches) set of query strings known to
// produce private responses. Reads vastly outnumber writes: every request
// checks whether its query is known-private, but a query is only ever
// added once, the first time its response is observed to be private — so
// a lock-free map is the right shape rather than a RWMutex-guarded one.
package registry

import "sync"

// PrivateQueries is a thread-safe set of query strings observed to
// produce Cache-Control: private responses. Entries are added, never
// removed; concurrent redundant adds for the same query are benign.
type PrivateQueries struct {
	known sync.Map // map[string]struct{}
}

// New creates an empty registry.
func New() *PrivateQueries {
	return &PrivateQueries{}
}

// IsKnownPrivate reports whether query has previously been observed to
// produce a private response. O(1), non-blocking.
func (r *PrivateQueries) IsKnownPrivate(query string) bool {
	_, ok := r.known.Load(query)
	return ok
}

// MarkPrivate records that query is now known to produce private
// responses. O(1) amortized. Safe to call redundantly from multiple
// concurrent requests.
func (r *PrivateQueries) MarkPrivate(query string) {
	r.known.Store(query, struct{}{})
}

// Len returns the number of distinct queries currently registered. Test
// and diagnostics helper; not on any request hot path.
func (r *PrivateQueries) Len() int {
	n := 0
	r.known.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
