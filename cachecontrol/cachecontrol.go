// Package cachecontrol implements the aggregated Cache-Control model used by
// the entity cache: parsing a subgraph response's header into a normalized
// representation, merging many of those representations into one, and
// deciding storability and freshness.
//
// Design Notes:
//   - Directive parsing follows RFC 7234 semantics for the subset of
//     directives the entity cache cares about (no-store, private,
//     must-revalidate, max-age, s-maxage, stale-while-revalidate, age).
//   - Merge is commutative and associative: merging n entries in any order
//     produces the same aggregated CC, which lets the entity path merge
//     hits and residual entities independently of arrival order.
//   - no-store is absorbing: merge(NoStore(), anything) == NoStore().
package cachecontrol

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// CC is the aggregated Cache-Control representation described in the data
// model: a pair of booleans that OR across merges, freshness windows that
// take the minimum remaining duration, and an age that takes the maximum.
type CC struct {
	NoStore              bool
	Private              bool
	MustRevalidate       bool
	MaxAge               *time.Duration
	SMaxAge              *time.Duration
	StaleWhileRevalidate *time.Duration
	Age                  time.Duration
}

// NoStore returns a CC that can never be stored or reused, the absorbing
// element of Merge.
func NoStore() CC {
	return CC{NoStore: true}
}

// FromHeaders parses the Cache-Control (and Age) headers of a subgraph
// response into a CC. fallbackTTL is the operator-configured per-subgraph
// TTL applied when the response carries no explicit max-age/s-maxage.
//
// A response with no Cache-Control header at all defaults to NoStore — the
// caller decides at which point in the pipeline (root vs entity path) that
// default is applied, since the entity path must not let a single
// header-less residual entity poison entries it merges with.
func FromHeaders(h http.Header, fallbackTTL time.Duration) CC {
	raw := h.Get("Cache-Control")
	if raw == "" {
		return NoStore()
	}

	cc := CC{}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		name, value, _ := strings.Cut(part, "=")
		name = strings.ToLower(strings.TrimSpace(name))
		value = strings.Trim(strings.TrimSpace(value), `"`)

		switch name {
		case "no-store":
			cc.NoStore = true
		case "private":
			cc.Private = true
		case "must-revalidate":
			cc.MustRevalidate = true
		case "max-age":
			if d, ok := parseSeconds(value); ok {
				cc.MaxAge = &d
			}
		case "s-maxage":
			if d, ok := parseSeconds(value); ok {
				cc.SMaxAge = &d
			}
		case "stale-while-revalidate":
			if d, ok := parseSeconds(value); ok {
				cc.StaleWhileRevalidate = &d
			}
		}
	}

	if cc.NoStore {
		return cc
	}

	if cc.MaxAge == nil && cc.SMaxAge == nil && fallbackTTL > 0 {
		cc.MaxAge = &fallbackTTL
	}

	if ageSeconds, ok := parseSeconds(h.Get("Age")); ok {
		cc.Age = ageSeconds
	}

	return cc
}

func parseSeconds(v string) (time.Duration, bool) {
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}

// Merge combines this CC with another, following the aggregation rule: OR
// on the booleans, minimum remaining freshness, maximum age. no-store on
// either side short-circuits to NoStore().
func (c CC) Merge(other CC) CC {
	if c.NoStore || other.NoStore {
		return NoStore()
	}

	merged := CC{
		Private:        c.Private || other.Private,
		MustRevalidate: c.MustRevalidate || other.MustRevalidate,
		MaxAge:         minDuration(remaining(c.MaxAge, c.Age), remaining(other.MaxAge, other.Age)),
		SMaxAge:        minDuration(remaining(c.SMaxAge, c.Age), remaining(other.SMaxAge, other.Age)),
		Age:            maxDuration2(c.Age, other.Age),
	}
	if merged.MaxAge != nil {
		d := *merged.MaxAge + merged.Age
		merged.MaxAge = &d
	}
	if merged.SMaxAge != nil {
		d := *merged.SMaxAge + merged.Age
		merged.SMaxAge = &d
	}
	if c.StaleWhileRevalidate != nil || other.StaleWhileRevalidate != nil {
		merged.StaleWhileRevalidate = minDuration(c.StaleWhileRevalidate, other.StaleWhileRevalidate)
	}
	return merged
}

// remaining returns the freshness window still left on a directive given
// the age already elapsed, or nil when the directive was not set.
func remaining(d *time.Duration, age time.Duration) *time.Duration {
	if d == nil {
		return nil
	}
	r := *d - age
	if r < 0 {
		r = 0
	}
	return &r
}

func minDuration(a, b *time.Duration) *time.Duration {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a < *b:
		return a
	default:
		return b
	}
}

func maxDuration2(a, b time.Duration) time.Duration {
	if a > b {
		return a
	}
	return b
}

// TTL returns the freshness window to pass to the KV backend on write,
// preferring s-maxage over max-age per RFC 7234. Returns false when neither
// is present (the entry should not be given an explicit TTL by this CC
// alone — callers combine with the subgraph fallback TTL).
func (c CC) TTL() (time.Duration, bool) {
	if c.NoStore {
		return 0, false
	}
	if c.SMaxAge != nil {
		return *c.SMaxAge, true
	}
	if c.MaxAge != nil {
		return *c.MaxAge, true
	}
	return 0, false
}

// ShouldStore reports whether a response carrying this CC may be written
// to the store at all.
func (c CC) ShouldStore() bool {
	return !c.NoStore
}

// CanUse reports whether an entry with this CC, measured at its current
// Age, is still fresh enough to serve without contacting the subgraph.
func (c CC) CanUse() bool {
	if c.NoStore {
		return false
	}
	effective := c.MaxAge
	if c.SMaxAge != nil {
		effective = c.SMaxAge
	}
	if effective == nil {
		return false
	}
	return c.Age < *effective
}

// WithAge returns a copy of c with Age advanced by d. The entity cache's
// read paths do not call it: a stored entry is judged with the Age it was
// written with, and expiry is left to the store's TTL.
func (c CC) WithAge(d time.Duration) CC {
	c.Age += d
	return c
}

// ToHeaders writes the recognized directives back onto h as a single
// Cache-Control header, plus an Age header when non-zero.
func (c CC) ToHeaders(h http.Header) {
	if c.NoStore {
		h.Set("Cache-Control", "no-store")
		return
	}

	var parts []string
	if c.Private {
		parts = append(parts, "private")
	} else {
		parts = append(parts, "public")
	}
	if c.MustRevalidate {
		parts = append(parts, "must-revalidate")
	}
	if c.MaxAge != nil {
		parts = append(parts, "max-age="+strconv.FormatInt(int64(c.MaxAge.Seconds()), 10))
	}
	if c.SMaxAge != nil {
		parts = append(parts, "s-maxage="+strconv.FormatInt(int64(c.SMaxAge.Seconds()), 10))
	}
	if c.StaleWhileRevalidate != nil {
		parts = append(parts, "stale-while-revalidate="+strconv.FormatInt(int64(c.StaleWhileRevalidate.Seconds()), 10))
	}
	h.Set("Cache-Control", strings.Join(parts, ", "))
	if c.Age > 0 {
		h.Set("Age", strconv.FormatInt(int64(c.Age.Seconds()), 10))
	}
}
