// Package prometheus implements telemetry.MetricsSink backed by
// github.com/prometheus/client_golang. Counters register against a
// registry passed in by the caller rather than the global default
// registry, so multiple entity caches in tests don't collide on metric
// names.
package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Sink implements telemetry.MetricsSink with hit/miss counters tagged by
// subgraph and, when enabled, typename, plus an invalidation counter
// tagged by subgraph and origin.
type Sink struct {
	lookups      *prometheus.CounterVec
	invalidation *prometheus.CounterVec
	separateType bool
}

// New registers the entity cache's counters against reg and returns a
// Sink. separatePerType mirrors the metrics.separate_per_type config
// option: when false, typename is always reported as "".
func New(reg prometheus.Registerer, separatePerType bool) (*Sink, error) {
	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_cache_lookups_total",
		Help: "Entity cache lookups by subgraph, typename and outcome.",
	}, []string{"subgraph", "typename", "outcome"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "entity_cache_invalidated_keys_total",
		Help: "Keys deleted by the invalidation engine, by subgraph and origin.",
	}, []string{"subgraph", "origin"})

	if err := reg.Register(lookups); err != nil {
		return nil, err
	}
	if err := reg.Register(invalidations); err != nil {
		return nil, err
	}

	return &Sink{lookups: lookups, invalidation: invalidations, separateType: separatePerType}, nil
}

// RecordLookup implements telemetry.MetricsSink.
func (s *Sink) RecordLookup(subgraph, typename string, hit bool) {
	if !s.separateType {
		typename = ""
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	s.lookups.WithLabelValues(subgraph, typename, outcome).Inc()
}

// RecordInvalidation implements telemetry.MetricsSink.
func (s *Sink) RecordInvalidation(subgraph, origin string, deleted int) {
	s.invalidation.WithLabelValues(subgraph, origin).Add(float64(deleted))
}
