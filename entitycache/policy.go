package entitycache

import (
	"time"

	"github.com/lattice-graph/entity-cache/cachecontrol"
	"github.com/lattice-graph/entity-cache/cacheconfig"
)

// Policy is the resolved, per-subgraph configuration the middleware
// consults on every request: whether caching is active, the fallback TTL,
// and which context key yields the per-user private scope.
type Policy struct {
	Enabled      bool
	TTL          time.Duration
	PrivateIDKey string
}

// resolvePolicy derives a subgraph's effective Policy from the global
// configuration, applying subgraph overrides over the subgraph_all and
// global defaults.
func resolvePolicy(cfg *cacheconfig.Config, subgraph string) Policy {
	sub := cfg.Subgraphs[subgraph]
	ttl, _ := cacheconfig.ResolveTTL(cfg, sub)
	privateID := sub.PrivateID
	if privateID == "" {
		privateID = cfg.All.PrivateID
	}
	return Policy{
		Enabled:      cacheconfig.ResolveEnabled(cfg, sub),
		TTL:          ttl,
		PrivateIDKey: privateID,
	}
}

// effectiveTTL caps a response's own freshness window at the operator
// configured subgraph fallback: when both the per-subgraph TTL and the
// response max-age are present, the smaller wins.
func effectiveTTL(cc cachecontrol.CC, fallback time.Duration) time.Duration {
	ttl, ok := cc.TTL()
	if !ok {
		return fallback
	}
	if fallback > 0 && fallback < ttl {
		return fallback
	}
	return ttl
}
