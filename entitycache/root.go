package entitycache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lattice-graph/entity-cache/cachecontrol"
	"github.com/lattice-graph/entity-cache/cachekey"
)

// handleRoot handles a subgraph request whose operation is a query and
// whose variables do not contain "representations".
func (c *Cache) handleRoot(ctx context.Context, req *Request, policy Policy) (*Response, error) {
	wasKnownPrivate := c.registry.IsKnownPrivate(req.Query)
	if wasKnownPrivate && req.PrivateScope == "" {
		// Already known to answer privately, and no per-user scope is
		// available to key a lookup by: bypass the cache entirely, before
		// any key is computed, any store is touched, or any downstream
		// call is deduplicated against another caller's. This request is
		// indistinguishable from any other caller of the same query, so it
		// must never share a cached entry, a write, or a coalesced
		// downstream call with one.
		return c.downstreams.For(req.Subgraph).Call(ctx, req)
	}

	keyReq := cachekey.Request{
		Subgraph:      req.Subgraph,
		RootType:      "Query",
		OperationName: req.OperationName,
		QueryText:     req.Query,
		Variables:     req.Variables,
		AuthScope:     req.AuthScope,
		ExtraKeys:     req.ExtraKeys,
	}
	if wasKnownPrivate && req.PrivateScope != "" {
		keyReq.UserScope = req.PrivateScope
	}

	key, err := cachekey.RootKey(keyReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if entry, ok, getErr := c.store.Get(ctx, key); getErr != nil {
		c.logger.Warn(ctx, "root key get failed, treating as miss", map[string]any{
			"subgraph": req.Subgraph, "error": getErr.Error(),
		})
	} else if ok {
		if cc, payload, decErr := decodeEntry(entry); decErr != nil {
			c.logger.Warn(ctx, "root entry decode failed, treating as miss", map[string]any{
				"subgraph": req.Subgraph, "error": decErr.Error(),
			})
		} else if cc.CanUse() {
			c.metrics.RecordLookup(req.Subgraph, "", true)
			headers := make(http.Header)
			cc.ToHeaders(headers)
			data, _ := payload.(map[string]any)
			return &Response{Data: data, Headers: headers}, nil
		}
	}
	c.metrics.RecordLookup(req.Subgraph, "", false)

	// Concurrent identical misses (same subgraph, same key) coalesce onto
	// one downstream call and one write-back decision; every waiter gets
	// its own cloned Response so none can race on the others' header or
	// extensions maps.
	v, err, _ := c.lookups.Do(key, func() (any, error) {
		return c.fetchAndStoreRoot(ctx, req, policy, keyReq, key, wasKnownPrivate)
	})
	if err != nil {
		return nil, err
	}
	return cloneResponse(v.(*Response)), nil
}

// fetchAndStoreRoot performs the actual downstream call, Cache-Control
// decision, private-registry update and write-back scheduling for a root
// key miss. Run at most once per concurrently-missing key via
// Cache.lookups.
func (c *Cache) fetchAndStoreRoot(ctx context.Context, req *Request, policy Policy, keyReq cachekey.Request, key string, wasKnownPrivate bool) (*Response, error) {
	resp, err := c.downstreams.For(req.Subgraph).Call(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Headers == nil {
		resp.Headers = make(http.Header)
	}

	cc := cachecontrol.FromHeaders(resp.Headers, policy.TTL)

	if cc.Private && !wasKnownPrivate {
		c.registry.MarkPrivate(req.Query)
	}
	if cc.Private && req.PrivateScope == "" {
		// Registered as private, not stored, returned unchanged: a private
		// response with no per-user scope available can never be cached.
		return resp, nil
	}
	if cc.Private && req.PrivateScope != "" && keyReq.UserScope == "" {
		keyReq.UserScope = req.PrivateScope
		if scopedKey, kerr := cachekey.RootKey(keyReq); kerr == nil {
			key = scopedKey
		}
	}

	if cc.ShouldStore() && resp.Data != nil && len(resp.Errors) == 0 {
		ttl := effectiveTTL(cc, policy.TTL)
		if entry, encErr := encodeEntry(cc, resp.Data); encErr == nil {
			c.scheduleWriteback(req.Subgraph, key, entry, ttl)
		}
	}

	cc.ToHeaders(resp.Headers)
	return resp, nil
}
