package entitycache

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lattice-graph/entity-cache/cachecontrol"
	"github.com/lattice-graph/entity-cache/cachekey"
	"github.com/lattice-graph/entity-cache/kvstore"
)

// entityHit is the hit half of the entity-split intermediate state: a
// cache entry found for one representation, carried through the merge
// step.
type entityHit struct {
	cc      cachecontrol.CC
	payload any
}

// handleEntity implements the split/serve/merge cycle for a subgraph
// request whose variables declare "representations": cached entities are
// served directly, the rest are forwarded in a residual request, and the
// two are merged back into positional order.
func (c *Cache) handleEntity(ctx context.Context, req *Request, policy Policy) (*Response, error) {
	wasKnownPrivate := c.registry.IsKnownPrivate(req.Query)
	if wasKnownPrivate && req.PrivateScope == "" {
		// Already known to answer privately, and no per-user scope is
		// available to key a lookup by: bypass the cache entirely, before
		// any key is computed or the store is touched. This request is
		// indistinguishable from any other caller of the same query, so it
		// must never be served from, or written to, the unscoped entry.
		return c.downstreams.For(req.Subgraph).Call(ctx, req)
	}

	keyReq := cachekey.Request{
		Subgraph:      req.Subgraph,
		OperationName: req.OperationName,
		QueryText:     req.Query,
		Variables:     req.Variables,
		AuthScope:     req.AuthScope,
		ExtraKeys:     req.ExtraKeys,
	}
	if wasKnownPrivate && req.PrivateScope != "" {
		keyReq.UserScope = req.PrivateScope
	}

	entityKeys, err := cachekey.EntityKeys(keyReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRequest, err)
	}

	if len(entityKeys) == 0 {
		// Boundary behavior: the middleware never contacts the store nor
		// the subgraph for an empty representations list.
		headers := make(http.Header)
		cachecontrol.NoStore().ToHeaders(headers)
		return &Response{Data: map[string]any{EntitiesField: []any{}}, Headers: headers}, nil
	}

	origReprs, _ := req.Variables[RepresentationsVariable].([]any)

	hits := make([]*entityHit, len(entityKeys))
	keys := make([]string, len(entityKeys))
	for i, ek := range entityKeys {
		keys[i] = ek.Key
	}
	results, getErr := c.store.GetMulti(ctx, keys)
	if getErr != nil {
		c.logger.Warn(ctx, "entity multi-get failed, treating all as miss", map[string]any{
			"subgraph": req.Subgraph, "error": getErr.Error(),
		})
	} else {
		for i, r := range results {
			if !r.OK {
				continue
			}
			cc, payload, decErr := decodeEntry(r.Entry)
			if decErr != nil || !cc.CanUse() {
				continue
			}
			hits[i] = &entityHit{cc: cc, payload: payload}
		}
	}

	var missIdx []int
	var newReprs []any
	for i, ek := range entityKeys {
		hit := hits[i] != nil
		if hmt, ok := HitMissFromContext(ctx); ok {
			if hit {
				hmt.RecordHit(ek.Typename)
			} else {
				hmt.RecordMiss(ek.Typename)
			}
		}
		c.metrics.RecordLookup(req.Subgraph, ek.Typename, hit)
		if !hit {
			missIdx = append(missIdx, i)
			if i < len(origReprs) {
				newReprs = append(newReprs, origReprs[i])
			}
		}
	}

	if len(missIdx) == 0 {
		return fullHitResponse(entityKeys, hits), nil
	}

	residualVars := cloneVariables(req.Variables)
	residualVars[RepresentationsVariable] = newReprs
	residualReq := *req
	residualReq.Variables = residualVars

	residualResp, err := c.downstreams.For(req.Subgraph).Call(ctx, &residualReq)
	if err != nil {
		return nil, err
	}
	if residualResp.Headers == nil {
		residualResp.Headers = make(http.Header)
	}

	residualEntities, err := extractEntities(residualResp.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(residualEntities) != len(missIdx) {
		return nil, fmt.Errorf("%w: expected %d residual entities, got %d", ErrMalformedResponse, len(missIdx), len(residualEntities))
	}

	// A missing Cache-Control header on the upstream residual response
	// defaults to no_store before merging with any cached entity CCs.
	overallCC := cachecontrol.FromHeaders(residualResp.Headers, policy.TTL)
	for _, h := range hits {
		if h != nil {
			overallCC = overallCC.Merge(h.cc)
		}
	}

	if overallCC.Private && !wasKnownPrivate {
		c.registry.MarkPrivate(req.Query)
	}

	merged := make([]any, len(entityKeys))
	residualHasError := make([]bool, len(missIdx))
	var mergedErrors []GraphQLError
	for _, e := range residualResp.Errors {
		if k, ok := pathEntitiesIndex(e.Path); ok && k >= 0 && k < len(missIdx) {
			mergedIdx := missIdx[k]
			mergedErrors = append(mergedErrors, GraphQLError{
				Message: e.Message, Path: rewritePath(e.Path, mergedIdx), Extensions: e.Extensions,
			})
			residualHasError[k] = true
		} else {
			mergedErrors = append(mergedErrors, e)
		}
	}

	residualCursor := 0
	for i := range entityKeys {
		if hits[i] != nil {
			merged[i] = hits[i].payload
			continue
		}
		merged[i] = residualEntities[residualCursor]
		residualCursor++
	}

	respHeaders := make(http.Header)
	for k, v := range residualResp.Headers {
		respHeaders[k] = append([]string(nil), v...)
	}
	overallCC.ToHeaders(respHeaders)

	resp := &Response{
		Data:       map[string]any{EntitiesField: merged},
		Errors:     mergedErrors,
		Headers:    respHeaders,
		Extensions: residualResp.Extensions,
	}

	if overallCC.ShouldStore() && (!overallCC.Private || req.PrivateScope != "") {
		writeKeys := entityKeys
		if overallCC.Private && keyReq.UserScope == "" && req.PrivateScope != "" {
			scopedReq := keyReq
			scopedReq.UserScope = req.PrivateScope
			if scoped, scopedErr := cachekey.EntityKeys(scopedReq); scopedErr == nil && len(scoped) == len(entityKeys) {
				writeKeys = scoped
			}
		}

		pairs := make([]kvstore.Pair, 0, len(missIdx))
		for k, pos := range missIdx {
			if residualHasError[k] {
				// Positions that had upstream errors attached are not
				// written.
				continue
			}
			entry, encErr := encodeEntry(overallCC, residualEntities[k])
			if encErr != nil {
				continue
			}
			pairs = append(pairs, kvstore.Pair{Key: writeKeys[pos].Key, Entry: entry})
		}
		ttl := effectiveTTL(overallCC, policy.TTL)
		c.scheduleWritebackMulti(req.Subgraph, pairs, ttl)
	}

	return resp, nil
}

// fullHitResponse synthesizes a response from an all-hits lookup: no
// subgraph call, no upstream headers, a freshly merged Cache-Control.
func fullHitResponse(entityKeys []cachekey.EntityKey, hits []*entityHit) *Response {
	entities := make([]any, len(entityKeys))
	merged := cachecontrol.NoStore()
	for i, h := range hits {
		entities[i] = h.payload
		if i == 0 {
			merged = h.cc
		} else {
			merged = merged.Merge(h.cc)
		}
	}
	headers := make(http.Header)
	merged.ToHeaders(headers)
	return &Response{Data: map[string]any{EntitiesField: entities}, Headers: headers}
}

// cloneVariables makes a shallow copy of a variables map so the residual
// request's rewritten "representations" entry does not mutate the
// caller's original request.
func cloneVariables(vars map[string]any) map[string]any {
	out := make(map[string]any, len(vars))
	for k, v := range vars {
		out[k] = v
	}
	return out
}

// extractEntities reads the "_entities" array out of a response data tree.
func extractEntities(data map[string]any) ([]any, error) {
	if data == nil {
		return nil, nil
	}
	raw, ok := data[EntitiesField]
	if !ok || raw == nil {
		return nil, nil
	}
	entities, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%s is not an array", EntitiesField)
	}
	return entities, nil
}
