// Package entitycache implements the hard core of the entity cache: the
// root-query path (C5), the _entities split/merge path (C6), and the
// middleware assembly (C8) that wires both onto a subgraph request.
package entitycache

import (
	"context"
	"net/http"
)

// OperationKind distinguishes a query from a mutation/subscription. Only
// queries participate in lookup; all kinds participate in invalidation.
type OperationKind int

const (
	OperationQuery OperationKind = iota
	OperationMutation
	OperationSubscription
)

const (
	// RepresentationsVariable is the GraphQL variable name carrying the
	// entity representations of an _entities request.
	RepresentationsVariable = "representations"
	// EntitiesField is the top-level selection name of an entity lookup.
	EntitiesField = "_entities"
	// TypenameField is the federation type discriminator.
	TypenameField = "__typename"
)

// Request is the subgraph request the cache intercepts. It is intentionally
// narrow: everything query-planning-specific (the full GraphQL AST, the
// supergraph schema) stays in the router; the cache only needs what it
// takes to build a key and to forward a residual request.
type Request struct {
	Subgraph      string
	OperationKind OperationKind
	OperationName string
	Query         string
	Variables     map[string]any

	// AuthScope is opaque authorization metadata hashed into the key but
	// never interpreted by the cache.
	AuthScope []byte
	// ExtraKeys are operator-configured request-scoped context fields.
	ExtraKeys map[string]string
	// PrivateScope is the per-user value read from the configured
	// private_id context key, empty when unavailable.
	PrivateScope string
	// Batched marks requests coupled into one network call by an upstream
	// batching collaborator; such requests bypass the cache entirely.
	Batched bool
}

// GraphQLError is a positional error as carried in a GraphQL response.
type GraphQLError struct {
	Message    string
	Path       []any // string or int path elements
	Extensions map[string]any
}

// Response is the subgraph response the cache observes or synthesizes.
type Response struct {
	Data    map[string]any
	Errors  []GraphQLError
	Headers http.Header

	// Extensions carries the response's top-level "extensions" map. The
	// well-known "invalidation" key, when present, is consumed by the
	// middleware and removed before the response reaches the caller.
	Extensions map[string]any
}

// Downstream is the polymorphic call surface to a subgraph: one
// implementation per transport (HTTP, gRPC, in-process), modeled as a
// capability interface rather than a concrete type so the cache never
// depends on a specific transport.
type Downstream interface {
	Call(ctx context.Context, req *Request) (*Response, error)
}

// DownstreamFactory produces a Downstream for a given subgraph name.
type DownstreamFactory interface {
	For(subgraph string) Downstream
}

// pathEntitiesIndex returns the residual entity index k from a path of the
// shape ["_entities", k, ...], and ok=false for any other shape.
func pathEntitiesIndex(path []any) (int, bool) {
	if len(path) < 2 {
		return 0, false
	}
	field, ok := path[0].(string)
	if !ok || field != EntitiesField {
		return 0, false
	}
	switch idx := path[1].(type) {
	case int:
		return idx, true
	case float64:
		return int(idx), true
	default:
		return 0, false
	}
}

// cloneResponse returns a shallow copy of resp with its own Headers,
// Extensions and Errors backing storage, so a Response shared across
// singleflight waiters can be independently mutated (e.g. by
// consumeInvalidationExtension) by each caller.
func cloneResponse(resp *Response) *Response {
	if resp == nil {
		return nil
	}
	out := *resp
	if resp.Headers != nil {
		out.Headers = resp.Headers.Clone()
	}
	if resp.Extensions != nil {
		ext := make(map[string]any, len(resp.Extensions))
		for k, v := range resp.Extensions {
			ext[k] = v
		}
		out.Extensions = ext
	}
	if resp.Errors != nil {
		out.Errors = append([]GraphQLError(nil), resp.Errors...)
	}
	return &out
}

// rewritePath replaces the residual index at path[1] with merged, leaving
// everything else (and the rest of the path) untouched.
func rewritePath(path []any, merged int) []any {
	out := make([]any, len(path))
	copy(out, path)
	out[1] = merged
	return out
}
