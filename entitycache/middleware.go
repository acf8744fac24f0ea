// Package entitycache implements the hard core of the entity cache: the
// root-query path (C5), the _entities split/merge path (C6), and the
// middleware assembly (C8) that wires both onto a subgraph request.
package entitycache

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/lattice-graph/entity-cache/cacheconfig"
	"github.com/lattice-graph/entity-cache/cachecontrol"
	"github.com/lattice-graph/entity-cache/invalidation"
	"github.com/lattice-graph/entity-cache/kvstore"
	"github.com/lattice-graph/entity-cache/registry"
	"github.com/lattice-graph/entity-cache/telemetry"
)

// Cache is the assembled entity cache middleware (C8): it composes the KV
// adapter, the private-query registry, the downstream call surface and the
// observability glue into a single request-scoped pipeline.
type Cache struct {
	store       kvstore.Store
	registry    *registry.PrivateQueries
	downstreams DownstreamFactory
	config      *cacheconfig.Config
	logger      *telemetry.Logger
	metrics     telemetry.MetricsSink

	lookups   singleflight.Group
	writeback *writebackPool

	writebackWorkers int
	writebackQueue   int

	// invalidationEngine is optional: when nil, responses carrying a
	// well-known "invalidation" extension still have it stripped from what
	// the caller sees, but no scan/delete is triggered.
	invalidationEngine *invalidation.Engine
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithLogger overrides the default logger.
func WithLogger(l *telemetry.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics overrides the default no-op metrics sink.
func WithMetrics(m telemetry.MetricsSink) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithWritebackWorkers sets the size and concurrency of the write-back
// pool. Defaults are 4 workers and a queue of 1024.
func WithWritebackWorkers(workers, queueSize int) Option {
	return func(c *Cache) { c.writebackWorkers, c.writebackQueue = workers, queueSize }
}

// WithInvalidationEngine wires an invalidation engine onto this Cache: a
// response carrying a well-known "invalidation" extension has its targets
// processed through engine.
func WithInvalidationEngine(engine *invalidation.Engine) Option {
	return func(c *Cache) { c.invalidationEngine = engine }
}

// New assembles a Cache. ctx is the parent lifecycle context: cancelling it
// stops accepting new write-backs and abandons in-flight ones. Call Stop to
// release the write-back pool deterministically (e.g. in tests).
func New(ctx context.Context, store kvstore.Store, downstreams DownstreamFactory, cfg *cacheconfig.Config, opts ...Option) *Cache {
	c := &Cache{
		store:       store,
		registry:    registry.New(),
		downstreams: downstreams,
		config:      cfg,
		logger:      telemetry.NewLogger(),
		metrics:     telemetry.NoopSink{},
	}
	for _, opt := range opts {
		opt(c)
	}
	c.writeback = newWritebackPool(ctx, c.writebackWorkersOrDefault(), c.writebackQueueOrDefault(), func() {
		c.logger.Warn(ctx, "writeback queue full, dropping write", nil)
	})
	return c
}

func (c *Cache) writebackWorkersOrDefault() int {
	if c.writebackWorkers > 0 {
		return c.writebackWorkers
	}
	return 4
}

func (c *Cache) writebackQueueOrDefault() int {
	if c.writebackQueue > 0 {
		return c.writebackQueue
	}
	return 1024
}

// Stop releases the write-back pool, waiting for in-flight tasks to
// observe cancellation and return.
func (c *Cache) Stop() {
	c.writeback.Stop()
}

// Handle is the single entry point C8 exposes to the router: route req to
// the root-query path or the entity path, or bypass entirely, and return
// the response the caller should see.
func (c *Cache) Handle(ctx context.Context, req *Request) (*Response, error) {
	resp, err := c.dispatch(ctx, req)
	if err != nil {
		return nil, err
	}
	c.consumeInvalidationExtension(ctx, resp)
	return resp, nil
}

func (c *Cache) dispatch(ctx context.Context, req *Request) (*Response, error) {
	policy := resolvePolicy(c.config, req.Subgraph)

	if req.Batched {
		// Batched requests bypass the cache transparently: the coupling of
		// multiple logical requests into one network call invalidates
		// positional merging.
		return c.downstreams.For(req.Subgraph).Call(ctx, req)
	}

	if !policy.Enabled {
		resp, err := c.downstreams.For(req.Subgraph).Call(ctx, req)
		if err != nil {
			return nil, err
		}
		annotateDisabled(resp)
		return resp, nil
	}

	if req.OperationKind != OperationQuery {
		// Non-query operations bypass caching entirely, but Handle still
		// consumes any invalidation extension on their responses.
		return c.downstreams.For(req.Subgraph).Call(ctx, req)
	}

	if isEntityRequest(req) {
		return c.handleEntity(ctx, req, policy)
	}
	return c.handleRoot(ctx, req, policy)
}

// isEntityRequest reports whether req's variables declare a
// "representations" entry, the discriminator between the root path and
// the entity path.
func isEntityRequest(req *Request) bool {
	_, ok := req.Variables[RepresentationsVariable]
	return ok
}

// annotateDisabled ensures a response from a subgraph with caching turned
// off still carries a well-formed Cache-Control header: no_store, since
// nothing was cached or consulted.
func annotateDisabled(resp *Response) {
	if resp.Headers == nil {
		resp.Headers = make(http.Header)
	}
	cachecontrol.NoStore().ToHeaders(resp.Headers)
}

// scheduleWriteback submits a single-key write-back to the pool, logging
// failures only: a failed write-back never fails the request it came from.
func (c *Cache) scheduleWriteback(subgraph, key string, entry kvstore.Entry, ttl time.Duration) {
	c.writeback.Submit(func(ctx context.Context) {
		if err := c.store.Insert(ctx, key, entry, ttl); err != nil {
			c.logger.Warn(ctx, "writeback insert failed", map[string]any{
				"subgraph": subgraph, "key": key, "error": err.Error(),
			})
		}
	})
}

// scheduleWritebackMulti submits a batched write-back to the pool.
func (c *Cache) scheduleWritebackMulti(subgraph string, pairs []kvstore.Pair, ttl time.Duration) {
	if len(pairs) == 0 {
		return
	}
	c.writeback.Submit(func(ctx context.Context) {
		if err := c.store.InsertMulti(ctx, pairs, ttl); err != nil {
			c.logger.Warn(ctx, "writeback insert_multi failed", map[string]any{
				"subgraph": subgraph, "count": len(pairs), "error": err.Error(),
			})
		}
	})
}
