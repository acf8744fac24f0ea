package invalidation

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/lattice-graph/entity-cache/cachekey"
	"github.com/lattice-graph/entity-cache/kvstore"
	"github.com/lattice-graph/entity-cache/telemetry"
)

// DefaultChunkSize is the batch size used when deleting keys discovered by
// a prefix scan.
const DefaultChunkSize = 200

// Engine is best-effort throughout: every failure is logged and audited,
// never surfaced to whatever request triggered the invalidation.
type Engine struct {
	store     kvstore.Store
	limiter   *rate.Limiter
	chunkSize int
	logger    *telemetry.Logger
	metrics   telemetry.MetricsSink
	audit     AuditLog
}

// New constructs an Engine. limiter throttles the rate at which scanned
// keys are queued for deletion; pass rate.NewLimiter(rate.Inf, 0) to
// disable throttling.
func New(store kvstore.Store, limiter *rate.Limiter, audit AuditLog, logger *telemetry.Logger, metrics telemetry.MetricsSink) *Engine {
	if metrics == nil {
		metrics = telemetry.NoopSink{}
	}
	if audit == nil {
		audit = NewMemoryAuditLog(0)
	}
	return &Engine{
		store:     store,
		limiter:   limiter,
		chunkSize: DefaultChunkSize,
		logger:    logger,
		metrics:   metrics,
		audit:     audit,
	}
}

// Process runs every target in event through the store, deleting matching
// keys. It never returns an error to the caller: failures are logged and
// recorded in the audit trail only.
func (e *Engine) Process(ctx context.Context, event Event, requestID string) {
	for _, target := range event.Targets {
		e.processTarget(ctx, target, requestID)
	}
}

func (e *Engine) processTarget(ctx context.Context, target Target, requestID string) {
	origin := target.Origin
	if origin == "" {
		origin = OriginExternal
	}

	prefix, filterByQueryHash := prefixFor(target)
	deleted := 0
	var keys []string
	var deleteErr error

	flush := func() {
		if len(keys) == 0 {
			return
		}
		for _, k := range keys {
			if err := e.store.Delete(ctx, k); err != nil {
				e.logger.Warn(ctx, "invalidation delete failed", map[string]any{
					"key": k, "error": err.Error(), "request_id": requestID,
				})
				if deleteErr == nil {
					deleteErr = err
				}
				continue
			}
			deleted++
		}
		keys = keys[:0]
	}

	scanErr := e.store.ScanPrefix(ctx, prefix, func(key string) bool {
		if filterByQueryHash && !cachekey.MatchesQueryHash(key, target.QueryHash) {
			return true
		}
		if e.limiter != nil {
			if err := e.limiter.Wait(ctx); err != nil {
				return false
			}
		}
		keys = append(keys, key)
		if len(keys) >= e.chunkSize {
			flush()
		}
		return true
	})
	flush()

	if scanErr != nil {
		e.logger.Warn(ctx, "invalidation scan failed", map[string]any{
			"subgraph": target.Subgraph, "error": scanErr.Error(), "request_id": requestID,
		})
	}

	auditErr := scanErr
	if auditErr == nil {
		auditErr = deleteErr
	}

	e.metrics.RecordInvalidation(target.Subgraph, string(origin), deleted)
	if err := e.audit.Append(ctx, Record{
		Target: target, Origin: origin, RequestID: requestID, DeletedKeys: deleted,
		Timestamp: time.Now(), Err: errString(auditErr),
	}); err != nil {
		e.logger.Warn(ctx, "invalidation audit append failed", map[string]any{
			"request_id": requestID, "error": err.Error(),
		})
	}
}

// prefixFor translates a target into a scan prefix, plus whether the
// caller must additionally filter scanned keys by query hash (see
// cachekey.MatchesQueryHash's doc comment for why that case cannot be
// expressed as a single prefix).
func prefixFor(target Target) (prefix string, filterByQueryHash bool) {
	switch {
	case target.Type != "" && target.Entity != "":
		return cachekey.EntityPrefix(target.Subgraph, target.Type, target.Entity), false
	case target.Type != "" && target.QueryHash != "":
		return cachekey.TypePrefix(target.Subgraph, target.Type), true
	case target.Type != "":
		return cachekey.TypePrefix(target.Subgraph, target.Type), false
	case target.QueryHash != "":
		return cachekey.RootQueryPrefix(target.Subgraph, "Query", target.QueryHash), false
	default:
		return cachekey.SubgraphPrefix(target.Subgraph), false
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%v", err)
}
