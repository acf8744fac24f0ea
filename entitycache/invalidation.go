package entitycache

import (
	"context"
	"encoding/json"

	"github.com/lattice-graph/entity-cache/invalidation"
	"github.com/lattice-graph/entity-cache/telemetry"
)

// invalidationExtensionKey is the well-known extension field consumed and
// stripped from every response before it reaches the caller, and forwarded
// to the invalidation engine when one is wired.
const invalidationExtensionKey = "invalidation"

// consumeInvalidationExtension strips the well-known "invalidation"
// extension from resp, if present, and (when an Engine is wired) processes
// its targets asynchronously. The triggering request is never affected by
// the outcome: this is purely a side channel.
func (c *Cache) consumeInvalidationExtension(ctx context.Context, resp *Response) {
	if resp == nil || resp.Extensions == nil {
		return
	}
	raw, ok := resp.Extensions[invalidationExtensionKey]
	if !ok {
		return
	}
	delete(resp.Extensions, invalidationExtensionKey)
	if len(resp.Extensions) == 0 {
		resp.Extensions = nil
	}

	if c.invalidationEngine == nil {
		return
	}

	targets, err := decodeInvalidationTargets(raw)
	if err != nil {
		c.logger.Warn(ctx, "invalidation extension malformed, dropping", map[string]any{"error": err.Error()})
		return
	}
	if len(targets) == 0 {
		return
	}
	for i := range targets {
		if targets[i].Origin == "" {
			targets[i].Origin = invalidation.OriginExtensions
		}
	}

	requestID := telemetry.RequestIDFromContext(ctx)
	if requestID == "" {
		requestID = telemetry.NewRequestID()
	}
	go c.invalidationEngine.Process(context.WithoutCancel(ctx), invalidation.Event{Targets: targets}, requestID)
}

// decodeInvalidationTargets normalizes raw (typically []interface{} of
// map[string]interface{} produced by decoding a subgraph's JSON response)
// into a target list via a JSON round trip, so this package never needs to
// know the concrete shape a transport layer handed it.
func decodeInvalidationTargets(raw any) ([]invalidation.Target, error) {
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	var targets []invalidation.Target
	if err := json.Unmarshal(encoded, &targets); err != nil {
		return nil, err
	}
	return targets, nil
}
