package entitycache

import (
	"encoding/json"
	"fmt"

	"github.com/lattice-graph/entity-cache/cachecontrol"
	"github.com/lattice-graph/entity-cache/kvstore"
)

// encodeEntry serializes a Cache-Control value and a response payload into
// a kvstore.Entry. The store treats both halves as opaque bytes; only this
// package interprets them.
func encodeEntry(cc cachecontrol.CC, payload any) (kvstore.Entry, error) {
	ccBytes, err := json.Marshal(cc)
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("entitycache: encode cache-control: %w", err)
	}
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return kvstore.Entry{}, fmt.Errorf("entitycache: encode payload: %w", err)
	}
	return kvstore.Entry{CacheControl: ccBytes, Payload: payloadBytes}, nil
}

// decodeEntry is the inverse of encodeEntry.
func decodeEntry(entry kvstore.Entry) (cachecontrol.CC, any, error) {
	var cc cachecontrol.CC
	if err := json.Unmarshal(entry.CacheControl, &cc); err != nil {
		return cachecontrol.CC{}, nil, fmt.Errorf("entitycache: decode cache-control: %w", err)
	}
	var payload any
	if err := json.Unmarshal(entry.Payload, &payload); err != nil {
		return cachecontrol.CC{}, nil, fmt.Errorf("entitycache: decode payload: %w", err)
	}
	return cc, payload, nil
}
