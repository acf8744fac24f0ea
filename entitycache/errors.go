package entitycache

import "errors"

// Malformed-request and malformed-response are the only errors this
// package surfaces to the caller as a failed response; everything else
// (KV failures, parse failures) degrades silently and is logged instead.
var (
	// ErrMalformedRequest is returned when a representation is missing
	// __typename, or the representations variable is present but not an
	// array.
	ErrMalformedRequest = errors.New("entitycache: malformed request")

	// ErrMalformedResponse is returned when the upstream residual response
	// carries a different number of _entities than were requested, or an
	// _entities value that is not an array, making positional merge
	// impossible.
	ErrMalformedResponse = errors.New("entitycache: malformed upstream response")
)
