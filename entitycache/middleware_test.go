package entitycache

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/lattice-graph/entity-cache/cacheconfig"
)

// fakeDownstream is a scripted Downstream: each call pops the next
// response/error pair queued via Expect, recording every request it saw.
type fakeDownstream struct {
	mu    sync.Mutex
	calls []*Request
	queue []fakeCall
}

type fakeCall struct {
	resp *Response
	err  error
}

func (f *fakeDownstream) Expect(resp *Response, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue = append(f.queue, fakeCall{resp: resp, err: err})
}

func (f *fakeDownstream) Call(_ context.Context, req *Request) (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if len(f.queue) == 0 {
		return &Response{Data: map[string]any{}, Headers: make(http.Header)}, nil
	}
	next := f.queue[0]
	f.queue = f.queue[1:]
	return next.resp, next.err
}

func (f *fakeDownstream) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeDownstream) LastRequest() *Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.calls) == 0 {
		return nil
	}
	return f.calls[len(f.calls)-1]
}

// singleSubgraphFactory always returns the same Downstream regardless of
// subgraph name, sufficient for tests that exercise one subgraph.
type singleSubgraphFactory struct {
	downstream Downstream
}

func (f singleSubgraphFactory) For(string) Downstream { return f.downstream }

func testConfig(ttl time.Duration) *cacheconfig.Config {
	return &cacheconfig.Config{
		Enabled: true,
		Redis:   cacheconfig.RedisConfig{URLs: []string{"redis://localhost:6379"}},
		All:     cacheconfig.SubgraphConfig{TTL: ttl},
	}
}

// waitForWriteback gives the fire-and-forget write-back pool a moment to
// flush before a test asserts on store contents. Tests exercise a queue of
// size 1024 with immediate scheduling, so a small sleep is sufficient
// rather than a synchronization primitive that would change the
// production code's fire-and-forget contract.
func waitForWriteback() {
	time.Sleep(20 * time.Millisecond)
}
