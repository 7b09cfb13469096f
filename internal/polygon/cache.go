package polygon

import (
	"context"
	"sync"
	"time"
)

// responseCache is a URL-keyed body cache with TTL plus in-flight request
// deduplication: two callers asking for the same URL while a request is
// pending share the single upstream call.
type responseCache struct {
	mu       sync.Mutex
	ttl      time.Duration
	entries  map[string]cacheEntry
	inflight map[string]*inflightCall

	hits   uint64
	misses uint64
}

type cacheEntry struct {
	body    []byte
	expires time.Time
}

type inflightCall struct {
	done chan struct{}
	body []byte
	err  error
}

func newResponseCache(ttl time.Duration) *responseCache {
	return &responseCache{
		ttl:      ttl,
		entries:  make(map[string]cacheEntry),
		inflight: make(map[string]*inflightCall),
	}
}

// get returns a cached body if fresh.
func (rc *responseCache) get(key string, now time.Time) ([]byte, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	e, ok := rc.entries[key]
	if !ok || now.After(e.expires) {
		rc.misses++
		return nil, false
	}
	rc.hits++
	return e.body, true
}

// begin either registers a new in-flight call (leader=true) or returns the
// existing one so the caller can wait on it.
func (rc *responseCache) begin(key string) (*inflightCall, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if call, ok := rc.inflight[key]; ok {
		return call, false
	}
	call := &inflightCall{done: make(chan struct{})}
	rc.inflight[key] = call
	return call, true
}

// finish records the outcome of the leader's call, populates the cache on
// success, and releases all waiters.
func (rc *responseCache) finish(key string, call *inflightCall, body []byte, err error, now time.Time) {
	rc.mu.Lock()
	call.body, call.err = body, err
	delete(rc.inflight, key)
	if err == nil {
		rc.entries[key] = cacheEntry{body: body, expires: now.Add(rc.ttl)}
	}
	rc.mu.Unlock()
	close(call.done)
}

// wait blocks until the shared call completes or ctx is cancelled.
func (call *inflightCall) wait(ctx context.Context) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-call.done:
		return call.body, call.err
	}
}

// clear drops every cached entry. Used by updateConfig: new thresholds may
// reclassify previously fetched data.
func (rc *responseCache) clear() {
	rc.mu.Lock()
	rc.entries = make(map[string]cacheEntry)
	rc.mu.Unlock()
}

// stats returns cumulative hit/miss counters.
func (rc *responseCache) stats() (hits, misses uint64) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.hits, rc.misses
}
