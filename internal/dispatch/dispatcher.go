// Package dispatch deduplicates alerts by their stable id and fans them out
// to registered subscribers in registration order with failure isolation.
package dispatch

import (
	"log/slog"
	"sync"

	"gap-scanner/internal/model"
)

// Dedupe-set bounds: when the set exceeds maxSeenIDs, the oldest evictBatch
// ids are dropped FIFO.
const (
	maxSeenIDs = 1000
	evictBatch = 500
)

// Subscriber receives dispatched alerts. Callbacks run synchronously on the
// firing goroutine; panics are contained and do not break the fan-out.
type Subscriber func(model.Alert)

type subEntry struct {
	id int
	fn Subscriber
}

// Dispatcher is safe for concurrent use. The dedupe set has its own lock so
// eviction never blocks a concurrent Fire on the subscriber list.
type Dispatcher struct {
	seenMu sync.Mutex
	seen   map[string]struct{}
	order  []string // FIFO insertion order for eviction

	subsMu sync.RWMutex
	subs   []subEntry
	nextID int

	log *slog.Logger

	// OnDuplicate is an optional metrics hook for rejected ids.
	OnDuplicate func()
}

// New creates an empty dispatcher.
func New() *Dispatcher {
	return &Dispatcher{
		seen: make(map[string]struct{}, maxSeenIDs),
		log:  slog.Default().With("component", "dispatch"),
	}
}

// Subscribe registers a callback and returns its unsubscribe handle.
func (d *Dispatcher) Subscribe(fn Subscriber) func() {
	d.subsMu.Lock()
	id := d.nextID
	d.nextID++
	d.subs = append(d.subs, subEntry{id: id, fn: fn})
	d.subsMu.Unlock()

	return func() {
		d.subsMu.Lock()
		defer d.subsMu.Unlock()
		for i, e := range d.subs {
			if e.id == id {
				d.subs = append(d.subs[:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Fire dispatches the alert unless its id was already seen. Returns whether
// the alert was delivered.
func (d *Dispatcher) Fire(alert model.Alert) bool {
	d.seenMu.Lock()
	if _, dup := d.seen[alert.ID]; dup {
		d.seenMu.Unlock()
		if d.OnDuplicate != nil {
			d.OnDuplicate()
		}
		return false
	}
	d.seen[alert.ID] = struct{}{}
	d.order = append(d.order, alert.ID)
	if len(d.seen) > maxSeenIDs {
		for _, id := range d.order[:evictBatch] {
			delete(d.seen, id)
		}
		d.order = append([]string(nil), d.order[evictBatch:]...)
	}
	d.seenMu.Unlock()

	d.subsMu.RLock()
	subs := make([]subEntry, len(d.subs))
	copy(subs, d.subs)
	d.subsMu.RUnlock()

	for _, e := range subs {
		d.deliver(e, alert)
	}
	return true
}

// deliver invokes one subscriber with panic isolation.
func (d *Dispatcher) deliver(e subEntry, alert model.Alert) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("subscriber panicked", "subscriber", e.id, "alert", alert.ID, "panic", r)
		}
	}()
	e.fn(alert)
}

// Reset clears the dedupe set. Called on updateConfig: new thresholds may
// legitimately re-fire ids suppressed under the old ones.
func (d *Dispatcher) Reset() {
	d.seenMu.Lock()
	d.seen = make(map[string]struct{}, maxSeenIDs)
	d.order = nil
	d.seenMu.Unlock()
}

// SeenCount returns the current dedupe-set size.
func (d *Dispatcher) SeenCount() int {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	return len(d.seen)
}
