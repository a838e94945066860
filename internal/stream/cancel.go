package stream

import (
	"context"
	"sync"
)

type cancelEntry struct {
	gen    uint64
	cancel context.CancelFunc
}

// CancelRegistry tracks one in-flight stream per timeline (a conversation's
// main sequence or a single branch). Starting a new stream for a timeline
// cancels the previous one; streams on different timelines never interfere.
type CancelRegistry struct {
	mu      sync.Mutex
	nextGen uint64
	streams map[string]cancelEntry
}

// NewCancelRegistry creates an empty registry.
func NewCancelRegistry() *CancelRegistry {
	return &CancelRegistry{streams: make(map[string]cancelEntry)}
}

// Begin cancels any in-flight stream for timelineID and registers a new one.
// The returned release function must be called when the stream ends; it
// unregisters only while this stream is still the current one.
func (r *CancelRegistry) Begin(ctx context.Context, timelineID string) (context.Context, func()) {
	ctx, cancel := context.WithCancel(ctx)

	r.mu.Lock()
	if prev, ok := r.streams[timelineID]; ok {
		prev.cancel()
	}
	r.nextGen++
	gen := r.nextGen
	r.streams[timelineID] = cancelEntry{gen: gen, cancel: cancel}
	r.mu.Unlock()

	release := func() {
		r.mu.Lock()
		if current, ok := r.streams[timelineID]; ok && current.gen == gen {
			delete(r.streams, timelineID)
		}
		r.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel aborts the in-flight stream for a timeline, if any.
func (r *CancelRegistry) Cancel(timelineID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.streams[timelineID]; ok {
		entry.cancel()
		delete(r.streams, timelineID)
	}
}

// Active reports whether a stream is in flight for the timeline.
func (r *CancelRegistry) Active(timelineID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.streams[timelineID]
	return ok
}
