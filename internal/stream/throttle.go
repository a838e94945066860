package stream

import (
	"sync"
	"time"
)

// FlushFunc receives the full accumulated text of a stream so far.
type FlushFunc func(text string)

// Throttler bounds the rate at which streaming text reaches shared state.
// Incoming deltas accumulate in a buffer that is flushed at most once per
// interval; a timer guarantees a trailing flush even when no further delta
// arrives, and Final flushes synchronously regardless of the window. Every
// independent stream must use its own Throttler; buffers are never shared.
type Throttler struct {
	interval time.Duration
	flush    FlushFunc

	mu        sync.Mutex
	text      string
	dirty     bool
	lastFlush time.Time
	timer     *time.Timer
	done      bool
}

// NewThrottler creates a throttler that hands accumulated text to flush.
func NewThrottler(interval time.Duration, flush FlushFunc) *Throttler {
	return &Throttler{interval: interval, flush: flush}
}

// Write appends a delta and flushes if the window has elapsed; otherwise a
// trailing flush is scheduled.
func (t *Throttler) Write(delta string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.text += delta
	t.dirty = true

	elapsed := time.Since(t.lastFlush)
	if elapsed >= t.interval {
		t.flushLocked()
		return
	}
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval-elapsed, t.timerFlush)
	}
}

// Final synchronously flushes any buffered content and stops the throttler.
// It is the stream's sole termination signal for state updates.
func (t *Throttler) Final() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.done {
		return
	}
	t.done = true
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	if t.dirty {
		t.flushLocked()
	}
}

// Reset discards accumulated text, so the next flush rewrites shared state
// from scratch. Used when a stream attempt is abandoned and replayed.
func (t *Throttler) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return
	}
	t.text = ""
	t.dirty = false
}

// Text returns the accumulated text.
func (t *Throttler) Text() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.text
}

func (t *Throttler) timerFlush() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer = nil
	if t.done || !t.dirty {
		return
	}
	t.flushLocked()
}

// flushLocked runs the flush callback under the lock so flushes for one
// stream are strictly ordered.
func (t *Throttler) flushLocked() {
	t.dirty = false
	t.lastFlush = time.Now()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.flush(t.text)
}
