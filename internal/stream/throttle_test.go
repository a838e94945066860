package stream

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type flushRecorder struct {
	mu      sync.Mutex
	flushes []string
}

func (r *flushRecorder) record(text string) {
	r.mu.Lock()
	r.flushes = append(r.flushes, text)
	r.mu.Unlock()
}

func (r *flushRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.flushes)
}

func (r *flushRecorder) last() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.flushes) == 0 {
		return ""
	}
	return r.flushes[len(r.flushes)-1]
}

func TestThrottlerBoundsFlushRate(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(20*time.Millisecond, rec.record)

	var want strings.Builder
	for i := 0; i < 100; i++ {
		th.Write("x")
		want.WriteString("x")
	}
	th.Final()

	// 100 one-character writes in well under one window collapse to far
	// fewer flushes than writes.
	assert.Less(t, rec.count(), 100)
	assert.Equal(t, want.String(), rec.last())
	assert.Equal(t, want.String(), th.Text())
}

func TestThrottlerTrailingFlush(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(15*time.Millisecond, rec.record)

	th.Write("hello")   // first write flushes immediately, window was cold
	th.Write(" world")  // inside the window, schedules the trailing timer

	require.Eventually(t, func() bool {
		return rec.last() == "hello world"
	}, time.Second, 5*time.Millisecond)
}

func TestThrottlerFlushesAccumulatedTextNotDeltas(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(time.Millisecond, rec.record)

	th.Write("a")
	time.Sleep(5 * time.Millisecond)
	th.Write("b")
	time.Sleep(5 * time.Millisecond)
	th.Write("c")
	th.Final()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.NotEmpty(t, rec.flushes)
	for i := 1; i < len(rec.flushes); i++ {
		assert.True(t, strings.HasPrefix(rec.flushes[i], rec.flushes[i-1]),
			"flush %d is not an extension of flush %d", i, i-1)
	}
	assert.Equal(t, "abc", rec.flushes[len(rec.flushes)-1])
}

func TestThrottlerFinalIsIdempotentAndTerminal(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(time.Hour, rec.record)

	th.Write("buffered")
	th.Final()
	n := rec.count()
	require.Greater(t, n, 0)
	assert.Equal(t, "buffered", rec.last())

	th.Final()
	th.Write("after")
	assert.Equal(t, n, rec.count())
	assert.Equal(t, "buffered", th.Text())
}

func TestThrottlerResetDiscardsBuffer(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(time.Hour, rec.record)

	th.Write("abandoned attempt")
	th.Reset()
	th.Write("replayed")
	th.Final()

	assert.Equal(t, "replayed", th.Text())
	assert.Equal(t, "replayed", rec.last())
}

func TestThrottlerFinalWithNothingBuffered(t *testing.T) {
	rec := &flushRecorder{}
	th := NewThrottler(time.Hour, rec.record)
	th.Final()
	assert.Equal(t, 0, rec.count())
}
