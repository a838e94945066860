package persist

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/metrics"
)

const flushTimeout = 10 * time.Second

// SnapshotSource supplies a deep-copied conversation snapshot by id. The
// second return is false when the conversation no longer exists.
type SnapshotSource interface {
	Snapshot(conversationID string) (*model.Conversation, bool)
}

// Coordinator batches conversation mutations and flushes full snapshots to
// the store no more often than once per debounce interval. Only the trailing
// edge of a burst fires. Close forces a synchronous flush of anything still
// pending so nothing is lost on teardown.
type Coordinator struct {
	store    Store
	source   SnapshotSource
	interval time.Duration
	logger   *logger.Logger

	mu     sync.Mutex
	dirty  map[string]struct{}
	timer  *time.Timer
	loaded bool
	closed bool
}

// NewCoordinator creates a debounced persistence coordinator.
func NewCoordinator(store Store, source SnapshotSource, interval time.Duration, log *logger.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		source:   source,
		interval: interval,
		logger:   log,
		dirty:    make(map[string]struct{}),
	}
}

// SetLoaded marks the initial load as complete. Dirty marks before this point
// are dropped: persisting before hydration would overwrite a not-yet-loaded
// snapshot with an empty one.
func (c *Coordinator) SetLoaded() {
	c.mu.Lock()
	c.loaded = true
	c.mu.Unlock()
}

// MarkDirty records a mutated conversation and (re)starts the debounce timer.
func (c *Coordinator) MarkDirty(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.loaded || c.closed {
		return
	}

	c.dirty[conversationID] = struct{}{}
	metrics.PersistenceDirtyConversations.Set(float64(len(c.dirty)))

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.interval, c.Flush)
}

// Flush synchronously writes every dirty conversation. The dirty set is
// cleared before the writes begin so that mutations arriving mid-write start
// a fresh debounce window instead of being dropped.
func (c *Coordinator) Flush() {
	c.mu.Lock()
	ids := make([]string, 0, len(c.dirty))
	for id := range c.dirty {
		ids = append(ids, id)
	}
	c.dirty = make(map[string]struct{})
	metrics.PersistenceDirtyConversations.Set(0)
	c.mu.Unlock()

	if len(ids) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	for _, id := range ids {
		conv, ok := c.source.Snapshot(id)
		if !ok {
			continue
		}
		if err := c.store.Upsert(ctx, conv); err != nil {
			metrics.PersistenceFlushesTotal.WithLabelValues("error").Inc()
			c.logger.Error("failed to persist conversation",
				zap.String("conversation_id", id),
				zap.Error(err),
			)
			continue
		}
		metrics.PersistenceFlushesTotal.WithLabelValues("success").Inc()
	}
}

// Close cancels any pending timer and forces a final synchronous flush.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()

	c.Flush()
}
