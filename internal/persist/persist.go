// Package persist provides durable conversation snapshot storage and the
// debounced coordinator that feeds it.
package persist

import (
	"context"

	"github.com/arbor-ai/arbor/internal/model"
)

// Store is the storage collaborator: a full-snapshot key-value store keyed by
// conversation id. Attachment payload bytes are never part of a snapshot.
type Store interface {
	// Initialize prepares the store (schema creation etc).
	Initialize(ctx context.Context) error

	// GetAll returns every persisted conversation snapshot.
	GetAll(ctx context.Context) ([]*model.Conversation, error)

	// Upsert writes a full conversation snapshot.
	Upsert(ctx context.Context, conv *model.Conversation) error

	// Delete removes a conversation snapshot.
	Delete(ctx context.Context, conversationID string) error

	// DeleteBranch removes a branch from whichever snapshot owns it.
	DeleteBranch(ctx context.Context, branchID string) error

	// ClearAll removes every snapshot.
	ClearAll(ctx context.Context) error

	// Close releases underlying resources.
	Close() error
}
