// Package blob provides the attachment payload store. Payload bytes live
// only here; conversation snapshots carry references.
package blob

import (
	"context"
	"errors"
)

// ErrNotFound is returned when no payload exists for an id.
var ErrNotFound = errors.New("blob not found")

// Store is the blob-store collaborator. Payloads are base64-encoded strings,
// addressed by attachment id.
type Store interface {
	Save(ctx context.Context, id, payload string) error
	Load(ctx context.Context, id string) (string, error)
	Delete(ctx context.Context, id string) error
	DeleteMany(ctx context.Context, ids []string) error
}
