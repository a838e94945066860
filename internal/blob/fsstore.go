package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/metrics"
)

// FSStore stores payloads as files under a single directory, one file per
// attachment id.
type FSStore struct {
	dir    string
	logger *logger.Logger
}

// NewFSStore creates the backing directory if needed.
func NewFSStore(dir string, log *logger.Logger) (*FSStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob directory: %w", err)
	}
	return &FSStore{dir: dir, logger: log}, nil
}

// Save writes a payload.
func (s *FSStore) Save(ctx context.Context, id, payload string) error {
	err := os.WriteFile(s.path(id), []byte(payload), 0o644)
	metrics.RecordBlobOp("save", err)
	if err != nil {
		return fmt.Errorf("save blob %s: %w", id, err)
	}
	return nil
}

// Load reads a payload, returning ErrNotFound when it does not exist.
func (s *FSStore) Load(ctx context.Context, id string) (string, error) {
	raw, err := os.ReadFile(s.path(id))
	if os.IsNotExist(err) {
		metrics.RecordBlobOp("load", ErrNotFound)
		return "", ErrNotFound
	}
	metrics.RecordBlobOp("load", err)
	if err != nil {
		return "", fmt.Errorf("load blob %s: %w", id, err)
	}
	return string(raw), nil
}

// Delete removes a payload. Deleting a missing payload is not an error.
func (s *FSStore) Delete(ctx context.Context, id string) error {
	err := os.Remove(s.path(id))
	if os.IsNotExist(err) {
		err = nil
	}
	metrics.RecordBlobOp("delete", err)
	if err != nil {
		return fmt.Errorf("delete blob %s: %w", id, err)
	}
	return nil
}

// DeleteMany removes a set of payloads, best effort: individual failures are
// logged and the rest proceed.
func (s *FSStore) DeleteMany(ctx context.Context, ids []string) error {
	var failed []string
	for _, id := range ids {
		if err := s.Delete(ctx, id); err != nil {
			failed = append(failed, id)
			s.logger.Warn("failed to delete blob",
				zap.String("blob_id", id),
				zap.Error(err),
			)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("failed to delete %d blobs: %s", len(failed), strings.Join(failed, ", "))
	}
	return nil
}

func (s *FSStore) path(id string) string {
	// Attachment ids are UUIDs; base-name them anyway so a hostile id cannot
	// escape the blob directory.
	return filepath.Join(s.dir, filepath.Base(id))
}
