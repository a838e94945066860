package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arbor-ai/arbor/internal/model"
)

// SQLiteStore persists conversation snapshots as JSON rows in a local
// sqlite database.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer keeps snapshot upserts serialized.
	db.SetMaxOpenConns(1)
	return &SQLiteStore{db: db}, nil
}

// Initialize creates the snapshot table.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			snapshot   BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("create conversations table: %w", err)
	}
	return nil
}

// GetAll returns every persisted conversation snapshot.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT snapshot FROM conversations ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("query snapshots: %w", err)
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		var conv model.Conversation
		if err := json.Unmarshal(raw, &conv); err != nil {
			return nil, fmt.Errorf("decode snapshot: %w", err)
		}
		convs = append(convs, &conv)
	}
	return convs, rows.Err()
}

// Upsert writes a full conversation snapshot.
func (s *SQLiteStore) Upsert(ctx context.Context, conv *model.Conversation) error {
	raw, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, snapshot, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET snapshot = excluded.snapshot, updated_at = excluded.updated_at`,
		conv.ID, raw, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("upsert snapshot %s: %w", conv.ID, err)
	}
	return nil
}

// Delete removes a conversation snapshot.
func (s *SQLiteStore) Delete(ctx context.Context, conversationID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations WHERE id = ?`, conversationID)
	if err != nil {
		return fmt.Errorf("delete snapshot %s: %w", conversationID, err)
	}
	return nil
}

// DeleteBranch rewrites the snapshot owning the branch. Snapshots are whole
// conversations, so this is a scan; acceptable at local-client scale.
func (s *SQLiteStore) DeleteBranch(ctx context.Context, branchID string) error {
	convs, err := s.GetAll(ctx)
	if err != nil {
		return err
	}
	for _, conv := range convs {
		if conv.Branch(branchID) == nil {
			continue
		}
		branches := conv.Branches[:0]
		for _, b := range conv.Branches {
			if b.ID != branchID {
				branches = append(branches, b)
			}
		}
		conv.Branches = branches
		for i := range conv.Messages {
			stripBranchID(&conv.Messages[i], branchID)
		}
		return s.Upsert(ctx, conv)
	}
	return nil
}

// ClearAll removes every snapshot.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conversations`)
	if err != nil {
		return fmt.Errorf("clear snapshots: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func stripBranchID(msg *model.Message, branchID string) {
	ids := msg.BranchIDs[:0]
	for _, id := range msg.BranchIDs {
		if id != branchID {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		msg.BranchIDs = nil
		return
	}
	msg.BranchIDs = ids
}
