package model

import (
	"time"
)

// Role represents the role of a message sender.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// AttachmentKind classifies an attachment payload.
type AttachmentKind string

const (
	AttachmentImage    AttachmentKind = "image"
	AttachmentDocument AttachmentKind = "document"
)

// Attachment is a reference to a payload stored in the blob store.
// It never carries the payload bytes; conversation snapshots must stay
// lightweight regardless of attachment size.
type Attachment struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Kind     AttachmentKind `json:"kind"`
	MimeType string         `json:"mime_type"`
	Size     int64          `json:"size"`
}

// Message is one entry in a conversation timeline. A message belongs to
// exactly one timeline: either the conversation's main sequence or exactly
// one branch's sequence.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ParentID is reserved for threaded replies and is always empty in the
	// current model.
	ParentID string `json:"parent_id,omitempty"`

	// BranchIDs lists branches forking from this message, in creation order.
	BranchIDs []string `json:"branch_ids,omitempty"`

	// Model is set for assistant messages only.
	Model *string `json:"model,omitempty"`

	Attachments []Attachment `json:"attachments,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// HasBranch reports whether the given branch forks from this message.
func (m *Message) HasBranch(branchID string) bool {
	for _, id := range m.BranchIDs {
		if id == branchID {
			return true
		}
	}
	return false
}
