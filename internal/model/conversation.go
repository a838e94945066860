// Package model defines data structures for the branching chat core.
package model

import (
	"time"
)

// Branch is an independently sequenced fork of a conversation rooted at one
// existing main-sequence message. The root message is referenced by id, never
// duplicated; the branch is conceptually prefixed by the parent timeline up
// to and including the root.
type Branch struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	RootMessageID string    `json:"root_message_id"`
	Messages      []Message `json:"messages"`
	Collapsed     bool      `json:"collapsed"`
	Color         string    `json:"color"`
	Model         *string   `json:"model,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Conversation is a conversation tree: a main message sequence plus any
// number of branches.
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Messages  []Message `json:"messages"`
	Branches  []Branch  `json:"branches,omitempty"`
	Model     string    `json:"model"`
	Starred   bool      `json:"starred,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Branch returns the branch with the given id, or nil.
func (c *Conversation) Branch(branchID string) *Branch {
	for i := range c.Branches {
		if c.Branches[i].ID == branchID {
			return &c.Branches[i]
		}
	}
	return nil
}

// MessageByID returns the main-sequence message with the given id, or nil.
func (c *Conversation) MessageByID(messageID string) *Message {
	for i := range c.Messages {
		if c.Messages[i].ID == messageID {
			return &c.Messages[i]
		}
	}
	return nil
}

// AttachmentIDs collects every attachment id reachable from the conversation,
// across the main sequence and all branches, without duplicates.
func (c *Conversation) AttachmentIDs() []string {
	seen := make(map[string]struct{})
	var ids []string

	collect := func(msgs []Message) {
		for i := range msgs {
			for _, att := range msgs[i].Attachments {
				if _, ok := seen[att.ID]; ok {
					continue
				}
				seen[att.ID] = struct{}{}
				ids = append(ids, att.ID)
			}
		}
	}

	collect(c.Messages)
	for i := range c.Branches {
		collect(c.Branches[i].Messages)
	}
	return ids
}

// Clone returns a deep copy of the conversation, used for snapshots so that
// persistence never races with in-place mutation.
func (c *Conversation) Clone() *Conversation {
	out := *c
	out.Messages = cloneMessages(c.Messages)
	out.Branches = make([]Branch, len(c.Branches))
	for i, b := range c.Branches {
		nb := b
		nb.Messages = cloneMessages(b.Messages)
		out.Branches[i] = nb
	}
	return &out
}

func cloneMessages(msgs []Message) []Message {
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		nm := m
		nm.BranchIDs = append([]string(nil), m.BranchIDs...)
		nm.Attachments = append([]Attachment(nil), m.Attachments...)
		out[i] = nm
	}
	return out
}
