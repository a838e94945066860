// Package store implements the conversation tree: conversations, their main
// message sequences, and their branches. The store is the single source of
// truth; every other component goes through its operations and nothing else
// mutates the tree.
package store

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arbor-ai/arbor/internal/blob"
	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/internal/persist"
	"github.com/arbor-ai/arbor/pkg/logger"
	"github.com/arbor-ai/arbor/pkg/metrics"
)

// ErrNotFound is returned when a conversation, branch or message id cannot
// be resolved.
var ErrNotFound = errors.New("not found")

const (
	titleMaxRunes  = 50
	cascadeTimeout = 30 * time.Second
)

// branchPalette is cycled round-robin per conversation. Colors repeat once a
// conversation has more branches than palette entries; that is accepted.
var branchPalette = []string{
	"#7c3aed", "#2563eb", "#059669", "#d97706", "#dc2626", "#db2777", "#0891b2",
}

// ModelPicker chooses a branch's default model from the catalog, excluding
// the model that produced the original response. Injectable so tests can be
// deterministic.
type ModelPicker func(exclude string, catalog []string) string

// RandomModelPicker picks uniformly at random among catalog entries other
// than exclude. Falls back to exclude when it is the only choice.
func RandomModelPicker(exclude string, catalog []string) string {
	candidates := make([]string, 0, len(catalog))
	for _, m := range catalog {
		if m != exclude {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return exclude
	}
	return candidates[rand.Intn(len(candidates))]
}

// Store holds all conversations in memory and coordinates persistence and
// blob cascades. All operations are synchronous over in-memory state;
// persistence is debounced and fire-and-forget.
type Store struct {
	mu sync.RWMutex

	conversations []*model.Conversation
	byID          map[string]*model.Conversation

	activeID       string
	activeBranchID string
	openBranches   map[string]struct{}

	selectedModel string
	catalog       []string
	pickModel     ModelPicker

	storage     persist.Store
	coordinator *persist.Coordinator
	blobs       blob.Store
	logger      *logger.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithModelCatalog sets the model catalog used for branch model selection.
func WithModelCatalog(catalog []string) Option {
	return func(s *Store) { s.catalog = catalog }
}

// WithModelPicker overrides the branch default-model selection policy.
func WithModelPicker(p ModelPicker) Option {
	return func(s *Store) { s.pickModel = p }
}

// New creates a conversation store. The store owns its debounced persistence
// coordinator; call Close to force a final flush on teardown.
func New(storage persist.Store, blobs blob.Store, selectedModel string, debounce time.Duration, log *logger.Logger, opts ...Option) *Store {
	s := &Store{
		byID:          make(map[string]*model.Conversation),
		openBranches:  make(map[string]struct{}),
		selectedModel: selectedModel,
		pickModel:     RandomModelPicker,
		storage:       storage,
		blobs:         blobs,
		logger:        log,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.coordinator = persist.NewCoordinator(storage, s, debounce, log)
	return s
}

// Load hydrates the store from persisted snapshots. Mutations are not
// persisted until Load has completed.
func (s *Store) Load(ctx context.Context) error {
	convs, err := s.storage.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}

	s.mu.Lock()
	s.conversations = convs
	s.byID = make(map[string]*model.Conversation, len(convs))
	for _, conv := range convs {
		s.byID[conv.ID] = conv
	}
	s.mu.Unlock()

	s.coordinator.SetLoaded()
	s.logger.Info("conversations loaded", zap.Int("count", len(convs)))
	return nil
}

// Close flushes pending persistence work.
func (s *Store) Close() {
	s.coordinator.Close()
}

// Snapshot implements persist.SnapshotSource.
func (s *Store) Snapshot(conversationID string) (*model.Conversation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil, false
	}
	return conv.Clone(), true
}

// CreateConversation allocates a new conversation seeded with the currently
// selected model, prepends it, makes it active and clears any active branch
// selection. It never fails.
func (s *Store) CreateConversation() *model.Conversation {
	now := time.Now()
	conv := &model.Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Title:     "New Conversation",
		Model:     s.SelectedModel(),
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.conversations = append([]*model.Conversation{conv}, s.conversations...)
	s.byID[conv.ID] = conv
	s.activeID = conv.ID
	s.activeBranchID = ""
	s.mu.Unlock()

	metrics.ConversationsTotal.Inc()
	s.coordinator.MarkDirty(conv.ID)
	return conv.Clone()
}

// AddMessage appends a message to a conversation's main sequence. The first
// user message derives the conversation title. Assistant messages are
// stamped with the currently selected model.
func (s *Store) AddMessage(conversationID string, role model.Role, content string, attachments []model.Attachment) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[s.resolveConversation(conversationID)]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}

	msg := s.newMessage(role, content, attachments)
	if role == model.RoleUser && !hasUserMessage(conv.Messages) {
		conv.Title = deriveTitle(content)
	}
	conv.Messages = append(conv.Messages, msg)
	conv.UpdatedAt = time.Now()

	metrics.MessagesTotal.WithLabelValues(string(role), "main").Inc()
	s.coordinator.MarkDirty(conv.ID)
	return cloneMessage(&conv.Messages[len(conv.Messages)-1]), nil
}

// UpdateMessageContent rewrites a main-sequence message's content in place.
// Safe to call at arbitrarily high frequency during streaming.
func (s *Store) UpdateMessageContent(conversationID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[s.resolveConversation(conversationID)]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	msg := conv.MessageByID(messageID)
	if msg == nil {
		return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
	}
	msg.Content = content
	conv.UpdatedAt = time.Now()

	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// UpdateBranchMessageContent rewrites a branch message's content in place.
func (s *Store) UpdateBranchMessageContent(conversationID, branchID, messageID, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, branch, err := s.resolveBranch(conversationID, branchID)
	if err != nil {
		return err
	}
	for i := range branch.Messages {
		if branch.Messages[i].ID == messageID {
			branch.Messages[i].Content = content
			conv.UpdatedAt = time.Now()
			s.coordinator.MarkDirty(conv.ID)
			return nil
		}
	}
	return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
}

// EditMessage replaces a message's content and drops every message after it
// in the same timeline (main sequence when branchID is empty). This is a
// destructive, non-reversible structural edit: truncated history is gone,
// and branches rooted at truncated main-sequence messages are deleted so no
// branch outlives its root.
func (s *Store) EditMessage(conversationID, messageID, content, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[s.resolveConversation(conversationID)]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}

	if branchID != "" {
		branch := conv.Branch(branchID)
		if branch == nil {
			return fmt.Errorf("branch %q: %w", branchID, ErrNotFound)
		}
		i := indexOf(branch.Messages, messageID)
		if i < 0 {
			return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
		}
		branch.Messages[i].Content = content
		branch.Messages = branch.Messages[:i+1]
		conv.UpdatedAt = time.Now()
		s.coordinator.MarkDirty(conv.ID)
		return nil
	}

	i := indexOf(conv.Messages, messageID)
	if i < 0 {
		return fmt.Errorf("message %q: %w", messageID, ErrNotFound)
	}

	// Branches rooted at messages past the edit point lose their root.
	var orphaned []string
	for j := i + 1; j < len(conv.Messages); j++ {
		orphaned = append(orphaned, conv.Messages[j].BranchIDs...)
	}
	for _, id := range orphaned {
		s.removeBranchLocked(conv, id)
	}

	conv.Messages[i].Content = content
	conv.Messages = conv.Messages[:i+1]
	conv.UpdatedAt = time.Now()

	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// CreateBranch forks a conversation at an existing main-sequence message.
// When the root is a user message the branch defaults to a different model
// than the one that answered it, a deliberate second-opinion default.
func (s *Store) CreateBranch(conversationID, fromMessageID string) (*model.Branch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[s.resolveConversation(conversationID)]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	rootIdx := indexOf(conv.Messages, fromMessageID)
	if rootIdx < 0 {
		return nil, fmt.Errorf("message %q: %w", fromMessageID, ErrNotFound)
	}
	root := &conv.Messages[rootIdx]

	branchModel := s.selectedModel
	if root.Role == model.RoleUser {
		exclude := ""
		if rootIdx+1 < len(conv.Messages) && conv.Messages[rootIdx+1].Model != nil {
			exclude = *conv.Messages[rootIdx+1].Model
		}
		if picked := s.pickModel(exclude, s.catalog); picked != "" {
			branchModel = picked
		}
	}

	branch := model.Branch{
		ID:            uuid.Must(uuid.NewV7()).String(),
		Name:          fmt.Sprintf("Branch %d", len(conv.Branches)+1),
		RootMessageID: root.ID,
		Color:         branchPalette[len(conv.Branches)%len(branchPalette)],
		Model:         &branchModel,
		CreatedAt:     time.Now(),
	}

	root.BranchIDs = append(root.BranchIDs, branch.ID)
	conv.Branches = append(conv.Branches, branch)
	conv.UpdatedAt = time.Now()
	s.openBranches[branch.ID] = struct{}{}

	metrics.BranchesTotal.Inc()
	s.coordinator.MarkDirty(conv.ID)

	created := branch
	m := branchModel
	created.Model = &m
	return &created, nil
}

// AddMessageToBranch appends a message to a branch's own sequence. Assistant
// messages are stamped with the branch's model override when present.
func (s *Store) AddMessageToBranch(conversationID, branchID string, role model.Role, content string, attachments []model.Attachment) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, branch, err := s.resolveBranch(conversationID, branchID)
	if err != nil {
		return nil, err
	}

	msg := s.newMessage(role, content, attachments)
	if role == model.RoleAssistant && branch.Model != nil {
		m := *branch.Model
		msg.Model = &m
	}
	branch.Messages = append(branch.Messages, msg)
	conv.UpdatedAt = time.Now()

	metrics.MessagesTotal.WithLabelValues(string(role), "branch").Inc()
	s.coordinator.MarkDirty(conv.ID)
	return cloneMessage(&branch.Messages[len(branch.Messages)-1]), nil
}

// DeleteBranch removes a branch, untags its root message and cascades blob
// deletion for the branch's attachments.
func (s *Store) DeleteBranch(conversationID, branchID string) error {
	s.mu.Lock()
	conv, branch, err := s.resolveBranch(conversationID, branchID)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	attachmentIDs := collectAttachmentIDs(branch.Messages)
	s.removeBranchLocked(conv, branchID)
	conv.UpdatedAt = time.Now()
	s.mu.Unlock()

	s.cascadeBlobDeletion(attachmentIDs)
	s.deleteBranchSnapshot(branchID)
	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// DeleteConversation removes a conversation, all of its branches, and every
// attachment blob reachable from them.
func (s *Store) DeleteConversation(conversationID string) error {
	s.mu.Lock()
	conv, ok := s.byID[conversationID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}

	attachmentIDs := conv.AttachmentIDs()
	for _, b := range conv.Branches {
		delete(s.openBranches, b.ID)
	}
	delete(s.byID, conversationID)
	for i, c := range s.conversations {
		if c.ID == conversationID {
			s.conversations = append(s.conversations[:i], s.conversations[i+1:]...)
			break
		}
	}
	if s.activeID == conversationID {
		s.activeID = ""
		s.activeBranchID = ""
	}
	s.mu.Unlock()

	s.cascadeBlobDeletion(attachmentIDs)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()
		if err := s.storage.Delete(ctx, conversationID); err != nil {
			s.logger.Error("failed to delete persisted conversation",
				zap.String("conversation_id", conversationID),
				zap.Error(err),
			)
		}
	}()
	return nil
}

// ClearAllConversations removes everything: blobs, persisted snapshots and
// in-memory state.
func (s *Store) ClearAllConversations() error {
	s.mu.Lock()
	var attachmentIDs []string
	seen := make(map[string]struct{})
	for _, conv := range s.conversations {
		for _, id := range conv.AttachmentIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			attachmentIDs = append(attachmentIDs, id)
		}
	}
	s.conversations = nil
	s.byID = make(map[string]*model.Conversation)
	s.openBranches = make(map[string]struct{})
	s.activeID = ""
	s.activeBranchID = ""
	s.mu.Unlock()

	s.cascadeBlobDeletion(attachmentIDs)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()
		if err := s.storage.ClearAll(ctx); err != nil {
			s.logger.Error("failed to clear persisted conversations", zap.Error(err))
		}
	}()
	return nil
}

// ToggleStar flips a conversation's starred flag.
func (s *Store) ToggleStar(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	conv.Starred = !conv.Starred
	conv.UpdatedAt = time.Now()
	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// UpdateConversationTitle sets a conversation's title.
func (s *Store) UpdateConversationTitle(conversationID, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.byID[conversationID]
	if !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// ToggleBranchCollapse flips a branch's collapse flag.
func (s *Store) ToggleBranchCollapse(conversationID, branchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, branch, err := s.resolveBranch(conversationID, branchID)
	if err != nil {
		return err
	}
	branch.Collapsed = !branch.Collapsed
	conv.UpdatedAt = time.Now()
	s.coordinator.MarkDirty(conv.ID)
	return nil
}

// OpenBranch marks a branch as rendered. The open set is presentation state,
// independent of the branch's existence in the tree, and is not persisted.
func (s *Store) OpenBranch(branchID string) {
	s.mu.Lock()
	s.openBranches[branchID] = struct{}{}
	s.mu.Unlock()
}

// CloseBranch removes a branch from the open set.
func (s *Store) CloseBranch(branchID string) {
	s.mu.Lock()
	delete(s.openBranches, branchID)
	s.mu.Unlock()
}

// IsBranchOpen reports whether a branch is in the open set.
func (s *Store) IsBranchOpen(branchID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.openBranches[branchID]
	return ok
}

// SetActiveConversation switches the active conversation.
func (s *Store) SetActiveConversation(conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[conversationID]; !ok {
		return fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	s.activeID = conversationID
	s.activeBranchID = ""
	return nil
}

// ActiveConversationID returns the active conversation id, if any.
func (s *Store) ActiveConversationID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.activeID
}

// SetSelectedModel changes the globally selected model.
func (s *Store) SetSelectedModel(m string) {
	s.mu.Lock()
	s.selectedModel = m
	s.mu.Unlock()
}

// SelectedModel returns the globally selected model.
func (s *Store) SelectedModel() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selectedModel
}

// Get returns a deep copy of a conversation.
func (s *Store) Get(conversationID string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.byID[conversationID]
	if !ok {
		return nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	return conv.Clone(), nil
}

// List returns deep copies of all conversations, newest first.
func (s *Store) List() []*model.Conversation {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.Conversation, len(s.conversations))
	for i, conv := range s.conversations {
		out[i] = conv.Clone()
	}
	return out
}

func (s *Store) resolveConversation(conversationID string) string {
	if conversationID != "" {
		return conversationID
	}
	return s.activeID
}

func (s *Store) resolveBranch(conversationID, branchID string) (*model.Conversation, *model.Branch, error) {
	conv, ok := s.byID[s.resolveConversation(conversationID)]
	if !ok {
		return nil, nil, fmt.Errorf("conversation %q: %w", conversationID, ErrNotFound)
	}
	branch := conv.Branch(branchID)
	if branch == nil {
		return nil, nil, fmt.Errorf("branch %q: %w", branchID, ErrNotFound)
	}
	return conv, branch, nil
}

// removeBranchLocked drops a branch and its root-message tag. Caller holds
// the write lock.
func (s *Store) removeBranchLocked(conv *model.Conversation, branchID string) {
	for i := range conv.Branches {
		if conv.Branches[i].ID != branchID {
			continue
		}
		conv.Branches = append(conv.Branches[:i], conv.Branches[i+1:]...)
		break
	}
	for i := range conv.Messages {
		msg := &conv.Messages[i]
		if !msg.HasBranch(branchID) {
			continue
		}
		ids := msg.BranchIDs[:0]
		for _, id := range msg.BranchIDs {
			if id != branchID {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			msg.BranchIDs = nil
		} else {
			msg.BranchIDs = ids
		}
		break
	}
	delete(s.openBranches, branchID)
}

func (s *Store) newMessage(role model.Role, content string, attachments []model.Attachment) model.Message {
	msg := model.Message{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Role:        role,
		Content:     content,
		Attachments: attachments,
		CreatedAt:   time.Now(),
	}
	if role == model.RoleAssistant {
		m := s.selectedModel
		msg.Model = &m
	}
	return msg
}

// cascadeBlobDeletion deletes attachment payloads best effort, off the
// mutation path. Failures are logged, never rolled back.
func (s *Store) cascadeBlobDeletion(attachmentIDs []string) {
	if len(attachmentIDs) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()
		if err := s.blobs.DeleteMany(ctx, attachmentIDs); err != nil {
			s.logger.Warn("attachment blob cascade incomplete",
				zap.Int("count", len(attachmentIDs)),
				zap.Error(err),
			)
		}
	}()
}

func (s *Store) deleteBranchSnapshot(branchID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), cascadeTimeout)
		defer cancel()
		if err := s.storage.DeleteBranch(ctx, branchID); err != nil {
			s.logger.Error("failed to delete persisted branch",
				zap.String("branch_id", branchID),
				zap.Error(err),
			)
		}
	}()
}

func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleMaxRunes {
		return content
	}
	return string(runes[:titleMaxRunes]) + "..."
}

func hasUserMessage(msgs []model.Message) bool {
	for i := range msgs {
		if msgs[i].Role == model.RoleUser {
			return true
		}
	}
	return false
}

func indexOf(msgs []model.Message, messageID string) int {
	for i := range msgs {
		if msgs[i].ID == messageID {
			return i
		}
	}
	return -1
}

func collectAttachmentIDs(msgs []model.Message) []string {
	seen := make(map[string]struct{})
	var ids []string
	for i := range msgs {
		for _, att := range msgs[i].Attachments {
			if _, ok := seen[att.ID]; ok {
				continue
			}
			seen[att.ID] = struct{}{}
			ids = append(ids, att.ID)
		}
	}
	return ids
}

func cloneMessage(m *model.Message) *model.Message {
	out := *m
	out.BranchIDs = append([]string(nil), m.BranchIDs...)
	out.Attachments = append([]model.Attachment(nil), m.Attachments...)
	return &out
}
