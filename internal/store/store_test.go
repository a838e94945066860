package store

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbor-ai/arbor/internal/model"
	"github.com/arbor-ai/arbor/pkg/logger"
)

type fakeStorage struct {
	mu       sync.Mutex
	upserts  []*model.Conversation
	deleted  []string
	branches []string
	cleared  bool
}

func (f *fakeStorage) Initialize(ctx context.Context) error { return nil }
func (f *fakeStorage) GetAll(ctx context.Context) ([]*model.Conversation, error) {
	return nil, nil
}
func (f *fakeStorage) Upsert(ctx context.Context, conv *model.Conversation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, conv)
	return nil
}
func (f *fakeStorage) Delete(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, id)
	return nil
}
func (f *fakeStorage) DeleteBranch(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.branches = append(f.branches, id)
	return nil
}
func (f *fakeStorage) ClearAll(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared = true
	return nil
}
func (f *fakeStorage) Close() error { return nil }

type fakeBlobs struct {
	mu          sync.Mutex
	deleteCalls [][]string
}

func (f *fakeBlobs) Save(ctx context.Context, id, payload string) error { return nil }
func (f *fakeBlobs) Load(ctx context.Context, id string) (string, error) {
	return "", nil
}
func (f *fakeBlobs) Delete(ctx context.Context, id string) error { return nil }
func (f *fakeBlobs) DeleteMany(ctx context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls = append(f.deleteCalls, ids)
	return nil
}

func (f *fakeBlobs) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]string, len(f.deleteCalls))
	copy(out, f.deleteCalls)
	return out
}

var testCatalog = []string{"model-a", "model-b", "model-c"}

// firstOtherPicker deterministically returns the first catalog entry that is
// not excluded.
func firstOtherPicker(exclude string, catalog []string) string {
	for _, m := range catalog {
		if m != exclude {
			return m
		}
	}
	return exclude
}

func newTestStore(t *testing.T) (*Store, *fakeStorage, *fakeBlobs) {
	t.Helper()
	storage := &fakeStorage{}
	blobs := &fakeBlobs{}
	s := New(storage, blobs, "model-a", time.Hour, logger.NewNop(),
		WithModelCatalog(testCatalog),
		WithModelPicker(firstOtherPicker),
	)
	require.NoError(t, s.Load(context.Background()))
	return s, storage, blobs
}

func TestAddMessagePreservesOrder(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	for i := 0; i < 5; i++ {
		_, err := s.AddMessage(conv.ID, model.RoleUser, fmt.Sprintf("message %d", i), nil)
		require.NoError(t, err)
	}

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 5)
	for i, msg := range got.Messages {
		assert.Equal(t, fmt.Sprintf("message %d", i), msg.Content)
	}
}

func TestAddMessageUnknownConversation(t *testing.T) {
	s, _, _ := newTestStore(t)
	_, err := s.AddMessage("no-such-id", model.RoleUser, "hello", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTitleDerivedFromFirstUserMessage(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	_, err := s.AddMessage(conv.ID, model.RoleUser, "Explain recursion", nil)
	require.NoError(t, err)

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "Explain recursion", got.Title)
}

func TestTitleTruncatedWithEllipsis(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	long := ""
	for i := 0; i < 100; i++ {
		long += "x"
	}
	_, err := s.AddMessage(conv.ID, model.RoleUser, long, nil)
	require.NoError(t, err)

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Title, 53)
	assert.Equal(t, long[:50]+"...", got.Title)
}

func TestTitleNotRederivedBySecondUserMessage(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	_, err := s.AddMessage(conv.ID, model.RoleUser, "first", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleUser, "second", nil)
	require.NoError(t, err)

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", got.Title)
}

func TestAssistantMessageStampedWithModel(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	user, err := s.AddMessage(conv.ID, model.RoleUser, "q", nil)
	require.NoError(t, err)
	assert.Nil(t, user.Model)

	assistant, err := s.AddMessage(conv.ID, model.RoleAssistant, "a", nil)
	require.NoError(t, err)
	require.NotNil(t, assistant.Model)
	assert.Equal(t, "model-a", *assistant.Model)
}

func TestEditMessageTruncates(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	var ids []string
	for i := 0; i < 5; i++ {
		msg, err := s.AddMessage(conv.ID, model.RoleUser, fmt.Sprintf("m%d", i), nil)
		require.NoError(t, err)
		ids = append(ids, msg.ID)
	}

	require.NoError(t, s.EditMessage(conv.ID, ids[2], "edited", ""))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "edited", got.Messages[2].Content)
	assert.Equal(t, ids[:3], []string{got.Messages[0].ID, got.Messages[1].ID, got.Messages[2].ID})
}

func TestEditMessageInBranchDoesNotTouchMain(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	root, err := s.AddMessage(conv.ID, model.RoleUser, "root", nil)
	require.NoError(t, err)
	branch, err := s.CreateBranch(conv.ID, root.ID)
	require.NoError(t, err)

	first, err := s.AddMessageToBranch(conv.ID, branch.ID, model.RoleUser, "b1", nil)
	require.NoError(t, err)
	_, err = s.AddMessageToBranch(conv.ID, branch.ID, model.RoleUser, "b2", nil)
	require.NoError(t, err)

	require.NoError(t, s.EditMessage(conv.ID, first.ID, "edited", branch.ID))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	gb := got.Branch(branch.ID)
	require.NotNil(t, gb)
	require.Len(t, gb.Messages, 1)
	assert.Equal(t, "edited", gb.Messages[0].Content)
}

func TestEditTruncationDeletesOrphanedBranches(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	a, err := s.AddMessage(conv.ID, model.RoleUser, "a", nil)
	require.NoError(t, err)
	b, err := s.AddMessage(conv.ID, model.RoleUser, "b", nil)
	require.NoError(t, err)

	branch, err := s.CreateBranch(conv.ID, b.ID)
	require.NoError(t, err)

	require.NoError(t, s.EditMessage(conv.ID, a.ID, "edited", ""))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.Len(t, got.Messages, 1)
	assert.Nil(t, got.Branch(branch.ID))
	assert.False(t, s.IsBranchOpen(branch.ID))
}

func TestCreateBranchTagsRootAndDeleteReverses(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	root, err := s.AddMessage(conv.ID, model.RoleUser, "root", nil)
	require.NoError(t, err)

	branch, err := s.CreateBranch(conv.ID, root.ID)
	require.NoError(t, err)
	assert.Equal(t, root.ID, branch.RootMessageID)
	assert.True(t, s.IsBranchOpen(branch.ID))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.MessageByID(root.ID))
	assert.Contains(t, got.MessageByID(root.ID).BranchIDs, branch.ID)

	require.NoError(t, s.DeleteBranch(conv.ID, branch.ID))

	got, err = s.Get(conv.ID)
	require.NoError(t, err)
	assert.Empty(t, got.MessageByID(root.ID).BranchIDs)
	assert.Nil(t, got.Branch(branch.ID))
	assert.False(t, s.IsBranchOpen(branch.ID))
}

func TestBranchFromUnknownMessage(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()
	_, err := s.CreateBranch(conv.ID, "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBranchColorRoundRobin(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	root, err := s.AddMessage(conv.ID, model.RoleUser, "root", nil)
	require.NoError(t, err)

	n := len(branchPalette) + 2
	for k := 1; k <= n; k++ {
		branch, err := s.CreateBranch(conv.ID, root.ID)
		require.NoError(t, err)
		assert.Equal(t, branchPalette[(k-1)%len(branchPalette)], branch.Color, "branch %d", k)
	}
}

func TestBranchSecondOpinionModelDefault(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	root, err := s.AddMessage(conv.ID, model.RoleUser, "q", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleAssistant, "a", nil)
	require.NoError(t, err)

	// The assistant answer was produced by model-a; the deterministic picker
	// returns the first other catalog entry.
	branch, err := s.CreateBranch(conv.ID, root.ID)
	require.NoError(t, err)
	require.NotNil(t, branch.Model)
	assert.Equal(t, "model-b", *branch.Model)
}

func TestBranchFromAssistantInheritsSelectedModel(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	_, err := s.AddMessage(conv.ID, model.RoleUser, "q", nil)
	require.NoError(t, err)
	assistant, err := s.AddMessage(conv.ID, model.RoleAssistant, "a", nil)
	require.NoError(t, err)

	s.SetSelectedModel("model-c")
	branch, err := s.CreateBranch(conv.ID, assistant.ID)
	require.NoError(t, err)
	require.NotNil(t, branch.Model)
	assert.Equal(t, "model-c", *branch.Model)
}

func TestBranchSequenceIndependentFromMain(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	a, err := s.AddMessage(conv.ID, model.RoleUser, "A", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleAssistant, "B", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleUser, "C", nil)
	require.NoError(t, err)

	branch, err := s.CreateBranch(conv.ID, a.ID)
	require.NoError(t, err)
	_, err = s.AddMessageToBranch(conv.ID, branch.ID, model.RoleUser, "X", nil)
	require.NoError(t, err)

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "A", got.Messages[0].Content)
	assert.Equal(t, "B", got.Messages[1].Content)
	assert.Equal(t, "C", got.Messages[2].Content)

	gb := got.Branch(branch.ID)
	require.NotNil(t, gb)
	require.Len(t, gb.Messages, 1)
	assert.Equal(t, "X", gb.Messages[0].Content)
}

func TestBranchAssistantUsesBranchModel(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	root, err := s.AddMessage(conv.ID, model.RoleUser, "q", nil)
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleAssistant, "a", nil)
	require.NoError(t, err)

	branch, err := s.CreateBranch(conv.ID, root.ID)
	require.NoError(t, err)

	msg, err := s.AddMessageToBranch(conv.ID, branch.ID, model.RoleAssistant, "alt", nil)
	require.NoError(t, err)
	require.NotNil(t, msg.Model)
	assert.Equal(t, *branch.Model, *msg.Model)
}

func TestDeleteConversationCascadesBlobsOnce(t *testing.T) {
	s, _, blobs := newTestStore(t)
	conv := s.CreateConversation()

	att := func(id string) []model.Attachment {
		return []model.Attachment{{ID: id, Kind: model.AttachmentImage, MimeType: "image/png"}}
	}

	root, err := s.AddMessage(conv.ID, model.RoleUser, "main", att("blob-1"))
	require.NoError(t, err)
	_, err = s.AddMessage(conv.ID, model.RoleUser, "main2", att("blob-2"))
	require.NoError(t, err)

	branch, err := s.CreateBranch(conv.ID, root.ID)
	require.NoError(t, err)
	_, err = s.AddMessageToBranch(conv.ID, branch.ID, model.RoleUser, "b", att("blob-3"))
	require.NoError(t, err)

	require.NoError(t, s.DeleteConversation(conv.ID))
	_, err = s.Get(conv.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	require.Eventually(t, func() bool {
		return len(blobs.calls()) == 1
	}, time.Second, 10*time.Millisecond)

	assert.ElementsMatch(t, []string{"blob-1", "blob-2", "blob-3"}, blobs.calls()[0])
}

func TestUpdateMessageContentIdempotent(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	msg, err := s.AddMessage(conv.ID, model.RoleAssistant, "", nil)
	require.NoError(t, err)

	for i := 0; i < 100; i++ {
		require.NoError(t, s.UpdateMessageContent(conv.ID, msg.ID, fmt.Sprintf("token %d", i)))
	}

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	require.Len(t, got.Messages, 1)
	assert.Equal(t, "token 99", got.Messages[0].Content)
}

func TestToggleStarAndTitle(t *testing.T) {
	s, _, _ := newTestStore(t)
	conv := s.CreateConversation()

	require.NoError(t, s.ToggleStar(conv.ID))
	require.NoError(t, s.UpdateConversationTitle(conv.ID, "renamed"))

	got, err := s.Get(conv.ID)
	require.NoError(t, err)
	assert.True(t, got.Starred)
	assert.Equal(t, "renamed", got.Title)

	require.NoError(t, s.ToggleStar(conv.ID))
	got, err = s.Get(conv.ID)
	require.NoError(t, err)
	assert.False(t, got.Starred)
}

func TestCreateConversationActivates(t *testing.T) {
	s, _, _ := newTestStore(t)

	first := s.CreateConversation()
	assert.Equal(t, first.ID, s.ActiveConversationID())

	second := s.CreateConversation()
	assert.Equal(t, second.ID, s.ActiveConversationID())

	// Newest first.
	list := s.List()
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID)
}

func TestClearAllConversations(t *testing.T) {
	s, storage, _ := newTestStore(t)
	s.CreateConversation()
	s.CreateConversation()

	require.NoError(t, s.ClearAllConversations())
	assert.Empty(t, s.List())
	assert.Empty(t, s.ActiveConversationID())

	require.Eventually(t, func() bool {
		storage.mu.Lock()
		defer storage.mu.Unlock()
		return storage.cleared
	}, time.Second, 10*time.Millisecond)
}
