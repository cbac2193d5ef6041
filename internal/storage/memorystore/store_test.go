package memorystore_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/convostore/internal/storage"
	"github.com/blueberrycongee/convostore/internal/storage/memorystore"
	storeerrors "github.com/blueberrycongee/convostore/pkg/errors"
	"github.com/blueberrycongee/convostore/pkg/types"
	"github.com/blueberrycongee/convostore/tests/testutil"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newStore(t *testing.T, opts ...memorystore.Option) (*memorystore.Store, *testutil.Clock) {
	t.Helper()
	ops, _ := testutil.NewOperations(t)
	clock := testutil.NewClock(epoch)
	opts = append([]memorystore.Option{memorystore.WithClock(clock.Now)}, opts...)
	return memorystore.New(ops, opts...), clock
}

func seedThread(t *testing.T, s *memorystore.Store, id, resourceID string) types.Thread {
	t.Helper()
	thread, err := s.SaveThread(context.Background(), types.Thread{ID: id, ResourceID: resourceID, Title: "thread " + id})
	require.NoError(t, err)
	return thread
}

// seedMessages saves n messages m1..mn one second apart.
func seedMessages(t *testing.T, s *memorystore.Store, threadID string, n int) []types.Message {
	t.Helper()
	msgs := make([]types.Message, n)
	for i := range msgs {
		msgs[i] = types.Message{
			ID:        fmt.Sprintf("%s-m%d", threadID, i+1),
			ThreadID:  threadID,
			Role:      "user",
			Content:   map[string]any{"content": fmt.Sprintf("message %d", i+1)},
			CreatedAt: epoch.Add(time.Duration(i+1) * time.Second),
		}
	}
	saved, err := s.SaveMessages(context.Background(), msgs)
	require.NoError(t, err)
	return saved
}

func ids(msgs []types.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.ID
	}
	return out
}

func TestThreads_SaveGetUpdate(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	_, err := s.SaveThread(ctx, types.Thread{
		ID:         "t1",
		ResourceID: "user-1",
		Title:      "first",
		Metadata:   map[string]any{"topic": "billing"},
	})
	require.NoError(t, err)

	got, err := s.GetThreadByID(ctx, "t1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "user-1", got.ResourceID)
	assert.Equal(t, map[string]any{"topic": "billing"}, got.Metadata)
	assert.Equal(t, epoch, got.CreatedAt)

	missing, err := s.GetThreadByID(ctx, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	clock.Advance(time.Minute)
	updated, err := s.UpdateThread(ctx, types.UpdateThreadInput{
		ID:       "t1",
		Title:    "renamed",
		Metadata: map[string]any{"workingMemory": "# Notes"},
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", updated.Title)
	assert.Equal(t, map[string]any{"topic": "billing", "workingMemory": "# Notes"}, updated.Metadata)

	got, err = s.GetThreadByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, updated.Metadata, got.Metadata)
	assert.Equal(t, epoch, got.CreatedAt)
	assert.Equal(t, epoch.Add(time.Minute), got.UpdatedAt)
	wm, ok := got.WorkingMemory()
	assert.True(t, ok)
	assert.Equal(t, "# Notes", wm)
}

func TestThreads_UpdateKeepsConcurrentMetadataWrite(t *testing.T) {
	ctx := context.Background()
	var (
		s          *memorystore.Store
		interleave bool
	)
	// The clock is read between UpdateThread's read and its write; use it to
	// slip in a competing working memory write at exactly that point.
	clock := func() time.Time {
		if interleave {
			interleave = false
			_, err := s.UpdateThread(ctx, types.UpdateThreadInput{
				ID:       "t1",
				Metadata: map[string]any{"workingMemory": "likes tea"},
			})
			require.NoError(t, err)
		}
		return epoch
	}
	s, _ = newStore(t, memorystore.WithClock(clock))
	seedThread(t, s, "t1", "r1")
	interleave = true

	updated, err := s.UpdateThread(ctx, types.UpdateThreadInput{
		ID:       "t1",
		Title:    "renamed",
		Metadata: map[string]any{"topic": "billing"},
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"topic": "billing", "workingMemory": "likes tea"}, updated.Metadata)

	got, err := s.GetThreadByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Title)
	wm, ok := got.WorkingMemory()
	assert.True(t, ok, "the competing write survives")
	assert.Equal(t, "likes tea", wm)
}

func TestThreads_UpdateMissingIsNotFound(t *testing.T) {
	s, _ := newStore(t)
	_, err := s.UpdateThread(context.Background(), types.UpdateThreadInput{ID: "ghost", Title: "x"})
	require.Error(t, err)
	assert.True(t, storeerrors.IsNotFound(err))
}

func TestThreads_SaveKeepsCreatedAt(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	seedThread(t, s, "t1", "r1")
	clock.Advance(time.Hour)
	_, err := s.SaveThread(ctx, types.Thread{ID: "t1", ResourceID: "r1", Title: "again", CreatedAt: clock.Now()})
	require.NoError(t, err)

	got, err := s.GetThreadByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, epoch, got.CreatedAt)
	assert.Equal(t, "again", got.Title)
}

func TestThreads_DeleteCascadesToMessages(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	seedThread(t, s, "t1", "r1")
	seedThread(t, s, "t2", "r1")
	seedMessages(t, s, "t1", 3)
	seedMessages(t, s, "t2", 2)

	require.NoError(t, s.DeleteThread(ctx, "t1"))

	got, err := s.GetThreadByID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, got)

	msgs, err := s.GetMessages(ctx, types.GetMessagesArgs{ThreadID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = s.GetMessages(ctx, types.GetMessagesArgs{ThreadID: "t2"})
	require.NoError(t, err)
	assert.Len(t, msgs, 2)

	require.NoError(t, s.DeleteThread(ctx, "t1"), "deleting twice is not an error")
}

func TestThreads_ListingOrderAndPages(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		seedThread(t, s, fmt.Sprintf("t%d", i), "r1")
		clock.Advance(time.Second)
	}
	seedThread(t, s, "other", "r2")

	threads, err := s.GetThreadsByResourceID(ctx, "r1", types.ThreadSort{})
	require.NoError(t, err)
	require.Len(t, threads, 5)
	assert.Equal(t, "t5", threads[0].ID)
	assert.Equal(t, "t1", threads[4].ID)

	threads, err = s.GetThreadsByResourceID(ctx, "r1", types.ThreadSort{Direction: types.SortAsc})
	require.NoError(t, err)
	assert.Equal(t, "t1", threads[0].ID)

	page, err := s.GetThreadsByResourceIDPaginated(ctx, types.GetThreadsArgs{ResourceID: "r1", Page: 0, PerPage: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, page.Total)
	assert.True(t, page.HasMore)
	assert.Equal(t, []string{"t5", "t4"}, []string{page.Threads[0].ID, page.Threads[1].ID})

	page, err = s.GetThreadsByResourceIDPaginated(ctx, types.GetThreadsArgs{ResourceID: "r1", Page: 2, PerPage: 2})
	require.NoError(t, err)
	require.Len(t, page.Threads, 1)
	assert.Equal(t, "t1", page.Threads[0].ID)
	assert.False(t, page.HasMore)

	page, err = s.GetThreadsByResourceIDPaginated(ctx, types.GetThreadsArgs{ResourceID: "nobody"})
	require.NoError(t, err)
	assert.Empty(t, page.Threads)
	assert.Equal(t, 0, page.Total)
	assert.Equal(t, memorystore.DefaultThreadsPerPage, page.PerPage)
}

func TestThreads_SortByUpdatedAt(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	seedThread(t, s, "old", "r1")
	clock.Advance(time.Second)
	seedThread(t, s, "new", "r1")
	clock.Advance(time.Second)
	seedMessages(t, s, "old", 1)

	threads, err := s.GetThreadsByResourceID(ctx, "r1", types.ThreadSort{OrderBy: types.ThreadOrderByUpdatedAt})
	require.NoError(t, err)
	assert.Equal(t, []string{"old", "new"}, []string{threads[0].ID, threads[1].ID})
}

func TestResources_UpdateCreatesThenMerges(t *testing.T) {
	s, clock := newStore(t)
	ctx := context.Background()

	missing, err := s.GetResourceByID(ctx, "user-1")
	require.NoError(t, err)
	assert.Nil(t, missing)

	wm := "# User\n- Name: Ada"
	created, err := s.UpdateResource(ctx, types.UpdateResourceInput{
		ResourceID:    "user-1",
		WorkingMemory: &wm,
		Metadata:      map[string]any{"plan": "pro"},
	})
	require.NoError(t, err)
	assert.Equal(t, wm, created.WorkingMemory)

	clock.Advance(time.Minute)
	updated, err := s.UpdateResource(ctx, types.UpdateResourceInput{
		ResourceID: "user-1",
		Metadata:   map[string]any{"locale": "en"},
	})
	require.NoError(t, err)
	assert.Equal(t, wm, updated.WorkingMemory, "nil working memory leaves it unchanged")

	got, err := s.GetResourceByID(ctx, "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, map[string]any{"plan": "pro", "locale": "en"}, got.Metadata)
	assert.Equal(t, epoch, got.CreatedAt)
	assert.Equal(t, epoch.Add(time.Minute), got.UpdatedAt)
}

func TestResources_RequireCapability(t *testing.T) {
	s, _ := newStore(t, memorystore.WithCapabilities(
		storage.DocumentCapabilities().Without(storage.CapResourceWorkingMemory)))

	_, err := s.GetResourceByID(context.Background(), "user-1")
	require.Error(t, err)
	assert.True(t, storeerrors.IsUnsupported(err))
}
