package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "todos.db"),
		PoolSize: 2,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func recvItem(t *testing.T, sub *store.Subscription) model.Item {
	t.Helper()
	select {
	case item := <-sub.C:
		return item
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return model.Item{}
	}
}

func TestOpenRequiresPathAndLogger(t *testing.T) {
	_, err := Open(Config{Logger: zap.NewNop()})
	require.Error(t, err)

	_, err = Open(Config{Path: "x.db"})
	require.Error(t, err)
}

func TestCreateAndQuery(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	res, err := s.Create(ctx, "buy milk", model.StatusPending)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.NotEmpty(t, res.Item.ID)
	require.False(t, res.Item.CreatedAt.IsZero())

	items, err := s.Query(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, *res.Item, items[0])

	completed, err := s.Query(ctx, model.StatusCompleted)
	require.NoError(t, err)
	require.Empty(t, completed)
}

func TestQueryNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	first, err := s.Create(ctx, "first", model.StatusPending)
	require.NoError(t, err)
	second, err := s.Create(ctx, "second", model.StatusPending)
	require.NoError(t, err)

	items, err := s.Query(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Equal(t, []string{second.Item.ID, first.Item.ID}, []string{items[0].ID, items[1].ID})
}

func TestQueryInvalidStatus(t *testing.T) {
	s := openTestStore(t)
	_, err := s.Query(context.Background(), model.Status("BOGUS"))
	require.Error(t, err)
}

func TestUpdate(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.Create(ctx, "draft", model.StatusPending)
	require.NoError(t, err)

	res, err := s.Update(ctx, created.Item.ID, "final", model.StatusCompleted)
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, "final", res.Item.Content)
	require.Equal(t, model.StatusCompleted, res.Item.Status)
	// Creation metadata is immutable.
	require.Equal(t, created.Item.ID, res.Item.ID)
	require.Equal(t, created.Item.CreatedAt, res.Item.CreatedAt)

	pending, err := s.Query(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUpdateUnknownID(t *testing.T) {
	s := openTestStore(t)
	res, err := s.Update(context.Background(), "nope", "x", model.StatusPending)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Contains(t, res.Errors[0], "item not found")
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	created, err := s.Create(ctx, "ephemeral", model.StatusPending)
	require.NoError(t, err)

	res, err := s.Delete(ctx, created.Item.ID)
	require.NoError(t, err)
	require.True(t, res.OK())

	res, err = s.Delete(ctx, created.Item.ID)
	require.NoError(t, err)
	require.False(t, res.OK())
}

func TestEventsFollowCommits(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	creates := s.OnCreate()
	updates := s.OnUpdate()
	deletes := s.OnDelete()
	defer creates.Cancel()
	defer updates.Cancel()
	defer deletes.Cancel()

	created, err := s.Create(ctx, "task", model.StatusPending)
	require.NoError(t, err)
	require.Equal(t, *created.Item, recvItem(t, creates))

	updated, err := s.Update(ctx, created.Item.ID, "task", model.StatusCompleted)
	require.NoError(t, err)
	require.Equal(t, *updated.Item, recvItem(t, updates))

	_, err = s.Delete(ctx, created.Item.ID)
	require.NoError(t, err)
	require.Equal(t, created.Item.ID, recvItem(t, deletes).ID)
}

func TestFailedWritesEmitNoEvents(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	updates := s.OnUpdate()
	deletes := s.OnDelete()
	defer updates.Cancel()
	defer deletes.Cancel()

	_, err := s.Update(ctx, "ghost", "x", model.StatusPending)
	require.NoError(t, err)
	_, err = s.Delete(ctx, "ghost")
	require.NoError(t, err)

	select {
	case item := <-updates.C:
		t.Fatalf("unexpected update event for %s", item.ID)
	case item := <-deletes.C:
		t.Fatalf("unexpected delete event for %s", item.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestInvokeMutationCreateCustomTodo(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	creates := s.OnCreate()
	defer creates.Cancel()

	res, err := s.InvokeMutation(ctx, "createCustomTodo", store.Args{
		"content": "from function",
		"status":  "COMPLETED",
	})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, "from function", res.Item.Content)
	require.Equal(t, model.StatusCompleted, res.Item.Status)

	// The mediated pathway writes without broadcasting.
	select {
	case item := <-creates.C:
		t.Fatalf("mediated create published event for %s", item.ID)
	case <-time.After(50 * time.Millisecond):
	}

	// But the row is durable and visible to queries.
	items, err := s.Query(ctx, model.StatusCompleted)
	require.NoError(t, err)
	require.Len(t, items, 1)
}

func TestInvokeMutationDefaults(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	res, err := s.InvokeMutation(ctx, "createCustomTodo", store.Args{})
	require.NoError(t, err)
	require.True(t, res.OK())
	require.Equal(t, "untitled todo", res.Item.Content)
	require.Equal(t, model.StatusPending, res.Item.Status)
}

func TestInvokeMutationUnknownName(t *testing.T) {
	s := openTestStore(t)
	res, err := s.InvokeMutation(context.Background(), "nope", nil)
	require.NoError(t, err)
	require.False(t, res.OK())
	require.Contains(t, res.Errors[0], "unknown mutation")
}

func TestPersistenceAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "todos.db")

	s, err := Open(Config{Path: path, PoolSize: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	created, err := s.Create(ctx, "durable", model.StatusPending)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(Config{Path: path, PoolSize: 1, Logger: zap.NewNop()})
	require.NoError(t, err)
	defer s.Close()

	items, err := s.Query(ctx, model.StatusPending)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, created.Item.ID, items[0].ID)
}

func TestSubscriptionTeardownLeaksNothing(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := Open(Config{
		Path:     filepath.Join(t.TempDir(), "todos.db"),
		PoolSize: 1,
		Logger:   zap.NewNop(),
	})
	require.NoError(t, err)

	sub := s.OnCreate()
	_, err = s.Create(context.Background(), "x", model.StatusPending)
	require.NoError(t, err)
	sub.Cancel()

	require.NoError(t, s.Close())
}
