package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ms-iwade/opensearch-app/internal/model"
	"github.com/ms-iwade/opensearch-app/internal/store/storetest"
)

func testItem(id, content string, status model.Status) model.Item {
	return model.Item{
		ID:        id,
		Content:   content,
		Status:    status,
		CreatedAt: time.Now().UTC(),
	}
}

func ids(items []model.Item) []string {
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = item.ID
	}
	return out
}

// checkInvariant asserts that the filtered collection is exactly the
// subset of the aggregate whose status matches the active filter.
func checkInvariant(t *testing.T, r *Reconciler) {
	t.Helper()
	var want []string
	for _, item := range r.All() {
		if item.Status == r.Filter() {
			want = append(want, item.ID)
		}
	}
	require.ElementsMatch(t, want, ids(r.Filtered()))
}

func TestApplyCreateMatchingFilter(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())

	r.ApplyCreate(testItem("t1", "first", model.StatusPending))
	r.ApplyCreate(testItem("t2", "second", model.StatusPending))

	// Newest created event sits at the front of both collections.
	require.Equal(t, []string{"t2", "t1"}, ids(r.Filtered()))
	require.Equal(t, []string{"t2", "t1"}, ids(r.All()))
	checkInvariant(t, r)
}

func TestApplyCreateOtherStatus(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())

	r.ApplyCreate(testItem("t1", "done already", model.StatusCompleted))

	require.Empty(t, r.Filtered())
	require.Equal(t, []string{"t1"}, ids(r.All()))
	checkInvariant(t, r)
}

func TestApplyCreateDeduplicatesByID(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	item := testItem("t1", "once", model.StatusPending)

	// Optimistic local insert followed by the live event for the
	// same id must not duplicate.
	r.ApplyCreate(item)
	r.ApplyCreate(item)

	require.Len(t, r.Filtered(), 1)
	require.Len(t, r.All(), 1)
}

func TestApplyUpdateReplacesInPlace(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "old", model.StatusPending))
	r.ApplyCreate(testItem("t2", "other", model.StatusPending))

	updated := testItem("t1", "new", model.StatusPending)
	r.ApplyUpdate(updated)

	// Position preserved, content swapped.
	require.Equal(t, []string{"t2", "t1"}, ids(r.Filtered()))
	require.Equal(t, "new", r.Filtered()[1].Content)
	require.Equal(t, "new", r.All()[1].Content)
	checkInvariant(t, r)
}

func TestApplyUpdateLeavesFilterView(t *testing.T) {
	// Scenario: t1 goes PENDING -> COMPLETED while the filter is
	// PENDING: removed from the filtered view, updated in aggregate.
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "task", model.StatusPending))

	updated := testItem("t1", "task", model.StatusCompleted)
	r.ApplyUpdate(updated)

	require.Empty(t, r.Filtered())
	require.Equal(t, []string{"t1"}, ids(r.All()))
	require.Equal(t, model.StatusCompleted, r.All()[0].Status)
	checkInvariant(t, r)
}

func TestApplyUpdateEntersFilterView(t *testing.T) {
	// Scenario: t1 goes COMPLETED -> PENDING while the filter is
	// PENDING: it must surface in the filtered view, prepended like a
	// create.
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "reopened", model.StatusCompleted))
	r.ApplyCreate(testItem("t2", "task", model.StatusPending))

	r.ApplyUpdate(testItem("t1", "reopened", model.StatusPending))

	require.Equal(t, []string{"t1", "t2"}, ids(r.Filtered()))
	require.Equal(t, model.StatusPending, r.Filtered()[0].Status)
	checkInvariant(t, r)
}

func TestApplyUpdateUnknownIDChangesNothing(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "task", model.StatusPending))

	// An update for an id the aggregate never saw must not conjure an
	// entry into either collection.
	r.ApplyUpdate(testItem("ghost", "boo", model.StatusPending))

	require.Equal(t, []string{"t1"}, ids(r.Filtered()))
	require.Equal(t, []string{"t1"}, ids(r.All()))
	checkInvariant(t, r)
}

func TestApplyUpdateClearsEditGuard(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "task", model.StatusPending))

	r.BeginEdit("t1")
	require.Equal(t, "t1", r.EditingID())

	r.ApplyUpdate(testItem("t1", "remote wins", model.StatusPending))
	require.Empty(t, r.EditingID())
}

func TestApplyUpdateKeepsUnrelatedEditGuard(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("t1", "task", model.StatusPending))
	r.ApplyCreate(testItem("t2", "other", model.StatusPending))

	r.BeginEdit("t1")
	r.ApplyUpdate(testItem("t2", "changed", model.StatusPending))
	require.Equal(t, "t1", r.EditingID())
}

func TestApplyDeleteIdempotent(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	item := testItem("t1", "gone", model.StatusPending)
	r.ApplyCreate(item)

	r.ApplyDelete(item)
	require.Empty(t, r.Filtered())
	require.Empty(t, r.All())

	// Redelivered delete is a no-op, no panic, no change.
	r.ApplyDelete(item)
	require.Empty(t, r.Filtered())
	require.Empty(t, r.All())
}

func TestEventSequenceKeepsInvariant(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())

	events := []func(){
		func() { r.ApplyCreate(testItem("a", "one", model.StatusPending)) },
		func() { r.ApplyCreate(testItem("b", "two", model.StatusCompleted)) },
		func() { r.ApplyUpdate(testItem("a", "one", model.StatusCompleted)) },
		func() { r.ApplyCreate(testItem("c", "three", model.StatusPending)) },
		func() { r.ApplyUpdate(testItem("b", "two", model.StatusPending)) },
		func() { r.ApplyDelete(testItem("c", "three", model.StatusPending)) },
		func() { r.ApplyUpdate(testItem("missing", "ghost", model.StatusPending)) },
		func() { r.ApplyDelete(testItem("missing", "ghost", model.StatusPending)) },
	}
	for _, apply := range events {
		apply()
		checkInvariant(t, r)
	}
}

func TestFilterSwitchRoundTrip(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	st.Seed(
		testItem("p1", "pending one", model.StatusPending),
		testItem("p2", "pending two", model.StatusPending),
		testItem("c1", "completed one", model.StatusCompleted),
	)

	r := New(st, zap.NewNop())
	r.SetFilter(ctx, model.StatusPending)
	r.SetFilter(ctx, model.StatusCompleted)
	r.SetFilter(ctx, model.StatusPending)

	fresh := New(st, zap.NewNop())
	fresh.Load(ctx)

	require.Equal(t, ids(fresh.Filtered()), ids(r.Filtered()))
}

func TestLoadFailureKeepsLastKnownGood(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	st.Seed(testItem("p1", "pending", model.StatusPending))

	r := New(st, zap.NewNop())
	r.Load(ctx)
	r.LoadAll(ctx)
	require.Len(t, r.Filtered(), 1)
	require.Len(t, r.All(), 1)

	st.FailAll = true
	r.Load(ctx)
	r.LoadAll(ctx)

	// Failures leave the last successful mirror in place.
	require.Equal(t, []string{"p1"}, ids(r.Filtered()))
	require.Equal(t, []string{"p1"}, ids(r.All()))
}

func TestSetFilterDoesNotTouchAggregate(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	st.Seed(
		testItem("p1", "pending", model.StatusPending),
		testItem("c1", "completed", model.StatusCompleted),
	)

	r := New(st, zap.NewNop())
	r.LoadAll(ctx)
	before := ids(r.All())

	r.SetFilter(ctx, model.StatusCompleted)
	require.Equal(t, before, ids(r.All()))
	require.Equal(t, []string{"c1"}, ids(r.Filtered()))
}

func TestFetchCollectionsAndInstall(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	st.Seed(
		testItem("p1", "pending", model.StatusPending),
		testItem("c1", "completed", model.StatusCompleted),
	)

	c, err := FetchCollections(ctx, st, model.StatusPending)
	require.NoError(t, err)
	require.Equal(t, []string{"p1"}, ids(c.Filtered))
	require.ElementsMatch(t, []string{"p1", "c1"}, ids(c.All))

	r := New(st, zap.NewNop())
	require.True(t, r.Install(c))
	require.Equal(t, []string{"p1"}, ids(r.Filtered()))
	checkInvariant(t, r)
}

func TestFetchCollectionsFailure(t *testing.T) {
	st := storetest.New()
	st.FailAll = true
	_, err := FetchCollections(context.Background(), st, model.StatusPending)
	require.Error(t, err)
}

func TestInstallDropsStaleSnapshot(t *testing.T) {
	ctx := context.Background()
	st := storetest.New()
	st.Seed(testItem("p1", "pending", model.StatusPending))

	c, err := FetchCollections(ctx, st, model.StatusPending)
	require.NoError(t, err)

	// The filter switched while the fetch was in flight; the snapshot
	// no longer describes the active view.
	r := New(st, zap.NewNop())
	r.SetFilter(ctx, model.StatusCompleted)
	require.False(t, r.Install(c))
	require.Empty(t, r.Filtered())
}

func TestStats(t *testing.T) {
	r := New(storetest.New(), zap.NewNop())
	r.ApplyCreate(testItem("p1", "one", model.StatusPending))
	r.ApplyCreate(testItem("p2", "two", model.StatusPending))
	r.ApplyCreate(testItem("c1", "three", model.StatusCompleted))

	pending, completed := r.Stats()
	require.Equal(t, 2, pending)
	require.Equal(t, 1, completed)
}
