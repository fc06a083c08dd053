package history

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	store, err := Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, store.Close()) })
	return store
}

func testBuild(id, slug, branch, state string, start time.Time) *Build {
	return &Build{
		ID:         id,
		Slug:       slug,
		Branch:     branch,
		State:      state,
		StartedAt:  start,
		FinishedAt: start.Add(90 * time.Second),
	}
}

func TestRecordAssignsNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	for i, id := range []string{"b-1", "b-2", "b-3"} {
		b := testBuild(id, "gantry", "master", "passed", start.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.Record(ctx, b))
		assert.Equal(t, i+1, b.Number)
	}

	other := testBuild("b-4", "otherproject", "master", "passed", start)
	require.NoError(t, store.Record(ctx, other))
	assert.Equal(t, 1, other.Number, "numbers count per slug")
}

func TestRecordAndGet(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	want := testBuild("b-1", "gantry", "master", "failed", start)
	want.Jobs = []Job{
		{
			ID:         "j-1",
			Name:       "LINT_CODE=1",
			State:      "passed",
			ExitStatus: 0,
			StartedAt:  start,
			FinishedAt: start.Add(30 * time.Second),
		},
		{
			ID:           "j-2",
			Name:         "FULL_TYPING=1",
			State:        "failed",
			AllowFailure: true,
			ExitStatus:   2,
			StartedAt:    start,
			FinishedAt:   start.Add(75 * time.Second),
		},
	}
	require.NoError(t, store.Record(ctx, want))

	got, err := store.Get(ctx, "b-1")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, 90*time.Second, got.Duration())
	assert.Equal(t, 75*time.Second, got.Jobs[1].Duration())

	_, err = store.Get(ctx, "nope")
	require.ErrorContains(t, err, "build not found")
}

func TestListNewestFirst(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	// Recorded out of order on purpose.
	for _, b := range []*Build{
		testBuild("b-2", "gantry", "master", "passed", start.Add(2*time.Minute)),
		testBuild("b-1", "gantry", "master", "passed", start.Add(1*time.Minute)),
		testBuild("b-3", "gantry", "master", "passed", start.Add(3*time.Minute)),
	} {
		require.NoError(t, store.Record(ctx, b))
	}

	builds, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, builds, 3)

	var ids []string
	for _, b := range builds {
		ids = append(ids, b.ID)
	}
	assert.Equal(t, []string{"b-3", "b-2", "b-1"}, ids)
}

func TestListFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	for _, b := range []*Build{
		testBuild("b-1", "gantry", "master", "passed", start),
		testBuild("b-2", "gantry", "master", "failed", start.Add(1*time.Minute)),
		testBuild("b-3", "gantry", "feature/cache", "errored", start.Add(2*time.Minute)),
		testBuild("b-4", "otherproject", "master", "passed", start.Add(3*time.Minute)),
	} {
		require.NoError(t, store.Record(ctx, b))
	}

	tests := []struct {
		desc    string
		query   Query
		wantIDs []string
	}{
		{
			desc:    "by branch",
			query:   Query{Branch: "master"},
			wantIDs: []string{"b-4", "b-2", "b-1"},
		},
		{
			desc:    "by state",
			query:   Query{State: "passed"},
			wantIDs: []string{"b-4", "b-1"},
		},
		{
			desc:    "by slug",
			query:   Query{Slug: "gantry"},
			wantIDs: []string{"b-3", "b-2", "b-1"},
		},
		{
			desc:    "by branch and state",
			query:   Query{Branch: "master", State: "passed"},
			wantIDs: []string{"b-4", "b-1"},
		},
		{
			desc:    "with limit",
			query:   Query{Limit: 2},
			wantIDs: []string{"b-4", "b-3"},
		},
		{
			desc:    "no matches",
			query:   Query{Branch: "gone"},
			wantIDs: nil,
		},
	}

	for _, test := range tests {
		builds, err := store.List(ctx, test.query)
		require.NoError(t, err, test.desc)

		var ids []string
		for _, b := range builds {
			ids = append(ids, b.ID)
		}
		assert.Equal(t, test.wantIDs, ids, test.desc)
	}
}

func TestRecordUpsertsByID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	b := testBuild("b-1", "gantry", "master", "errored", start)
	require.NoError(t, store.Record(ctx, b))

	b.State = "failed"
	require.NoError(t, store.Record(ctx, b))

	builds, err := store.List(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, builds, 1)
	assert.Equal(t, "failed", builds[0].State)
}

func TestRecordConcurrentNumbers(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newTestStore(t)
	start := time.Date(2024, 5, 20, 9, 0, 0, 0, time.UTC)

	const n = 8
	var g errgroup.Group
	for i := range n {
		id := fmt.Sprintf("b-%d", i)
		g.Go(func() error {
			return store.Record(ctx, testBuild(id, "gantry", "master", "passed", start))
		})
	}
	require.NoError(t, g.Wait())

	builds, err := store.List(ctx, Query{Slug: "gantry"})
	require.NoError(t, err)

	numbers := make([]int, 0, n)
	for _, b := range builds {
		numbers = append(numbers, b.Number)
	}
	assert.ElementsMatch(t, []int{1, 2, 3, 4, 5, 6, 7, 8}, numbers,
		"concurrent builds must each claim their own number")
}
