package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followpilot/internal/graph"
	"followpilot/internal/graph/graphtest"
	"followpilot/internal/kv"
	"followpilot/internal/pacing"
	"followpilot/internal/safety"
	"followpilot/internal/task"
)

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

type fixture struct {
	flow    *Flow
	manager *task.Manager
	store   *task.Store
	graph   *graphtest.Fake
	clock   *pacing.FakeClock
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := pacing.NewFakeClock(time.Date(2026, 4, 2, 12, 0, 0, 0, time.UTC))
	kvs := kv.NewMemoryStore()
	store := task.NewStore(kvs, clock.Now)
	fx := &fixture{
		manager: task.NewManager(store),
		store:   store,
		graph:   graphtest.New(),
		clock:   clock,
	}
	fx.flow = New(fx.manager, fx.graph, safety.NewStore(kvs, safety.Default()), Options{
		ViewerID: "me",
		Clock:    clock,
		Rand:     zeroRand{},
	})
	return fx
}

// seed creates a task whose audit trail holds the given outcomes per target.
func (fx *fixture) seed(t *testing.T, outcomes map[string]string, order ...string) string {
	t.Helper()
	ctx := context.Background()
	created, err := fx.manager.Create(ctx, task.CreateParams{Type: task.TypeListImport, Usernames: order})
	require.NoError(t, err)
	_, err = fx.store.PatchActive(ctx, created.ID, func(tk *task.Task) error {
		for _, id := range order {
			tk.RecordAction(task.FollowRecord{TargetID: id, Username: id, Outcome: outcomes[id], At: fx.clock.Now()})
		}
		tk.Queue = nil
		return nil
	})
	require.NoError(t, err)
	return created.ID
}

func TestCleanupArchivedTaskIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.seed(t, map[string]string{
		"u1": graph.TagFollowed,
		"u2": graph.TagFollowed,
		"u3": graph.TagRequested,
		"u4": graph.TagRateLimited,
	}, "u1", "u2", "u3", "u4")
	_, err := fx.manager.Stop(ctx, id, task.StopCompleted)
	require.NoError(t, err)

	var since time.Time
	fx.graph.ResolveReciprocatorsFunc = func(accountID string, s time.Time) ([]string, error) {
		assert.Equal(t, "me", accountID)
		since = s
		return []string{"u2", "stranger"}, nil
	}

	res, err := fx.flow.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, Result{TaskID: id, Archived: true, Followed: 3, FollowedBack: 1, Pending: 2, Unfollowed: 2}, res)
	assert.ElementsMatch(t, []string{"u1", "u3"}, fx.graph.Unfollowed())
	assert.Equal(t, fx.clock.Now().Add(-ReciprocityWindow), since.Add(fx.clock.Slept()))

	st, err := fx.store.FindStopped(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CleanedCount)
	assert.Equal(t, 1, st.FollowedBackCount)
	assert.ElementsMatch(t, []string{"u1", "u3"}, st.CleanedUserIDs)

	again, err := fx.flow.Run(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, again.Unfollowed)
	assert.Equal(t, 2, again.AlreadyCleaned)
	assert.Len(t, fx.graph.Unfollowed(), 2)

	st, err = fx.store.FindStopped(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 2, st.CleanedCount)
}

func TestCleanupActiveTaskRequiresRunning(t *testing.T) {
	fx := newFixture(t)
	id := fx.seed(t, map[string]string{"u1": graph.TagFollowed}, "u1")

	res, err := fx.flow.Run(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, EndNotRunning, res.EndedEarly)
	assert.Equal(t, 1, res.Pending)
	assert.Zero(t, fx.graph.Calls("Unfollow"))
}

func TestCleanupPausesActiveTaskAfterFailures(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.seed(t, map[string]string{
		"u1": graph.TagFollowed, "u2": graph.TagFollowed, "u3": graph.TagFollowed, "u4": graph.TagFollowed,
	}, "u1", "u2", "u3", "u4")
	_, err := fx.manager.Start(ctx, id)
	require.NoError(t, err)
	fx.graph.UnfollowFunc = func(string) error { return graph.ErrRateLimited }

	res, err := fx.flow.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, EndFailures, res.EndedEarly)
	assert.Equal(t, 3, res.Failed)
	assert.Equal(t, 3, fx.graph.Calls("Unfollow"))

	at, err := fx.store.FindActive(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, task.StatusPaused, at.Status)
	assert.Zero(t, at.CleanedCount)
}

func TestCleanupStopsWhenTaskDeleted(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	id := fx.seed(t, map[string]string{"u1": graph.TagFollowed, "u2": graph.TagFollowed}, "u1", "u2")
	_, err := fx.manager.Start(ctx, id)
	require.NoError(t, err)
	fx.clock.OnSleep = func(time.Duration) {
		_ = fx.manager.DeleteActive(ctx, id)
	}

	res, err := fx.flow.Run(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Unfollowed)
	assert.Equal(t, EndDeleted, res.EndedEarly)
}

func TestCleanupUnknownTask(t *testing.T) {
	fx := newFixture(t)
	_, err := fx.flow.Run(context.Background(), "missing")
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestCleanupRequiresViewer(t *testing.T) {
	fx := newFixture(t)
	fx.flow.opts.ViewerID = ""
	_, err := fx.flow.Run(context.Background(), "any")
	assert.ErrorIs(t, err, ErrNoViewer)
}
