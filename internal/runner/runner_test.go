package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followpilot/internal/graph"
	"followpilot/internal/graph/graphtest"
	"followpilot/internal/kv"
	"followpilot/internal/metrics"
	"followpilot/internal/pacing"
	"followpilot/internal/safety"
	"followpilot/internal/stats"
	"followpilot/internal/task"
)

type zeroRand struct{}

func (zeroRand) Float64() float64 { return 0 }

type harness struct {
	runner   *Runner
	manager  *task.Manager
	store    *task.Store
	graph    *graphtest.Fake
	clock    *pacing.FakeClock
	settings *safety.Store
	stats    *stats.Counter
	metrics  *metrics.Metrics
}

func newHarness(t *testing.T, cfg Config, accept Acceptor) *harness {
	t.Helper()
	clock := pacing.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	kvs := kv.NewMemoryStore()
	h := &harness{
		store:    task.NewStore(kvs, clock.Now),
		graph:    graphtest.New(),
		clock:    clock,
		settings: safety.NewStore(kvs, safety.Default()),
		stats:    stats.NewCounter(kvs),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	h.manager = task.NewManager(h.store)
	h.runner = New(cfg, Deps{
		Manager:  h.manager,
		Graph:    h.graph,
		Settings: h.settings,
		Stats:    h.stats,
		Metrics:  h.metrics,
		Clock:    clock,
		Rand:     zeroRand{},
		Accept:   accept,
	})
	return h
}

func (h *harness) start(t *testing.T, params task.CreateParams) string {
	t.Helper()
	ctx := context.Background()
	created, err := h.manager.Create(ctx, params)
	require.NoError(t, err)
	_, err = h.manager.Start(ctx, created.ID)
	require.NoError(t, err)
	return created.ID
}

func (h *harness) tick(t *testing.T) Result {
	t.Helper()
	res, err := h.runner.Tick(context.Background())
	require.NoError(t, err)
	return res
}

// runToEnd ticks until id leaves the active set and returns the tick count.
func (h *harness) runToEnd(t *testing.T, id string, limit int) int {
	t.Helper()
	for i := 1; i <= limit; i++ {
		h.tick(t)
		if _, err := h.store.FindActive(context.Background(), id); err != nil {
			require.ErrorIs(t, err, task.ErrTaskNotFound)
			return i
		}
	}
	t.Fatalf("task %s still active after %d ticks", id, limit)
	return 0
}

func (h *harness) stopped(t *testing.T, id string) *task.StoppedTask {
	t.Helper()
	st, err := h.store.FindStopped(context.Background(), id)
	require.NoError(t, err)
	return st
}

func (h *harness) active(t *testing.T, id string) *task.Task {
	t.Helper()
	at, err := h.store.FindActive(context.Background(), id)
	require.NoError(t, err)
	return at
}

func listParams(names ...string) task.CreateParams {
	return task.CreateParams{Type: task.TypeListImport, SourceInput: "list.txt", Usernames: names}
}

func TestTickIdleWithoutRunningTask(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	_, err := h.manager.Create(context.Background(), listParams("a"))
	require.NoError(t, err)

	assert.Equal(t, ResultIdle, h.tick(t))
	assert.Zero(t, h.graph.Calls("Follow"))
}

func TestListImportCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, listParams("a", "b", "c"))

	assert.Equal(t, ResultWorked, h.tick(t))

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, task.StatusPaused, st.Status)
	assert.Equal(t, 3, st.FollowedCount)
	assert.Equal(t, 3, st.Progress)
	assert.Empty(t, st.Queue)
	assert.Equal(t, []string{"id-a", "id-b", "id-c"}, h.graph.Followed())
	assert.Equal(t, []string{"id-c", "id-b", "id-a"}, st.FollowedTargetIDs())

	// two waits between three follows; the last follow does not wait
	assert.Equal(t, 90*time.Second, h.clock.Slept())

	summary, err := h.stats.Summary(context.Background(), h.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Today)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Stops.WithLabelValues("completed")))
}

func TestListImportResolveFailureConsumesEntry(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.ResolveAccountFunc = func(handle string) (graph.User, error) {
		if handle == "ghost" {
			return graph.User{}, graph.ErrNotFound
		}
		return graph.User{ID: "id-" + handle, Username: handle}, nil
	}
	id := h.start(t, listParams("ghost", "b"))

	h.tick(t)

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, 1, st.FollowedCount)
	require.Len(t, st.FollowedUsers, 2)
	assert.Equal(t, graph.TagFollowed, st.FollowedUsers[0].Outcome)
	assert.Equal(t, graph.TagNotFound, st.FollowedUsers[1].Outcome)
	assert.Equal(t, "ghost", st.FollowedUsers[1].Username)
	assert.Zero(t, h.runner.Failures(id))
}

func TestSettingsReloadedEachTick(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	require.NoError(t, h.settings.Save(context.Background(), safety.Settings{
		RequestIntervalSeconds:     10,
		FailedPauseIntervalSeconds: 60,
	}))
	h.start(t, listParams("a", "b"))

	h.tick(t)

	assert.Equal(t, 10*time.Second, h.clock.Slept())
}

func TestConnectionsZeroFollowersCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, task.CreateParams{Type: task.TypeAccountConnections, SourceInput: "@nobody"})

	h.tick(t)
	resolved := h.active(t, id)
	assert.Equal(t, "id-nobody", resolved.SourceAccountID)
	assert.Zero(t, h.runner.Stalls(id), "resolution does not count as a stalled tick")

	h.tick(t)
	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Zero(t, st.Total)
	assert.Equal(t, 1, h.graph.Calls("FetchConnectionsPage"))
	assert.Zero(t, h.graph.Calls("Follow"))
}

func TestConnectionsNoProgressStops(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FetchConnectionsFunc = func(string, graph.Edge, int, string) (graph.Page, error) {
		return graph.Page{HasNextPage: true, EndCursor: "next"}, nil
	}
	id := h.start(t, task.CreateParams{Type: task.TypeAccountConnections, SourceInput: "quiet"})

	ticks := h.runToEnd(t, id, 50)

	assert.Equal(t, 21, ticks)
	assert.Equal(t, 1, h.graph.Calls("ResolveAccount"))
	assert.Equal(t, 20, h.graph.Calls("FetchConnectionsPage"))
	assert.Equal(t, task.StopNoProgress, h.stopped(t, id).StopReason)
}

func TestConnectionsPaginatesWithMonotonicProgress(t *testing.T) {
	user := func(id string) graph.User { return graph.User{ID: id, Username: id} }
	h := newHarness(t, Config{BatchSize: 2}, nil)
	h.graph.FetchConnectionsFunc = func(accountID string, edge graph.Edge, _ int, cursor string) (graph.Page, error) {
		assert.Equal(t, "id-star", accountID)
		assert.Equal(t, graph.EdgeFollowing, edge)
		if cursor == "" {
			return graph.Page{Items: []graph.User{user("u1"), user("u2"), user("u3")}, Count: 6, EndCursor: "p2", HasNextPage: true}, nil
		}
		return graph.Page{Items: []graph.User{user("u3"), user("u4"), user("u5"), user("u6")}, Count: 6}, nil
	}
	id := h.start(t, task.CreateParams{Type: task.TypeAccountConnections, SourceInput: "star", Edge: graph.EdgeFollowing})

	last := 0
	for i := 0; i < 20; i++ {
		h.tick(t)
		at, err := h.store.FindActive(context.Background(), id)
		if err != nil {
			break
		}
		assert.GreaterOrEqual(t, at.Progress, last)
		last = at.Progress
	}

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, 6, st.Progress)
	assert.Equal(t, []string{"u1", "u2", "u3", "u4", "u5", "u6"}, h.graph.Followed())
	assert.Equal(t, 2, h.graph.Calls("FetchConnectionsPage"))
	assert.GreaterOrEqual(t, st.Total, 6)
	assert.Len(t, st.Seen, 6)
}

func TestAcceptorFiltersCandidates(t *testing.T) {
	onlyPublic := func(filters json.RawMessage, u graph.User) bool {
		assert.JSONEq(t, `{"public_only":true}`, string(filters))
		return !u.IsPrivate
	}
	h := newHarness(t, Config{}, onlyPublic)
	h.graph.FetchConnectionsFunc = func(string, graph.Edge, int, string) (graph.Page, error) {
		return graph.Page{Items: []graph.User{
			{ID: "pub", Username: "pub"},
			{ID: "priv", Username: "priv", IsPrivate: true},
		}, Count: 2}, nil
	}
	id := h.start(t, task.CreateParams{
		Type:        task.TypeAccountConnections,
		SourceInput: "someone",
		Filters:     json.RawMessage(`{"public_only":true}`),
	})

	h.runToEnd(t, id, 5)

	assert.Equal(t, []string{"pub"}, h.graph.Followed())
	assert.ElementsMatch(t, []string{"pub", "priv"}, h.stopped(t, id).Seen)
}

func TestPostEngagersMergesLikersAndCommenters(t *testing.T) {
	user := func(id string) graph.User { return graph.User{ID: id, Username: id} }
	h := newHarness(t, Config{}, nil)
	h.graph.FetchPostLikersFunc = func(mediaID string) ([]graph.User, error) {
		assert.Equal(t, "media-ABC123", mediaID)
		return []graph.User{user("x"), user("y")}, nil
	}
	h.graph.FetchCommentsFunc = func(shortCode string, _ int, cursor string) (graph.Page, error) {
		assert.Equal(t, "ABC123", shortCode)
		if cursor == "" {
			return graph.Page{Items: []graph.User{user("y"), user("z")}, EndCursor: "c2", HasNextPage: true}, nil
		}
		return graph.Page{Items: []graph.User{user("w")}}, nil
	}
	id := h.start(t, task.CreateParams{Type: task.TypePostEngagers, SourceInput: "https://www.instagram.com/p/ABC123/"})

	h.tick(t)
	resolved := h.active(t, id)
	assert.Equal(t, "ABC123", resolved.ShortCode)
	assert.Equal(t, "media-ABC123", resolved.MediaID)

	h.tick(t)
	mid := h.active(t, id)
	assert.True(t, mid.LikersDone)
	assert.False(t, mid.CommentsDone)
	assert.Equal(t, 3, mid.Progress)

	h.tick(t)
	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, []string{"x", "y", "z", "w"}, h.graph.Followed())
	assert.Equal(t, 1, h.graph.Calls("FetchPostLikers"))
	assert.Equal(t, 2, h.graph.Calls("FetchPostCommentsPage"))
}

func TestPostEngagersInvalidURLTripsBreaker(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, task.CreateParams{Type: task.TypePostEngagers, SourceInput: "https://example.com/nothing"})

	for i := 0; i < 3; i++ {
		h.tick(t)
	}

	assert.Equal(t, task.StatusPaused, h.active(t, id).Status)
	assert.Zero(t, h.runner.Failures(id))
	assert.Zero(t, h.graph.Calls("ResolveMediaID"))
}

func TestCircuitBreakerPausesAfterThreeFailures(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FollowFunc = func(string) (graph.FollowResult, error) {
		return graph.FollowResult{}, graph.ErrRateLimited
	}
	id := h.start(t, listParams("a", "b", "c", "d", "e"))

	h.tick(t)

	at := h.active(t, id)
	assert.Equal(t, task.StatusPaused, at.Status)
	assert.Zero(t, h.runner.Failures(id))
	assert.Zero(t, at.Progress)
	assert.Len(t, at.Queue, 2)
	require.Len(t, at.FollowedUsers, 3)
	for _, rec := range at.FollowedUsers {
		assert.Equal(t, graph.TagRateLimited, rec.Outcome)
	}
	// failure back-off plus pacing after the first two; the third pauses
	assert.Equal(t, 2*(300+45)*time.Second, h.clock.Slept())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CircuitBreaks))
}

func TestSuccessResetsFailureCounter(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FollowFunc = func(id string) (graph.FollowResult, error) {
		if id == "id-a" || id == "id-b" {
			return graph.FollowResult{}, graph.ErrUnauthorized
		}
		return graph.FollowResult{Tag: graph.TagRequested}, nil
	}
	id := h.start(t, listParams("a", "b", "c", "d", "e"))

	h.tick(t)

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, 3, st.FollowedCount)
	assert.Zero(t, h.runner.Failures(id))
}

func TestPauseInterruptsWait(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, listParams("a", "b", "c"))
	paused := false
	h.clock.OnSleep = func(time.Duration) {
		if !paused {
			paused = true
			_, err := h.manager.Pause(context.Background(), id)
			require.NoError(t, err)
		}
	}

	h.tick(t)

	at := h.active(t, id)
	assert.Equal(t, task.StatusPaused, at.Status)
	assert.Equal(t, []string{"id-a"}, h.graph.Followed())
	assert.Len(t, at.Queue, 2)
	assert.LessOrEqual(t, h.clock.Slept(), pacing.DefaultStep)
}

func TestDeleteDuringWaitEndsTick(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, listParams("a", "b"))
	h.clock.OnSleep = func(time.Duration) {
		_ = h.manager.DeleteActive(context.Background(), id)
	}

	assert.Equal(t, ResultWorked, h.tick(t))
	assert.Equal(t, 1, h.graph.Calls("Follow"))
	_, err := h.store.FindStopped(context.Background(), id)
	assert.ErrorIs(t, err, task.ErrTaskNotFound)
}

func TestSafeTickRecoversPanic(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FollowFunc = func(string) (graph.FollowResult, error) { panic("boom") }
	h.start(t, listParams("a"))

	res, err := h.runner.safeTick(context.Background())
	assert.Equal(t, ResultError, res)
	assert.ErrorContains(t, err, "boom")
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.runner.Start(context.Background())
	h.runner.Stop()
	h.runner.Stop()
}

func TestPostEngagersNoProgressStops(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FetchCommentsFunc = func(string, int, string) (graph.Page, error) {
		return graph.Page{EndCursor: "more", HasNextPage: true}, nil
	}
	id := h.start(t, task.CreateParams{
		Type:            task.TypePostEngagers,
		SourceInput:     "https://www.instagram.com/p/QUIET1/",
		IncludeComments: true,
	})

	ticks := h.runToEnd(t, id, 50)

	assert.Equal(t, 21, ticks)
	assert.Zero(t, h.graph.Calls("ResolveMediaID"))
	assert.Zero(t, h.graph.Calls("FetchPostLikers"))
	assert.Equal(t, 20, h.graph.Calls("FetchPostCommentsPage"))
	st := h.stopped(t, id)
	assert.Equal(t, task.StopNoProgress, st.StopReason)
	assert.Zero(t, st.Progress)
}

func TestPostEngagersEmptyCommentsCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	id := h.start(t, task.CreateParams{
		Type:            task.TypePostEngagers,
		SourceInput:     "https://www.instagram.com/p/EMPTY1/",
		IncludeComments: true,
	})

	ticks := h.runToEnd(t, id, 5)

	assert.Equal(t, 2, ticks)
	assert.Equal(t, 1, h.graph.Calls("FetchPostCommentsPage"))
	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Zero(t, st.Total)
	assert.Zero(t, h.graph.Calls("Follow"))
}

func TestPostEngagersLikersOverflowRefetched(t *testing.T) {
	likers := make([]graph.User, task.MaxQueue+2)
	for i := range likers {
		id := fmt.Sprintf("u%d", i)
		likers[i] = graph.User{ID: id, Username: id}
	}
	h := newHarness(t, Config{}, nil)
	h.graph.FetchPostLikersFunc = func(string) ([]graph.User, error) { return likers, nil }
	id := h.start(t, task.CreateParams{
		Type:          task.TypePostEngagers,
		SourceInput:   "https://www.instagram.com/p/BIG1/",
		IncludeLikers: true,
	})

	h.tick(t)
	h.tick(t)
	mid := h.active(t, id)
	assert.False(t, mid.LikersDone)
	assert.Len(t, mid.Seen, task.MaxQueue)
	assert.Len(t, mid.Queue, task.MaxQueue-5)
	assert.Equal(t, 1, h.graph.Calls("FetchPostLikers"))

	// drain the queue out of band; the next tick offers the rest
	_, err := h.store.PatchActive(context.Background(), id, func(t *task.Task) error {
		t.Queue = nil
		return nil
	})
	require.NoError(t, err)
	h.tick(t)

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.True(t, st.LikersDone)
	assert.Equal(t, 2, h.graph.Calls("FetchPostLikers"))
	followed := h.graph.Followed()
	assert.Equal(t, []string{fmt.Sprintf("u%d", task.MaxQueue), fmt.Sprintf("u%d", task.MaxQueue+1)}, followed[len(followed)-2:])
	assert.Equal(t, 7, st.Progress)
}

func TestBreakerOnLastEntryStillCompletes(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	h.graph.FollowFunc = func(string) (graph.FollowResult, error) {
		return graph.FollowResult{}, graph.ErrRateLimited
	}
	id := h.start(t, listParams("a", "b", "c"))

	h.tick(t)

	st := h.stopped(t, id)
	assert.Equal(t, task.StopCompleted, st.StopReason)
	assert.Equal(t, task.StatusPaused, st.Status)
	assert.Zero(t, st.Progress)
	assert.Len(t, st.FollowedUsers, 3)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CircuitBreaks))
	assert.Equal(t, 2*(300+45)*time.Second, h.clock.Slept())
}

func TestStartStopConcurrent(t *testing.T) {
	h := newHarness(t, Config{}, nil)
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			h.runner.Start(context.Background())
		}()
		go func() {
			defer wg.Done()
			h.runner.Stop()
		}()
	}
	wg.Wait()
	h.runner.Stop()

	h.runner.Start(context.Background())
	h.runner.Start(context.Background())
	h.runner.Stop()
}
