package task

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followpilot/internal/graph"
)

func TestPatchActiveRefreshesUpdatedAt(t *testing.T) {
	m, clock := newTestManager(t)
	ctx := context.Background()
	tk := createList(t, m, "a")

	clock.now = clock.now.Add(time.Minute)
	patched, err := m.Store().PatchActive(ctx, tk.ID, func(t *Task) error {
		t.Progress = 7
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, patched.Progress)
	assert.Equal(t, clock.now, patched.UpdatedAt)

	stored, err := m.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Progress)

	_, err = m.Store().PatchActive(ctx, "missing", func(*Task) error { return nil })
	assert.True(t, errors.Is(err, ErrTaskNotFound))

	boom := errors.New("boom")
	_, err = m.Store().PatchActive(ctx, tk.ID, func(t *Task) error {
		t.Progress = 100
		return boom
	})
	assert.True(t, errors.Is(err, boom))
	stored, err = m.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, stored.Progress, "aborted patch is not persisted")
}

func TestPatchStopped(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tk := createList(t, m, "a")
	_, err := m.Stop(ctx, tk.ID, StopCompleted)
	require.NoError(t, err)

	patched, err := m.Store().PatchStopped(ctx, tk.ID, func(t *StoppedTask) error {
		t.CleanedCount = 2
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, patched.CleanedCount)
	assert.Equal(t, StopCompleted, patched.StopReason)
}

func TestWriteClampsCollections(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()
	tk := createList(t, m, "a")

	_, err := m.Store().PatchActive(ctx, tk.ID, func(t *Task) error {
		t.Queue = nil
		t.Seen = nil
		for i := 0; i < MaxQueue+10; i++ {
			t.Queue = append(t.Queue, graph.User{ID: fmt.Sprint(i)})
		}
		for i := 0; i < MaxSeen+10; i++ {
			t.Seen = append(t.Seen, fmt.Sprint(i))
		}
		for i := 0; i < MaxFollowedRecords+50; i++ {
			t.RecordAction(FollowRecord{TargetID: fmt.Sprint(i), Outcome: graph.TagFollowed})
		}
		return nil
	})
	require.NoError(t, err)

	stored, err := m.Get(ctx, tk.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Queue, MaxQueue)
	assert.Equal(t, "0", stored.Queue[0].ID, "queue keeps the oldest entries")
	assert.Len(t, stored.Seen, MaxSeen)
	assert.Equal(t, fmt.Sprint(MaxSeen+9), stored.Seen[len(stored.Seen)-1], "seen keeps the newest entries")
	assert.Len(t, stored.FollowedUsers, MaxFollowedRecords)
	assert.Equal(t, fmt.Sprint(MaxFollowedRecords+49), stored.FollowedUsers[0].TargetID)
}

func TestFollowedTargetIDs(t *testing.T) {
	tk := &Task{}
	tk.RecordAction(FollowRecord{TargetID: "1", Outcome: graph.TagFollowed})
	tk.RecordAction(FollowRecord{TargetID: "2", Outcome: graph.TagRateLimited})
	tk.RecordAction(FollowRecord{TargetID: "3", Outcome: graph.TagRequested})
	tk.RecordAction(FollowRecord{TargetID: "1", Outcome: graph.TagFollowed})
	assert.Equal(t, []string{"1", "3"}, tk.FollowedTargetIDs())
}

func TestSubscribeReceivesChanges(t *testing.T) {
	m, _ := newTestManager(t)
	ctx := context.Background()

	changes := make(chan Change, 8)
	cancel := m.Store().Subscribe(func(c Change) { changes <- c })
	defer cancel()

	tk := createList(t, m, "a")
	select {
	case c := <-changes:
		assert.Equal(t, CollectionActive, c.Collection)
	case <-time.After(time.Second):
		t.Fatal("no change delivered for create")
	}

	_, err := m.Stop(ctx, tk.ID, StopCompleted)
	require.NoError(t, err)
	seen := map[Collection]bool{}
	for len(seen) < 2 {
		select {
		case c := <-changes:
			seen[c.Collection] = true
		case <-time.After(time.Second):
			t.Fatalf("missing changes, got %v", seen)
		}
	}

	cancel()
	cancel()
}
