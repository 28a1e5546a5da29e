package runner

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
	"followpilot/internal/listimport"
	"followpilot/internal/task"
)

func connectionsDone(t *task.Task) bool {
	return t.PageFetched && !t.HasNextPage
}

func (r *Runner) tickConnections(ctx context.Context, j *job, t *task.Task) error {
	if t.SourceAccountID == "" {
		return r.resolveSource(ctx, j, t)
	}
	if stopped, err := r.finishIfDone(ctx, t, connectionsDone); err != nil || stopped {
		return err
	}

	if len(t.Queue) == 0 {
		page, err := r.graph.FetchConnectionsPage(ctx, t.SourceAccountID, t.Edge, r.cfg.ConnectionsPageSize, t.Cursor)
		if err != nil {
			return r.failed(ctx, j, "fetch "+string(t.Edge), err)
		}
		r.resetFailures(j.id)
		queued := 0
		t, err = r.store.PatchActive(ctx, j.id, func(t *task.Task) error {
			t.Total = max(t.Total, t.Progress+page.Count)
			t.Cursor = page.EndCursor
			t.HasNextPage = page.HasNextPage
			t.PageFetched = true
			queued, _ = enqueue(t, page.Items, r.accept)
			return nil
		})
		if err != nil {
			return err
		}
		log.Debug().Str("task_id", j.id).Int("items", len(page.Items)).Int("queued", queued).
			Bool("has_next", page.HasNextPage).Msg("connections page fetched")
		if stopped, err := r.finishIfDone(ctx, t, connectionsDone); err != nil || stopped {
			return err
		}
	}

	successes, err := r.drain(ctx, j, connectionsDone)
	if err != nil {
		return err
	}
	return r.settle(ctx, j, successes, connectionsDone)
}

// resolveSource turns the handle into an account id. The account's own
// counters seed the total until pages revise it.
func (r *Runner) resolveSource(ctx context.Context, j *job, t *task.Task) error {
	handle := strings.TrimPrefix(strings.TrimSpace(t.SourceInput), "@")
	if name, ok := listimport.Normalize(t.SourceInput); ok {
		handle = name
	}
	account, err := r.graph.ResolveAccount(ctx, handle)
	if err == nil && account.ID == "" {
		err = graph.ErrNotFound
	}
	if err != nil {
		return r.failed(ctx, j, "resolve "+handle, err)
	}
	r.resetFailures(j.id)
	_, err = r.store.PatchActive(ctx, j.id, func(t *task.Task) error {
		t.SourceAccountID = account.ID
		count := account.FollowerCount
		if t.Edge == graph.EdgeFollowing {
			count = account.FollowingCount
		}
		t.Total = max(t.Total, count)
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("task_id", j.id).Str("account_id", account.ID).Msg("source account resolved")
	return nil
}
