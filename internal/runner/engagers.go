package runner

import (
	"context"

	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
	"followpilot/internal/task"
)

func likersDone(t *task.Task) bool   { return !t.IncludeLikers || t.LikersDone }
func commentsDone(t *task.Task) bool { return !t.IncludeComments || t.CommentsDone }

func engagersDone(t *task.Task) bool {
	return likersDone(t) && commentsDone(t)
}

func (r *Runner) tickEngagers(ctx context.Context, j *job, t *task.Task) error {
	if t.ShortCode == "" || (t.IncludeLikers && t.MediaID == "") {
		return r.resolvePost(ctx, j, t)
	}
	if stopped, err := r.finishIfDone(ctx, t, engagersDone); err != nil || stopped {
		return err
	}

	// Likers come in one response. When they overflow the queue the fetch is
	// repeated once the queue drains, and the unseen remainder is offered again.
	if !likersDone(t) && len(t.Queue) < r.cfg.BatchSize {
		likers, err := r.graph.FetchPostLikers(ctx, t.MediaID)
		if err != nil {
			return r.failed(ctx, j, "fetch likers", err)
		}
		r.resetFailures(j.id)
		t, err = r.merge(ctx, j, likers, func(t *task.Task, full bool) { t.LikersDone = !full })
		if err != nil {
			return err
		}
		log.Debug().Str("task_id", j.id).Int("likers", len(likers)).Bool("done", t.LikersDone).Msg("likers fetched")
	}

	if !commentsDone(t) && len(t.Queue) < r.cfg.BatchSize {
		page, err := r.graph.FetchPostCommentsPage(ctx, t.ShortCode, r.cfg.CommentsPageSize, t.Cursor)
		if err != nil {
			return r.failed(ctx, j, "fetch comments", err)
		}
		r.resetFailures(j.id)
		t, err = r.merge(ctx, j, page.Items, func(t *task.Task, full bool) {
			if full {
				return
			}
			t.Cursor = page.EndCursor
			t.CommentsDone = !page.HasNextPage
		})
		if err != nil {
			return err
		}
		log.Debug().Str("task_id", j.id).Int("commenters", len(page.Items)).
			Bool("has_next", page.HasNextPage).Msg("comments page fetched")
	}

	if stopped, err := r.finishIfDone(ctx, t, engagersDone); err != nil || stopped {
		return err
	}
	successes, err := r.drain(ctx, j, engagersDone)
	if err != nil {
		return err
	}
	return r.settle(ctx, j, successes, engagersDone)
}

// merge enqueues users, applies mark and revises the total to cover
// everything queued so far. mark learns whether the queue overflowed.
func (r *Runner) merge(ctx context.Context, j *job, users []graph.User, mark func(t *task.Task, full bool)) (*task.Task, error) {
	return r.store.PatchActive(ctx, j.id, func(t *task.Task) error {
		_, full := enqueue(t, users, r.accept)
		mark(t, full)
		t.Total = max(t.Total, t.Progress+len(t.Queue))
		return nil
	})
}

func (r *Runner) resolvePost(ctx context.Context, j *job, t *task.Task) error {
	code := t.ShortCode
	if code == "" {
		var err error
		if code, err = graph.ParseShortCode(t.SourceInput); err != nil {
			return r.failed(ctx, j, "parse post url", err)
		}
	}
	var mediaID string
	if t.IncludeLikers {
		var err error
		if mediaID, err = r.graph.ResolveMediaID(ctx, code); err == nil && mediaID == "" {
			err = graph.ErrNotFound
		}
		if err != nil {
			return r.failed(ctx, j, "resolve media "+code, err)
		}
	}
	r.resetFailures(j.id)
	_, err := r.store.PatchActive(ctx, j.id, func(t *task.Task) error {
		t.ShortCode = code
		if mediaID != "" {
			t.MediaID = mediaID
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("task_id", j.id).Str("short_code", code).Str("media_id", mediaID).Msg("post resolved")
	return nil
}
