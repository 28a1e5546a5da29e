package runner

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
	"followpilot/internal/task"
)

// finished reports whether a task with an empty queue has nothing left to
// fetch. Each strategy supplies its own.
type finished func(*task.Task) bool

// drain follows up to BatchSize queued candidates and returns how many
// follows succeeded.
func (r *Runner) drain(ctx context.Context, j *job, done finished) (int, error) {
	successes := 0
	for i := 0; i < r.cfg.BatchSize; i++ {
		ok, more, err := r.act(ctx, j, done)
		if err != nil {
			return successes, err
		}
		if ok {
			successes++
		}
		if !more {
			break
		}
	}
	return successes, nil
}

// act attempts the candidate at the head of the queue. The entry is consumed
// whatever the outcome. more is false when the batch must end: the task
// stopped running, the queue ran dry, or a wait was interrupted.
func (r *Runner) act(ctx context.Context, j *job, done finished) (ok, more bool, err error) {
	t, err := r.store.FindActive(ctx, j.id)
	if err != nil {
		return false, false, err
	}
	if t.Status != task.StatusRunning || len(t.Queue) == 0 {
		return false, false, nil
	}
	candidate := t.Queue[0]
	key := candidateKey(candidate)

	callErr := r.resolveCandidate(ctx, &candidate)
	rec := task.FollowRecord{
		TargetID:       candidate.ID,
		Username:       candidate.Username,
		FullName:       candidate.FullName,
		AvatarURL:      candidate.AvatarURL,
		FollowerCount:  candidate.FollowerCount,
		FollowingCount: candidate.FollowingCount,
	}
	if callErr == nil {
		res, err := r.graph.Follow(ctx, candidate.ID)
		switch {
		case err != nil:
			callErr = fmt.Errorf("follow %s: %w", candidate.ID, err)
		case res.Tag == "":
			rec.Outcome = graph.TagFollowed
		default:
			rec.Outcome = res.Tag
		}
	}
	if callErr != nil && ctx.Err() != nil {
		// shutting down; leave the entry queued for the next run
		return false, false, ctx.Err()
	}
	if callErr != nil {
		rec.Outcome = graph.ErrorTag(callErr)
	}
	rec.At = r.clock.Now()
	ok = rec.Succeeded()
	if callErr == nil && !ok {
		callErr = fmt.Errorf("follow %s: unexpected result %q", candidate.ID, rec.Outcome)
	}

	after, err := r.store.PatchActive(ctx, j.id, func(t *task.Task) error {
		t.Queue = dropCandidate(t.Queue, key)
		t.RecordAction(rec)
		if ok {
			t.Progress++
			t.FollowedCount++
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	r.metrics.Follow(string(j.typ), rec.Outcome)

	if ok {
		r.resetFailures(j.id)
		if r.stats != nil {
			if err := r.stats.RecordFollow(ctx, rec.At); err != nil {
				log.Warn().Str("task_id", j.id).Err(err).Msg("record follow stats failed")
			}
		}
		log.Info().Str("task_id", j.id).Str("target", rec.Username).Str("outcome", rec.Outcome).
			Int("progress", after.Progress).Msg("followed")
	} else if err := r.fail(ctx, j, callErr); err != nil {
		return false, false, err
	}

	if len(after.Queue) == 0 && done(after) {
		return ok, false, nil
	}
	if !r.waiter.Wait(ctx, j.settings.ActionDelay(r.rnd), r.alive(j.id)) {
		r.metrics.Interrupted()
		return ok, false, nil
	}
	return ok, true, nil
}

// resolveCandidate fills in the id of entries that only carry a username.
func (r *Runner) resolveCandidate(ctx context.Context, u *graph.User) error {
	if u.ID != "" {
		return nil
	}
	resolved, err := r.graph.ResolveAccount(ctx, u.Username)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", u.Username, err)
	}
	if resolved.ID == "" {
		return fmt.Errorf("resolve %s: %w", u.Username, graph.ErrNotFound)
	}
	if resolved.Username == "" {
		resolved.Username = u.Username
	}
	*u = resolved
	return nil
}

// fail applies the failure policy: count the failure, trip the breaker at
// the limit, then back off.
func (r *Runner) fail(ctx context.Context, j *job, cause error) error {
	r.mu.Lock()
	r.failures[j.id]++
	n := r.failures[j.id]
	tripped := n >= r.cfg.MaxFailures
	if tripped {
		r.failures[j.id] = 0
	}
	r.mu.Unlock()

	log.Warn().Str("task_id", j.id).Err(cause).Str("outcome", graph.ErrorTag(cause)).
		Int("consecutive", n).Msg("external call failed")

	if tripped {
		if _, err := r.manager.Pause(ctx, j.id); err != nil {
			return err
		}
		r.metrics.CircuitBreak()
		log.Warn().Str("task_id", j.id).Int("failures", n).Msg("too many consecutive failures, task paused")
	}
	if !r.waiter.Wait(ctx, j.settings.FailureDelay(r.rnd), r.alive(j.id)) {
		r.metrics.Interrupted()
	}
	return nil
}

func (r *Runner) resetFailures(id string) {
	r.mu.Lock()
	r.failures[id] = 0
	r.mu.Unlock()
}

// settle closes the action phase: a finished task is stopped as completed,
// otherwise the tick counts toward the no-progress limit unless something
// was followed.
func (r *Runner) settle(ctx context.Context, j *job, successes int, done finished) error {
	t, err := r.store.FindActive(ctx, j.id)
	if err != nil {
		return err
	}
	// Nothing left to attempt: archive as completed even when this tick's
	// last failure tripped the breaker and paused the task.
	if len(t.Queue) == 0 && done(t) {
		return r.stop(ctx, j.id, task.StopCompleted)
	}
	if t.Status != task.StatusRunning {
		return nil
	}

	r.mu.Lock()
	if successes > 0 {
		r.stalls[j.id] = 0
	} else {
		r.stalls[j.id]++
	}
	stalled := r.stalls[j.id]
	r.mu.Unlock()

	if stalled >= r.cfg.MaxStalledTicks {
		log.Warn().Str("task_id", j.id).Int("ticks", stalled).Msg("no progress, stopping task")
		return r.stop(ctx, j.id, task.StopNoProgress)
	}
	return nil
}

func (r *Runner) stop(ctx context.Context, id string, reason task.StopReason) error {
	if _, err := r.manager.Stop(ctx, id, reason); err != nil {
		return err
	}
	r.forget(id)
	r.metrics.Stop(string(reason))
	return nil
}

// finishIfDone stops t as completed when its queue is empty and done holds.
func (r *Runner) finishIfDone(ctx context.Context, t *task.Task, done finished) (bool, error) {
	if len(t.Queue) > 0 || !done(t) {
		return false, nil
	}
	if err := r.stop(ctx, t.ID, task.StopCompleted); err != nil {
		return false, err
	}
	return true, nil
}

// failed runs the failure policy for a failed source call. It only returns
// storage errors.
func (r *Runner) failed(ctx context.Context, j *job, op string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return r.fail(ctx, j, fmt.Errorf("%s: %w", op, err))
}
