package runner

import (
	"context"

	"followpilot/internal/task"
)

// A list import has nothing to fetch: once the queue is empty it is done.
func listDone(*task.Task) bool { return true }

func (r *Runner) tickList(ctx context.Context, j *job, t *task.Task) error {
	if stopped, err := r.finishIfDone(ctx, t, listDone); err != nil || stopped {
		return err
	}
	successes, err := r.drain(ctx, j, listDone)
	if err != nil {
		return err
	}
	return r.settle(ctx, j, successes, listDone)
}
