package task

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
)

// Recover runs at startup. If an interrupted write left several tasks
// running, the most recently updated one keeps running and the rest are
// paused. It returns how many tasks were paused.
func (m *Manager) Recover(ctx context.Context) (int, error) {
	paused := 0
	_, err := m.store.MutateActive(ctx, func(tasks []*Task) ([]*Task, error) {
		var keep *Task
		for _, t := range tasks {
			if t.Status == StatusRunning && (keep == nil || t.UpdatedAt.After(keep.UpdatedAt)) {
				keep = t
			}
		}
		for _, t := range tasks {
			if t.Status == StatusRunning && t != keep {
				t.Status = StatusPaused
				paused++
				log.Warn().Str("task_id", t.ID).Msg("pausing extra running task on startup")
			}
		}
		return tasks, nil
	})
	if err != nil {
		return 0, fmt.Errorf("recover tasks: %w", err)
	}
	return paused, nil
}
