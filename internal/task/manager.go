package task

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
)

// Manager owns task membership and status transitions. It is the only place
// that sets a task running, which is what keeps at most one task running.
type Manager struct {
	store *Store
}

func NewManager(store *Store) *Manager {
	return &Manager{store: store}
}

// Store exposes the underlying store for read access and subscriptions.
func (m *Manager) Store() *Store { return m.store }

// CreateParams describe a new task. Only the fields relevant to Type are used.
type CreateParams struct {
	Type        Type            `json:"type"`
	SourceInput string          `json:"source_input"`
	Filters     json.RawMessage `json:"filters,omitempty"`

	Edge            graph.Edge `json:"edge,omitempty"`
	IncludeLikers   bool       `json:"include_likers,omitempty"`
	IncludeComments bool       `json:"include_comments,omitempty"`

	Usernames []string `json:"usernames,omitempty"`
}

// Create validates params and prepends a new paused task to the active set.
func (m *Manager) Create(ctx context.Context, params CreateParams) (*Task, error) {
	newTask, err := m.build(params)
	if err != nil {
		return nil, err
	}
	_, err = m.store.MutateActive(ctx, func(tasks []*Task) ([]*Task, error) {
		return append([]*Task{newTask}, tasks...), nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", newTask.ID).Str("type", string(newTask.Type)).Msg("task created")
	return newTask.Clone(), nil
}

func (m *Manager) build(params CreateParams) (*Task, error) {
	if !params.Type.Valid() {
		return nil, ErrInvalidType
	}
	now := m.store.Now()
	newTask := &Task{
		ID:          uuid.NewString(),
		Type:        params.Type,
		Status:      StatusPaused,
		SourceInput: strings.TrimSpace(params.SourceInput),
		Filters:     params.Filters,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	switch params.Type {
	case TypeAccountConnections:
		if newTask.SourceInput == "" {
			return nil, ErrEmptySource
		}
		newTask.Edge = params.Edge
		if newTask.Edge == "" {
			newTask.Edge = graph.EdgeFollowers
		}
		if !newTask.Edge.Valid() {
			return nil, ErrInvalidEdge
		}
	case TypePostEngagers:
		if newTask.SourceInput == "" {
			return nil, ErrEmptySource
		}
		newTask.IncludeLikers = params.IncludeLikers
		newTask.IncludeComments = params.IncludeComments
		if !newTask.IncludeLikers && !newTask.IncludeComments {
			newTask.IncludeLikers, newTask.IncludeComments = true, true
		}
	case TypeListImport:
		names := NewOrderedSet()
		for _, name := range params.Usernames {
			if name = strings.TrimSpace(name); name != "" {
				names.Add(name)
			}
		}
		if names.Len() == 0 {
			return nil, ErrEmptyList
		}
		if names.Len() > MaxQueue {
			return nil, ErrListTooLong
		}
		for _, name := range names.Items() {
			newTask.Queue = append(newTask.Queue, graph.User{Username: name})
		}
		newTask.Total = names.Len()
	}
	return newTask, nil
}

// Start marks id running and pauses every other running task.
func (m *Manager) Start(ctx context.Context, id string) (*Task, error) {
	var started *Task
	_, err := m.store.MutateActive(ctx, func(tasks []*Task) ([]*Task, error) {
		var target *Task
		for _, t := range tasks {
			if t.ID == id {
				target = t
			}
		}
		if target == nil {
			return nil, ErrTaskNotFound
		}
		now := m.store.Now()
		for _, t := range tasks {
			if t != target && t.Status == StatusRunning {
				t.Status = StatusPaused
				t.UpdatedAt = now
				log.Info().Str("task_id", t.ID).Str("preempted_by", id).Msg("task paused")
			}
		}
		target.Status = StatusRunning
		target.UpdatedAt = now
		started = target.Clone()
		return tasks, nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id).Msg("task started")
	return started, nil
}

// Pause marks id paused.
func (m *Manager) Pause(ctx context.Context, id string) (*Task, error) {
	paused, err := m.store.PatchActive(ctx, id, func(t *Task) error {
		t.Status = StatusPaused
		return nil
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id).Msg("task paused")
	return paused, nil
}

// DeleteActive removes id from the active set without archiving it.
func (m *Manager) DeleteActive(ctx context.Context, id string) error {
	_, err := m.store.MutateActive(ctx, func(tasks []*Task) ([]*Task, error) {
		kept := make([]*Task, 0, len(tasks))
		for _, t := range tasks {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		if len(kept) == len(tasks) {
			return nil, ErrTaskNotFound
		}
		return kept, nil
	})
	if err != nil {
		return err
	}
	log.Info().Str("task_id", id).Msg("task deleted")
	return nil
}

// Stop moves id from the active set into the archive as a paused snapshot.
func (m *Manager) Stop(ctx context.Context, id string, reason StopReason) (*StoppedTask, error) {
	if !reason.Valid() {
		return nil, ErrInvalidReason
	}
	now := m.store.Now()
	archived, err := m.store.MoveToStopped(ctx, id, func(t *Task) *StoppedTask {
		st := &StoppedTask{Task: *t.Clone(), StoppedAt: now, StopReason: reason}
		st.Status = StatusPaused
		st.UpdatedAt = now
		return st
	})
	if err != nil {
		return nil, err
	}
	log.Info().Str("task_id", id).Str("reason", string(reason)).
		Int("progress", archived.Progress).Int("followed", archived.FollowedCount).Msg("task stopped")
	return archived, nil
}

// DeleteStopped removes an archived task.
func (m *Manager) DeleteStopped(ctx context.Context, id string) error {
	_, err := m.store.MutateStopped(ctx, func(tasks []*StoppedTask) ([]*StoppedTask, error) {
		kept := make([]*StoppedTask, 0, len(tasks))
		for _, t := range tasks {
			if t.ID != id {
				kept = append(kept, t)
			}
		}
		if len(kept) == len(tasks) {
			return nil, ErrTaskNotFound
		}
		return kept, nil
	})
	return err
}

// Get returns an active task by id.
func (m *Manager) Get(ctx context.Context, id string) (*Task, error) {
	return m.store.FindActive(ctx, id)
}

// Find looks id up in the active set first, then in the archive.
// Exactly one of the returned tasks is non-nil on success.
func (m *Manager) Find(ctx context.Context, id string) (*Task, *StoppedTask, error) {
	active, err := m.store.FindActive(ctx, id)
	if err == nil {
		return active, nil, nil
	}
	if !errors.Is(err, ErrTaskNotFound) {
		return nil, nil, err
	}
	stopped, err := m.store.FindStopped(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return nil, stopped, nil
}

// Running returns the running task, or nil when none is running.
func (m *Manager) Running(ctx context.Context) (*Task, error) {
	tasks, err := m.store.ReadActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.Status == StatusRunning {
			return t, nil
		}
	}
	return nil, nil
}

// Snapshot returns both collections.
func (m *Manager) Snapshot(ctx context.Context) (Snapshot, error) {
	active, err := m.store.ReadActive(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	stopped, err := m.store.ReadStopped(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	if active == nil {
		active = []*Task{}
	}
	return Snapshot{Active: active, Stopped: stopped}, nil
}
