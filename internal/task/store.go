package task

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"followpilot/internal/kv"
)

const (
	activeKey  = "tasks.active"
	stoppedKey = "tasks.stopped"

	// Retention bounds how long archived tasks are kept.
	Retention = 30 * 24 * time.Hour
)

// Store persists the active and stopped collections as whole documents.
// Read-modify-write operations are serialized within the process only;
// a second process writing the same key space is not supported.
type Store struct {
	kv     kv.Store
	now    func() time.Time
	mu     sync.Mutex
	notify *notifier
}

// NewStore wraps a key-value store. now defaults to time.Now.
func NewStore(store kv.Store, now func() time.Time) *Store {
	if now == nil {
		now = time.Now
	}
	return &Store{kv: store, now: now, notify: newNotifier()}
}

// Now is the store's clock, shared with the lifecycle.
func (s *Store) Now() time.Time { return s.now() }

// Subscribe registers fn for change notifications and returns its cancel func.
func (s *Store) Subscribe(fn func(Change)) func() {
	return s.notify.subscribe(fn)
}

func (s *Store) ReadActive(ctx context.Context) ([]*Task, error) {
	var tasks []*Task
	if _, err := kv.GetJSON(ctx, s.kv, activeKey, &tasks); err != nil {
		return nil, fmt.Errorf("read active tasks: %w", err)
	}
	return tasks, nil
}

// ReadStopped returns archived tasks younger than Retention.
func (s *Store) ReadStopped(ctx context.Context) ([]*StoppedTask, error) {
	var tasks []*StoppedTask
	if _, err := kv.GetJSON(ctx, s.kv, stoppedKey, &tasks); err != nil {
		return nil, fmt.Errorf("read stopped tasks: %w", err)
	}
	return s.pruneStopped(tasks), nil
}

func (s *Store) WriteActive(ctx context.Context, tasks []*Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeActive(ctx, tasks)
}

func (s *Store) WriteStopped(ctx context.Context, tasks []*StoppedTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeStopped(ctx, tasks)
}

// MutateActive applies fn to the active collection under the store lock and
// writes the result back.
func (s *Store) MutateActive(ctx context.Context, fn func([]*Task) ([]*Task, error)) ([]*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.ReadActive(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(tasks)
	if err != nil {
		return nil, err
	}
	if err := s.writeActive(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// MutateStopped is MutateActive for the archive.
func (s *Store) MutateStopped(ctx context.Context, fn func([]*StoppedTask) ([]*StoppedTask, error)) ([]*StoppedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.ReadStopped(ctx)
	if err != nil {
		return nil, err
	}
	next, err := fn(tasks)
	if err != nil {
		return nil, err
	}
	if err := s.writeStopped(ctx, next); err != nil {
		return nil, err
	}
	return next, nil
}

// MoveToStopped removes the active task id and prepends archive(task) to the
// archive, holding the store lock across both writes. The archive entry is
// written first; if removing the active entry then fails the archive write is
// rolled back, so the task is never missing from both collections. An archived
// entry with the same id is replaced.
func (s *Store) MoveToStopped(ctx context.Context, id string, archive func(*Task) *StoppedTask) (*StoppedTask, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	active, err := s.ReadActive(ctx)
	if err != nil {
		return nil, err
	}
	var (
		moved *Task
		kept  = make([]*Task, 0, len(active))
	)
	for _, t := range active {
		if t.ID == id {
			moved = t
			continue
		}
		kept = append(kept, t)
	}
	if moved == nil {
		return nil, ErrTaskNotFound
	}

	prev, err := s.ReadStopped(ctx)
	if err != nil {
		return nil, err
	}
	archived := archive(moved)
	next := make([]*StoppedTask, 0, len(prev)+1)
	next = append(next, archived)
	for _, t := range prev {
		if t.ID != id {
			next = append(next, t)
		}
	}
	if err := s.writeStopped(ctx, next); err != nil {
		return nil, err
	}
	if err := s.writeActive(ctx, kept); err != nil {
		if rbErr := s.writeStopped(ctx, prev); rbErr != nil {
			log.Error().Err(rbErr).Str("task_id", id).Msg("roll back archive entry")
		}
		return nil, err
	}
	return archived, nil
}

// PatchActive applies fn to the active task with the given id, refreshes
// UpdatedAt and persists. It returns a copy of the patched task.
func (s *Store) PatchActive(ctx context.Context, id string, fn func(*Task) error) (*Task, error) {
	var patched *Task
	_, err := s.MutateActive(ctx, func(tasks []*Task) ([]*Task, error) {
		for _, t := range tasks {
			if t.ID != id {
				continue
			}
			if err := fn(t); err != nil {
				return nil, err
			}
			t.UpdatedAt = s.now()
			t.clampCollections()
			patched = t.Clone()
			return tasks, nil
		}
		return nil, ErrTaskNotFound
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// PatchStopped applies fn to an archived task.
func (s *Store) PatchStopped(ctx context.Context, id string, fn func(*StoppedTask) error) (*StoppedTask, error) {
	var patched *StoppedTask
	_, err := s.MutateStopped(ctx, func(tasks []*StoppedTask) ([]*StoppedTask, error) {
		for _, t := range tasks {
			if t.ID != id {
				continue
			}
			if err := fn(t); err != nil {
				return nil, err
			}
			t.UpdatedAt = s.now()
			t.clampCollections()
			c := *t
			c.Task = *t.Task.Clone()
			patched = &c
			return tasks, nil
		}
		return nil, ErrTaskNotFound
	})
	if err != nil {
		return nil, err
	}
	return patched, nil
}

// FindActive returns the active task with the given id.
func (s *Store) FindActive(ctx context.Context, id string) (*Task, error) {
	tasks, err := s.ReadActive(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

// FindStopped returns the archived task with the given id.
func (s *Store) FindStopped(ctx context.Context, id string) (*StoppedTask, error) {
	tasks, err := s.ReadStopped(ctx)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, ErrTaskNotFound
}

func (s *Store) writeActive(ctx context.Context, tasks []*Task) error {
	if tasks == nil {
		tasks = []*Task{}
	}
	for _, t := range tasks {
		t.clampCollections()
	}
	if err := kv.SetJSON(ctx, s.kv, activeKey, tasks); err != nil {
		return fmt.Errorf("write active tasks: %w", err)
	}
	s.notify.publish(Change{Collection: CollectionActive, At: s.now()})
	return nil
}

func (s *Store) writeStopped(ctx context.Context, tasks []*StoppedTask) error {
	tasks = s.pruneStopped(tasks)
	for _, t := range tasks {
		t.clampCollections()
	}
	if err := kv.SetJSON(ctx, s.kv, stoppedKey, tasks); err != nil {
		return fmt.Errorf("write stopped tasks: %w", err)
	}
	s.notify.publish(Change{Collection: CollectionStopped, At: s.now()})
	return nil
}

func (s *Store) pruneStopped(tasks []*StoppedTask) []*StoppedTask {
	cutoff := s.now().Add(-Retention)
	kept := make([]*StoppedTask, 0, len(tasks))
	for _, t := range tasks {
		if t.StoppedAt.After(cutoff) {
			kept = append(kept, t)
		}
	}
	return kept
}
