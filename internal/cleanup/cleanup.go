// Package cleanup un-follows accounts a task followed that did not follow
// back, using the same pacing and failure limits as the runner.
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/rs/zerolog/log"

	"followpilot/internal/graph"
	"followpilot/internal/metrics"
	"followpilot/internal/pacing"
	"followpilot/internal/safety"
	"followpilot/internal/task"
)

// ReciprocityWindow is how far back follow-backs are looked up.
const ReciprocityWindow = 30 * 24 * time.Hour

var ErrNoViewer = errors.New("viewer account id not configured")

// Why a run ended before its to-do list was drained.
const (
	EndDeleted    = "deleted"
	EndNotRunning = "not_running"
	EndFailures   = "failures"
	EndCancelled  = "cancelled"
)

type Options struct {
	// ViewerID is the account whose followers decide reciprocity.
	ViewerID    string
	WaitStep    time.Duration
	MaxFailures int
	Clock       pacing.Clock
	Rand        safety.Rand
	Metrics     *metrics.Metrics
}

type Flow struct {
	manager  *task.Manager
	store    *task.Store
	graph    graph.Client
	settings safety.Source
	opts     Options
	waiter   pacing.Waiter
}

func New(manager *task.Manager, client graph.Client, settings safety.Source, opts Options) *Flow {
	if opts.Clock == nil {
		opts.Clock = pacing.RealClock
	}
	if opts.Rand == nil {
		opts.Rand = safety.DefaultRand
	}
	if opts.MaxFailures <= 0 {
		opts.MaxFailures = 3
	}
	return &Flow{
		manager:  manager,
		store:    manager.Store(),
		graph:    client,
		settings: settings,
		opts:     opts,
		waiter:   pacing.NewWaiter(opts.Clock, opts.WaitStep),
	}
}

// Result summarizes one cleanup run.
type Result struct {
	TaskID         string `json:"task_id"`
	Archived       bool   `json:"archived"`
	Followed       int    `json:"followed"`
	FollowedBack   int    `json:"followed_back"`
	AlreadyCleaned int    `json:"already_cleaned"`
	Pending        int    `json:"pending"`
	Unfollowed     int    `json:"unfollowed"`
	Failed         int    `json:"failed"`
	EndedEarly     string `json:"ended_early,omitempty"`
}

// Run drains the un-follow list of task id. Every success is persisted
// before the next call, so a repeated run never un-follows twice.
func (f *Flow) Run(ctx context.Context, id string) (Result, error) {
	if f.opts.ViewerID == "" {
		return Result{}, ErrNoViewer
	}
	settings, err := f.settings.Load(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("load safety settings: %w", err)
	}
	active, stopped, err := f.manager.Find(ctx, id)
	if err != nil {
		return Result{}, err
	}
	c := &run{flow: f, id: id, archived: stopped != nil, settings: settings}
	t := active
	if c.archived {
		t = &stopped.Task
	}

	followed := t.FollowedTargetIDs()
	since := f.opts.Clock.Now().Add(-ReciprocityWindow)
	backIDs, err := f.graph.ResolveReciprocators(ctx, f.opts.ViewerID, since)
	if err != nil {
		return Result{}, fmt.Errorf("resolve reciprocators: %w", err)
	}
	back := mapset.NewThreadUnsafeSet(backIDs...)
	cleaned := mapset.NewThreadUnsafeSet(t.CleanedUserIDs...)
	followedBack := mapset.NewThreadUnsafeSet(followed...).Intersect(back).Cardinality()

	res := Result{TaskID: id, Archived: c.archived, Followed: len(followed), FollowedBack: followedBack}
	var todo []string
	for _, target := range followed {
		switch {
		case back.Contains(target):
		case cleaned.Contains(target):
			res.AlreadyCleaned++
		default:
			todo = append(todo, target)
		}
	}
	res.Pending = len(todo)

	if err := c.patch(ctx, func(t *task.Task) { t.FollowedBackCount = followedBack }); err != nil {
		return res, err
	}
	log.Info().Str("task_id", id).Bool("archived", c.archived).Int("followed", res.Followed).
		Int("followed_back", followedBack).Int("pending", res.Pending).Msg("cleanup started")

	err = c.drain(ctx, todo, &res)
	log.Info().Str("task_id", id).Int("unfollowed", res.Unfollowed).Int("failed", res.Failed).
		Str("ended_early", res.EndedEarly).Msg("cleanup finished")
	return res, err
}

type run struct {
	flow     *Flow
	id       string
	archived bool
	settings safety.Settings
}

func (c *run) drain(ctx context.Context, todo []string, res *Result) error {
	f := c.flow
	failures := 0
	for i, target := range todo {
		if reason := c.check(ctx); reason != "" {
			res.EndedEarly = reason
			return nil
		}
		if err := f.graph.Unfollow(ctx, target); err != nil {
			if ctx.Err() != nil {
				res.EndedEarly = EndCancelled
				return nil
			}
			res.Failed++
			failures++
			f.opts.Metrics.Unfollow(graph.ErrorTag(err))
			log.Warn().Str("task_id", c.id).Str("target", target).Err(err).Int("consecutive", failures).Msg("unfollow failed")
			if failures >= f.opts.MaxFailures {
				res.EndedEarly = EndFailures
				if !c.archived {
					if _, err := f.manager.Pause(ctx, c.id); err != nil && !errors.Is(err, task.ErrTaskNotFound) {
						return err
					}
				}
				return nil
			}
			f.waiter.Wait(ctx, c.settings.FailureDelay(f.opts.Rand), c.alive)
			continue
		}

		failures = 0
		res.Unfollowed++
		f.opts.Metrics.Unfollow("unfollowed")
		err := c.patch(ctx, func(t *task.Task) {
			ledger := task.NewOrderedSet(t.CleanedUserIDs...)
			ledger.Add(target)
			t.CleanedUserIDs = ledger.Items()
			t.CleanedCount = ledger.Len()
		})
		if errors.Is(err, task.ErrTaskNotFound) {
			res.EndedEarly = EndDeleted
			return nil
		}
		if err != nil {
			return err
		}
		if i < len(todo)-1 {
			f.waiter.Wait(ctx, c.settings.ActionDelay(f.opts.Rand), c.alive)
		}
	}
	return nil
}

// check returns why the run must end now, or "".
func (c *run) check(ctx context.Context) string {
	if ctx.Err() != nil {
		return EndCancelled
	}
	if c.archived {
		if _, err := c.flow.store.FindStopped(ctx, c.id); err != nil {
			return EndDeleted
		}
		return ""
	}
	t, err := c.flow.store.FindActive(ctx, c.id)
	if err != nil {
		return EndDeleted
	}
	if t.Status != task.StatusRunning {
		return EndNotRunning
	}
	return ""
}

func (c *run) alive(ctx context.Context) bool {
	return c.check(ctx) == ""
}

func (c *run) patch(ctx context.Context, fn func(*task.Task)) error {
	if c.archived {
		_, err := c.flow.store.PatchStopped(ctx, c.id, func(st *task.StoppedTask) error {
			fn(&st.Task)
			return nil
		})
		return err
	}
	_, err := c.flow.store.PatchActive(ctx, c.id, func(t *task.Task) error {
		fn(t)
		return nil
	})
	return err
}
