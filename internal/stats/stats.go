// Package stats keeps the daily and trailing-week follow counters the user
// watches to stay under the network's soft limits.
package stats

import (
	"context"
	"fmt"
	"sync"
	"time"

	"followpilot/internal/kv"
)

const (
	followsKey = "stats.follows"
	dayLayout  = "2006-01-02"
	windowDays = 7
)

// Recorder accepts successful follow events.
type Recorder interface {
	RecordFollow(ctx context.Context, at time.Time) error
}

// Summary is the accounting view shown next to task progress.
type Summary struct {
	Today     int `json:"today"`
	Last7Days int `json:"last_7_days"`
}

// Counter stores per-day counts in the key-value store, dropping days that
// fall out of the trailing window.
type Counter struct {
	kv kv.Store
	mu sync.Mutex
}

func NewCounter(store kv.Store) *Counter {
	return &Counter{kv: store}
}

func (c *Counter) load(ctx context.Context) (map[string]int, error) {
	days := map[string]int{}
	if _, err := kv.GetJSON(ctx, c.kv, followsKey, &days); err != nil {
		return nil, fmt.Errorf("load follow stats: %w", err)
	}
	return days, nil
}

func (c *Counter) RecordFollow(ctx context.Context, at time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	days, err := c.load(ctx)
	if err != nil {
		return err
	}
	days[at.Format(dayLayout)]++
	window := windowKeys(at)
	for day := range days {
		if _, ok := window[day]; !ok {
			delete(days, day)
		}
	}
	return kv.SetJSON(ctx, c.kv, followsKey, days)
}

func (c *Counter) Summary(ctx context.Context, now time.Time) (Summary, error) {
	days, err := c.load(ctx)
	if err != nil {
		return Summary{}, err
	}
	var s Summary
	s.Today = days[now.Format(dayLayout)]
	for day := range windowKeys(now) {
		s.Last7Days += days[day]
	}
	return s, nil
}

func windowKeys(now time.Time) map[string]struct{} {
	keys := make(map[string]struct{}, windowDays)
	for i := 0; i < windowDays; i++ {
		keys[now.AddDate(0, 0, -i).Format(dayLayout)] = struct{}{}
	}
	return keys
}
