package stats

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"followpilot/internal/kv"
)

func TestCounterTrailingWindow(t *testing.T) {
	ctx := context.Background()
	c := NewCounter(kv.NewMemoryStore())
	day0 := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, c.RecordFollow(ctx, day0))
	require.NoError(t, c.RecordFollow(ctx, day0.Add(time.Hour)))
	require.NoError(t, c.RecordFollow(ctx, day0.AddDate(0, 0, 3)))

	s, err := c.Summary(ctx, day0.AddDate(0, 0, 3))
	require.NoError(t, err)
	assert.Equal(t, Summary{Today: 1, Last7Days: 3}, s)

	// Seven days after day0 the first two follows have left the window.
	require.NoError(t, c.RecordFollow(ctx, day0.AddDate(0, 0, 7)))
	s, err = c.Summary(ctx, day0.AddDate(0, 0, 7))
	require.NoError(t, err)
	assert.Equal(t, Summary{Today: 1, Last7Days: 2}, s)
}

func TestSummaryEmpty(t *testing.T) {
	s, err := NewCounter(kv.NewMemoryStore()).Summary(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, s)
}
