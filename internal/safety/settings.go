// Package safety holds the pacing policy that keeps follow traffic under
// the network's anti-abuse thresholds.
package safety

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"followpilot/internal/kv"
)

const settingsKey = "settings.safety"

const (
	defaultRequestIntervalSeconds     = 45
	defaultRequestRandomRangeSeconds  = 30
	defaultFailedPauseIntervalSeconds = 300
)

var ErrInvalidSettings = errors.New("invalid safety settings")

// Settings are the user-editable pacing parameters, replaced wholesale on save.
type Settings struct {
	RequestIntervalSeconds     int `json:"request_interval_seconds" yaml:"request_interval_seconds"`
	RequestRandomRangeSeconds  int `json:"request_random_range_seconds" yaml:"request_random_range_seconds"`
	FailedPauseIntervalSeconds int `json:"failed_pause_interval_seconds" yaml:"failed_pause_interval_seconds"`
}

// Default returns the pacing used until the user saves their own.
func Default() Settings {
	return Settings{
		RequestIntervalSeconds:     defaultRequestIntervalSeconds,
		RequestRandomRangeSeconds:  defaultRequestRandomRangeSeconds,
		FailedPauseIntervalSeconds: defaultFailedPauseIntervalSeconds,
	}
}

func (s Settings) Validate() error {
	if s.RequestIntervalSeconds < 1 {
		return fmt.Errorf("%w: request_interval_seconds must be >= 1", ErrInvalidSettings)
	}
	if s.RequestRandomRangeSeconds < 0 || s.FailedPauseIntervalSeconds < 0 {
		return fmt.Errorf("%w: values must not be negative", ErrInvalidSettings)
	}
	return nil
}

// Rand is the jitter source. *rand.Rand satisfies it.
type Rand interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() } //nolint:gosec // jitter, not crypto

// DefaultRand draws from the process-wide generator.
var DefaultRand Rand = globalRand{}

// Draw returns base + uniform(0, jitter) seconds.
func Draw(baseSeconds, jitterSeconds int, rnd Rand) time.Duration {
	d := time.Duration(baseSeconds) * time.Second
	if jitterSeconds > 0 {
		d += time.Duration(rnd.Float64() * float64(jitterSeconds) * float64(time.Second))
	}
	return d
}

// ActionDelay is the wait between two successful actions.
func (s Settings) ActionDelay(rnd Rand) time.Duration {
	return Draw(s.RequestIntervalSeconds, s.RequestRandomRangeSeconds, rnd)
}

// FailureDelay is the wait after a failed external call.
func (s Settings) FailureDelay(rnd Rand) time.Duration {
	return Draw(s.FailedPauseIntervalSeconds, s.RequestRandomRangeSeconds, rnd)
}

// Source yields the current settings. The runner reloads them every tick.
type Source interface {
	Load(ctx context.Context) (Settings, error)
}

// Store persists Settings in the key-value store.
type Store struct {
	kv       kv.Store
	defaults Settings
}

// NewStore returns a Store that falls back to defaults when nothing was saved.
// Invalid defaults are replaced with Default().
func NewStore(store kv.Store, defaults Settings) *Store {
	if defaults.Validate() != nil {
		defaults = Default()
	}
	return &Store{kv: store, defaults: defaults}
}

func (s *Store) Load(ctx context.Context) (Settings, error) {
	var saved Settings
	found, err := kv.GetJSON(ctx, s.kv, settingsKey, &saved)
	if err != nil {
		return s.defaults, err
	}
	if !found {
		return s.defaults, nil
	}
	return saved, nil
}

func (s *Store) Save(ctx context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	return kv.SetJSON(ctx, s.kv, settingsKey, settings)
}

// Reset drops saved settings so defaults apply again.
func (s *Store) Reset(ctx context.Context) error {
	return s.kv.Remove(ctx, settingsKey)
}
