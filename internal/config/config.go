package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"followpilot/internal/graph"
	"followpilot/internal/runner"
	"followpilot/internal/safety"
)

const (
	defaultPort     = 8080
	defaultDataDir  = "data"
	defaultStore    = StoreFile
	defaultLogLevel = "info"
	maxPort         = 65535

	// TokenEnv overrides graph.token so the secret can stay out of the file.
	TokenEnv = "FOLLOWPILOT_GRAPH_TOKEN"
)

// Store backends.
const (
	StoreFile   = "file"
	StoreBadger = "badger"
	StoreMemory = "memory"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port    int             `yaml:"port"`
	DataDir string          `yaml:"data_dir"`
	Store   string          `yaml:"store"`
	Log     LogConfig       `yaml:"log"`
	Graph   GraphConfig     `yaml:"graph"`
	Runner  runner.Config   `yaml:"runner"`
	Safety  safety.Settings `yaml:"safety"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File, when set, receives a copy of the log rotated by size.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type GraphConfig struct {
	BaseURL              string        `yaml:"base_url"`
	Token                string        `yaml:"token"`
	Timeout              time.Duration `yaml:"timeout"`
	MaxRequestsPerSecond float64       `yaml:"max_requests_per_second"`
	// ViewerID is the signed-in account; cleanup checks reciprocity against it.
	ViewerID string `yaml:"viewer_id"`
}

// HTTPOptions maps the section onto the gateway client options.
func (g GraphConfig) HTTPOptions() graph.HTTPOptions {
	return graph.HTTPOptions{
		BaseURL:              g.BaseURL,
		Token:                g.Token,
		Timeout:              g.Timeout,
		MaxRequestsPerSecond: g.MaxRequestsPerSecond,
	}
}

// Default returns a config that runs locally with file storage.
func Default() Config {
	return Config{
		Port:    defaultPort,
		DataDir: defaultDataDir,
		Store:   defaultStore,
		Log: LogConfig{
			Level:      defaultLogLevel,
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Graph: GraphConfig{
			BaseURL:              "http://localhost:9000",
			Timeout:              20 * time.Second,
			MaxRequestsPerSecond: 1,
		},
		Runner: runner.DefaultConfig(),
		Safety: safety.Default(),
	}
}

// Load reads YAML config from the provided path. If the file does not exist
// or is empty, defaults are returned with no error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, finish(&cfg)
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if len(fileData) > 0 {
		if err := yaml.Unmarshal(fileData, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml: %w", err)
		}
	}
	return cfg, finish(&cfg)
}

func finish(cfg *Config) error {
	if token := os.Getenv(TokenEnv); token != "" {
		cfg.Graph.Token = token
	}
	normalize(cfg)
	return validate(*cfg)
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	if cfg.Store == "" {
		cfg.Store = defaultStore
	}
	cfg.Log.Level = strings.ToLower(strings.TrimSpace(cfg.Log.Level))
	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}
	cfg.Graph.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.Graph.BaseURL), "/")
}

func validate(cfg Config) error {
	if cfg.Port < 1 || cfg.Port > maxPort {
		return fmt.Errorf("invalid port: %d", cfg.Port)
	}
	switch cfg.Store {
	case StoreFile, StoreBadger, StoreMemory:
	default:
		return fmt.Errorf("invalid store: %q (want file, badger or memory)", cfg.Store)
	}
	if _, err := zerolog.ParseLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	if cfg.Graph.BaseURL == "" {
		return errors.New("graph.base_url is required")
	}
	if cfg.Graph.MaxRequestsPerSecond < 0 {
		return fmt.Errorf("invalid graph.max_requests_per_second: %v", cfg.Graph.MaxRequestsPerSecond)
	}
	if cfg.Runner.BatchSize < 0 || cfg.Runner.MaxFailures < 0 || cfg.Runner.MaxStalledTicks < 0 {
		return errors.New("runner limits must not be negative")
	}
	if err := cfg.Safety.Validate(); err != nil {
		return fmt.Errorf("safety defaults: %w", err)
	}
	return nil
}
