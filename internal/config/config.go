// Package config defines service configuration structures and loading hooks.
//
// Conventions:
// - Provide New(ctx) to build a Config with defaults.
// - Load layers a .env file, an optional YAML file and TROPHY_* env vars.
// - Validation errors wrap ErrInvalidConfig.
package config

import (
	"context"
	"fmt"
	"runtime"
	"slices"
	"strings"
	"time"
)

// Ranking store backends.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// Config contains process configuration.
type Config struct {
	// LogLevel controls verbosity: debug, info, warn, error.
	LogLevel string `koanf:"log_level"`

	// LogFormat selects the log handler: text or json.
	LogFormat string `koanf:"log_format"`

	// Addr configures the HTTP listen address, e.g. ":8080".
	Addr string `koanf:"addr"`

	// QueueSize bounds the in-memory scoring queue.
	QueueSize int `koanf:"queue_size"`

	// WorkerCount sets the number of scoring workers.
	WorkerCount int `koanf:"worker_count"`

	// DedupeSize sets how many students' last fingerprints are remembered.
	DedupeSize int `koanf:"dedupe_size"`

	// MaxLeaderboardLimit caps GET /leaderboard?limit.
	MaxLeaderboardLimit int `koanf:"max_leaderboard_limit"`

	// ScoreConcurrency bounds parallel scoring in batch and rebuild paths.
	ScoreConcurrency int `koanf:"score_concurrency"`

	// Store selects the ranking store: memory or redis.
	Store string `koanf:"store"`

	// SnapshotInterval is how often the memory store republishes its top cache.
	SnapshotInterval time.Duration `koanf:"snapshot_interval"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisKey      string `koanf:"redis_key"`

	// DBDriver selects the student directory database: sqlite, postgres, mysql.
	DBDriver string `koanf:"db_driver"`
	DBDSN    string `koanf:"db_dsn"`

	// AuthSecret enables bearer token checks on write routes when set.
	AuthSecret string `koanf:"auth_secret"`

	// CORSOrigins lists allowed origins; comma separated in env.
	CORSOrigins []string `koanf:"cors_origins"`

	// RequestTimeout bounds each HTTP request.
	RequestTimeout time.Duration `koanf:"request_timeout"`

	// RebuildOnStart rescores the whole directory when the service starts.
	RebuildOnStart bool `koanf:"rebuild_on_start"`
}

// New creates a Config populated with defaults. Context is accepted first to
// satisfy the project-wide convention.
func New(_ context.Context) *Config {
	return &Config{
		LogLevel:            "info",
		LogFormat:           "text",
		Addr:                ":9080",
		QueueSize:           10_000,
		WorkerCount:         runtime.NumCPU() * 2,
		DedupeSize:          50_000,
		MaxLeaderboardLimit: 100,
		ScoreConcurrency:    runtime.NumCPU(),
		Store:               StoreMemory,
		SnapshotInterval:    500 * time.Millisecond,
		RedisAddr:           "localhost:6379",
		RedisKey:            "trophy:leaderboard",
		DBDriver:            "sqlite",
		DBDSN:               "trophy.db",
		CORSOrigins:         []string{"*"},
		RequestTimeout:      30 * time.Second,
	}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrInvalidConfig}, args...)...)
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Addr) == "":
		return invalid("addr must not be empty")
	case c.QueueSize < 1:
		return invalid("queue_size must be positive, got %d", c.QueueSize)
	case c.WorkerCount < 1:
		return invalid("worker_count must be positive, got %d", c.WorkerCount)
	case c.DedupeSize < 0:
		return invalid("dedupe_size must not be negative, got %d", c.DedupeSize)
	case c.MaxLeaderboardLimit < 1:
		return invalid("max_leaderboard_limit must be positive, got %d", c.MaxLeaderboardLimit)
	case c.ScoreConcurrency < 1:
		return invalid("score_concurrency must be positive, got %d", c.ScoreConcurrency)
	case c.SnapshotInterval <= 0:
		return invalid("snapshot_interval must be positive")
	case c.RequestTimeout <= 0:
		return invalid("request_timeout must be positive")
	}
	if !slices.Contains([]string{"debug", "info", "warn", "warning", "error"}, strings.ToLower(c.LogLevel)) {
		return invalid("unknown log_level %q", c.LogLevel)
	}
	if !slices.Contains([]string{"text", "json"}, strings.ToLower(c.LogFormat)) {
		return invalid("unknown log_format %q", c.LogFormat)
	}
	switch c.Store {
	case StoreMemory:
	case StoreRedis:
		if c.RedisAddr == "" {
			return invalid("redis_addr is required when store is redis")
		}
		if c.RedisDB < 0 {
			return invalid("redis_db must not be negative")
		}
	default:
		return invalid("unknown store %q", c.Store)
	}
	if !slices.Contains([]string{"sqlite", "postgres", "mysql"}, c.DBDriver) {
		return invalid("unknown db_driver %q", c.DBDriver)
	}
	if strings.TrimSpace(c.DBDSN) == "" {
		return invalid("db_dsn must not be empty")
	}
	return nil
}
