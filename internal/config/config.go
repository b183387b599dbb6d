// Package config loads node-pager configuration from defaults, a YAML file,
// NODE_PAGER_ environment variables, CLI flags and positional arguments.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/Sternrassler/gql-node-pager/pkg/checkpoint"
	"github.com/Sternrassler/gql-node-pager/pkg/graphql"
	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/logging"
	"github.com/Sternrassler/gql-node-pager/pkg/transport"
)

// ErrInvalidConfig marks argument and configuration errors.
var ErrInvalidConfig = errors.New("invalid configuration")

// Checkpoint store kinds.
const (
	StoreFile  = "file"
	StoreRedis = "redis"
	StoreNone  = "none"
)

// Defaults.
const (
	DefaultConfigFile     = "node-pager.yaml"
	DefaultOutput         = "response.jsonl"
	DefaultFailures       = "failed_ids.txt"
	DefaultCheckpointFile = "node-pager.checkpoint.json"
	DefaultPageSize       = 250
	DefaultMaxRounds      = 10_000
)

// RedisConfig selects the redis checkpoint store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

// Config is the complete run configuration.
type Config struct {
	Endpoint    string `koanf:"endpoint"`
	Token       string `koanf:"token"`
	TokenHeader string `koanf:"token_header"`
	UserAgent   string `koanf:"user_agent"`

	Input    string `koanf:"input"`
	Output   string `koanf:"output"`
	Failures string `koanf:"failures"`

	// Checkpoint is an explicit resume ID. It overrides the stored checkpoint.
	Checkpoint      string      `koanf:"checkpoint"`
	CheckpointStore string      `koanf:"checkpoint_store"`
	CheckpointFile  string      `koanf:"checkpoint_file"`
	// ResetCheckpoint clears the stored checkpoint before the run starts.
	ResetCheckpoint bool        `koanf:"reset_checkpoint"`
	Redis           RedisConfig `koanf:"redis"`

	QueryFile        string            `koanf:"query_file"`
	IDsVariable      string            `koanf:"ids_variable"`
	BatchSize        int               `koanf:"batch_size"`
	PageSize         int               `koanf:"page_size"`
	PageSizeVariable string            `koanf:"page_size_variable"`
	CursorVariables  map[string]string `koanf:"cursor_variables"`
	MaxRounds        int               `koanf:"max_rounds"`

	Timeout time.Duration         `koanf:"timeout"`
	Retry   transport.RetryConfig `koanf:"retry"`

	Log         LogConfig `koanf:"log"`
	MetricsAddr string    `koanf:"metrics_addr"`

	// ConfigFile is the YAML file that was loaded, if any.
	ConfigFile string `koanf:"-"`
}

// defaults returns the default values keyed like the YAML file.
func defaults() map[string]any {
	retry := transport.DefaultRetryConfig()
	return map[string]any{
		"token_header":          transport.DefaultTokenHeader,
		"user_agent":            "gql-node-pager",
		"output":                DefaultOutput,
		"failures":              DefaultFailures,
		"checkpoint_store":      StoreFile,
		"checkpoint_file":       DefaultCheckpointFile,
		"redis.addr":            "localhost:6379",
		"redis.db":              0,
		"redis.key":             checkpoint.DefaultRedisKey,
		"ids_variable":          graphql.DefaultIDsVariable,
		"batch_size":            idsource.MaxBatchSize,
		"page_size":             DefaultPageSize,
		"page_size_variable":    "first",
		"max_rounds":            DefaultMaxRounds,
		"timeout":               "60s",
		"retry.max_attempts":    retry.MaxAttempts,
		"retry.initial_backoff": retry.InitialBackoff.String(),
		"retry.max_backoff":     retry.MaxBackoff.String(),
		"retry.multiplier":      retry.BackoffMultiplier,
		"retry.jitter":          retry.Jitter,
		"log.level":             string(logging.LevelInfo),
		"log.pretty":            false,
	}
}

// Validate checks the configuration and reports every problem at once.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.Endpoint == "" {
		add("endpoint is required")
	} else if u, err := url.Parse(c.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		add("endpoint must be an http(s) URL (got %q)", c.Endpoint)
	}
	if c.Token == "" {
		add("token is required")
	}
	if c.TokenHeader == "" {
		add("token_header must not be empty")
	}
	if c.Input == "" {
		add("input is required")
	}
	if c.Output == "" {
		add("output is required")
	}
	if c.Failures != "" && c.Failures == c.Output {
		add("failures must differ from output")
	}

	switch c.CheckpointStore {
	case StoreFile:
		if c.CheckpointFile == "" {
			add("checkpoint_file is required for the file checkpoint store")
		}
	case StoreRedis:
		if c.Redis.Addr == "" {
			add("redis.addr is required for the redis checkpoint store")
		}
		if c.Redis.Key == "" {
			add("redis.key must not be empty")
		}
	case StoreNone:
	default:
		add("checkpoint_store must be one of file, redis, none (got %q)", c.CheckpointStore)
	}

	if c.IDsVariable == "" {
		add("ids_variable must not be empty")
	}
	if c.BatchSize < 1 || c.BatchSize > idsource.MaxBatchSize {
		add("batch_size must be between 1 and %d (got %d)", idsource.MaxBatchSize, c.BatchSize)
	}
	if c.PageSize < 0 {
		add("page_size must not be negative (got %d)", c.PageSize)
	}
	if c.MaxRounds < 1 {
		add("max_rounds must be >= 1 (got %d)", c.MaxRounds)
	}
	for field, variable := range c.CursorVariables {
		if field == "" || variable == "" {
			add("cursor_variables entries need a field and a variable (got %q=%q)", field, variable)
		}
	}
	if c.Timeout <= 0 {
		add("timeout must be positive (got %s)", c.Timeout)
	}
	if err := c.Retry.Validate(); err != nil {
		for _, line := range strings.Split(err.Error(), "\n") {
			add("retry.%s", line)
		}
	}
	if !logging.ValidLevel(logging.LogLevel(c.Log.Level)) {
		add("log.level must be one of debug, info, warn, error (got %q)", c.Log.Level)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// Transport returns the transport configuration.
func (c *Config) Transport() transport.Config {
	cfg := transport.DefaultConfig(c.Endpoint, c.Token)
	cfg.TokenHeader = c.TokenHeader
	if c.UserAgent != "" {
		cfg.UserAgent = c.UserAgent
	}
	cfg.Timeout = c.Timeout
	cfg.Retry = c.Retry
	return cfg
}

// Logging returns the logger configuration.
func (c *Config) Logging() logging.Config {
	cfg := logging.DefaultConfig()
	cfg.Level = logging.LogLevel(c.Log.Level)
	cfg.Pretty = c.Log.Pretty
	return cfg
}
