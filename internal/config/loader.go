package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every environment variable. A double underscore nests:
// NODE_PAGER_REDIS__ADDR sets redis.addr.
const EnvPrefix = "NODE_PAGER_"

// flagKeys maps flag names whose config key is not the snake_case flag name.
var flagKeys = map[string]string{
	"redis-addr":            "redis.addr",
	"redis-password":        "redis.password",
	"redis-db":              "redis.db",
	"redis-key":             "redis.key",
	"retry-max-attempts":    "retry.max_attempts",
	"retry-initial-backoff": "retry.initial_backoff",
	"retry-max-backoff":     "retry.max_backoff",
	"retry-multiplier":      "retry.multiplier",
	"retry-jitter":          "retry.jitter",
	"log-level":             "log.level",
	"log-pretty":            "log.pretty",
	"cursor-var":            "cursor_variables",
	"query":                 "query_file",
}

// positionalKeys are the keys bound by URL TOKEN FILE [CHECKPOINT].
var positionalKeys = []string{"endpoint", "token", "input", "checkpoint"}

// MaxPositionalArgs is the number of accepted positional arguments.
const MaxPositionalArgs = 4

// findConfigFile returns the explicit path or ./node-pager.yaml when present.
func findConfigFile(explicit string) string {
	if explicit != "" {
		return explicit
	}
	for _, name := range []string{DefaultConfigFile, "node-pager.yml"} {
		if _, err := os.Stat(name); err == nil {
			return name
		}
	}
	return ""
}

// Load builds the configuration.
// Precedence (highest to lowest): positional args > flags > env vars > config file > defaults
func Load(cfgFile string, flags *pflag.FlagSet, args []string) (*Config, error) {
	if len(args) > MaxPositionalArgs {
		return nil, fmt.Errorf("%w: at most %d positional arguments (URL TOKEN FILE [CHECKPOINT]), got %d",
			ErrInvalidConfig, MaxPositionalArgs, len(args))
	}

	k := koanf.New(".")

	// 1. Defaults
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// 2. Config file
	used := findConfigFile(cfgFile)
	if used != "" {
		if err := k.Load(file.Provider(used), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("%w: error reading config file %s: %w", ErrInvalidConfig, used, err)
		}
	}

	// 3. Environment: NODE_PAGER_BATCH_SIZE -> batch_size, NODE_PAGER_RETRY__JITTER -> retry.jitter
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
		return strings.ReplaceAll(key, "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	// 4. Flags that were explicitly set
	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed || f.Name == "config" {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			if f.Value.Type() == "stringToString" {
				m, _ := flags.GetStringToString(f.Name)
				out := make(map[string]interface{}, len(m))
				for name, v := range m {
					out[name] = v
				}
				return key, out
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	// 5. Positional URL TOKEN FILE [CHECKPOINT]
	if len(args) > 0 {
		positional := make(map[string]interface{}, len(args))
		for i, arg := range args {
			positional[positionalKeys[i]] = arg
		}
		if err := k.Load(confmap.Provider(positional, "."), nil); err != nil {
			return nil, fmt.Errorf("failed to load arguments: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("%w: unable to decode config: %w", ErrInvalidConfig, err)
	}
	cfg.ConfigFile = used

	return &cfg, nil
}

// BindFlags registers the run flags on fs. Defaults are left empty so that
// only explicitly set flags override the file and environment.
func BindFlags(fs *pflag.FlagSet) {
	fs.String("endpoint", "", "GraphQL endpoint URL")
	fs.String("token", "", "API access token")
	fs.String("token-header", "", "header carrying the token (default X-Shopify-Access-Token)")
	fs.String("input", "", "file with one node ID per line")
	fs.StringP("output", "o", "", "output JSON Lines file (default response.jsonl)")
	fs.String("failures", "", "file receiving IDs that could not be completed")
	fs.String("checkpoint", "", "resume after this ID, overriding the stored checkpoint")
	fs.String("checkpoint-store", "", "checkpoint store: file, redis or none")
	fs.String("checkpoint-file", "", "checkpoint file for the file store")
	fs.Bool("reset-checkpoint", false, "clear the stored checkpoint and start from the first ID")
	fs.String("redis-addr", "", "redis address for the redis store")
	fs.String("redis-password", "", "redis password")
	fs.Int("redis-db", 0, "redis database")
	fs.String("redis-key", "", "redis key holding the checkpoint")
	fs.StringP("query", "q", "", "file with the GraphQL query (default: built-in orders query)")
	fs.String("ids-variable", "", "query variable receiving the ID list")
	fs.Int("batch-size", 0, "IDs per request (1-250)")
	fs.Int("page-size", 0, "page size bound to the page size variable")
	fs.String("page-size-variable", "", "query variable receiving the page size")
	fs.StringToString("cursor-var", nil, "connection field to cursor variable, e.g. sales=sales_cursor")
	fs.Int("max-rounds", 0, "pagination requests allowed per node")
	fs.Duration("timeout", 0, "timeout for one HTTP attempt")
	fs.Int("retry-max-attempts", 0, "attempts per request including the first")
	fs.Duration("retry-initial-backoff", 0, "delay before the first retry")
	fs.Duration("retry-max-backoff", 0, "upper bound for any retry delay")
	fs.Float64("retry-multiplier", 0, "backoff multiplier")
	fs.Float64("retry-jitter", 0, "relative jitter applied to retry delays")
	fs.String("log-level", "", "log level: debug, info, warn, error")
	fs.Bool("log-pretty", false, "human-readable console logs")
	fs.String("metrics-addr", "", "serve Prometheus metrics on this address during the run")
}
