package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/gql-node-pager/internal/config"
	"github.com/Sternrassler/gql-node-pager/pkg/checkpoint"
	"github.com/Sternrassler/gql-node-pager/pkg/graphql"
	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/logging"
	"github.com/Sternrassler/gql-node-pager/pkg/metrics"
	"github.com/Sternrassler/gql-node-pager/pkg/pager"
	"github.com/Sternrassler/gql-node-pager/pkg/ratelimit"
	"github.com/Sternrassler/gql-node-pager/pkg/sink"
	"github.com/Sternrassler/gql-node-pager/pkg/transport"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func newRunCmd(cfgFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run [URL TOKEN FILE [CHECKPOINT]]",
		Short: "Fetch every ID in the input file",
		Long: `Fetch every ID in the input file and append each complete node to the output.

Endpoint, token, input file and an optional resume ID may be given positionally
or through flags, NODE_PAGER_* environment variables or the config file.`,
		Example: `  node-pager run https://shop.myshopify.com/admin/api/2024-01/graphql.json $TOKEN orders.txt
  node-pager run --config node-pager.yaml --checkpoint-store redis
  node-pager run --reset-checkpoint $URL $TOKEN orders.txt`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgFile, cmd.Flags(), args)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			logCfg := cfg.Logging()
			logCfg.Output = cmd.ErrOrStderr()
			logger := logging.Setup(logCfg)
			if cfg.ConfigFile != "" {
				logger.Debug().Str("file", cfg.ConfigFile).Msg("Using config file")
			}

			_, err = runJob(cmd.Context(), cfg)
			return err
		},
	}

	config.BindFlags(cmd.Flags())
	return cmd
}

// runJob wires the pipeline from cfg and runs it to completion.
func runJob(ctx context.Context, cfg *config.Config) (pager.Summary, error) {
	logger := logging.NewLogger("node-pager")

	query, err := cfg.LoadQuery()
	if err != nil {
		return pager.Summary{}, err
	}

	tracker := ratelimit.NewTracker(logging.NewLogger("ratelimit"))
	tr, err := transport.New(cfg.Transport(), tracker, logging.NewLogger("transport"))
	if err != nil {
		return pager.Summary{}, fmt.Errorf("%w: %w", config.ErrInvalidConfig, err)
	}
	client := graphql.NewClient(tr, logging.NewLogger("graphql"))
	client.SetIDsVariable(cfg.IDsVariable)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return pager.Summary{}, err
	}
	defer closeStore()

	if cfg.ResetCheckpoint && store != nil {
		if err := store.Clear(ctx); err != nil {
			return pager.Summary{}, fmt.Errorf("%w: reset checkpoint: %w", pager.ErrSinkFailed, err)
		}
		logger.Info().Str("store", cfg.CheckpointStore).Msg("Stored checkpoint cleared")
	}

	opts, err := resumeOptions(ctx, cfg, store, logger)
	if err != nil {
		return pager.Summary{}, err
	}
	reader, err := idsource.Open(cfg.Input, opts, logging.NewLogger("idsource"))
	if err != nil {
		return pager.Summary{}, err
	}
	defer reader.Close()

	out, err := sink.Open(cfg.Output, store, logging.NewLogger("sink"))
	if err != nil {
		return pager.Summary{}, fmt.Errorf("%w: %w", pager.ErrSinkFailed, err)
	}
	defer out.Close()

	var failures pager.FailureRecorder
	if cfg.Failures != "" {
		failureLog, err := sink.OpenFailureLog(cfg.Failures, logging.NewLogger("sink"))
		if err != nil {
			return pager.Summary{}, fmt.Errorf("%w: %w", pager.ErrSinkFailed, err)
		}
		defer failureLog.Close()
		failures = failureLog
	}

	if cfg.MetricsAddr != "" {
		srv, err := metrics.Start(cfg.MetricsAddr, logging.NewLogger("metrics"))
		if err != nil {
			return pager.Summary{}, fmt.Errorf("start metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	pcfg := pager.DefaultConfig(query)
	pcfg.PageSize = cfg.PageSize
	pcfg.PageSizeVariable = cfg.PageSizeVariable
	pcfg.CursorVariables = cfg.CursorVariables
	pcfg.MaxRounds = cfg.MaxRounds

	orch := pager.NewOrchestrator(client, pcfg, logging.NewLogger("pager"))
	runner := pager.NewRunner(reader, client, orch, out, failures, logging.NewLogger("runner"))

	logger.Info().
		Str("endpoint", cfg.Endpoint).
		Str("input", cfg.Input).
		Str("output", cfg.Output).
		Str("resume", string(reader.Mode())).
		Int("batch_size", cfg.BatchSize).
		Msg("Starting run")

	summary, err := runner.Run(ctx)
	if len(summary.FailedIDs) > 0 && cfg.Failures != "" {
		logger.Warn().
			Int("failed", summary.Failed).
			Str("failures", cfg.Failures).
			Msg("Some IDs could not be completed; rerun with the failure log as input")
	}
	return summary, err
}

// openStore returns the configured checkpoint store, or nil for "none".
func openStore(ctx context.Context, cfg *config.Config) (checkpoint.Store, func(), error) {
	switch cfg.CheckpointStore {
	case config.StoreFile:
		return checkpoint.NewFileStore(cfg.CheckpointFile, logging.NewLogger("checkpoint")), func() {}, nil
	case config.StoreRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			redisClient.Close()
			return nil, nil, fmt.Errorf("%w: connect to redis at %s: %w", pager.ErrSinkFailed, cfg.Redis.Addr, err)
		}
		return checkpoint.NewRedisStore(redisClient, cfg.Redis.Key), func() { redisClient.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// resumeOptions decides where reading starts. An explicit checkpoint ID wins
// over the stored checkpoint; it carries no offset and is found by scanning.
func resumeOptions(ctx context.Context, cfg *config.Config, store checkpoint.Store, logger zerolog.Logger) (idsource.Options, error) {
	opts := idsource.Options{BatchSize: cfg.BatchSize}

	if cfg.Checkpoint != "" {
		opts.Checkpoint = cfg.Checkpoint
		logger.Info().Str("checkpoint", cfg.Checkpoint).Msg("Resuming after explicit checkpoint")
		return opts, nil
	}
	if store == nil {
		return opts, nil
	}

	cp, err := store.Load(ctx)
	switch {
	case errors.Is(err, checkpoint.ErrNoCheckpoint):
		return opts, nil
	case err != nil:
		return opts, fmt.Errorf("%w: load checkpoint: %w", pager.ErrSinkFailed, err)
	}

	opts.Checkpoint = cp.ID
	opts.Offset = cp.Offset
	logger.Info().
		Str("checkpoint", cp.ID).
		Int64("offset", cp.Offset).
		Time("saved_at", cp.UpdatedAt).
		Msg("Resuming after stored checkpoint")
	return opts, nil
}
