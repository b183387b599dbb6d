package pager

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/gql-node-pager/pkg/checkpoint"
	"github.com/Sternrassler/gql-node-pager/pkg/graphql"
	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/record"
	"github.com/rs/zerolog"
)

// MaxSummaryFailedIDs bounds the failed IDs kept in memory for the summary.
// The failure log holds all of them.
const MaxSummaryFailedIDs = 1000

// BatchSource yields ID batches; an empty batch ends the input.
type BatchSource interface {
	Next() (idsource.Batch, error)
}

// Sink persists complete records. Append must write the record durably
// before saving cp.
type Sink interface {
	Append(ctx context.Context, rec *record.CompleteRecord, cp checkpoint.Checkpoint) error
}

// FailureRecorder remembers IDs that could not be completed.
type FailureRecorder interface {
	Record(id string, cause error) error
}

// Summary reports the outcome of a run.
type Summary struct {
	Batches   int
	Requests  int
	Processed int
	Failed    int

	// NotFound counts IDs whose node came back null; they are skipped.
	NotFound  int
	FailedIDs []string
	Duration  time.Duration
}

// Runner drives batches from the source through fetch, pagination and sink.
type Runner struct {
	source   BatchSource
	fetcher  NodeFetcher
	orch     *Orchestrator
	sink     Sink
	failures FailureRecorder
	logger   zerolog.Logger
}

// NewRunner wires the pipeline. failures may be nil.
func NewRunner(source BatchSource, fetcher NodeFetcher, orch *Orchestrator, sink Sink, failures FailureRecorder, logger zerolog.Logger) *Runner {
	return &Runner{
		source:   source,
		fetcher:  fetcher,
		orch:     orch,
		sink:     sink,
		failures: failures,
		logger:   logger,
	}
}

// Run processes the source to exhaustion. It returns early only on fatal
// errors (see IsFatal); per-ID failures are counted in the summary.
// Cancellation of ctx takes effect at the next batch or round boundary.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	start := time.Now()
	var summary Summary

	err := r.run(ctx, &summary)
	summary.Duration = time.Since(start)

	event := r.logger.Info()
	if err != nil {
		event = r.logger.Error().Err(err)
	}
	event.
		Int("batches", summary.Batches).
		Int("requests", summary.Requests).
		Int("processed", summary.Processed).
		Int("failed", summary.Failed).
		Int("skipped", summary.NotFound).
		Dur("duration", summary.Duration).
		Msg("Run summary")

	return summary, err
}

func (r *Runner) run(ctx context.Context, summary *Summary) error {
	for {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrCancelled, err)
		}

		batch, err := r.source.Next()
		if err != nil {
			return fmt.Errorf("read batch: %w", err)
		}
		if batch.Empty() {
			return nil
		}

		summary.Batches++
		batchesTotal.Inc()
		if err := r.processBatch(ctx, batch, summary); err != nil {
			return err
		}

		r.logger.Info().
			Int("batch", summary.Batches).
			Int("size", batch.Len()).
			Int("processed", summary.Processed).
			Int("failed", summary.Failed).
			Str("last_id", batch.IDs[batch.Len()-1]).
			Msg("Batch complete")
	}
}

func (r *Runner) processBatch(ctx context.Context, batch idsource.Batch, summary *Summary) error {
	summary.Requests++
	result, err := r.fetcher.FetchNodes(ctx, r.orch.config.Query, batch.IDs, r.orch.config.BaseVariables())
	if err != nil {
		if IsFatal(err) {
			return err
		}
		if batch.Len() == 1 {
			return r.fail(batch.IDs[0], err, summary)
		}

		batchFallbacksTotal.Inc()
		r.logger.Warn().
			Err(err).
			Int("size", batch.Len()).
			Msg("Batch request failed, retrying IDs individually")

		for i, id := range batch.IDs {
			if err := ctx.Err(); err != nil {
				return fmt.Errorf("%w: %v", ErrCancelled, err)
			}
			if err := r.processSingle(ctx, id, batch.Offsets[i], summary); err != nil {
				return err
			}
		}
		return nil
	}

	notFound := make(map[string]bool, len(result.NotFound))
	for _, id := range result.NotFound {
		notFound[id] = true
	}

	for i, id := range batch.IDs {
		if notFound[id] {
			r.skip(id, summary)
			continue
		}
		node, err := result.Node(id)
		if err != nil {
			if err := r.fail(id, err, summary); err != nil {
				return err
			}
			continue
		}
		if err := r.complete(ctx, id, batch.Offsets[i], node, summary); err != nil {
			return err
		}
	}
	return nil
}

// processSingle fetches and completes one ID on its own.
func (r *Runner) processSingle(ctx context.Context, id string, offset int64, summary *Summary) error {
	summary.Requests++
	result, err := r.fetcher.FetchNodes(ctx, r.orch.config.Query, []string{id}, r.orch.config.BaseVariables())
	if err != nil {
		if IsFatal(err) {
			return err
		}
		return r.fail(id, err, summary)
	}

	node, err := result.Node(id)
	if errors.Is(err, graphql.ErrNodeNotFound) {
		r.skip(id, summary)
		return nil
	}
	if err != nil {
		return r.fail(id, err, summary)
	}
	return r.complete(ctx, id, offset, node, summary)
}

// complete drains the node's connections and writes the record.
func (r *Runner) complete(ctx context.Context, id string, offset int64, node *record.Object, summary *Summary) error {
	rec, rounds, err := r.orch.Complete(ctx, id, node)
	summary.Requests += rounds
	if err != nil {
		if IsFatal(err) {
			return err
		}
		return r.fail(id, err, summary)
	}

	if err := r.sink.Append(ctx, rec, checkpoint.Checkpoint{ID: id, Offset: offset}); err != nil {
		return fmt.Errorf("%w: %v", ErrSinkFailed, err)
	}
	summary.Processed++
	nodesTotal.WithLabelValues("written").Inc()
	return nil
}

// fail records a per-ID failure. Only a failure log write error is returned.
func (r *Runner) fail(id string, cause error, summary *Summary) error {
	summary.Failed++
	if len(summary.FailedIDs) < MaxSummaryFailedIDs {
		summary.FailedIDs = append(summary.FailedIDs, id)
	}
	nodesTotal.WithLabelValues("failed").Inc()

	r.logger.Warn().
		Err(cause).
		Str("id", id).
		Msg("Failed to process ID")

	if r.failures == nil {
		return nil
	}
	if err := r.failures.Record(id, cause); err != nil {
		return fmt.Errorf("%w: record failed id %s: %v", ErrSinkFailed, id, err)
	}
	return nil
}

func (r *Runner) skip(id string, summary *Summary) {
	summary.NotFound++
	nodesTotal.WithLabelValues("not_found").Inc()
	r.logger.Warn().Str("id", id).Msg("Node not found, skipping")
}
