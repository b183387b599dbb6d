// Package sink appends complete records to a line-delimited JSON log and
// records IDs that could not be completed.
package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/Sternrassler/gql-node-pager/pkg/checkpoint"
	"github.com/Sternrassler/gql-node-pager/pkg/record"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for sink operations.
var (
	recordsWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_records_written_total",
		Help: "Total complete records appended to the output log",
	})

	bytesWrittenTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_output_bytes_total",
		Help: "Total bytes appended to the output log",
	})

	writeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nodepager_record_write_duration_seconds",
		Help:    "Time to append, sync and checkpoint one record",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
)

// JSONLSink is an append-only log with one JSON record per line.
//
// Each Append writes the line, syncs the file and only then saves the
// checkpoint, so a crash can never leave the checkpoint ahead of the log.
type JSONLSink struct {
	file   *os.File
	store  checkpoint.Store
	last   *checkpoint.Checkpoint
	logger zerolog.Logger
}

// Open opens path for appending, creating it if needed. A partial last line
// left by a crash is cut off; its record was never checkpointed and will be
// fetched again. store may be nil to skip checkpointing.
func Open(path string, store checkpoint.Store, logger zerolog.Logger) (*JSONLSink, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open output %s: %w", path, err)
	}

	s := &JSONLSink{
		file:   file,
		store:  store,
		logger: logger.With().Str("output", path).Logger(),
	}
	if err := s.repairTail(); err != nil {
		file.Close()
		return nil, err
	}
	return s, nil
}

// repairTail truncates the file after its last newline.
func (s *JSONLSink) repairTail() error {
	info, err := s.file.Stat()
	if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	size := info.Size()
	if size == 0 {
		return nil
	}

	const chunk = 64 << 10
	end := size
	for end > 0 {
		start := end - chunk
		if start < 0 {
			start = 0
		}
		buf := make([]byte, end-start)
		if _, err := s.file.ReadAt(buf, start); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("read output tail: %w", err)
		}
		if i := bytes.LastIndexByte(buf, '\n'); i >= 0 {
			keep := start + int64(i) + 1
			if keep == size {
				return nil
			}
			return s.truncate(keep, size)
		}
		end = start
	}
	return s.truncate(0, size)
}

func (s *JSONLSink) truncate(keep, size int64) error {
	s.logger.Warn().
		Int64("kept_bytes", keep).
		Int64("dropped_bytes", size-keep).
		Msg("Dropping partial record left by an interrupted run")
	if err := s.file.Truncate(keep); err != nil {
		return fmt.Errorf("truncate partial record: %w", err)
	}
	return nil
}

// Append writes rec as one line, syncs, then saves cp.
func (s *JSONLSink) Append(ctx context.Context, rec *record.CompleteRecord, cp checkpoint.Checkpoint) error {
	start := time.Now()

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", rec.ID, err)
	}
	data = append(data, '\n')

	if _, err := s.file.Write(data); err != nil {
		return fmt.Errorf("write record %s: %w", rec.ID, err)
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync output: %w", err)
	}
	recordsWrittenTotal.Inc()
	bytesWrittenTotal.Add(float64(len(data)))

	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	if s.store != nil {
		if err := s.store.Save(ctx, cp); err != nil {
			return fmt.Errorf("save checkpoint %s: %w", cp.ID, err)
		}
	}
	s.last = &cp

	writeDuration.Observe(time.Since(start).Seconds())
	s.logger.Debug().Str("id", rec.ID).Int("bytes", len(data)).Msg("Record written")
	return nil
}

// Checkpoint returns the checkpoint of the last written record, or nil.
func (s *JSONLSink) Checkpoint() *checkpoint.Checkpoint {
	if s.last == nil {
		return nil
	}
	cp := *s.last
	return &cp
}

// Close closes the output file.
func (s *JSONLSink) Close() error {
	return s.file.Close()
}
