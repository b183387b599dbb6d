// Package idsource streams a newline-delimited ID file as fixed-size batches
// and supports resuming after the last fully processed ID.
package idsource

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// MaxBatchSize is the largest number of IDs the nodes query accepts.
const MaxBatchSize = 250

// ErrSourceNotFound is returned when the ID file is missing or unreadable.
// It is fatal: a missing input is an operator error, not a transient fault.
var ErrSourceNotFound = errors.New("id source not found")

// Batch is an ordered group of IDs read from the source.
// An empty batch signals that the source is exhausted.
type Batch struct {
	IDs []string

	// Offsets holds, for each ID, the byte offset just past its line.
	// Persisting it alongside the ID lets a later run seek straight back.
	Offsets []int64
}

// Len returns the number of IDs in the batch.
func (b Batch) Len() int {
	return len(b.IDs)
}

// Empty reports whether this is the end-of-input sentinel.
func (b Batch) Empty() bool {
	return len(b.IDs) == 0
}

// Options controls batching and resumption.
type Options struct {
	// BatchSize is clamped to [1, MaxBatchSize]; zero means MaxBatchSize.
	BatchSize int

	// Checkpoint is the last fully processed ID. Reading resumes on the line after it.
	Checkpoint string

	// Offset, when set with Checkpoint, is the byte offset just past the
	// checkpoint's line. It is verified before use and ignored if stale.
	Offset int64
}

// ResumeMode describes how the reader positioned itself.
type ResumeMode string

const (
	// ResumeNone means no checkpoint was given.
	ResumeNone ResumeMode = "none"

	// ResumeOffset means the stored byte offset was verified and used.
	ResumeOffset ResumeMode = "offset"

	// ResumeScan means the checkpoint line was found by scanning.
	ResumeScan ResumeMode = "scan"

	// ResumeNotFound means the checkpoint was absent from the file; reading starts over.
	ResumeNotFound ResumeMode = "not_found"
)

// Reader yields batches lazily. It is finite and not restartable.
type Reader struct {
	file      *os.File
	buf       *bufio.Reader
	offset    int64
	batchSize int
	done      bool
	mode      ResumeMode
	logger    zerolog.Logger
}

// Open opens path and positions the reader according to opts.
func Open(path string, opts Options, logger zerolog.Logger) (*Reader, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrSourceNotFound, path)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, path, err)
	}

	batchSize := opts.BatchSize
	if batchSize <= 0 || batchSize > MaxBatchSize {
		batchSize = MaxBatchSize
	}

	r := &Reader{
		file:      file,
		buf:       bufio.NewReader(file),
		batchSize: batchSize,
		mode:      ResumeNone,
		logger:    logger.With().Str("source", path).Logger(),
	}

	if opts.Checkpoint != "" {
		if err := r.resume(opts.Checkpoint, opts.Offset); err != nil {
			file.Close()
			return nil, err
		}
	}

	return r, nil
}

// resume positions the reader on the line after checkpoint.
func (r *Reader) resume(checkpoint string, offset int64) error {
	// Fast path: trust the stored offset once the preceding line matches.
	if offset > 0 {
		ok, err := r.lineEndsAt(offset, checkpoint)
		if err != nil {
			return err
		}
		if ok {
			r.mode = ResumeOffset
			r.logger.Info().
				Str("checkpoint", checkpoint).
				Int64("offset", offset).
				Msg("Resuming from checkpoint offset")
			return r.seek(offset)
		}
		r.logger.Warn().
			Str("checkpoint", checkpoint).
			Int64("offset", offset).
			Msg("Checkpoint offset does not match source, scanning instead")
	}

	if err := r.seek(0); err != nil {
		return err
	}

	for {
		line, err := r.readLine()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		if MatchesCheckpoint(line, checkpoint) {
			r.mode = ResumeScan
			r.logger.Info().
				Str("checkpoint", checkpoint).
				Int64("offset", r.offset).
				Msg("Resuming after checkpoint line")
			return nil
		}
	}

	// Recoverable: process the whole file rather than abort.
	r.mode = ResumeNotFound
	r.logger.Warn().
		Str("checkpoint", checkpoint).
		Msg("Checkpoint not found in source, reading from the beginning")
	return r.seek(0)
}

// lineEndsAt reports whether the line terminating at offset holds want.
func (r *Reader) lineEndsAt(offset int64, want string) (bool, error) {
	info, err := r.file.Stat()
	if err != nil {
		return false, fmt.Errorf("%w: stat: %v", ErrSourceNotFound, err)
	}
	if offset > info.Size() {
		return false, nil
	}

	// Window large enough for the ID, a CRLF, padding and the previous newline.
	start := offset - int64(len(want)) - 64
	if start < 0 {
		start = 0
	}
	window := make([]byte, offset-start)
	if _, err := r.file.ReadAt(window, start); err != nil && err != io.EOF {
		return false, fmt.Errorf("%w: read: %v", ErrSourceNotFound, err)
	}

	text := strings.TrimRight(string(window), "\r\n")
	idx := strings.LastIndexByte(text, '\n')
	if idx < 0 && start > 0 {
		// The line began before the window, so it cannot be the checkpoint.
		return false, nil
	}
	return strings.TrimSpace(text[idx+1:]) == want, nil
}

func (r *Reader) seek(offset int64) error {
	if _, err := r.file.Seek(offset, io.SeekStart); err != nil {
		return fmt.Errorf("%w: seek: %v", ErrSourceNotFound, err)
	}
	r.buf.Reset(r.file)
	r.offset = offset
	return nil
}

// readLine returns the next non-blank line, trimmed, advancing the offset.
func (r *Reader) readLine() (string, error) {
	for {
		raw, err := r.buf.ReadString('\n')
		r.offset += int64(len(raw))

		if err != nil && err != io.EOF {
			return "", fmt.Errorf("%w: read: %v", ErrSourceNotFound, err)
		}
		if line := strings.TrimSpace(raw); line != "" {
			return line, nil
		}
		if err == io.EOF {
			return "", io.EOF
		}
	}
}

// Next returns the next batch. After the source is exhausted it keeps
// returning the empty sentinel batch.
func (r *Reader) Next() (Batch, error) {
	if r.done {
		return Batch{}, nil
	}

	batch := Batch{
		IDs:     make([]string, 0, r.batchSize),
		Offsets: make([]int64, 0, r.batchSize),
	}

	for batch.Len() < r.batchSize {
		line, err := r.readLine()
		if err == io.EOF {
			r.done = true
			break
		}
		if err != nil {
			return Batch{}, err
		}
		batch.IDs = append(batch.IDs, line)
		batch.Offsets = append(batch.Offsets, r.offset)
	}

	r.logger.Debug().
		Int("size", batch.Len()).
		Int64("offset", r.offset).
		Msg("Read ID batch")

	return batch, nil
}

// Mode reports how the reader was positioned at open.
func (r *Reader) Mode() ResumeMode {
	return r.mode
}

// Offset returns the number of bytes consumed so far.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Close releases the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// MatchesCheckpoint reports whether an input line refers to the checkpoint ID.
// Besides exact equality, a purely numeric value matches the trailing number
// of a global ID, so "1001" matches "gid://shopify/Order/1001".
func MatchesCheckpoint(line, checkpoint string) bool {
	if line == checkpoint {
		return true
	}
	if isDigits(checkpoint) {
		return trailingDigits(line) == checkpoint
	}
	if isDigits(line) {
		return trailingDigits(checkpoint) == line
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func trailingDigits(s string) string {
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	// Require a separator so "order1001" does not match "1001" by accident.
	if i == len(s) || (i > 0 && s[i-1] != '/' && s[i-1] != ':' && s[i-1] != '=') {
		return ""
	}
	return s[i:]
}
