package sink

import (
	"fmt"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// FailureLog appends failed IDs one per line. The file is a valid input for
// a later run that retries just those IDs.
type FailureLog struct {
	mu     sync.Mutex
	file   *os.File
	count  int
	logger zerolog.Logger
}

// OpenFailureLog opens path for appending, creating it if needed.
func OpenFailureLog(path string, logger zerolog.Logger) (*FailureLog, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open failure log %s: %w", path, err)
	}
	return &FailureLog{
		file:   file,
		logger: logger.With().Str("failures", path).Logger(),
	}, nil
}

// Record appends id. The cause is only logged.
func (f *FailureLog) Record(id string, cause error) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.file.WriteString(id + "\n"); err != nil {
		return fmt.Errorf("write failed id: %w", err)
	}
	if err := f.file.Sync(); err != nil {
		return fmt.Errorf("sync failure log: %w", err)
	}
	f.count++

	f.logger.Debug().Str("id", id).AnErr("cause", cause).Msg("Recorded failed ID")
	return nil
}

// Count returns the number of IDs recorded by this log since it was opened.
func (f *FailureLog) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Close closes the file.
func (f *FailureLog) Close() error {
	return f.file.Close()
}
