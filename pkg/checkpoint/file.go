package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// FileStore keeps the checkpoint as a small JSON document on disk.
// Writes go to a temporary file that is synced and renamed over the target,
// so a crash leaves either the old or the new checkpoint, never a torn one.
type FileStore struct {
	path   string
	logger zerolog.Logger
}

// NewFileStore creates a store backed by path.
func NewFileStore(path string, logger zerolog.Logger) *FileStore {
	return &FileStore{
		path:   path,
		logger: logger,
	}
}

// Path returns the checkpoint file location.
func (s *FileStore) Path() string {
	return s.path
}

// Load reads the checkpoint file. A missing file means no checkpoint.
func (s *FileStore) Load(_ context.Context) (*Checkpoint, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Info().Str("path", s.path).Msg("No checkpoint file found, starting fresh")
			return nil, ErrNoCheckpoint
		}
		return nil, fmt.Errorf("read checkpoint file: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return nil, fmt.Errorf("parse checkpoint file %s: %w", s.path, err)
	}
	if cp.ID == "" {
		return nil, ErrNoCheckpoint
	}

	s.logger.Info().
		Str("path", s.path).
		Str("id", cp.ID).
		Int64("offset", cp.Offset).
		Msg("Loaded checkpoint")
	return &cp, nil
}

// Save atomically replaces the checkpoint file.
func (s *FileStore) Save(_ context.Context, cp Checkpoint) error {
	if cp.ID == "" {
		return fmt.Errorf("checkpoint id cannot be empty")
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}

	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp checkpoint: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace checkpoint file: %w", err)
	}

	s.logger.Debug().Str("path", s.path).Str("id", cp.ID).Msg("Saved checkpoint")
	return nil
}

// Clear deletes the checkpoint file.
func (s *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove checkpoint file: %w", err)
	}
	s.logger.Info().Str("path", s.path).Msg("Cleared checkpoint")
	return nil
}
