// Package checkpoint persists the last fully processed ID so a run can resume.
package checkpoint

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNoCheckpoint indicates that no checkpoint has been stored yet.
var ErrNoCheckpoint = errors.New("no checkpoint stored")

// Checkpoint marks the last top-level ID whose record was durably written.
type Checkpoint struct {
	// ID is the input line of the last completed node.
	ID string `json:"id"`

	// Offset is the byte offset just past ID's line in the input file.
	Offset int64 `json:"offset"`

	// UpdatedAt is when the checkpoint was saved.
	UpdatedAt time.Time `json:"updated_at"`
}

// Store loads and saves checkpoints.
type Store interface {
	// Load returns the stored checkpoint or ErrNoCheckpoint.
	Load(ctx context.Context) (*Checkpoint, error)

	// Save durably replaces the stored checkpoint.
	Save(ctx context.Context, cp Checkpoint) error

	// Clear removes the stored checkpoint. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}

// MemoryStore keeps the checkpoint in process memory only.
type MemoryStore struct {
	mu sync.Mutex
	cp *Checkpoint
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Load returns the last saved checkpoint.
func (m *MemoryStore) Load(_ context.Context) (*Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cp == nil {
		return nil, ErrNoCheckpoint
	}
	cp := *m.cp
	return &cp, nil
}

// Save stores cp.
func (m *MemoryStore) Save(_ context.Context, cp Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = time.Now().UTC()
	}
	m.cp = &cp
	return nil
}

// Clear forgets the checkpoint.
func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = nil
	return nil
}
