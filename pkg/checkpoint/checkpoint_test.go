package checkpoint

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load() on empty store error = %v, want ErrNoCheckpoint", err)
	}

	if err := store.Save(ctx, Checkpoint{ID: "gid://shopify/Order/1", Offset: 23}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cp, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp.ID != "gid://shopify/Order/1" || cp.Offset != 23 {
		t.Errorf("Load() = %+v", cp)
	}
	if cp.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be set on save")
	}

	// Mutating the returned copy must not affect the store.
	cp.ID = "changed"
	again, _ := store.Load(ctx)
	if again.ID != "gid://shopify/Order/1" {
		t.Errorf("stored checkpoint mutated through returned pointer: %q", again.ID)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() after Clear error = %v, want ErrNoCheckpoint", err)
	}
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "state", "checkpoint.json")
	store := NewFileStore(path, zerolog.Nop())

	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load() on missing file error = %v, want ErrNoCheckpoint", err)
	}

	saved := Checkpoint{ID: "1001", Offset: 42, UpdatedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if err := store.Save(ctx, saved); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != saved.ID || got.Offset != saved.Offset || !got.UpdatedAt.Equal(saved.UpdatedAt) {
		t.Errorf("Load() = %+v, want %+v", got, saved)
	}
}

func TestFileStore_SaveReplacesAndLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store := NewFileStore(filepath.Join(dir, "checkpoint.json"), zerolog.Nop())

	for _, id := range []string{"1", "2", "3"} {
		if err := store.Save(ctx, Checkpoint{ID: id}); err != nil {
			t.Fatalf("Save(%s) error = %v", id, err)
		}
	}

	got, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got.ID != "3" {
		t.Errorf("Load().ID = %q, want %q", got.ID, "3")
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 1 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("directory contains %v, want only checkpoint.json", names)
	}
}

func TestFileStore_Errors(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	t.Run("empty id rejected", func(t *testing.T) {
		store := NewFileStore(filepath.Join(dir, "a.json"), zerolog.Nop())
		if err := store.Save(ctx, Checkpoint{}); err == nil {
			t.Error("Save() with empty id should fail")
		}
	})

	t.Run("corrupt file", func(t *testing.T) {
		path := filepath.Join(dir, "b.json")
		if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
			t.Fatal(err)
		}
		store := NewFileStore(path, zerolog.Nop())
		_, err := store.Load(ctx)
		if err == nil || errors.Is(err, ErrNoCheckpoint) {
			t.Errorf("Load() error = %v, want parse error", err)
		}
	})

	t.Run("empty document means no checkpoint", func(t *testing.T) {
		path := filepath.Join(dir, "c.json")
		if err := os.WriteFile(path, []byte(`{}`), 0o644); err != nil {
			t.Fatal(err)
		}
		store := NewFileStore(path, zerolog.Nop())
		if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
			t.Errorf("Load() error = %v, want ErrNoCheckpoint", err)
		}
	})
}

func TestFileStore_Clear(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "checkpoint.json")
	store := NewFileStore(path, zerolog.Nop())

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() on missing file error = %v", err)
	}
	if err := store.Save(ctx, Checkpoint{ID: "5", Offset: 10}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("checkpoint file still present after Clear: %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() after Clear error = %v, want ErrNoCheckpoint", err)
	}
}
