package checkpoint

import (
	"context"
	"errors"
	"testing"

	"github.com/redis/go-redis/v9"
)

// setupTestRedis connects to a local redis on DB 15 or skips the test.
func setupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	client := redis.NewClient(&redis.Options{
		Addr: "localhost:6379",
		DB:   15,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("Redis not available for testing: %v", err)
	}
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatalf("Failed to flush test DB: %v", err)
	}

	t.Cleanup(func() {
		client.FlushDB(context.Background())
		client.Close()
	})

	return client
}

func TestNewRedisStore(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if got := NewRedisStore(client, "").Key(); got != DefaultRedisKey {
		t.Errorf("Key() = %q, want %q", got, DefaultRedisKey)
	}
	if got := NewRedisStore(client, "jobs:orders").Key(); got != "jobs:orders" {
		t.Errorf("Key() = %q, want %q", got, "jobs:orders")
	}
}

func TestNewRedisStore_Panic(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("NewRedisStore should panic with nil redis client")
		}
	}()
	NewRedisStore(nil, "")
}

func TestRedisStore_SaveLoadClear(t *testing.T) {
	client := setupTestRedis(t)
	ctx := context.Background()
	store := NewRedisStore(client, "test:checkpoint")

	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Fatalf("Load() on empty key error = %v, want ErrNoCheckpoint", err)
	}

	if err := store.Save(ctx, Checkpoint{ID: "gid://shopify/Order/7", Offset: 99}); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	cp, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cp.ID != "gid://shopify/Order/7" || cp.Offset != 99 {
		t.Errorf("Load() = %+v", cp)
	}

	if err := store.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, err := store.Load(ctx); !errors.Is(err, ErrNoCheckpoint) {
		t.Errorf("Load() after Clear error = %v, want ErrNoCheckpoint", err)
	}
}

func TestRedisStore_RejectsEmptyID(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	defer client.Close()

	if err := NewRedisStore(client, "").Save(context.Background(), Checkpoint{}); err == nil {
		t.Error("Save() with empty id should fail")
	}
}
