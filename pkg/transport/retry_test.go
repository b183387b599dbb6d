package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if err := config.Validate(); err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if config.MaxAttempts < 2 {
		t.Errorf("MaxAttempts = %d, want retries enabled", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func TestRetryConfig_Validate(t *testing.T) {
	valid := DefaultRetryConfig()

	tests := []struct {
		name   string
		mutate func(c *RetryConfig)
	}{
		{"zero attempts", func(c *RetryConfig) { c.MaxAttempts = 0 }},
		{"zero initial backoff", func(c *RetryConfig) { c.InitialBackoff = 0 }},
		{"max below initial", func(c *RetryConfig) { c.MaxBackoff = c.InitialBackoff / 2 }},
		{"shrinking multiplier", func(c *RetryConfig) { c.BackoffMultiplier = 0.5 }},
		{"jitter too large", func(c *RetryConfig) { c.Jitter = 1 }},
		{"negative jitter", func(c *RetryConfig) { c.Jitter = -0.1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() should fail")
			}
		})
	}
}

func TestRetryConfig_Delay(t *testing.T) {
	cfg := RetryConfig{MaxBackoff: 10 * time.Second, Jitter: 0.25}

	tests := []struct {
		name    string
		backoff time.Duration
		floor   time.Duration
		rand    float64
		want    time.Duration
	}{
		{"lowest jitter", 1 * time.Second, 0, 0, 750 * time.Millisecond},
		{"middle jitter", 1 * time.Second, 0, 0.5, 1 * time.Second},
		{"retry-after floor", 1 * time.Second, 3 * time.Second, 0.5, 3 * time.Second},
		{"floor capped", 1 * time.Second, time.Minute, 0.5, 10 * time.Second},
		{"backoff capped", 20 * time.Second, 0, 0.5, 10 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cfg.delay(tt.backoff, tt.floor, func() float64 { return tt.rand })
			if got != tt.want {
				t.Errorf("delay() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRetryConfig_NextCaps(t *testing.T) {
	cfg := RetryConfig{BackoffMultiplier: 2, MaxBackoff: 5 * time.Second}

	backoff := time.Second
	var seen []time.Duration
	for i := 0; i < 5; i++ {
		backoff = cfg.next(backoff)
		seen = append(seen, backoff)
	}

	want := []time.Duration{2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("backoffs = %v, want %v", seen, want)
		}
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), 0); err != nil {
		t.Errorf("sleepContext(0) error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := sleepContext(ctx, time.Hour)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("sleepContext() error = %v, want context.Canceled", err)
	}
	if time.Since(start) > time.Second {
		t.Error("sleepContext() did not wake on cancellation")
	}
}
