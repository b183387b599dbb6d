package ratelimit

import (
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestTracker(now time.Time) *Tracker {
	tr := NewTracker(zerolog.Nop())
	tr.now = func() time.Time { return now }
	return tr
}

func TestTracker_NoStateNeverWaits(t *testing.T) {
	tr := newTestTracker(time.Now())
	if got := tr.SuggestedWait(); got != 0 {
		t.Errorf("SuggestedWait() = %v, want 0", got)
	}
}

func TestTracker_UpdateFromCost(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(now)

	tr.UpdateFromCost(Cost{
		RequestedQueryCost: 502,
		ActualQueryCost:    120,
		ThrottleStatus: ThrottleStatus{
			MaximumAvailable:   2000,
			CurrentlyAvailable: 402,
			RestoreRate:        100,
		},
	})

	state := tr.State()
	if state.Available != 402 || state.Maximum != 2000 || state.RestoreRate != 100 || state.LastRequested != 502 {
		t.Errorf("State() = %+v", state)
	}
	if !state.LastUpdate.Equal(now) {
		t.Errorf("LastUpdate = %v, want %v", state.LastUpdate, now)
	}

	// 502 requested, 402 available, refill 100/s.
	if got := tr.SuggestedWait(); got != time.Second {
		t.Errorf("SuggestedWait() = %v, want 1s", got)
	}
}

func TestTracker_IgnoresUnknownCost(t *testing.T) {
	tr := newTestTracker(time.Now())
	tr.UpdateFromCost(Cost{RequestedQueryCost: 10})

	if got := tr.State(); got.Maximum != 0 || got.LastRequested != 0 {
		t.Errorf("State() = %+v, want zero state", got)
	}
}

func TestTracker_UpdateFromHeaders(t *testing.T) {
	now := time.Now()
	tr := newTestTracker(now)

	tr.UpdateFromHeaders(http.Header{})
	if got := tr.SuggestedWait(); got != 0 {
		t.Fatalf("SuggestedWait() without Retry-After = %v, want 0", got)
	}

	h := http.Header{}
	h.Set("Retry-After", "4")
	tr.UpdateFromHeaders(h)
	if got := tr.SuggestedWait(); got != 4*time.Second {
		t.Errorf("SuggestedWait() = %v, want 4s", got)
	}

	// A shorter hint does not shorten an existing block.
	h.Set("Retry-After", "1")
	tr.UpdateFromHeaders(h)
	if got := tr.SuggestedWait(); got != 4*time.Second {
		t.Errorf("SuggestedWait() after shorter hint = %v, want 4s", got)
	}
}
