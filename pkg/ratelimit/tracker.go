package ratelimit

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for throttle tracking.
var (
	throttleAvailable = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "nodepager_throttle_available_points",
		Help: "Query cost points currently available in the API bucket",
	})

	throttleWaitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_throttle_waits_total",
		Help: "Total number of requests delayed to let the cost bucket refill",
	})

	throttleWaitSeconds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nodepager_throttle_wait_seconds_total",
		Help: "Total time spent waiting for the cost bucket to refill",
	})
)

// LowWatermark is the fraction of the bucket below which a warning is logged.
const LowWatermark = 0.1

// Tracker keeps the throttle state observed from responses. It is safe for
// concurrent use, though the fetch pipeline drives it from one goroutine.
type Tracker struct {
	mu     sync.Mutex
	state  State
	now    func() time.Time
	logger zerolog.Logger
}

// NewTracker creates a tracker with no observed state. Until the first
// response arrives it never asks the caller to wait.
func NewTracker(logger zerolog.Logger) *Tracker {
	return &Tracker{
		now:    time.Now,
		logger: logger,
	}
}

// State returns a copy of the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// UpdateFromCost records the cost extension of a response.
func (t *Tracker) UpdateFromCost(cost Cost) {
	if !cost.Known() {
		return
	}

	t.mu.Lock()
	status := cost.ThrottleStatus
	t.state.Available = status.CurrentlyAvailable
	t.state.Maximum = status.MaximumAvailable
	t.state.RestoreRate = status.RestoreRate
	if cost.RequestedQueryCost > 0 {
		t.state.LastRequested = cost.RequestedQueryCost
	}
	t.state.LastUpdate = t.now()
	state := t.state
	t.mu.Unlock()

	throttleAvailable.Set(status.CurrentlyAvailable)

	if status.CurrentlyAvailable < status.MaximumAvailable*LowWatermark {
		t.logger.Warn().
			Float64("available", status.CurrentlyAvailable).
			Float64("maximum", status.MaximumAvailable).
			Float64("requested", state.LastRequested).
			Msg("Query cost budget low")
		return
	}
	t.logger.Debug().
		Float64("available", status.CurrentlyAvailable).
		Float64("requested", cost.RequestedQueryCost).
		Float64("actual", cost.ActualQueryCost).
		Msg("Query cost budget updated")
}

// UpdateFromHeaders records a Retry-After header, if present.
func (t *Tracker) UpdateFromHeaders(headers http.Header) {
	now := t.now()
	d, ok := ParseRetryAfter(headers.Get("Retry-After"), now)
	if !ok {
		return
	}

	t.mu.Lock()
	if until := now.Add(d); until.After(t.state.BlockedUntil) {
		t.state.BlockedUntil = until
	}
	t.mu.Unlock()

	t.logger.Warn().Dur("retry_after", d).Msg("Server requested a pause")
}

// SuggestedWait returns how long to hold off before the next request so
// that a query of the last observed cost fits in the bucket.
func (t *Tracker) SuggestedWait() time.Duration {
	t.mu.Lock()
	state := t.state
	t.mu.Unlock()

	wait := state.WaitFor(t.now(), state.LastRequested)
	if wait > 0 {
		throttleWaitsTotal.Inc()
		throttleWaitSeconds.Add(wait.Seconds())
		t.logger.Info().
			Dur("wait", wait).
			Float64("requested", state.LastRequested).
			Msg("Waiting for query cost budget to refill")
	}
	return wait
}
