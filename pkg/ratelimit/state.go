// Package ratelimit tracks the GraphQL query cost budget reported by the API
// and tells the transport how long to hold off before the next request.
//
// Shopify-style APIs use a leaky bucket: every query has a requested cost,
// the bucket holds at most MaximumAvailable points and refills at RestoreRate
// points per second. The current level is reported in
// extensions.cost.throttleStatus on every response.
package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ThrottleStatus is the bucket level reported with each response.
type ThrottleStatus struct {
	MaximumAvailable   float64 `json:"maximumAvailable"`
	CurrentlyAvailable float64 `json:"currentlyAvailable"`
	RestoreRate        float64 `json:"restoreRate"`
}

// Cost is the extensions.cost object of a GraphQL response.
type Cost struct {
	RequestedQueryCost float64        `json:"requestedQueryCost"`
	ActualQueryCost    float64        `json:"actualQueryCost"`
	ThrottleStatus     ThrottleStatus `json:"throttleStatus"`
}

// Known reports whether the cost carries a usable throttle status.
func (c Cost) Known() bool {
	return c.ThrottleStatus.MaximumAvailable > 0 && c.ThrottleStatus.RestoreRate > 0
}

// State is a snapshot of the tracked budget.
type State struct {
	// Available is the bucket level at LastUpdate.
	Available float64 `json:"available"`

	// Maximum is the bucket capacity.
	Maximum float64 `json:"maximum"`

	// RestoreRate is the refill rate in points per second.
	RestoreRate float64 `json:"restore_rate"`

	// LastRequested is the requested cost of the most recent query,
	// used as the estimate for the next one.
	LastRequested float64 `json:"last_requested"`

	// BlockedUntil is set from a Retry-After header.
	BlockedUntil time.Time `json:"blocked_until"`

	// LastUpdate is when Available was observed.
	LastUpdate time.Time `json:"last_update"`
}

// AvailableAt projects the bucket level at now, assuming steady refill.
func (s *State) AvailableAt(now time.Time) float64 {
	if s.LastUpdate.IsZero() {
		return s.Maximum
	}
	elapsed := now.Sub(s.LastUpdate).Seconds()
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(s.Maximum, s.Available+elapsed*s.RestoreRate)
}

// WaitFor returns how long to wait at now before a query of the given cost
// fits in the bucket. Zero means the query can go immediately.
func (s *State) WaitFor(now time.Time, cost float64) time.Duration {
	var wait time.Duration
	if s.BlockedUntil.After(now) {
		wait = s.BlockedUntil.Sub(now)
	}
	if s.RestoreRate <= 0 || cost <= 0 {
		return wait
	}
	// A query larger than the bucket can never fit; asking for more than
	// a full bucket would stall forever.
	cost = math.Min(cost, s.Maximum)

	deficit := cost - s.AvailableAt(now)
	if deficit <= 0 {
		return wait
	}
	refill := time.Duration(deficit / s.RestoreRate * float64(time.Second))
	if refill > wait {
		wait = refill
	}
	return wait
}

// ParseRetryAfter interprets a Retry-After header value given in seconds or
// as an HTTP date. It returns false when the value is absent or invalid.
func ParseRetryAfter(value string, now time.Time) (time.Duration, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, false
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		if secs < 0 || math.IsNaN(secs) || math.IsInf(secs, 0) {
			return 0, false
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	if at, err := http.ParseTime(value); err == nil {
		d := at.Sub(now)
		if d < 0 {
			d = 0
		}
		return d, true
	}
	return 0, false
}
