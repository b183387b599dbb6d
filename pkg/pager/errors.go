package pager

import (
	"errors"

	"github.com/Sternrassler/gql-node-pager/pkg/idsource"
	"github.com/Sternrassler/gql-node-pager/pkg/transport"
)

var (
	// ErrProtocolViolation is returned when the API breaks pagination rules:
	// a cursor that does not advance, a response whose shape drifted between
	// rounds, or a cursor variable reused across nesting levels.
	ErrProtocolViolation = errors.New("pagination protocol violation")

	// ErrSinkFailed wraps output, checkpoint and failure log write errors.
	ErrSinkFailed = errors.New("sink write failed")

	// ErrCancelled is returned when the run stops on request.
	ErrCancelled = errors.New("run cancelled")
)

// IsFatal reports whether err must abort the whole run. Everything else is
// isolated to the ID that caused it.
func IsFatal(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, idsource.ErrSourceNotFound),
		errors.Is(err, ErrSinkFailed),
		errors.Is(err, ErrCancelled),
		errors.Is(err, transport.ErrContextCancelled):
		return true
	default:
		return false
	}
}
