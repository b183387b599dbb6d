// Package graphql sends the nodes query for a batch of IDs and turns the
// response envelope into ordered node records.
package graphql

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/Sternrassler/gql-node-pager/pkg/ratelimit"
)

var (
	// ErrMalformedResponse is returned when the body lacks the data.nodes
	// shape or carries GraphQL errors.
	ErrMalformedResponse = errors.New("malformed graphql response")

	// ErrNodeNotFound reports an ID whose node came back null.
	ErrNodeNotFound = errors.New("node not found")
)

// ThrottledCode is the error extension code for cost-based throttling.
const ThrottledCode = "THROTTLED"

// Variables maps GraphQL variable names to values. A nil value is sent as null.
type Variables map[string]any

// Clone returns a shallow copy.
func (v Variables) Clone() Variables {
	out := make(Variables, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Request is the POST body envelope.
type Request struct {
	Query     string    `json:"query"`
	Variables Variables `json:"variables,omitempty"`
}

// Error is one entry of the response errors list.
type Error struct {
	Message    string         `json:"message"`
	Path       []any          `json:"path,omitempty"`
	Extensions map[string]any `json:"extensions,omitempty"`
}

// Code returns extensions.code, if any.
func (e Error) Code() string {
	code, _ := e.Extensions["code"].(string)
	return code
}

// Extensions is the response extensions object.
type Extensions struct {
	Cost *ratelimit.Cost `json:"cost,omitempty"`
}

// envelope is the top level of a response. Data is decoded separately to keep field order.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Errors     []Error         `json:"errors"`
	Extensions Extensions      `json:"extensions"`
}

// ResponseError carries GraphQL-level errors returned with HTTP 200.
type ResponseError struct {
	Errors []Error
}

// Error implements the error interface.
func (e *ResponseError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, gqlErr := range e.Errors {
		msg := gqlErr.Message
		if code := gqlErr.Code(); code != "" {
			msg = code + ": " + msg
		}
		msgs = append(msgs, msg)
	}
	return fmt.Sprintf("graphql errors: %s", strings.Join(msgs, "; "))
}

// Unwrap makes GraphQL errors match ErrMalformedResponse.
func (e *ResponseError) Unwrap() error {
	return ErrMalformedResponse
}

// Throttled reports whether any error is a throttling error.
func (e *ResponseError) Throttled() bool {
	for _, gqlErr := range e.Errors {
		if gqlErr.Code() == ThrottledCode {
			return true
		}
	}
	return false
}
