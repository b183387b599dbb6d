package transport

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		class ErrorClass
		want  bool
	}{
		{ErrorClassRateLimit, true},
		{ErrorClassNetwork, true},
		{ErrorClassServer, false},
		{ErrorClassClient, false},
		{"", false},
	}

	for _, tt := range tests {
		if got := shouldRetry(tt.class); got != tt.want {
			t.Errorf("shouldRetry(%q) = %v, want %v", tt.class, got, tt.want)
		}
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{429, ErrorClassRateLimit},
		{400, ErrorClassClient},
		{401, ErrorClassClient},
		{404, ErrorClassClient},
		{500, ErrorClassServer},
		{503, ErrorClassServer},
		{200, ""},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantClass ErrorClass
		wantRetry bool
	}{
		{"rate limited sentinel", fmt.Errorf("graphql: %w", ErrRateLimited), ErrorClassRateLimit, true},
		{"network transport error", &TransportError{Class: ErrorClassNetwork}, ErrorClassNetwork, true},
		{"server transport error", &TransportError{Class: ErrorClassServer, StatusCode: 502}, ErrorClassServer, false},
		{"unrelated error", errors.New("bad json"), "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			class, retry := classify(tt.err)
			if class != tt.wantClass || retry != tt.wantRetry {
				t.Errorf("classify() = %q, %v; want %q, %v", class, retry, tt.wantClass, tt.wantRetry)
			}
		})
	}
}

func TestTransportError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *TransportError
		contains []string
	}{
		{
			name:     "status and body",
			err:      &TransportError{StatusCode: 403, Class: ErrorClassClient, Body: "forbidden"},
			contains: []string{"client", "status 403", "forbidden"},
		},
		{
			name:     "wrapped network error",
			err:      &TransportError{Class: ErrorClassNetwork, Err: errors.New("connection reset")},
			contains: []string{"network", "connection reset"},
		},
		{
			name:     "attempts shown when retried",
			err:      &TransportError{Class: ErrorClassRateLimit, StatusCode: 429, Attempts: 5},
			contains: []string{"after 5 attempts"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := tt.err.Error()
			for _, want := range tt.contains {
				if !strings.Contains(msg, want) {
					t.Errorf("Error() = %q, want it to contain %q", msg, want)
				}
			}
		})
	}
}

func TestTransportError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("%w: %w", ErrRetryExhausted, ErrRateLimited)
	err := error(&TransportError{Class: ErrorClassRateLimit, Err: inner})

	if !errors.Is(err, ErrRetryExhausted) {
		t.Error("errors.Is(err, ErrRetryExhausted) = false")
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("errors.Is(err, ErrRateLimited) = false")
	}
	if (&TransportError{}).Unwrap() != nil {
		t.Error("Unwrap() with nil Err should return nil")
	}
}
