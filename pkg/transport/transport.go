// Package transport sends GraphQL POST requests over a single pooled HTTP
// session and absorbs rate limiting with capped exponential backoff.
package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/gql-node-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// DefaultTokenHeader is the credential header used by the Shopify Admin API.
const DefaultTokenHeader = "X-Shopify-Access-Token"

// Config holds the transport configuration.
type Config struct {
	// Endpoint is the GraphQL URL requests are POSTed to.
	Endpoint string

	// Token is sent in TokenHeader. With the Authorization header it is
	// sent as a bearer token.
	Token       string
	TokenHeader string

	// UserAgent header
	UserAgent string

	// Timeout bounds a single HTTP attempt.
	Timeout time.Duration

	Retry RetryConfig
}

// DefaultConfig returns a configuration for endpoint and token with default retry policy.
func DefaultConfig(endpoint, token string) Config {
	return Config{
		Endpoint:    endpoint,
		Token:       token,
		TokenHeader: DefaultTokenHeader,
		UserAgent:   "gql-node-pager",
		Timeout:     60 * time.Second,
		Retry:       DefaultRetryConfig(),
	}
}

// Response is a successful HTTP response with its body fully read.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Attempt performs one request. Execute calls it once per attempt.
type Attempt func(ctx context.Context) (*Response, error)

// Transport owns the HTTP session shared by every request of a run.
type Transport struct {
	httpClient *http.Client
	tracker    *ratelimit.Tracker
	config     Config
	sleep      Sleeper
	randFloat  func() float64
	logger     zerolog.Logger
}

// New creates a transport. tracker may be nil to disable cost-based pacing.
func New(cfg Config, tracker *ratelimit.Tracker, logger zerolog.Logger) (*Transport, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = DefaultTokenHeader
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("retry config: %w", err)
	}

	return &Transport{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		tracker:   tracker,
		config:    cfg,
		sleep:     sleepContext,
		randFloat: rand.Float64,
		logger:    logger,
	}, nil
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (t *Transport) SetHTTPClient(client *http.Client) {
	t.httpClient = client
}

// SetSleeper replaces the backoff sleep (for testing).
func (t *Transport) SetSleeper(sleep Sleeper) {
	t.sleep = sleep
}

// Config returns the transport configuration.
func (t *Transport) Config() Config {
	return t.config
}

// Tracker returns the throttle tracker, or nil.
func (t *Transport) Tracker() *ratelimit.Tracker {
	return t.tracker
}

// Send performs a single POST without retry. Status codes >= 400 and
// network failures are returned as *TransportError.
func (t *Transport) Send(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.config.UserAgent != "" {
		req.Header.Set("User-Agent", t.config.UserAgent)
	}
	if t.config.Token != "" {
		req.Header.Set(t.config.TokenHeader, t.credential())
	}

	startTime := time.Now()
	resp, err := t.httpClient.Do(req)
	requestDuration.Observe(time.Since(startTime).Seconds())
	if err != nil {
		requestsTotal.WithLabelValues("network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		t.logger.Warn().Err(err).Msg("HTTP request failed")
		return nil, &TransportError{Class: ErrorClassNetwork, Attempts: 1, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		// A connection reset mid-body is a network failure like any other.
		requestsTotal.WithLabelValues("network_error").Inc()
		errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
		return nil, &TransportError{Class: ErrorClassNetwork, StatusCode: resp.StatusCode, Attempts: 1, Err: fmt.Errorf("read body: %w", err)}
	}

	requestsTotal.WithLabelValues(strconv.Itoa(resp.StatusCode)).Inc()
	if t.tracker != nil {
		t.tracker.UpdateFromHeaders(resp.Header)
	}

	if resp.StatusCode >= 400 {
		class := classifyStatus(resp.StatusCode)
		errorsTotal.WithLabelValues(string(class)).Inc()

		te := &TransportError{
			StatusCode: resp.StatusCode,
			Body:       truncate(data, maxErrorBody),
			Class:      class,
			Attempts:   1,
		}
		if d, ok := ratelimit.ParseRetryAfter(resp.Header.Get("Retry-After"), time.Now()); ok {
			te.RetryAfter = d
		}
		if class == ErrorClassRateLimit {
			te.Err = ErrRateLimited
		}

		t.logger.Warn().
			Int("status", resp.StatusCode).
			Str("error_class", string(class)).
			Msg("GraphQL request error")
		return nil, te
	}

	t.logger.Debug().
		Int("status", resp.StatusCode).
		Int("bytes", len(data)).
		Dur("duration", time.Since(startTime)).
		Msg("GraphQL request completed")

	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       data,
	}, nil
}

// Execute runs attempt under the retry policy. Rate-limited and network
// failures are retried with capped exponential backoff; every other error
// is returned at once. Attempts run on a context detached from ctx's
// cancellation so a stop request never interrupts a request mid-flight,
// while backoff sleeps wake as soon as ctx is cancelled.
func (t *Transport) Execute(ctx context.Context, attempt Attempt) (*Response, error) {
	cfg := t.config.Retry
	attemptCtx := context.WithoutCancel(ctx)
	backoff := cfg.InitialBackoff

	for n := 1; ; n++ {
		if t.tracker != nil {
			if wait := t.tracker.SuggestedWait(); wait > 0 {
				// A long Retry-After is still bounded by MaxBackoff.
				wait = min(wait, cfg.MaxBackoff)
				if err := t.sleep(ctx, wait); err != nil {
					return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
				}
			}
		}

		resp, err := attempt(attemptCtx)
		if err == nil {
			if n > 1 {
				t.logger.Info().
					Int("attempt", n).
					Msg("Request succeeded after retry")
			}
			return resp, nil
		}

		class, retryable := classify(err)
		if !retryable {
			return nil, err
		}

		if n >= cfg.MaxAttempts {
			retryExhaustedTotal.WithLabelValues(string(class)).Inc()
			t.logger.Warn().
				Str("error_class", string(class)).
				Int("max_attempts", cfg.MaxAttempts).
				Msg("Retry attempts exhausted")
			return nil, exhausted(err, class, n)
		}

		var floor time.Duration
		var te *TransportError
		if errors.As(err, &te) {
			floor = te.RetryAfter
		}
		d := cfg.delay(backoff, floor, t.randFloat)

		retriesTotal.WithLabelValues(string(class)).Inc()
		retryBackoffSeconds.WithLabelValues(string(class)).Observe(d.Seconds())
		t.logger.Warn().
			Err(err).
			Str("error_class", string(class)).
			Int("attempt", n).
			Dur("backoff", d).
			Msg("Retrying request after backoff")

		if err := t.sleep(ctx, d); err != nil {
			t.logger.Warn().
				Str("error_class", string(class)).
				Int("attempt", n).
				Msg("Context cancelled during retry backoff")
			return nil, fmt.Errorf("%w: %v", ErrContextCancelled, err)
		}

		backoff = cfg.next(backoff)
	}
}

// exhausted wraps the last attempt error once the retry budget is spent.
// The body stays on the wrapped error so it is not printed twice.
func exhausted(last error, class ErrorClass, attempts int) error {
	out := &TransportError{
		Class:    class,
		Attempts: attempts,
		Err:      fmt.Errorf("%w: %w", ErrRetryExhausted, last),
	}
	var te *TransportError
	if errors.As(last, &te) {
		out.StatusCode = te.StatusCode
	}
	return out
}

// credential formats the token for the configured header.
func (t *Transport) credential() string {
	if strings.EqualFold(t.config.TokenHeader, "Authorization") &&
		!strings.HasPrefix(strings.ToLower(t.config.Token), "bearer ") {
		return "Bearer " + t.config.Token
	}
	return t.config.Token
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
