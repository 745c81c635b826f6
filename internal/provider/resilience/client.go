package resilience

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// DefaultTimeout bounds a single upstream request.
const DefaultTimeout = 30 * time.Second

// maxErrorBody caps how much of a failed response body is kept for the
// error message.
const maxErrorBody = 512

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindConnection  ErrorKind = "connection"
	KindStatus      ErrorKind = "status"
	KindDecode      ErrorKind = "decode"
	KindCircuitOpen ErrorKind = "circuit_open"
)

// TransportError is returned for every failed upstream call.
type TransportError struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the same request may succeed if repeated.
func (e *TransportError) Retryable() bool {
	switch e.Kind {
	case KindTimeout, KindConnection:
		return true
	case KindStatus:
		return e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// Classify converts err into a TransportError for provider. Errors that are
// already classified are returned unchanged.
func Classify(provider string, err error) *TransportError {
	var te *TransportError
	if errors.As(err, &te) {
		return te
	}

	kind := KindConnection
	var netErr net.Error
	switch {
	case errors.Is(err, ErrCircuitOpen),
		errors.Is(err, gobreaker.ErrOpenState),
		errors.Is(err, gobreaker.ErrTooManyRequests):
		kind = KindCircuitOpen
		err = ErrCircuitOpen
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		kind = KindTimeout
	}

	return &TransportError{Provider: provider, Kind: kind, Err: err}
}

// ClientConfig holds configuration for the resilient HTTP client.
type ClientConfig struct {
	// Name identifies the provider for circuit breaker naming and health.
	Name string

	// Timeout bounds each individual HTTP attempt.
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of retry attempts.
	// Default: 2
	MaxRetries uint64

	// InitialInterval is the initial retry backoff interval.
	// Default: 200ms
	InitialInterval time.Duration

	// MaxInterval is the maximum retry backoff interval.
	// Default: 5 seconds
	MaxInterval time.Duration

	// UserAgent is sent with every request when set.
	UserAgent string

	// CircuitBreaker is the circuit breaker configuration.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, receives the client and its call outcomes.
	Registry *Registry

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper

	Logger zerolog.Logger
}

// DefaultClientConfig returns the defaults used for upstream data providers.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:            name,
		Timeout:         DefaultTimeout,
		MaxRetries:      2,
		InitialInterval: 200 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		CircuitBreaker:  &cbConfig,
		Logger:          zerolog.Nop(),
	}
}

// Client is a resilient HTTP client with circuit breaker and retry logic.
type Client struct {
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker[*http.Response]
	registry       *Registry
	config         ClientConfig
	logger         zerolog.Logger
}

// NewClient creates a new resilient HTTP client and registers it with
// cfg.Registry if one is given.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.InitialInterval == 0 {
		cfg.InitialInterval = 200 * time.Millisecond
	}
	if cfg.MaxInterval == 0 {
		cfg.MaxInterval = 5 * time.Second
	}

	logger := cfg.Logger.With().Str("provider", cfg.Name).Logger()

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}
	if cbConfig.OnStateChange == nil {
		cbConfig.OnStateChange = func(name string, from, to gobreaker.State) {
			logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
		}
	}

	c := &Client{
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: cfg.Transport,
		},
		circuitBreaker: NewCircuitBreaker[*http.Response](cbConfig), //nolint:bodyclose // type param, not response
		registry:       cfg.Registry,
		config:         cfg,
		logger:         logger,
	}

	if c.registry != nil {
		c.registry.Register(cfg.Name, c)
	}
	return c
}

// Name returns the provider name of this client.
func (c *Client) Name() string {
	return c.config.Name
}

// Timeout returns the per-attempt request timeout.
func (c *Client) Timeout() time.Duration {
	return c.config.Timeout
}

// Do executes req with circuit breaker protection and retries. Timeouts,
// connection failures, 5xx and 429 responses are retried with exponential
// backoff; any other non-2xx status fails immediately. On success the caller
// owns the response body. Every failure is a *TransportError.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}
	c.recordSuccess()
	return resp, nil
}

// do runs the retry loop. Failures are recorded in the registry; success is
// left to the caller, which may still fail on the body.
func (c *Client) do(ctx context.Context, req *http.Request) (*http.Response, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.InitialInterval
	bo.MaxInterval = c.config.MaxInterval
	bo.MaxElapsedTime = 0 // bounded by MaxRetries

	policy := backoff.WithContext(backoff.WithMaxRetries(bo, c.config.MaxRetries), ctx)

	var resp *http.Response
	operation := func() error {
		r, err := c.circuitBreaker.Execute(func() (*http.Response, error) { //nolint:bodyclose // caller closes on success
			return c.attempt(ctx, req)
		})
		if err != nil {
			te := Classify(c.config.Name, err)
			if !te.Retryable() {
				return backoff.Permanent(te)
			}
			return te
		}
		resp = r
		return nil
	}

	notify := func(err error, wait time.Duration) {
		c.logger.Debug().
			Err(err).
			Dur("backoff", wait).
			Str("url", req.URL.Redacted()).
			Msg("retrying upstream request")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		te := Classify(c.config.Name, err)
		c.recordFailure(te)
		return nil, te
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, req *http.Request) (*http.Response, error) {
	r, err := c.httpClient.Do(req.Clone(ctx))
	if err != nil {
		return nil, Classify(c.config.Name, err)
	}
	if r.StatusCode >= 200 && r.StatusCode < 300 {
		return r, nil
	}

	defer r.Body.Close()
	snippet, _ := io.ReadAll(io.LimitReader(r.Body, maxErrorBody))
	msg := strings.TrimSpace(string(snippet))
	if msg == "" {
		msg = http.StatusText(r.StatusCode)
	}
	return nil, &TransportError{
		Provider:   c.config.Name,
		Kind:       KindStatus,
		StatusCode: r.StatusCode,
		Err:        errors.New(msg),
	}
}

// GetJSON issues a GET to rawURL with params and decodes the JSON body into
// out.
func (c *Client) GetJSON(ctx context.Context, rawURL string, params url.Values, out any) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url %q: %w", rawURL, err)
	}
	if len(params) > 0 {
		q := u.Query()
		for k, vs := range params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}

	start := time.Now()
	resp, err := c.do(ctx, req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		te := &TransportError{Provider: c.config.Name, Kind: KindDecode, Err: err}
		c.recordFailure(te)
		return te
	}
	c.recordSuccess()

	c.logger.Debug().
		Str("url", u.Redacted()).
		Dur("duration", time.Since(start)).
		Msg("upstream request completed")
	return nil
}

func (c *Client) recordSuccess() {
	if c.registry != nil {
		c.registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err *TransportError) {
	if c.registry != nil {
		c.registry.RecordFailure(c.config.Name, err)
	}
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
