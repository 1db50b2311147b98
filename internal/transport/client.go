// Package transport opens byte ranges of segment and playlist resources.
//
// The HTTP side is a resilient client with a circuit breaker, retries with
// exponential backoff and transparent decompression. Local paths and
// file:// URLs are read from disk. Other schemes are served by registered
// handlers.
package transport

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

// Common errors returned by the client.
var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
	ErrBadStatus   = errors.New("unexpected status code")
)

// Default configuration values.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultRetryAttempts        = 2
	DefaultRetryDelay           = 500 * time.Millisecond
	DefaultRetryMaxDelay        = 10 * time.Second
	DefaultBackoffMultiplier    = 2.0
	DefaultCircuitThreshold     = 5
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "HLS Player"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"
	HeaderRange           = "Range"

	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingIdentity = "identity"
)

// Error describes a failed request.
type Error struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("request %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("request %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall request timeout, including reading the body.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts int

	// RetryDelay is the initial delay between retries.
	RetryDelay time.Duration

	// RetryMaxDelay caps the delay between retries.
	RetryMaxDelay time.Duration

	BackoffMultiplier float64

	// CircuitThreshold is the number of consecutive failures that opens the circuit.
	CircuitThreshold int

	// CircuitTimeout is how long the circuit stays open before a probe request.
	CircuitTimeout time.Duration

	UserAgent string

	Logger *slog.Logger

	// BaseClient is the underlying http.Client. If nil, one is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:           DefaultTimeout,
		RetryAttempts:     DefaultRetryAttempts,
		RetryDelay:        DefaultRetryDelay,
		RetryMaxDelay:     DefaultRetryMaxDelay,
		BackoffMultiplier: DefaultBackoffMultiplier,
		CircuitThreshold:  DefaultCircuitThreshold,
		CircuitTimeout:    DefaultCircuitTimeout,
		UserAgent:         DefaultUserAgentHeader,
	}
}

// Client is a resilient HTTP client with circuit breaker and retry support.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = 1
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = DefaultCircuitThreshold
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, DefaultCircuitHalfOpenMax),
		logger:  cfg.Logger.With(slog.String("component", "transport")),
	}
}

// Do executes a request with circuit breaker protection and retries.
// Responses with retryable status codes are retried; any other response is
// returned to the caller as-is.
func (c *Client) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	target := obfuscateURL(req.URL)
	var lastErr error
	var lastStatus int
	delay := c.config.RetryDelay

	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", target),
			)

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			delay = time.Duration(float64(delay) * c.config.BackoffMultiplier)
			if c.config.RetryMaxDelay > 0 && delay > c.config.RetryMaxDelay {
				delay = c.config.RetryMaxDelay
			}
		}

		if !c.breaker.Allow() {
			lastErr = ErrCircuitOpen
			c.logger.Warn("circuit breaker open, skipping request",
				slog.String("url", target),
				slog.String("state", c.breaker.State().String()),
			)
			continue
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		duration := time.Since(start)

		if err != nil {
			// Don't retry on context errors
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			c.breaker.RecordFailure()
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", target),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			continue
		}

		if isRetryableStatus(resp.StatusCode) {
			c.breaker.RecordFailure()
			lastStatus = resp.StatusCode
			lastErr = ErrBadStatus
			c.logger.Warn("retryable status code",
				slog.String("url", target),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", duration),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()
			continue
		}

		c.breaker.RecordSuccess()
		c.logger.Debug("request completed",
			slog.String("url", target),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", duration),
			slog.Int64("content_length", resp.ContentLength),
		)

		resp.Body = c.wrapDecompression(resp)
		return resp, nil
	}

	if errors.Is(lastErr, ErrCircuitOpen) {
		return nil, &Error{URL: target, Err: ErrCircuitOpen}
	}
	return nil, &Error{URL: target, StatusCode: lastStatus, Err: fmt.Errorf("%w: %w", ErrMaxRetries, lastErr)}
}

// Get performs a GET request and fails on any non-2xx status.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	resp, err := c.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, &Error{URL: obfuscateURL(req.URL), StatusCode: resp.StatusCode, Err: ErrBadStatus}
	}
	return resp, nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit resets the circuit breaker to closed state.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// wrapDecompression wraps the response body according to Content-Encoding.
func (c *Client) wrapDecompression(resp *http.Response) io.ReadCloser {
	encoding := resp.Header.Get(HeaderContentEncoding)
	if encoding == "" {
		return resp.Body
	}

	switch strings.ToLower(encoding) {
	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body
		}
		return &decompressReader{reader: reader, closer: resp.Body}

	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}

	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}

	case EncodingIdentity:
		return resp.Body

	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

// isRetryableStatus returns true if the HTTP status code is retryable.
func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "signature", "sig",
}

// obfuscateURL returns a URL string with sensitive query parameters masked.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	sanitized.User = nil
	query := sanitized.Query()
	changed := false
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
			changed = true
		}
	}
	if changed {
		sanitized.RawQuery = query.Encode()
	}
	return sanitized.String()
}

// RedactURL masks credentials and sensitive query parameters in raw.
// Strings that do not parse as URLs are returned unchanged.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return obfuscateURL(u)
}
