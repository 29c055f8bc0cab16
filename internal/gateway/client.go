package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

var (
	// ErrNotFound is the expected, non-exceptional outcome when the gateway
	// has no payment with the requested ID. The reconciler relies on it to
	// detect forged webhooks.
	ErrNotFound = errors.New("payment not found at gateway")

	// ErrUpstreamUnavailable is returned after retries are exhausted on
	// timeouts or 5xx responses. The outcome of the attempted operation is
	// unknown, not negative; callers must retry with the same idempotence
	// key rather than assume failure.
	ErrUpstreamUnavailable = errors.New("payment gateway unavailable, operation outcome unknown")
)

// APIError is a terminal 4xx response from the gateway. Never retried.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("gateway rejected request: status=%d code=%s description=%s",
		e.StatusCode, e.Code, e.Description)
}

// IdempotenceKeyHeader is the header the gateway uses for its own
// idempotency window. Forwarding the client token means the gateway's
// idempotency applies in addition to the local ledger.
const IdempotenceKeyHeader = "Idempotence-Key"

// Default retry policy values.
const (
	DefaultTimeout     = 35 * time.Second
	DefaultMaxRetries  = 3
	DefaultBackoffBase = time.Second
)

// Client defines the gateway operations the services depend on.
type Client interface {
	// CreatePayment creates a payment, forwarding idempotenceKey so the
	// gateway's own idempotency also applies. Retried on retryable
	// failures only when idempotenceKey is non-empty.
	CreatePayment(ctx context.Context, req *CreateRequest, idempotenceKey string) (*Payment, error)

	// GetPayment fetches a payment by its gateway ID. Returns ErrNotFound
	// when the gateway does not know the ID.
	GetPayment(ctx context.Context, externalID string) (*Payment, error)
}

// Config holds the settings for the HTTP gateway client.
type Config struct {
	// BaseURL is the gateway API root, e.g. https://api.gateway.example/v3.
	BaseURL string

	// ShopID and SecretKey are the Basic Auth credentials.
	ShopID    string
	SecretKey string

	// Timeout is the per-call deadline. Defaults to DefaultTimeout.
	Timeout time.Duration

	// MaxRetries bounds retry attempts after the first try.
	// Defaults to DefaultMaxRetries.
	MaxRetries int

	// BackoffBase is the unit for the 2^attempt backoff delay.
	// Defaults to DefaultBackoffBase.
	BackoffBase time.Duration
}

// HTTPClient implements Client against the gateway's JSON API.
type HTTPClient struct {
	baseURL     string
	shopID      string
	secretKey   string
	httpClient  *http.Client
	timeout     time.Duration
	maxRetries  int
	backoffBase time.Duration
	logger      *slog.Logger
	metrics     *Metrics
}

// NewHTTPClient creates a gateway client. The underlying transport is
// wrapped with otelhttp so every gateway call produces a client span.
// Metrics may be nil when metric collection is not wanted.
func NewHTTPClient(cfg Config, logger *slog.Logger, metrics *Metrics) *HTTPClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}

	return &HTTPClient{
		baseURL:   cfg.BaseURL,
		shopID:    cfg.ShopID,
		secretKey: cfg.SecretKey,
		httpClient: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		timeout:     cfg.Timeout,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		logger:      logger,
		metrics:     metrics,
	}
}

// CreatePayment creates a payment at the gateway. The create is an
// idempotent write only when a key is attached, so retries are enabled
// iff idempotenceKey is non-empty.
func (c *HTTPClient) CreatePayment(ctx context.Context, req *CreateRequest, idempotenceKey string) (*Payment, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode create payment request: %w", err)
	}
	retryable := idempotenceKey != ""
	return c.do(ctx, http.MethodPost, "/payments", body, idempotenceKey, retryable)
}

// GetPayment fetches a payment by its gateway ID. Reads are always retryable.
func (c *HTTPClient) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	return c.do(ctx, http.MethodGet, "/payments/"+externalID, nil, "", true)
}

// do executes one gateway call with the bounded retry policy. Retryable
// conditions are transport errors (connect/read timeout) and 5xx responses;
// 4xx responses are terminal. The backoff delay 2^attempt x base is applied
// before each retry, not after the final failure.
func (c *HTTPClient) do(ctx context.Context, method, path string, body []byte, idempotenceKey string, retryable bool) (*Payment, error) {
	attempts := 1
	if retryable {
		attempts = 1 + c.maxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			delay := c.backoffBase * (1 << attempt)
			c.logger.WarnContext(ctx, "retrying gateway call",
				"method", method,
				"path", path,
				"attempt", attempt,
				"delay", delay.String(),
			)
			if c.metrics != nil {
				c.metrics.ObserveRetry()
			}
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				// Canceled mid-backoff: the outcome of prior attempts is
				// unknown, never a confirmed failure.
				return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctx.Err())
			}
		}

		payment, err := c.once(ctx, method, path, body, idempotenceKey)
		if err == nil {
			return payment, nil
		}
		if !isRetryable(err) {
			return nil, err
		}
		lastErr = err
	}

	return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, lastErr)
}

// retryableError marks a failure eligible for another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryable(err error) bool {
	var r *retryableError
	return errors.As(err, &r)
}

// once performs a single HTTP exchange with the per-call deadline.
func (c *HTTPClient) once(ctx context.Context, method, path string, body []byte, idempotenceKey string) (*Payment, error) {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(callCtx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to build gateway request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)
	req.Header.Set("Content-Type", "application/json")
	if idempotenceKey != "" {
		req.Header.Set(IdempotenceKeyHeader, idempotenceKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if c.metrics != nil {
		c.metrics.ObserveCall(method, time.Since(start))
	}
	if err != nil {
		// Connection or read timeout: outcome unknown, retryable.
		return nil, &retryableError{err: err}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			c.logger.WarnContext(ctx, "failed to close gateway response body", "error", err)
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &retryableError{err: fmt.Errorf("failed to read gateway response: %w", err)}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		var payment Payment
		if err := json.Unmarshal(respBody, &payment); err != nil {
			return nil, fmt.Errorf("failed to decode gateway payment: %w", err)
		}
		return &payment, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNotFound

	case resp.StatusCode >= 500:
		return nil, &retryableError{err: fmt.Errorf("gateway returned status %d", resp.StatusCode)}

	default:
		var apiErr apiError
		// Best effort; an unparseable error body still yields an APIError.
		_ = json.Unmarshal(respBody, &apiErr)
		return nil, &APIError{
			StatusCode:  resp.StatusCode,
			Code:        apiErr.Code,
			Description: apiErr.Description,
		}
	}
}
