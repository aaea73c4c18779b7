// Package transport provides the authenticated HTTP transport for the
// Horizon web API: request building, bearer token handling, error
// classification, and opt-in retry with backoff.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
)

// Prometheus metrics for transport operations.
var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpm_requests_total",
		Help: "Total Horizon API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpm_request_duration_seconds",
		Help:    "Horizon API request duration in seconds by endpoint",
		Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
	}, []string{"endpoint"})

	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpm_errors_total",
		Help: "Total Horizon API errors by class",
	}, []string{"class"})
)

// BaseURLForServer builds the Horizon API base URL for a server name.
func BaseURLForServer(serverName string) string {
	return fmt.Sprintf("https://webapi%s.horizon.greenpowermonitor.com/api", serverName)
}

// Client is the authenticated Horizon API transport.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     oauth2.TokenSource
	retry      RetryConfig
	logger     zerolog.Logger
}

// Config holds the transport configuration.
type Config struct {
	// ServerName selects the Horizon instance
	// (base URL becomes https://webapi<server>.horizon.greenpowermonitor.com/api).
	ServerName string

	// BaseURL overrides ServerName with an explicit base URL when set.
	BaseURL string

	// TokenSource supplies bearer tokens for the Authorization header.
	TokenSource oauth2.TokenSource

	// Timeout is the client-level timeout for a single HTTP exchange.
	// Zero means no client-level timeout; callers bound latency with
	// the per-call timeout passed to Fetch.
	Timeout time.Duration

	// Retry configures retry-with-backoff for server and network errors.
	// MaxAttempts of 1 (the default) means a single attempt per call,
	// leaving retry policy to the layers above.
	Retry RetryConfig
}

// DefaultConfig returns a safe default configuration for a Horizon server.
func DefaultConfig(tokens oauth2.TokenSource, serverName string) Config {
	return Config{
		ServerName:  serverName,
		TokenSource: tokens,
		Retry: RetryConfig{
			MaxAttempts:       1,
			InitialBackoff:    1 * time.Second,
			MaxBackoff:        30 * time.Second,
			BackoffMultiplier: 2.0,
		},
	}
}

// New creates a new Horizon transport client.
func New(cfg Config) (*Client, error) {
	if cfg.TokenSource == nil {
		return nil, fmt.Errorf("token source is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		if cfg.ServerName == "" {
			return nil, fmt.Errorf("server name or base URL is required")
		}
		baseURL = BaseURLForServer(cfg.ServerName)
	}
	baseURL = strings.TrimRight(baseURL, "/")

	logger := log.With().Str("component", "gpm-transport").Logger()

	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		baseURL: baseURL,
		tokens:  cfg.TokenSource,
		retry:   cfg.Retry,
		logger:  logger,
	}, nil
}

// Fetch performs a GET request against a Horizon endpoint and returns the
// full response. A non-zero timeout bounds the whole exchange including
// retries; zero means the call may block until the server responds.
//
// Responses with error status codes are returned, not raised: callers
// inspect Response.StatusCode. An error is returned only for request
// construction failures, exhausted retries, and network failures.
func (c *Client) Fetch(ctx context.Context, path string, params url.Values, headers http.Header, timeout time.Duration) (*Response, error) {
	return c.do(ctx, http.MethodGet, path, params, headers, nil, timeout)
}

// Get is Fetch without a per-call timeout.
func (c *Client) Get(ctx context.Context, path string, params url.Values, headers http.Header) (*Response, error) {
	return c.Fetch(ctx, path, params, headers, 0)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any, headers http.Header) (*Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, headers, payload, 0)
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, headers http.Header, body []byte, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	startTime := time.Now()
	defer func() {
		requestDuration.WithLabelValues(path).Observe(time.Since(startTime).Seconds())
	}()

	token, err := c.tokens.Token()
	if err != nil {
		return nil, fmt.Errorf("acquire token: %w", err)
	}

	requestURL := c.baseURL + path
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	retrier := newRetrier(c.retry, c.logger)
	maxAttempts := retrier.config.MaxAttempts

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		var reqBody io.Reader
		if body != nil {
			reqBody = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, requestURL, reqBody)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		token.SetAuthHeader(req)
		// Caller headers merge on top of the defaults
		for key, values := range headers {
			req.Header.Del(key)
			for _, value := range values {
				req.Header.Add(key, value)
			}
		}

		c.logger.Debug().
			Str("endpoint", path).
			Str("method", method).
			Int("attempt", attempt).
			Msg("Executing Horizon request")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			errorsTotal.WithLabelValues(string(ErrorClassNetwork)).Inc()
			requestsTotal.WithLabelValues(path, "network_error").Inc()
			c.logger.Warn().Err(err).Str("endpoint", path).Msg("HTTP request failed")

			if attempt < maxAttempts {
				if waitErr := retrier.wait(ctx, ErrorClassNetwork, attempt); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			if maxAttempts > 1 {
				return nil, retrier.exhausted(ErrorClassNetwork, lastErr)
			}
			return nil, &APIError{
				ErrorClass: ErrorClassNetwork,
				Endpoint:   path,
				Message:    "request failed",
				Err:        err,
			}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}

		requestsTotal.WithLabelValues(path, fmt.Sprintf("%d", resp.StatusCode)).Inc()

		if resp.StatusCode >= 400 {
			errClass := classifyError(resp, nil)
			errorsTotal.WithLabelValues(string(errClass)).Inc()

			c.logger.Warn().
				Str("endpoint", path).
				Int("status", resp.StatusCode).
				Str("error_class", string(errClass)).
				Msg("Horizon request error")

			if shouldRetry(errClass) && attempt < maxAttempts {
				lastErr = &APIError{
					StatusCode: resp.StatusCode,
					ErrorClass: errClass,
					Endpoint:   path,
					Message:    resp.Status,
				}
				if waitErr := retrier.wait(ctx, errClass, attempt); waitErr != nil {
					return nil, waitErr
				}
				continue
			}
			// Error statuses are data, not errors: callers check StatusCode
		}

		return &Response{
			StatusCode: resp.StatusCode,
			Header:     resp.Header.Clone(),
			Body:       respBody,
		}, nil
	}

	return nil, retrier.exhausted(classifyError(nil, lastErr), lastErr)
}
