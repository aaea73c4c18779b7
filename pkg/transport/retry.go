package transport

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for retry operations.
var (
	retriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpm_retries_total",
		Help: "Total number of retry attempts by error class",
	}, []string{"error_class"})

	retryBackoffSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gpm_retry_backoff_seconds",
		Help:    "Backoff duration for retries by error class",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"error_class"})

	retryExhaustedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpm_retry_exhausted_total",
		Help: "Total number of times retry attempts were exhausted by error class",
	}, []string{"error_class"})
)

// RetryConfig holds the configuration for retry logic.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (including the initial request).
	MaxAttempts int

	// InitialBackoff is the initial backoff duration.
	InitialBackoff time.Duration

	// MaxBackoff is the maximum backoff duration.
	MaxBackoff time.Duration

	// BackoffMultiplier is the multiplier for exponential backoff.
	BackoffMultiplier float64
}

// DefaultRetryConfig returns the default retry configuration.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		InitialBackoff:    1 * time.Second,
		MaxBackoff:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}
}

// retrier tracks exponential backoff state across attempts of one request.
type retrier struct {
	config  RetryConfig
	backoff time.Duration
	logger  zerolog.Logger
}

func newRetrier(cfg RetryConfig, logger zerolog.Logger) *retrier {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 1 * time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 30 * time.Second
	}
	if cfg.BackoffMultiplier <= 1 {
		cfg.BackoffMultiplier = 2.0
	}
	return &retrier{
		config:  cfg,
		backoff: cfg.InitialBackoff,
		logger:  logger,
	}
}

// wait blocks for the current backoff (with ±20% jitter) and advances the
// exponential schedule. It respects context cancellation.
func (r *retrier) wait(ctx context.Context, errorClass ErrorClass, attempt int) error {
	retriesTotal.WithLabelValues(string(errorClass)).Inc()

	jitter := time.Duration(float64(r.backoff) * (0.8 + rand.Float64()*0.4))
	retryBackoffSeconds.WithLabelValues(string(errorClass)).Observe(jitter.Seconds())

	r.logger.Debug().
		Str("error_class", string(errorClass)).
		Int("attempt", attempt).
		Dur("backoff", jitter).
		Msg("Retrying request after backoff")

	select {
	case <-ctx.Done():
		r.logger.Warn().
			Str("error_class", string(errorClass)).
			Int("attempt", attempt).
			Msg("Context cancelled during retry backoff")
		return fmt.Errorf("%w: %v", ErrContextCancelled, ctx.Err())
	case <-time.After(jitter):
	}

	r.backoff = time.Duration(float64(r.backoff) * r.config.BackoffMultiplier)
	if r.backoff > r.config.MaxBackoff {
		r.backoff = r.config.MaxBackoff
	}
	return nil
}

// exhausted records retry exhaustion and builds the terminal error.
func (r *retrier) exhausted(errorClass ErrorClass, lastErr error) error {
	retryExhaustedTotal.WithLabelValues(string(errorClass)).Inc()
	r.logger.Warn().
		Str("error_class", string(errorClass)).
		Int("max_attempts", r.config.MaxAttempts).
		Msg("Retry attempts exhausted")

	return fmt.Errorf("%w after %d attempts: %v", ErrRetryExhausted, r.config.MaxAttempts, lastErr)
}
