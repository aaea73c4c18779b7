// Package datalist implements the parallel batched fetch of Horizon
// /DataList/v2 time series: key chunking, bounded-concurrency dispatch,
// per-batch failure containment, and normalization into tidy rows.
package datalist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plantsight/gpm-horizon-client/pkg/transport"
)

// dataListPath is the time-series listing endpoint.
const dataListPath = "/DataList/v2"

// Key identifies one datasource whose time series is requested.
type Key string

// IntKeys converts numeric datasource ids to Keys.
func IntKeys(ids ...int) []Key {
	keys := make([]Key, len(ids))
	for i, id := range ids {
		keys[i] = Key(fmt.Sprintf("%d", id))
	}
	return keys
}

// TimeRange is the requested [start, end] window as ISO-8601 strings.
type TimeRange struct {
	Start string
	End   string
}

// Window builds a TimeRange from instants, serialized at second precision.
func Window(start, end time.Time) TimeRange {
	return TimeRange{
		Start: FormatInstant(start),
		End:   FormatInstant(end),
	}
}

// FormatInstant serializes an instant as ISO-8601 with second precision.
func FormatInstant(t time.Time) string {
	return t.Format(time.RFC3339)
}

// FieldMapping names the vendor JSON fields of one raw record.
type FieldMapping struct {
	// SourceKey is the field carrying the datasource id.
	SourceKey string

	// Timestamp is the field carrying the observation instant.
	Timestamp string

	// Value is the field carrying the measurement.
	Value string
}

// DefaultFieldMapping returns the field names used by /DataList/v2.
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		SourceKey: "DataSourceId",
		Timestamp: "Date",
		Value:     "Value",
	}
}

// Transport is the HTTP capability the engine consumes. One call issues
// one request and returns the response or a transport-level error.
type Transport interface {
	Fetch(ctx context.Context, path string, params url.Values, headers http.Header, timeout time.Duration) (*transport.Response, error)
}

// Config holds the engine configuration for one client instance. The
// same configuration applies to every batch of a call.
type Config struct {
	// BatchSize is the maximum number of datasource ids per request (>= 1).
	BatchSize int

	// MaxWorkers is the maximum number of batch fetches in flight (>= 1).
	MaxWorkers int

	// AggregationType is the server-side aggregation type code.
	AggregationType int

	// Grouping is the server-side granularity mode ("raw" or an interval name).
	Grouping string

	// ExtraParams are query parameters merged over the defaults.
	ExtraParams map[string]string

	// ExtraHeaders are request headers merged over the defaults.
	ExtraHeaders map[string]string

	// TZLocal requests local-time semantics: the TimeZone:UTC header is
	// omitted and the output timestamp column is named timestamp_local.
	TZLocal bool

	// Timeout bounds each batch fetch. Zero means a fetch may block
	// until the server responds; callers wanting bounded total latency
	// must set it.
	Timeout time.Duration

	// Fields overrides the vendor field names (default: DefaultFieldMapping).
	Fields FieldMapping
}

// DefaultConfig returns the engine defaults matching the vendor API.
func DefaultConfig() Config {
	return Config{
		BatchSize:       1,
		MaxWorkers:      8,
		AggregationType: 1,
		Grouping:        "raw",
		Fields:          DefaultFieldMapping(),
	}
}

// Validate checks the configuration. Invalid values are rejected, never
// silently coerced.
func (c Config) Validate() error {
	if c.BatchSize < 1 {
		return fmt.Errorf("batch_size must be >= 1 (got %d)", c.BatchSize)
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("max_workers must be >= 1 (got %d)", c.MaxWorkers)
	}
	return nil
}

// Client is the parallel batched fetch engine.
type Client struct {
	transport Transport
	cfg       Config
	logger    zerolog.Logger
}

// New creates a datalist engine over the given transport. Configuration
// errors are reported eagerly, before any dispatch.
func New(tp Transport, cfg Config) (*Client, error) {
	if tp == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Grouping == "" {
		cfg.Grouping = "raw"
	}
	if cfg.Fields == (FieldMapping{}) {
		cfg.Fields = DefaultFieldMapping()
	}

	return &Client{
		transport: tp,
		cfg:       cfg,
		logger:    log.With().Str("component", "datalist").Logger(),
	}, nil
}

// FetchOutcomes runs the parallel batched fetch and returns the raw
// per-batch outcomes in completion order, payloads untouched.
func (c *Client) FetchOutcomes(ctx context.Context, keys []Key, window TimeRange) []FetchOutcome {
	if len(keys) == 0 {
		return nil
	}

	// Post-Validate, Chunk cannot fail on the configured size
	batches, _ := Chunk(keys, c.cfg.BatchSize)
	return c.dispatch(ctx, batches, window)
}

// FetchTable runs the parallel batched fetch and normalizes all payloads
// into one tidy table. Failed batches contribute zero rows; the call
// itself fails only on configuration errors, which New reports, so the
// result may be empty but is never nil.
func (c *Client) FetchTable(ctx context.Context, keys []Key, window TimeRange) *Table {
	outcomes := c.FetchOutcomes(ctx, keys, window)

	table := Normalize(outcomes, c.cfg.TZLocal, c.cfg.Fields)
	if len(outcomes) > 0 && table.Len() == 0 {
		// All batches failed or came back empty. This stays an empty
		// table rather than an error; callers check Len.
		c.logger.Warn().
			Int("batches", len(outcomes)).
			Msg("Parallel fetch produced no rows")
	}
	return table
}
