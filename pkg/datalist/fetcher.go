package datalist

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// RawRecord is one vendor JSON object as decoded from the response body.
// Numbers are json.Number.
type RawRecord map[string]any

// FetchOutcome is the result of executing one batch: either a payload of
// raw records, or an empty payload with the failure cause recorded. A
// failed batch never aborts its siblings.
type FetchOutcome struct {
	// Batch is the originating batch, kept for logging and diagnostics.
	Batch []Key

	// Records is the raw payload. Empty when the fetch failed.
	Records []RawRecord

	// Err is the underlying cause when the fetch failed, nil otherwise.
	Err error
}

// Failed reports whether the batch fetch failed.
func (o FetchOutcome) Failed() bool {
	return o.Err != nil
}

// fetchBatch executes one batch request. Every failure mode — transport
// error, non-2xx status, malformed body — is contained here and becomes
// an empty outcome carrying the cause.
func (c *Client) fetchBatch(ctx context.Context, logger zerolog.Logger, batch []Key, window TimeRange) FetchOutcome {
	params := url.Values{}
	params.Set("dataSourceIds", joinKeys(batch))
	params.Set("startDate", window.Start)
	params.Set("endDate", window.End)
	params.Set("aggregationType", strconv.Itoa(c.cfg.AggregationType))
	params.Set("grouping", c.cfg.Grouping)
	// Caller extras take precedence over the defaults
	for key, value := range c.cfg.ExtraParams {
		params.Set(key, value)
	}

	headers := http.Header{}
	if !c.cfg.TZLocal {
		headers.Set("TimeZone", "UTC")
	}
	for key, value := range c.cfg.ExtraHeaders {
		headers.Set(key, value)
	}

	resp, err := c.transport.Fetch(ctx, dataListPath, params, headers, c.cfg.Timeout)
	if err != nil {
		return c.failOutcome(logger, batch, err)
	}
	if !resp.IsSuccess() {
		return c.failOutcome(logger, batch, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	var records []RawRecord
	if err := resp.JSON(&records); err != nil {
		return c.failOutcome(logger, batch, err)
	}

	return FetchOutcome{Batch: batch, Records: records}
}

// failOutcome records a contained batch failure with enough context to
// diagnose which batch was lost and why.
func (c *Client) failOutcome(logger zerolog.Logger, batch []Key, cause error) FetchOutcome {
	logger.Warn().
		Err(cause).
		Str("batch_start", string(batch[0])).
		Int("batch_size", len(batch)).
		Msg("DataList/v2 batch fetch failed")

	return FetchOutcome{Batch: batch, Err: cause}
}

// joinKeys builds the comma-joined dataSourceIds parameter value.
func joinKeys(batch []Key) string {
	parts := make([]string, len(batch))
	for i, key := range batch {
		parts[i] = string(key)
	}
	return strings.Join(parts, ",")
}
