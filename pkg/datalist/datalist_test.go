package datalist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/plantsight/gpm-horizon-client/pkg/transport"
)

var errFake = errors.New("boom")

// fakeTransport records requests and answers them with a configurable
// handler, tracking how many fetches run concurrently.
type fakeTransport struct {
	mu          sync.Mutex
	handler     func(params url.Values, headers http.Header) (*transport.Response, error)
	calls       []url.Values
	headers     []http.Header
	inFlight    int
	maxInFlight int
}

func (f *fakeTransport) Fetch(ctx context.Context, path string, params url.Values, headers http.Header, timeout time.Duration) (*transport.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, params)
	f.headers = append(f.headers, headers)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	// Simulate network latency so concurrency is observable
	time.Sleep(5 * time.Millisecond)

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	return f.handler(params, headers)
}

// oneRecordPerKey answers each batch with one record per requested key.
func oneRecordPerKey(params url.Values, _ http.Header) (*transport.Response, error) {
	ids := strings.Split(params.Get("dataSourceIds"), ",")
	records := make([]string, len(ids))
	for i, id := range ids {
		records[i] = fmt.Sprintf(`{"DataSourceId": %s, "Date": "2025-05-01T00:00:00Z", "Value": 1.0}`, id)
	}
	body := "[" + strings.Join(records, ",") + "]"
	return &transport.Response{StatusCode: 200, Body: []byte(body)}, nil
}

func newTestEngine(t *testing.T, tp Transport, mutate func(*Config)) *Client {
	t.Helper()

	cfg := DefaultConfig()
	cfg.BatchSize = 2
	cfg.MaxWorkers = 2
	if mutate != nil {
		mutate(&cfg)
	}

	engine, err := New(tp, cfg)
	if err != nil {
		t.Fatalf("Failed to create engine: %v", err)
	}
	return engine
}

func TestNew_Validation(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}

	tests := []struct {
		name        string
		mutate      func(*Config)
		expectError bool
	}{
		{
			name:   "valid defaults",
			mutate: nil,
		},
		{
			name:        "batch size zero",
			mutate:      func(c *Config) { c.BatchSize = 0 },
			expectError: true,
		},
		{
			name:        "batch size negative",
			mutate:      func(c *Config) { c.BatchSize = -1 },
			expectError: true,
		},
		{
			name:        "max workers zero",
			mutate:      func(c *Config) { c.MaxWorkers = 0 },
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.mutate != nil {
				tt.mutate(&cfg)
			}

			_, err := New(tp, cfg)
			if tt.expectError && err == nil {
				t.Error("Expected error but got nil")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}

	if _, err := New(nil, DefaultConfig()); err == nil {
		t.Error("Expected error for nil transport")
	}
}

func TestFetchOutcomes_EmptyKeys(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}
	engine := newTestEngine(t, tp, nil)

	outcomes := engine.FetchOutcomes(context.Background(), nil, TimeRange{Start: "2025-05-01", End: "2025-05-02"})

	if len(outcomes) != 0 {
		t.Errorf("Outcomes = %d, want 0", len(outcomes))
	}
	if len(tp.calls) != 0 {
		t.Errorf("Transport calls = %d, want 0 (short-circuit before dispatch)", len(tp.calls))
	}
}

func TestFetchOutcomes_SingleWorkerLosesNoWork(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}
	engine := newTestEngine(t, tp, func(c *Config) {
		c.BatchSize = 1
		c.MaxWorkers = 1
	})

	keys := IntKeys(1, 2, 3, 4, 5)
	outcomes := engine.FetchOutcomes(context.Background(), keys, TimeRange{Start: "2025-05-01", End: "2025-05-02"})

	if len(outcomes) != 5 {
		t.Errorf("Outcomes = %d, want 5", len(outcomes))
	}
	if tp.maxInFlight != 1 {
		t.Errorf("Max in-flight fetches = %d, want 1", tp.maxInFlight)
	}
}

func TestFetchOutcomes_ConcurrencyBounded(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}
	engine := newTestEngine(t, tp, func(c *Config) {
		c.BatchSize = 1
		c.MaxWorkers = 3
	})

	keys := IntKeys(1, 2, 3, 4, 5, 6, 7, 8, 9, 10)
	outcomes := engine.FetchOutcomes(context.Background(), keys, TimeRange{Start: "2025-05-01", End: "2025-05-02"})

	if len(outcomes) != 10 {
		t.Errorf("Outcomes = %d, want 10", len(outcomes))
	}
	if tp.maxInFlight > 3 {
		t.Errorf("Max in-flight fetches = %d, want <= 3", tp.maxInFlight)
	}
}

func TestFetchOutcomes_FailedBatchIsolated(t *testing.T) {
	// Batch containing key 3 always fails; siblings are unaffected
	tp := &fakeTransport{
		handler: func(params url.Values, headers http.Header) (*transport.Response, error) {
			if strings.HasPrefix(params.Get("dataSourceIds"), "3") {
				return nil, errFake
			}
			return oneRecordPerKey(params, headers)
		},
	}
	engine := newTestEngine(t, tp, nil)

	keys := IntKeys(1, 2, 3, 4, 5)
	outcomes := engine.FetchOutcomes(context.Background(), keys, TimeRange{Start: "2025-05-01", End: "2025-05-02"})

	if len(outcomes) != 3 {
		t.Fatalf("Outcomes = %d, want 3 (failure does not reduce outcome count)", len(outcomes))
	}

	failed := 0
	records := 0
	for _, outcome := range outcomes {
		if outcome.Failed() {
			failed++
			if len(outcome.Records) != 0 {
				t.Error("Failed outcome must carry an empty payload, never a partial one")
			}
			if outcome.Batch[0] != "3" {
				t.Errorf("Failed batch starts with %s, want 3", outcome.Batch[0])
			}
		}
		records += len(outcome.Records)
	}

	if failed != 1 {
		t.Errorf("Failed outcomes = %d, want 1", failed)
	}
	if records != 3 {
		t.Errorf("Records from surviving batches = %d, want 3", records)
	}
}

func TestFetchOutcomes_HTTPErrorContained(t *testing.T) {
	tp := &fakeTransport{
		handler: func(params url.Values, headers http.Header) (*transport.Response, error) {
			return &transport.Response{StatusCode: 500, Body: []byte(`{"Message": "oops"}`)}, nil
		},
	}
	engine := newTestEngine(t, tp, nil)

	outcomes := engine.FetchOutcomes(context.Background(), IntKeys(1, 2), TimeRange{})

	if len(outcomes) != 1 {
		t.Fatalf("Outcomes = %d, want 1", len(outcomes))
	}
	if !outcomes[0].Failed() {
		t.Error("Non-2xx status should produce a failed outcome")
	}
}

func TestFetchOutcomes_MalformedBodyContained(t *testing.T) {
	tp := &fakeTransport{
		handler: func(params url.Values, headers http.Header) (*transport.Response, error) {
			return &transport.Response{StatusCode: 200, Body: []byte(`{not json`)}, nil
		},
	}
	engine := newTestEngine(t, tp, nil)

	outcomes := engine.FetchOutcomes(context.Background(), IntKeys(1), TimeRange{})

	if len(outcomes) != 1 || !outcomes[0].Failed() {
		t.Error("Malformed body should produce a failed outcome, not an error")
	}
}

func TestFetchBatch_RequestShape(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}
	engine := newTestEngine(t, tp, func(c *Config) {
		c.BatchSize = 3
		c.AggregationType = 2
		c.Grouping = "hour"
		c.ExtraParams = map[string]string{"grouping": "day", "custom": "x"}
	})

	engine.FetchOutcomes(context.Background(), IntKeys(1, 2, 3), TimeRange{Start: "2025-05-01T00:00:00Z", End: "2025-05-02T00:00:00Z"})

	if len(tp.calls) != 1 {
		t.Fatalf("Transport calls = %d, want 1", len(tp.calls))
	}
	params := tp.calls[0]

	if got := params.Get("dataSourceIds"); got != "1,2,3" {
		t.Errorf("dataSourceIds = %q, want 1,2,3", got)
	}
	if got := params.Get("startDate"); got != "2025-05-01T00:00:00Z" {
		t.Errorf("startDate = %q", got)
	}
	if got := params.Get("aggregationType"); got != "2" {
		t.Errorf("aggregationType = %q, want 2", got)
	}
	// Extra params override the defaults
	if got := params.Get("grouping"); got != "day" {
		t.Errorf("grouping = %q, want day (caller override wins)", got)
	}
	if got := params.Get("custom"); got != "x" {
		t.Errorf("custom = %q, want x", got)
	}
}

func TestFetchBatch_TimeZoneHeader(t *testing.T) {
	tests := []struct {
		name     string
		tzLocal  bool
		expected string
	}{
		{"utc mode sets header", false, "UTC"},
		{"local mode omits header", true, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tp := &fakeTransport{handler: oneRecordPerKey}
			engine := newTestEngine(t, tp, func(c *Config) { c.TZLocal = tt.tzLocal })

			engine.FetchOutcomes(context.Background(), IntKeys(1), TimeRange{})

			if got := tp.headers[0].Get("TimeZone"); got != tt.expected {
				t.Errorf("TimeZone header = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestFetchTable_EndToEnd(t *testing.T) {
	tp := &fakeTransport{handler: oneRecordPerKey}
	engine := newTestEngine(t, tp, nil) // BatchSize 2, MaxWorkers 2

	keys := IntKeys(1, 2, 3, 4, 5)
	table := engine.FetchTable(context.Background(), keys, TimeRange{Start: "2025-05-01", End: "2025-05-02"})

	if len(tp.calls) != 3 {
		t.Errorf("Transport calls = %d, want 3 batches", len(tp.calls))
	}
	if table.Len() != 5 {
		t.Fatalf("Len() = %d, want 5", table.Len())
	}

	// Batch order may vary across runs; rows within one batch stay
	// contiguous and in payload order.
	var ids []string
	for _, row := range table.Rows {
		ids = append(ids, row.DatasourceID.(json.Number).String())
	}
	joined := "," + strings.Join(ids, ",") + ","
	for _, block := range []string{",1,2,", ",3,4,", ",5,"} {
		if !strings.Contains(joined, block) {
			t.Errorf("Row order %v does not keep batch block %q contiguous", ids, block)
		}
	}
}

func TestFetchTable_AllBatchesFailedYieldsEmptyTable(t *testing.T) {
	tp := &fakeTransport{
		handler: func(params url.Values, headers http.Header) (*transport.Response, error) {
			return nil, errFake
		},
	}
	engine := newTestEngine(t, tp, nil)

	table := engine.FetchTable(context.Background(), IntKeys(1, 2, 3), TimeRange{})

	// Total failure stays a degraded-but-complete result, not an error
	if table == nil {
		t.Fatal("Table should never be nil")
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d, want 0", table.Len())
	}
}

func TestWindow_SecondPrecision(t *testing.T) {
	start := time.Date(2025, 5, 1, 10, 30, 15, 987654321, time.UTC)
	window := Window(start, start.Add(24*time.Hour))

	if window.Start != "2025-05-01T10:30:15Z" {
		t.Errorf("Start = %q, want second precision without fractions", window.Start)
	}
	if window.End != "2025-05-02T10:30:15Z" {
		t.Errorf("End = %q", window.End)
	}
}
