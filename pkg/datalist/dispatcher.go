package datalist

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the parallel fetch engine.
var (
	batchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gpm_datalist_batches_total",
		Help: "Total dispatched DataList batches by result",
	}, []string{"result"}) // "ok", "failed"

	dispatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gpm_datalist_dispatch_duration_seconds",
		Help:    "Wall time of one parallel DataList fetch call",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})

	rowsFetched = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gpm_datalist_rows_fetched_total",
		Help: "Total raw records fetched across all batches",
	})
)

// dispatch runs all batch fetches under a bounded worker pool and blocks
// until every one has completed. Outcomes are accumulated in completion
// order, which is unspecified relative to submission order. A failed
// batch never cancels its siblings; there is no abort path once batches
// are submitted.
func (c *Client) dispatch(ctx context.Context, batches [][]Key, window TimeRange) []FetchOutcome {
	if len(batches) == 0 {
		return nil
	}

	start := time.Now()
	logger := c.logger.With().Str("fetch_id", uuid.NewString()).Logger()

	workers := min(c.cfg.MaxWorkers, len(batches))

	logger.Info().
		Int("batches", len(batches)).
		Int("workers", workers).
		Int("batch_size", c.cfg.BatchSize).
		Msg("Starting parallel batch fetch")

	jobs := make(chan []Key, len(batches))
	for _, batch := range batches {
		jobs <- batch
	}
	close(jobs)

	results := make(chan FetchOutcome, len(batches))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range jobs {
				results <- c.fetchBatch(ctx, logger, batch, window)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	// Full barrier: collect every outcome before returning, one channel
	// receive per batch, so no shared slice is written concurrently.
	outcomes := make([]FetchOutcome, 0, len(batches))
	failed := 0
	records := 0
	for outcome := range results {
		if outcome.Failed() {
			failed++
			batchesTotal.WithLabelValues("failed").Inc()
		} else {
			records += len(outcome.Records)
			batchesTotal.WithLabelValues("ok").Inc()
		}
		outcomes = append(outcomes, outcome)
	}

	rowsFetched.Add(float64(records))
	dispatchDuration.Observe(time.Since(start).Seconds())

	logger.Info().
		Int("batches", len(batches)).
		Int("failed", failed).
		Int("records", records).
		Dur("duration", time.Since(start)).
		Msg("Parallel batch fetch complete")

	return outcomes
}
