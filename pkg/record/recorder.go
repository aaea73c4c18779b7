// Package record persists normalized measurement rows to downstream
// sinks: daily CSV files or InfluxDB 3.
package record

import (
	"context"

	"github.com/plantsight/gpm-horizon-client/pkg/datalist"
)

// Recorder persists normalized rows.
type Recorder interface {
	// Record saves a single row
	Record(ctx context.Context, row datalist.Row) error

	// RecordBatch saves multiple rows efficiently
	RecordBatch(ctx context.Context, rows []datalist.Row) error

	// Flush ensures all buffered data is written to storage
	Flush(ctx context.Context) error

	// Close finalizes the recording session and releases resources
	Close() error
}
