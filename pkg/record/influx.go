package record

import (
	"context"
	"fmt"
	"time"

	influxdb3 "github.com/InfluxCommunity/influxdb3-go/v2/influxdb3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plantsight/gpm-horizon-client/pkg/datalist"
)

const influxWriteTimeout = 30 * time.Second

// InfluxRecorder writes rows to InfluxDB 3 as points in the
// "gpm_measurement" measurement with a datasource_id tag and a value
// field. Rows missing a timestamp or value carry no information for a
// time series and are skipped.
type InfluxRecorder struct {
	client *influxdb3.Client
	logger zerolog.Logger
}

// NewInfluxRecorder wraps an initialized InfluxDB 3 client.
func NewInfluxRecorder(client *influxdb3.Client) (*InfluxRecorder, error) {
	if client == nil {
		return nil, fmt.Errorf("influxdb client is required")
	}
	return &InfluxRecorder{
		client: client,
		logger: log.With().Str("component", "gpm-record").Logger(),
	}, nil
}

// Record saves a single row.
func (r *InfluxRecorder) Record(ctx context.Context, row datalist.Row) error {
	return r.RecordBatch(ctx, []datalist.Row{row})
}

// RecordBatch saves multiple rows in one write.
func (r *InfluxRecorder) RecordBatch(ctx context.Context, rows []datalist.Row) error {
	points := make([]*influxdb3.Point, 0, len(rows))
	for _, row := range rows {
		if point := rowToPoint(row); point != nil {
			points = append(points, point)
		}
	}
	if len(points) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, influxWriteTimeout)
	defer cancel()

	if err := r.client.WritePoints(ctx, points); err != nil {
		return fmt.Errorf("write points: %w", err)
	}

	r.logger.Debug().Int("points", len(points)).Msg("Wrote rows to InfluxDB")
	return nil
}

func rowToPoint(row datalist.Row) *influxdb3.Point {
	if !row.Timestamp.Valid || !row.Value.Valid || row.DatasourceID == nil {
		return nil
	}

	tags := map[string]string{
		"datasource_id": fmt.Sprint(row.DatasourceID),
	}
	fields := map[string]interface{}{
		"value": row.Value.Float64,
	}

	return influxdb3.NewPoint("gpm_measurement", tags, fields, row.Timestamp.Time)
}

// Flush is a no-op; WritePoints is synchronous.
func (r *InfluxRecorder) Flush(ctx context.Context) error {
	return nil
}

// Close releases the underlying client.
func (r *InfluxRecorder) Close() error {
	return r.client.Close()
}
