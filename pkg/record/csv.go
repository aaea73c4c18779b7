package record

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/plantsight/gpm-horizon-client/pkg/datalist"
)

// CSVRecorder writes rows to daily-partitioned CSV files.
// File format: <baseDir>/YYYYMMDD.csv
// Columns: datasource_id,timestamp,value (null markers become empty cells)
type CSVRecorder struct {
	baseDir string
	writers map[string]*csv.Writer
	buffers map[string]*bufio.Writer
	files   map[string]*os.File
	mu      sync.Mutex
	logger  zerolog.Logger
}

// NewCSVRecorder creates a recorder rooted at baseDir.
func NewCSVRecorder(baseDir string) *CSVRecorder {
	return &CSVRecorder{
		baseDir: baseDir,
		writers: make(map[string]*csv.Writer),
		buffers: make(map[string]*bufio.Writer),
		files:   make(map[string]*os.File),
		logger:  log.With().Str("component", "gpm-record").Logger(),
	}
}

// Record saves a single row.
func (r *CSVRecorder) Record(ctx context.Context, row datalist.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(row)
}

// RecordBatch saves multiple rows under one lock acquisition.
func (r *CSVRecorder) RecordBatch(ctx context.Context, rows []datalist.Row) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, row := range rows {
		if err := r.write(row); err != nil {
			return err
		}
	}
	return nil
}

func (r *CSVRecorder) write(row datalist.Row) error {
	writer, err := r.getWriter(partitionDay(row))
	if err != nil {
		return fmt.Errorf("get writer: %w", err)
	}

	if err := writer.Write(csvRecord(row)); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// partitionDay picks the daily partition for a row. Rows with an invalid
// timestamp land in the partition for the current day so they are not lost.
func partitionDay(row datalist.Row) string {
	if row.Timestamp.Valid {
		return row.Timestamp.Time.Format("20060102")
	}
	return time.Now().UTC().Format("20060102")
}

func csvRecord(row datalist.Row) []string {
	id := ""
	if row.DatasourceID != nil {
		id = fmt.Sprint(row.DatasourceID)
	}

	ts := ""
	if row.Timestamp.Valid {
		ts = row.Timestamp.Time.Format(time.RFC3339)
	}

	value := ""
	if row.Value.Valid {
		value = strconv.FormatFloat(row.Value.Float64, 'f', -1, 64)
	}

	return []string{id, ts, value}
}

// Flush ensures all buffered data is written to storage.
func (r *CSVRecorder) Flush(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for day, writer := range r.writers {
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush writer for %s: %w", day, err)
		}
		if buf, ok := r.buffers[day]; ok {
			if err := buf.Flush(); err != nil {
				return fmt.Errorf("flush buffer for %s: %w", day, err)
			}
		}
	}
	return nil
}

// Close flushes and closes every open partition file.
func (r *CSVRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for day, writer := range r.writers {
		writer.Flush()
		if err := writer.Error(); err != nil {
			return fmt.Errorf("flush writer for %s during close: %w", day, err)
		}
	}
	for day, buf := range r.buffers {
		if err := buf.Flush(); err != nil {
			return fmt.Errorf("flush buffer for %s during close: %w", day, err)
		}
	}
	for day, file := range r.files {
		if err := file.Close(); err != nil {
			return fmt.Errorf("close file for %s: %w", day, err)
		}
	}

	r.writers = make(map[string]*csv.Writer)
	r.buffers = make(map[string]*bufio.Writer)
	r.files = make(map[string]*os.File)

	return nil
}

// getWriter returns the CSV writer for a daily partition, creating the
// directory, file and header on first use.
func (r *CSVRecorder) getWriter(day string) (*csv.Writer, error) {
	if writer, ok := r.writers[day]; ok {
		return writer, nil
	}

	if err := os.MkdirAll(r.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory %s: %w", r.baseDir, err)
	}

	filePath := filepath.Join(r.baseDir, day+".csv")

	fileExists := false
	if _, err := os.Stat(filePath); err == nil {
		fileExists = true
	}

	file, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open file %s: %w", filePath, err)
	}

	buffer := bufio.NewWriter(file)
	writer := csv.NewWriter(buffer)

	if !fileExists {
		header := []string{"datasource_id", "timestamp", "value"}
		if err := writer.Write(header); err != nil {
			file.Close()
			return nil, fmt.Errorf("write header: %w", err)
		}
	}

	r.files[day] = file
	r.buffers[day] = buffer
	r.writers[day] = writer

	r.logger.Debug().Str("file", filePath).Msg("Opened CSV partition")
	return writer, nil
}
