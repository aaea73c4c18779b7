package datalist

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/guregu/null/v6"
)

// Tidy column names.
const (
	ColDatasourceID   = "datasource_id"
	ColTimestampUTC   = "timestamp_utc"
	ColTimestampLocal = "timestamp_local"
	ColValue          = "value"
)

// TimestampColumn returns the timestamp column name for a timezone mode.
func TimestampColumn(tzLocal bool) string {
	if tzLocal {
		return ColTimestampLocal
	}
	return ColTimestampUTC
}

// Row is one normalized (key, timestamp, value) observation.
type Row struct {
	// DatasourceID is the source-key field value, numeric or string.
	DatasourceID any

	// Timestamp is the parsed observation instant, UTC-normalized.
	// Invalid when the vendor value could not be parsed; such rows are
	// kept, not dropped.
	Timestamp null.Time

	// Value is the measurement. Invalid when unparseable.
	Value null.Float
}

// Table is an ordered sequence of normalized rows. Row order follows
// batch completion order; rows within one batch keep their payload order.
type Table struct {
	// TimestampColumn is timestamp_utc or timestamp_local. The name
	// follows the requested timezone mode, but the row values are
	// always UTC-normalized instants, matching the vendor pipeline
	// this feeds (see Normalize).
	TimestampColumn string

	Rows []Row
}

// Len returns the row count.
func (t *Table) Len() int {
	return len(t.Rows)
}

// MarshalJSON renders the table as an array of tidy records using the
// table's timestamp column name.
func (t *Table) MarshalJSON() ([]byte, error) {
	records := make([]map[string]any, len(t.Rows))
	for i, row := range t.Rows {
		records[i] = map[string]any{
			ColDatasourceID:   row.DatasourceID,
			t.TimestampColumn: row.Timestamp,
			ColValue:          row.Value,
		}
	}
	return json.Marshal(records)
}

// Normalize converts per-batch outcomes into one tidy table. Failed and
// empty outcomes contribute zero rows. Concatenation follows the outcome
// sequence order and never reorders rows within a batch's payload.
//
// The timestamp value is parsed as a UTC-normalized instant in both
// timezone modes; tzLocal changes only the column name. That asymmetry
// is deliberate, downstream consumers depend on it.
func Normalize(outcomes []FetchOutcome, tzLocal bool, fields FieldMapping) *Table {
	table := &Table{TimestampColumn: TimestampColumn(tzLocal)}

	for _, outcome := range outcomes {
		if outcome.Failed() || len(outcome.Records) == 0 {
			continue
		}
		for _, record := range outcome.Records {
			table.Rows = append(table.Rows, normalizeRecord(record, fields))
		}
	}
	return table
}

func normalizeRecord(record RawRecord, fields FieldMapping) Row {
	return Row{
		DatasourceID: record[fields.SourceKey],
		Timestamp:    parseInstant(record[fields.Timestamp]),
		Value:        parseValue(record[fields.Value]),
	}
}

// instantLayouts are tried in order. Horizon reports instants either
// with an explicit offset or as naive timestamps, which are taken as UTC.
var instantLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// parseInstant parses a vendor instant into a UTC-normalized time.
// Unparseable values become an invalid (null) marker, not an error.
func parseInstant(v any) null.Time {
	s, ok := v.(string)
	if !ok || s == "" {
		return null.Time{}
	}

	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return null.TimeFrom(t.UTC())
		}
	}
	return null.Time{}
}

// parseValue parses a vendor measurement into a float. Unparseable
// values become an invalid (null) marker, not an error.
func parseValue(v any) null.Float {
	switch value := v.(type) {
	case json.Number:
		if f, err := value.Float64(); err == nil {
			return null.FloatFrom(f)
		}
	case float64:
		return null.FloatFrom(value)
	case int:
		return null.FloatFrom(float64(value))
	case string:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return null.FloatFrom(f)
		}
	}
	return null.Float{}
}
