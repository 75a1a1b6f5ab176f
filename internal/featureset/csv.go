package featureset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"
)

// CSVOptions names optional columns recognized by ReadCSV beyond the feature
// schema.
type CSVOptions struct {
	// TargetColumn, when set, is parsed into Dataset.Labels (values 0/1).
	TargetColumn string
	// TimeColumn, when set, is parsed into Dataset.Times (RFC 3339 or
	// YYYY-MM-DD).
	TimeColumn string
}

// Dataset is the in-memory form of a decoded CSV source.
type Dataset struct {
	Schema Schema
	Rows   []Row
	Labels []int       // nil unless CSVOptions.TargetColumn was given
	Times  []time.Time // nil unless CSVOptions.TimeColumn was given
}

// ReadCSV decodes a header-mapped CSV stream into rows aligned with the
// schema. Every schema column must appear in the header; extra columns are
// ignored. Empty cells and "NA" decode to NaN.
func ReadCSV(r io.Reader, schema Schema, opts CSVOptions) (*Dataset, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}

	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	colIdx := make(map[string]int, len(header))
	for i, name := range header {
		colIdx[strings.TrimSpace(name)] = i
	}

	fieldCols := make([]int, len(schema))
	for i, f := range schema {
		idx, ok := colIdx[f.Name]
		if !ok {
			return nil, fmt.Errorf("csv header missing feature column %q", f.Name)
		}
		fieldCols[i] = idx
	}

	targetCol := -1
	if opts.TargetColumn != "" {
		idx, ok := colIdx[opts.TargetColumn]
		if !ok {
			return nil, fmt.Errorf("csv header missing target column %q", opts.TargetColumn)
		}
		targetCol = idx
	}
	timeCol := -1
	if opts.TimeColumn != "" {
		idx, ok := colIdx[opts.TimeColumn]
		if !ok {
			return nil, fmt.Errorf("csv header missing time column %q", opts.TimeColumn)
		}
		timeCol = idx
	}

	ds := &Dataset{Schema: schema}
	if targetCol >= 0 {
		ds.Labels = []int{}
	}
	if timeCol >= 0 {
		ds.Times = []time.Time{}
	}

	line := 1
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read csv record: %w", err)
		}
		line++

		row := make(Row, len(schema))
		for i, col := range fieldCols {
			if col >= len(record) {
				row[i] = math.NaN()
				continue
			}
			v, err := ParseValue(record[col])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %q: %w", line, schema[i].Name, err)
			}
			row[i] = v
		}
		ds.Rows = append(ds.Rows, row)

		if targetCol >= 0 {
			if targetCol >= len(record) {
				return nil, fmt.Errorf("line %d: missing target value", line)
			}
			label, err := strconv.Atoi(strings.TrimSpace(record[targetCol]))
			if err != nil || (label != 0 && label != 1) {
				return nil, fmt.Errorf("line %d: target must be 0 or 1, got %q", line, record[targetCol])
			}
			ds.Labels = append(ds.Labels, label)
		}
		if timeCol >= 0 {
			if timeCol >= len(record) {
				return nil, fmt.Errorf("line %d: missing time value", line)
			}
			ts, err := parseTime(record[timeCol])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			ds.Times = append(ds.Times, ts)
		}
	}

	return ds, nil
}

// WriteCSV encodes rows as CSV with the schema names as the header. Cell
// formatting matches FormatValue, so output is byte-stable for a given input.
func WriteCSV(w io.Writer, schema Schema, rows []Row) error {
	cw := csv.NewWriter(w)

	if err := cw.Write(schema.Names()); err != nil {
		return fmt.Errorf("failed to write csv header: %w", err)
	}

	record := make([]string, len(schema))
	for _, row := range rows {
		for i := range schema {
			v := math.NaN()
			if i < len(row) {
				v = row[i]
			}
			record[i] = FormatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write csv record: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// FormatValue renders a cell value in the canonical form used for digests:
// shortest round-trip float formatting, empty string for NaN.
func FormatValue(v float64) string {
	if math.IsNaN(v) {
		return ""
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ParseValue decodes a cell. Empty and "NA" are missing values.
func ParseValue(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "na") {
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid numeric value %q", s)
	}
	return v, nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
}
