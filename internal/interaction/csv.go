package interaction

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/danielpatrickdp/decision-dialogue/internal/policy"
	"github.com/danielpatrickdp/decision-dialogue/internal/schema"
)

// #region csv-header

var fixedColumns = []string{"seq", "id", "timestamp", "source", "action"}

// Header returns the CSV column names for s.
func Header(s *schema.Schema) []string {
	return append(append([]string{}, fixedColumns...), s.Names()...)
}

// #endregion csv-header

// #region write-csv

// WriteCSV writes records as a table with one column per schema attribute.
func WriteCSV(w io.Writer, s *schema.Schema, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header(s)); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	names := s.Names()
	row := make([]string, len(fixedColumns)+len(names))
	for _, r := range records {
		row[0] = strconv.FormatUint(r.Seq, 10)
		row[1] = r.ID
		row[2] = r.Timestamp.UTC().Format(time.RFC3339Nano)
		row[3] = string(r.Source)
		row[4] = string(r.Action)
		for i, name := range names {
			v, ok := r.Context.Get(name)
			if !ok {
				return fmt.Errorf("record %s: %w: missing attribute %q", r.ID, schema.ErrSchemaMismatch, name)
			}
			row[len(fixedColumns)+i] = schema.FormatValue(v)
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write record %s: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// #endregion write-csv

// #region read-csv

// ReadCSV parses a table written by WriteCSV. Columns are matched by name,
// so their order may differ; a missing attribute column is a schema mismatch.
func ReadCSV(r io.Reader, s *schema.Schema) ([]Record, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[h] = i
	}
	for _, name := range Header(s) {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%w: csv has no column %q", schema.ErrSchemaMismatch, name)
		}
	}
	attrs := s.Attributes()

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		seq, err := strconv.ParseUint(row[col["seq"]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: seq: %w", line, err)
		}
		ts, err := time.Parse(time.RFC3339Nano, row[col["timestamp"]])
		if err != nil {
			return nil, fmt.Errorf("line %d: timestamp: %w", line, err)
		}
		values := make(map[string]any, len(attrs))
		for _, a := range attrs {
			v, err := schema.ParseValue(a, row[col[a.Name]])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", line, err)
			}
			values[a.Name] = v
		}
		out = append(out, Record{
			Seq:       seq,
			ID:        row[col["id"]],
			Context:   schema.NewContext(values),
			Action:    schema.Action(row[col["action"]]),
			Source:    policy.Kind(row[col["source"]]),
			Timestamp: ts,
		})
	}
	return out, nil
}

// #endregion read-csv
