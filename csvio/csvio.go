// Package csvio reads and writes antenna records in the CSV exchange
// format: the canonical columns date_start, date_end, radio, mcc, mnc,
// lac, ci, eci, lon, lat, azimuth, optionally preceded by a header row.
// With a header, columns may appear in any order and unknown columns are
// preserved as extra attributes.
package csvio

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	celldb "github.com/celltrace/celldb"
)

// canonicalColumns is the headerless column order.
var canonicalColumns = []string{
	"date_start", "date_end", "radio", "mcc", "mnc",
	"lac", "ci", "eci", "lon", "lat", "azimuth",
}

// timeLayouts are attempted in order when parsing date columns.
var timeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Reader streams antenna rows from CSV data. It implements celldb.Source,
// so it can be handed to celldb.ImportFrom directly. A Reader consumes its
// underlying stream and is therefore good for one Rows pass.
type Reader struct {
	csv *csv.Reader
}

// NewReader wraps r. The first record decides the mode: if every cell is a
// known column name the file is header-mapped, otherwise it is read as
// headerless canonical columns.
func NewReader(r io.Reader) *Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	return &Reader{csv: cr}
}

// Rows parses the stream and passes each row to fn in file order.
// Syntactic problems (unparseable numbers or dates, wrong field count) are
// reported with the 1-based line number; semantic validation is left to
// the importer.
func (r *Reader) Rows(ctx context.Context, fn func(celldb.Row) error) error {
	first, err := r.csv.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("csv: %w", err)
	}

	columns := canonicalColumns
	line := 1
	if isHeader(first) {
		columns = append([]string(nil), first...)
	} else {
		row, err := parseRow(columns, first, line)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		rec, err := r.csv.Read()
		if err == io.EOF {
			return nil
		}
		line++
		if err != nil {
			return fmt.Errorf("csv line %d: %w", line, err)
		}
		row, err := parseRow(columns, rec, line)
		if err != nil {
			return err
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// ReadFile loads a whole CSV file into memory. For large files prefer
// NewReader with celldb.ImportFrom, which streams.
func ReadFile(path string) ([]celldb.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var rows []celldb.Row
	err = NewReader(f).Rows(context.Background(), func(row celldb.Row) error {
		rows = append(rows, row)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return rows, nil
}

func isHeader(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	known := make(map[string]struct{}, len(canonicalColumns))
	for _, c := range canonicalColumns {
		known[c] = struct{}{}
	}
	// A header needs at least the radio column; unknown names are allowed
	// and become extra attributes.
	sawRadio := false
	for _, c := range cells {
		if c == "radio" {
			sawRadio = true
		}
		if _, ok := known[c]; ok {
			continue
		}
		if _, err := strconv.ParseFloat(c, 64); err == nil {
			return false // data, not a column name
		}
	}
	return sawRadio
}

func parseRow(columns, cells []string, line int) (celldb.Row, error) {
	if len(cells) != len(columns) {
		return celldb.Row{}, fmt.Errorf("csv line %d: %d fields, want %d", line, len(cells), len(columns))
	}

	var row celldb.Row
	for i, col := range columns {
		val := cells[i]
		if val == "" {
			continue
		}
		var err error
		switch col {
		case "date_start":
			row.DateStart, err = parseTime(val)
		case "date_end":
			row.DateEnd, err = parseTime(val)
		case "radio":
			row.Radio = val
		case "mcc":
			row.MCC, err = strconv.Atoi(val)
		case "mnc":
			row.MNC, err = strconv.Atoi(val)
		case "lac":
			row.LAC, err = atoip(val)
		case "ci":
			row.CI, err = atoip(val)
		case "eci":
			row.ECI, err = atoip(val)
		case "lon":
			row.Lon, err = strconv.ParseFloat(val, 64)
		case "lat":
			row.Lat, err = strconv.ParseFloat(val, 64)
		case "azimuth":
			var deg float64
			deg, err = strconv.ParseFloat(val, 64)
			if err == nil {
				row.Azimuth = &deg
			}
		default:
			if row.Extra == nil {
				row.Extra = make(map[string]string)
			}
			row.Extra[col] = val
		}
		if err != nil {
			return celldb.Row{}, fmt.Errorf("csv line %d, column %s: %w", line, col, err)
		}
	}
	return row, nil
}

func atoip(s string) (*int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

// Write exports the database's records as header-prefixed CSV in iteration
// order. Extra attributes are not written; the canonical columns are the
// exchange format.
func Write(w io.Writer, db *celldb.Database) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(canonicalColumns); err != nil {
		return fmt.Errorf("csv: %w", err)
	}

	cells := make([]string, len(canonicalColumns))
	for rec := range db.Records() {
		for i := range cells {
			cells[i] = ""
		}
		if !rec.Interval.Start.IsZero() {
			cells[0] = rec.Interval.Start.UTC().Format(time.RFC3339)
		}
		if !rec.Interval.End.IsZero() {
			cells[1] = rec.Interval.End.UTC().Format(time.RFC3339)
		}
		cells[2] = rec.Identity.Radio().String()
		cells[3] = strconv.Itoa(rec.Identity.MCC())
		cells[4] = strconv.Itoa(rec.Identity.MNC())
		if lac, ci, ok := rec.Identity.CGI(); ok {
			cells[5] = strconv.Itoa(lac)
			cells[6] = strconv.Itoa(ci)
		}
		if eci, ok := rec.Identity.ECI(); ok {
			cells[7] = strconv.Itoa(eci)
		}
		cells[8] = strconv.FormatFloat(rec.Position.Lon, 'f', -1, 64)
		cells[9] = strconv.FormatFloat(rec.Position.Lat, 'f', -1, 64)
		if rec.Azimuth != nil {
			cells[10] = strconv.FormatFloat(rec.Azimuth.Degrees(), 'f', -1, 64)
		}
		if err := cw.Write(cells); err != nil {
			return fmt.Errorf("csv: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
