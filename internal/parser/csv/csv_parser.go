// Package csv decodes a CSV feed (header row first) into a record.Set.
// Space-Track serves the same classes as CSV when the query ends in
// /format/csv.
package csv

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"dwhsync/internal/record"
)

// utf8BOM is stripped from the first header cell if present.
const utf8BOM = "\uFEFF"

// Options configures DecodeSet. The zero value reads comma-separated input
// and requires every row to have as many fields as the header.
type Options struct {
	// Comma is the field delimiter; zero means ','.
	Comma rune
	// Lenient accepts short and long rows: short rows are padded with absent
	// cells, extra fields are dropped. It also enables LazyQuotes.
	Lenient bool
}

// DecodeSet reads r with default Options.
func DecodeSet(r io.Reader) (*record.Set, error) {
	return Decode(r, Options{})
}

// Decode reads the header and every row of r. Every cell is text, including
// empty ones; missing-value handling is left to the cleaning chain. An empty
// input yields an empty set.
func Decode(r io.Reader, opt Options) (*record.Set, error) {
	cr := csv.NewReader(r)
	if opt.Comma != 0 {
		cr.Comma = opt.Comma
	}
	cr.ReuseRecord = true
	if opt.Lenient {
		cr.LazyQuotes = true
		cr.FieldsPerRecord = -1
	}

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return record.NewSet(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("csv: header: %w", err)
	}
	cols := StripHeaderBOM(append([]string(nil), header...))
	seen := make(map[string]bool, len(cols))
	for i, c := range cols {
		c = strings.TrimSpace(c)
		if c == "" {
			return nil, fmt.Errorf("csv: header column %d is empty", i+1)
		}
		if seen[c] {
			return nil, fmt.Errorf("csv: duplicate header column %q", c)
		}
		seen[c] = true
		cols[i] = c
	}

	set := record.NewSet(cols...)
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return set, nil
		}
		if err != nil {
			return nil, fmt.Errorf("csv: %w", err)
		}
		vals := make([]record.Value, len(cols))
		for i := range vals {
			if i < len(rec) {
				vals[i] = record.Text(rec[i])
			}
		}
		if err := set.Append(vals...); err != nil {
			return nil, fmt.Errorf("csv: line %d: %w", line, err)
		}
	}
}

// StripHeaderBOM removes a UTF-8 BOM from the first header cell if present.
func StripHeaderBOM(headers []string) []string {
	if len(headers) > 0 {
		headers[0] = strings.TrimPrefix(headers[0], utf8BOM)
	}
	return headers
}
