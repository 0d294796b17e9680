// Package json turns an API response body into a record.Set.
//
// Accepted shapes:
//
//   - a top-level array of objects: [ {"a":1}, {"a":2,"b":"x"} ]
//   - a single object, read as one row
//   - an empty body or [] (an empty set with no columns)
//
// Columns appear in first-seen order across the whole array; a key first
// seen in a later object is appended and earlier rows read it as absent.
// Scalars become text (numbers keep their literal spelling so Coerce can
// type them later), null becomes absent, and nested objects or arrays are
// kept as compact JSON text.
package json

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"dwhsync/internal/record"
)

// DecodeSet reads r to the end and returns its rows.
func DecodeSet(r io.Reader) (*record.Set, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	set := record.NewSet()
	tok, err := dec.Token()
	if errors.Is(err, io.EOF) {
		return set, nil
	}
	if err != nil {
		return nil, fmt.Errorf("json parser: decode root: %w", err)
	}

	switch tok {
	case json.Delim('['):
		for i := 0; dec.More(); i++ {
			open, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json parser: element %d: %w", i, err)
			}
			if open != json.Delim('{') {
				return nil, fmt.Errorf("json parser: element %d in array is not an object", i)
			}
			if err := decodeObject(dec, set); err != nil {
				return nil, fmt.Errorf("json parser: element %d: %w", i, err)
			}
		}
		if _, err := dec.Token(); err != nil { // ]
			return nil, fmt.Errorf("json parser: close array: %w", err)
		}
	case json.Delim('{'):
		if err := decodeObject(dec, set); err != nil {
			return nil, fmt.Errorf("json parser: %w", err)
		}
	default:
		return nil, fmt.Errorf("json parser: unsupported top-level value %v", tok)
	}

	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("json parser: trailing data after top-level value")
	}
	return set, nil
}

// decodeObject reads the members of an object whose '{' was consumed and
// appends them to set as one row.
func decodeObject(dec *json.Decoder, set *record.Set) error {
	row := make(record.Row, len(set.Columns))
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("object key %v is not a string", keyTok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("value of %q: %w", key, err)
		}
		i := set.AddColumn(key)
		for len(row) <= i {
			row = append(row, record.Absent())
		}
		row[i] = cell(raw)
	}
	if _, err := dec.Token(); err != nil { // }
		return err
	}
	return set.Append(row...)
}

func cell(raw json.RawMessage) record.Value {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return record.Absent()
	}
	switch raw[0] {
	case 'n':
		return record.Absent()
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return record.Text(s)
		}
	case '{', '[':
		var buf bytes.Buffer
		if err := json.Compact(&buf, raw); err == nil {
			return record.Text(buf.String())
		}
	}
	// numbers, true, false
	return record.Text(string(raw))
}
