package builtin

import (
	"math"
	"strconv"
	"strings"
	"time"

	"dwhsync/internal/record"
	"dwhsync/internal/transformer"
)

// timeLayouts are tried in order by ToTime. Go accepts a fractional second
// after the seconds field even when the layout omits it, so the layouts
// below also cover ".123456" style epochs.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05Z0700",
	"2006-01-02 15:04:05 -0700 MST",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"2006/01/02",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"01/02/2006",
	"02.01.2006 15:04:05",
	"02.01.2006",
	"20060102T150405",
	"20060102",
	time.RFC1123Z,
	time.RFC1123,
	time.RFC850,
	time.RFC822Z,
	time.RFC822,
	time.ANSIC,
	time.UnixDate,
	"02 Jan 2006 15:04:05",
	"02 Jan 2006",
	"2 Jan 2006",
	"Jan 2, 2006 15:04:05",
	"Jan 2, 2006",
	"January 2, 2006",
	"2 January 2006",
	"2006-Jan-02",
}

// ToTime converts v to a UTC timestamp. Timestamps pass through (in UTC);
// text is matched against a broad list of common layouts, zone-less text
// is read as UTC. Everything else, including numbers, becomes absent.
func ToTime(v record.Value) record.Value {
	switch v.Kind() {
	case record.KindTime:
		t, _ := v.AsTime()
		return record.Time(t.UTC())
	case record.KindText:
		s, _ := v.AsText()
		s = strings.TrimSpace(s)
		if s == "" {
			return record.Absent()
		}
		for _, layout := range timeLayouts {
			if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return record.Time(t.UTC())
			}
		}
	}
	return record.Absent()
}

// ToInt converts v to a 64-bit integer. Finite floats are truncated toward
// zero; text must be a base-10 integer literal (surrounding space allowed).
func ToInt(v record.Value) record.Value {
	switch v.Kind() {
	case record.KindInt:
		return v
	case record.KindFloat:
		f, _ := v.AsFloat()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return record.Absent()
		}
		f = math.Trunc(f)
		if f < math.MinInt64 || f >= math.MaxInt64 {
			return record.Absent()
		}
		return record.Int(int64(f))
	case record.KindText:
		s, _ := v.AsText()
		i, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return record.Absent()
		}
		return record.Int(i)
	}
	return record.Absent()
}

// ToFloat converts v to a finite float64. NaN and infinities become absent.
func ToFloat(v record.Value) record.Value {
	var f float64
	switch v.Kind() {
	case record.KindFloat:
		f, _ = v.AsFloat()
	case record.KindInt:
		i, _ := v.AsInt()
		f = float64(i)
	case record.KindText:
		s, _ := v.AsText()
		var err error
		f, err = strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return record.Absent()
		}
	default:
		return record.Absent()
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return record.Absent()
	}
	return record.Float(f)
}

// CoerceValue applies the conversion for typ. Unknown types leave v as-is.
func CoerceValue(v record.Value, typ record.Type) record.Value {
	switch typ {
	case record.TypeTimestamp:
		return ToTime(v)
	case record.TypeInteger:
		return ToInt(v)
	case record.TypeFloat:
		return ToFloat(v)
	default:
		return v
	}
}

// Coerce applies a Column Type Map. Columns not in Types are untouched;
// Types entries naming columns the set does not have are ignored.
type Coerce struct {
	Types map[string]record.Type
}

// Apply converts in place and counts cells neutralized to absent.
func (c Coerce) Apply(in *record.Set, st *transformer.Stats) *record.Set {
	for col, typ := range c.Types {
		idx, ok := in.ColumnIndex(col)
		if !ok {
			continue
		}
		for _, row := range in.Rows {
			v := row[idx]
			out := CoerceValue(v, typ)
			if !v.IsAbsent() && out.IsAbsent() {
				st.CoercionFailures++
			}
			row[idx] = out
		}
	}
	return in
}
