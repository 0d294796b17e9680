// Package record defines the in-memory tabular model shared by the cleaning
// pipeline and the storage backends.
//
// A cell is a Value: a closed variant over {absent, text, integer, float,
// timestamp}. Raw driver or JSON values enter through FromAny and leave
// through Value.Any, so the rest of the program never switches on `any`.
package record

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// Kind enumerates the variants a Value can hold.
type Kind uint8

const (
	KindAbsent Kind = iota
	KindText
	KindInt
	KindFloat
	KindTime
)

// String returns a short lowercase name for k.
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindText:
		return "text"
	case KindInt:
		return "integer"
	case KindFloat:
		return "float"
	case KindTime:
		return "timestamp"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// Value is a single cell. The zero Value is absent.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	t    time.Time
}

// Absent returns the canonical "no data" marker.
func Absent() Value { return Value{} }

// Text returns a text cell.
func Text(s string) Value { return Value{kind: KindText, s: s} }

// Int returns an integer cell.
func Int(i int64) Value { return Value{kind: KindInt, i: i} }

// Float returns a float cell. NaN is kept as-is; the missing-value
// normalizer is responsible for turning it into Absent.
func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

// Time returns a timestamp cell.
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// Kind reports the variant held by v.
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is the absent marker.
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// AsText returns the text payload and true when v is a text cell.
func (v Value) AsText() (string, bool) { return v.s, v.kind == KindText }

// AsInt returns the integer payload and true when v is an integer cell.
func (v Value) AsInt() (int64, bool) { return v.i, v.kind == KindInt }

// AsFloat returns the float payload and true when v is a float cell.
func (v Value) AsFloat() (float64, bool) { return v.f, v.kind == KindFloat }

// AsTime returns the timestamp payload and true when v is a timestamp cell.
func (v Value) AsTime() (time.Time, bool) { return v.t, v.kind == KindTime }

// Any converts v into a value database drivers accept: nil, string, int64,
// float64 or time.Time.
func (v Value) Any() any {
	switch v.kind {
	case KindText:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindTime:
		return v.t
	default:
		return nil
	}
}

// Equal reports whether v and o hold the same variant and payload. Two
// absent values are equal. NaN floats compare equal to each other so that
// Equal stays reflexive.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindAbsent:
		return true
	case KindText:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		if math.IsNaN(v.f) && math.IsNaN(o.f) {
			return true
		}
		return v.f == o.f
	case KindTime:
		return v.t.Equal(o.t)
	}
	return false
}

// Format renders v as plain text suitable for a text column or a SQL cast:
// integers in base 10, floats in shortest form, timestamps as RFC 3339 in
// UTC. It returns false for an absent value.
func (v Value) Format() (string, bool) {
	switch v.kind {
	case KindText:
		return v.s, true
	case KindInt:
		return strconv.FormatInt(v.i, 10), true
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64), true
	case KindTime:
		return v.t.UTC().Format(time.RFC3339Nano), true
	default:
		return "", false
	}
}

// String renders v for logs and test failures.
func (v Value) String() string {
	switch v.kind {
	case KindText:
		return strconv.Quote(v.s)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindTime:
		return v.t.Format(time.RFC3339Nano)
	default:
		return "<absent>"
	}
}

// FromAny converts a loosely-typed value (as produced by database/sql scans,
// pgx rows or encoding/json) into a Value. It never fails: types without a
// natural mapping are rendered as text with fmt.
//
//	nil, sql NULL         -> Absent
//	string, []byte        -> Text
//	json.Number           -> Text (numeric-looking text, typed later by Coerce)
//	signed/unsigned ints  -> Int (uint64 beyond int64 range -> Float)
//	float32/float64       -> Float
//	bool                  -> Text("true"/"false")
//	time.Time             -> Time
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Absent()
	case Value:
		return t
	case string:
		return Text(t)
	case []byte:
		if t == nil {
			return Absent()
		}
		return Text(string(t))
	case json.Number:
		return Text(t.String())
	case int:
		return Int(int64(t))
	case int8:
		return Int(int64(t))
	case int16:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return fromUint(uint64(t))
	case uint8:
		return Int(int64(t))
	case uint16:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return fromUint(t)
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case bool:
		return Text(strconv.FormatBool(t))
	case time.Time:
		return Time(t)
	case *string:
		if t == nil {
			return Absent()
		}
		return Text(*t)
	default:
		return Text(fmt.Sprint(t))
	}
}

func fromUint(u uint64) Value {
	if u > math.MaxInt64 {
		return Float(float64(u))
	}
	return Int(int64(u))
}
