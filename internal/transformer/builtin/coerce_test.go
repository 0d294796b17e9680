package builtin

import (
	"math"
	"testing"
	"time"

	"dwhsync/internal/record"
	"dwhsync/internal/transformer"
)

func TestToTime_Layouts(t *testing.T) {
	t.Parallel()

	day := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	full := time.Date(2024, 5, 1, 12, 34, 56, 0, time.UTC)
	frac := time.Date(2024, 5, 1, 12, 34, 56, 123456000, time.UTC)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2024-05-01", day},
		{"2024-05-01T12:34:56", full},
		{"2024-05-01T12:34:56.123456", frac},
		{"2024-05-01 12:34:56", full},
		{"2024-05-01T12:34:56Z", full},
		{"2024-05-01T14:34:56+02:00", full},
		{"2024-05-01 12:34:56+00:00", full},
		{"2024/05/01", day},
		{"05/01/2024", day},
		{"01.05.2024", day},
		{"20240501", day},
		{"Wed, 01 May 2024 12:34:56 GMT", full},
		{"May 1, 2024", day},
		{"  2024-05-01  ", day},
	}
	for _, tc := range tests {
		got := ToTime(record.Text(tc.in))
		ts, ok := got.AsTime()
		if !ok {
			t.Errorf("ToTime(%q) = %v, want timestamp", tc.in, got)
			continue
		}
		if !ts.Equal(tc.want) || ts.Location() != time.UTC {
			t.Errorf("ToTime(%q) = %v, want %v (UTC)", tc.in, ts, tc.want)
		}
	}
}

func TestToTime_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range []record.Value{
		record.Text("not a date"),
		record.Text("2024-13-45"),
		record.Text(""),
		record.Int(1714560000),
		record.Float(1.5),
		record.Absent(),
	} {
		if got := ToTime(in); !got.IsAbsent() {
			t.Errorf("ToTime(%v) = %v, want absent", in, got)
		}
	}
}

func TestToInt(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   record.Value
		want record.Value
	}{
		{record.Text("25544"), record.Int(25544)},
		{record.Text(" -7 "), record.Int(-7)},
		{record.Text("+3"), record.Int(3)},
		{record.Int(9), record.Int(9)},
		{record.Float(3.9), record.Int(3)},
		{record.Float(-3.9), record.Int(-3)},
		{record.Text("3.0"), record.Absent()},
		{record.Text("abc"), record.Absent()},
		{record.Text("99999999999999999999"), record.Absent()},
		{record.Float(math.Inf(1)), record.Absent()},
		{record.Float(1e300), record.Absent()},
		{record.Time(time.Now()), record.Absent()},
		{record.Absent(), record.Absent()},
	}
	for _, tc := range tests {
		if got := ToInt(tc.in); !got.Equal(tc.want) {
			t.Errorf("ToInt(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestToFloat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   record.Value
		want record.Value
	}{
		{record.Text("0.0001234"), record.Float(0.0001234)},
		{record.Text(" 1e-5 "), record.Float(1e-5)},
		{record.Text("15.5"), record.Float(15.5)},
		{record.Int(2), record.Float(2)},
		{record.Float(2.5), record.Float(2.5)},
		{record.Text("N/A"), record.Absent()},
		{record.Text("nan"), record.Absent()},
		{record.Text("inf"), record.Absent()},
		{record.Float(math.NaN()), record.Absent()},
		{record.Time(time.Now()), record.Absent()},
		{record.Absent(), record.Absent()},
	}
	for _, tc := range tests {
		if got := ToFloat(tc.in); !got.Equal(tc.want) {
			t.Errorf("ToFloat(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

/*
TestCoerceValue_NeverPanics drives every type over a grid of awkward inputs
and checks the result is either absent or of the declared variant.
*/
func TestCoerceValue_NeverPanics(t *testing.T) {
	t.Parallel()

	inputs := []record.Value{
		record.Absent(), record.Text(""), record.Text("?"), record.Text("1"),
		record.Text("1.5"), record.Text("2024-01-01"), record.Text("\x00\xff"),
		record.Int(math.MinInt64), record.Int(math.MaxInt64),
		record.Float(math.NaN()), record.Float(math.Inf(-1)), record.Float(-0.0),
		record.Time(time.Time{}),
	}
	want := map[record.Type]record.Kind{
		record.TypeTimestamp: record.KindTime,
		record.TypeInteger:   record.KindInt,
		record.TypeFloat:     record.KindFloat,
	}
	for typ, kind := range want {
		for _, in := range inputs {
			got := CoerceValue(in, typ)
			if !got.IsAbsent() && got.Kind() != kind {
				t.Errorf("CoerceValue(%v, %s) = %v (%s), want %s or absent", in, typ, got, got.Kind(), kind)
			}
		}
	}
}

/*
TestCoerceApply_MapDriven verifies that only mapped columns are converted,
unmapped columns are left exactly as received, unknown mapped columns are
ignored, and failures are counted without aborting the batch.
*/
func TestCoerceApply_MapDriven(t *testing.T) {
	t.Parallel()

	in := record.NewSet("NORAD_CAT_ID", "EPOCH", "BSTAR", "OBJECT_NAME")
	_ = in.Append(record.Text("25544"), record.Text("2024-05-01T12:00:00"), record.Text("0.00012"), record.Text("42"))
	_ = in.Append(record.Text("x"), record.Text("bad"), record.Text("N/A"), record.Text("ISS"))
	_ = in.Append(record.Absent(), record.Absent(), record.Absent(), record.Absent())

	c := Coerce{Types: map[string]record.Type{
		"NORAD_CAT_ID": record.TypeInteger,
		"EPOCH":        record.TypeTimestamp,
		"BSTAR":        record.TypeFloat,
		"NOT_PRESENT":  record.TypeInteger,
	}}
	var st transformer.Stats
	out := c.Apply(in, &st)

	if got := out.Get(0, "NORAD_CAT_ID"); !got.Equal(record.Int(25544)) {
		t.Errorf("NORAD_CAT_ID = %v", got)
	}
	if got := out.Get(0, "EPOCH"); got.Kind() != record.KindTime {
		t.Errorf("EPOCH = %v", got)
	}
	if got := out.Get(0, "BSTAR"); !got.Equal(record.Float(0.00012)) {
		t.Errorf("BSTAR = %v", got)
	}
	if got := out.Get(0, "OBJECT_NAME"); !got.Equal(record.Text("42")) {
		t.Errorf("unmapped column changed: %v", got)
	}
	for _, col := range []string{"NORAD_CAT_ID", "EPOCH", "BSTAR"} {
		if got := out.Get(1, col); !got.IsAbsent() {
			t.Errorf("row 1 %s = %v, want absent", col, got)
		}
	}
	if st.CoercionFailures != 3 {
		t.Fatalf("CoercionFailures = %d, want 3 (absent inputs are not failures)", st.CoercionFailures)
	}
	if out.HasColumn("NOT_PRESENT") {
		t.Fatalf("Coerce must not add columns")
	}
}
