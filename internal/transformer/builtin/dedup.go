package builtin

import (
	"encoding/binary"
	"math"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"

	"dwhsync/internal/record"
	"dwhsync/internal/transformer"
)

// Dedup policies.
const (
	KeepFirst    = "keep-first"
	KeepLast     = "keep-last"
	MostComplete = "most-complete"
)

// DeDup collapses rows that share a business-key tuple and chooses a winner
// according to a policy:
//
//   - "keep-first"   : keep the earliest occurrence in the batch (default)
//   - "keep-last"    : keep the latest occurrence in the batch
//   - "most-complete": keep the row with the most non-absent cells;
//     ties break by keep-first
//
// Rows are hashed on the key tuple with xxh3 and bucketed; candidates in a
// bucket are confirmed with Value.Equal, so hash collisions never merge
// distinct keys. Run it after Missing and Coerce so equal keys have equal
// representations.
//
// Absent key cells follow NullKeys: under record.NullKeysMatch they compare
// equal like any other value; under record.NullKeysDistinct a row with any
// absent key cell is never collapsed.
type DeDup struct {
	// Keys are the business-key columns, e.g. ["NORAD_CAT_ID"].
	Keys []string

	// Policy is one of KeepFirst, KeepLast, MostComplete; empty means KeepFirst.
	Policy string

	// NullKeys selects how absent key cells compare.
	NullKeys record.NullKeyPolicy
}

type winner struct {
	index int // position in the input
	score int // non-absent cells, for most-complete
}

// Apply returns a new set holding one row per key tuple, in input order of
// the winning rows. When a key column is missing from the set, the input is
// returned unchanged; the merge step reports that as a schema mismatch.
func (d DeDup) Apply(in *record.Set, st *transformer.Stats) *record.Set {
	if in.Len() == 0 || len(d.Keys) == 0 {
		return in
	}
	keyIdx := make([]int, len(d.Keys))
	for i, k := range d.Keys {
		idx, ok := in.ColumnIndex(k)
		if !ok {
			return in
		}
		keyIdx[i] = idx
	}

	policy := strings.ToLower(strings.TrimSpace(d.Policy))
	if policy == "" {
		policy = KeepFirst
	}

	var (
		buckets = make(map[uint64][]int, in.Len()) // hash -> indexes into slots
		slots   = make([]winner, 0, in.Len())
		buf     []byte
	)

	sameKey := func(a, b record.Row) bool {
		for _, idx := range keyIdx {
			if !a[idx].Equal(b[idx]) {
				return false
			}
		}
		return true
	}

	for i, row := range in.Rows {
		if d.NullKeys == record.NullKeysDistinct && hasAbsentKey(row, keyIdx) {
			slots = append(slots, winner{index: i})
			continue
		}
		buf = appendKey(buf[:0], row, keyIdx)
		h := xxh3.Hash(buf)

		found := -1
		for _, s := range buckets[h] {
			if sameKey(in.Rows[slots[s].index], row) {
				found = s
				break
			}
		}
		if found < 0 {
			buckets[h] = append(buckets[h], len(slots))
			slots = append(slots, winner{index: i, score: completeness(row)})
			continue
		}

		st.Duplicates++
		switch policy {
		case KeepLast:
			slots[found] = winner{index: i}
		case MostComplete:
			if sc := completeness(row); sc > slots[found].score {
				slots[found] = winner{index: i, score: sc}
			}
		default: // keep-first
		}
	}

	sort.Slice(slots, func(a, b int) bool { return slots[a].index < slots[b].index })

	out := record.NewSet(in.Columns...)
	out.Rows = make([]record.Row, 0, len(slots))
	for _, s := range slots {
		out.Rows = append(out.Rows, in.Rows[s.index])
	}
	return out
}

func hasAbsentKey(row record.Row, keyIdx []int) bool {
	for _, idx := range keyIdx {
		if row[idx].IsAbsent() {
			return true
		}
	}
	return false
}

func completeness(row record.Row) int {
	n := 0
	for _, v := range row {
		if !v.IsAbsent() {
			n++
		}
	}
	return n
}

// appendKey encodes the key tuple as kind-tagged, length-prefixed fields so
// that ("ab","c") and ("a","bc") never share an encoding.
func appendKey(buf []byte, row record.Row, keyIdx []int) []byte {
	for _, idx := range keyIdx {
		v := row[idx]
		buf = append(buf, byte(v.Kind()))
		switch v.Kind() {
		case record.KindText:
			s, _ := v.AsText()
			buf = binary.AppendUvarint(buf, uint64(len(s)))
			buf = append(buf, s...)
		case record.KindInt:
			i, _ := v.AsInt()
			buf = binary.LittleEndian.AppendUint64(buf, uint64(i))
		case record.KindFloat:
			f, _ := v.AsFloat()
			switch {
			case math.IsNaN(f):
				f = math.NaN()
			case f == 0:
				f = 0 // folds -0
			}
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(f))
		case record.KindTime:
			t, _ := v.AsTime()
			buf = binary.LittleEndian.AppendUint64(buf, uint64(t.Unix()))
			buf = binary.LittleEndian.AppendUint32(buf, uint32(t.Nanosecond()))
		}
	}
	return buf
}
