// Package builtin contains the cleaning steps used by the reconcile pipeline:
// missing-value normalization, whitespace normalization, declared type
// coercion and business-key de-duplication.
package builtin

import (
	"math"
	"strings"

	"dwhsync/internal/record"
	"dwhsync/internal/transformer"
)

// DefaultMissingTokens is the vocabulary of textual "no data" spellings
// recognized case-insensitively after trimming.
var DefaultMissingTokens = []string{"", "na", "n/a", "null", "none", "?", "-", "nan"}

// mojibakeNBSP is a UTF-8 NBSP that was decoded as Latin-1 upstream.
const mojibakeNBSP = "\u00c2\u00a0"

// MissingSet is a normalized lookup of missing tokens.
type MissingSet map[string]struct{}

// NewMissingSet builds a MissingSet from tokens; with no tokens it uses
// DefaultMissingTokens.
func NewMissingSet(tokens ...string) MissingSet {
	if len(tokens) == 0 {
		tokens = DefaultMissingTokens
	}
	m := make(MissingSet, len(tokens))
	for _, t := range tokens {
		m[strings.ToLower(strings.TrimSpace(t))] = struct{}{}
	}
	return m
}

// IsMissing reports whether v means "no data": the absent marker, a NaN
// float, or text matching a token once trimmed and lowercased.
func (m MissingSet) IsMissing(v record.Value) bool {
	switch v.Kind() {
	case record.KindAbsent:
		return true
	case record.KindFloat:
		f, _ := v.AsFloat()
		return math.IsNaN(f)
	case record.KindText:
		s, _ := v.AsText()
		if strings.Contains(s, mojibakeNBSP) {
			s = strings.ReplaceAll(s, mojibakeNBSP, " ")
		}
		_, ok := m[strings.ToLower(strings.TrimSpace(s))]
		return ok
	}
	return false
}

// Normalize returns Absent for missing values and v otherwise.
func (m MissingSet) Normalize(v record.Value) record.Value {
	if m.IsMissing(v) {
		return record.Absent()
	}
	return v
}

// Missing replaces every missing spelling with the absent marker.
type Missing struct {
	// Tokens overrides DefaultMissingTokens when non-empty.
	Tokens []string
}

// Apply normalizes in place.
func (m Missing) Apply(in *record.Set, st *transformer.Stats) *record.Set {
	set := NewMissingSet(m.Tokens...)
	for _, row := range in.Rows {
		for c, v := range row {
			if v.IsAbsent() || !set.IsMissing(v) {
				continue
			}
			row[c] = record.Absent()
			st.MissingNormalized++
		}
	}
	return in
}
