// Package transformer defines the in-memory cleaning chain applied to a
// record set between reading staging data and merging it into a target.
//
// Concrete steps live in the builtin subpackage. A step receives the set,
// may mutate it in place or return a new one, and records what it did in
// the shared Stats. Steps never fail: bad cells are neutralized, not raised.
package transformer

import "dwhsync/internal/record"

// Stats accumulates counters across one chain run.
type Stats struct {
	// MissingNormalized counts cells replaced by the absent marker because
	// they spelled "no data" (token, nil or NaN).
	MissingNormalized int
	// WhitespaceNormalized counts text cells changed by trimming/collapsing.
	WhitespaceNormalized int
	// CoercionFailures counts non-absent cells neutralized to absent because
	// they could not be converted to their declared type.
	CoercionFailures int
	// Duplicates counts rows dropped by key-based de-duplication.
	Duplicates int
}

// Transformer is one step of the chain.
type Transformer interface {
	Apply(in *record.Set, st *Stats) *record.Set
}

// Chain is an ordered list of transformers.
type Chain []Transformer

// Apply runs every step in order and returns the final set plus counters.
func (c Chain) Apply(in *record.Set) (*record.Set, Stats) {
	var st Stats
	out := in
	for _, t := range c {
		out = t.Apply(out, &st)
	}
	return out, st
}
