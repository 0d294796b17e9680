package builtin

import (
	"strings"
	"unicode"

	"dwhsync/internal/record"
	"dwhsync/internal/transformer"
)

// CollapseSpace trims s and replaces every internal run of white space
// (including NBSP and its Latin-1 mojibake) with a single ASCII space.
// CollapseSpace(CollapseSpace(s)) == CollapseSpace(s).
func CollapseSpace(s string) string {
	if strings.Contains(s, mojibakeNBSP) {
		s = strings.ReplaceAll(s, mojibakeNBSP, " ")
	}
	if isCollapsed(s) {
		return s
	}
	return strings.Join(strings.Fields(s), " ")
}

// isCollapsed reports whether s already has no edge space and only single
// ASCII spaces inside.
func isCollapsed(s string) bool {
	prevSpace := true // treats a leading space as a run
	for _, r := range s {
		if unicode.IsSpace(r) {
			if prevSpace || r != ' ' {
				return false
			}
			prevSpace = true
			continue
		}
		prevSpace = false
	}
	return s == "" || !prevSpace
}

// Whitespace normalizes text cells with CollapseSpace. Other variants pass
// through unchanged.
type Whitespace struct{}

// Apply normalizes in place.
func (Whitespace) Apply(in *record.Set, st *transformer.Stats) *record.Set {
	for _, row := range in.Rows {
		for c, v := range row {
			s, ok := v.AsText()
			if !ok {
				continue
			}
			if n := CollapseSpace(s); n != s {
				row[c] = record.Text(n)
				st.WhitespaceNormalized++
			}
		}
	}
	return in
}
