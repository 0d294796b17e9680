package record

import (
	"fmt"
	"strings"
)

// NullKeyPolicy decides how absent business-key cells compare, both when
// de-duplicating a batch and when matching staged rows to target rows.
type NullKeyPolicy string

const (
	// NullKeysMatch treats absent key cells as equal to each other. Two rows
	// absent in every key column are the same logical record.
	NullKeysMatch NullKeyPolicy = "match"
	// NullKeysDistinct treats a row with any absent key cell as unique: it is
	// never collapsed and never matches an existing target row.
	NullKeysDistinct NullKeyPolicy = "distinct"
)

// ParseNullKeyPolicy accepts "match", "distinct" or "" (match).
func ParseNullKeyPolicy(s string) (NullKeyPolicy, error) {
	switch NullKeyPolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", NullKeysMatch:
		return NullKeysMatch, nil
	case NullKeysDistinct:
		return NullKeysDistinct, nil
	default:
		return "", fmt.Errorf("record: unknown null key policy %q", s)
	}
}
