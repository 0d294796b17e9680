package storage

import (
	"database/sql"
	"fmt"

	"dwhsync/internal/record"
)

// ScanRows drains rows into a record.Set, converting driver values with
// record.FromAny. It does not close rows.
func ScanRows(rows *sql.Rows) (*record.Set, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("scan: columns: %w", err)
	}
	set := record.NewSet(cols...)
	raw := make([]any, len(cols))
	dest := make([]any, len(cols))
	for i := range raw {
		dest[i] = &raw[i]
	}
	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan: row %d: %w", set.Len(), err)
		}
		vals := make([]record.Value, len(raw))
		for i, v := range raw {
			vals[i] = record.FromAny(v)
		}
		if err := set.Append(vals...); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("scan: %w", err)
	}
	return set, nil
}
