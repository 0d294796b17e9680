package storage

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"dwhsync/internal/record"
	"dwhsync/internal/storage/ident"
)

// MergeSpec is one upsert request: write Batch into Target, matching rows on
// the Key tuple.
type MergeSpec struct {
	Target   string
	Key      []string
	Batch    *record.Set
	NullKeys record.NullKeyPolicy
}

// MergeResult reports what a merge did. Staged is the batch size; Updated and
// Inserted partition it (Updated counts matched rows, whether or not their
// values changed).
type MergeResult struct {
	Staged   int64
	Updated  int64
	Inserted int64
}

// MergePlan is a validated MergeSpec with the column roles worked out.
type MergePlan struct {
	Target   string
	Columns  []string // batch columns, in batch order
	Key      []string
	Update   []string // non-key columns; empty when every column is a key
	NullKeys record.NullKeyPolicy

	batch *record.Set
}

// PlanMerge checks what can be checked without the store. It returns a
// *SchemaError when a key column is not among the batch columns.
func PlanMerge(spec MergeSpec) (MergePlan, error) {
	if strings.TrimSpace(spec.Target) == "" {
		return MergePlan{}, fmt.Errorf("merge: target table must not be empty")
	}
	if len(spec.Key) == 0 {
		return MergePlan{}, fmt.Errorf("merge %s: business key must not be empty", spec.Target)
	}
	if spec.Batch == nil {
		return MergePlan{}, fmt.Errorf("merge %s: nil batch", spec.Target)
	}

	seen := make(map[string]struct{}, len(spec.Batch.Columns))
	for _, c := range spec.Batch.Columns {
		k := strings.ToLower(c)
		if _, dup := seen[k]; dup {
			return MergePlan{}, &SchemaError{Table: spec.Target, Columns: []string{c}, Reason: "duplicate batch column"}
		}
		seen[k] = struct{}{}
	}

	isKey := make(map[string]struct{}, len(spec.Key))
	var missing []string
	for _, k := range spec.Key {
		if !spec.Batch.HasColumn(k) {
			missing = append(missing, k)
		}
		isKey[k] = struct{}{}
	}
	if len(missing) > 0 {
		return MergePlan{}, &SchemaError{Table: spec.Target, Columns: missing, Reason: "key columns not in batch"}
	}

	update := make([]string, 0, len(spec.Batch.Columns))
	for _, c := range spec.Batch.Columns {
		if _, ok := isKey[c]; !ok {
			update = append(update, c)
		}
	}

	np := spec.NullKeys
	if np == "" {
		np = record.NullKeysMatch
	}
	return MergePlan{
		Target:   spec.Target,
		Columns:  append([]string(nil), spec.Batch.Columns...),
		Key:      append([]string(nil), spec.Key...),
		Update:   update,
		NullKeys: np,
		batch:    spec.Batch,
	}, nil
}

// Empty reports whether there is nothing to merge.
func (p MergePlan) Empty() bool { return p.batch == nil || p.batch.Len() == 0 }

// Rows returns the batch as driver values aligned to p.Columns. Absent cells
// become nil.
func (p MergePlan) Rows() [][]any {
	if p.batch == nil {
		return nil
	}
	return p.batch.Values()
}

// CheckTarget compares the batch columns with the live target columns.
// foldCase selects case-insensitive matching, as on SQL Server and SQLite.
func (p MergePlan) CheckTarget(live []string, foldCase bool) error {
	norm := func(s string) string {
		if foldCase {
			return strings.ToLower(s)
		}
		return s
	}
	have := make(map[string]struct{}, len(live))
	for _, c := range live {
		have[norm(c)] = struct{}{}
	}
	var unknown []string
	for _, c := range p.Columns {
		if _, ok := have[norm(c)]; !ok {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return &SchemaError{Table: p.Target, Columns: unknown, Reason: "columns not in target table"}
	}
	return nil
}

// KeyPredicate renders the match condition between target alias t and
// staging alias s. Under record.NullKeysMatch absent keys match each other
// using the dialect's null-safe comparison; under NullKeysDistinct plain
// equality is used, so a NULL key never matches.
func (p MergePlan) KeyPredicate(q *ident.Quoter, t, s string) string {
	parts := make([]string, len(p.Key))
	for i, k := range p.Key {
		l, r := t+"."+q.Ident(k), s+"."+q.Ident(k)
		switch {
		case p.NullKeys == record.NullKeysDistinct:
			parts[i] = l + " = " + r
		case q.Dialect() == ident.Postgres:
			parts[i] = l + " IS NOT DISTINCT FROM " + r
		case q.Dialect() == ident.SQLite:
			parts[i] = l + " IS " + r
		default:
			parts[i] = "(" + l + " = " + r + " OR (" + l + " IS NULL AND " + r + " IS NULL))"
		}
	}
	return strings.Join(parts, " AND ")
}

// Assignments renders "col = s.col" for every non-key column.
func (p MergePlan) Assignments(q *ident.Quoter, s string) string {
	parts := make([]string, len(p.Update))
	for i, c := range p.Update {
		parts[i] = q.Ident(c) + " = " + s + "." + q.Ident(c)
	}
	return strings.Join(parts, ", ")
}

// StagingName returns a fresh, plain identifier for a per-merge staging
// table. Backends add their own temp-table decoration.
func StagingName() string {
	return "stg_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}
