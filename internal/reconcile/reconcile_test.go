package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"dwhsync/internal/config"
	"dwhsync/internal/storage"
	_ "dwhsync/internal/storage/sqlite"
)

// harness is an in-memory SQLite store with helpers to seed staging and
// target tables and to read results back.
type harness struct {
	t    *testing.T
	repo storage.Repository
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return &harness{t: t, repo: repo}
}

func (h *harness) exec(sql string) {
	h.t.Helper()
	if err := h.repo.Exec(context.Background(), sql); err != nil {
		h.t.Fatalf("exec %q: %v", sql, err)
	}
}

// stage creates an all-text staging table and fills it.
func (h *harness) stage(table string, cols []string, rows ...[]any) {
	h.t.Helper()
	defs := make([]string, len(cols))
	for i, c := range cols {
		defs[i] = `"` + c + `" TEXT`
	}
	h.exec("CREATE TABLE IF NOT EXISTS " + table + " (" + strings.Join(defs, ", ") + ")")
	if err := h.repo.Truncate(context.Background(), table); err != nil {
		h.t.Fatalf("truncate %s: %v", table, err)
	}
	if len(rows) == 0 {
		return
	}
	if _, err := h.repo.CopyFrom(context.Background(), table, cols, rows); err != nil {
		h.t.Fatalf("copy into %s: %v", table, err)
	}
}

func (h *harness) rows(table string) [][]any {
	h.t.Helper()
	set, err := h.repo.ReadTable(context.Background(), table)
	if err != nil {
		h.t.Fatalf("ReadTable(%s): %v", table, err)
	}
	return set.Values()
}

func idValTable() config.Table {
	return config.Table{
		Name:    "items",
		Staging: "stg_items",
		Target:  "items",
		Key:     []string{"id"},
		Types:   map[string]string{"id": "integer"},
	}
}

var idVal = []string{"id", "val"}

// sortRows makes row order irrelevant; SQLite returns rows in rowid order,
// which an upsert does not preserve.
var sortRows = cmpopts.SortSlices(func(a, b []any) bool {
	return fmt.Sprint(a...) < fmt.Sprint(b...)
})

/*
TestTable_ScenarioA merges into an empty target: the batch row is inserted.
*/
func TestTable_ScenarioA(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_items", idVal, []any{"1", "a"})

	res, err := Table(context.Background(), h.repo, idValTable(), Options{}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Status != StatusOK || res.Staged != 1 || res.Inserted != 1 || res.Updated != 0 {
		t.Fatalf("result = %+v", res)
	}
	if diff := cmp.Diff([][]any{{int64(1), "a"}}, h.rows("items")); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

/*
TestTable_ScenarioB updates the matched key and inserts the new one; a
second identical run leaves the same state.
*/
func TestTable_ScenarioB(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.exec("INSERT INTO items VALUES (1, 'a'), (9, 'untouched')")
	h.stage("stg_items", idVal, []any{"1", "b"}, []any{"2", "c"})

	ctx := context.Background()
	res, err := Table(ctx, h.repo, idValTable(), Options{}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Updated != 1 || res.Inserted != 1 {
		t.Fatalf("result = %+v, want 1 updated, 1 inserted", res)
	}
	want := [][]any{{int64(1), "b"}, {int64(2), "c"}, {int64(9), "untouched"}}
	if diff := cmp.Diff(want, h.rows("items"), sortRows); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}

	again, err := Table(ctx, h.repo, idValTable(), Options{}, nil)
	if err != nil {
		t.Fatalf("second Table: %v", err)
	}
	if again.Updated != 2 || again.Inserted != 0 {
		t.Fatalf("second result = %+v, want 2 updated", again)
	}
	if diff := cmp.Diff(want, h.rows("items"), sortRows); diff != "" {
		t.Fatalf("target after rerun (-want +got):\n%s", diff)
	}
}

/*
TestTable_ScenarioC stages "N/A" and garbage in a float column: both become
absent, the row is still upserted, and nothing is raised.
*/
func TestTable_ScenarioC(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE readings (id INTEGER PRIMARY KEY, score REAL, note TEXT)")
	h.exec("INSERT INTO readings VALUES (2, 9.5, 'old')")
	h.stage("stg_readings", []string{"id", "score", "note"},
		[]any{"1", "N/A", "x"},
		[]any{"2", "abc", "y"},
		[]any{"3", " 2.5 ", "z"},
	)
	tbl := config.Table{
		Name: "readings", Staging: "stg_readings", Target: "readings",
		Key:   []string{"id"},
		Types: map[string]string{"id": "integer", "score": "float"},
	}

	res, err := Table(context.Background(), h.repo, tbl, Options{}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.CoercionFailures != 1 {
		t.Errorf("CoercionFailures = %d, want 1 (abc)", res.CoercionFailures)
	}
	if res.MissingNormalized != 1 {
		t.Errorf("MissingNormalized = %d, want 1 (N/A)", res.MissingNormalized)
	}
	want := [][]any{
		{int64(1), nil, "x"},
		{int64(2), nil, "y"}, // absent overwrites the old 9.5
		{int64(3), 2.5, "z"},
	}
	if diff := cmp.Diff(want, h.rows("readings"), sortRows); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

/*
TestTable_ScenarioD stages two rows with key 5: only the first survives.
*/
func TestTable_ScenarioD(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_items", idVal, []any{"5", "first"}, []any{"5", "second"}, []any{" 5 ", "third"})

	res, err := Table(context.Background(), h.repo, idValTable(), Options{}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Duplicates != 2 || res.Staged != 1 {
		t.Fatalf("result = %+v, want 2 duplicates, 1 staged", res)
	}
	if diff := cmp.Diff([][]any{{int64(5), "first"}}, h.rows("items")); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

func TestTable_CleansMissingAndWhitespace(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_items", idVal,
		[]any{"1", "  ISS \t (ZARYA)  "},
		[]any{"2", " NULL "},
		[]any{"3", "-"},
		[]any{"4", nil},
	)

	if _, err := Table(context.Background(), h.repo, idValTable(), Options{}, nil); err != nil {
		t.Fatalf("Table: %v", err)
	}
	want := [][]any{{int64(1), "ISS (ZARYA)"}, {int64(2), nil}, {int64(3), nil}, {int64(4), nil}}
	if diff := cmp.Diff(want, h.rows("items"), sortRows); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

func TestTable_CustomMissingTokens(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_items", idVal, []any{"1", "--"}, []any{"2", "n/a"})

	opt := Options{MissingTokens: []string{"--"}}
	if _, err := Table(context.Background(), h.repo, idValTable(), opt, nil); err != nil {
		t.Fatalf("Table: %v", err)
	}
	want := [][]any{{int64(1), nil}, {int64(2), "n/a"}}
	if diff := cmp.Diff(want, h.rows("items"), sortRows); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

/*
TestTable_EmptyStagingIsSkipped checks that an empty snapshot is reported as
skipped without an error and without touching the target.
*/
func TestTable_EmptyStagingIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.exec("INSERT INTO items VALUES (1, 'keep')")
	h.stage("stg_items", idVal)

	res, err := Table(context.Background(), h.repo, idValTable(), Options{}, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Status != StatusSkipped {
		t.Fatalf("status = %q, want skipped", res.Status)
	}
	if diff := cmp.Diff([][]any{{int64(1), "keep"}}, h.rows("items")); diff != "" {
		t.Fatalf("target (-want +got):\n%s", diff)
	}
}

func TestTable_SchemaMismatch(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.exec("INSERT INTO items VALUES (1, 'keep')")
	h.stage("stg_items", []string{"id", "val", "extra"}, []any{"1", "new", "x"})

	res, err := Table(context.Background(), h.repo, idValTable(), Options{}, nil)
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("err = %v, want ErrSchemaMismatch", err)
	}
	if res.Status != StatusFailed || res.Err == nil {
		t.Fatalf("result = %+v, want failed with Err", res)
	}
	if diff := cmp.Diff([][]any{{int64(1), "keep"}}, h.rows("items")); diff != "" {
		t.Fatalf("target changed (-want +got):\n%s", diff)
	}
}

func TestTable_MissingConfiguration(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	tbl := idValTable()
	tbl.Key = nil
	if _, err := Table(context.Background(), h.repo, tbl, Options{}, nil); !errors.Is(err, config.ErrMissingConfiguration) {
		t.Fatalf("err = %v, want ErrMissingConfiguration", err)
	}
}

/*
TestTable_AutoCreateTarget lets the run create the target from the cleaned
columns, the type map and the composite business key.
*/
func TestTable_AutoCreateTarget(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cols := []string{"NORAD_CAT_ID", "MSG_EPOCH", "DECAY_EPOCH", "OBJECT_NAME", "CURRENT"}
	h.stage("stg_decay", cols,
		[]any{"25544", "2024-05-01 10:00:00", "2030-01-01", "ISS", "Y"},
		[]any{"25544", "2024-05-01 10:00:00", "2030-01-01", "ISS dup", "Y"},
		[]any{"25544", "2024-05-02 10:00:00", "2030-01-01", "ISS", "N"},
	)
	tbl := config.Table{
		Name: "decay", Staging: "stg_decay", Target: "predicted_decay",
		Key:   []string{"NORAD_CAT_ID", "MSG_EPOCH", "DECAY_EPOCH"},
		Types: map[string]string{"NORAD_CAT_ID": "integer", "MSG_EPOCH": "timestamp", "DECAY_EPOCH": "timestamp"},
	}

	opt := Options{Kind: "sqlite", AutoCreate: true}
	res, err := Table(context.Background(), h.repo, tbl, opt, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Inserted != 2 || res.Duplicates != 1 {
		t.Fatalf("result = %+v, want 2 inserted, 1 duplicate", res)
	}
	got, err := h.repo.Columns(context.Background(), "predicted_decay")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	if diff := cmp.Diff(cols, got); diff != "" {
		t.Fatalf("created columns (-want +got):\n%s", diff)
	}

	// Re-running against the now existing table updates in place.
	res, err = Table(context.Background(), h.repo, tbl, opt, nil)
	if err != nil {
		t.Fatalf("second Table: %v", err)
	}
	if res.Updated != 2 || res.Inserted != 0 {
		t.Fatalf("second result = %+v, want 2 updated", res)
	}
}

/*
TestTable_AutoCreateAcceptsAbsentKey stages a key cell that fails coercion
into an auto-created target: the row merges with an absent key, and re-runs
match it instead of inserting it again.
*/
func TestTable_AutoCreateAcceptsAbsentKey(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.stage("stg_decay", []string{"NORAD_CAT_ID", "DECAY_EPOCH", "MSG_TYPE"},
		[]any{"6", "not a date", "Decay"},
		[]any{"25544", "2030-01-01 00:00:00", "Prediction"},
		[]any{"20580", "2031-06-01 12:00:00", "Prediction"},
	)
	tbl := config.Table{
		Name: "decay", Staging: "stg_decay", Target: "decay",
		Key:   []string{"NORAD_CAT_ID", "DECAY_EPOCH", "MSG_TYPE"},
		Types: map[string]string{"NORAD_CAT_ID": "integer", "DECAY_EPOCH": "timestamp"},
	}
	opt := Options{Kind: "sqlite", AutoCreate: true}

	res, err := Table(context.Background(), h.repo, tbl, opt, nil)
	if err != nil {
		t.Fatalf("Table: %v", err)
	}
	if res.Staged != 3 || res.Inserted != 3 || res.CoercionFailures != 1 {
		t.Fatalf("result = %+v, want 3 staged, 3 inserted, 1 coercion failure", res)
	}

	for i := 0; i < 2; i++ {
		res, err = Table(context.Background(), h.repo, tbl, opt, nil)
		if err != nil {
			t.Fatalf("re-run %d: %v", i, err)
		}
		if res.Updated != 3 || res.Inserted != 0 {
			t.Fatalf("re-run %d result = %+v, want 3 updated, 0 inserted", i, res)
		}
	}
	if got := h.rows("decay"); len(got) != 3 {
		t.Fatalf("decay rows = %d, want 3", len(got))
	}
}

/*
TestRun_PartialSuccess runs three tables where the middle one fails: the
others commit, every outcome is reported, and the joined error names the
failed table.
*/
func TestRun_PartialSuccess(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE a (id INTEGER PRIMARY KEY, val TEXT)")
	h.exec("CREATE TABLE b (id INTEGER PRIMARY KEY)") // no val column
	h.exec("CREATE TABLE c (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_a", idVal, []any{"1", "a"})
	h.stage("stg_b", idVal, []any{"1", "b"})
	h.stage("stg_c", idVal, []any{"1", "c"})

	mk := func(name string) config.Table {
		return config.Table{Name: name, Staging: "stg_" + name, Target: name, Key: []string{"id"},
			Types: map[string]string{"id": "integer"}}
	}
	job := config.Job{Name: "nightly", Tables: []config.Table{mk("a"), mk("b"), mk("c")}}

	results, err := Run(context.Background(), h.repo, job, nil)
	if !errors.Is(err, storage.ErrSchemaMismatch) {
		t.Fatalf("Run err = %v, want ErrSchemaMismatch", err)
	}
	if !strings.Contains(err.Error(), "table b") {
		t.Fatalf("Run err = %q, want mention of table b", err)
	}
	var statuses []Status
	for _, r := range results {
		statuses = append(statuses, r.Status)
	}
	if diff := cmp.Diff([]Status{StatusOK, StatusFailed, StatusOK}, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if got := h.rows("c"); len(got) != 1 {
		t.Fatalf("table c rows = %d, want 1", len(got))
	}
}

func TestRun_MissingConfigurationFailsFast(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	h.exec("CREATE TABLE items (id INTEGER PRIMARY KEY, val TEXT)")
	h.stage("stg_items", idVal, []any{"1", "a"})

	bad := idValTable()
	bad.Name = "other"
	bad.Target = ""
	job := config.Job{Tables: []config.Table{idValTable(), bad}}

	results, err := Run(context.Background(), h.repo, job, nil)
	if !errors.Is(err, config.ErrMissingConfiguration) {
		t.Fatalf("Run err = %v, want ErrMissingConfiguration", err)
	}
	if results != nil {
		t.Fatalf("results = %+v, want none", results)
	}
	if got := h.rows("items"); len(got) != 0 {
		t.Fatalf("items rows = %d, want 0 (no table may run)", len(got))
	}
}

func TestRun_CanceledContext(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := Run(ctx, h.repo, config.Job{Tables: []config.Table{idValTable()}}, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(results) != 1 || results[0].Status != StatusFailed {
		t.Fatalf("results = %+v", results)
	}
}

func TestChain_BadType(t *testing.T) {
	t.Parallel()

	tbl := idValTable()
	tbl.Types = map[string]string{"id": "uuid"}
	if _, err := Chain(tbl, nil); !errors.Is(err, config.ErrMissingConfiguration) {
		t.Fatalf("err = %v, want ErrMissingConfiguration", err)
	}
}
