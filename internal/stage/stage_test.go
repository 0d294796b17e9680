package stage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"dwhsync/internal/config"
	"dwhsync/internal/extract"
	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	_ "dwhsync/internal/storage/sqlite"
)

func openStore(t *testing.T) storage.Repository {
	t.Helper()
	repo, err := storage.New(context.Background(), storage.Config{Kind: "sqlite", DSN: ":memory:"})
	if err != nil {
		t.Fatalf("storage.New: %v", err)
	}
	t.Cleanup(repo.Close)
	return repo
}

func snapshot(cols []string, rows ...[]any) *record.Set {
	s := record.NewSet(cols...)
	for _, r := range rows {
		vals := make([]record.Value, len(r))
		for i, v := range r {
			vals[i] = record.FromAny(v)
		}
		_ = s.Append(vals...)
	}
	return s
}

func readValues(t *testing.T, repo storage.Repository, table string) [][]any {
	t.Helper()
	got, err := repo.ReadTable(context.Background(), table)
	if err != nil {
		t.Fatalf("ReadTable(%s): %v", table, err)
	}
	return got.Values()
}

var orbitCols = []string{"NORAD_CAT_ID", "OBJECT_NAME", "EPOCH"}

/*
TestLoad_AutoCreateAndBatches loads into a staging table that does not exist
yet; the table is created all-text and filled in batches.
*/
func TestLoad_AutoCreateAndBatches(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	snap := snapshot(orbitCols,
		[]any{"25544", "ISS (ZARYA)", "2024-05-01T12:00:00"},
		[]any{"33591", "NOAA 19", nil},
		[]any{"20580", "HST", "2024-05-02T00:00:00"},
	)
	res, err := Load(context.Background(), repo, "stg_latest_orbits", snap,
		Options{Kind: "sqlite", AutoCreate: true, BatchSize: 2}, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if res.Rows != 3 || res.Batches != 2 || res.Skipped {
		t.Fatalf("result = %+v, want 3 rows in 2 batches", res)
	}

	want := [][]any{
		{"25544", "ISS (ZARYA)", "2024-05-01T12:00:00"},
		{"33591", "NOAA 19", nil},
		{"20580", "HST", "2024-05-02T00:00:00"},
	}
	if diff := cmp.Diff(want, readValues(t, repo, "stg_latest_orbits")); diff != "" {
		t.Fatalf("staging (-want +got):\n%s", diff)
	}
}

func TestLoad_ReplacesPreviousSnapshot(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	ctx := context.Background()
	opt := Options{Kind: "sqlite", AutoCreate: true}

	if _, err := Load(ctx, repo, "stg", snapshot(orbitCols, []any{"1", "a", nil}, []any{"2", "b", nil}), opt, nil); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if _, err := Load(ctx, repo, "stg", snapshot(orbitCols, []any{"3", "c", nil}), opt, nil); err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if diff := cmp.Diff([][]any{{"3", "c", nil}}, readValues(t, repo, "stg")); diff != "" {
		t.Fatalf("staging (-want +got):\n%s", diff)
	}
}

/*
TestLoad_EmptySnapshotKeepsStaging mirrors a feed returning []: nothing is
truncated and the result is marked skipped.
*/
func TestLoad_EmptySnapshotKeepsStaging(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	ctx := context.Background()
	opt := Options{Kind: "sqlite", AutoCreate: true}
	if _, err := Load(ctx, repo, "stg", snapshot(orbitCols, []any{"1", "a", nil}), opt, nil); err != nil {
		t.Fatalf("Load: %v", err)
	}

	res, err := Load(ctx, repo, "stg", record.NewSet(), opt, nil)
	if err != nil {
		t.Fatalf("Load(empty): %v", err)
	}
	if !res.Skipped || res.Rows != 0 {
		t.Fatalf("result = %+v, want skipped", res)
	}
	if got := readValues(t, repo, "stg"); len(got) != 1 {
		t.Fatalf("staging rows = %d, want 1 (untouched)", len(got))
	}
}

func TestLoad_MissingStagingTable(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	_, err := Load(context.Background(), repo, "nope", snapshot(orbitCols, []any{"1", "a", nil}), Options{}, nil)
	if err == nil || !strings.Contains(err.Error(), "truncate") {
		t.Fatalf("Load = %v, want truncate error", err)
	}
}

func TestTextRows(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	got := textRows(snapshot([]string{"i", "f", "t", "s", "n"}, []any{7, 1.5, ts, "x", nil}))
	want := [][]any{{"7", "1.5", "2024-05-01T12:00:00Z", "x", nil}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("textRows (-want +got):\n%s", diff)
	}
}

/*
TestRun_ContinuesPastFailedFetch stages two tables where one fetch failed:
the other table still loads and the failure is reported.
*/
func TestRun_ContinuesPastFailedFetch(t *testing.T) {
	t.Parallel()

	repo := openStore(t)
	job := config.Job{
		Name:    "nightly",
		Store:   config.Store{Kind: "sqlite", AutoCreate: true},
		Runtime: config.Runtime{BatchSize: 100},
		Tables: []config.Table{
			{Name: "latest_orbits", Staging: "stg_latest_orbits"},
			{Name: "satcat", Staging: "stg_satcat"},
			{Name: "decay", Staging: "stg_decay"},
		},
	}
	boom := errors.New("status 500")
	fetched := []extract.Result{
		{Table: "latest_orbits", Set: snapshot(orbitCols, []any{"1", "a", nil})},
		{Table: "satcat", Err: boom},
		{Table: "decay", Set: record.NewSet()},
	}

	results, err := Run(context.Background(), repo, job, fetched, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("Run error = %v, want %v", err, boom)
	}
	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	if results[0].Rows != 1 || results[0].Err != nil {
		t.Errorf("latest_orbits = %+v", results[0])
	}
	if !errors.Is(results[1].Err, boom) {
		t.Errorf("satcat err = %v", results[1].Err)
	}
	if !results[2].Skipped {
		t.Errorf("decay = %+v, want skipped", results[2])
	}
}
