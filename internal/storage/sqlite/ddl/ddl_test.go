package ddl

import (
	"context"
	"testing"

	"dwhsync/internal/record"
	"dwhsync/internal/storage"
	"dwhsync/internal/storage/ident"
)

// fakeRepository records Exec calls; other methods are never used.
type fakeRepository struct {
	storage.Repository
	execs []string
}

func (f *fakeRepository) Exec(ctx context.Context, sql string) error {
	f.execs = append(f.execs, sql)
	return nil
}

func TestMapType(t *testing.T) {
	t.Parallel()

	cases := map[record.Type]string{
		record.TypeInteger:   "INTEGER",
		record.TypeFloat:     "REAL",
		record.TypeTimestamp: "TIMESTAMP",
		"":                   "TEXT",
		" Integer ":          "INTEGER",
	}
	for in, want := range cases {
		if got := MapType(in); got != want {
			t.Errorf("MapType(%q) = %q, want %q", in, got, want)
		}
	}
}

/*
TestEnsureTable_QuotesReservedNames renders a target table with reserved
column names and a composite key and checks the emitted statement.
*/
func TestEnsureTable_QuotesReservedNames(t *testing.T) {
	t.Parallel()

	repo := &fakeRepository{}
	spec := storage.TableSpec{
		Name:    "main.latest",
		Columns: []string{"id", "FILE", "CURRENT", "score"},
		Types:   map[string]record.Type{"id": record.TypeInteger, "score": record.TypeFloat},
		Key:     []string{"id", "FILE"},
	}
	if err := EnsureTable(context.Background(), repo, spec); err != nil {
		t.Fatalf("EnsureTable: %v", err)
	}
	want := "CREATE TABLE IF NOT EXISTS main.latest (\n" +
		"  id INTEGER,\n" +
		"  \"FILE\" TEXT,\n" +
		"  \"CURRENT\" TEXT,\n" +
		"  score REAL\n" +
		");"
	if len(repo.execs) != 1 || repo.execs[0] != want {
		t.Fatalf("Exec calls = %q\nwant %q", repo.execs, want)
	}
}

func TestEnsureTable_KeyNotAmongColumns(t *testing.T) {
	t.Parallel()

	repo := &fakeRepository{}
	err := EnsureTable(context.Background(), repo, storage.TableSpec{Name: "t", Columns: []string{"a"}, Key: []string{"b"}})
	if err == nil {
		t.Fatalf("expected error for key outside columns")
	}
	if len(repo.execs) != 0 {
		t.Fatalf("no DDL should run, got %q", repo.execs)
	}
}

func TestBuildCreateTableSQL_ExtraReservedWords(t *testing.T) {
	t.Parallel()

	def, err := FromSpec(storage.TableSpec{Name: "t", Columns: []string{"epoch"}})
	if err != nil {
		t.Fatalf("FromSpec: %v", err)
	}
	got, err := BuildCreateTableSQL(def, ident.New(ident.SQLite, "EPOCH"))
	if err != nil {
		t.Fatalf("BuildCreateTableSQL: %v", err)
	}
	if want := "CREATE TABLE IF NOT EXISTS t (\n  \"epoch\" TEXT\n);"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
