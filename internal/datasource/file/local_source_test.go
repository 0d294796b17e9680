package file

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestLocalGet covers success, BOM removal, a missing file, and a
// pre-canceled context.
func TestLocalGet(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "class", "gp"), 0o755); err != nil {
		t.Fatal(err)
	}
	write := func(rel, body string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(root, rel), []byte(body), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
	write("class/gp/json", `[{"a":"1"}]`)
	write("bom.json", "\xef\xbb\xbf[]")

	canceled, cancel := context.WithCancel(context.Background())
	cancel()

	tests := []struct {
		name            string
		ctx             context.Context
		endpoint        string
		want            string
		wantErrIs       error
		wantErrContains string
	}{
		{name: "reads_content", ctx: context.Background(), endpoint: "/class/gp/json", want: `[{"a":"1"}]`},
		{name: "strips_bom", ctx: context.Background(), endpoint: "bom.json", want: "[]"},
		{name: "missing_file", ctx: context.Background(), endpoint: "/nope", wantErrIs: os.ErrNotExist, wantErrContains: "open "},
		{name: "canceled", ctx: canceled, endpoint: "/class/gp/json", wantErrIs: context.Canceled},
	}
	l := NewLocal(root)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := l.Get(tt.ctx, tt.endpoint)
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("err = %v, want %v", err, tt.wantErrIs)
				}
				if tt.wantErrContains != "" && !strings.Contains(err.Error(), tt.wantErrContains) {
					t.Fatalf("err = %q, want substring %q", err, tt.wantErrContains)
				}
				return
			}
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("Get = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestLocalPath_StaysBelowRoot(t *testing.T) {
	t.Parallel()

	root := filepath.FromSlash("/srv/feeds")
	l := NewLocal(root)
	tests := map[string]string{
		"/a/b.json":          "a/b.json",
		"../../etc/passwd":   "etc/passwd",
		"/x/%2E%2E/%2E%2E/y": "y",
		"/launch%20desc":     "launch desc",
	}
	for in, rel := range tests {
		if got, want := l.Path(in), filepath.Join(root, filepath.FromSlash(rel)); got != want {
			t.Errorf("Path(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFromURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		wantErr bool
	}{
		{"file:///var/feeds", false},
		{"file://localhost/var/feeds", false},
		{"file://remote/var/feeds", true},
		{"https://example.com", true},
		{"file://", true},
	}
	for _, tt := range tests {
		_, err := FromURL(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("FromURL(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
		}
	}
}
