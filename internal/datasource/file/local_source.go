// Package file serves table snapshots from a local directory, mirroring the
// upstream endpoint paths. It lets a job replay saved feeds without network
// access.
package file

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// utf8BOM is dropped from the start of a snapshot.
var utf8BOM = []byte("\xef\xbb\xbf")

// Local reads snapshots below a root directory.
type Local struct{ root string }

// NewLocal returns a Local rooted at root. It is safe for concurrent use.
func NewLocal(root string) *Local { return &Local{root: root} }

// FromURL builds a Local from a file:// base URL. The host part must be
// empty or "localhost".
func FromURL(base string) (*Local, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("file: parse %q: %w", base, err)
	}
	if u.Scheme != "file" {
		return nil, fmt.Errorf("file: %q is not a file:// URL", base)
	}
	if u.Host != "" && u.Host != "localhost" {
		return nil, fmt.Errorf("file: remote host %q not supported", u.Host)
	}
	if u.Path == "" {
		return nil, fmt.Errorf("file: %q has no path", base)
	}
	return NewLocal(filepath.FromSlash(u.Path)), nil
}

// Path maps an endpoint path to a file below the root. The endpoint is
// unescaped and cleaned, so it can never climb above the root.
func (l *Local) Path(endpoint string) string {
	if p, err := url.PathUnescape(endpoint); err == nil {
		endpoint = p
	}
	clean := filepath.Clean("/" + strings.TrimLeft(filepath.ToSlash(endpoint), "/"))
	return filepath.Join(l.root, filepath.FromSlash(clean))
}

// Get reads the snapshot for endpoint.
//
// A canceled context returns its error without touching the filesystem.
// Filesystem errors are wrapped with the path, so errors.Is(err,
// os.ErrNotExist) still works.
func (l *Local) Get(ctx context.Context, endpoint string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p := l.Path(endpoint)
	b, err := os.ReadFile(p)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", p, err)
	}
	return bytes.TrimPrefix(b, utf8BOM), nil
}
