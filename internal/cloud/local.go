package cloud

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// Local writes documents into a directory served by the HTTP server under
// /downloads/.
type Local struct {
	dir     string
	baseURL string
}

// NewLocal creates a publisher rooted at dir. baseURL may be empty, giving
// root-relative links.
func NewLocal(dir, baseURL string) *Local {
	return &Local{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}
}

// Dir returns the directory documents are written to.
func (l *Local) Dir() string {
	return l.dir
}

// Publish writes the file, replacing any earlier copy with the same name.
func (l *Local) Publish(_ context.Context, filename string, data []byte) (*Link, error) {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return nil, fmt.Errorf("invalid filename %q", filename)
	}
	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return nil, fmt.Errorf("create staging directory: %w", err)
	}

	tmp, err := os.CreateTemp(l.dir, ".staging-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("close %s: %w", name, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("chmod %s: %w", name, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(l.dir, name)); err != nil {
		_ = os.Remove(tmp.Name())
		return nil, fmt.Errorf("rename %s: %w", name, err)
	}

	// STAGING_DIR is expected to persist, so the link can be cached.
	// Available catches the case where the file was removed anyway.
	return &Link{URL: l.baseURL + "/downloads/" + url.PathEscape(name), Durable: true}, nil
}

// Available reports whether a link this publisher issued still points at a
// file on disk. Links from other publishers are assumed reachable.
func (l *Local) Available(_ context.Context, link string) bool {
	name, ours := l.filenameOf(link)
	if !ours {
		return true
	}
	if name == "" {
		return false
	}
	info, err := os.Stat(filepath.Join(l.dir, name))
	return err == nil && info.Mode().IsRegular()
}

// Remove deletes a published file. A missing file is not an error.
func (l *Local) Remove(_ context.Context, filename string) error {
	name := filepath.Base(filename)
	if name == "." || name == string(filepath.Separator) {
		return fmt.Errorf("invalid filename %q", filename)
	}
	if err := os.Remove(filepath.Join(l.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", name, err)
	}
	return nil
}

// filenameOf extracts the file name from a link under /downloads/. The
// second result is false for links this publisher did not issue; the name
// is empty when the link is ours but does not name a single file.
func (l *Local) filenameOf(link string) (string, bool) {
	rest := strings.TrimPrefix(link, l.baseURL)
	if !strings.HasPrefix(rest, "/downloads/") {
		return "", false
	}
	u, err := url.Parse(rest)
	if err != nil {
		return "", true
	}
	name := strings.TrimPrefix(u.Path, "/downloads/")
	if name == "" || strings.ContainsRune(name, '/') || strings.HasPrefix(name, ".") {
		return "", true
	}
	return name, true
}
