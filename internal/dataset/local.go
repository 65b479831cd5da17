package dataset

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local lists images directly inside a directory. References are the image paths joined
// with the directory as configured.
type Local struct {
	dir string
	filter
}

// NewLocal returns a source over the images in dir.
func NewLocal(dir string, opts ...Option) *Local {
	return &Local{dir: filepath.Clean(dir), filter: newFilter(opts)}
}

// Dir returns the directory the source reads from.
func (l *Local) Dir() string {
	return l.dir
}

// List returns matching image paths in name order, bounded by the sample size.
// A missing directory lists as empty.
func (l *Local) List(ctx context.Context) ([]string, error) {
	refs, err := l.all()
	if err != nil {
		return nil, err
	}
	return l.bound(refs), nil
}

func (l *Local) all() ([]string, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read dataset dir: %w", err)
	}
	var refs []string
	for _, e := range entries {
		if e.IsDir() || !l.matches(e.Name()) {
			continue
		}
		refs = append(refs, filepath.Join(l.dir, e.Name()))
	}
	return refs, nil
}

// Accepts reports whether p names a file this source would list: a direct child of the
// directory with a matching extension.
func (l *Local) Accepts(p string) bool {
	return filepath.Dir(filepath.Clean(p)) == l.dir && l.matches(p)
}

// Open opens an image previously returned by List.
func (l *Local) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if filepath.Dir(filepath.Clean(ref)) != l.dir {
		return nil, fmt.Errorf("%w: %s is outside %s", ErrNotFound, ref, l.dir)
	}
	f, err := os.Open(ref)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("open image: %w", err)
	}
	return f, nil
}

// Resolve maps a bare file name to its path inside the directory. Names containing path
// separators or parent references are rejected as not found.
func (l *Local) Resolve(name string) (string, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	p := filepath.Join(l.dir, name)
	st, err := os.Stat(p)
	if err != nil || st.IsDir() {
		return "", fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return p, nil
}

// Info reports whether the directory exists and how many images it holds.
func (l *Local) Info(ctx context.Context) (Info, error) {
	info := Info{Location: l.dir}
	st, err := os.Stat(l.dir)
	if err != nil || !st.IsDir() {
		return info, nil
	}
	refs, err := l.all()
	if err != nil {
		return info, err
	}
	info.Exists = true
	info.ImageCount = len(refs)
	return info, nil
}
