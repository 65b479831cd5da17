// Package dataset enumerates and opens the images that make up the searchable corpus.
package dataset

import (
	"context"
	"errors"
	"io"
	"path"
	"sort"
	"strings"
)

// ErrNotFound is returned when a referenced image does not exist in the source.
var ErrNotFound = errors.New("image not found")

// Source lists image references and opens them. List order is deterministic and bounded
// by the configured sample size, so repeated bulk runs assign the same slots.
type Source interface {
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
	Info(ctx context.Context) (Info, error)
}

// Info describes a source for status reporting.
type Info struct {
	Exists     bool   `json:"exists"`
	ImageCount int    `json:"image_count"`
	Location   string `json:"data_path"`
}

// DefaultExtensions matches the JPEG-only corpus the store was designed around.
var DefaultExtensions = []string{".jpg"}

// Option configures a Source.
type Option func(*filter)

// WithExtensions restricts listing to files with the given extensions (case-insensitive).
func WithExtensions(exts ...string) Option {
	return func(f *filter) {
		if len(exts) > 0 {
			f.extensions = normalizeExtensions(exts)
		}
	}
}

// WithSampleSize caps List at n references; n <= 0 lists everything.
func WithSampleSize(n int) Option {
	return func(f *filter) { f.sampleSize = n }
}

type filter struct {
	extensions []string
	sampleSize int
}

func newFilter(opts []Option) filter {
	f := filter{extensions: normalizeExtensions(DefaultExtensions)}
	for _, opt := range opts {
		opt(&f)
	}
	return f
}

func (f filter) matches(name string) bool {
	ext := strings.ToLower(path.Ext(name))
	for _, e := range f.extensions {
		if ext == e {
			return true
		}
	}
	return false
}

// bound sorts refs and applies the sample size.
func (f filter) bound(refs []string) []string {
	sort.Strings(refs)
	if f.sampleSize > 0 && len(refs) > f.sampleSize {
		refs = refs[:f.sampleSize]
	}
	return refs
}

func normalizeExtensions(exts []string) []string {
	out := make([]string, 0, len(exts))
	for _, e := range exts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		out = append(out, e)
	}
	return out
}
