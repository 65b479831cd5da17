// Package vector provides the embedding vector stores and the numeric helpers they share.
package vector

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

// Store persists unit-normalized embeddings with their source paths and answers top-k
// similarity queries. Implementations serialize AddEmbeddings and let Search run
// concurrently without observing a half-applied batch.
type Store interface {
	AddEmbeddings(ctx context.Context, vectors [][]float32, paths []string) error
	Search(ctx context.Context, query []float32, topK int, threshold float64) ([]SearchResult, error)
	Len() int
	Has(path string) bool
	Dimensions() int
	Type() string
	Close() error
}

// SearchResult is a single similarity hit.
type SearchResult struct {
	Path       string  `json:"path"`
	Similarity float64 `json:"similarity"` // cosine similarity in [-1, 1]
	Slot       int     `json:"-"`
}

// StoreOption configures a Store.
type StoreOption func(*storeOptions)

type storeOptions struct {
	logger *zap.Logger
}

// WithLogger sets a logger for load and persist events.
func WithLogger(l *zap.Logger) StoreOption {
	return func(o *storeOptions) { o.logger = l }
}

func applyStoreOptions(opts []StoreOption) storeOptions {
	o := storeOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// prepareBatch validates a batch against the store dimension and returns it as a
// row-normalized matrix. An empty batch returns (nil, nil).
func prepareBatch(vectors [][]float32, paths []string, dimensions int) (*mat.Dense, error) {
	if len(vectors) != len(paths) {
		return nil, fmt.Errorf("%w: %d vectors but %d paths", ErrInvalidInput, len(vectors), len(paths))
	}
	if len(vectors) == 0 {
		return nil, nil
	}
	batch, err := Coerce2D(vectors)
	if err != nil {
		return nil, err
	}
	if _, c := batch.Dims(); c != dimensions {
		return nil, fmt.Errorf("%w: vector dimension %d, store expects %d", ErrShapeMismatch, c, dimensions)
	}
	if err := normalizeDenseRows(batch); err != nil {
		return nil, err
	}
	return batch, nil
}

// prepareQuery checks the query dimension and normalizes it.
func prepareQuery(query []float32, dimensions int) ([]float32, error) {
	if len(query) != dimensions {
		return nil, fmt.Errorf("%w: query dimension %d, store expects %d", ErrShapeMismatch, len(query), dimensions)
	}
	return Normalize(query)
}

// sortResults orders by similarity descending, then slot ascending.
func sortResults(results []SearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Slot < results[j].Slot
	})
}

// truncate caps results at topK.
func truncate(results []SearchResult, topK int) []SearchResult {
	if len(results) > topK {
		return results[:topK]
	}
	return results
}
