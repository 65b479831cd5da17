// Package indexer populates a vector store from a dataset source by encoding images in
// fixed-size batches.
package indexer

import (
	"context"
	"fmt"
	"image"
	"sync"

	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of images encoded per store append.
const DefaultBatchSize = 32

// Progress is reported after every persisted batch.
type Progress struct {
	Batch   int `json:"batch"`   // 1-based number of the batch just persisted
	Batches int `json:"batches"` // total batches in this run
	Indexed int `json:"indexed"` // images appended so far in this run
	Total   int `json:"total"`   // images this run will append
}

// Indexer encodes dataset images and appends them to a store.
type Indexer struct {
	store     vector.Store
	encoder   embedding.Encoder
	source    dataset.Source
	batchSize int
	logger    *zap.Logger

	// runs are serialized so slot order always follows reference order
	mu sync.Mutex
}

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithLogger sets a logger for batch events.
func WithLogger(l *zap.Logger) IndexerOption {
	return func(idx *Indexer) { idx.logger = l }
}

// WithBatchSize sets the batch size; values <= 0 keep DefaultBatchSize.
func WithBatchSize(n int) IndexerOption {
	return func(idx *Indexer) {
		if n > 0 {
			idx.batchSize = n
		}
	}
}

// NewIndexer creates an indexer with the given dependencies.
func NewIndexer(store vector.Store, encoder embedding.Encoder, source dataset.Source, opts ...IndexerOption) *Indexer {
	idx := &Indexer{
		store:     store,
		encoder:   encoder,
		source:    source,
		batchSize: DefaultBatchSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = zap.NewNop()
	}
	return idx
}

// Run lists the source and indexes every reference not already stored, in list order.
// Batches persisted before a failure stay in the store. Returns the number of images appended.
func (idx *Indexer) Run(ctx context.Context, progress func(Progress)) (int, error) {
	refs, err := idx.source.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list dataset: %w", err)
	}
	return idx.index(ctx, refs, progress)
}

// EnsurePopulated runs a full index only when the store is empty.
func (idx *Indexer) EnsurePopulated(ctx context.Context, progress func(Progress)) (int, error) {
	if idx.store.Len() > 0 {
		idx.logger.Debug("store already populated", zap.Int("vectors", idx.store.Len()))
		return 0, nil
	}
	idx.logger.Info("store is empty, indexing dataset")
	return idx.Run(ctx, progress)
}

// EnsurePopulated populates store from source with encoder if the store is empty.
func EnsurePopulated(ctx context.Context, store vector.Store, encoder embedding.Encoder, source dataset.Source, opts ...IndexerOption) (int, error) {
	return NewIndexer(store, encoder, source, opts...).EnsurePopulated(ctx, nil)
}

// IndexRefs indexes an explicit list of references, skipping ones already stored.
func (idx *Indexer) IndexRefs(ctx context.Context, refs []string) (int, error) {
	return idx.index(ctx, refs, nil)
}

func (idx *Indexer) index(ctx context.Context, refs []string, progress func(Progress)) (int, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	pending := idx.pending(refs)
	total := len(pending)
	if total == 0 {
		return 0, nil
	}
	batches := (total + idx.batchSize - 1) / idx.batchSize
	idx.logger.Info("indexing images",
		zap.Int("images", total),
		zap.Int("skipped", len(refs)-total),
		zap.Int("batch_size", idx.batchSize),
	)

	indexed := 0
	for b := 0; b < batches; b++ {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		start := b * idx.batchSize
		end := start + idx.batchSize
		if end > total {
			end = total
		}
		batch := pending[start:end]
		if err := idx.indexBatch(ctx, batch); err != nil {
			idx.logger.Error("batch failed", zap.Int("batch", b+1), zap.Int("indexed", indexed), zap.Error(err))
			return indexed, fmt.Errorf("batch %d/%d: %w", b+1, batches, err)
		}
		indexed += len(batch)
		idx.logger.Debug("batch indexed", zap.Int("batch", b+1), zap.Int("batches", batches), zap.Int("indexed", indexed))
		if progress != nil {
			progress(Progress{Batch: b + 1, Batches: batches, Indexed: indexed, Total: total})
		}
	}
	idx.logger.Info("indexing complete", zap.Int("indexed", indexed), zap.Int("store_size", idx.store.Len()))
	return indexed, nil
}

// pending drops references that are already stored or repeated.
func (idx *Indexer) pending(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		if _, dup := seen[ref]; dup || idx.store.Has(ref) {
			continue
		}
		seen[ref] = struct{}{}
		out = append(out, ref)
	}
	return out
}

func (idx *Indexer) indexBatch(ctx context.Context, refs []string) error {
	images := make([]image.Image, len(refs))
	for i, ref := range refs {
		img, err := dataset.Load(ctx, idx.source, ref)
		if err != nil {
			return fmt.Errorf("%w: %w", vector.ErrEncodingFailed, err)
		}
		images[i] = img
	}
	vectors, err := idx.encoder.EncodeImages(ctx, images)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrEncodingFailed, err)
	}
	if len(vectors) != len(refs) {
		return fmt.Errorf("%w: encoder returned %d vectors for %d images", vector.ErrEncodingFailed, len(vectors), len(refs))
	}
	normalized, err := vector.NormalizeRows(vectors)
	if err != nil {
		return fmt.Errorf("%w: %w", vector.ErrEncodingFailed, err)
	}
	return idx.store.AddEmbeddings(ctx, normalized, refs)
}
