package vector

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

const acceleratedMetadataFile = "faiss_metadata.json"

// AcceleratedStore answers queries through an inner-product flat index instead of a manual
// scan. It shares the ledger format with MemoryStore and must rank identically.
type AcceleratedStore struct {
	dir        string
	dimensions int
	index      ipIndex
	ledger     *Ledger
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewAcceleratedStore opens the index and ledger persisted in dir, or an empty index.
// Construction never populates the store; see indexer.EnsurePopulated.
func NewAcceleratedStore(dir string, dimensions int, opts ...StoreOption) (*AcceleratedStore, error) {
	if dimensions <= 0 {
		return nil, errDimensions
	}
	o := applyStoreOptions(opts)
	a := &AcceleratedStore{
		dir:        dir,
		dimensions: dimensions,
		ledger:     NewLedger(),
		logger:     o.logger,
	}
	if dir == "" {
		index, err := newIPIndex(dimensions)
		if err != nil {
			return nil, err
		}
		a.index = index
		return a, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioFailure("create store dir", err)
	}
	if err := a.load(); err != nil {
		return nil, err
	}
	a.logger.Info("accelerated store loaded",
		zap.String("dir", dir),
		zap.Int("vectors", a.ledger.Len()),
		zap.Bool("faiss", IsFAISSAvailable()),
	)
	return a, nil
}

func (a *AcceleratedStore) load() error {
	ledger, err := LoadLedger(filepath.Join(a.dir, acceleratedMetadataFile))
	if err != nil {
		return err
	}
	indexPath := filepath.Join(a.dir, acceleratedIndexFile)
	exists, err := fileExists(indexPath)
	if err != nil {
		return corruptf("stat index: %v", err)
	}
	var index ipIndex
	if exists {
		index, err = loadIPIndex(indexPath, a.dimensions)
	} else {
		index, err = newIPIndex(a.dimensions)
	}
	if err != nil {
		return err
	}
	if index.Ntotal() != ledger.Len() {
		_ = index.Close()
		return corruptf("index has %d vectors but ledger has %d records", index.Ntotal(), ledger.Len())
	}
	a.index = index
	a.ledger = ledger
	return nil
}

// AddEmbeddings inserts normalized vectors into the index and records their paths at the
// labels the index assigns, starting from its cardinality before insertion. On any failure
// the index is cut back to that cardinality and the ledger is left untouched.
func (a *AcceleratedStore) AddEmbeddings(ctx context.Context, vectors [][]float32, paths []string) error {
	batch, err := prepareBatch(vectors, paths, a.dimensions)
	if err != nil || batch == nil {
		return err
	}
	flat := flattenFloat32(batch)

	a.mu.Lock()
	defer a.mu.Unlock()

	start := a.index.Ntotal()
	if start != a.ledger.Len() {
		return corruptf("index has %d vectors but ledger has %d records", start, a.ledger.Len())
	}
	ledger := a.ledger.Clone()
	for i, p := range paths {
		if err := ledger.Append(start+i, p); err != nil {
			return err
		}
	}
	if err := a.index.Add(flat); err != nil {
		a.rollback(start, false)
		return fmt.Errorf("add to index: %w", err)
	}
	if a.index.Ntotal() != ledger.Len() {
		a.rollback(start, false)
		return corruptf("index has %d vectors but ledger has %d records", a.index.Ntotal(), ledger.Len())
	}
	if err := a.persist(start, ledger); err != nil {
		return err
	}
	a.ledger = ledger
	return nil
}

// persist saves the index, then the ledger. A failure rolls the index back to start and,
// when the index file was already replaced, rewrites it.
func (a *AcceleratedStore) persist(start int, ledger *Ledger) error {
	if a.dir == "" {
		return nil
	}
	if err := a.index.Save(filepath.Join(a.dir, acceleratedIndexFile)); err != nil {
		a.rollback(start, false)
		return err
	}
	if err := ledger.Save(filepath.Join(a.dir, acceleratedMetadataFile)); err != nil {
		a.rollback(start, true)
		return err
	}
	a.logger.Debug("accelerated store saved", zap.String("dir", a.dir), zap.Int("vectors", ledger.Len()))
	return nil
}

func (a *AcceleratedStore) rollback(start int, resave bool) {
	if err := a.index.Truncate(start); err != nil {
		a.logger.Error("failed to roll back index", zap.Int("vectors", start), zap.Error(err))
		return
	}
	if !resave || a.dir == "" {
		return
	}
	if err := a.index.Save(filepath.Join(a.dir, acceleratedIndexFile)); err != nil {
		a.logger.Error("failed to restore index file", zap.String("dir", a.dir), zap.Error(err))
	}
}

// Search asks the index for its top-k, then applies threshold and the slot tie-break.
func (a *AcceleratedStore) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]SearchResult, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	n := a.index.Ntotal()
	if n == 0 {
		return []SearchResult{}, nil
	}
	q, err := prepareQuery(query, a.dimensions)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}
	k := topK
	if k > n {
		k = n
	}
	scores, labels, err := a.index.Search(q, k)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}
	results := make([]SearchResult, 0, len(labels))
	for i, label := range labels {
		if label < 0 {
			continue
		}
		sim := clampUnit(float64(scores[i]))
		if sim < threshold {
			continue
		}
		path, err := a.ledger.Get(int(label))
		if err != nil {
			return nil, corruptf("label %d has no metadata", label)
		}
		results = append(results, SearchResult{Path: path, Similarity: sim, Slot: int(label)})
	}
	sortResults(results)
	return truncate(results, topK), nil
}

// Len returns the number of indexed vectors.
func (a *AcceleratedStore) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.Len()
}

// Has reports whether path is already indexed.
func (a *AcceleratedStore) Has(path string) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ledger.Has(path)
}

// Dimensions returns the vector dimension.
func (a *AcceleratedStore) Dimensions() int {
	return a.dimensions
}

// Type returns the store type identifier.
func (a *AcceleratedStore) Type() string {
	return string(StoreTypeFAISS)
}

// Close releases the index.
func (a *AcceleratedStore) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index.Close()
}
