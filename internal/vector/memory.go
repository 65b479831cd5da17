package vector

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
)

const (
	memoryVectorsFile  = "embeddings.mat"
	memoryMetadataFile = "metadata.json"
)

// MemoryStore is the linear similarity store: every vector lives in one dense matrix and
// each query scans all rows. Suited to corpora whose matrix fits comfortably in memory.
type MemoryStore struct {
	dir        string
	dimensions int
	matrix     *mat.Dense // nil while empty
	ledger     *Ledger
	logger     *zap.Logger
	mu         sync.RWMutex
}

// NewMemoryStore opens the linear store persisted in dir, or an empty one if dir holds no
// vector data. An empty dir keeps the store in memory only.
func NewMemoryStore(dir string, dimensions int, opts ...StoreOption) (*MemoryStore, error) {
	if dimensions <= 0 {
		return nil, errDimensions
	}
	o := applyStoreOptions(opts)
	m := &MemoryStore{
		dir:        dir,
		dimensions: dimensions,
		ledger:     NewLedger(),
		logger:     o.logger,
	}
	if dir == "" {
		return m, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, ioFailure("create store dir", err)
	}
	if err := m.load(); err != nil {
		return nil, err
	}
	m.logger.Info("linear store loaded", zap.String("dir", dir), zap.Int("vectors", m.ledger.Len()))
	return m, nil
}

func (m *MemoryStore) load() error {
	ledger, err := LoadLedger(filepath.Join(m.dir, memoryMetadataFile))
	if err != nil {
		return err
	}
	f, err := os.Open(filepath.Join(m.dir, memoryVectorsFile))
	if err != nil {
		if !os.IsNotExist(err) {
			return corruptf("open vector data: %v", err)
		}
		if ledger.Len() != 0 {
			return corruptf("ledger has %d records but vector data is missing", ledger.Len())
		}
		m.ledger = ledger
		return nil
	}
	defer f.Close()
	var matrix mat.Dense
	if _, err := matrix.UnmarshalBinaryFrom(f); err != nil {
		return corruptf("decode vector data: %v", err)
	}
	rows, cols := matrix.Dims()
	if cols != m.dimensions {
		return corruptf("vector data has dimension %d, store expects %d", cols, m.dimensions)
	}
	if rows != ledger.Len() {
		return corruptf("vector data has %d rows but ledger has %d records", rows, ledger.Len())
	}
	m.matrix = &matrix
	m.ledger = ledger
	return nil
}

// AddEmbeddings normalizes and appends vectors, records their paths at the next slots, and
// rewrites both files. The batch becomes visible only after it is on disk; a failed write
// leaves the store as it was.
func (m *MemoryStore) AddEmbeddings(ctx context.Context, vectors [][]float32, paths []string) error {
	batch, err := prepareBatch(vectors, paths, m.dimensions)
	if err != nil || batch == nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := batch
	if m.matrix != nil {
		var stacked mat.Dense
		stacked.Stack(m.matrix, batch)
		next = &stacked
	}
	ledger := m.ledger.Clone()
	start := ledger.Len()
	for i, p := range paths {
		if err := ledger.Append(start+i, p); err != nil {
			return err
		}
	}
	if rows, _ := next.Dims(); rows != ledger.Len() {
		return corruptf("matrix has %d rows but ledger has %d records", rows, ledger.Len())
	}
	if err := m.persist(next, ledger); err != nil {
		return err
	}
	m.matrix = next
	m.ledger = ledger
	return nil
}

// persist writes matrix and ledger. If the ledger write fails, the previous vector file is
// restored so the pair on disk keeps equal cardinality.
func (m *MemoryStore) persist(matrix *mat.Dense, ledger *Ledger) error {
	if m.dir == "" {
		return nil
	}
	vectorsPath := filepath.Join(m.dir, memoryVectorsFile)
	if err := writeMatrix(vectorsPath, matrix); err != nil {
		return err
	}
	if err := ledger.Save(filepath.Join(m.dir, memoryMetadataFile)); err != nil {
		if rerr := m.restoreVectors(vectorsPath); rerr != nil {
			m.logger.Error("failed to restore vector data", zap.String("dir", m.dir), zap.Error(rerr))
		}
		return err
	}
	m.logger.Debug("linear store saved", zap.String("dir", m.dir), zap.Int("vectors", ledger.Len()))
	return nil
}

// restoreVectors rewrites the vector file from the committed matrix.
func (m *MemoryStore) restoreVectors(path string) error {
	if m.matrix == nil {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	return writeMatrix(path, m.matrix)
}

func writeMatrix(path string, matrix *mat.Dense) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := matrix.MarshalBinaryTo(w)
		return err
	})
}

// Search scores the query against every stored row. Rows are re-normalized on the fly so
// data written by other tools still yields cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, query []float32, topK int, threshold float64) ([]SearchResult, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.matrix == nil {
		return []SearchResult{}, nil
	}
	q, err := prepareQuery(query, m.dimensions)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return []SearchResult{}, nil
	}

	rows, _ := m.matrix.Dims()
	var dots mat.VecDense
	dots.MulVec(m.matrix, mat.NewVecDense(m.dimensions, float32sTo64(q)))

	results := make([]SearchResult, 0, rows)
	for i := 0; i < rows; i++ {
		norm := mat.Norm(m.matrix.RowView(i), 2)
		if norm == 0 {
			continue
		}
		sim := clampUnit(dots.AtVec(i) / norm)
		if sim < threshold {
			continue
		}
		path, err := m.ledger.Get(i)
		if err != nil {
			return nil, corruptf("slot %d has no metadata", i)
		}
		results = append(results, SearchResult{Path: path, Similarity: sim, Slot: i})
	}
	sortResults(results)
	return truncate(results, topK), nil
}

// Len returns the number of stored vectors.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Len()
}

// Has reports whether path is already stored.
func (m *MemoryStore) Has(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ledger.Has(path)
}

// Dimensions returns the vector dimension.
func (m *MemoryStore) Dimensions() int {
	return m.dimensions
}

// Type returns the store type identifier.
func (m *MemoryStore) Type() string {
	return string(StoreTypeMemory)
}

// Close is a no-op; every batch is already on disk.
func (m *MemoryStore) Close() error {
	return nil
}
