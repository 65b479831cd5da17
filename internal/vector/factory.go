package vector

import (
	"fmt"
	"strings"
)

// StoreType names a Store backend.
type StoreType string

const (
	// StoreTypeMemory is the linear store: brute-force cosine scan over a dense matrix.
	StoreTypeMemory StoreType = "memory"
	// StoreTypeFAISS is the accelerated store backed by an inner-product flat index.
	// Uses FAISS when built with -tags=faiss, the pure-Go flat index otherwise.
	StoreTypeFAISS StoreType = "faiss"
)

var errDimensions = fmt.Errorf("%w: dimensions must be positive", ErrInvalidInput)

// NewStore opens the store of the given type persisted in dir.
// Supported types: "memory" (default), "faiss"; matching ignores case.
func NewStore(storeType string, dir string, dimensions int, opts ...StoreOption) (Store, error) {
	switch StoreType(strings.ToLower(strings.TrimSpace(storeType))) {
	case StoreTypeMemory, "":
		s, err := NewMemoryStore(dir, dimensions, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	case StoreTypeFAISS:
		s, err := NewAcceleratedStore(dir, dimensions, opts...)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w: unknown store type %q (supported: memory, faiss)", ErrInvalidInput, storeType)
	}
}
