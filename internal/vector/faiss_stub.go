//go:build !faiss || !cgo
// +build !faiss !cgo

package vector

// Without the faiss build tag the accelerated store runs on the pure-Go flat index.
// Build with -tags=faiss and the FAISS C library installed to use FAISS instead.

const acceleratedIndexFile = "flat.index"

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	return false
}

func newIPIndex(dimensions int) (ipIndex, error) {
	return newFlatIndex(dimensions), nil
}

func loadIPIndex(path string, dimensions int) (ipIndex, error) {
	return loadFlatIndex(path, dimensions)
}
