//go:build faiss && cgo
// +build faiss,cgo

package vector

/*
#cgo CFLAGS: -I/opt/homebrew/include -I/usr/local/include
#cgo LDFLAGS: -L/opt/homebrew/lib -L/usr/local/lib -lfaiss_c

#include <stdlib.h>
#include <faiss/c_api/Index_c.h>
#include <faiss/c_api/IndexFlat_c.h>
#include <faiss/c_api/index_io_c.h>
#include <faiss/c_api/error_c.h>
#include <faiss/c_api/impl/AuxIndexStructures_c.h>
*/
import "C"

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"
)

const acceleratedIndexFile = "faiss.index"

// IsFAISSAvailable reports whether FAISS support is compiled in.
func IsFAISSAvailable() bool {
	return true
}

// faissIndex wraps a FAISS IndexFlatIP (inner product; cosine for unit vectors).
type faissIndex struct {
	index      *C.FaissIndex
	dimensions int
}

func newIPIndex(dimensions int) (ipIndex, error) {
	var index *C.FaissIndex
	ret := C.faiss_IndexFlatIP_new_with((**C.FaissIndexFlatIP)(unsafe.Pointer(&index)), C.idx_t(dimensions))
	if ret != 0 {
		return nil, fmt.Errorf("failed to create FAISS index: %s", faissLastError())
	}
	return &faissIndex{index: index, dimensions: dimensions}, nil
}

func loadIPIndex(path string, dimensions int) (ipIndex, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var index *C.FaissIndex
	if ret := C.faiss_read_index_fname(cPath, 0, &index); ret != 0 {
		return nil, corruptf("read FAISS index: %s", faissLastError())
	}
	if d := int(C.faiss_Index_d(index)); d != dimensions {
		C.faiss_Index_free(index)
		return nil, corruptf("FAISS index has dimension %d, store expects %d", d, dimensions)
	}
	return &faissIndex{index: index, dimensions: dimensions}, nil
}

// faissLastError returns the last FAISS error message.
func faissLastError() string {
	cErr := C.faiss_get_last_error()
	if cErr == nil {
		return "unknown error"
	}
	return C.GoString(cErr)
}

func (f *faissIndex) Add(vectors []float32) error {
	if len(vectors)%f.dimensions != 0 {
		return fmt.Errorf("%w: %d values is not a multiple of dimension %d", ErrShapeMismatch, len(vectors), f.dimensions)
	}
	n := len(vectors) / f.dimensions
	if n == 0 {
		return nil
	}
	ret := C.faiss_Index_add(f.index, C.idx_t(n), (*C.float)(unsafe.Pointer(&vectors[0])))
	if ret != 0 {
		return fmt.Errorf("failed to add vectors to FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Search(query []float32, k int) ([]float32, []int64, error) {
	if len(query) != f.dimensions {
		return nil, nil, fmt.Errorf("%w: query dimension %d, index expects %d", ErrShapeMismatch, len(query), f.dimensions)
	}
	if n := f.Ntotal(); k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil, nil
	}
	distances := make([]float32, k)
	labels := make([]int64, k)
	ret := C.faiss_Index_search(
		f.index,
		1,
		(*C.float)(unsafe.Pointer(&query[0])),
		C.idx_t(k),
		(*C.float)(unsafe.Pointer(&distances[0])),
		(*C.idx_t)(unsafe.Pointer(&labels[0])),
	)
	if ret != 0 {
		return nil, nil, fmt.Errorf("FAISS search failed: %s", faissLastError())
	}
	return distances, labels, nil
}

func (f *faissIndex) Ntotal() int {
	return int(C.faiss_Index_ntotal(f.index))
}

// Truncate removes labels n..ntotal-1. IndexFlat keeps the remaining labels dense.
func (f *faissIndex) Truncate(n int) error {
	total := f.Ntotal()
	if n < 0 || n > total {
		return fmt.Errorf("%w: truncate to %d of %d vectors", ErrInvalidInput, n, total)
	}
	if n == total {
		return nil
	}
	var sel *C.FaissIDSelectorRange
	if ret := C.faiss_IDSelectorRange_new(&sel, C.idx_t(n), C.idx_t(total)); ret != 0 {
		return fmt.Errorf("failed to create FAISS selector: %s", faissLastError())
	}
	defer C.faiss_IDSelectorRange_free(sel)
	var removed C.size_t
	if ret := C.faiss_Index_remove_ids(f.index, (*C.FaissIDSelector)(unsafe.Pointer(sel)), &removed); ret != 0 {
		return fmt.Errorf("failed to truncate FAISS index: %s", faissLastError())
	}
	return nil
}

func (f *faissIndex) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return ioFailure("create index dir", err)
	}
	tmp := path + ".tmp"
	cPath := C.CString(tmp)
	defer C.free(unsafe.Pointer(cPath))
	if ret := C.faiss_write_index_fname(f.index, cPath); ret != 0 {
		return ioFailure("write FAISS index", fmt.Errorf("%s", faissLastError()))
	}
	if err := os.Rename(tmp, path); err != nil {
		return ioFailure("replace FAISS index", err)
	}
	return nil
}

func (f *faissIndex) Close() error {
	if f.index != nil {
		C.faiss_Index_free(f.index)
		f.index = nil
	}
	return nil
}
