package vector

import (
	"container/heap"
	"fmt"
	"io"
	"os"

	"github.com/vmihailenco/msgpack/v5"
)

// ipIndex is an inner-product index over unit vectors. Labels are assigned densely in
// insertion order starting at 0, matching FAISS IndexFlatIP.
type ipIndex interface {
	Add(vectors []float32) error // row-major, len a multiple of the dimension
	Search(query []float32, k int) (scores []float32, labels []int64, err error)
	Ntotal() int
	Truncate(n int) error // drops every label >= n
	Save(path string) error
	Close() error
}

// flatIndex is a pure-Go IndexFlatIP: exact top-k over a contiguous row-major buffer.
type flatIndex struct {
	dimensions int
	data       []float32
}

// flatIndexFile is the msgpack form of a flatIndex.
type flatIndexFile struct {
	Dimensions int       `msgpack:"d"`
	Ntotal     int       `msgpack:"ntotal"`
	Data       []float32 `msgpack:"data"`
}

func newFlatIndex(dimensions int) *flatIndex {
	return &flatIndex{dimensions: dimensions}
}

func (f *flatIndex) Add(vectors []float32) error {
	if len(vectors)%f.dimensions != 0 {
		return fmt.Errorf("%w: %d values is not a multiple of dimension %d", ErrShapeMismatch, len(vectors), f.dimensions)
	}
	f.data = append(f.data, vectors...)
	return nil
}

func (f *flatIndex) Ntotal() int {
	return len(f.data) / f.dimensions
}

func (f *flatIndex) Truncate(n int) error {
	if n < 0 || n > f.Ntotal() {
		return fmt.Errorf("%w: truncate to %d of %d vectors", ErrInvalidInput, n, f.Ntotal())
	}
	f.data = f.data[:n*f.dimensions]
	return nil
}

// Search returns up to k labels by descending inner product; equal scores keep the lower label.
func (f *flatIndex) Search(query []float32, k int) ([]float32, []int64, error) {
	if len(query) != f.dimensions {
		return nil, nil, fmt.Errorf("%w: query dimension %d, index expects %d", ErrShapeMismatch, len(query), f.dimensions)
	}
	n := f.Ntotal()
	if k > n {
		k = n
	}
	if k <= 0 {
		return nil, nil, nil
	}
	h := make(hitHeap, 0, k+1)
	for label := 0; label < n; label++ {
		row := f.data[label*f.dimensions : (label+1)*f.dimensions]
		hit := hit{score: float32(InnerProduct(query, row)), label: int64(label)}
		if len(h) < k {
			heap.Push(&h, hit)
			continue
		}
		if h[0].worseThan(hit) {
			h[0] = hit
			heap.Fix(&h, 0)
		}
	}
	scores := make([]float32, len(h))
	labels := make([]int64, len(h))
	for i := len(h) - 1; i >= 0; i-- {
		top := heap.Pop(&h).(hit)
		scores[i] = top.score
		labels[i] = top.label
	}
	return scores, labels, nil
}

func (f *flatIndex) Save(path string) error {
	data, err := msgpack.Marshal(&flatIndexFile{
		Dimensions: f.dimensions,
		Ntotal:     f.Ntotal(),
		Data:       f.data,
	})
	if err != nil {
		return fmt.Errorf("encode flat index: %w", err)
	}
	return writeFileAtomic(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

func (f *flatIndex) Close() error {
	f.data = nil
	return nil
}

func loadFlatIndex(path string, dimensions int) (*flatIndex, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, corruptf("read flat index: %v", err)
	}
	var file flatIndexFile
	if err := msgpack.Unmarshal(raw, &file); err != nil {
		return nil, corruptf("decode flat index: %v", err)
	}
	if file.Dimensions != dimensions {
		return nil, corruptf("flat index has dimension %d, store expects %d", file.Dimensions, dimensions)
	}
	if len(file.Data) != file.Ntotal*dimensions {
		return nil, corruptf("flat index holds %d values for %d vectors", len(file.Data), file.Ntotal)
	}
	return &flatIndex{dimensions: dimensions, data: file.Data}, nil
}

type hit struct {
	score float32
	label int64
}

// worseThan orders hits so the heap root is the weakest kept hit.
func (h hit) worseThan(o hit) bool {
	if h.score != o.score {
		return h.score < o.score
	}
	return h.label > o.label
}

type hitHeap []hit

func (h hitHeap) Len() int            { return len(h) }
func (h hitHeap) Less(i, j int) bool  { return h[i].worseThan(h[j]) }
func (h hitHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *hitHeap) Push(x interface{}) { *h = append(*h, x.(hit)) }
func (h *hitHeap) Pop() interface{} {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}
