package embedding

import (
	"context"
	"encoding/binary"
	"image"
	"math"

	"github.com/cespare/xxhash/v2"
)

// MockEncoder is a deterministic encoder for tests. Text vectors derive from a hash of the
// text, image vectors from a hash of a pixel sample grid, so equal inputs always encode
// to equal vectors.
type MockEncoder struct {
	dimensions int
}

// NewMockEncoder returns a mock encoder producing vectors of the given dimension (512 if <= 0).
func NewMockEncoder(dimensions int) *MockEncoder {
	if dimensions <= 0 {
		dimensions = 512
	}
	return &MockEncoder{dimensions: dimensions}
}

// EncodeText returns a unit vector seeded by the text hash.
func (e *MockEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return seededVector(xxhash.Sum64String(text), e.dimensions), nil
}

// EncodeImages returns one unit vector per image, seeded by a 16x16 pixel sample.
func (e *MockEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = seededVector(imageHash(img), e.dimensions)
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *MockEncoder) Dimensions() int {
	return e.dimensions
}

// Close is a no-op for MockEncoder.
func (e *MockEncoder) Close() error {
	return nil
}

func imageHash(img image.Image) uint64 {
	const grid = 16
	d := xxhash.New()
	b := img.Bounds()
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(b.Dx()))
	binary.LittleEndian.PutUint32(buf[4:], uint32(b.Dy()))
	_, _ = d.Write(buf[:])
	if b.Empty() {
		return d.Sum64()
	}
	for gy := 0; gy < grid; gy++ {
		y := b.Min.Y + gy*b.Dy()/grid
		for gx := 0; gx < grid; gx++ {
			x := b.Min.X + gx*b.Dx()/grid
			r, g, bl, a := img.At(x, y).RGBA()
			binary.LittleEndian.PutUint16(buf[0:], uint16(r))
			binary.LittleEndian.PutUint16(buf[2:], uint16(g))
			binary.LittleEndian.PutUint16(buf[4:], uint16(bl))
			binary.LittleEndian.PutUint16(buf[6:], uint16(a))
			_, _ = d.Write(buf[:])
		}
	}
	return d.Sum64()
}

// seededVector expands seed into a unit vector with a splitmix64 sequence.
func seededVector(seed uint64, dimensions int) []float32 {
	v := make([]float32, dimensions)
	state := seed
	var sum float64
	for i := range v {
		state += 0x9e3779b97f4a7c15
		z := state
		z = (z ^ (z >> 30)) * 0xbf58476d1ce4e5b9
		z = (z ^ (z >> 27)) * 0x94d049bb133111eb
		z ^= z >> 31
		x := float64(z>>11)/float64(1<<53)*2 - 1
		v[i] = float32(x)
		sum += x * x
	}
	if sum == 0 {
		v[0] = 1
		return v
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
	return v
}
