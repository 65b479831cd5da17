// Package embedding turns query text and dataset images into vectors in a shared
// embedding space (CLIP via ONNX Runtime, or a deterministic mock for tests).
package embedding

import (
	"context"
	"image"
)

// Encoder produces embeddings for text and images in the same vector space.
// Returned vectors are not guaranteed to be normalized; stores normalize on insert.
type Encoder interface {
	EncodeText(ctx context.Context, text string) ([]float32, error)
	EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error)
	Dimensions() int
	Close() error
}
