//go:build !cgo
// +build !cgo

package embedding

import (
	"context"
	"errors"
	"image"
)

var errNoCGO = errors.New("CLIP encoder requires CGO; build with CGO_ENABLED=1 and onnxruntime")

// CLIPConfig locates the exported CLIP text and vision models.
type CLIPConfig struct {
	TextModelPath  string
	ImageModelPath string
	VocabPath      string
	Dimensions     int
	MaxTokens      int
}

// CLIPEncoder stub type when built without CGO (see onnx.go for the real implementation).
type CLIPEncoder struct{}

// NewCLIPEncoder returns an error when built without CGO.
func NewCLIPEncoder(CLIPConfig) (*CLIPEncoder, error) {
	return nil, errNoCGO
}

func (e *CLIPEncoder) EncodeText(context.Context, string) ([]float32, error) { return nil, errNoCGO }

func (e *CLIPEncoder) EncodeImages(context.Context, []image.Image) ([][]float32, error) {
	return nil, errNoCGO
}

func (e *CLIPEncoder) Dimensions() int { return 0 }

func (e *CLIPEncoder) Close() error { return nil }
