//go:build cgo
// +build cgo

package embedding

import (
	"context"
	"fmt"
	"image"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/multierr"
)

// CLIPConfig locates the exported CLIP text and vision models.
type CLIPConfig struct {
	TextModelPath  string // inputs input_ids, attention_mask; output text_embeds
	ImageModelPath string // input pixel_values; output image_embeds
	VocabPath      string // optional CLIP vocab.json
	Dimensions     int
	MaxTokens      int
}

// CLIPEncoder runs CLIP text and vision towers through ONNX Runtime. It requires CGO and
// the onnxruntime shared library. Calls are serialized; the sessions reuse bound tensors.
type CLIPEncoder struct {
	textSession  *ort.AdvancedSession
	imageSession *ort.AdvancedSession

	inputIDs      *ort.Tensor[int64]
	attentionMask *ort.Tensor[int64]
	textOut       *ort.Tensor[float32]
	pixels        *ort.Tensor[float32]
	imageOut      *ort.Tensor[float32]

	tokenizer  Tokenizer
	dimensions int
	maxTokens  int
	closed     bool
	mu         sync.Mutex
}

type destroyer interface{ Destroy() error }

// NewCLIPEncoder creates both sessions. InitializeEnvironment is called if not already done.
func NewCLIPEncoder(cfg CLIPConfig) (*CLIPEncoder, error) {
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("CLIP dimensions must be positive, got %d", cfg.Dimensions)
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = ClipContextLength
	}
	tokenizer, err := NewCLIPTokenizer(cfg.VocabPath)
	if err != nil {
		return nil, err
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize ONNX runtime: %w", err)
		}
	}

	var created []destroyer
	fail := func(err error) (*CLIPEncoder, error) {
		for i := len(created) - 1; i >= 0; i-- {
			_ = created[i].Destroy()
		}
		return nil, err
	}

	e := &CLIPEncoder{tokenizer: tokenizer, dimensions: cfg.Dimensions, maxTokens: cfg.MaxTokens}
	tokens := ort.NewShape(1, int64(cfg.MaxTokens))
	if e.inputIDs, err = ort.NewEmptyTensor[int64](tokens); err != nil {
		return fail(fmt.Errorf("failed to create input_ids tensor: %w", err))
	}
	created = append(created, e.inputIDs)
	if e.attentionMask, err = ort.NewEmptyTensor[int64](tokens); err != nil {
		return fail(fmt.Errorf("failed to create attention_mask tensor: %w", err))
	}
	created = append(created, e.attentionMask)
	if e.textOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions))); err != nil {
		return fail(fmt.Errorf("failed to create text output tensor: %w", err))
	}
	created = append(created, e.textOut)
	if e.pixels, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, ClipImageSize, ClipImageSize)); err != nil {
		return fail(fmt.Errorf("failed to create pixel_values tensor: %w", err))
	}
	created = append(created, e.pixels)
	if e.imageOut, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(cfg.Dimensions))); err != nil {
		return fail(fmt.Errorf("failed to create image output tensor: %w", err))
	}
	created = append(created, e.imageOut)

	e.textSession, err = ort.NewAdvancedSession(cfg.TextModelPath,
		[]string{"input_ids", "attention_mask"}, []string{"text_embeds"},
		[]ort.ArbitraryTensor{e.inputIDs, e.attentionMask}, []ort.ArbitraryTensor{e.textOut}, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create text session: %w", err))
	}
	created = append(created, e.textSession)
	e.imageSession, err = ort.NewAdvancedSession(cfg.ImageModelPath,
		[]string{"pixel_values"}, []string{"image_embeds"},
		[]ort.ArbitraryTensor{e.pixels}, []ort.ArbitraryTensor{e.imageOut}, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create image session: %w", err))
	}
	return e, nil
}

// EncodeText tokenizes text and runs the text tower.
func (e *CLIPEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ids, mask := e.tokenizer.Tokenize(text, e.maxTokens)

	e.mu.Lock()
	defer e.mu.Unlock()
	copy(e.inputIDs.GetData(), ids)
	copy(e.attentionMask.GetData(), mask)
	if err := e.textSession.Run(); err != nil {
		return nil, fmt.Errorf("text inference failed: %w", err)
	}
	return append([]float32(nil), e.textOut.GetData()[:e.dimensions]...), nil
}

// EncodeImages preprocesses each image and runs the vision tower one image at a time.
func (e *CLIPEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pixels := PreprocessCLIP(img, ClipImageSize)

		e.mu.Lock()
		copy(e.pixels.GetData(), pixels)
		err := e.imageSession.Run()
		if err == nil {
			out[i] = append([]float32(nil), e.imageOut.GetData()[:e.dimensions]...)
		}
		e.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("image %d inference failed: %w", i, err)
		}
	}
	return out, nil
}

// Dimensions returns the embedding dimension.
func (e *CLIPEncoder) Dimensions() int {
	return e.dimensions
}

// Close destroys the sessions and tensors.
func (e *CLIPEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	var err error
	for _, d := range []destroyer{e.imageSession, e.textSession, e.imageOut, e.pixels, e.textOut, e.attentionMask, e.inputIDs} {
		err = multierr.Append(err, d.Destroy())
	}
	return err
}
