package dataset

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	"github.com/gabriel-vasile/mimetype"
)

// maxImageBytes bounds how much of a single image is read into memory.
const maxImageBytes = 64 << 20

// Decode reads and decodes an image, rejecting content that is not a supported image type.
func Decode(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	if len(data) > maxImageBytes {
		return nil, fmt.Errorf("image exceeds %d bytes", maxImageBytes)
	}
	mt := mimetype.Detect(data)
	if !mt.Is("image/jpeg") && !mt.Is("image/png") && !mt.Is("image/gif") {
		return nil, fmt.Errorf("unsupported image type %s", mt.String())
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", mt.String(), err)
	}
	return img, nil
}

// Load opens ref from src and decodes it.
func Load(ctx context.Context, src Source, ref string) (image.Image, error) {
	rc, err := src.Open(ctx, ref)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, err := Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	return img, nil
}
