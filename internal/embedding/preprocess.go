package embedding

import (
	"image"
	"image/draw"
	"math"
)

// CLIP image normalization constants.
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// ClipImageSize is the input resolution of CLIP ViT-B/32.
const ClipImageSize = 224

// PreprocessCLIP resizes img so its short side equals size, center-crops to size x size,
// and returns the pixels as a normalized CHW float tensor of length 3*size*size.
func PreprocessCLIP(img image.Image, size int) []float32 {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Src)
	w, h := b.Dx(), b.Dy()

	out := make([]float32, 3*size*size)
	if w == 0 || h == 0 {
		return out
	}
	scale := float64(size) / float64(minInt(w, h))
	rw := int(math.Round(float64(w) * scale))
	rh := int(math.Round(float64(h) * scale))
	ox := (rw - size) / 2
	oy := (rh - size) / 2

	plane := size * size
	for y := 0; y < size; y++ {
		sy := (float64(y+oy)+0.5)/scale - 0.5
		for x := 0; x < size; x++ {
			sx := (float64(x+ox)+0.5)/scale - 0.5
			px := bilinear(rgba, sx, sy)
			i := y*size + x
			for c := 0; c < 3; c++ {
				out[c*plane+i] = (px[c]/255 - clipMean[c]) / clipStd[c]
			}
		}
	}
	return out
}

// bilinear samples RGB at fractional source coordinates, clamping at the edges.
func bilinear(img *image.RGBA, x, y float64) [3]float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	x = clamp(x, 0, float64(w-1))
	y = clamp(y, 0, float64(h-1))
	x0, y0 := int(x), int(y)
	x1, y1 := minInt(x0+1, w-1), minInt(y0+1, h-1)
	fx, fy := float32(x-float64(x0)), float32(y-float64(y0))

	var px [3]float32
	for c := 0; c < 3; c++ {
		p00 := float32(img.Pix[img.PixOffset(x0, y0)+c])
		p10 := float32(img.Pix[img.PixOffset(x1, y0)+c])
		p01 := float32(img.Pix[img.PixOffset(x0, y1)+c])
		p11 := float32(img.Pix[img.PixOffset(x1, y1)+c])
		top := p00 + (p10-p00)*fx
		bottom := p01 + (p11-p01)*fx
		px[c] = top + (bottom-top)*fy
	}
	return px
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}
