package embedding

import (
	"context"
	"errors"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
)

func norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}

func solidImage(w, h int, c color.Color) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

func TestMockEncoder_Text(t *testing.T) {
	ctx := context.Background()
	e := NewMockEncoder(64)
	a1, err := e.EncodeText(ctx, "a photograph of a cat")
	if err != nil {
		t.Fatal(err)
	}
	a2, _ := e.EncodeText(ctx, "a photograph of a cat")
	b, _ := e.EncodeText(ctx, "a photograph of a dog")
	if len(a1) != 64 {
		t.Fatalf("len=%d, want 64", len(a1))
	}
	if math.Abs(norm(a1)-1) > 1e-5 {
		t.Errorf("norm=%v, want 1", norm(a1))
	}
	for i := range a1 {
		if a1[i] != a2[i] {
			t.Fatal("same text should encode identically")
		}
	}
	same := true
	for i := range a1 {
		if a1[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("different texts should encode differently")
	}
}

func TestMockEncoder_Images(t *testing.T) {
	ctx := context.Background()
	e := NewMockEncoder(0)
	if e.Dimensions() != 512 {
		t.Errorf("default Dimensions=%d, want 512", e.Dimensions())
	}
	red := solidImage(32, 32, color.NRGBA{255, 0, 0, 255})
	blue := solidImage(32, 32, color.NRGBA{0, 0, 255, 255})
	vecs, err := e.EncodeImages(ctx, []image.Image{red, blue, red})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("got %d vectors, want 3", len(vecs))
	}
	if vecs[0][0] != vecs[2][0] || vecs[0][511] != vecs[2][511] {
		t.Error("identical images should encode identically")
	}
	if vecs[0][0] == vecs[1][0] && vecs[0][1] == vecs[1][1] {
		t.Error("different images should encode differently")
	}
}

func TestMockEncoder_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewMockEncoder(8).EncodeText(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Errorf("err=%v, want context.Canceled", err)
	}
}

type countingEncoder struct {
	*MockEncoder
	textCalls atomic.Int32
}

func (c *countingEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	c.textCalls.Add(1)
	return c.MockEncoder.EncodeText(ctx, text)
}

func TestCachedEncoder(t *testing.T) {
	ctx := context.Background()
	inner := &countingEncoder{MockEncoder: NewMockEncoder(16)}
	c, err := NewCachedEncoder(inner, 2)
	if err != nil {
		t.Fatal(err)
	}
	first, _ := c.EncodeText(ctx, "a")
	first[0] = 42 // callers may mutate their copy
	second, _ := c.EncodeText(ctx, "a")
	if inner.textCalls.Load() != 1 {
		t.Errorf("inner called %d times, want 1", inner.textCalls.Load())
	}
	if second[0] == 42 {
		t.Error("cache returned a shared slice")
	}
	_, _ = c.EncodeText(ctx, "b")
	_, _ = c.EncodeText(ctx, "c") // evicts a
	_, _ = c.EncodeText(ctx, "a")
	if inner.textCalls.Load() != 4 {
		t.Errorf("inner called %d times, want 4", inner.textCalls.Load())
	}
	if c.Dimensions() != 16 {
		t.Errorf("Dimensions=%d, want 16", c.Dimensions())
	}
}

func TestNewEmbeddingCache_InvalidSize(t *testing.T) {
	if _, err := NewEmbeddingCache(0); err == nil {
		t.Error("expected error for zero capacity")
	}
}

func TestEmbeddingCache_GetSet(t *testing.T) {
	c, err := NewEmbeddingCache(2)
	if err != nil {
		t.Fatal(err)
	}
	if v, ok := c.Get("a"); ok || v != nil {
		t.Fatal("expected miss")
	}
	c.Set("a", []float32{1, 2, 3})
	v, ok := c.Get("a")
	if !ok || len(v) != 3 || v[0] != 1 {
		t.Errorf("Get: got %v, %v", v, ok)
	}
	c.Set("b", []float32{4, 5})
	c.Set("c", []float32{6}) // evicts a
	if _, ok := c.Get("a"); ok {
		t.Error("expected a to be evicted")
	}
	if c.Len() != 2 {
		t.Errorf("Len=%d, want 2", c.Len())
	}
}

func TestCLIPTokenizer_Framing(t *testing.T) {
	tok, err := NewCLIPTokenizer("")
	if err != nil {
		t.Fatal(err)
	}
	ids, mask := tok.Tokenize("A photo of a cat", ClipContextLength)
	if len(ids) != 77 || len(mask) != 77 {
		t.Fatalf("lengths %d/%d, want 77", len(ids), len(mask))
	}
	if ids[0] != clipStartToken {
		t.Errorf("ids[0]=%d, want start token", ids[0])
	}
	if ids[6] != clipEndToken || mask[6] != 1 {
		t.Errorf("expected end token at 6, got id %d mask %d", ids[6], mask[6])
	}
	if mask[7] != 0 || ids[7] != clipEndToken {
		t.Errorf("padding: id %d mask %d", ids[7], mask[7])
	}
	for i := 1; i < 6; i++ {
		if ids[i] < clipFirstWordID || ids[i] >= clipStartToken {
			t.Errorf("word id %d out of range: %d", i, ids[i])
		}
	}
	if ids[2] == ids[4] {
		t.Error("distinct words should hash to distinct ids")
	}
	if ids[1] != ids[4] {
		t.Error("case should not matter: 'A' and 'a' differ")
	}
}

func TestCLIPTokenizer_Truncates(t *testing.T) {
	tok, _ := NewCLIPTokenizer("")
	ids, mask := tok.Tokenize("one two three four five six", 4)
	if len(ids) != 4 {
		t.Fatalf("len=%d, want 4", len(ids))
	}
	if ids[3] != clipEndToken || mask[3] != 1 {
		t.Errorf("truncated sequence must end with end token, got %v", ids)
	}
}

func TestCLIPTokenizer_Vocab(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vocab.json")
	if err := os.WriteFile(path, []byte(`{"cat</w>": 2368, "photo</w>": 1125}`), 0600); err != nil {
		t.Fatal(err)
	}
	tok, err := NewCLIPTokenizer(path)
	if err != nil {
		t.Fatal(err)
	}
	ids, _ := tok.Tokenize("photo cat", 8)
	if ids[1] != 1125 || ids[2] != 2368 {
		t.Errorf("vocab lookup failed: %v", ids[:4])
	}
}

func TestSplitWords(t *testing.T) {
	got := SplitWords("  Two dogs, 3 cats!  ")
	want := []string{"two", "dogs", ",", "3", "cats", "!"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("word %d: got %q, want %q", i, got[i], want[i])
		}
	}
	if SplitWords("") != nil {
		t.Error("empty string should return nil")
	}
}

func TestPreprocessCLIP_SolidColor(t *testing.T) {
	img := solidImage(300, 200, color.NRGBA{R: 10, G: 128, B: 250, A: 255})
	out := PreprocessCLIP(img, ClipImageSize)
	plane := ClipImageSize * ClipImageSize
	if len(out) != 3*plane {
		t.Fatalf("len=%d, want %d", len(out), 3*plane)
	}
	want := [3]float32{
		(10.0/255 - clipMean[0]) / clipStd[0],
		(128.0/255 - clipMean[1]) / clipStd[1],
		(250.0/255 - clipMean[2]) / clipStd[2],
	}
	for c := 0; c < 3; c++ {
		for _, i := range []int{0, plane / 2, plane - 1} {
			if d := out[c*plane+i] - want[c]; d > 1e-4 || d < -1e-4 {
				t.Errorf("channel %d pixel %d: got %v, want %v", c, i, out[c*plane+i], want[c])
			}
		}
	}
}

func TestPreprocessCLIP_CenterCrop(t *testing.T) {
	// Left half black, right half white, wide image: the crop keeps the middle,
	// so the leftmost output column is dark and the rightmost bright.
	img := image.NewNRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			if x >= 200 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	out := PreprocessCLIP(img, 8)
	left, right := out[0], out[7]
	if !(left < 0 && right > 0) {
		t.Errorf("left=%v right=%v, expected dark left and bright right", left, right)
	}
}
