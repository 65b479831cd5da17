package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/models"
	"go.uber.org/zap"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{config.EnvDataPath, config.EnvSampleSize, config.EnvVectorStore, config.EnvStoreDir} {
		t.Setenv(k, "")
	}
}

func TestSearchArgsReorder(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected []string
	}{
		{
			name:     "flags after query are moved first",
			args:     []string{"red car", "-top-k", "3"},
			expected: []string{"-top-k", "3", "red car"},
		},
		{
			name:     "flags first returns unchanged",
			args:     []string{"-top-k", "3", "red car"},
			expected: []string{"-top-k", "3", "red car"},
		},
		{
			name:     "query only returns unchanged",
			args:     []string{"red car"},
			expected: []string{"red car"},
		},
		{
			name:     "empty args returns unchanged",
			args:     []string{},
			expected: []string{},
		},
		{
			name:     "multiple positionals then flags",
			args:     []string{"one", "two", "-threshold", "0.2"},
			expected: []string{"-threshold", "0.2", "one", "two"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := searchArgsReorder(tt.args)
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("searchArgsReorder() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuildSearchQuery(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		expected string
	}{
		{"single word", []string{"sunset"}, "sunset"},
		{"multiple words", []string{"dog", "on", "beach"}, "dog on beach"},
		{"single quoted phrase", []string{"dog on beach"}, "dog on beach"},
		{"empty args", []string{}, ""},
		{"blank args", []string{"  ", "  "}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := buildSearchQuery(tt.args)
			if got != tt.expected {
				t.Errorf("buildSearchQuery(%v) = %q, want %q", tt.args, got, tt.expected)
			}
		})
	}
}

func TestFlagSet(t *testing.T) {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.Float64("threshold", 0, "")
	fs.Int("top-k", 0, "")
	if err := fs.Parse([]string{"-threshold", "0", "query"}); err != nil {
		t.Fatal(err)
	}
	if !flagSet(fs, "threshold") {
		t.Error("threshold was set explicitly")
	}
	if flagSet(fs, "top-k") {
		t.Error("top-k was not set")
	}
}

func TestLoadConfig_prefersCwdConfigWhenDefaultPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
debug: true
vector:
  store_type: memory
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = os.Chdir(origWd) }()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}

	cfg, resolved, err := loadConfig(defaultConfigPath)
	if err != nil {
		t.Fatal(err)
	}
	// On macOS, cwd can be /private/var/... while t.TempDir() is /var/...; compare canonical paths.
	resolvedCanon, _ := filepath.EvalSymlinks(resolved)
	configPathCanon, _ := filepath.EvalSymlinks(configPath)
	if resolvedCanon != configPathCanon {
		t.Errorf("resolved path = %s, want %s", resolvedCanon, configPathCanon)
	}
	if !cfg.Debug {
		t.Error("debug should be true from cwd config.yaml")
	}
}

func TestLoadConfig_usesExplicitPath(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.yaml")
	content := `
server:
  host: "127.0.0.1"
  port: 9000
`
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	cfg, resolved, err := loadConfig(configPath)
	if err != nil {
		t.Fatal(err)
	}
	if resolved != configPath {
		t.Errorf("resolved path = %s, want %s", resolved, configPath)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9000 {
		t.Errorf("unexpected server config: %+v", cfg.Server)
	}
}

func TestNewSource(t *testing.T) {
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Dataset.DataPath = "/srv/images"
	if _, ok := newSource(cfg).(*dataset.Local); !ok {
		t.Error("local source expected by default")
	}
	cfg.Dataset.Source = config.SourceS3
	cfg.Dataset.S3.Bucket = "photos"
	if _, ok := newSource(cfg).(*dataset.S3); !ok {
		t.Error("s3 source expected")
	}
}

func testConfig(t *testing.T, images string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Vector.StoreType = "memory"
	cfg.Storage.StoreDir = filepath.Join(dir, "store")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db", "interactions.db")
	cfg.Embedding.TextModelPath = filepath.Join(dir, "missing-text.onnx")
	cfg.Embedding.ImageModelPath = filepath.Join(dir, "missing-image.onnx")
	cfg.Embedding.Dimensions = 16
	cfg.Dataset.DataPath = images
	cfg.Indexing.BatchSize = 2
	return cfg
}

func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.Set(x, y, color.RGBA{R: uint8(60 * i), G: uint8(x * 30), B: uint8(y * 30), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("photo_%d.jpg", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
}

func TestInitializeComponents_endToEnd(t *testing.T) {
	images := t.TempDir()
	writeImages(t, images, 3)
	cfg := testConfig(t, images)

	c, err := initializeComponents(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.ModelName != "mock" {
		t.Errorf("model = %s, want mock fallback", c.ModelName)
	}
	if c.Encoder.Dimensions() != 16 || c.Store.Dimensions() != 16 {
		t.Errorf("dimensions encoder=%d store=%d", c.Encoder.Dimensions(), c.Store.Dimensions())
	}

	ctx := context.Background()
	n, err := c.Indexer.EnsurePopulated(ctx, nil)
	if err != nil || n != 3 {
		t.Fatalf("EnsurePopulated = %d, %v", n, err)
	}
	if n, err := c.Indexer.EnsurePopulated(ctx, nil); err != nil || n != 0 {
		t.Errorf("second EnsurePopulated = %d, %v; want no-op", n, err)
	}

	threshold := -1.0
	resp, err := c.Engine.Search(ctx, &models.SearchQuery{Query: "a photo", Threshold: &threshold}, "")
	if err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || resp.ID == "" {
		t.Errorf("search total = %d id = %q", resp.Total, resp.ID)
	}

	status, err := localStatus(ctx, cfg, c)
	if err != nil {
		t.Fatal(err)
	}
	s := status.toCLI()
	if s.StoreSize != 3 || s.Interactions != 1 || s.DatasetImages != 3 || !s.DatasetExists || s.DiskUsageBytes <= 0 {
		t.Errorf("status = %+v", s)
	}
}

func TestInitializeComponents_invalidStoreType(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Vector.StoreType = "annoy"
	if _, err := initializeComponents(cfg, zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown store type")
	}
}

func TestNewEncoder_remoteModel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer hf_test" {
			t.Errorf("Authorization = %q", got)
		}
		vec := make([]float64, 16)
		vec[3] = 1
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(vec)
	}))
	defer srv.Close()

	cfg := testConfig(t, t.TempDir())
	cfg.Embedding.Model = config.ModelRemote
	cfg.Embedding.Remote.URL = srv.URL
	cfg.Embedding.Remote.APIToken = "hf_test"

	enc, name, err := newEncoder(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	defer enc.Close()
	if name != embedding.DefaultRemoteModelName {
		t.Errorf("name = %q, want %q", name, embedding.DefaultRemoteModelName)
	}
	v, err := enc.EncodeText(context.Background(), "a cat")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != 16 || v[3] != 1 {
		t.Errorf("vector = %v", v)
	}
}

func TestNewEncoder_modelSelection(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Embedding.Model = config.ModelMock
	cfg.Embedding.ModelName = "ignored"
	enc, name, err := newEncoder(cfg, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	enc.Close()
	if name != "mock" {
		t.Errorf("name = %q, want mock", name)
	}

	cfg.Embedding.Model = "annoy"
	if _, _, err := newEncoder(cfg, zap.NewNop()); err == nil {
		t.Error("expected error for unknown model, got mock fallback")
	}
	if _, err := initializeComponents(cfg, zap.NewNop()); err == nil {
		t.Error("initializeComponents accepted an unknown model")
	}
}

func TestStatusResponse_toCLI_withoutDataset(t *testing.T) {
	s := (&statusResponse{StoreType: "faiss", StoreSize: 2}).toCLI()
	if s.StoreType != "faiss" || s.StoreSize != 2 || s.DatasetExists {
		t.Errorf("status = %+v", s)
	}
}
