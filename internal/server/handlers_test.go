package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hyperjump/shashin/internal/config"
	"github.com/hyperjump/shashin/internal/dataset"
	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/indexer"
	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/query"
	"github.com/hyperjump/shashin/internal/search"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

const testDim = 8

type testEnv struct {
	srv     *Server
	store   vector.Store
	images  string
	storage *storage.SQLiteStorage
}

func writeImages(t *testing.T, dir string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		img := image.NewRGBA(image.Rect(0, 0, 8, 8))
		for y := 0; y < 8; y++ {
			for x := 0; x < 8; x++ {
				img.Set(x, y, color.RGBA{R: uint8(50 * i), G: uint8(x * 30), B: uint8(y * 30), A: 255})
			}
		}
		f, err := os.Create(filepath.Join(dir, fmt.Sprintf("img_%d.jpg", i)))
		if err != nil {
			t.Fatal(err)
		}
		if err := jpeg.Encode(f, img, nil); err != nil {
			t.Fatal(err)
		}
		f.Close()
	}
}

func newTestEnv(t *testing.T, nImages int) *testEnv {
	t.Helper()
	dir := t.TempDir()
	images := filepath.Join(dir, "images")
	if err := os.MkdirAll(images, 0755); err != nil {
		t.Fatal(err)
	}
	writeImages(t, images, nImages)

	logger := zap.NewNop()
	store, err := vector.NewStore("memory", filepath.Join(dir, "store"), testDim)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	db, err := storage.NewSQLiteStorage(filepath.Join(dir, "db.sqlite"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	encoder := embedding.NewMockEncoder(testDim)
	source := dataset.NewLocal(images)
	idx := indexer.NewIndexer(store, encoder, source, indexer.WithBatchSize(2))
	engine := search.NewEngine(store, query.NewAggregator(encoder, logger),
		search.WithInteractionLog(db),
		search.WithModelName("mock"),
	)
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	cfg.Storage.StoreDir = filepath.Join(dir, "store")
	cfg.Storage.DatabasePath = filepath.Join(dir, "db.sqlite")

	srv := NewServer(engine, idx, store, source, db, cfg, logger)
	t.Cleanup(func() { srv.Stop(context.Background()) })
	return &testEnv{srv: srv, store: store, images: images, storage: db}
}

func (e *testEnv) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) populate(t *testing.T) {
	t.Helper()
	if _, err := e.srv.indexer.Run(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
}

func TestHandleHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestHandleSearch(t *testing.T) {
	env := newTestEnv(t, 4)
	env.populate(t)

	threshold := -1.0
	topK := 3
	rec := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "a red car", TopK: &topK, Threshold: &threshold})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 3 || len(resp.Results) != 3 {
		t.Fatalf("total = %d results = %d, want 3", resp.Total, len(resp.Results))
	}
	for i, r := range resp.Results {
		if r.Rank != i+1 {
			t.Errorf("result %d rank = %d", i, r.Rank)
		}
		if i > 0 && r.Similarity > resp.Results[i-1].Similarity {
			t.Errorf("results not sorted: %v", resp.Results)
		}
		if !strings.HasPrefix(r.Name, "img_") {
			t.Errorf("name = %s", r.Name)
		}
	}
	if resp.ID == "" {
		t.Error("expected interaction id")
	}
	if resp.StoreType != "memory" {
		t.Errorf("store_type = %s", resp.StoreType)
	}
}

func TestHandleSearch_badRequests(t *testing.T) {
	env := newTestEnv(t, 1)
	rec := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "   "})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty query status = %d, want 400", rec.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/search", strings.NewReader("{not json"))
	raw := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(raw, req)
	if raw.Code != http.StatusBadRequest {
		t.Errorf("malformed body status = %d, want 400", raw.Code)
	}
}

func TestHandleSearch_emptyStore(t *testing.T) {
	env := newTestEnv(t, 0)
	rec := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: "dog"})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp models.SearchResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 0 || len(resp.Results) != 0 {
		t.Errorf("expected no results, got %+v", resp)
	}
}

func TestHandleImage(t *testing.T) {
	env := newTestEnv(t, 2)
	rec := env.do(t, http.MethodGet, "/api/v1/images/img_1.jpg", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}
	if rec.Body.Len() == 0 {
		t.Error("empty body")
	}

	rec = env.do(t, http.MethodGet, "/api/v1/images/nope.jpg", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing image status = %d, want 404", rec.Code)
	}
}

func TestHandleImage_rejectsTraversal(t *testing.T) {
	env := newTestEnv(t, 1)
	secret := filepath.Join(filepath.Dir(env.images), "secret.jpg")
	if err := os.WriteFile(secret, []byte("x"), 0600); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../secret.jpg", "..", `..\secret.jpg`} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/images/x", nil)
		rctx := chi.NewRouteContext()
		rctx.URLParams.Add("name", name)
		req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
		rec := httptest.NewRecorder()
		env.srv.handleImage(rec, req)
		if rec.Code != http.StatusNotFound {
			t.Errorf("name %q: status = %d, want 404", name, rec.Code)
		}
	}
}

func TestHandleImage_nonLocalSource(t *testing.T) {
	env := newTestEnv(t, 1)
	env.srv.source = dataset.NewS3(nil, "bucket", "")
	rec := env.do(t, http.MethodGet, "/api/v1/images/img_0.jpg", nil)
	if rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501", rec.Code)
	}
}

func TestHandleDataset(t *testing.T) {
	env := newTestEnv(t, 3)
	rec := env.do(t, http.MethodGet, "/api/v1/dataset", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var info dataset.Info
	if err := json.NewDecoder(rec.Body).Decode(&info); err != nil {
		t.Fatal(err)
	}
	if !info.Exists || info.ImageCount != 3 || info.Location != env.images {
		t.Errorf("info = %+v", info)
	}
}

func waitForJob(t *testing.T, env *testEnv, id string) IndexJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		rec := env.do(t, http.MethodGet, "/api/v1/index/"+id, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("get job status = %d", rec.Code)
		}
		var job IndexJob
		if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
			t.Fatal(err)
		}
		if job.done() {
			return job
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job did not finish")
	return IndexJob{}
}

func TestHandleIndex(t *testing.T) {
	env := newTestEnv(t, 5)
	rec := env.do(t, http.MethodPost, "/api/v1/index", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d body = %s", rec.Code, rec.Body.String())
	}
	var started map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&started); err != nil {
		t.Fatal(err)
	}
	id := started["job_id"]
	if id == "" {
		t.Fatal("missing job_id")
	}

	job := waitForJob(t, env, id)
	if job.State != JobCompleted {
		t.Fatalf("state = %s error = %s", job.State, job.Error)
	}
	if job.Indexed != 5 || env.store.Len() != 5 {
		t.Errorf("indexed = %d store len = %d, want 5", job.Indexed, env.store.Len())
	}
	if job.Progress.Batches != 3 || job.Progress.Batch != 3 {
		t.Errorf("progress = %+v, want 3/3 batches", job.Progress)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/index/"+id+"/stream", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("stream status = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("stream content type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "event: completed\n") {
		t.Errorf("stream body = %s", rec.Body.String())
	}
}

func TestHandleIndex_unknownJob(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, path := range []string{"/api/v1/index/nope", "/api/v1/index/nope/stream"} {
		rec := env.do(t, http.MethodGet, path, nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", path, rec.Code)
		}
	}
}

func TestHandleInteractions(t *testing.T) {
	env := newTestEnv(t, 2)
	env.populate(t)
	for _, q := range []string{"first", "second"} {
		if rec := env.do(t, http.MethodPost, "/api/v1/search", models.SearchQuery{Query: q}); rec.Code != http.StatusOK {
			t.Fatalf("search status = %d", rec.Code)
		}
	}

	rec := env.do(t, http.MethodGet, "/api/v1/interactions?limit=1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Interactions []*models.SearchInteraction `json:"interactions"`
		Total        int                         `json:"total"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if body.Total != 1 || body.Interactions[0].Query != "second" {
		t.Fatalf("interactions = %+v", body)
	}
	if body.Interactions[0].ClientIP != "192.0.2.1" {
		t.Errorf("client ip = %q", body.Interactions[0].ClientIP)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/interactions/"+body.Interactions[0].ID, nil)
	if rec.Code != http.StatusOK {
		t.Errorf("get interaction status = %d", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/interactions/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing interaction status = %d, want 404", rec.Code)
	}
	rec = env.do(t, http.MethodGet, "/api/v1/interactions?limit=abc", nil)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad limit status = %d, want 400", rec.Code)
	}
}

func TestHandleStatus(t *testing.T) {
	env := newTestEnv(t, 3)
	env.populate(t)
	rec := env.do(t, http.MethodGet, "/api/v1/status", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp map[string]interface{}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp["store_size"] != float64(3) {
		t.Errorf("store_size = %v", resp["store_size"])
	}
	if resp["dimensions"] != float64(testDim) {
		t.Errorf("dimensions = %v", resp["dimensions"])
	}
	if _, ok := resp["disk_usage_bytes"]; !ok {
		t.Error("expected disk_usage_bytes")
	}
	if _, ok := resp["disk_usage"].(string); !ok {
		t.Error("expected human readable disk_usage")
	}
	if usage, ok := resp["usage"].(map[string]interface{}); !ok || usage["store_bytes"] == nil {
		t.Errorf("expected usage breakdown, got %v", resp["usage"])
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{vector.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("x: %w", vector.ErrShapeMismatch), http.StatusBadRequest},
		{vector.ErrDegenerateVector, http.StatusBadRequest},
		{vector.ErrNotFound, http.StatusNotFound},
		{dataset.ErrNotFound, http.StatusNotFound},
		{storage.ErrNotFound, http.StatusNotFound},
		{vector.ErrEncodingFailed, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
