package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"
)

// ErrModelLoading is returned while a hosted model is still starting (HTTP 503).
var ErrModelLoading = errors.New("remote model is still loading")

const defaultRemoteTimeout = 30 * time.Second

// RemoteConfig points at a hosted feature-extraction endpoint, such as the Hugging Face
// Inference API.
type RemoteConfig struct {
	URL        string
	APIToken   string // sent as a bearer token when set
	Dimensions int
	Timeout    time.Duration
	Client     *http.Client // optional; overrides Timeout
}

// RemoteEncoder embeds text and images by posting them to a feature-extraction endpoint.
// Text is sent as JSON, images as JPEG bytes, one request per image. Token-level
// responses are mean-pooled into a single vector.
type RemoteEncoder struct {
	url        string
	token      string
	dimensions int
	client     *http.Client
}

// NewRemoteEncoder validates cfg. No request is made until the first encode.
func NewRemoteEncoder(cfg RemoteConfig) (*RemoteEncoder, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote encoder URL is required")
	}
	if cfg.Dimensions <= 0 {
		return nil, fmt.Errorf("remote encoder dimensions must be positive, got %d", cfg.Dimensions)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultRemoteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &RemoteEncoder{
		url:        cfg.URL,
		token:      cfg.APIToken,
		dimensions: cfg.Dimensions,
		client:     client,
	}, nil
}

type featureRequest struct {
	Inputs  string         `json:"inputs"`
	Options featureOptions `json:"options"`
}

type featureOptions struct {
	WaitForModel bool `json:"wait_for_model"`
}

func (e *RemoteEncoder) EncodeText(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(featureRequest{Inputs: text, Options: featureOptions{WaitForModel: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return e.post(ctx, bytes.NewReader(body), "application/json")
}

func (e *RemoteEncoder) EncodeImages(ctx context.Context, images []image.Image) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i, img := range images {
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
			return nil, fmt.Errorf("image %d: encode jpeg: %w", i, err)
		}
		v, err := e.post(ctx, &buf, "image/jpeg")
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i, err)
		}
		out[i] = v
	}
	return out, nil
}

func (e *RemoteEncoder) Dimensions() int {
	return e.dimensions
}

func (e *RemoteEncoder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}

func (e *RemoteEncoder) post(ctx context.Context, body io.Reader, contentType string) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.url, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusServiceUnavailable:
		return nil, ErrModelLoading
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("bad status %d: %s", resp.StatusCode, truncateBody(raw))
	}
	return parseFeatures(raw, e.dimensions)
}

// parseFeatures reads a feature-extraction response: a vector, or nested arrays of
// vectors (tokens, batch) that are mean-pooled level by level.
func parseFeatures(raw []byte, dimensions int) ([]float32, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("invalid JSON response: %s", truncateBody(raw))
	}
	res := gjson.ParseBytes(raw)
	if !res.IsArray() {
		if msg := res.Get("error"); msg.Exists() {
			return nil, fmt.Errorf("remote encoder: %s", msg.String())
		}
		return nil, fmt.Errorf("unexpected response: %s", truncateBody(raw))
	}
	pooled, err := meanPool(res)
	if err != nil {
		return nil, err
	}
	if len(pooled) != dimensions {
		return nil, fmt.Errorf("remote encoder returned %d dimensions, expected %d", len(pooled), dimensions)
	}
	out := make([]float32, len(pooled))
	for i, x := range pooled {
		out[i] = float32(x)
	}
	return out, nil
}

func meanPool(res gjson.Result) ([]float64, error) {
	items := res.Array()
	if len(items) == 0 {
		return nil, errors.New("empty feature array")
	}
	if items[0].Type == gjson.Number {
		out := make([]float64, len(items))
		for i, it := range items {
			if it.Type != gjson.Number {
				return nil, fmt.Errorf("feature %d is %s, not a number", i, it.Type)
			}
			out[i] = it.Float()
		}
		return out, nil
	}
	var sum []float64
	for i, it := range items {
		if !it.IsArray() {
			return nil, fmt.Errorf("element %d is not an array", i)
		}
		v, err := meanPool(it)
		if err != nil {
			return nil, err
		}
		if sum == nil {
			sum = v
			continue
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("ragged features: %d vs %d", len(v), len(sum))
		}
		for j := range v {
			sum[j] += v[j]
		}
	}
	for j := range sum {
		sum[j] /= float64(len(items))
	}
	return sum, nil
}

func truncateBody(raw []byte) string {
	const limit = 200
	if len(raw) > limit {
		return string(raw[:limit]) + "..."
	}
	return string(raw)
}
