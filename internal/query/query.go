// Package query turns a free-text image query into a single embedding by averaging the
// encodings of several phrasings.
package query

import (
	"context"
	"fmt"
	"strings"

	"github.com/hyperjump/shashin/internal/embedding"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// Templates are the phrasings each query is expanded into, in order.
var Templates = [4]string{
	"a photograph of %s",
	"a photo showing %s",
	"a clear image of %s",
	"a scene with %s",
}

// Phrasings returns the query inserted into each template, in template order.
func Phrasings(q string) []string {
	out := make([]string, len(Templates))
	for i, t := range Templates {
		out[i] = fmt.Sprintf(t, q)
	}
	return out
}

// Aggregator encodes query phrasings and combines them into one unit vector.
type Aggregator struct {
	encoder embedding.Encoder
	logger  *zap.Logger
}

// NewAggregator returns an aggregator over encoder. logger may be nil.
func NewAggregator(encoder embedding.Encoder, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{encoder: encoder, logger: logger}
}

// Embed returns the renormalized mean of the phrasing encodings for q.
func (a *Aggregator) Embed(ctx context.Context, q string) ([]float32, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("%w: query is empty", vector.ErrInvalidInput)
	}
	phrasings := Phrasings(q)
	var sum []float64
	for _, p := range phrasings {
		v, err := a.encoder.EncodeText(ctx, p)
		if err != nil {
			return nil, fmt.Errorf("%w: encode %q: %w", vector.ErrEncodingFailed, p, err)
		}
		if sum == nil {
			if len(v) == 0 {
				return nil, fmt.Errorf("%w: encoder returned an empty vector", vector.ErrEncodingFailed)
			}
			sum = make([]float64, len(v))
		}
		if len(v) != len(sum) {
			return nil, fmt.Errorf("%w: phrasing %q encoded to dimension %d, expected %d",
				vector.ErrEncodingFailed, p, len(v), len(sum))
		}
		for i, x := range v {
			sum[i] += float64(x)
		}
	}
	mean := make([]float32, len(sum))
	for i, s := range sum {
		mean[i] = float32(s / float64(len(phrasings)))
	}
	out, err := vector.Normalize(mean)
	if err != nil {
		return nil, fmt.Errorf("aggregate query %q: %w", q, err)
	}
	a.logger.Debug("query embedded", zap.String("query", q), zap.Int("phrasings", len(phrasings)))
	return out, nil
}
