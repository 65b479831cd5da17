// Package search runs text-to-image searches: query aggregation, store lookup, and
// interaction logging.
package search

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hyperjump/shashin/internal/models"
	"github.com/hyperjump/shashin/internal/query"
	"github.com/hyperjump/shashin/internal/storage"
	"github.com/hyperjump/shashin/internal/vector"
	"go.uber.org/zap"
)

// DefaultLimits are five results with no similarity floor.
var DefaultLimits = models.SearchLimits{DefaultTopK: 5, MaxTopK: 100, DefaultThreshold: 0}

// Engine answers text queries against an image store.
type Engine struct {
	store      vector.Store
	aggregator *query.Aggregator
	log        storage.Storage // nil disables interaction logging
	limits     models.SearchLimits
	modelName  string
	logger     *zap.Logger
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithInteractionLog records every successful search in s.
func WithInteractionLog(s storage.Storage) EngineOption {
	return func(e *Engine) { e.log = s }
}

// WithLimits overrides DefaultLimits.
func WithLimits(l models.SearchLimits) EngineOption {
	return func(e *Engine) { e.limits = l }
}

// WithModelName sets the model name written to the interaction log.
func WithModelName(name string) EngineOption {
	return func(e *Engine) { e.modelName = name }
}

// WithLogger sets a logger for search events.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates a search engine over store.
func NewEngine(store vector.Store, aggregator *query.Aggregator, opts ...EngineOption) *Engine {
	e := &Engine{
		store:      store,
		aggregator: aggregator,
		limits:     DefaultLimits,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Search validates q, embeds it, and returns ranked images. clientIP is only logged.
// A failure to write the interaction log is logged and does not fail the search.
func (e *Engine) Search(ctx context.Context, q *models.SearchQuery, clientIP string) (*models.SearchResponse, error) {
	start := time.Now()
	if err := q.Validate(e.limits); err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrInvalidInput, err)
	}

	qv, err := e.aggregator.Embed(ctx, q.Query)
	if err != nil {
		return nil, err
	}
	hits, err := e.store.Search(ctx, qv, q.Limit(), q.MinSimilarity())
	if err != nil {
		return nil, fmt.Errorf("store search: %w", err)
	}

	resp := &models.SearchResponse{
		Query:     q.Query,
		Results:   make([]*models.SearchResult, 0, len(hits)),
		Total:     len(hits),
		StoreType: e.store.Type(),
	}
	for i, h := range hits {
		resp.Results = append(resp.Results, &models.SearchResult{
			Path:       h.Path,
			Name:       filepath.Base(h.Path),
			Similarity: h.Similarity,
			Rank:       i + 1,
		})
	}
	elapsed := time.Since(start)
	resp.QueryTime = elapsed.Milliseconds()

	e.logger.Debug("search completed",
		zap.String("query", q.Query),
		zap.Int("results", resp.Total),
		zap.Duration("elapsed", elapsed),
	)
	if e.log != nil {
		resp.ID = e.record(ctx, resp, elapsed, clientIP)
	}
	return resp, nil
}

func (e *Engine) record(ctx context.Context, resp *models.SearchResponse, elapsed time.Duration, clientIP string) string {
	in := &models.SearchInteraction{
		Query:            resp.Query,
		ResultsCount:     resp.Total,
		ModelUsed:        e.modelName,
		StoreType:        resp.StoreType,
		ProcessingTimeMs: float64(elapsed.Microseconds()) / 1000,
		ClientIP:         clientIP,
		Images:           make([]*models.ImageInteraction, len(resp.Results)),
	}
	if len(resp.Results) > 0 {
		in.TopSimilarity = resp.Results[0].Similarity
	}
	for i, r := range resp.Results {
		in.Images[i] = &models.ImageInteraction{ImagePath: r.Path, SimilarityScore: r.Similarity, RankPosition: r.Rank}
	}
	if err := e.log.RecordSearch(ctx, in); err != nil {
		e.logger.Warn("failed to record search", zap.String("query", resp.Query), zap.Error(err))
		return ""
	}
	return in.ID
}
