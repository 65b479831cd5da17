package models

import (
	"fmt"
	"math"
	"strings"
)

// SearchQuery is a search request. Nil TopK or Threshold means "use the default".
type SearchQuery struct {
	Query     string   `json:"query"`
	TopK      *int     `json:"top_k,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

// SearchLimits bounds and defaults SearchQuery fields.
type SearchLimits struct {
	DefaultTopK      int
	MaxTopK          int
	DefaultThreshold float64
}

// Validate trims the query, fills defaults, and clamps TopK to [1, MaxTopK].
// Returns an error if the query is empty or the threshold is not a number.
func (q *SearchQuery) Validate(limits SearchLimits) error {
	q.Query = strings.TrimSpace(q.Query)
	if q.Query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	topK := limits.DefaultTopK
	if q.TopK != nil && *q.TopK > 0 {
		topK = *q.TopK
	}
	if limits.MaxTopK > 0 && topK > limits.MaxTopK {
		topK = limits.MaxTopK
	}
	if topK <= 0 {
		topK = 1
	}
	q.TopK = &topK

	threshold := limits.DefaultThreshold
	if q.Threshold != nil {
		threshold = *q.Threshold
	}
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return fmt.Errorf("threshold must be a finite number")
	}
	q.Threshold = &threshold
	return nil
}

// Limit returns the validated TopK.
func (q *SearchQuery) Limit() int {
	if q.TopK == nil {
		return 0
	}
	return *q.TopK
}

// MinSimilarity returns the validated threshold.
func (q *SearchQuery) MinSimilarity() float64 {
	if q.Threshold == nil {
		return 0
	}
	return *q.Threshold
}
