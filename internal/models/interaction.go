// Package models defines the request, response, and interaction log types shared by the
// search engine, storage, and HTTP layers.
package models

import "time"

// SearchInteraction records one executed search.
type SearchInteraction struct {
	ID               string              `json:"id"`
	Query            string              `json:"query"`
	ResultsCount     int                 `json:"results_count"`
	TopSimilarity    float64             `json:"top_similarity"`
	ModelUsed        string              `json:"model_used"`
	StoreType        string              `json:"store_type"`
	ProcessingTimeMs float64             `json:"processing_time_ms"`
	ClientIP         string              `json:"client_ip,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	Images           []*ImageInteraction `json:"images,omitempty"`
}

// ImageInteraction records one image returned by a search and where it ranked.
type ImageInteraction struct {
	ImagePath       string  `json:"image_path"`
	SimilarityScore float64 `json:"similarity_score"`
	RankPosition    int     `json:"rank_position"` // 1-based
}
