package models

// SearchResult is a single ranked image hit.
type SearchResult struct {
	Path       string  `json:"path"`
	Name       string  `json:"name"` // base file name, as served by the image endpoint
	Similarity float64 `json:"similarity"`
	Rank       int     `json:"rank"` // 1-based
}

// SearchResponse is the response for a search request.
type SearchResponse struct {
	ID        string          `json:"id,omitempty"` // interaction id when the search was logged
	Query     string          `json:"query"`
	Results   []*SearchResult `json:"results"`
	Total     int             `json:"total"`
	QueryTime int64           `json:"query_time_ms"`
	StoreType string          `json:"store_type"`
}
