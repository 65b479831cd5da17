// Package storage persists the search interaction log.
package storage

import (
	"context"

	"github.com/hyperjump/shashin/internal/models"
)

// Storage defines interaction log operations.
type Storage interface {
	// RecordSearch stores a search and its returned images. An empty ID is assigned.
	RecordSearch(ctx context.Context, in *models.SearchInteraction) error
	GetInteraction(ctx context.Context, id string) (*models.SearchInteraction, error)
	// ListRecent returns the most recent searches first, with their images.
	ListRecent(ctx context.Context, limit int) ([]*models.SearchInteraction, error)
	CountInteractions(ctx context.Context) (int64, error)

	Close() error
}
