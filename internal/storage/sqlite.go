package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hyperjump/shashin/internal/models"
)

// ErrNotFound is returned when an interaction id is unknown.
var ErrNotFound = errors.New("interaction not found")

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS search_interactions (
		id TEXT PRIMARY KEY,
		query TEXT NOT NULL,
		results_count INTEGER NOT NULL,
		top_similarity REAL,
		model_used TEXT,
		store_type TEXT,
		processing_time_ms REAL,
		client_ip TEXT,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_search_created_at ON search_interactions(created_at);

	CREATE TABLE IF NOT EXISTS image_interactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		search_id TEXT NOT NULL,
		image_path TEXT NOT NULL,
		similarity_score REAL NOT NULL,
		rank_position INTEGER NOT NULL,
		FOREIGN KEY (search_id) REFERENCES search_interactions(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_images_search_id ON image_interactions(search_id, rank_position);
	CREATE INDEX IF NOT EXISTS idx_images_path ON image_interactions(image_path);
	`
	_, err := db.Exec(schema)
	return err
}

// RecordSearch inserts the search and its images in one transaction.
func (s *SQLiteStorage) RecordSearch(ctx context.Context, in *models.SearchInteraction) error {
	if in.ID == "" {
		in.ID = uuid.New().String()
	}
	if in.CreatedAt.IsZero() {
		in.CreatedAt = time.Now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO search_interactions
		 (id, query, results_count, top_similarity, model_used, store_type, processing_time_ms, client_ip, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		in.ID, in.Query, in.ResultsCount, in.TopSimilarity, in.ModelUsed, in.StoreType,
		in.ProcessingTimeMs, in.ClientIP, in.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert search: %w", err)
	}

	if len(in.Images) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO image_interactions (search_id, image_path, similarity_score, rank_position)
			 VALUES (?, ?, ?, ?)`,
		)
		if err != nil {
			return err
		}
		defer stmt.Close()
		for _, img := range in.Images {
			if _, err := stmt.ExecContext(ctx, in.ID, img.ImagePath, img.SimilarityScore, img.RankPosition); err != nil {
				return fmt.Errorf("failed to insert image interaction: %w", err)
			}
		}
	}
	return tx.Commit()
}

const selectInteraction = `SELECT id, query, results_count, top_similarity, model_used, store_type,
	processing_time_ms, client_ip, created_at FROM search_interactions`

func scanInteraction(row interface{ Scan(...any) error }) (*models.SearchInteraction, error) {
	var in models.SearchInteraction
	var model, storeType, clientIP sql.NullString
	var top, ms sql.NullFloat64
	if err := row.Scan(&in.ID, &in.Query, &in.ResultsCount, &top, &model, &storeType, &ms, &clientIP, &in.CreatedAt); err != nil {
		return nil, err
	}
	in.TopSimilarity = top.Float64
	in.ModelUsed = model.String
	in.StoreType = storeType.String
	in.ProcessingTimeMs = ms.Float64
	in.ClientIP = clientIP.String
	return &in, nil
}

// GetInteraction returns one search with its images.
func (s *SQLiteStorage) GetInteraction(ctx context.Context, id string) (*models.SearchInteraction, error) {
	in, err := scanInteraction(s.db.QueryRowContext(ctx, selectInteraction+` WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	if in.Images, err = s.images(ctx, in.ID); err != nil {
		return nil, err
	}
	return in, nil
}

// ListRecent returns up to limit searches, newest first.
func (s *SQLiteStorage) ListRecent(ctx context.Context, limit int) ([]*models.SearchInteraction, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectInteraction+` ORDER BY created_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	var out []*models.SearchInteraction
	for rows.Next() {
		in, err := scanInteraction(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, in)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, in := range out {
		if in.Images, err = s.images(ctx, in.ID); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (s *SQLiteStorage) images(ctx context.Context, searchID string) ([]*models.ImageInteraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT image_path, similarity_score, rank_position
		 FROM image_interactions WHERE search_id = ? ORDER BY rank_position`,
		searchID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var images []*models.ImageInteraction
	for rows.Next() {
		var img models.ImageInteraction
		if err := rows.Scan(&img.ImagePath, &img.SimilarityScore, &img.RankPosition); err != nil {
			return nil, err
		}
		images = append(images, &img)
	}
	return images, rows.Err()
}

// CountInteractions returns the total number of logged searches.
func (s *SQLiteStorage) CountInteractions(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM search_interactions`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
