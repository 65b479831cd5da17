package storage

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/hyperjump/shashin/internal/models"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "nested", "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage_RecordAndGet(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()

	in := &models.SearchInteraction{
		Query:            "a red car",
		ResultsCount:     2,
		TopSimilarity:    0.31,
		ModelUsed:        "clip-vit-base-patch32",
		StoreType:        "faiss",
		ProcessingTimeMs: 12.5,
		ClientIP:         "127.0.0.1",
		Images: []*models.ImageInteraction{
			{ImagePath: "data/a.jpg", SimilarityScore: 0.31, RankPosition: 1},
			{ImagePath: "data/b.jpg", SimilarityScore: 0.29, RankPosition: 2},
		},
	}
	if err := store.RecordSearch(ctx, in); err != nil {
		t.Fatal(err)
	}
	if in.ID == "" || in.CreatedAt.IsZero() {
		t.Fatal("RecordSearch should assign ID and CreatedAt")
	}

	got, err := store.GetInteraction(ctx, in.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Query != "a red car" || got.ResultsCount != 2 || got.StoreType != "faiss" || got.ClientIP != "127.0.0.1" {
		t.Errorf("unexpected interaction: %+v", got)
	}
	if len(got.Images) != 2 || got.Images[0].ImagePath != "data/a.jpg" || got.Images[1].RankPosition != 2 {
		t.Errorf("unexpected images: %+v", got.Images)
	}

	if _, err := store.GetInteraction(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("err=%v, want ErrNotFound", err)
	}
}

func TestSQLiteStorage_ListRecent(t *testing.T) {
	store := newTestStorage(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		in := &models.SearchInteraction{Query: fmt.Sprintf("q%d", i), ResultsCount: i}
		if err := store.RecordSearch(ctx, in); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := store.ListRecent(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 3 {
		t.Fatalf("got %d, want 3", len(recent))
	}
	for i, want := range []string{"q4", "q3", "q2"} {
		if recent[i].Query != want {
			t.Errorf("recent[%d]=%s, want %s", i, recent[i].Query, want)
		}
	}

	n, err := store.CountInteractions(ctx)
	if err != nil || n != 5 {
		t.Errorf("CountInteractions = %d, %v; want 5", n, err)
	}
}

func TestSQLiteStorage_EmptyLog(t *testing.T) {
	store := newTestStorage(t)
	recent, err := store.ListRecent(context.Background(), 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Errorf("expected no interactions, got %d", len(recent))
	}
}

func TestSQLiteStorage_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.db")
	store, err := NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.RecordSearch(context.Background(), &models.SearchInteraction{Query: "persisted"}); err != nil {
		t.Fatal(err)
	}
	_ = store.Close()

	store, err = NewSQLiteStorage(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	recent, err := store.ListRecent(context.Background(), 10)
	if err != nil || len(recent) != 1 || recent[0].Query != "persisted" {
		t.Errorf("after reopen: %v, %v", recent, err)
	}
}
