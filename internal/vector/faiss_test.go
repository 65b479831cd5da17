//go:build faiss && cgo
// +build faiss,cgo

package vector

import (
	"path/filepath"
	"testing"
)

func TestIsFAISSAvailable(t *testing.T) {
	if !IsFAISSAvailable() {
		t.Error("IsFAISSAvailable should be true with the faiss build tag")
	}
}

func TestFAISSIndex_MatchesFlatIndex(t *testing.T) {
	data := []float32{1, 0, 0, 1, 0.6, 0.8}
	fi, err := newIPIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer fi.Close()
	if err := fi.Add(data); err != nil {
		t.Fatal(err)
	}
	flat := newFlatIndex(2)
	_ = flat.Add(data)

	gotScores, gotLabels, err := fi.Search([]float32{0.8, 0.6}, 3)
	if err != nil {
		t.Fatal(err)
	}
	wantScores, wantLabels, _ := flat.Search([]float32{0.8, 0.6}, 3)
	for i := range wantLabels {
		if gotLabels[i] != wantLabels[i] {
			t.Errorf("rank %d: label %d, want %d", i, gotLabels[i], wantLabels[i])
		}
		if d := gotScores[i] - wantScores[i]; d > 1e-5 || d < -1e-5 {
			t.Errorf("rank %d: score %v, want %v", i, gotScores[i], wantScores[i])
		}
	}
}

func TestFAISSIndex_SaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), acceleratedIndexFile)
	fi, err := newIPIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	_ = fi.Add([]float32{1, 0, 0, 1})
	if err := fi.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	_ = fi.Close()

	loaded, err := loadIPIndex(path, 2)
	if err != nil {
		t.Fatalf("loadIPIndex: %v", err)
	}
	defer loaded.Close()
	if loaded.Ntotal() != 2 {
		t.Errorf("Ntotal=%d, want 2", loaded.Ntotal())
	}
}

func TestFAISSIndex_Truncate(t *testing.T) {
	fi, err := newIPIndex(2)
	if err != nil {
		t.Fatal(err)
	}
	defer fi.Close()
	_ = fi.Add([]float32{1, 0, 0, 1, 0.6, 0.8})
	if err := fi.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if fi.Ntotal() != 1 {
		t.Errorf("Ntotal=%d, want 1", fi.Ntotal())
	}
}
