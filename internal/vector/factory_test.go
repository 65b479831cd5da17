package vector

import (
	"errors"
	"testing"
)

func TestNewStore(t *testing.T) {
	tests := []struct {
		storeType string
		wantType  string
	}{
		{"memory", "memory"},
		{"", "memory"},
		{"faiss", "faiss"},
		{"FAISS", "faiss"},
		{" Memory ", "memory"},
	}
	for _, tt := range tests {
		t.Run(tt.storeType, func(t *testing.T) {
			s, err := NewStore(tt.storeType, t.TempDir(), 8)
			if err != nil {
				t.Fatalf("NewStore: %v", err)
			}
			defer s.Close()
			if s.Type() != tt.wantType {
				t.Errorf("Type=%s, want %s", s.Type(), tt.wantType)
			}
			if s.Dimensions() != 8 {
				t.Errorf("Dimensions=%d, want 8", s.Dimensions())
			}
		})
	}
}

func TestNewStore_Unknown(t *testing.T) {
	s, err := NewStore("hnsw", "", 8)
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("err=%v, want ErrInvalidInput", err)
	}
	if s != nil {
		t.Errorf("expected nil store, got %T", s)
	}
}

func TestNewStore_BadDimensions(t *testing.T) {
	for _, st := range []string{"memory", "faiss"} {
		s, err := NewStore(st, "", 0)
		if !errors.Is(err, ErrInvalidInput) {
			t.Errorf("%s: err=%v, want ErrInvalidInput", st, err)
		}
		if s != nil {
			t.Errorf("%s: expected nil interface, got %T", st, s)
		}
	}
}
