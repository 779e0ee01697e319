package chunkstore

import (
	"context"
	"errors"
	"testing"

	"github.com/siftd/sift/internal/log"
)

func TestNew_UnknownBackend(t *testing.T) {
	_, err := New(context.Background(), Config{Backend: "chroma-cloud"}, log.NewNop())
	if !errors.Is(err, ErrUnknownBackend) {
		t.Fatalf("err = %v, want ErrUnknownBackend", err)
	}
}

func TestNew_Local(t *testing.T) {
	store, err := New(context.Background(), Config{
		Backend:   BackendLocal,
		Dir:       t.TempDir(),
		Dimension: 4,
	}, log.NewNop())
	if err != nil {
		t.Fatalf("New(local) = %v", err)
	}
	defer func() { _ = store.Close() }()

	if store.Kind() != BackendLocal {
		t.Errorf("Kind() = %q, want %q", store.Kind(), BackendLocal)
	}
}
