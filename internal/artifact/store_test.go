package artifact

import (
	"errors"
	"testing"

	"github.com/shaiso/Modelflow/internal/domain"
)

func TestStore_SeedAndResolve(t *testing.T) {
	store := NewStore()

	if err := store.Seed("dataset", "s3://datasets/housing.parquet"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ref, err := store.Resolve("dataset")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if ref.Location != "s3://datasets/housing.parquet" {
		t.Errorf("unexpected location: %s", ref.Location)
	}
	if ref.ProducedBy != "seed" {
		t.Errorf("expected produced_by seed, got %s", ref.ProducedBy)
	}
	if ref.Digest == "" {
		t.Error("expected digest to be computed")
	}
}

func TestStore_PutComputesDigest(t *testing.T) {
	store := NewStore()

	err := store.Put(domain.ArtifactRef{
		Name:       "model",
		Location:   "s3://models/house-price/42",
		ProducedBy: "train",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ref, err := store.Resolve("model")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ref.Digest == "" {
		t.Error("expected digest to be computed from location")
	}
	if ref.CreatedAt.IsZero() {
		t.Error("expected created_at to be set")
	}
}

func TestStore_DuplicateName(t *testing.T) {
	store := NewStore()

	if err := store.Seed("raw", "file:///tmp/a"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err := store.Put(domain.ArtifactRef{Name: "raw", Location: "file:///tmp/b", ProducedBy: "ingest"})
	if !errors.Is(err, ErrDuplicateArtifact) {
		t.Errorf("expected ErrDuplicateArtifact, got %v", err)
	}
}

func TestStore_ResolveMissing(t *testing.T) {
	store := NewStore()

	_, err := store.Resolve("ghost")
	if !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestStore_ResolveAll(t *testing.T) {
	store := NewStore()

	if err := store.Seed("dataset", "s3://d"); err != nil {
		t.Fatal(err)
	}
	if err := store.Put(domain.ArtifactRef{Name: "features", Location: "s3://f", ProducedBy: "transform"}); err != nil {
		t.Fatal(err)
	}

	refs, err := store.ResolveAll([]string{"dataset", "features"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("expected 2 refs, got %d", len(refs))
	}

	if _, err := store.ResolveAll([]string{"dataset", "ghost"}); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("expected ErrArtifactNotFound, got %v", err)
	}
}

func TestStore_ListSorted(t *testing.T) {
	store := NewStore()

	for _, name := range []string{"c", "a", "b"} {
		if err := store.Seed(name, "loc-"+name); err != nil {
			t.Fatal(err)
		}
	}

	list := store.List()
	if len(list) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].Name != want {
			t.Errorf("expected %s at position %d, got %s", want, i, list[i].Name)
		}
	}
}
