package grouping

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/haivivi/speakerid/pkg/kv"
	"github.com/haivivi/speakerid/pkg/storage"
)

func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("files", func(t *testing.T) {
		fs, err := storage.NewLocal(t.TempDir())
		if err != nil {
			t.Fatal(err)
		}
		fn(t, NewFiles(fs, "conv/speakers"))
	})
	t.Run("kv", func(t *testing.T) {
		fn(t, NewKV(kv.NewMemory(nil), kv.Key{"groups", "conv"}))
	})
}

func TestKey(t *testing.T) {
	tests := map[string]string{
		"Alice":         "Alice",
		"Alice Smith":   "Alice_Smith",
		" Alice Smith ": "Alice_Smith",
		"Unknown_A":     "Unknown_A",
	}
	for in, want := range tests {
		if got := Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRegroupPrunesSource(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Put(ctx, "Unknown_B", "utterance_001.wav", []byte("1"))
		s.Put(ctx, "Unknown_B", "utterance_004.wav", []byte("4"))
		s.Put(ctx, "Alice", "utterance_000.wav", []byte("0"))

		for _, item := range []string{"utterance_001.wav", "utterance_004.wav"} {
			if err := s.Regroup(ctx, "Unknown_B", "Alice", item); err != nil {
				t.Fatal(err)
			}
		}
		groups, err := s.Groups(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if !slices.Equal(groups, []string{"Alice"}) {
			t.Fatalf("groups = %v", groups)
		}
		items, _ := s.Items(ctx, "Alice")
		want := []string{"utterance_000.wav", "utterance_001.wav", "utterance_004.wav"}
		if !slices.Equal(items, want) {
			t.Fatalf("items = %v", items)
		}
	})
}

func TestRegroupIsIdempotent(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Put(ctx, "A", "u.wav", []byte("x"))
		if err := s.Regroup(ctx, "A", "B", "u.wav"); err != nil {
			t.Fatal(err)
		}
		if err := s.Regroup(ctx, "A", "B", "u.wav"); err != nil {
			t.Fatalf("retry: %v", err)
		}
		if err := s.Regroup(ctx, "A", "B", "missing.wav"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("missing item: %v", err)
		}
		if err := s.Regroup(ctx, "B", "B", "u.wav"); err != nil {
			t.Fatalf("same group: %v", err)
		}
	})
}

func TestRegroupAll(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Put(ctx, "Bob", "u1.wav", nil)
		s.Put(ctx, "Bob", "u2.wav", nil)
		s.Put(ctx, "Robert", "u3.wav", nil)
		if err := s.RegroupAll(ctx, "Bob", "Robert"); err != nil {
			t.Fatal(err)
		}
		groups, _ := s.Groups(ctx)
		if !slices.Equal(groups, []string{"Robert"}) {
			t.Fatalf("groups = %v", groups)
		}
		items, _ := s.Items(ctx, "Robert")
		if len(items) != 3 {
			t.Fatalf("items = %v", items)
		}
		if items, _ := s.Items(ctx, "Bob"); len(items) != 0 {
			t.Fatalf("source items = %v", items)
		}
	})
}
