package vecstore

import (
	"context"
	"errors"
	"testing"

	"github.com/haivivi/speakerid/pkg/kv"
)

// backends runs fn against every Store implementation.
func backends(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run("memory", func(t *testing.T) { fn(t, NewMemory()) })
	t.Run("kv-memory", func(t *testing.T) {
		fn(t, NewKV(kv.NewMemory(nil), kv.Key{"vec"}))
	})
	t.Run("kv-badger", func(t *testing.T) {
		b, err := kv.NewBadger(kv.BadgerOptions{InMemory: true})
		if err != nil {
			t.Fatal(err)
		}
		t.Cleanup(func() { b.Close() })
		fn(t, NewKV(b, kv.Key{"vec"}))
	})
}

func rec(id, speaker string, vec ...float32) Record {
	return Record{ID: id, Vector: vec, Metadata: Metadata{SpeakerName: speaker}}
}

func TestQueryOrdering(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		err := s.Upsert(ctx,
			rec("a", "Alice", 1, 0, 0),
			rec("b", "Bob", 0, 1, 0),
			rec("c", "Alice", 0.9, 0.1, 0),
		)
		if err != nil {
			t.Fatal(err)
		}
		res, err := s.Query(ctx, []float32{1, 0, 0}, 2, nil)
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 2 || res[0].ID != "a" || res[1].ID != "c" {
			t.Fatalf("results = %+v", res)
		}
		if res[0].Score < 0.999 {
			t.Fatalf("top score = %v", res[0].Score)
		}
		if res[0].Metadata.SpeakerName != "Alice" {
			t.Fatalf("metadata = %+v", res[0].Metadata)
		}
	})
}

func TestQueryTiesOrderedByID(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Upsert(ctx, rec("z", "Z", 1, 0), rec("m", "M", 1, 0), rec("a", "A", 1, 0))
		res, err := s.Query(ctx, []float32{1, 0}, 3, nil)
		if err != nil {
			t.Fatal(err)
		}
		got := res[0].ID + res[1].ID + res[2].ID
		if got != "amz" {
			t.Fatalf("order = %s", got)
		}
	})
}

func TestQueryEmptyStore(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		res, err := s.Query(context.Background(), []float32{1, 0}, 1, nil)
		if err != nil || len(res) != 0 {
			t.Fatalf("Query = %v, %v", res, err)
		}
	})
}

func TestFilter(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		short := rec("s1", "Alice", 1, 0)
		short.Metadata.IsShortUtterance = true
		s.Upsert(ctx, rec("a1", "Alice", 1, 0), short, rec("b1", "Bob", 1, 0))

		all, err := s.List(ctx, &Filter{SpeakerName: "Alice"}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(all) != 2 || all[0].ID != "a1" || all[1].ID != "s1" {
			t.Fatalf("List(Alice) = %+v", all)
		}

		yes := true
		shorts, err := s.List(ctx, &Filter{IsShort: &yes}, 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(shorts) != 1 || shorts[0].ID != "s1" {
			t.Fatalf("List(short) = %+v", shorts)
		}

		res, err := s.Query(ctx, []float32{1, 0}, 5, &Filter{SpeakerName: "Bob"})
		if err != nil {
			t.Fatal(err)
		}
		if len(res) != 1 || res[0].ID != "b1" {
			t.Fatalf("Query(Bob) = %+v", res)
		}

		limited, err := s.List(ctx, nil, 2)
		if err != nil || len(limited) != 2 {
			t.Fatalf("List(limit 2) = %v, %v", limited, err)
		}
	})
}

func TestUpsertMovesSpeakerIndex(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		s.Upsert(ctx, rec("x", "Alice", 1, 0))
		s.Upsert(ctx, rec("x", "Bob", 1, 0))

		alice, _ := s.List(ctx, &Filter{SpeakerName: "Alice"}, 0)
		bob, _ := s.List(ctx, &Filter{SpeakerName: "Bob"}, 0)
		if len(alice) != 0 || len(bob) != 1 {
			t.Fatalf("alice=%v bob=%v", alice, bob)
		}
	})
}

func TestFetchAndDelete(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		dur := 2.5
		r := rec("a", "Alice", 1, 2)
		r.Metadata.DurationSeconds = &dur
		r.Metadata.SourceFile = "conv/utterances/utterance_003.wav"
		s.Upsert(ctx, r, rec("b", "Bob", 2, 1))

		got, err := s.Fetch(ctx, []string{"a", "missing"})
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 {
			t.Fatalf("Fetch = %v", got)
		}
		md := got["a"].Metadata
		if md.DurationSeconds == nil || *md.DurationSeconds != 2.5 || md.SourceFile != r.Metadata.SourceFile {
			t.Fatalf("metadata = %+v", md)
		}
		if md.AvgConfidence != nil {
			t.Fatal("unset optional field came back set")
		}

		if err := s.Delete(ctx, "a", "missing"); err != nil {
			t.Fatal(err)
		}
		left, _ := s.List(ctx, nil, 0)
		if len(left) != 1 || left[0].ID != "b" {
			t.Fatalf("after delete = %v", left)
		}
		alice, _ := s.List(ctx, &Filter{SpeakerName: "Alice"}, 0)
		if len(alice) != 0 {
			t.Fatalf("speaker index not cleaned: %v", alice)
		}
	})
}

func TestUpsertRejectsInvalid(t *testing.T) {
	backends(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for _, r := range []Record{
			rec("", "Alice", 1),
			rec("a", "Alice"),
			rec("a", "", 1),
		} {
			if err := s.Upsert(ctx, r); !errors.Is(err, ErrInvalidRecord) {
				t.Fatalf("Upsert(%+v) = %v", r, err)
			}
		}
	})
}

func TestSpeakersGrouping(t *testing.T) {
	groups := Speakers([]Record{rec("1", "A", 1), rec("2", "B", 1), rec("3", "A", 1)})
	if len(groups["A"]) != 2 || len(groups["B"]) != 1 {
		t.Fatalf("groups = %v", groups)
	}
}
