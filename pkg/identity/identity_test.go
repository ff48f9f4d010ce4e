package identity

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/haivivi/speakerid/pkg/vecstore"
)

// at returns a 2-d unit vector whose cosine with {1, 0} is sim.
func at(sim float64) []float32 {
	return []float32{float32(sim), float32(math.Sqrt(1 - sim*sim))}
}

var ref = []float32{1, 0}

func storeWith(t *testing.T, recs ...vecstore.Record) *vecstore.Memory {
	t.Helper()
	s := vecstore.NewMemory()
	if err := s.Upsert(context.Background(), recs...); err != nil {
		t.Fatal(err)
	}
	return s
}

func record(id, speaker string, vec []float32) vecstore.Record {
	return vecstore.Record{ID: id, Vector: vec, Metadata: vecstore.Metadata{SpeakerName: speaker}}
}

func TestMatchAcceptsAboveThreshold(t *testing.T) {
	m := NewMatcher(MatcherConfig{Store: storeWith(t, record("alice-1", "Alice", at(0.85))), Dimension: 2})
	got, err := m.Match(context.Background(), ref, MatchOptions{Duration: 2 * time.Second})
	if err != nil {
		t.Fatal(err)
	}
	if !got.Matched || got.Speaker != "Alice" || got.ID != "alice-1" {
		t.Fatalf("Match = %+v", got)
	}
	if math.Abs(float64(got.Score)-0.85) > 1e-4 {
		t.Fatalf("Score = %v", got.Score)
	}
	if len(got.Candidates) != 1 {
		t.Fatalf("long segment should query k=1, got %d", len(got.Candidates))
	}
}

func TestMatchRejectsBelowThreshold(t *testing.T) {
	m := NewMatcher(MatcherConfig{Store: storeWith(t, record("alice-1", "Alice", at(0.35))), Dimension: 2})
	got, err := m.Match(context.Background(), ref, MatchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if got.Matched || got.Speaker != "" || got.ID != "" {
		t.Fatalf("Match = %+v", got)
	}
	if label := UnknownLabel("speaker_0"); label != "Unknown_speaker_0" || !IsUnknown(label) {
		t.Fatalf("UnknownLabel = %q", label)
	}
}

func TestMatchThresholdIsInclusive(t *testing.T) {
	s := storeWith(t, record("a", "Alice", ref))
	m := NewMatcher(MatcherConfig{Store: s, Threshold: 1})
	got, _ := m.Match(context.Background(), ref, MatchOptions{})
	if !got.Matched {
		t.Fatalf("score equal to threshold should match: %+v", got)
	}
}

func TestMatchShortSegmentExposesCandidates(t *testing.T) {
	s := storeWith(t,
		record("a", "Alice", at(0.9)),
		record("b", "Bob", at(0.8)),
		record("c", "Carol", at(0.1)),
	)
	m := NewMatcher(MatcherConfig{Store: s})
	ctx := context.Background()

	got, _ := m.Match(ctx, ref, MatchOptions{Duration: 500 * time.Millisecond})
	if len(got.Candidates) != 2 || got.Speaker != "Alice" {
		t.Fatalf("short by duration: %+v", got)
	}
	got, _ = m.Match(ctx, ref, MatchOptions{Short: true, Duration: 5 * time.Second})
	if len(got.Candidates) != 2 {
		t.Fatalf("short by flag: %+v", got)
	}
	got, _ = m.Match(ctx, ref, MatchOptions{Duration: 700 * time.Millisecond})
	if len(got.Candidates) != 1 {
		t.Fatalf("700ms is not short: %+v", got)
	}
}

func TestMatchThresholdOverride(t *testing.T) {
	s := storeWith(t, record("a", "Alice", at(0.5)))
	m := NewMatcher(MatcherConfig{Store: s, Threshold: 0.7})
	ctx := context.Background()
	if got, _ := m.Match(ctx, ref, MatchOptions{}); got.Matched {
		t.Fatal("0.5 should not pass configured 0.7")
	}
	if got, _ := m.Match(ctx, ref, MatchOptions{Threshold: 0.4}); !got.Matched {
		t.Fatal("0.5 should pass override 0.4")
	}
}

type failingStore struct{ vecstore.Store }

func (failingStore) Query(context.Context, []float32, int, *vecstore.Filter) ([]vecstore.Result, error) {
	return nil, errors.New("connection refused")
}

func TestMatchDegradesOnStoreFailure(t *testing.T) {
	ctx := context.Background()
	for name, s := range map[string]vecstore.Store{
		"empty":   vecstore.NewMemory(),
		"failing": failingStore{},
	} {
		t.Run(name, func(t *testing.T) {
			m := NewMatcher(MatcherConfig{Store: s})
			got, err := m.Match(ctx, ref, MatchOptions{})
			if err != nil {
				t.Fatalf("read failure must not be returned: %v", err)
			}
			if got.Matched {
				t.Fatalf("Match = %+v", got)
			}
		})
	}
}

func TestMatchShapeMismatch(t *testing.T) {
	m := NewMatcher(MatcherConfig{Store: vecstore.NewMemory(), Dimension: 192})
	_, err := m.Match(context.Background(), make([]float32, 128), MatchOptions{})
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("expected ErrShapeMismatch, got %v", err)
	}
}

func TestFindDuplicate(t *testing.T) {
	existing := []vecstore.Record{
		record("far", "Alice", at(0.5)),
		record("near", "Alice", at(0.95)),
	}
	d := FindDuplicate(ref, existing, DuplicateCurated)
	if !d.Found || d.ID != "near" {
		t.Fatalf("curated: %+v", d)
	}
	d = FindDuplicate(ref, existing, DuplicateAutomatic)
	if d.Found || d.ID != "near" {
		t.Fatalf("automatic: %+v", d)
	}
	if d := FindDuplicate(ref, nil, 0.5); d.Found || d.ID != "" {
		t.Fatalf("empty: %+v", d)
	}
}

func TestFindDuplicateIdenticalAlwaysFlagged(t *testing.T) {
	r := rand.New(rand.NewPCG(1, 2))
	for range 50 {
		v := make([]float32, 192)
		for i := range v {
			v[i] = float32(r.NormFloat64())
		}
		existing := []vecstore.Record{record("same", "X", append([]float32(nil), v...))}
		for _, th := range []float32{-1, 0, 0.5, DuplicateCurated, DuplicateAutomatic, 0.999} {
			if d := FindDuplicate(v, existing, th); !d.Found {
				t.Fatalf("identical vector not flagged at %v: %+v", th, d)
			}
		}
	}
}

func TestFindDuplicateIsStrict(t *testing.T) {
	existing := []vecstore.Record{record("x", "X", ref)}
	if d := FindDuplicate(ref, existing, 1); d.Found {
		t.Fatalf("similarity equal to threshold must not be flagged: %+v", d)
	}
}

func TestGateRequiresBoth(t *testing.T) {
	g := NewGate(FirstEnrollmentReject)
	tests := []struct {
		name     string
		existing [][]float32
		accept   bool
	}{
		// avg 0.62, max 0.70
		{"avg passes max fails", [][]float32{at(0.70), at(0.54)}, false},
		// avg 0.55, max 0.90
		{"max passes avg fails", [][]float32{at(0.90), at(0.20)}, false},
		// avg 0.80, max 0.85
		{"both pass", [][]float32{at(0.85), at(0.75)}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := g.Verify(ref, tt.existing)
			if v.Accepted != tt.accept || v.Empty {
				t.Fatalf("Verify = %+v, want accepted=%v", v, tt.accept)
			}
		})
	}

	v := g.Verify(ref, [][]float32{at(0.70), at(0.54)})
	if math.Abs(float64(v.Avg)-0.62) > 1e-4 || math.Abs(float64(v.Max)-0.70) > 1e-4 {
		t.Fatalf("stats = %+v", v)
	}
}

func TestGateFirstEnrollmentPolicy(t *testing.T) {
	if v := NewGate(FirstEnrollmentReject).Verify(ref, nil); v.Accepted || !v.Empty {
		t.Fatalf("reject policy: %+v", v)
	}
	if v := NewGate(FirstEnrollmentAccept).Verify(ref, nil); !v.Accepted || !v.Empty {
		t.Fatalf("accept policy: %+v", v)
	}
}

func TestGateMonotonic(t *testing.T) {
	r := rand.New(rand.NewPCG(7, 11))
	randVec := func() []float32 {
		v := make([]float32, 16)
		for i := range v {
			v[i] = float32(r.NormFloat64())
		}
		return v
	}
	for range 500 {
		emb := randVec()
		existing := make([][]float32, 1+r.IntN(6))
		for i := range existing {
			existing[i] = randVec()
		}
		hi := Gate{AvgThreshold: r.Float32()*2 - 1, MaxThreshold: r.Float32()*2 - 1}
		lo := Gate{
			AvgThreshold: hi.AvgThreshold - r.Float32(),
			MaxThreshold: hi.MaxThreshold - r.Float32(),
		}
		if hi.Verify(emb, existing).Accepted && !lo.Verify(emb, existing).Accepted {
			t.Fatalf("lowering thresholds turned accept into reject: hi=%+v lo=%+v", hi, lo)
		}
	}
}

func TestEvidenceWrapsStoreErrors(t *testing.T) {
	_, err := Evidence(context.Background(), listFailStore{}, "Alice")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

type listFailStore struct{ vecstore.Store }

func (listFailStore) List(context.Context, *vecstore.Filter, int) ([]vecstore.Record, error) {
	return nil, errors.New("timeout")
}
