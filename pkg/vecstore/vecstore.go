// Package vecstore is the speaker voice database: embedding records with
// metadata, searched by cosine similarity.
//
// Search is exact. The database holds at most a few thousand embeddings and
// match decisions compare scores against fixed thresholds, so results must
// not depend on approximate-index recall.
//
// Two implementations are provided: [Memory] for tests and ephemeral runs,
// and [KV], which persists msgpack records in a [kv.Store].
package vecstore

import (
	"cmp"
	"context"
	"errors"
	"slices"

	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// ErrInvalidRecord is returned by Upsert for records without an ID, vector,
// or speaker name.
var ErrInvalidRecord = errors.New("vecstore: invalid record")

// Metadata is attached to every stored embedding. Pointer fields are
// optional.
type Metadata struct {
	SpeakerName      string   `msgpack:"speaker_name" json:"speaker_name"`
	SourceFile       string   `msgpack:"source_file,omitempty" json:"source_file,omitempty"`
	IsShortUtterance bool     `msgpack:"is_short_utterance" json:"is_short_utterance"`
	DurationSeconds  *float64 `msgpack:"duration_seconds,omitempty" json:"duration_seconds,omitempty"`
	AvgConfidence    *float64 `msgpack:"avg_confidence,omitempty" json:"avg_confidence,omitempty"`
	MaxConfidence    *float64 `msgpack:"max_confidence,omitempty" json:"max_confidence,omitempty"`
}

// Record is one stored embedding.
type Record struct {
	ID       string    `msgpack:"id" json:"id"`
	Vector   []float32 `msgpack:"vector" json:"-"`
	Metadata Metadata  `msgpack:"metadata" json:"metadata"`
}

func (r Record) validate() error {
	switch {
	case r.ID == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty id"))
	case len(r.Vector) == 0:
		return errors.Join(ErrInvalidRecord, errors.New("empty vector"))
	case r.Metadata.SpeakerName == "":
		return errors.Join(ErrInvalidRecord, errors.New("empty speaker name"))
	}
	return nil
}

// Filter restricts Query and List. Zero fields match everything.
type Filter struct {
	SpeakerName string
	IsShort     *bool
}

func (f *Filter) match(md Metadata) bool {
	if f == nil {
		return true
	}
	if f.SpeakerName != "" && md.SpeakerName != f.SpeakerName {
		return false
	}
	if f.IsShort != nil && md.IsShortUtterance != *f.IsShort {
		return false
	}
	return true
}

// Result is a Query hit. Score is the cosine similarity in [-1, 1].
type Result struct {
	Record
	Score float32
}

// Store is the vector database contract. Implementations must be safe for
// concurrent use; each call is atomic on its own.
type Store interface {
	// Upsert inserts or replaces records by ID.
	Upsert(ctx context.Context, recs ...Record) error

	// Query returns up to k records most similar to vec, best first. Ties
	// are ordered by ID.
	Query(ctx context.Context, vec []float32, k int, f *Filter) ([]Result, error)

	// Fetch returns the records that exist among ids.
	Fetch(ctx context.Context, ids []string) (map[string]Record, error)

	// Delete removes records by ID. Missing IDs are ignored.
	Delete(ctx context.Context, ids ...string) error

	// List returns up to limit records matching f ordered by ID. A
	// non-positive limit means no limit.
	List(ctx context.Context, f *Filter, limit int) ([]Record, error)
}

// ranker keeps the k best results seen so far.
type ranker struct {
	query []float32
	k     int
	out   []Result
}

func (r *ranker) add(rec Record) {
	r.out = append(r.out, Result{Record: rec, Score: voiceprint.Cosine(r.query, rec.Vector)})
}

func (r *ranker) results() []Result {
	slices.SortFunc(r.out, func(a, b Result) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(r.out) > r.k {
		r.out = r.out[:r.k]
	}
	return r.out
}

// Speakers groups records by speaker name.
func Speakers(recs []Record) map[string][]Record {
	out := make(map[string][]Record)
	for _, r := range recs {
		out[r.Metadata.SpeakerName] = append(out[r.Metadata.SpeakerName], r)
	}
	return out
}

// Vectors extracts the vectors of recs.
func Vectors(recs []Record) [][]float32 {
	out := make([][]float32, len(recs))
	for i, r := range recs {
		out[i] = r.Vector
	}
	return out
}
