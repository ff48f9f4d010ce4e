// Package voiceprint turns speech audio into speaker embeddings and compares
// them.
//
// A Model maps a WAV file of 16 kHz mono PCM16 speech to a fixed-dimension
// float32 vector.
// Two vectors from the same voice have high cosine similarity; the identity
// package decides what "high" means.
//
// Implementations:
//
//   - [Remote]: HTTP embedding sidecar with retry
//   - [RateLimited]: wraps any Model with a token bucket
//   - [Func]: adapts a function, mostly for tests
package voiceprint

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// DefaultDimension is the embedding size of ECAPA-TDNN style models.
const DefaultDimension = 192

var (
	// ErrDimension is returned when a vector does not have the expected shape.
	ErrDimension = errors.New("voiceprint: dimension mismatch")

	// ErrAudioFormat is returned when the input is not 16 kHz mono PCM16 WAV.
	ErrAudioFormat = errors.New("voiceprint: audio must be 16 kHz mono PCM16 WAV")
)

// Model extracts speaker embedding vectors from audio.
//
// The input is a complete WAV file holding PCM16 16 kHz mono samples, as
// produced by audio.Decode followed by wav.Bytes. Implementations must be
// safe for concurrent use.
type Model interface {
	// Extract computes an embedding of length Dimension().
	Extract(ctx context.Context, audio []byte) ([]float32, error)

	// Dimension returns the length of vectors produced by Extract.
	Dimension() int
}

// Validate checks that vec has exactly dim finite components.
func Validate(vec []float32, dim int) error {
	if len(vec) != dim {
		return fmt.Errorf("%w: got %d, want %d", ErrDimension, len(vec), dim)
	}
	for i, v := range vec {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return fmt.Errorf("%w: component %d is %v", ErrDimension, i, v)
		}
	}
	return nil
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. Zero vectors
// and vectors of different length have similarity 0.
func Cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	s := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return float32(max(-1, min(1, s)))
}

// Stats summarizes the similarity of one vector against a set.
type Stats struct {
	Avg float32
	Max float32
	N   int
}

// Similarities computes avg and max cosine similarity of vec against each
// member of set. An empty set yields the zero Stats.
func Similarities(vec []float32, set [][]float32) Stats {
	if len(set) == 0 {
		return Stats{}
	}
	st := Stats{Max: -1, N: len(set)}
	var sum float64
	for _, other := range set {
		s := Cosine(vec, other)
		sum += float64(s)
		st.Max = max(st.Max, s)
	}
	st.Avg = float32(sum / float64(len(set)))
	return st
}

// Func adapts a function to Model.
type Func struct {
	Dim int
	Fn  func(ctx context.Context, audio []byte) ([]float32, error)
}

func (f Func) Extract(ctx context.Context, audio []byte) ([]float32, error) {
	return f.Fn(ctx, audio)
}

func (f Func) Dimension() int { return f.Dim }
