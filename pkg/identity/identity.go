// Package identity decides who is speaking: it matches embeddings against
// the voice database and guards what new evidence may be added to it.
//
// The speaker name is the durable identity key. An utterance that matches
// no known speaker is labeled with a provisional name, "Unknown_<track>",
// derived from its diarization track.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/haivivi/speakerid/pkg/vecstore"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

var (
	// ErrShapeMismatch is returned when an embedding has the wrong
	// dimension. It aborts the single operation that produced it.
	ErrShapeMismatch = errors.New("identity: embedding shape mismatch")

	// ErrStoreUnavailable wraps vector store failures. Reads degrade to
	// "no match"; writes surface it to the caller.
	ErrStoreUnavailable = errors.New("identity: vector store unavailable")

	// ErrNotFound is returned when a rename or delete target is absent.
	ErrNotFound = errors.New("identity: not found")

	// ErrAlreadyExists is returned when a destination name is taken.
	ErrAlreadyExists = errors.New("identity: already exists")

	// ErrInvalidName is returned for speaker names that cannot be used as a
	// single path element of the library.
	ErrInvalidName = errors.New("identity: invalid speaker name")
)

// Default thresholds. Similarities are cosine in [-1, 1].
const (
	DefaultMatchThreshold float32 = 0.40

	// DefaultAutoUpdateConfidence is the minimum match score for an
	// utterance to be considered as new evidence during processing.
	DefaultAutoUpdateConfidence float32 = 0.70

	// DuplicateCurated applies to operator-driven database maintenance.
	DuplicateCurated float32 = 0.92

	// DuplicateAutomatic applies to unattended in-pipeline additions.
	DuplicateAutomatic float32 = 0.98

	DefaultAvgThreshold float32 = 0.60
	DefaultMaxThreshold float32 = 0.75

	// MaxEvidence bounds the per-speaker set fetched for duplicate and
	// verification checks.
	MaxEvidence = 1000
)

// UnknownPrefix marks provisional speaker labels.
const UnknownPrefix = "Unknown_"

// UnknownLabel returns the provisional label for a diarization track.
func UnknownLabel(track string) string {
	return UnknownPrefix + track
}

// IsUnknown reports whether label is provisional.
func IsUnknown(label string) bool {
	return strings.HasPrefix(label, UnknownPrefix)
}

// CheckShape validates emb against the expected dimension.
func CheckShape(emb []float32, dim int) error {
	if err := voiceprint.Validate(emb, dim); err != nil {
		return fmt.Errorf("%w: %w", ErrShapeMismatch, err)
	}
	return nil
}

// Embed extracts an embedding and validates its shape.
func Embed(ctx context.Context, m voiceprint.Model, audio []byte) ([]float32, error) {
	emb, err := m.Extract(ctx, audio)
	if err != nil {
		return nil, fmt.Errorf("identity: extract embedding: %w", err)
	}
	if err := CheckShape(emb, m.Dimension()); err != nil {
		return nil, err
	}
	return emb, nil
}

// Evidence returns up to MaxEvidence stored records of speaker.
func Evidence(ctx context.Context, store vecstore.Store, speaker string) ([]vecstore.Record, error) {
	recs, err := store.List(ctx, &vecstore.Filter{SpeakerName: speaker}, MaxEvidence)
	if err != nil {
		return nil, fmt.Errorf("%w: list %q: %w", ErrStoreUnavailable, speaker, err)
	}
	return recs, nil
}
