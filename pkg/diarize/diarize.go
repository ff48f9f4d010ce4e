// Package diarize splits a recording into speaker-labeled segments.
//
// Diarization itself is delegated to a provider; this package defines the
// boundary and ships two adapters: [AssemblyAI] for real transcription and
// [Static] for fixtures.
package diarize

import (
	"context"
	"errors"
	"io"
	"sort"
)

// ErrNoSegments is returned when the provider found no speech.
var ErrNoSegments = errors.New("diarize: no segments")

// Segment is one diarized utterance. Track is the provider's speaker label
// ("A", "speaker_0"); it is stable within a recording only.
type Segment struct {
	Track      string  `json:"speaker"`
	StartMS    int64   `json:"start"`
	EndMS      int64   `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
}

// Diarizer transcribes audio into ordered segments.
type Diarizer interface {
	Diarize(ctx context.Context, audio io.Reader) ([]Segment, error)
}

// normalize drops empty segments and sorts by start time.
func normalize(segs []Segment) ([]Segment, error) {
	out := segs[:0]
	for _, s := range segs {
		if s.EndMS > s.StartMS {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoSegments
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartMS < out[j].StartMS })
	return out, nil
}
