package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
)

// Static returns fixed segments regardless of the audio. It stands in for a
// provider in tests and offline runs.
type Static struct {
	Segments []Segment
}

// LoadStatic reads segments from a JSON file holding either an array of
// segments or an object with an "utterances" array (the provider's
// response shape).
func LoadStatic(path string) (*Static, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseStatic(b)
}

// ParseStatic is LoadStatic over in-memory JSON.
func ParseStatic(b []byte) (*Static, error) {
	var segs []Segment
	if err := json.Unmarshal(b, &segs); err == nil {
		return &Static{Segments: segs}, nil
	}
	var wrapped struct {
		Utterances []Segment `json:"utterances"`
	}
	if err := json.Unmarshal(b, &wrapped); err != nil {
		return nil, fmt.Errorf("diarize: parse segments: %w", err)
	}
	return &Static{Segments: wrapped.Utterances}, nil
}

// Diarize returns the fixed segments; the audio is not read.
func (s *Static) Diarize(_ context.Context, _ io.Reader) ([]Segment, error) {
	return normalize(slices.Clone(s.Segments))
}
