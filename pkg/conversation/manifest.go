package conversation

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/haivivi/speakerid/pkg/identity"
)

// Manifest is metadata.json, the durable record of a processed
// conversation. Field names are a compatibility contract with every tool
// that reads the library.
type Manifest struct {
	ConversationID      string      `json:"conversation_id"`
	OriginalAudio       string      `json:"original_audio"`
	SourceName          string      `json:"source_name,omitempty"`
	DateProcessed       string      `json:"date_processed"`
	DurationSeconds     float64     `json:"duration_seconds"`
	Speakers            []string    `json:"speakers"`
	Utterances          []Utterance `json:"utterances"`
	ShortUtteranceStats ShortStats  `json:"short_utterance_stats"`
	DatabaseUpdateStats UpdateStats `json:"database_update_stats"`
}

// Utterance is one diarized segment. Start, end and text never change after
// processing; Speaker is rewritten by the combined pass and by rename.
type Utterance struct {
	ID                     string  `json:"id"`
	StartTime              string  `json:"start_time"`
	EndTime                string  `json:"end_time"`
	StartMS                int64   `json:"start_ms"`
	EndMS                  int64   `json:"end_ms"`
	Speaker                string  `json:"speaker"`
	Text                   string  `json:"text"`
	Confidence             float64 `json:"confidence"`
	EmbeddingID            *string `json:"embedding_id"`
	IsShort                bool    `json:"is_short"`
	CombinedIdentification *bool   `json:"combined_identification,omitempty"`
	AudioFile              string  `json:"audio_file"`
}

// Artifact returns the file name of the utterance audio, which is also its
// item name in the speaker grouping.
func (u Utterance) Artifact() string { return u.ID + ".wav" }

// Combined reports whether the label came from the combined pass.
func (u Utterance) Combined() bool {
	return u.CombinedIdentification != nil && *u.CombinedIdentification
}

// ShortStats counts utterances shorter than the short-segment cutoff.
type ShortStats struct {
	Total              int `json:"total"`
	IdentifiedDirectly int `json:"identified_directly"`
	IdentifiedCombined int `json:"identified_combined"`
	Unidentified       int `json:"unidentified"`
}

// UpdateStats counts what processing did to the voice database.
type UpdateStats struct {
	Added                int `json:"added"`
	SkippedLowConfidence int `json:"skipped_low_confidence"`
	SkippedUnknown       int `json:"skipped_unknown"`
	SkippedDuplicate     int `json:"skipped_duplicate"`
	SkippedUnverified    int `json:"skipped_unverified"`
	Failed               int `json:"failed"`
}

// ParseManifest decodes metadata.json.
func ParseManifest(b []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("conversation: decode manifest: %w", err)
	}
	return &m, nil
}

// Encode renders the manifest as indented JSON.
func (m *Manifest) Encode() ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

// Labels returns the distinct utterance speakers in first-seen order.
func (m *Manifest) Labels() []string {
	var out []string
	for _, u := range m.Utterances {
		if !slices.Contains(out, u.Speaker) {
			out = append(out, u.Speaker)
		}
	}
	return out
}

// SyncSpeakers makes the speaker list equal the set of utterance labels,
// keeping the existing order for names that remain.
func (m *Manifest) SyncSpeakers() {
	labels := m.Labels()
	var out []string
	for _, s := range m.Speakers {
		if slices.Contains(labels, s) && !slices.Contains(out, s) {
			out = append(out, s)
		}
	}
	for _, l := range labels {
		if !slices.Contains(out, l) {
			out = append(out, l)
		}
	}
	if out == nil {
		out = []string{}
	}
	m.Speakers = out
}

// CheckSpeakers reports an error unless the speaker list and the set of
// utterance labels are equal.
func (m *Manifest) CheckSpeakers() error {
	labels := m.Labels()
	for _, l := range labels {
		if !slices.Contains(m.Speakers, l) {
			return fmt.Errorf("conversation: %s: label %q missing from speaker list", m.ConversationID, l)
		}
	}
	for _, s := range m.Speakers {
		if !slices.Contains(labels, s) {
			return fmt.Errorf("conversation: %s: speaker %q has no utterances", m.ConversationID, s)
		}
	}
	return nil
}

// References reports whether name is an utterance label or listed speaker.
func (m *Manifest) References(name string) bool {
	if slices.Contains(m.Speakers, name) {
		return true
	}
	return slices.ContainsFunc(m.Utterances, func(u Utterance) bool { return u.Speaker == name })
}

// RecountShortStats derives the short-utterance counters from the final
// labels.
func (m *Manifest) RecountShortStats() {
	var st ShortStats
	for _, u := range m.Utterances {
		if !u.IsShort {
			continue
		}
		st.Total++
		switch {
		case identity.IsUnknown(u.Speaker):
			st.Unidentified++
		case u.Combined():
			st.IdentifiedCombined++
		default:
			st.IdentifiedDirectly++
		}
	}
	m.ShortUtteranceStats = st
}

// ProcessedDay returns the YYYYMMDD date of DateProcessed.
func (m *Manifest) ProcessedDay() (string, bool) {
	date, _, _ := strings.Cut(m.DateProcessed, "T")
	parts := strings.Split(date, "-")
	if len(parts) != 3 || len(parts[0]) != 4 {
		return "", false
	}
	return parts[0] + parts[1] + parts[2], true
}
