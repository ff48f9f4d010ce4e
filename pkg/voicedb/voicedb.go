// Package voicedb curates the speaker voice database: enrollment, verified
// batch growth, listing and deletion, and diagnostic matching.
package voicedb

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"github.com/haivivi/speakerid/pkg/audio"
	"github.com/haivivi/speakerid/pkg/audio/wav"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/vecstore"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// Config configures a DB.
type Config struct {
	Store vecstore.Store
	Model voiceprint.Model

	// DuplicateThreshold defaults to identity.DuplicateCurated.
	DuplicateThreshold float32

	Logger *slog.Logger
}

// DB operates on a voice database.
type DB struct {
	store  vecstore.Store
	model  voiceprint.Model
	dup    float32
	logger *slog.Logger
}

// New creates a DB.
func New(cfg Config) *DB {
	db := &DB{
		store:  cfg.Store,
		model:  cfg.Model,
		dup:    cfg.DuplicateThreshold,
		logger: cfg.Logger,
	}
	if db.dup <= 0 {
		db.dup = identity.DuplicateCurated
	}
	if db.logger == nil {
		db.logger = slog.Default()
	}
	return db
}

// Store returns the underlying vector store.
func (db *DB) Store() vecstore.Store { return db.store }

// embed normalizes a WAV file and extracts its embedding.
func (db *DB) embed(ctx context.Context, data []byte) ([]float32, time.Duration, error) {
	clip, err := audio.DecodeBytes(data)
	if err != nil {
		return nil, 0, err
	}
	norm, err := wav.Bytes(clip)
	if err != nil {
		return nil, 0, err
	}
	emb, err := identity.Embed(ctx, db.model, norm)
	if err != nil {
		return nil, 0, err
	}
	return emb, clip.Duration(), nil
}

func (db *DB) exists(ctx context.Context, speaker string) (bool, error) {
	recs, err := db.store.List(ctx, &vecstore.Filter{SpeakerName: speaker}, 1)
	if err != nil {
		return false, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	return len(recs) > 0, nil
}

// EnrollMode selects how Enroll treats an existing speaker.
type EnrollMode int

const (
	// EnrollNew refuses a speaker that already has embeddings.
	EnrollNew EnrollMode = iota
	// EnrollAdditional refuses a speaker without embeddings.
	EnrollAdditional
)

func (m EnrollMode) String() string {
	if m == EnrollAdditional {
		return "additional"
	}
	return "new"
}

// ParseEnrollMode parses "new" or "additional".
func ParseEnrollMode(s string) (EnrollMode, error) {
	switch strings.ToLower(s) {
	case "new", "":
		return EnrollNew, nil
	case "additional":
		return EnrollAdditional, nil
	}
	return 0, fmt.Errorf("voicedb: unknown enroll mode %q", s)
}

// EnrollRequest adds one embedding for a named speaker.
type EnrollRequest struct {
	Name string
	// Source is recorded as the embedding's source file.
	Source string
	// Audio is a WAV file.
	Audio []byte
	Mode  EnrollMode
}

// Enroll embeds the audio and stores it under Name. It returns the new
// embedding id, identity.ErrAlreadyExists for a new speaker that exists,
// or identity.ErrNotFound for an additional embedding of an unknown one.
func (db *DB) Enroll(ctx context.Context, req EnrollRequest) (string, error) {
	name, err := identity.CheckName(req.Name)
	if err != nil {
		return "", err
	}
	ok, err := db.exists(ctx, name)
	if err != nil {
		return "", err
	}
	switch {
	case req.Mode == EnrollNew && ok:
		return "", fmt.Errorf("%w: speaker %q", identity.ErrAlreadyExists, name)
	case req.Mode == EnrollAdditional && !ok:
		return "", fmt.Errorf("%w: speaker %q", identity.ErrNotFound, name)
	}

	emb, dur, err := db.embed(ctx, req.Audio)
	if err != nil {
		return "", err
	}
	secs := dur.Seconds()
	rec := vecstore.Record{
		ID:     identity.NewEmbeddingID(name, false),
		Vector: emb,
		Metadata: vecstore.Metadata{
			SpeakerName:     name,
			SourceFile:      path.Base(req.Source),
			DurationSeconds: &secs,
		},
	}
	if err := db.store.Upsert(ctx, rec); err != nil {
		return "", fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	db.logger.Info("voicedb: enrolled", "speaker", name, "id", rec.ID, "mode", req.Mode)
	return rec.ID, nil
}

// Speaker summarizes one speaker's embeddings.
type Speaker struct {
	Name  string   `json:"name" yaml:"name"`
	Count int      `json:"embedding_count" yaml:"embedding_count"`
	IDs   []string `json:"embedding_ids" yaml:"embedding_ids"`
}

// ListSpeakers returns every speaker in name order.
func (db *DB) ListSpeakers(ctx context.Context) ([]Speaker, error) {
	recs, err := db.store.List(ctx, nil, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	groups := vecstore.Speakers(recs)
	out := make([]Speaker, 0, len(groups))
	for name, rs := range groups {
		s := Speaker{Name: name, Count: len(rs)}
		for _, r := range rs {
			s.IDs = append(s.IDs, r.ID)
		}
		slices.Sort(s.IDs)
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b Speaker) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// DeleteSpeaker removes every embedding of name and returns how many were
// removed.
func (db *DB) DeleteSpeaker(ctx context.Context, name string) (int, error) {
	recs, err := db.store.List(ctx, &vecstore.Filter{SpeakerName: name}, 0)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	if len(recs) == 0 {
		return 0, fmt.Errorf("%w: speaker %q", identity.ErrNotFound, name)
	}
	ids := make([]string, len(recs))
	for i, r := range recs {
		ids[i] = r.ID
	}
	if err := db.store.Delete(ctx, ids...); err != nil {
		return 0, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	db.logger.Info("voicedb: deleted speaker", "speaker", name, "embeddings", len(ids))
	return len(ids), nil
}

// DeleteEmbedding removes one embedding. It reports false when id does not
// exist.
func (db *DB) DeleteEmbedding(ctx context.Context, id string) (bool, error) {
	found, err := db.store.Fetch(ctx, []string{id})
	if err != nil {
		return false, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	rec, ok := found[id]
	if !ok {
		return false, nil
	}
	if err := db.store.Delete(ctx, id); err != nil {
		return false, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}
	db.logger.Info("voicedb: deleted embedding", "id", id, "speaker", rec.Metadata.SpeakerName)
	return true, nil
}

// Candidate is one stored embedding returned by TestMatch.
type Candidate struct {
	ID    string  `json:"id" yaml:"id"`
	Score float32 `json:"score" yaml:"score"`
}

// SpeakerMatch groups TestMatch candidates of one speaker.
type SpeakerMatch struct {
	Speaker    string      `json:"speaker" yaml:"speaker"`
	Count      int         `json:"count" yaml:"count"`
	Avg        float32     `json:"avg" yaml:"avg"`
	Best       float32     `json:"best" yaml:"best"`
	Candidates []Candidate `json:"candidates" yaml:"candidates"`
}

// TestMatch queries the topK nearest embeddings to the audio and groups
// them by speaker, best speaker first.
func (db *DB) TestMatch(ctx context.Context, data []byte, topK int) ([]SpeakerMatch, error) {
	if topK <= 0 {
		topK = 5
	}
	emb, _, err := db.embed(ctx, data)
	if err != nil {
		return nil, err
	}
	results, err := db.store.Query(ctx, emb, topK, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", identity.ErrStoreUnavailable, err)
	}

	var out []SpeakerMatch
	index := make(map[string]int)
	for _, r := range results {
		name := r.Metadata.SpeakerName
		i, ok := index[name]
		if !ok {
			i = len(out)
			index[name] = i
			out = append(out, SpeakerMatch{Speaker: name, Best: r.Score})
		}
		m := &out[i]
		m.Candidates = append(m.Candidates, Candidate{ID: r.ID, Score: r.Score})
		m.Best = max(m.Best, r.Score)
	}
	for i := range out {
		m := &out[i]
		m.Count = len(m.Candidates)
		var sum float64
		for _, c := range m.Candidates {
			sum += float64(c.Score)
		}
		m.Avg = float32(sum / float64(m.Count))
	}
	slices.SortStableFunc(out, func(a, b SpeakerMatch) int {
		switch {
		case a.Best > b.Best:
			return -1
		case a.Best < b.Best:
			return 1
		}
		return 0
	})
	return out, nil
}
