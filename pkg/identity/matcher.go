package identity

import (
	"context"
	"log/slog"
	"time"

	"github.com/haivivi/speakerid/pkg/vecstore"
)

// DefaultShortDuration is the segment length below which a query asks for
// two candidates instead of one.
const DefaultShortDuration = 700 * time.Millisecond

// MatcherConfig configures a Matcher.
type MatcherConfig struct {
	Store vecstore.Store

	// Dimension is the expected embedding length. Zero skips the shape
	// check.
	Dimension int

	// Threshold is the minimum score to accept. Default 0.40.
	Threshold float32

	// ShortDuration marks segments that get diagnostic candidates.
	// Default 700ms.
	ShortDuration time.Duration

	Logger *slog.Logger
}

// Matcher resolves an embedding to the best known speaker. It is read-only
// and safe for concurrent use.
type Matcher struct {
	store     vecstore.Store
	dim       int
	threshold float32
	short     time.Duration
	logger    *slog.Logger
}

// NewMatcher creates a Matcher.
func NewMatcher(cfg MatcherConfig) *Matcher {
	if cfg.Threshold == 0 {
		cfg.Threshold = DefaultMatchThreshold
	}
	if cfg.ShortDuration == 0 {
		cfg.ShortDuration = DefaultShortDuration
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Matcher{
		store:     cfg.Store,
		dim:       cfg.Dimension,
		threshold: cfg.Threshold,
		short:     cfg.ShortDuration,
		logger:    cfg.Logger,
	}
}

// Threshold returns the configured acceptance threshold.
func (m *Matcher) Threshold() float32 { return m.threshold }

// MatchOptions qualify one Match call.
type MatchOptions struct {
	// Short marks the segment as a short utterance regardless of Duration.
	Short bool

	// Duration of the audio the embedding came from. Zero is unknown.
	Duration time.Duration

	// Threshold overrides the configured threshold when non-zero.
	Threshold float32
}

// Match is the outcome of a lookup. When Matched is false, Speaker and ID
// are empty but Score still reports the best similarity seen.
type Match struct {
	Speaker    string
	Score      float32
	ID         string
	Matched    bool
	Candidates []vecstore.Result
}

// Match queries the store for the nearest stored embeddings and accepts the
// single best one iff its score reaches the threshold.
//
// Store failures and an empty store yield a non-matching result; only a
// shape mismatch is returned as an error.
func (m *Matcher) Match(ctx context.Context, emb []float32, opts MatchOptions) (Match, error) {
	if m.dim > 0 {
		if err := CheckShape(emb, m.dim); err != nil {
			return Match{}, err
		}
	}
	threshold := m.threshold
	if opts.Threshold != 0 {
		threshold = opts.Threshold
	}
	short := opts.Short || (opts.Duration > 0 && opts.Duration < m.short)
	k := 1
	if short {
		k = 2
	}

	results, err := m.store.Query(ctx, emb, k, nil)
	if err != nil {
		m.logger.Warn("identity: query failed, treating as no match", "error", err)
		return Match{}, nil
	}
	if len(results) == 0 {
		return Match{}, nil
	}
	if short {
		for i, r := range results {
			m.logger.Debug("identity: short segment candidate",
				"rank", i+1,
				"speaker", r.Metadata.SpeakerName,
				"score", r.Score,
				"is_short_utterance", r.Metadata.IsShortUtterance,
			)
		}
	}

	best := results[0]
	out := Match{Score: best.Score, Candidates: results}
	if best.Score >= threshold {
		out.Speaker = best.Metadata.SpeakerName
		out.ID = best.ID
		out.Matched = true
	}
	return out, nil
}
