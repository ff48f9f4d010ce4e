package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
	"github.com/haivivi/speakerid/pkg/grouping"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// DefaultMinCombined is the shortest concatenated audio the combined pass
// will embed.
const DefaultMinCombined = time.Second

// Cluster outcome statuses.
const (
	ClusterResolved     = "resolved"
	ClusterSkippedShort = "skipped_short"
	ClusterUnresolved   = "unresolved"
	ClusterFailed       = "failed"
)

// ResolverConfig configures a Resolver.
type ResolverConfig struct {
	Model   voiceprint.Model
	Matcher *identity.Matcher

	// MinDuration defaults to DefaultMinCombined.
	MinDuration time.Duration

	// Threshold defaults to identity.DefaultMatchThreshold, independent of
	// the matcher's own threshold.
	Threshold float32

	Logger *slog.Logger
}

// Resolver runs the combined pass: every provisional-unknown cluster is
// identified from the concatenation of its utterances.
type Resolver struct {
	model     voiceprint.Model
	matcher   *identity.Matcher
	min       time.Duration
	threshold float32
	logger    *slog.Logger
}

// NewResolver creates a Resolver.
func NewResolver(cfg ResolverConfig) *Resolver {
	r := &Resolver{
		model:     cfg.Model,
		matcher:   cfg.Matcher,
		min:       cfg.MinDuration,
		threshold: cfg.Threshold,
		logger:    cfg.Logger,
	}
	if r.min <= 0 {
		r.min = DefaultMinCombined
	}
	if r.threshold <= 0 {
		r.threshold = identity.DefaultMatchThreshold
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// ClipSource returns the audio of one utterance.
type ClipSource func(ctx context.Context, u Utterance) (pcm.Clip, error)

// ClusterOutcome reports what happened to one unknown cluster.
type ClusterOutcome struct {
	Label       string        `json:"label"`
	Status      string        `json:"status"`
	Speaker     string        `json:"speaker,omitempty"`
	Score       float32       `json:"score"`
	Members     int           `json:"members"`
	Duration    time.Duration `json:"duration"`
	Error       string        `json:"error,omitempty"`
	EmbeddingID string        `json:"embedding_id,omitempty"`
}

// ResolveReport lists cluster outcomes in first-appearance order.
type ResolveReport struct {
	Clusters []ClusterOutcome `json:"clusters"`
}

// Resolved returns the clusters that were relabeled.
func (r ResolveReport) Resolved() []ClusterOutcome {
	var out []ClusterOutcome
	for _, c := range r.Clusters {
		if c.Status == ClusterResolved {
			out = append(out, c)
		}
	}
	return out
}

// Resolve relabels m's unknown clusters it can identify and moves their
// artifacts in groups. Extraction failures are reported per cluster;
// only grouping failures are returned.
func (r *Resolver) Resolve(ctx context.Context, m *Manifest, clips ClipSource, groups grouping.Store) (ResolveReport, error) {
	var report ResolveReport
	for _, label := range m.Labels() {
		if !identity.IsUnknown(label) {
			continue
		}
		out, err := r.resolveCluster(ctx, m, label, clips, groups)
		report.Clusters = append(report.Clusters, out)
		if err != nil {
			return report, err
		}
	}
	m.SyncSpeakers()
	return report, nil
}

func (r *Resolver) resolveCluster(ctx context.Context, m *Manifest, label string, clips ClipSource, groups grouping.Store) (ClusterOutcome, error) {
	out := ClusterOutcome{Label: label}
	var members []int
	var parts []pcm.Clip
	for i, u := range m.Utterances {
		if u.Speaker != label {
			continue
		}
		clip, err := clips(ctx, u)
		if err != nil {
			return r.failed(out, fmt.Errorf("read %s: %w", u.ID, err)), nil
		}
		members = append(members, i)
		parts = append(parts, clip)
	}
	out.Members = len(members)

	combined, err := pcm.Concat(parts...)
	if err != nil {
		return r.failed(out, err), nil
	}
	out.Duration = combined.Duration()
	if out.Duration < r.min {
		out.Status = ClusterSkippedShort
		r.logger.Info("conversation: cluster too short for combined pass",
			"label", label, "members", out.Members, "duration", out.Duration)
		return out, nil
	}

	audio, err := wav.Bytes(combined)
	if err != nil {
		return r.failed(out, err), nil
	}
	emb, err := identity.Embed(ctx, r.model, audio)
	if err != nil {
		return r.failed(out, err), nil
	}
	match, err := r.matcher.Match(ctx, emb, identity.MatchOptions{
		Duration:  out.Duration,
		Threshold: r.threshold,
	})
	if err != nil {
		return r.failed(out, err), nil
	}
	out.Score = match.Score
	if !match.Matched {
		out.Status = ClusterUnresolved
		r.logger.Info("conversation: cluster unresolved", "label", label, "score", match.Score)
		return out, nil
	}

	out.Status = ClusterResolved
	out.Speaker = match.Speaker
	out.EmbeddingID = match.ID
	from, to := grouping.Key(label), grouping.Key(match.Speaker)
	for _, i := range members {
		u := &m.Utterances[i]
		id := match.ID
		combinedID := true
		u.Speaker = match.Speaker
		u.Confidence = float64(match.Score)
		u.EmbeddingID = &id
		u.CombinedIdentification = &combinedID
		if err := groups.Regroup(ctx, from, to, u.Artifact()); err != nil {
			return out, fmt.Errorf("conversation: regroup %s: %w", u.ID, err)
		}
	}
	r.logger.Info("conversation: cluster resolved",
		"label", label, "speaker", match.Speaker, "score", match.Score, "members", out.Members)
	return out, nil
}

func (r *Resolver) failed(out ClusterOutcome, err error) ClusterOutcome {
	out.Status = ClusterFailed
	out.Error = err.Error()
	r.logger.Warn("conversation: combined pass failed", "label", out.Label, "error", err)
	return out
}
