package conversation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/haivivi/speakerid/pkg/audio"
	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
	"github.com/haivivi/speakerid/pkg/diarize"
	"github.com/haivivi/speakerid/pkg/grouping"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/storage"
	"github.com/haivivi/speakerid/pkg/vecstore"
	"github.com/haivivi/speakerid/pkg/voiceprint"
)

// Locker serializes mutations of one conversation.
type Locker interface {
	Lock(ctx context.Context, id string) (unlock func(), err error)
}

// Processing stages reported to Progress.
const (
	StageDiarize  = "diarize"
	StageIdentify = "identify"
	StageResolve  = "resolve"
	StageWrite    = "write"
)

// Progress receives stage updates. Done and total count utterances during
// StageIdentify and are zero otherwise.
type Progress func(stage string, done, total int)

// ProcessorConfig configures a Processor.
type ProcessorConfig struct {
	Library  *Library
	Diarizer diarize.Diarizer
	Model    voiceprint.Model
	Store    vecstore.Store
	Matcher  *identity.Matcher
	Resolver *Resolver

	// AutoUpdate enables adding confident matches to the voice database.
	AutoUpdate bool

	// AutoUpdateConfidence defaults to identity.DefaultAutoUpdateConfidence.
	AutoUpdateConfidence float32

	// DuplicateThreshold defaults to identity.DuplicateAutomatic.
	DuplicateThreshold float32

	// Gate verifies auto-update candidates. The zero value is replaced by
	// identity.NewGate(identity.FirstEnrollmentReject).
	Gate identity.Gate

	// ShortDuration defaults to identity.DefaultShortDuration.
	ShortDuration time.Duration

	// Locker is optional.
	Locker Locker

	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Processor turns recordings into library conversations.
type Processor struct {
	cfg    ProcessorConfig
	logger *slog.Logger
}

// NewProcessor creates a Processor.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.AutoUpdateConfidence <= 0 {
		cfg.AutoUpdateConfidence = identity.DefaultAutoUpdateConfidence
	}
	if cfg.DuplicateThreshold <= 0 {
		cfg.DuplicateThreshold = identity.DuplicateAutomatic
	}
	if cfg.Gate == (identity.Gate{}) {
		cfg.Gate = identity.NewGate(identity.FirstEnrollmentReject)
	}
	if cfg.ShortDuration <= 0 {
		cfg.ShortDuration = identity.DefaultShortDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{cfg: cfg, logger: logger}
}

// Input is one recording to process.
type Input struct {
	// Name is the source file name; its extension names original_audio.
	Name string
	Data []byte
}

// Process diarizes, identifies and stores one recording. Per-utterance
// failures are recorded in the manifest stats; only failures that leave
// no usable conversation are returned.
func (p *Processor) Process(ctx context.Context, in Input, progress Progress) (*Manifest, error) {
	if progress == nil {
		progress = func(string, int, int) {}
	}
	lib := p.cfg.Library
	now := p.cfg.Now()

	full, err := audio.DecodeBytes(in.Data)
	if err != nil {
		return nil, err
	}

	id, err := lib.NewID(ctx, now)
	if err != nil {
		return nil, err
	}
	if p.cfg.Locker != nil {
		unlock, err := p.cfg.Locker.Lock(ctx, id)
		if err != nil {
			return nil, err
		}
		defer unlock()
	}
	log := p.logger.With("conversation", id)

	progress(StageDiarize, 0, 0)
	segs, err := p.cfg.Diarizer.Diarize(ctx, bytes.NewReader(in.Data))
	if err != nil {
		return nil, fmt.Errorf("conversation: diarize: %w", err)
	}
	log.Info("conversation: diarized", "segments", len(segs), "duration", full.Duration())

	dir := lib.Dir(id)
	original := "original_audio" + strings.ToLower(path.Ext(in.Name))
	if err := storage.WriteFile(ctx, lib.fs, path.Join(dir, original), in.Data); err != nil {
		return nil, err
	}

	m := &Manifest{
		ConversationID:  id,
		OriginalAudio:   original,
		SourceName:      path.Base(in.Name),
		DateProcessed:   now.Format("2006-01-02T15:04:05"),
		DurationSeconds: full.Duration().Seconds(),
		Utterances:      make([]Utterance, 0, len(segs)),
	}
	groups := lib.Groups(id)
	clips := make(map[string][]byte, len(segs))
	run := &identifyRun{p: p, log: log, evidence: make(map[string][]vecstore.Record)}

	for i, seg := range segs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		progress(StageIdentify, i, len(segs))
		clip := full.Slice(time.Duration(seg.StartMS)*time.Millisecond, time.Duration(seg.EndMS)*time.Millisecond)
		data, err := wav.Bytes(clip)
		if err != nil {
			return nil, err
		}
		u := Utterance{
			ID:        fmt.Sprintf("utterance_%03d", i),
			StartTime: FormatClock(seg.StartMS),
			EndTime:   FormatClock(seg.EndMS),
			StartMS:   seg.StartMS,
			EndMS:     seg.EndMS,
			Text:      seg.Text,
			IsShort:   clip.Duration() < p.cfg.ShortDuration,
		}
		u.AudioFile = path.Join("utterances", u.Artifact())
		if err := storage.WriteFile(ctx, lib.fs, path.Join(dir, u.AudioFile), data); err != nil {
			return nil, err
		}

		run.identify(ctx, &u, seg.Track, clip, data, &m.DatabaseUpdateStats, path.Join(dir, u.AudioFile))
		if err := groups.Put(ctx, grouping.Key(u.Speaker), u.Artifact(), data); err != nil {
			return nil, err
		}
		clips[u.ID] = data
		m.Utterances = append(m.Utterances, u)
	}
	progress(StageIdentify, len(segs), len(segs))

	m.SyncSpeakers()
	if p.cfg.Resolver != nil {
		progress(StageResolve, 0, 0)
		source := func(_ context.Context, u Utterance) (pcm.Clip, error) {
			return wav.Parse(clips[u.ID])
		}
		if _, err := p.cfg.Resolver.Resolve(ctx, m, source, groups); err != nil {
			return nil, err
		}
	}
	m.RecountShortStats()
	m.SyncSpeakers()

	progress(StageWrite, 0, 0)
	if err := p.write(ctx, m, clips); err != nil {
		return nil, err
	}
	log.Info("conversation: processed",
		"utterances", len(m.Utterances),
		"speakers", m.Speakers,
		"added", m.DatabaseUpdateStats.Added,
	)
	return m, nil
}

func (p *Processor) write(ctx context.Context, m *Manifest, clips map[string][]byte) error {
	lib := p.cfg.Library
	title := m.SourceName
	if err := lib.writeLegacy(ctx, m, title, clips); err != nil {
		return err
	}
	if err := storage.WriteFile(ctx, lib.fs, lib.TranscriptPath(m.ConversationID), []byte(Transcript(title, m.Utterances))); err != nil {
		return err
	}
	return lib.Save(ctx, m)
}

// Resolve re-runs the combined pass on a stored conversation, typically
// after new speakers were enrolled, and rewrites its transcripts and
// flat-layout files for every relabeled cluster.
func (p *Processor) Resolve(ctx context.Context, id string) (ResolveReport, error) {
	if p.cfg.Resolver == nil {
		return ResolveReport{}, errors.New("conversation: no resolver configured")
	}
	lib := p.cfg.Library
	if p.cfg.Locker != nil {
		unlock, err := p.cfg.Locker.Lock(ctx, id)
		if err != nil {
			return ResolveReport{}, err
		}
		defer unlock()
	}
	m, err := lib.Load(ctx, id)
	if err != nil {
		return ResolveReport{}, err
	}
	source := func(ctx context.Context, u Utterance) (pcm.Clip, error) {
		return lib.Clip(ctx, id, u)
	}
	report, err := p.cfg.Resolver.Resolve(ctx, m, source, lib.Groups(id))
	if err != nil {
		return report, err
	}
	resolved := report.Resolved()
	if len(resolved) == 0 {
		return report, nil
	}
	m.RecountShortStats()
	if err := lib.Save(ctx, m); err != nil {
		return report, err
	}
	for _, c := range resolved {
		if _, err := lib.RewriteTranscript(ctx, id, c.Label, c.Speaker); err != nil {
			return report, err
		}
		if _, err := lib.RewriteLegacyTranscripts(ctx, m, c.Label, c.Speaker); err != nil {
			return report, err
		}
		if _, err := lib.MoveLegacyEvidence(ctx, id, c.Label, c.Speaker); err != nil {
			return report, err
		}
	}
	return report, nil
}

// identifyRun holds per-conversation identification state.
type identifyRun struct {
	p   *Processor
	log *slog.Logger

	// evidence caches each speaker's stored records for the duplicate and
	// verification checks; records added during the run are appended.
	evidence map[string][]vecstore.Record
}

// identify labels u and, when enabled, adds its embedding to the voice
// database. It never fails: errors demote u to its provisional label.
func (r *identifyRun) identify(ctx context.Context, u *Utterance, track string, clip pcm.Clip, data []byte, stats *UpdateStats, source string) {
	u.Speaker = identity.UnknownLabel(track)

	emb, err := identity.Embed(ctx, r.p.cfg.Model, data)
	if err != nil {
		r.log.Warn("conversation: embedding failed", "utterance", u.ID, "error", err)
		stats.Failed++
		stats.SkippedUnknown++
		return
	}
	match, err := r.p.cfg.Matcher.Match(ctx, emb, identity.MatchOptions{Short: u.IsShort, Duration: clip.Duration()})
	if err != nil {
		r.log.Warn("conversation: match failed", "utterance", u.ID, "error", err)
		stats.Failed++
		stats.SkippedUnknown++
		return
	}
	if !match.Matched {
		stats.SkippedUnknown++
		return
	}

	matchID := match.ID
	u.Speaker = match.Speaker
	u.Confidence = float64(match.Score)
	u.EmbeddingID = &matchID

	if !r.p.cfg.AutoUpdate {
		return
	}
	if match.Score < r.p.cfg.AutoUpdateConfidence {
		stats.SkippedLowConfidence++
		return
	}
	r.add(ctx, u, emb, clip, stats, source)
}

func (r *identifyRun) add(ctx context.Context, u *Utterance, emb []float32, clip pcm.Clip, stats *UpdateStats, source string) {
	speaker := u.Speaker
	existing, ok := r.evidence[speaker]
	if !ok {
		recs, err := identity.Evidence(ctx, r.p.cfg.Store, speaker)
		if err != nil {
			r.log.Warn("conversation: load evidence failed", "speaker", speaker, "error", err)
			stats.Failed++
			return
		}
		existing = recs
		r.evidence[speaker] = recs
	}

	if dup := identity.FindDuplicate(emb, existing, r.p.cfg.DuplicateThreshold); dup.Found {
		r.log.Debug("conversation: duplicate embedding", "utterance", u.ID, "of", dup.ID, "similarity", dup.Similarity)
		stats.SkippedDuplicate++
		return
	}
	ver := r.p.cfg.Gate.Verify(emb, vecstore.Vectors(existing))
	if !ver.Accepted {
		r.log.Debug("conversation: verification rejected", "utterance", u.ID, "avg", ver.Avg, "max", ver.Max, "empty", ver.Empty)
		stats.SkippedUnverified++
		return
	}

	dur := clip.Duration().Seconds()
	avg, mx := float64(ver.Avg), float64(ver.Max)
	rec := vecstore.Record{
		ID:     identity.NewEmbeddingID(speaker, false),
		Vector: emb,
		Metadata: vecstore.Metadata{
			SpeakerName:      speaker,
			SourceFile:       source,
			IsShortUtterance: u.IsShort,
			DurationSeconds:  &dur,
			AvgConfidence:    &avg,
			MaxConfidence:    &mx,
		},
	}
	if err := r.p.cfg.Store.Upsert(ctx, rec); err != nil {
		r.log.Error("conversation: add embedding failed", "utterance", u.ID, "error", err)
		stats.Failed++
		return
	}
	r.evidence[speaker] = append(existing, rec)
	stats.Added++
}
