package voicedb

import (
	"context"
	"path"
	"strings"

	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/storage"
	"github.com/haivivi/speakerid/pkg/vecstore"
)

// Per-file outcomes of batch operations.
const (
	StatusAdded      = "added"
	StatusDuplicate  = "duplicate"
	StatusUnverified = "unverified"
	StatusFailed     = "failed"
)

// UpdateRequest grows one speaker's evidence from a folder of WAV files.
type UpdateRequest struct {
	FS  storage.FileStore
	Dir string

	// Speaker defaults to the base name of Dir.
	Speaker string

	// AvgThreshold and MaxThreshold default to the identity defaults.
	AvgThreshold float32
	MaxThreshold float32

	// DryRun evaluates every file without writing to the store.
	DryRun bool
}

// FileOutcome is the result for one file.
type FileOutcome struct {
	File       string  `json:"file" yaml:"file"`
	Status     string  `json:"status" yaml:"status"`
	ID         string  `json:"id,omitempty" yaml:"id,omitempty"`
	Avg        float32 `json:"avg,omitempty" yaml:"avg,omitempty"`
	Max        float32 `json:"max,omitempty" yaml:"max,omitempty"`
	Similarity float32 `json:"similarity,omitempty" yaml:"similarity,omitempty"`
	Error      string  `json:"error,omitempty" yaml:"error,omitempty"`
}

// UpdateSummary counts a batch run and lists its files in processing
// order.
type UpdateSummary struct {
	Speaker    string        `json:"speaker" yaml:"speaker"`
	DryRun     bool          `json:"dry_run" yaml:"dry_run"`
	Added      int           `json:"added" yaml:"added"`
	Duplicate  int           `json:"duplicate" yaml:"duplicate"`
	Unverified int           `json:"unverified" yaml:"unverified"`
	Failed     int           `json:"failed" yaml:"failed"`
	Files      []FileOutcome `json:"files" yaml:"files"`
}

// FilesWith returns the names of files with the given status.
func (s UpdateSummary) FilesWith(status string) []string {
	var out []string
	for _, f := range s.Files {
		if f.Status == status {
			out = append(out, f.File)
		}
	}
	return out
}

func (s *UpdateSummary) record(o FileOutcome) {
	switch o.Status {
	case StatusAdded:
		s.Added++
	case StatusDuplicate:
		s.Duplicate++
	case StatusUnverified:
		s.Unverified++
	case StatusFailed:
		s.Failed++
	}
	s.Files = append(s.Files, o)
}

func wavFiles(names []string) []string {
	var out []string
	for _, n := range names {
		if strings.EqualFold(path.Ext(n), ".wav") {
			out = append(out, n)
		}
	}
	return out
}

// UpdateFromFolder adds every WAV file in the folder that is neither a
// near-duplicate of the speaker's evidence nor rejected by the
// verification gate. The first embedding of a speaker with no evidence is
// accepted. Accepted embeddings join the evidence for later files, also in
// a dry run.
func (db *DB) UpdateFromFolder(ctx context.Context, req UpdateRequest) (UpdateSummary, error) {
	speaker := req.Speaker
	if strings.TrimSpace(speaker) == "" {
		speaker = path.Base(req.Dir)
	}
	speaker, err := identity.CheckName(speaker)
	if err != nil {
		return UpdateSummary{}, err
	}
	gate := identity.NewGate(identity.FirstEnrollmentAccept)
	if req.AvgThreshold > 0 {
		gate.AvgThreshold = req.AvgThreshold
	}
	if req.MaxThreshold > 0 {
		gate.MaxThreshold = req.MaxThreshold
	}
	summary := UpdateSummary{Speaker: speaker, DryRun: req.DryRun, Files: []FileOutcome{}}

	names, err := storage.Files(ctx, req.FS, req.Dir)
	if err != nil {
		return summary, err
	}
	evidence, err := identity.Evidence(ctx, db.store, speaker)
	if err != nil {
		return summary, err
	}
	log := db.logger.With("speaker", speaker, "dry_run", req.DryRun)

	for _, name := range wavFiles(names) {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		out := FileOutcome{File: name}
		data, err := storage.ReadFile(ctx, req.FS, path.Join(req.Dir, name))
		if err != nil {
			out.Status, out.Error = StatusFailed, err.Error()
			summary.record(out)
			continue
		}
		emb, dur, err := db.embed(ctx, data)
		if err != nil {
			out.Status, out.Error = StatusFailed, err.Error()
			log.Warn("voicedb: embedding failed", "file", name, "error", err)
			summary.record(out)
			continue
		}

		if dup := identity.FindDuplicate(emb, evidence, db.dup); dup.Found {
			out.Status, out.Similarity = StatusDuplicate, dup.Similarity
			summary.record(out)
			continue
		}
		ver := gate.Verify(emb, vecstore.Vectors(evidence))
		out.Avg, out.Max = ver.Avg, ver.Max
		if !ver.Accepted {
			out.Status = StatusUnverified
			log.Info("voicedb: verification rejected", "file", name, "avg", ver.Avg, "max", ver.Max)
			summary.record(out)
			continue
		}
		if ver.Empty {
			out.Avg, out.Max = 1, 1
		}

		secs := dur.Seconds()
		avg, mx := float64(out.Avg), float64(out.Max)
		rec := vecstore.Record{
			ID:     identity.NewEmbeddingID(speaker, false),
			Vector: emb,
			Metadata: vecstore.Metadata{
				SpeakerName:     speaker,
				SourceFile:      name,
				DurationSeconds: &secs,
				AvgConfidence:   &avg,
				MaxConfidence:   &mx,
			},
		}
		if !req.DryRun {
			if err := db.store.Upsert(ctx, rec); err != nil {
				out.Status, out.Error = StatusFailed, err.Error()
				log.Error("voicedb: add embedding failed", "file", name, "error", err)
				summary.record(out)
				continue
			}
		}
		evidence = append(evidence, rec)
		out.Status, out.ID = StatusAdded, rec.ID
		summary.record(out)
	}
	log.Info("voicedb: folder update done",
		"added", summary.Added,
		"duplicate", summary.Duplicate,
		"unverified", summary.Unverified,
		"failed", summary.Failed,
	)
	return summary, nil
}

// File is a named audio file.
type File struct {
	Name string
	Data []byte
}

// AddShortUtterances stores each file as short-utterance evidence of
// speaker without verification.
func (db *DB) AddShortUtterances(ctx context.Context, speaker string, files []File) (UpdateSummary, error) {
	speaker, err := identity.CheckName(speaker)
	if err != nil {
		return UpdateSummary{}, err
	}
	summary := UpdateSummary{Speaker: speaker, Files: []FileOutcome{}}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		out := FileOutcome{File: path.Base(f.Name)}
		emb, dur, err := db.embed(ctx, f.Data)
		if err != nil {
			out.Status, out.Error = StatusFailed, err.Error()
			summary.record(out)
			continue
		}
		secs := dur.Seconds()
		rec := vecstore.Record{
			ID:     identity.NewEmbeddingID(speaker, true),
			Vector: emb,
			Metadata: vecstore.Metadata{
				SpeakerName:      speaker,
				SourceFile:       out.File,
				IsShortUtterance: true,
				DurationSeconds:  &secs,
			},
		}
		if err := db.store.Upsert(ctx, rec); err != nil {
			out.Status, out.Error = StatusFailed, err.Error()
			summary.record(out)
			continue
		}
		out.Status, out.ID = StatusAdded, rec.ID
		summary.record(out)
		db.logger.Info("voicedb: added short utterance", "speaker", speaker, "id", rec.ID, "file", out.File)
	}
	return summary, nil
}
