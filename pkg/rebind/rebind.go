// Package rebind renames a speaker within one processed conversation.
//
// A rename is an ordered list of steps, each idempotent and each counting
// the changes it made. A failing step halts the rename; the steps already
// completed stay valid, and running the same rename again finishes the
// rest with no further effect on what was done.
package rebind

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/haivivi/speakerid/pkg/conversation"
	"github.com/haivivi/speakerid/pkg/grouping"
	"github.com/haivivi/speakerid/pkg/identity"
	"github.com/haivivi/speakerid/pkg/storage"
	"github.com/haivivi/speakerid/pkg/voicedb"
)

// ErrSameName is returned when old and new names are equal.
var ErrSameName = errors.New("rebind: old and new names are equal")

// Step names.
const (
	StepRegroup           = "regroup"
	StepUtterances        = "utterances"
	StepSpeakers          = "speakers"
	StepTranscript        = "transcript"
	StepLegacyTranscripts = "legacy_transcripts"
	StepLegacyEvidence    = "legacy_evidence"
	StepVoiceDB           = "voicedb"
)

// Enroller grows a speaker's evidence from a folder.
type Enroller interface {
	UpdateFromFolder(ctx context.Context, req voicedb.UpdateRequest) (voicedb.UpdateSummary, error)
}

// Config configures a Rebinder.
type Config struct {
	Library *conversation.Library

	// Enroller serves Request.UpdateDB; it may be nil when never used.
	Enroller Enroller

	// Locker is optional.
	Locker conversation.Locker

	Logger *slog.Logger
}

// Rebinder renames speakers.
type Rebinder struct {
	lib    *conversation.Library
	enroll Enroller
	locker conversation.Locker
	logger *slog.Logger
}

// New creates a Rebinder.
func New(cfg Config) *Rebinder {
	r := &Rebinder{
		lib:    cfg.Library,
		enroll: cfg.Enroller,
		locker: cfg.Locker,
		logger: cfg.Logger,
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// Request names one rename.
type Request struct {
	ConversationID string
	OldName        string
	NewName        string

	// UpdateDB re-enrolls the renamed speaker's flat-layout evidence
	// through verified folder update.
	UpdateDB bool

	// AvgThreshold and MaxThreshold are passed to the folder update.
	AvgThreshold float32
	MaxThreshold float32
}

// StepResult reports one step.
type StepResult struct {
	Step    string                 `json:"step" yaml:"step"`
	Changes int                    `json:"changes" yaml:"changes"`
	Skipped bool                   `json:"skipped,omitempty" yaml:"skipped,omitempty"`
	Update  *voicedb.UpdateSummary `json:"update,omitempty" yaml:"update,omitempty"`
}

// Result reports a rename. Changes sums the step changes; voice database
// additions are reported in their step only.
type Result struct {
	Changes int          `json:"changes" yaml:"changes"`
	Steps   []StepResult `json:"steps" yaml:"steps"`
}

// operation is the state shared by the steps of one rename.
type operation struct {
	req    Request
	m      *conversation.Manifest
	groups grouping.Store
	dirty  bool
}

// Step is one stage of a rename.
type Step struct {
	Name string
	Run  func(ctx context.Context, op *operation) (StepResult, error)
}

// Steps returns the rename steps in execution order.
func (r *Rebinder) Steps() []Step {
	return []Step{
		{StepRegroup, r.regroup},
		{StepUtterances, r.relabelUtterances},
		{StepSpeakers, r.relabelSpeakers},
		{StepTranscript, r.rewriteTranscript},
		{StepLegacyTranscripts, r.rewriteLegacyTranscripts},
		{StepLegacyEvidence, r.moveLegacyEvidence},
		{StepVoiceDB, r.updateDB},
	}
}

// Rename applies req. It returns identity.ErrNotFound when neither name is
// used in the conversation and identity.ErrAlreadyExists when the new
// name's group already holds other artifacts. Renaming again after a
// completed rename reports no changes.
func (r *Rebinder) Rename(ctx context.Context, req Request) (Result, error) {
	var err error
	if req.OldName, err = identity.CheckName(req.OldName); err != nil {
		return Result{}, err
	}
	if req.NewName, err = identity.CheckName(req.NewName); err != nil {
		return Result{}, err
	}
	if req.OldName == req.NewName {
		return Result{}, ErrSameName
	}
	if r.locker != nil {
		unlock, err := r.locker.Lock(ctx, req.ConversationID)
		if err != nil {
			return Result{}, err
		}
		defer unlock()
	}

	m, err := r.lib.Load(ctx, req.ConversationID)
	if err != nil {
		return Result{}, err
	}
	if !m.References(req.OldName) && !m.References(req.NewName) {
		return Result{}, fmt.Errorf("%w: speaker %q in %s", identity.ErrNotFound, req.OldName, req.ConversationID)
	}
	op := &operation{req: req, m: m, groups: r.lib.Groups(req.ConversationID)}
	if err := r.checkGroups(ctx, op); err != nil {
		return Result{}, err
	}

	log := r.logger.With("conversation", req.ConversationID, "old", req.OldName, "new", req.NewName)
	var res Result
	for _, step := range r.Steps() {
		sr, err := step.Run(ctx, op)
		if err != nil {
			log.Error("rebind: step failed", "step", step.Name, "error", err)
			return res, fmt.Errorf("rebind: %s: %w", step.Name, err)
		}
		sr.Step = step.Name
		res.Steps = append(res.Steps, sr)
		res.Changes += sr.Changes
	}
	log.Info("rebind: renamed", "changes", res.Changes)
	return res, nil
}

// checkGroups refuses a rename into a group that already holds other
// artifacts, before anything is changed.
func (r *Rebinder) checkGroups(ctx context.Context, op *operation) error {
	from, to := grouping.Key(op.req.OldName), grouping.Key(op.req.NewName)
	if from == to {
		return nil
	}
	src, err := op.groups.Items(ctx, from)
	if err != nil {
		return err
	}
	dst, err := op.groups.Items(ctx, to)
	if err != nil {
		return err
	}
	if len(src) > 0 && len(dst) > 0 {
		return fmt.Errorf("%w: group %q in %s", identity.ErrAlreadyExists, to, op.req.ConversationID)
	}
	return nil
}

func (r *Rebinder) regroup(ctx context.Context, op *operation) (StepResult, error) {
	from, to := grouping.Key(op.req.OldName), grouping.Key(op.req.NewName)
	if from == to {
		return StepResult{Skipped: true}, nil
	}
	items, err := op.groups.Items(ctx, from)
	if err != nil {
		return StepResult{}, err
	}
	if len(items) == 0 {
		return StepResult{Skipped: true}, nil
	}
	if err := op.groups.RegroupAll(ctx, from, to); err != nil {
		return StepResult{}, err
	}
	return StepResult{Changes: 1}, nil
}

func (r *Rebinder) relabelUtterances(_ context.Context, op *operation) (StepResult, error) {
	n := 0
	for i := range op.m.Utterances {
		if op.m.Utterances[i].Speaker == op.req.OldName {
			op.m.Utterances[i].Speaker = op.req.NewName
			n++
		}
	}
	if n > 0 {
		op.dirty = true
	}
	return StepResult{Changes: n}, nil
}

// relabelSpeakers rewrites the speaker list and persists the manifest.
func (r *Rebinder) relabelSpeakers(ctx context.Context, op *operation) (StepResult, error) {
	var sr StepResult
	if slices.Contains(op.m.Speakers, op.req.OldName) {
		var out []string
		for _, s := range op.m.Speakers {
			if s == op.req.OldName {
				s = op.req.NewName
			}
			if !slices.Contains(out, s) {
				out = append(out, s)
			}
		}
		op.m.Speakers = out
		op.dirty = true
		sr.Changes = 1
	}
	if !op.dirty {
		return sr, nil
	}
	op.m.SyncSpeakers()
	if err := r.lib.Save(ctx, op.m); err != nil {
		return sr, err
	}
	op.dirty = false
	return sr, nil
}

func (r *Rebinder) rewriteTranscript(ctx context.Context, op *operation) (StepResult, error) {
	n, err := r.lib.RewriteTranscript(ctx, op.req.ConversationID, op.req.OldName, op.req.NewName)
	return StepResult{Changes: n}, err
}

func (r *Rebinder) rewriteLegacyTranscripts(ctx context.Context, op *operation) (StepResult, error) {
	n, err := r.lib.RewriteLegacyTranscripts(ctx, op.m, op.req.OldName, op.req.NewName)
	return StepResult{Changes: n}, err
}

func (r *Rebinder) moveLegacyEvidence(ctx context.Context, op *operation) (StepResult, error) {
	n, err := r.lib.MoveLegacyEvidence(ctx, op.req.ConversationID, op.req.OldName, op.req.NewName)
	return StepResult{Changes: n}, err
}

func (r *Rebinder) updateDB(ctx context.Context, op *operation) (StepResult, error) {
	if !op.req.UpdateDB {
		return StepResult{Skipped: true}, nil
	}
	if r.enroll == nil {
		return StepResult{}, errors.New("no voice database configured")
	}
	dir := conversation.LegacyEvidenceDir(op.req.NewName)
	fs := r.lib.FileStore()
	empty, err := storage.IsEmptyDir(ctx, fs, dir)
	if err != nil {
		return StepResult{}, err
	}
	if empty {
		return StepResult{Skipped: true}, nil
	}
	sum, err := r.enroll.UpdateFromFolder(ctx, voicedb.UpdateRequest{
		FS:           fs,
		Dir:          dir,
		Speaker:      op.req.NewName,
		AvgThreshold: op.req.AvgThreshold,
		MaxThreshold: op.req.MaxThreshold,
	})
	if err != nil {
		return StepResult{}, err
	}
	return StepResult{Update: &sum}, nil
}
