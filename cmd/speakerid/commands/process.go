package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/haivivi/speakerid/pkg/cli"
	"github.com/haivivi/speakerid/pkg/conversation"
)

var (
	processSegments     string
	processConcurrency  int
	processNoAutoUpdate bool
)

var processCmd = &cobra.Command{
	Use:   "process <file.wav>...",
	Short: "Diarize and identify recordings into the library",
	Long: `Diarize each recording, identify every utterance against the voice
database and store the result as a conversation in the library.

Each recording is tracked as a job; see 'speakerid jobs list'. A failed
recording does not stop the others.

Examples:
  speakerid process meeting.wav
  speakerid process *.wav --concurrency 4
  speakerid process meeting.wav --segments meeting.json`,
	Args: cobra.MinimumNArgs(1),
	RunE: runProcess,
}

func init() {
	processCmd.Flags().StringVar(&processSegments, "segments", "", "JSON file of diarized segments (skips the diarization provider)")
	processCmd.Flags().IntVar(&processConcurrency, "concurrency", 0, "recordings processed at once (default from config)")
	processCmd.Flags().BoolVar(&processNoAutoUpdate, "no-auto-update", false, "do not add confident matches to the voice database")
	rootCmd.AddCommand(processCmd)
}

// processResult is the outcome for one input file.
type processResult struct {
	File           string                   `json:"file" yaml:"file"`
	JobID          string                   `json:"job_id" yaml:"job_id"`
	ConversationID string                   `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	Speakers       []string                 `json:"speakers,omitempty" yaml:"speakers,omitempty"`
	Utterances     int                      `json:"utterances" yaml:"utterances"`
	Duration       float64                  `json:"duration_seconds" yaml:"duration_seconds"`
	Stats          conversation.UpdateStats `json:"database_update_stats" yaml:"database_update_stats"`
	Error          string                   `json:"error,omitempty" yaml:"error,omitempty"`
}

type processResults []processResult

func (r processResults) Table() ([]string, [][]string) {
	headers := []string{"FILE", "CONVERSATION", "SPEAKERS", "UTTERANCES", "DURATION", "ADDED", "ERROR"}
	rows := make([][]string, 0, len(r))
	for _, p := range r {
		rows = append(rows, []string{
			p.File,
			p.ConversationID,
			strings.Join(p.Speakers, ", "),
			fmt.Sprint(p.Utterances),
			cli.FormatSeconds(p.Duration),
			fmt.Sprint(p.Stats.Added),
			p.Error,
		})
	}
	return headers, rows
}

func runProcess(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	d, err := a.diarizer(processSegments)
	if err != nil {
		return err
	}
	p := a.processor(d, a.cfg.Process.AutoUpdate && !processNoAutoUpdate)

	limit := processConcurrency
	if limit <= 0 {
		limit = a.cfg.Process.Concurrency
	}
	results := make(processResults, len(args))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, file := range args {
		g.Go(func() error {
			results[i] = processOne(gctx, a, p, file)
			return nil
		})
	}
	g.Wait()

	if err := output(results); err != nil {
		return err
	}
	var failed int
	for _, r := range results {
		if r.Error != "" {
			failed++
			cli.PrintWarning("%s: %s", r.File, r.Error)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d recordings failed", failed, len(results))
	}
	return nil
}

// processOne runs one file as a tracked job.
func processOne(ctx context.Context, a *app, p *conversation.Processor, file string) processResult {
	res := processResult{File: file}
	job, err := a.jobs.Create(ctx, file)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.JobID = job.ID
	log := a.logger.With("job", job.ID, "file", file)

	fail := func(err error) processResult {
		res.Error = err.Error()
		if _, ferr := a.jobs.Fail(ctx, job.ID, err); ferr != nil {
			log.Warn("record job failure", "error", ferr)
		}
		return res
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return fail(err)
	}
	if _, err := a.jobs.Start(ctx, job.ID); err != nil {
		return fail(err)
	}
	progress := func(stage string, done, total int) {
		if _, err := a.jobs.Progress(ctx, job.ID, stage, stageFraction(stage, done, total)); err != nil {
			log.Debug("record job progress", "error", err)
		}
	}
	m, err := p.Process(ctx, conversation.Input{Name: filepath.Base(file), Data: data}, progress)
	if err != nil {
		return fail(err)
	}
	if _, err := a.jobs.Complete(ctx, job.ID, m.ConversationID); err != nil {
		log.Warn("record job completion", "error", err)
	}
	res.ConversationID = m.ConversationID
	res.Speakers = m.Speakers
	res.Utterances = len(m.Utterances)
	res.Duration = m.DurationSeconds
	res.Stats = m.DatabaseUpdateStats
	return res
}

// stageFraction maps processor progress onto overall job progress.
func stageFraction(stage string, done, total int) float64 {
	switch stage {
	case conversation.StageDiarize:
		return 0.05
	case conversation.StageIdentify:
		if total == 0 {
			return 0.2
		}
		return 0.2 + 0.6*float64(done)/float64(total)
	case conversation.StageResolve:
		return 0.85
	case conversation.StageWrite:
		return 0.95
	}
	return 0
}
