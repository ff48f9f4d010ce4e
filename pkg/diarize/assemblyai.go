package diarize

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	aai "github.com/AssemblyAI/assemblyai-go-sdk"
)

// AssemblyAI diarizes through the AssemblyAI transcription API with speaker
// labels enabled.
type AssemblyAI struct {
	client       *aai.Client
	languageCode string
	logger       *slog.Logger
}

// AssemblyAIConfig configures the adapter.
type AssemblyAIConfig struct {
	APIKey string

	// LanguageCode is optional; empty lets the service detect it.
	LanguageCode string

	Logger *slog.Logger
}

// NewAssemblyAI creates the adapter.
func NewAssemblyAI(cfg AssemblyAIConfig) *AssemblyAI {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AssemblyAI{
		client:       aai.NewClient(cfg.APIKey),
		languageCode: cfg.LanguageCode,
		logger:       logger,
	}
}

func (a *AssemblyAI) Diarize(ctx context.Context, audio io.Reader) ([]Segment, error) {
	params := &aai.TranscriptOptionalParams{
		SpeakerLabels: aai.Bool(true),
	}
	if a.languageCode != "" {
		params.LanguageCode = aai.TranscriptLanguageCode(a.languageCode)
	}

	a.logger.Info("diarize: submitting to assemblyai")
	transcript, err := a.client.Transcripts.TranscribeFromReader(ctx, audio, params)
	if err != nil {
		return nil, fmt.Errorf("diarize: assemblyai: %w", err)
	}
	if transcript.Status == aai.TranscriptStatusError {
		msg := "unknown error"
		if transcript.Error != nil {
			msg = *transcript.Error
		}
		return nil, fmt.Errorf("diarize: assemblyai: %s", msg)
	}

	segs := make([]Segment, 0, len(transcript.Utterances))
	for _, u := range transcript.Utterances {
		var s Segment
		if u.Speaker != nil {
			s.Track = *u.Speaker
		}
		if u.Start != nil {
			s.StartMS = *u.Start
		}
		if u.End != nil {
			s.EndMS = *u.End
		}
		if u.Text != nil {
			s.Text = *u.Text
		}
		if u.Confidence != nil {
			s.Confidence = *u.Confidence
		}
		segs = append(segs, s)
	}
	a.logger.Info("diarize: transcript ready", "utterances", len(segs))
	return normalize(segs)
}
