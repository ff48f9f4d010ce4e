package voiceprint

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
)

// Remote calls an HTTP embedding sidecar.
//
// The request is a POST of the input WAV file, unchanged, (Content-Type
// audio/wav) to the endpoint; the response is JSON {"embedding": [...]}. Network errors and
// 5xx/429 responses are retried with exponential backoff; other statuses
// fail immediately.
type Remote struct {
	endpoint   string
	dim        int
	httpClient *http.Client
	maxElapsed time.Duration
	logger     *slog.Logger
}

// RemoteOption configures a Remote.
type RemoteOption func(*Remote)

// WithDimension sets the expected embedding length (default 192).
func WithDimension(dim int) RemoteOption {
	return func(r *Remote) { r.dim = dim }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) RemoteOption {
	return func(r *Remote) { r.httpClient = c }
}

// WithMaxElapsed bounds the total retry time (default 30s). Zero disables
// retries.
func WithMaxElapsed(d time.Duration) RemoteOption {
	return func(r *Remote) { r.maxElapsed = d }
}

// WithLogger sets the logger for retry diagnostics.
func WithLogger(l *slog.Logger) RemoteOption {
	return func(r *Remote) { r.logger = l }
}

// NewRemote creates a client for the sidecar at endpoint.
func NewRemote(endpoint string, opts ...RemoteOption) *Remote {
	r := &Remote{
		endpoint:   endpoint,
		dim:        DefaultDimension,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

func (r *Remote) Dimension() int { return r.dim }

type remoteResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (r *Remote) Extract(ctx context.Context, audio []byte) ([]float32, error) {
	clip, err := wav.Parse(audio)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrAudioFormat, err)
	}
	if clip.Format != pcm.L16Mono16K {
		return nil, fmt.Errorf("%w: got %s", ErrAudioFormat, clip.Format)
	}
	body := audio

	var vec []float32
	attempt := 0
	call := func() error {
		attempt++
		v, err := r.call(ctx, body)
		if err != nil {
			r.logger.Debug("voiceprint: extract failed", "attempt", attempt, "error", err)
			return err
		}
		vec = v
		return nil
	}

	var bo backoff.BackOff = &backoff.StopBackOff{}
	if r.maxElapsed > 0 {
		eb := backoff.NewExponentialBackOff()
		eb.InitialInterval = 500 * time.Millisecond
		eb.MaxInterval = 5 * time.Second
		eb.MaxElapsedTime = r.maxElapsed
		bo = eb
	}
	if err := backoff.Retry(call, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	if err := Validate(vec, r.dim); err != nil {
		return nil, err
	}
	return vec, nil
}

func (r *Remote) call(ctx context.Context, body []byte) ([]float32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("voiceprint: build request: %w", err))
	}
	req.Header.Set("Content-Type", "audio/wav")
	req.Header.Set("Accept", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, backoff.Permanent(ctx.Err())
		}
		return nil, fmt.Errorf("voiceprint: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("voiceprint: status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, backoff.Permanent(err)
	}

	var out remoteResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("voiceprint: decode response: %w", err))
	}
	return out.Embedding, nil
}
