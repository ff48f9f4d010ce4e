package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
)

// ToModel converts clip to pcm.L16Mono16K.
func ToModel(clip pcm.Clip) (pcm.Clip, error) {
	return Convert(clip, pcm.L16Mono16K)
}

// Convert resamples clip to dst. Channel conversion supports any number of
// source channels down to mono, and mono up to stereo.
func Convert(clip pcm.Clip, dst pcm.Format) (pcm.Clip, error) {
	if err := clip.Format.Validate(); err != nil {
		return pcm.Clip{}, err
	}
	if err := dst.Validate(); err != nil {
		return pcm.Clip{}, err
	}
	if clip.Format == dst {
		return clip, nil
	}
	if dst.Channels > 2 || (dst.Channels == 2 && clip.Format.Channels > 2) {
		return pcm.Clip{}, fmt.Errorf("resampler: cannot map %d channels to %d", clip.Format.Channels, dst.Channels)
	}

	mono := downmix(clip.Float32(), clip.Format.Channels)
	if clip.Format.SampleRate != dst.SampleRate {
		var err error
		if mono, err = resample(mono, clip.Format.SampleRate, dst.SampleRate); err != nil {
			return pcm.Clip{}, err
		}
	}
	if dst.Channels == 2 {
		mono = upmix(mono)
	}
	return pcm.FromFloat32(dst, mono), nil
}

func resample(in []float32, from, to int) ([]float32, error) {
	if len(in) == 0 {
		return nil, nil
	}
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: create: %w", err)
	}
	input := make([]float64, len(in))
	for i, s := range in {
		input[i] = float64(s)
	}
	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}
	out := make([]float32, len(output))
	for i, s := range output {
		out[i] = float32(s)
	}
	return out, nil
}

// downmix averages interleaved frames into one channel.
func downmix(samples []float32, channels int) []float32 {
	if channels == 1 {
		return samples
	}
	frames := len(samples) / channels
	out := make([]float32, frames)
	for i := range frames {
		var sum float32
		for c := range channels {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

func upmix(mono []float32) []float32 {
	out := make([]float32, len(mono)*2)
	for i, s := range mono {
		out[2*i], out[2*i+1] = s, s
	}
	return out
}
