package audio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/resampler"
	"github.com/haivivi/speakerid/pkg/audio/wav"
)

// Decode reads a WAV stream and converts it to pcm.L16Mono16K.
func Decode(r io.Reader) (pcm.Clip, error) {
	clip, err := wav.Decode(r)
	if err != nil {
		return pcm.Clip{}, fmt.Errorf("audio: decode: %w", err)
	}
	return resampler.ToModel(clip)
}

// DecodeBytes is Decode over an in-memory file.
func DecodeBytes(b []byte) (pcm.Clip, error) {
	return Decode(bytes.NewReader(b))
}
