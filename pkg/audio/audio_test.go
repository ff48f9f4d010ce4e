package audio

import (
	"errors"
	"testing"
	"time"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
	"github.com/haivivi/speakerid/pkg/audio/wav"
)

func TestDecodeNormalizes(t *testing.T) {
	src := pcm.Clip{
		Format: pcm.Format{SampleRate: 16000, Channels: 2},
		Data:   make([]byte, 16000*4/10),
	}
	b, err := wav.Bytes(src)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DecodeBytes(b)
	if err != nil {
		t.Fatal(err)
	}
	if got.Format != pcm.L16Mono16K {
		t.Fatalf("format = %v", got.Format)
	}
	if got.Duration() != 100*time.Millisecond {
		t.Fatalf("duration = %v", got.Duration())
	}
}

func TestDecodeRejectsNonWAV(t *testing.T) {
	if _, err := DecodeBytes([]byte("fLaC....")); !errors.Is(err, wav.ErrNotWAV) {
		t.Fatalf("expected ErrNotWAV, got %v", err)
	}
}
