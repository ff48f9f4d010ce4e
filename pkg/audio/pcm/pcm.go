package pcm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
)

// ErrFormatMismatch is returned when clips of different formats are joined.
var ErrFormatMismatch = errors.New("pcm: format mismatch")

// L16Mono16K is audio/L16; rate=16000; channels=1, the format voiceprint
// models consume.
var L16Mono16K = Format{SampleRate: 16000, Channels: 1}

// Format is a 16-bit signed little-endian PCM layout.
type Format struct {
	SampleRate int
	Channels   int
}

// Validate reports whether f can describe audio.
func (f Format) Validate() error {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return fmt.Errorf("pcm: invalid format %v", f)
	}
	return nil
}

// FrameBytes returns the size of one sample across all channels.
func (f Format) FrameBytes() int {
	return 2 * f.Channels
}

// BytesRate returns the number of bytes per second.
func (f Format) BytesRate() int {
	return f.SampleRate * f.FrameBytes()
}

// Frames returns the number of whole frames in n bytes.
func (f Format) Frames(n int64) int64 {
	return n / int64(f.FrameBytes())
}

// BytesInDuration returns the frame-aligned byte length of d.
func (f Format) BytesInDuration(d time.Duration) int64 {
	frames := int64(time.Duration(f.SampleRate) * d / time.Second)
	return frames * int64(f.FrameBytes())
}

// Duration returns the play time of n bytes.
func (f Format) Duration(n int64) time.Duration {
	return time.Duration(f.Frames(n)) * time.Second / time.Duration(f.SampleRate)
}

func (f Format) String() string {
	return fmt.Sprintf("audio/L16; rate=%d; channels=%d", f.SampleRate, f.Channels)
}

// Clip is a contiguous run of PCM audio.
type Clip struct {
	Format Format
	Data   []byte
}

// Duration returns the play time of the clip.
func (c Clip) Duration() time.Duration {
	return c.Format.Duration(int64(len(c.Data)))
}

// Slice returns the audio between start and end, clamped to the clip. The
// result shares memory with c.
func (c Clip) Slice(start, end time.Duration) Clip {
	size := int64(len(c.Data)) - int64(len(c.Data))%int64(c.Format.FrameBytes())
	from := clampBytes(c.Format.BytesInDuration(start), size)
	to := clampBytes(c.Format.BytesInDuration(end), size)
	if to < from {
		to = from
	}
	return Clip{Format: c.Format, Data: c.Data[from:to]}
}

func clampBytes(n, size int64) int64 {
	return max(0, min(n, size))
}

// Concat joins clips of one format in order.
func Concat(clips ...Clip) (Clip, error) {
	if len(clips) == 0 {
		return Clip{Format: L16Mono16K}, nil
	}
	out := Clip{Format: clips[0].Format}
	total := 0
	for _, c := range clips {
		if c.Format != out.Format {
			return Clip{}, fmt.Errorf("%w: %v and %v", ErrFormatMismatch, out.Format, c.Format)
		}
		total += len(c.Data)
	}
	out.Data = make([]byte, 0, total)
	for _, c := range clips {
		out.Data = append(out.Data, c.Data...)
	}
	return out, nil
}

// Float32 returns the interleaved samples scaled to [-1, 1).
func (c Clip) Float32() []float32 {
	n := len(c.Data) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(c.Data[i*2:]))
		out[i] = float32(s) / 32768
	}
	return out
}

// FromFloat32 encodes samples in [-1, 1] as a clip, clipping out-of-range
// values.
func FromFloat32(f Format, samples []float32) Clip {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		v = max(-32768, min(32767, v))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(int16(v)))
	}
	return Clip{Format: f, Data: data}
}
