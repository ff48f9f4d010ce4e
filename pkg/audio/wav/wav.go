// Package wav reads and writes RIFF/WAVE files holding 16-bit PCM.
//
// Container parsing and encoding are done by github.com/go-audio/wav; this
// package converts between its sample buffers and pcm.Clip.
package wav

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	gowav "github.com/go-audio/wav"

	"github.com/haivivi/speakerid/pkg/audio/pcm"
)

var (
	// ErrNotWAV is returned when the input lacks a RIFF/WAVE header.
	ErrNotWAV = errors.New("wav: not a RIFF/WAVE stream")

	// ErrUnsupported is returned for encodings other than 16-bit PCM.
	ErrUnsupported = errors.New("wav: unsupported encoding")

	// ErrMalformed is returned when a chunk header claims an impossible
	// size.
	ErrMalformed = errors.New("wav: malformed chunk")
)

const (
	formatPCM        = 1
	formatExtensible = 0xFFFE

	bitDepth = 16

	// maxFmtSize bounds the fmt chunk; WAVE_FORMAT_EXTENSIBLE needs 40.
	maxFmtSize = 64

	// bufferSamples is the sample count moved per decoder or encoder call.
	bufferSamples = 4096
)

// Decode reads a whole WAV stream into a clip.
func Decode(r io.Reader) (pcm.Clip, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return pcm.Clip{}, fmt.Errorf("wav: read: %w", err)
	}
	return Parse(b)
}

// Parse decodes an in-memory WAV file. A data chunk cut short keeps
// whatever whole frames arrived.
func Parse(b []byte) (pcm.Clip, error) {
	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return pcm.Clip{}, ErrNotWAV
	}
	if err := checkChunks(b); err != nil {
		return pcm.Clip{}, err
	}

	d := gowav.NewDecoder(bytes.NewReader(b))
	d.ReadInfo()
	if err := d.Err(); err != nil {
		return pcm.Clip{}, fmt.Errorf("%w: %v", ErrNotWAV, err)
	}
	if d.NumChans == 0 {
		return pcm.Clip{}, fmt.Errorf("wav: missing fmt chunk")
	}
	if (d.WavAudioFormat != formatPCM && d.WavAudioFormat != formatExtensible) || d.BitDepth != bitDepth {
		return pcm.Clip{}, fmt.Errorf("%w: format tag %d, %d bits", ErrUnsupported, d.WavAudioFormat, d.BitDepth)
	}
	f := pcm.Format{SampleRate: int(d.SampleRate), Channels: int(d.NumChans)}
	if err := f.Validate(); err != nil {
		return pcm.Clip{}, err
	}

	data := make([]byte, 0, len(b))
	buf := &goaudio.IntBuffer{Data: make([]int, bufferSamples)}
	for {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return pcm.Clip{}, fmt.Errorf("wav: read data chunk: %w", err)
		}
		if n == 0 {
			break
		}
		for _, s := range buf.Data[:n] {
			data = binary.LittleEndian.AppendUint16(data, uint16(int16(s)))
		}
	}
	data = data[:len(data)-len(data)%f.FrameBytes()]
	return pcm.Clip{Format: f, Data: data}, nil
}

// checkChunks walks the chunk headers and rejects sizes the decoder would
// allocate for blindly: an oversized fmt chunk, or a LIST chunk (or one of
// its INFO entries) that runs past the end of the file.
func checkChunks(b []byte) error {
	for off := 12; off+8 <= len(b); {
		id := string(b[off : off+4])
		size := int64(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		off += 8
		rest := int64(len(b) - off)
		switch id {
		case "fmt ":
			if size < 16 || size > maxFmtSize || size > rest {
				return fmt.Errorf("%w: fmt chunk of %d bytes", ErrMalformed, size)
			}
		case "LIST":
			if size > rest || !infoFits(b[off:off+int(size)]) {
				return fmt.Errorf("%w: LIST chunk of %d bytes", ErrMalformed, size)
			}
		}
		if size >= rest {
			return nil
		}
		off += int(size + size%2)
	}
	return nil
}

// infoFits reports whether every entry of a LIST/INFO body fits in it.
func infoFits(body []byte) bool {
	if len(body) < 4 || string(body[0:4]) != "INFO" {
		return true
	}
	for p := 4; p+8 <= len(body); {
		size := int64(binary.LittleEndian.Uint32(body[p+4 : p+8]))
		p += 8
		if size > int64(len(body)-p) {
			return false
		}
		p += int(size + size%2)
	}
	return true
}

// Encode writes clip as a canonical 44-byte-header WAV stream. A trailing
// partial frame is dropped.
func Encode(w io.Writer, clip pcm.Clip) error {
	if ws, ok := w.(io.WriteSeeker); ok {
		return encode(ws, clip)
	}
	b, err := Bytes(clip)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// Bytes encodes clip into memory.
func Bytes(clip pcm.Clip) ([]byte, error) {
	wb := &writeBuffer{b: make([]byte, 0, 44+len(clip.Data))}
	if err := encode(wb, clip); err != nil {
		return nil, err
	}
	return wb.b, nil
}

func encode(ws io.WriteSeeker, clip pcm.Clip) error {
	f := clip.Format
	if err := f.Validate(); err != nil {
		return err
	}
	data := clip.Data[:len(clip.Data)-len(clip.Data)%f.FrameBytes()]

	enc := gowav.NewEncoder(ws, f.SampleRate, bitDepth, f.Channels, formatPCM)
	chunk := bufferSamples / f.Channels * f.Channels
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: f.Channels, SampleRate: f.SampleRate},
		Data:           make([]int, 0, chunk),
		SourceBitDepth: bitDepth,
	}
	for {
		n := min(len(data)/2, chunk)
		buf.Data = buf.Data[:n]
		for i := range n {
			buf.Data[i] = int(int16(binary.LittleEndian.Uint16(data[2*i:])))
		}
		if err := enc.Write(buf); err != nil {
			return fmt.Errorf("wav: encode: %w", err)
		}
		data = data[2*n:]
		if len(data) == 0 {
			break
		}
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("wav: encode: %w", err)
	}
	return nil
}

// writeBuffer is an in-memory io.WriteSeeker; the encoder seeks back to
// patch the header sizes.
type writeBuffer struct {
	b   []byte
	off int
}

func (w *writeBuffer) Write(p []byte) (int, error) {
	if end := w.off + len(p); end > len(w.b) {
		w.b = append(w.b, make([]byte, end-len(w.b))...)
	}
	copy(w.b[w.off:], p)
	w.off += len(p)
	return len(p), nil
}

func (w *writeBuffer) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(w.off) + offset
	case io.SeekEnd:
		abs = int64(len(w.b)) + offset
	default:
		return 0, fmt.Errorf("wav: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("wav: negative position %d", abs)
	}
	w.off = int(abs)
	return abs, nil
}
