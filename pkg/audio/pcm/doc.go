// Package pcm handles raw 16-bit little-endian PCM audio.
//
// A Format describes sample rate and channel count; a Clip pairs a Format
// with its bytes and supports millisecond-based slicing and concatenation,
// which is how utterance segments are cut from a conversation recording.
//
//	clip := pcm.Clip{Format: pcm.L16Mono16K, Data: data}
//	seg := clip.Slice(1200*time.Millisecond, 1850*time.Millisecond)
package pcm
