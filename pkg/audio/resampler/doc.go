// Package resampler converts PCM clips between sample rates and channel
// layouts using a pure Go polyphase resampler.
//
// Voiceprint models expect 16 kHz mono; recordings arrive at whatever the
// capture device produced. ToModel normalizes a decoded clip:
//
//	clip, err := wav.Decode(f)
//	...
//	clip, err = resampler.ToModel(clip)
package resampler
