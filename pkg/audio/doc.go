// Package audio loads recordings into the model format.
//
// Sub-packages:
//
//   - pcm: 16-bit PCM formats and clips
//   - wav: RIFF/WAVE codec
//   - resampler: rate and channel conversion
package audio
