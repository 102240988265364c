// Package subtract recovers a single layer from two successive cumulative
// mixes and cuts clip windows out of decoded audio.
package subtract

import (
	"math"

	"github.com/satindergrewal/layerdaw/internal/audio"
)

// Isolate returns current minus previous, sample by sample. With no previous
// mix the current buffer is returned as is. The result keeps current's
// channel count, length and sample rate; previous is zero-padded, missing
// channels count as silence and a different sample rate is resampled first.
// Values are not clamped, so the result may leave [-1, 1].
func Isolate(current, previous *audio.Buffer) *audio.Buffer {
	if previous == nil || current == nil {
		return current
	}
	if previous.SampleRate != current.SampleRate {
		previous = audio.Resample(previous, current.SampleRate)
	}

	out := &audio.Buffer{SampleRate: current.SampleRate, Channels: make([][]float32, len(current.Channels))}
	for c, cur := range current.Channels {
		res := make([]float32, len(cur))
		copy(res, cur)
		if c < previous.NumChannels() {
			prev := previous.Channels[c]
			n := min(len(prev), len(res))
			for i := 0; i < n; i++ {
				res[i] -= prev[i]
			}
		}
		out.Channels[c] = res
	}
	return out
}

// Crop copies the window [start, start+duration) seconds out of b. The
// window is at least one frame long and reads past the end of b as silence.
func Crop(b *audio.Buffer, start, duration float64) *audio.Buffer {
	sr := b.SampleRate
	if sr <= 0 {
		sr = audio.SampleRate
	}
	if start < 0 {
		start = 0
	}
	size := b.Len()
	from := int(math.Floor(start * float64(sr)))
	to := min(int(math.Floor((start+duration)*float64(sr))), size)
	length := max(1, to-from)

	nch := max(1, b.NumChannels())
	out := audio.NewBuffer(nch, length, sr)
	for c := 0; c < b.NumChannels(); c++ {
		src := b.Channels[c]
		if from < len(src) {
			copy(out.Channels[c], src[from:])
		}
	}
	return out
}
