// Package mixdown renders a set of placed clips into one stereo buffer
// without going through the real-time engine.
package mixdown

import (
	"math"

	"github.com/satindergrewal/layerdaw/internal/audio"
)

// Clip is one buffer placed on the timeline.
type Clip struct {
	StartTime float64
	Buffer    *audio.Buffer
	Volume    float64
}

// Render sums clips into a stereo buffer of totalDuration seconds at
// sampleRate (zero selects audio.SampleRate). Each clip is scaled by its
// volume and starts at the nearest frame to its start time. Mono clips are
// spread to both channels and samples past the end are dropped.
func Render(clips []Clip, totalDuration float64, sampleRate int) *audio.Buffer {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	frames := int(math.Ceil(math.Max(0, totalDuration) * float64(sampleRate)))
	out := audio.NewBuffer(audio.Channels, frames, sampleRate)

	for _, c := range clips {
		if c.Buffer.Len() == 0 {
			continue
		}
		buf := c.Buffer
		if buf.SampleRate != sampleRate {
			buf = audio.Resample(buf, sampleRate)
		}
		at := int(math.Round(c.StartTime * float64(sampleRate)))
		gain := float32(c.Volume)

		for ch := range out.Channels {
			dst := out.Channels[ch]
			src := buf.Channel(ch)
			for i, v := range src {
				pos := at + i
				if pos < 0 {
					continue
				}
				if pos >= len(dst) {
					break
				}
				dst[pos] += v * gain
			}
		}
	}
	return out
}
