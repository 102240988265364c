package audio

import (
	"math"

	"github.com/faiface/beep"
)

// resampleQuality is beep's interpolation window; 4 is its documented
// default for music.
const resampleQuality = 4

// Resample converts b to the target sample rate. Channels are processed in
// stereo pairs through beep's resampler; an odd trailing channel is paired
// with itself.
func Resample(b *Buffer, rate int) *Buffer {
	if b == nil || b.SampleRate == rate || rate <= 0 || b.SampleRate <= 0 {
		return b
	}
	nch := b.NumChannels()
	length := int(math.Round(float64(b.Len()) * float64(rate) / float64(b.SampleRate)))
	out := NewBuffer(nch, length, rate)

	for c := 0; c < nch; c += 2 {
		right := c + 1
		if right >= nch {
			right = c
		}
		src := &planarStreamer{left: b.Channels[c], right: b.Channels[right]}
		rs := beep.Resample(resampleQuality, beep.SampleRate(b.SampleRate), beep.SampleRate(rate), src)

		chunk := make([][2]float64, 512)
		pos := 0
		for pos < length {
			n, ok := rs.Stream(chunk)
			for i := 0; i < n && pos < length; i++ {
				out.Channels[c][pos] = float32(chunk[i][0])
				if right != c {
					out.Channels[right][pos] = float32(chunk[i][1])
				}
				pos++
			}
			if !ok || n == 0 {
				break
			}
		}
	}
	return out
}

// planarStreamer exposes two planar channels as a beep.Streamer.
type planarStreamer struct {
	left, right []float32
	pos         int
}

func (s *planarStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.left) {
		return 0, false
	}
	n := 0
	for n < len(samples) && s.pos < len(s.left) {
		samples[n][0] = float64(s.left[s.pos])
		samples[n][1] = float64(s.right[s.pos])
		n++
		s.pos++
	}
	return n, true
}

func (s *planarStreamer) Err() error {
	return nil
}
