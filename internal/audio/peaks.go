package audio

import "math"

// ComputePeaks summarises channel 0 as n absolute peaks over equal blocks.
// A buffer shorter than n samples yields n zeros.
func ComputePeaks(b *Buffer, n int) []float32 {
	if n <= 0 {
		return nil
	}
	peaks := make([]float32, n)
	if b.NumChannels() == 0 {
		return peaks
	}
	data := b.Channels[0]
	per := len(data) / n
	if per <= 0 {
		return peaks
	}
	for i := 0; i < n; i++ {
		var max float64
		for _, s := range data[i*per : (i+1)*per] {
			if a := math.Abs(float64(s)); a > max {
				max = a
			}
		}
		peaks[i] = float32(max)
	}
	return peaks
}

// Silence returns a zeroed stereo buffer of the given duration at the engine
// sample rate.
func Silence(seconds float64) *Buffer {
	if seconds < 0 {
		seconds = 0
	}
	frames := int(math.Ceil(seconds * SampleRate))
	return NewBuffer(Channels, frames, SampleRate)
}

// SilenceWAV encodes Silence(seconds) as a WAV file.
func SilenceWAV(seconds float64) ([]byte, error) {
	return EncodeWAV(Silence(seconds))
}
