package audio

import "time"

const (
	SampleRate    = 48000
	Channels      = 2
	BitDepth      = 16
	FrameDuration = 20 * time.Millisecond
	FrameSize     = 960                  // samples per channel per 20ms frame
	FrameSamples  = FrameSize * Channels // total interleaved samples per frame
	FrameBytes    = FrameSamples * 2     // bytes per frame (int16 = 2 bytes)
)

// Buffer is a decoded multi-channel signal with planar float samples.
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// NewBuffer allocates a zeroed buffer.
func NewBuffer(channels, length, sampleRate int) *Buffer {
	b := &Buffer{SampleRate: sampleRate, Channels: make([][]float32, channels)}
	for c := range b.Channels {
		b.Channels[c] = make([]float32, length)
	}
	return b
}

// NumChannels returns the channel count.
func (b *Buffer) NumChannels() int {
	if b == nil {
		return 0
	}
	return len(b.Channels)
}

// Len returns the number of sample frames.
func (b *Buffer) Len() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the length in seconds.
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Len()) / float64(b.SampleRate)
}

// Channel returns channel c, reusing the last channel when the buffer has
// fewer channels. This is how mono material is spread across a stereo bus.
func (b *Buffer) Channel(c int) []float32 {
	n := b.NumChannels()
	if n == 0 {
		return nil
	}
	if c >= n {
		c = n - 1
	}
	return b.Channels[c]
}

// Clone returns a deep copy.
func (b *Buffer) Clone() *Buffer {
	if b == nil {
		return nil
	}
	out := &Buffer{SampleRate: b.SampleRate, Channels: make([][]float32, len(b.Channels))}
	for c, ch := range b.Channels {
		out.Channels[c] = append([]float32(nil), ch...)
	}
	return out
}

// Interleave converts planar samples to interleaved int16 with clipping, the
// layout consumed by the monitor stream and the Opus encoder.
func Interleave(channels [][]float32, frames int) []int16 {
	out := make([]int16, frames*len(channels))
	for i := 0; i < frames; i++ {
		for c, ch := range channels {
			v := float64(ch[i]) * 32767
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			out[i*len(channels)+c] = int16(v)
		}
	}
	return out
}
