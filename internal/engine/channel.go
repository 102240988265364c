package engine

import (
	"sync"
	"time"

	"github.com/satindergrewal/layerdaw/internal/audio"
)

// GainRampDuration is how long a gain change takes to settle on the bus.
const GainRampDuration = 5 * time.Millisecond

// TrackChannel is one track's strip on the mixer: volume, mute and solo feed
// a single resolved gain, followed by a peak meter.
type TrackChannel struct {
	trackID string

	mu         sync.Mutex
	volume     float64
	muted      bool
	soloed     bool
	soloActive bool
	disposed   bool
	ramp       *audio.GainRamp

	meter Meter
}

func newTrackChannel(trackID string, sampleRate int) *TrackChannel {
	const volume = 0.8
	rampLen := int(GainRampDuration.Seconds() * float64(sampleRate))
	return &TrackChannel{
		trackID: trackID,
		volume:  volume,
		ramp:    audio.NewGainRamp(rampLen, volume),
	}
}

// TrackID returns the track this channel belongs to.
func (c *TrackChannel) TrackID() string {
	return c.trackID
}

// SetVolume sets the fader level, clamped to [0, 1].
func (c *TrackChannel) SetVolume(v float64) {
	if v < 0 {
		v = 0
	} else if v > 1 {
		v = 1
	}
	c.update(func() { c.volume = v })
}

func (c *TrackChannel) SetMuted(muted bool) {
	c.update(func() { c.muted = muted })
}

func (c *TrackChannel) SetSoloed(soloed bool) {
	c.update(func() { c.soloed = soloed })
}

// SetSoloActive tells the channel whether any channel on the mixer is soloed.
func (c *TrackChannel) SetSoloActive(active bool) {
	c.update(func() { c.soloActive = active })
}

func (c *TrackChannel) update(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disposed {
		return
	}
	fn()
	c.ramp.Set(c.resolve())
}

// resolve must be called with mu held.
func (c *TrackChannel) resolve() float64 {
	switch {
	case c.muted:
		return 0
	case c.soloActive && !c.soloed:
		return 0
	default:
		return c.volume
	}
}

// EffectiveGain returns the resolved gain. It reflects setter calls
// immediately, even while the audible ramp is still moving.
func (c *TrackChannel) EffectiveGain() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ramp.Target()
}

func (c *TrackChannel) Volume() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.volume
}

func (c *TrackChannel) Muted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.muted
}

func (c *TrackChannel) Soloed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.soloed
}

// PeakLevel returns the post-gain peak of the last MeterWindow frames.
func (c *TrackChannel) PeakLevel() float32 {
	return c.meter.Peak()
}

// Disposed reports whether the channel has been released.
func (c *TrackChannel) Disposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// Dispose detaches the channel. Later setters are ignored.
func (c *TrackChannel) Dispose() {
	c.mu.Lock()
	c.disposed = true
	c.mu.Unlock()
	c.meter.Reset()
}

// process applies the gain ramp to the first n frames of bus in place and
// meters the result.
func (c *TrackChannel) process(bus [][]float32, n int) {
	c.mu.Lock()
	c.ramp.Apply(bus, n)
	c.mu.Unlock()
	c.meter.Write(bus, n)
}
