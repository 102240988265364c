package engine

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satindergrewal/layerdaw/internal/audio"
)

// ErrEngineClosed is returned by operations on a disposed engine.
var ErrEngineClosed = errors.New("audio engine closed")

// Engine owns the audio clock and the master bus. The clock is the number of
// frames rendered so far, so it only moves forward and never drifts from the
// audio itself.
type Engine struct {
	sampleRate int
	frames     atomic.Int64
	frameCh    chan []int16

	mu       sync.Mutex
	closed   bool
	channels map[string]*TrackChannel
	order    []string // channel creation order, for a stable mix order
	sources  []*source
	master   *audio.GainRamp

	masterMeter Meter
}

// New creates an engine running at sampleRate. Zero selects audio.SampleRate.
func New(sampleRate int) *Engine {
	if sampleRate <= 0 {
		sampleRate = audio.SampleRate
	}
	rampLen := int(GainRampDuration.Seconds() * float64(sampleRate))
	return &Engine{
		sampleRate: sampleRate,
		frameCh:    make(chan []int16, 100),
		channels:   make(map[string]*TrackChannel),
		master:     audio.NewGainRamp(rampLen, 1),
	}
}

func (e *Engine) SampleRate() int {
	return e.sampleRate
}

// Position returns the number of frames rendered.
func (e *Engine) Position() int64 {
	return e.frames.Load()
}

// Now returns the clock in seconds.
func (e *Engine) Now() float64 {
	return float64(e.frames.Load()) / float64(e.sampleRate)
}

// Frames returns the channel of rendered 20ms interleaved PCM frames.
func (e *Engine) Frames() <-chan []int16 {
	return e.frameCh
}

// Closed reports whether Dispose has been called.
func (e *Engine) Closed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.closed
}

// Channel returns the channel for trackID, creating it on first use.
func (e *Engine) Channel(trackID string) (*TrackChannel, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, ErrEngineClosed
	}
	if ch, ok := e.channels[trackID]; ok {
		return ch, nil
	}
	ch := newTrackChannel(trackID, e.sampleRate)
	e.channels[trackID] = ch
	e.order = append(e.order, trackID)
	return ch, nil
}

// Channels returns the live channels in creation order.
func (e *Engine) Channels() []*TrackChannel {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*TrackChannel, 0, len(e.order))
	for _, id := range e.order {
		out = append(out, e.channels[id])
	}
	return out
}

// RemoveChannel disposes the channel for trackID and drops its sources.
// Removing an unknown channel is a no-op.
func (e *Engine) RemoveChannel(trackID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrEngineClosed
	}
	ch, ok := e.channels[trackID]
	if !ok {
		return nil
	}
	ch.Dispose()
	delete(e.channels, trackID)
	for i, id := range e.order {
		if id == trackID {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	e.pruneLocked()
	return nil
}

// SetMasterGain sets the master bus level, clamped to [0, 1].
func (e *Engine) SetMasterGain(g float64) {
	g = math.Max(0, math.Min(1, g))
	e.mu.Lock()
	e.master.Set(g)
	e.mu.Unlock()
}

func (e *Engine) MasterGain() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.master.Target()
}

// MasterPeak returns the master bus peak over the last MeterWindow frames.
func (e *Engine) MasterPeak() float32 {
	return e.masterMeter.Peak()
}

// SourceCount returns the number of sources still playing or waiting to.
func (e *Engine) SourceCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pruneLocked()
	return len(e.sources)
}

// schedule starts every spec relative to one clock reading, taken under the
// same lock the renderer holds, and returns that reading.
func (e *Engine) schedule(specs []sourceSpec) (int64, []*source, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, nil, ErrEngineClosed
	}
	now := e.frames.Load()
	started := make([]*source, 0, len(specs))
	for _, sp := range specs {
		if sp.ch.Disposed() || sp.length <= 0 {
			continue
		}
		src := &source{
			ch:         sp.ch,
			buf:        sp.buf,
			startFrame: now + sp.delayFrames,
			from:       sp.from,
			length:     sp.length,
		}
		started = append(started, src)
	}
	e.sources = append(e.sources, started...)
	return now, started, nil
}

// stopSources stops and detaches srcs. Stopping a finished or already
// stopped source does nothing.
func (e *Engine) stopSources(srcs []*source) {
	if len(srcs) == 0 {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range srcs {
		s.stopped = true
	}
	e.pruneLocked()
}

func (e *Engine) pruneLocked() {
	live := e.sources[:0]
	for _, s := range e.sources {
		if !s.done() {
			live = append(live, s)
		}
	}
	for i := len(live); i < len(e.sources); i++ {
		e.sources[i] = nil
	}
	e.sources = live
}

// Render mixes the next n frames of every live source through its channel
// into the master bus, advances the clock and returns the stereo master
// output. A disposed engine renders silence and leaves the clock alone.
func (e *Engine) Render(n int) [][]float32 {
	out := [][]float32{make([]float32, n), make([]float32, n)}
	if n <= 0 {
		return out
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return out
	}

	now := e.frames.Load()
	buses := make(map[*TrackChannel][][]float32, len(e.channels))
	for _, id := range e.order {
		buses[e.channels[id]] = [][]float32{make([]float32, n), make([]float32, n)}
	}
	for _, s := range e.sources {
		if s.done() {
			continue
		}
		bus, ok := buses[s.ch]
		if !ok {
			continue
		}
		s.mixInto(bus, now, n)
	}
	e.pruneLocked()

	for _, id := range e.order {
		ch := e.channels[id]
		bus := buses[ch]
		ch.process(bus, n)
		for c := range out {
			for i, v := range bus[c] {
				out[c][i] += v
			}
		}
	}

	e.master.Apply(out, n)
	e.masterMeter.Write(out, n)
	e.frames.Add(int64(n))
	return out
}

// Run renders 20ms frames in real time and publishes them on Frames until
// ctx is cancelled or the engine is disposed. Frames nobody reads are
// dropped so the clock keeps pace with the wall clock.
func (e *Engine) Run(ctx context.Context) {
	defer close(e.frameCh)

	frameSize := int(audio.FrameDuration.Seconds() * float64(e.sampleRate))
	ticker := time.NewTicker(audio.FrameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if e.Closed() {
			return
		}

		frame := audio.Interleave(e.Render(frameSize), frameSize)
		select {
		case e.frameCh <- frame:
		default:
		}
	}
}

// Dispose releases every channel and source. Further operations return
// ErrEngineClosed.
func (e *Engine) Dispose() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.closed = true
	for _, ch := range e.channels {
		ch.Dispose()
	}
	e.channels = map[string]*TrackChannel{}
	e.order = nil
	e.sources = nil
}
