package engine

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/logger"
)

// DefaultTimeUpdateRate is how often Run ticks per second.
const DefaultTimeUpdateRate = 60

// ClipSchedule is one clip ready to play: where it sits on the timeline,
// which window of its decoded audio to read and the track it plays on.
type ClipSchedule struct {
	ClipID      string
	TrackID     string
	StartTime   float64
	Duration    float64
	AudioOffset float64
	Buffer      *audio.Buffer
}

// Scheduler maps the timeline onto the engine clock.
type Scheduler struct {
	engine *Engine

	mu            sync.Mutex
	playing       bool
	offset        float64 // timeline position at startedAt
	startedAt     int64   // engine frame when playback started
	totalDuration float64
	sources       []*source

	onTimeUpdate func(float64)
	onEnded      func()
}

// NewScheduler creates a scheduler driving e.
func NewScheduler(e *Engine) *Scheduler {
	return &Scheduler{engine: e}
}

// Engine returns the engine this scheduler plays through.
func (s *Scheduler) Engine() *Engine {
	return s.engine
}

// OnTimeUpdate registers the callback invoked on every tick while playing.
func (s *Scheduler) OnTimeUpdate(fn func(t float64)) {
	s.mu.Lock()
	s.onTimeUpdate = fn
	s.mu.Unlock()
}

// OnEnded registers the callback invoked once playback reaches the end.
func (s *Scheduler) OnEnded(fn func()) {
	s.mu.Lock()
	s.onEnded = fn
	s.mu.Unlock()
}

// SchedulePlayback replaces whatever is playing with clips, starting at
// fromTime on the timeline. Clips that end at or before fromTime are left
// out. A clip without audio is skipped with a warning.
func (s *Scheduler) SchedulePlayback(clips []ClipSchedule, fromTime, totalDuration float64) error {
	if s.engine.Closed() {
		return ErrEngineClosed
	}

	sr := float64(s.engine.SampleRate())
	specs := make([]sourceSpec, 0, len(clips))
	for _, c := range clips {
		if c.StartTime+c.Duration <= fromTime {
			continue
		}
		if c.Buffer.Len() == 0 {
			logger.Warn("No audio buffer for clip, skipping",
				logger.String("clip_id", c.ClipID), logger.String("track_id", c.TrackID))
			continue
		}
		ch, err := s.engine.Channel(c.TrackID)
		if err != nil {
			return err
		}

		buf := c.Buffer
		if buf.SampleRate != s.engine.SampleRate() {
			buf = audio.Resample(buf, s.engine.SampleRate())
		}

		delay := 0.0
		readFrom := c.AudioOffset
		length := c.Duration
		if c.StartTime >= fromTime {
			delay = c.StartTime - fromTime
		} else {
			seek := fromTime - c.StartTime
			readFrom += seek
			length -= seek
		}

		specs = append(specs, sourceSpec{
			ch:          ch,
			buf:         buf,
			delayFrames: int64(math.Round(delay * sr)),
			from:        int(math.Round(readFrom * sr)),
			length:      int(math.Round(length * sr)),
		})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.engine.stopSources(s.sources)
	s.sources = nil

	now, started, err := s.engine.schedule(specs)
	if err != nil {
		s.playing = false
		return err
	}
	s.sources = started
	s.offset = fromTime
	s.startedAt = now
	s.totalDuration = totalDuration
	s.playing = true
	return nil
}

// CurrentTime returns the timeline position derived from the engine clock.
func (s *Scheduler) CurrentTime() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTimeLocked()
}

func (s *Scheduler) currentTimeLocked() float64 {
	if !s.playing {
		return s.offset
	}
	elapsed := s.engine.Position() - s.startedAt
	return s.offset + float64(elapsed)/float64(s.engine.SampleRate())
}

func (s *Scheduler) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// TotalDuration returns the end time of the current schedule.
func (s *Scheduler) TotalDuration() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.totalDuration
}

// Stop halts playback. The position stays where the last schedule began.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
	s.playing = false
}

// StopAllSources silences every scheduled source without changing the
// playing flag.
func (s *Scheduler) StopAllSources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopAllLocked()
}

func (s *Scheduler) stopAllLocked() {
	s.engine.stopSources(s.sources)
	s.sources = nil
}

// SetPosition moves the cursor to t without touching scheduled sources.
// While playing, time continues from t.
func (s *Scheduler) SetPosition(t float64) {
	if t < 0 {
		t = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.offset = t
	s.startedAt = s.engine.Position()
}

// Tick advances the time-update loop by one step. It reports the current
// time, or ends playback once the timeline is exhausted. Callbacks run
// without any lock held.
func (s *Scheduler) Tick() {
	s.mu.Lock()
	if !s.playing {
		s.mu.Unlock()
		return
	}
	t := s.currentTimeLocked()
	ended := t >= s.totalDuration
	if ended {
		s.stopAllLocked()
		s.playing = false
	}
	onTime, onEnded := s.onTimeUpdate, s.onEnded
	s.mu.Unlock()

	if ended {
		if onEnded != nil {
			onEnded()
		}
		return
	}
	if onTime != nil {
		onTime(t)
	}
}

// Run calls Tick rate times per second until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context, rate int) {
	if rate <= 0 {
		rate = DefaultTimeUpdateRate
	}
	ticker := time.NewTicker(time.Second / time.Duration(rate))
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick()
		}
	}
}

// UpdateSoloState tells every channel whether any channel is soloed.
func (s *Scheduler) UpdateSoloState() error {
	if s.engine.Closed() {
		return ErrEngineClosed
	}
	channels := s.engine.Channels()
	active := false
	for _, ch := range channels {
		if ch.Soloed() {
			active = true
			break
		}
	}
	for _, ch := range channels {
		ch.SetSoloActive(active)
	}
	return nil
}
