// Package transport drives playback of the active project: it loads each
// playable clip's isolated audio, mirrors track mixer state into the engine
// and reacts to the end of the timeline.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/engine"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/storage"
)

// Projects supplies the document to play.
type Projects interface {
	Project() (*project.Project, error)
}

// Transport is play, pause, stop and seek over one scheduler.
type Transport struct {
	projects Projects
	blobs    storage.BlobStore
	sched    *engine.Scheduler

	mu      sync.Mutex
	cache   map[string]*audio.Buffer
	loop    bool
	onEnded []func(looped bool)
}

// New wires a transport to sched and takes over its ended callback.
func New(projects Projects, blobs storage.BlobStore, sched *engine.Scheduler) *Transport {
	t := &Transport{
		projects: projects,
		blobs:    blobs,
		sched:    sched,
		cache:    make(map[string]*audio.Buffer),
	}
	sched.OnEnded(t.handleEnded)
	return t
}

// Scheduler returns the scheduler this transport drives.
func (t *Transport) Scheduler() *engine.Scheduler {
	return t.sched
}

// OnEnded registers fn to run after the timeline runs out. looped reports
// whether playback restarted from zero.
func (t *Transport) OnEnded(fn func(looped bool)) {
	t.mu.Lock()
	t.onEnded = append(t.onEnded, fn)
	t.mu.Unlock()
}

// Play starts playback from the current cursor.
func (t *Transport) Play(ctx context.Context) error {
	return t.PlayFrom(ctx, t.sched.CurrentTime())
}

// PlayFrom starts playback at from. Clips whose audio cannot be loaded are
// left out of the schedule.
func (t *Transport) PlayFrom(ctx context.Context, from float64) error {
	p, err := t.projects.Project()
	if err != nil {
		return err
	}

	var clips []engine.ClipSchedule
	for _, track := range p.Tracks {
		for _, c := range track.Clips {
			if !c.Playable() {
				continue
			}
			buf, err := t.buffer(ctx, c.IsolatedAudioKey)
			if err != nil {
				logger.Warn("Skipping clip without loadable audio",
					logger.String("clip_id", c.ID), logger.ErrorField(err))
				continue
			}
			clips = append(clips, engine.ClipSchedule{
				ClipID:      c.ID,
				TrackID:     track.ID,
				StartTime:   c.StartTime,
				Duration:    c.Duration,
				AudioOffset: c.AudioOffset,
				Buffer:      buf,
			})
		}
	}

	if err := t.syncTracks(p); err != nil {
		return err
	}
	if from < 0 {
		from = 0
	}
	if err := t.sched.SchedulePlayback(clips, from, p.TotalDuration); err != nil {
		return fmt.Errorf("schedule playback: %w", err)
	}
	logger.Debug("Playback started",
		logger.Float64("from", from), logger.Int("clips", len(clips)))
	return nil
}

// Pause stops playback and leaves the cursor where it was.
func (t *Transport) Pause() {
	now := t.sched.CurrentTime()
	t.sched.Stop()
	t.sched.SetPosition(now)
}

// Stop halts playback and rewinds to zero.
func (t *Transport) Stop() {
	t.sched.Stop()
	t.sched.SetPosition(0)
}

// Seek moves the cursor. While playing, playback restarts from there.
func (t *Transport) Seek(ctx context.Context, to float64) error {
	if !t.sched.Playing() {
		t.sched.SetPosition(to)
		return nil
	}
	t.sched.Stop()
	t.sched.SetPosition(to)
	return t.PlayFrom(ctx, to)
}

func (t *Transport) SetLoop(on bool) {
	t.mu.Lock()
	t.loop = on
	t.mu.Unlock()
}

func (t *Transport) Loop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.loop
}

func (t *Transport) Playing() bool {
	return t.sched.Playing()
}

func (t *Transport) CurrentTime() float64 {
	return t.sched.CurrentTime()
}

// SyncTracks pushes volume, mute and solo from the project into the engine.
// It only touches channels while playing.
func (t *Transport) SyncTracks() error {
	if !t.sched.Playing() {
		return nil
	}
	p, err := t.projects.Project()
	if err != nil {
		return err
	}
	return t.syncTracks(p)
}

// syncTracks mirrors p's mixer state into the engine and disposes channels
// whose track is no longer in p.
func (t *Transport) syncTracks(p *project.Project) error {
	e := t.sched.Engine()
	if err := t.pruneChannels(p); err != nil {
		return err
	}
	for _, track := range p.Tracks {
		ch, err := e.Channel(track.ID)
		if err != nil {
			return err
		}
		ch.SetVolume(track.Volume)
		ch.SetMuted(track.Muted)
		ch.SetSoloed(track.Soloed)
	}
	return t.sched.UpdateSoloState()
}

func (t *Transport) pruneChannels(p *project.Project) error {
	keep := make(map[string]bool, len(p.Tracks))
	for _, track := range p.Tracks {
		keep[track.ID] = true
	}
	e := t.sched.Engine()
	for _, ch := range e.Channels() {
		if keep[ch.TrackID()] {
			continue
		}
		if err := e.RemoveChannel(ch.TrackID()); err != nil {
			return err
		}
	}
	return nil
}

// Reset stops playback, rewinds, drops every cached buffer and disposes the
// channels of tracks that are not in the current project. Call it after the
// project has been replaced.
func (t *Transport) Reset() error {
	t.Stop()
	t.mu.Lock()
	t.cache = make(map[string]*audio.Buffer)
	t.mu.Unlock()

	p, err := t.projects.Project()
	if errors.Is(err, project.ErrNoProject) {
		p = &project.Project{}
	} else if err != nil {
		return err
	}
	if err := t.pruneChannels(p); err != nil {
		return err
	}
	return t.sched.UpdateSoloState()
}

// Forget drops the decoded copy of key so the next play reloads it.
func (t *Transport) Forget(key string) {
	t.mu.Lock()
	delete(t.cache, key)
	t.mu.Unlock()
}

// Cached reports how many decoded buffers are held.
func (t *Transport) Cached() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.cache)
}

func (t *Transport) buffer(ctx context.Context, key string) (*audio.Buffer, error) {
	t.mu.Lock()
	buf, ok := t.cache[key]
	t.mu.Unlock()
	if ok {
		return buf, nil
	}

	data, err := t.blobs.Load(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	buf, err = audio.Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if buf.Len() == 0 {
		return nil, errors.New("empty audio")
	}

	t.mu.Lock()
	t.cache[key] = buf
	t.mu.Unlock()
	return buf, nil
}

func (t *Transport) handleEnded() {
	t.mu.Lock()
	loop := t.loop
	listeners := t.onEnded
	t.mu.Unlock()

	if loop {
		if err := t.PlayFrom(context.Background(), 0); err != nil {
			logger.Error("Loop restart failed", logger.ErrorField(err))
			loop = false
			t.Stop()
		}
	} else {
		t.Stop()
	}
	for _, fn := range listeners {
		fn(loop)
	}
}
