package project

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNoProject         = errors.New("no project loaded")
	ErrClipNotFound      = errors.New("clip not found")
	ErrTrackNotFound     = errors.New("track not found")
	ErrInvalidTransition = errors.New("invalid status transition")
)

const (
	DefaultProjectName   = "Untitled Project"
	DefaultBPM           = 120.0
	DefaultKeyScale      = "C major"
	DefaultTimeSignature = 4
	DefaultTrackVolume   = 0.8
)

// DefaultGeneration are the inference settings new projects start with.
var DefaultGeneration = GenerationDefaults{
	InferenceSteps: 50,
	GuidanceScale:  7.0,
	Shift:          3.0,
	Thinking:       true,
}

// NewProjectOptions seeds CreateProject. Zero fields take the defaults.
type NewProjectOptions struct {
	Name          string
	BPM           float64
	KeyScale      string
	TimeSignature int
	Generation    *GenerationDefaults
}

// ClipSpec describes a clip to add.
type ClipSpec struct {
	StartTime float64
	Duration  float64
	Prompt    string
	Lyrics    string
}

// TrackUpdate changes the non-nil mixer fields of a track.
type TrackUpdate struct {
	DisplayName *string
	Volume      *float64
	Muted       *bool
	Soloed      *bool
}

// ClipUpdate changes the non-nil generation fields of a clip.
type ClipUpdate struct {
	Prompt           *string
	Lyrics           *string
	BPM              *Override[float64]
	KeyScale         *Override[string]
	TimeSignature    *Override[int]
	SampleMode       *bool
	AutoExpandPrompt *bool
}

// Store holds the active project. Every read returns a deep copy, so callers
// never observe a half-applied mutation.
type Store struct {
	mu       sync.RWMutex
	project  *Project
	defaults GenerationDefaults
	now      func() time.Time
	onChange []func()
}

// NewStore creates an empty store whose new projects take DefaultGeneration.
func NewStore() *Store {
	return NewStoreWithDefaults(DefaultGeneration)
}

// NewStoreWithDefaults creates an empty store whose new projects start with
// the given inference settings.
func NewStoreWithDefaults(defaults GenerationDefaults) *Store {
	return &Store{defaults: defaults, now: time.Now}
}

// OnChange registers a callback invoked after every mutation, outside the
// store lock.
func (s *Store) OnChange(fn func()) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// CreateProject replaces the active project with a fresh one.
func (s *Store) CreateProject(opts NewProjectOptions) *Project {
	now := s.now()
	p := &Project{
		ID:            uuid.NewString(),
		Name:          opts.Name,
		CreatedAt:     now,
		UpdatedAt:     now,
		BPM:           opts.BPM,
		KeyScale:      opts.KeyScale,
		TimeSignature: opts.TimeSignature,
		Tracks:        []Track{},
	}
	if p.Name == "" {
		p.Name = DefaultProjectName
	}
	if p.BPM <= 0 {
		p.BPM = DefaultBPM
	}
	if p.KeyScale == "" {
		p.KeyScale = DefaultKeyScale
	}
	if p.TimeSignature <= 0 {
		p.TimeSignature = DefaultTimeSignature
	}
	if opts.Generation != nil {
		p.GenerationDefaults = *opts.Generation
	} else {
		p.GenerationDefaults = s.defaults
	}
	p.TotalDuration = TotalDuration(p.Tracks)

	s.mu.Lock()
	s.project = p
	out := p.Clone()
	s.mu.Unlock()
	s.notify()
	return out
}

// SetProject installs an existing project, repairing any clip that violates
// the timeline invariants.
func (s *Store) SetProject(p *Project) {
	p = p.Clone()
	for ti := range p.Tracks {
		for ci := range p.Tracks[ti].Clips {
			p.Tracks[ti].Clips[ci].TrackID = p.Tracks[ti].ID
			Normalize(&p.Tracks[ti].Clips[ci])
		}
	}
	p.TotalDuration = TotalDuration(p.Tracks)

	s.mu.Lock()
	s.project = p
	s.mu.Unlock()
	s.notify()
}

// Project returns a copy of the active project.
func (s *Store) Project() (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return nil, ErrNoProject
	}
	return s.project.Clone(), nil
}

// AddTrack appends a track of the given kind above every existing track.
func (s *Store) AddTrack(kind TrackKind) (Track, error) {
	var out Track
	err := s.mutate(func(p *Project) error {
		maxOrder := 0
		for _, t := range p.Tracks {
			if t.Order > maxOrder {
				maxOrder = t.Order
			}
		}
		info := kind.Info()
		t := Track{
			ID:          uuid.NewString(),
			Kind:        kind,
			DisplayName: info.DisplayName,
			Color:       info.Color,
			Order:       maxOrder + 1,
			Volume:      DefaultTrackVolume,
			Clips:       []Clip{},
		}
		p.Tracks = append(p.Tracks, t)
		out = t.clone()
		return nil
	})
	return out, err
}

// RemoveTrack deletes a track and returns it so the caller can release its
// audio and mixer channel.
func (s *Store) RemoveTrack(trackID string) (Track, error) {
	var out Track
	err := s.mutate(func(p *Project) error {
		for i, t := range p.Tracks {
			if t.ID == trackID {
				out = t.clone()
				p.Tracks = append(p.Tracks[:i], p.Tracks[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("track %s: %w", trackID, ErrTrackNotFound)
	})
	return out, err
}

// UpdateTrack applies mixer changes. Volume is clamped to [0, 1].
func (s *Store) UpdateTrack(trackID string, u TrackUpdate) (Track, error) {
	var out Track
	err := s.mutate(func(p *Project) error {
		t, err := p.Track(trackID)
		if err != nil {
			return err
		}
		if u.DisplayName != nil {
			t.DisplayName = *u.DisplayName
		}
		if u.Volume != nil {
			t.Volume = math.Max(0, math.Min(1, *u.Volume))
		}
		if u.Muted != nil {
			t.Muted = *u.Muted
		}
		if u.Soloed != nil {
			t.Soloed = *u.Soloed
		}
		out = t.clone()
		return nil
	})
	return out, err
}

// AddClip creates an empty clip on a track. An empty prompt takes the track
// kind's default prompt; all per-clip overrides start in auto mode.
func (s *Store) AddClip(trackID string, spec ClipSpec) (Clip, error) {
	var out Clip
	err := s.mutate(func(p *Project) error {
		t, err := p.Track(trackID)
		if err != nil {
			return err
		}
		prompt := spec.Prompt
		if prompt == "" {
			prompt = t.Kind.Info().DefaultPrompt
		}
		c := Clip{
			ID:            uuid.NewString(),
			TrackID:       t.ID,
			StartTime:     spec.StartTime,
			Duration:      spec.Duration,
			Prompt:        prompt,
			Lyrics:        spec.Lyrics,
			Status:        StatusEmpty,
			BPM:           AutoValue[float64](),
			KeyScale:      AutoValue[string](),
			TimeSignature: AutoValue[int](),
		}
		Normalize(&c)
		t.Clips = append(t.Clips, c)
		out = c.clone()
		return nil
	})
	return out, err
}

// UpdateClip changes prompt and generation settings.
func (s *Store) UpdateClip(clipID string, u ClipUpdate) (Clip, error) {
	return s.withClip(clipID, func(_ *Project, c *Clip) error {
		if u.Prompt != nil {
			c.Prompt = *u.Prompt
		}
		if u.Lyrics != nil {
			c.Lyrics = *u.Lyrics
		}
		if u.BPM != nil {
			c.BPM = *u.BPM
		}
		if u.KeyScale != nil {
			c.KeyScale = *u.KeyScale
		}
		if u.TimeSignature != nil {
			c.TimeSignature = *u.TimeSignature
		}
		if u.SampleMode != nil {
			c.SampleMode = *u.SampleMode
		}
		if u.AutoExpandPrompt != nil {
			v := *u.AutoExpandPrompt
			c.AutoExpandPrompt = &v
		}
		return nil
	})
}

// MoveClip places a clip at a new start, kept inside the current timeline.
func (s *Store) MoveClip(clipID string, start float64) (Clip, error) {
	return s.withClip(clipID, func(p *Project, c *Clip) error {
		c.StartTime = math.Max(0, math.Min(start, p.TotalDuration-c.Duration))
		Normalize(c)
		return nil
	})
}

// TrimClip sets a new start and duration. See trim for the crop rules.
func (s *Store) TrimClip(clipID string, start, duration float64) (Clip, error) {
	return s.withClip(clipID, func(_ *Project, c *Clip) error {
		trim(c, start, duration)
		return nil
	})
}

// RemoveClip deletes a clip and returns it.
func (s *Store) RemoveClip(clipID string) (Clip, error) {
	var out Clip
	err := s.mutate(func(p *Project) error {
		t, _, err := p.Clip(clipID)
		if err != nil {
			return err
		}
		for i, c := range t.Clips {
			if c.ID == clipID {
				out = c.clone()
				t.Clips = append(t.Clips[:i], t.Clips[i+1:]...)
				break
			}
		}
		return nil
	})
	return out, err
}

// DuplicateClip copies a clip to directly after itself. A playable source
// shares its audio with the copy; anything else yields an empty copy.
func (s *Store) DuplicateClip(clipID string) (Clip, error) {
	var out Clip
	err := s.mutate(func(p *Project) error {
		t, src, err := p.Clip(clipID)
		if err != nil {
			return err
		}
		c := src.clone()
		c.ID = uuid.NewString()
		c.StartTime = src.End()
		c.GenerationJobID = ""
		c.ErrorMessage = ""
		if !src.Playable() {
			c.Status = StatusEmpty
			c.CumulativeMixKey = ""
			c.IsolatedAudioKey = ""
			c.WaveformPeaks = nil
			c.AudioDuration = 0
			c.AudioOffset = 0
		}
		t.Clips = append(t.Clips, c)
		out = c.clone()
		return nil
	})
	return out, err
}

// UpdateClipStatus moves a clip through the generation state machine and
// applies extra field changes in the same mutation.
func (s *Store) UpdateClipStatus(clipID string, status Status, apply func(c *Clip)) (Clip, error) {
	return s.withClip(clipID, func(_ *Project, c *Clip) error {
		if c.Status != status && !CanTransition(c.Status, status) {
			return fmt.Errorf("clip %s %s -> %s: %w", clipID, c.Status, status, ErrInvalidTransition)
		}
		c.Status = status
		if status != StatusError {
			c.ErrorMessage = ""
		}
		if apply != nil {
			apply(c)
		}
		return nil
	})
}

// MarkStale flags a ready clip whose inputs were edited after generation.
func (s *Store) MarkStale(clipID string) (Clip, error) {
	return s.UpdateClipStatus(clipID, StatusStale, nil)
}

// ClipByID returns a copy of a clip.
func (s *Store) ClipByID(clipID string) (Clip, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return Clip{}, ErrNoProject
	}
	_, c, err := s.project.Clip(clipID)
	if err != nil {
		return Clip{}, err
	}
	return c.clone(), nil
}

// TrackForClip returns a copy of the track owning a clip.
func (s *Store) TrackForClip(clipID string) (Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return Track{}, ErrNoProject
	}
	t, _, err := s.project.Clip(clipID)
	if err != nil {
		return Track{}, err
	}
	return t.clone(), nil
}

// TracksInGenerationOrder returns copies of the tracks, highest order first.
func (s *Store) TracksInGenerationOrder() ([]Track, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return nil, ErrNoProject
	}
	tracks := GenerationOrder(s.project)
	for i := range tracks {
		tracks[i] = tracks[i].clone()
	}
	return tracks, nil
}

// PreviousMixClip returns the clip whose cumulative mix feeds clipID.
func (s *Store) PreviousMixClip(clipID string) (Clip, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.project == nil {
		return Clip{}, false, ErrNoProject
	}
	if _, _, err := s.project.Clip(clipID); err != nil {
		return Clip{}, false, err
	}
	c, ok := PreviousMix(s.project, clipID)
	return c, ok, nil
}

func (s *Store) withClip(clipID string, fn func(p *Project, c *Clip) error) (Clip, error) {
	var out Clip
	err := s.mutate(func(p *Project) error {
		_, c, err := p.Clip(clipID)
		if err != nil {
			return err
		}
		if err := fn(p, c); err != nil {
			return err
		}
		out = c.clone()
		return nil
	})
	return out, err
}

// mutate runs fn against a working copy and commits it only on success, then
// recomputes the timeline length.
func (s *Store) mutate(fn func(p *Project) error) error {
	s.mu.Lock()
	if s.project == nil {
		s.mu.Unlock()
		return ErrNoProject
	}
	work := s.project.Clone()
	if err := fn(work); err != nil {
		s.mu.Unlock()
		return err
	}
	work.TotalDuration = TotalDuration(work.Tracks)
	work.UpdatedAt = s.now()
	s.project = work
	s.mu.Unlock()
	s.notify()
	return nil
}

func (s *Store) notify() {
	s.mu.RLock()
	fns := append([]func(){}, s.onChange...)
	s.mu.RUnlock()
	for _, fn := range fns {
		fn()
	}
}

// LoadFile reads a project document from disk.
func LoadFile(path string) (*Project, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read project: %w", err)
	}
	var p Project
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse project %s: %w", path, err)
	}
	return &p, nil
}

// SaveFile writes a project document to disk.
func SaveFile(path string, p *Project) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("encode project: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write project: %w", err)
	}
	return nil
}
