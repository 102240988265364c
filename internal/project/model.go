package project

import (
	"fmt"
	"time"
)

// Status is a clip's position in the generation state machine.
type Status string

const (
	StatusEmpty      Status = "empty"
	StatusQueued     Status = "queued"
	StatusGenerating Status = "generating"
	StatusProcessing Status = "processing"
	StatusReady      Status = "ready"
	StatusError      Status = "error"
	StatusStale      Status = "stale"
)

var transitions = map[Status][]Status{
	StatusEmpty:      {StatusQueued, StatusReady},
	StatusQueued:     {StatusGenerating},
	StatusGenerating: {StatusProcessing, StatusReady},
	StatusProcessing: {StatusReady},
	StatusReady:      {StatusStale, StatusQueued},
	StatusStale:      {StatusQueued},
	StatusError:      {StatusQueued},
}

// CanTransition reports whether a clip may move from one status to another.
// Any status may move to error. Empty to ready is the import path.
func CanTransition(from, to Status) bool {
	if to == StatusError {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// GenerationDefaults are the project-wide inference settings.
type GenerationDefaults struct {
	InferenceSteps int     `json:"inferenceSteps"`
	GuidanceScale  float64 `json:"guidanceScale"`
	Shift          float64 `json:"shift"`
	Thinking       bool    `json:"thinking"`
	Model          string  `json:"model"`
	UseModal       bool    `json:"useModal"`
}

// InferredMetas is what the backend reported about a generated clip.
type InferredMetas struct {
	BPM           *float64 `json:"bpm,omitempty"`
	KeyScale      string   `json:"keyScale,omitempty"`
	TimeSignature string   `json:"timeSignature,omitempty"`
	Genres        string   `json:"genres,omitempty"`
	Seed          string   `json:"seed,omitempty"`
	DitModel      string   `json:"ditModel,omitempty"`
}

// Clip is one region on a track's timeline.
type Clip struct {
	ID        string  `json:"id"`
	TrackID   string  `json:"trackId"`
	StartTime float64 `json:"startTime"`
	Duration  float64 `json:"duration"`
	Prompt    string  `json:"prompt"`
	Lyrics    string  `json:"lyrics"`

	Status           Status    `json:"generationStatus"`
	GenerationJobID  string    `json:"generationJobId,omitempty"`
	CumulativeMixKey string    `json:"cumulativeMixKey,omitempty"`
	IsolatedAudioKey string    `json:"isolatedAudioKey,omitempty"`
	WaveformPeaks    []float32 `json:"waveformPeaks,omitempty"`
	ErrorMessage     string    `json:"errorMessage,omitempty"`

	BPM           Override[float64] `json:"bpm"`
	KeyScale      Override[string]  `json:"keyScale"`
	TimeSignature Override[int]     `json:"timeSignature"`
	InferredMetas *InferredMetas    `json:"inferredMetas,omitempty"`

	SampleMode       bool  `json:"sampleMode,omitempty"`
	AutoExpandPrompt *bool `json:"autoExpandPrompt,omitempty"`

	// Crop window into the stored audio. AudioDuration of zero means no
	// audio has been attached yet.
	AudioDuration float64 `json:"audioDuration,omitempty"`
	AudioOffset   float64 `json:"audioOffset,omitempty"`
}

// End returns the timeline position where the clip stops.
func (c Clip) End() float64 {
	return c.StartTime + c.Duration
}

// ExpandsPrompt reports whether the backend may rewrite the prompt. Unset
// means yes.
func (c Clip) ExpandsPrompt() bool {
	return c.AutoExpandPrompt == nil || *c.AutoExpandPrompt
}

// Playable reports whether the clip has isolated audio to play or export.
func (c Clip) Playable() bool {
	return c.Status == StatusReady && c.IsolatedAudioKey != ""
}

func (c Clip) clone() Clip {
	out := c
	if c.WaveformPeaks != nil {
		out.WaveformPeaks = append([]float32(nil), c.WaveformPeaks...)
	}
	if c.InferredMetas != nil {
		m := *c.InferredMetas
		if m.BPM != nil {
			bpm := *m.BPM
			m.BPM = &bpm
		}
		out.InferredMetas = &m
	}
	if c.AutoExpandPrompt != nil {
		v := *c.AutoExpandPrompt
		out.AutoExpandPrompt = &v
	}
	return out
}

// Track is one lane of clips sharing a mixer channel.
type Track struct {
	ID          string    `json:"id"`
	Kind        TrackKind `json:"trackName"`
	DisplayName string    `json:"displayName"`
	Color       string    `json:"color"`
	Order       int       `json:"order"`
	Volume      float64   `json:"volume"`
	Muted       bool      `json:"muted"`
	Soloed      bool      `json:"soloed"`
	Clips       []Clip    `json:"clips"`
}

func (t Track) clone() Track {
	out := t
	out.Clips = make([]Clip, len(t.Clips))
	for i, c := range t.Clips {
		out.Clips[i] = c.clone()
	}
	return out
}

// Project is the whole session document.
type Project struct {
	ID                 string             `json:"id"`
	Name               string             `json:"name"`
	CreatedAt          time.Time          `json:"createdAt"`
	UpdatedAt          time.Time          `json:"updatedAt"`
	BPM                float64            `json:"bpm"`
	KeyScale           string             `json:"keyScale"`
	TimeSignature      int                `json:"timeSignature"`
	TotalDuration      float64            `json:"totalDuration"`
	Tracks             []Track            `json:"tracks"`
	GenerationDefaults GenerationDefaults `json:"generationDefaults"`
}

// Clone returns a deep copy.
func (p *Project) Clone() *Project {
	if p == nil {
		return nil
	}
	out := *p
	out.Tracks = make([]Track, len(p.Tracks))
	for i, t := range p.Tracks {
		out.Tracks[i] = t.clone()
	}
	return &out
}

// Clip finds a clip and its track by clip id.
func (p *Project) Clip(clipID string) (*Track, *Clip, error) {
	for ti := range p.Tracks {
		for ci := range p.Tracks[ti].Clips {
			if p.Tracks[ti].Clips[ci].ID == clipID {
				return &p.Tracks[ti], &p.Tracks[ti].Clips[ci], nil
			}
		}
	}
	return nil, nil, fmt.Errorf("clip %s: %w", clipID, ErrClipNotFound)
}

// Track finds a track by id.
func (p *Project) Track(trackID string) (*Track, error) {
	for i := range p.Tracks {
		if p.Tracks[i].ID == trackID {
			return &p.Tracks[i], nil
		}
	}
	return nil, fmt.Errorf("track %s: %w", trackID, ErrTrackNotFound)
}

// AnySoloed reports whether a solo is active anywhere in the project.
func (p *Project) AnySoloed() bool {
	for _, t := range p.Tracks {
		if t.Soloed {
			return true
		}
	}
	return false
}
