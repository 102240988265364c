package generation

import (
	"fmt"
	"strconv"

	"github.com/satindergrewal/layerdaw/internal/acestep"
	"github.com/satindergrewal/layerdaw/internal/project"
)

// BuildLegoParams turns a clip into a lego request: repaint the clip's
// window of the full-length context with the track's instrument.
func BuildLegoParams(p *project.Project, t project.Track, c project.Clip) acestep.LegoParams {
	params := acestep.LegoParams{
		TaskType:        "lego",
		TrackName:       string(t.Kind),
		Prompt:          c.Prompt,
		Lyrics:          c.Lyrics,
		Instruction:     fmt.Sprintf("Generate the %s track based on the audio context:", t.Kind.Label()),
		RepaintingStart: c.StartTime,
		RepaintingEnd:   c.End(),
		AudioDuration:   p.TotalDuration,
		InferenceSteps:  p.GenerationDefaults.InferenceSteps,
		GuidanceScale:   p.GenerationDefaults.GuidanceScale,
		Shift:           p.GenerationDefaults.Shift,
		BatchSize:       1,
		AudioFormat:     "wav",
		Thinking:        p.GenerationDefaults.Thinking,
		Model:           p.GenerationDefaults.Model,
	}

	if bpm, ok := c.BPM.Resolve(p.BPM); ok {
		params.BPM = &bpm
	}
	if key, ok := c.KeyScale.Resolve(p.KeyScale); ok {
		params.KeyScale = key
	}
	if sig, ok := c.TimeSignature.Resolve(p.TimeSignature); ok {
		params.TimeSignature = strconv.Itoa(sig)
	}

	if c.SampleMode {
		params.SampleMode = true
		params.SampleQuery = c.Prompt
	}
	if !c.ExpandsPrompt() {
		no := false
		params.UseCotCaption = &no
	}
	return params
}

func inferredMetas(m acestep.Metas, seed, ditModel string) *project.InferredMetas {
	return &project.InferredMetas{
		BPM:           m.BPM,
		KeyScale:      m.KeyScale,
		TimeSignature: string(m.TimeSignature),
		Genres:        m.Genres,
		Seed:          seed,
		DitModel:      ditModel,
	}
}
