package acestep

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Task status codes reported by query_result.
const (
	TaskProcessing = 0
	TaskSucceeded  = 1
	TaskFailed     = 2
)

// LegoParams asks the model to add one instrument layer on top of the audio
// context, repainting only the given window.
type LegoParams struct {
	TaskType        string   `json:"task_type"`
	TrackName       string   `json:"track_name"`
	Prompt          string   `json:"prompt"`
	Lyrics          string   `json:"lyrics"`
	Instruction     string   `json:"instruction"`
	RepaintingStart float64  `json:"repainting_start"`
	RepaintingEnd   float64  `json:"repainting_end"`
	AudioDuration   float64  `json:"audio_duration"`
	BPM             *float64 `json:"bpm,omitempty"` // nil lets the model infer it
	KeyScale        string   `json:"key_scale"`      // "" lets the model infer it
	TimeSignature   string   `json:"time_signature"` // "" lets the model infer it
	InferenceSteps  int      `json:"inference_steps"`
	GuidanceScale   float64  `json:"guidance_scale"`
	Shift           float64  `json:"shift"`
	BatchSize       int      `json:"batch_size"`
	AudioFormat     string   `json:"audio_format"`
	Thinking        bool     `json:"thinking"`
	Model           string   `json:"model,omitempty"`
	SampleMode      bool     `json:"sample_mode,omitempty"`
	SampleQuery     string   `json:"sample_query,omitempty"`
	UseCotCaption   *bool    `json:"use_cot_caption,omitempty"`
}

// FormField is one multipart field of a release_task request.
type FormField struct {
	Name  string
	Value string
}

// FormFields lists the parameters as multipart fields in a stable order.
// Unset optional values are left out so the backend falls back to its own.
func (p LegoParams) FormFields() []FormField {
	f := []FormField{
		{"task_type", p.TaskType},
		{"track_name", p.TrackName},
		{"prompt", p.Prompt},
		{"lyrics", p.Lyrics},
		{"instruction", p.Instruction},
		{"repainting_start", formatFloat(p.RepaintingStart)},
		{"repainting_end", formatFloat(p.RepaintingEnd)},
		{"audio_duration", formatFloat(p.AudioDuration)},
	}
	if p.BPM != nil {
		f = append(f, FormField{"bpm", formatFloat(*p.BPM)})
	}
	f = append(f,
		FormField{"key_scale", p.KeyScale},
		FormField{"time_signature", p.TimeSignature},
		FormField{"inference_steps", strconv.Itoa(p.InferenceSteps)},
		FormField{"guidance_scale", formatFloat(p.GuidanceScale)},
		FormField{"shift", formatFloat(p.Shift)},
		FormField{"batch_size", strconv.Itoa(p.BatchSize)},
		FormField{"audio_format", p.AudioFormat},
		FormField{"thinking", strconv.FormatBool(p.Thinking)},
	)
	if p.Model != "" {
		f = append(f, FormField{"model", p.Model})
	}
	if p.SampleMode {
		f = append(f, FormField{"sample_mode", "true"}, FormField{"sample_query", p.SampleQuery})
	}
	if p.UseCotCaption != nil {
		f = append(f, FormField{"use_cot_caption", strconv.FormatBool(*p.UseCotCaption)})
	}
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// envelope wraps every ACE-Step response body.
type envelope[T any] struct {
	Data      T               `json:"data"`
	Code      int             `json:"code"`
	Error     *string         `json:"error"`
	Timestamp int64           `json:"timestamp"`
	Extra     json.RawMessage `json:"extra"`
}

func (e envelope[T]) err() error {
	if e.Code != 200 {
		msg := ""
		if e.Error != nil {
			msg = *e.Error
		}
		return fmt.Errorf("API error (code %d): %s", e.Code, msg)
	}
	return nil
}

// ReleaseTaskResponse acknowledges a queued task.
type ReleaseTaskResponse struct {
	TaskID        string `json:"task_id"`
	Status        string `json:"status"`
	QueuePosition int    `json:"queue_position,omitempty"`
}

// TaskResultEntry is one task's state in a query_result response.
type TaskResultEntry struct {
	TaskID       string `json:"task_id"`
	Status       int    `json:"status"`
	Result       string `json:"result"` // JSON array of ResultItem once done
	ProgressText string `json:"progress_text"`
}

// Items parses the result payload of a finished task.
func (e TaskResultEntry) Items() ([]ResultItem, error) {
	var items []ResultItem
	if err := json.Unmarshal([]byte(e.Result), &items); err != nil {
		return nil, fmt.Errorf("parse result items: %w", err)
	}
	return items, nil
}

// ResultItem is one generated output.
type ResultItem struct {
	File           string     `json:"file"`
	Wave           string     `json:"wave"`
	Status         int        `json:"status"`
	CreateTime     float64    `json:"create_time"`
	Env            string     `json:"env"`
	Prompt         string     `json:"prompt"`
	Lyrics         string     `json:"lyrics"`
	Metas          Metas      `json:"metas"`
	SeedValue      flexString `json:"seed_value,omitempty"`
	GenerationInfo string     `json:"generation_info,omitempty"`
	LMModel        string     `json:"lm_model,omitempty"`
	DitModel       string     `json:"dit_model,omitempty"`
}

// Metas is what the model inferred about its output.
type Metas struct {
	BPM           *float64   `json:"bpm,omitempty"`
	Duration      *float64   `json:"duration,omitempty"`
	Genres        string     `json:"genres,omitempty"`
	KeyScale      string     `json:"keyscale,omitempty"`
	TimeSignature flexString `json:"timesignature,omitempty"`
	Caption       string     `json:"caption,omitempty"`
}

// flexString decodes from a JSON string or number. Backend versions differ
// on how they report seeds and time signatures.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*f = flexString(n.String())
	return nil
}

// ModelEntry is one DiT model the server can run.
type ModelEntry struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// ModelsList is the /v1/models payload.
type ModelsList struct {
	Models       []ModelEntry `json:"models"`
	DefaultModel *string      `json:"default_model"`
}

// Stats is the /v1/stats payload.
type Stats struct {
	QueueSize    int `json:"queue_size"`
	RunningTasks int `json:"running_tasks"`
}
