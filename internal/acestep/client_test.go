package acestep

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func legoParams() LegoParams {
	return LegoParams{
		TaskType:        "lego",
		TrackName:       "bass",
		Prompt:          "deep bass",
		Instruction:     "Generate the BASS track based on the audio context:",
		RepaintingStart: 2,
		RepaintingEnd:   6.5,
		AudioDuration:   30,
		InferenceSteps:  50,
		GuidanceScale:   7,
		Shift:           3,
		BatchSize:       1,
		AudioFormat:     "wav",
		Thinking:        true,
	}
}

func fieldMap(fields []FormField) map[string]string {
	m := make(map[string]string, len(fields))
	for _, f := range fields {
		m[f.Name] = f.Value
	}
	return m
}

// --- Form encoding ---

func TestFormFieldsOmitUnset(t *testing.T) {
	m := fieldMap(legoParams().FormFields())
	for _, k := range []string{"bpm", "model", "sample_mode", "sample_query", "use_cot_caption"} {
		if _, ok := m[k]; ok {
			t.Errorf("field %s should be omitted", k)
		}
	}
	if v, ok := m["key_scale"]; !ok || v != "" {
		t.Errorf("key_scale = %q, %v; want empty string sent", v, ok)
	}
	if m["repainting_end"] != "6.5" || m["audio_duration"] != "30" {
		t.Errorf("numbers formatted as %q and %q", m["repainting_end"], m["audio_duration"])
	}
	if m["thinking"] != "true" {
		t.Errorf("thinking = %q", m["thinking"])
	}
}

func TestFormFieldsOptionalSet(t *testing.T) {
	p := legoParams()
	bpm := 128.0
	no := false
	p.BPM = &bpm
	p.Model = "turbo"
	p.SampleMode = true
	p.SampleQuery = "deep bass"
	p.UseCotCaption = &no

	m := fieldMap(p.FormFields())
	want := map[string]string{
		"bpm":             "128",
		"model":           "turbo",
		"sample_mode":     "true",
		"sample_query":    "deep bass",
		"use_cot_caption": "false",
	}
	for k, v := range want {
		if m[k] != v {
			t.Errorf("%s = %q, want %q", k, m[k], v)
		}
	}
}

func TestResultItemsFlexibleFields(t *testing.T) {
	entry := TaskResultEntry{Result: `[{"file":"/v1/audio?path=a.wav","metas":{"bpm":120,"timesignature":4,"keyscale":"A minor"},"seed_value":1234}]`}
	items, err := entry.Items()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	it := items[0]
	if it.Metas.BPM == nil || *it.Metas.BPM != 120 {
		t.Errorf("bpm = %v", it.Metas.BPM)
	}
	if it.Metas.TimeSignature != "4" || it.SeedValue != "1234" {
		t.Errorf("timesignature = %q seed = %q", it.Metas.TimeSignature, it.SeedValue)
	}
	if _, err := (TaskResultEntry{Result: "not json"}).Items(); err == nil {
		t.Error("expected parse error")
	}
}

// --- HTTP client ---

func TestReleaseLegoTaskMultipart(t *testing.T) {
	var gotFields map[string]string
	var gotAudio []byte
	var gotAuth string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/release_task" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
			return
		}
		gotFields = map[string]string{}
		for k, v := range r.MultipartForm.Value {
			gotFields[k] = v[0]
		}
		f, hdr, err := r.FormFile("src_audio")
		if err != nil {
			t.Errorf("src_audio: %v", err)
			return
		}
		if hdr.Filename != "src_audio.wav" {
			t.Errorf("filename = %q", hdr.Filename)
		}
		gotAudio, _ = io.ReadAll(f)
		w.Write([]byte(`{"data":{"task_id":"task-1","status":"queued","queue_position":2},"code":200,"error":null,"timestamp":1,"extra":null}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "secret", "")
	resp, err := c.ReleaseLegoTask(context.Background(), []byte("RIFFDATA"), legoParams())
	if err != nil {
		t.Fatal(err)
	}
	if resp.TaskID != "task-1" || resp.QueuePosition != 2 {
		t.Errorf("response = %+v", resp)
	}
	if string(gotAudio) != "RIFFDATA" {
		t.Errorf("audio = %q", gotAudio)
	}
	if gotFields["task_type"] != "lego" || gotFields["track_name"] != "bass" {
		t.Errorf("fields = %v", gotFields)
	}
	if gotAuth != "Bearer secret" {
		t.Errorf("Authorization = %q", gotAuth)
	}
}

func TestReleaseLegoTaskAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":null,"code":500,"error":"model not loaded"}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, "", "").ReleaseLegoTask(context.Background(), nil, legoParams())
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Errorf("err = %v, want API error", err)
	}
}

func TestQueryResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			TaskIDList []string `json:"task_id_list"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.TaskIDList) != 1 || req.TaskIDList[0] != "t1" {
			t.Errorf("request = %+v, %v", req, err)
		}
		w.Write([]byte(`{"data":[{"task_id":"t1","status":0,"result":"","progress_text":"step 3/50"}],"code":200}`))
	}))
	defer srv.Close()

	entries, err := NewClient(srv.URL, "", "").QueryResult(context.Background(), "t1")
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Status != TaskProcessing || entries[0].ProgressText != "step 3/50" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestDownloadPaths(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"/v1/audio?path=outputs%2Fa.wav", "/v1/audio?path=outputs%2Fa.wav"},
		{"/tmp/out/a b.wav", "/v1/audio?path=%2Ftmp%2Fout%2Fa+b.wav"},
	}
	for _, tt := range tests {
		if got := downloadPath(tt.in); got != tt.want {
			t.Errorf("downloadPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDownloadHTTP(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio" || r.URL.Query().Get("path") != "/srv/a.wav" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("audio-bytes"))
	}))
	defer srv.Close()

	data, err := NewClient(srv.URL, "", "").Download(context.Background(), "/srv/a.wav")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "audio-bytes" {
		t.Errorf("data = %q", data)
	}
}

func TestDownloadPrefersSharedVolume(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "outputs"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "outputs", "a.wav"), []byte("shared"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewClient("http://127.0.0.1:0", "", dir)
	data, err := c.Download(context.Background(), "/v1/audio?path=outputs/a.wav")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "shared" {
		t.Errorf("data = %q, want shared file", data)
	}
}

func TestListModelsAndStats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Write([]byte(`{"data":{"models":[{"name":"base","is_default":true}],"default_model":"base"},"code":200}`))
		case "/v1/stats":
			w.Write([]byte(`{"queue_size":3,"running_tasks":1}`))
		case "/health":
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", "")
	ctx := context.Background()

	models, err := c.ListModels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(models.Models) != 1 || !models.Models[0].IsDefault || models.DefaultModel == nil || *models.DefaultModel != "base" {
		t.Errorf("models = %+v", models)
	}

	stats, err := c.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.QueueSize != 3 || stats.RunningTasks != 1 {
		t.Errorf("stats = %+v", stats)
	}

	if err := c.WaitForHealthy(ctx, time.Millisecond); err != nil {
		t.Errorf("WaitForHealthy: %v", err)
	}
}

func TestWaitForHealthyCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := NewClient(srv.URL, "", "").WaitForHealthy(ctx, 5*time.Millisecond); err == nil {
		t.Error("expected context error")
	}
}

// --- Modal ---

func TestModalGenerate(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode: %v", err)
		}
		out := base64.StdEncoding.EncodeToString([]byte("mix"))
		w.Write([]byte(`{"status":"succeeded","outputs":["` + out + `"],"format":"wav","count":1}`))
	}))
	defer srv.Close()

	res, err := NewModalClient(srv.URL).Generate(context.Background(), []byte("src"), legoParams())
	if err != nil {
		t.Fatal(err)
	}
	if string(res.Audio) != "mix" || res.Format != "wav" || res.Metas != nil {
		t.Errorf("result = %+v", res)
	}
	if got["task_type"] != "lego" || got["src_audio_base64"] != base64.StdEncoding.EncodeToString([]byte("src")) {
		t.Errorf("request = %v", got)
	}
	if _, ok := got["bpm"]; ok {
		t.Error("nil bpm should be omitted")
	}
}

func TestModalGenerateFailures(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"status", `{"status":"failed","outputs":[]}`, "status: failed"},
		{"no outputs", `{"status":"succeeded","outputs":[]}`, "no outputs"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewModalClient(srv.URL).Generate(context.Background(), nil, legoParams())
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want %q", err, tt.want)
			}
		})
	}
}
