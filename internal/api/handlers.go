package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
)

var errBadRequest = errors.New("bad request")

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// --- Project ---

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.Project()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) createProject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name          string                      `json:"name"`
		BPM           float64                     `json:"bpm"`
		KeyScale      string                      `json:"keyScale"`
		TimeSignature int                         `json:"timeSignature"`
		Generation    *project.GenerationDefaults `json:"generationDefaults"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Transport.Stop()
	p := s.deps.Store.CreateProject(project.NewProjectOptions{
		Name:          req.Name,
		BPM:           req.BPM,
		KeyScale:      req.KeyScale,
		TimeSignature: req.TimeSignature,
		Generation:    req.Generation,
	})
	s.resetTransport()
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) loadProject(w http.ResponseWriter, r *http.Request) {
	var p project.Project
	if err := decode(r, &p); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Transport.Stop()
	s.deps.Store.SetProject(&p)
	s.resetTransport()
	s.getProject(w, r)
}

// resetTransport drops playback state left over from the previous project.
func (s *Server) resetTransport() {
	if err := s.deps.Transport.Reset(); err != nil {
		logger.Warn("Transport reset failed", logger.ErrorField(err))
	}
}

// --- Tracks ---

func (s *Server) addTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Kind project.TrackKind `json:"trackName"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if !req.Kind.Valid() {
		writeError(w, fmt.Errorf("%w: unknown track kind %q", errBadRequest, req.Kind))
		return
	}
	t, err := s.deps.Store.AddTrack(req.Kind)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) updateTrack(w http.ResponseWriter, r *http.Request) {
	var req struct {
		DisplayName *string  `json:"displayName"`
		Volume      *float64 `json:"volume"`
		Muted       *bool    `json:"muted"`
		Soloed      *bool    `json:"soloed"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	t, err := s.deps.Store.UpdateTrack(mux.Vars(r)["id"], project.TrackUpdate{
		DisplayName: req.DisplayName,
		Volume:      req.Volume,
		Muted:       req.Muted,
		Soloed:      req.Soloed,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) removeTrack(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Studio.RemoveTrack(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Clips ---

func (s *Server) addClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartTime float64 `json:"startTime"`
		Duration  float64 `json:"duration"`
		Prompt    string  `json:"prompt"`
		Lyrics    string  `json:"lyrics"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Store.AddClip(mux.Vars(r)["id"], project.ClipSpec{
		StartTime: req.StartTime,
		Duration:  req.Duration,
		Prompt:    req.Prompt,
		Lyrics:    req.Lyrics,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

// updateClip edits generation inputs. A ready clip becomes stale.
func (s *Server) updateClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prompt           *string                    `json:"prompt"`
		Lyrics           *string                    `json:"lyrics"`
		BPM              *project.Override[float64] `json:"bpm"`
		KeyScale         *project.Override[string]  `json:"keyScale"`
		TimeSignature    *project.Override[int]     `json:"timeSignature"`
		SampleMode       *bool                      `json:"sampleMode"`
		AutoExpandPrompt *bool                      `json:"autoExpandPrompt"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	id := mux.Vars(r)["id"]
	c, err := s.deps.Store.UpdateClip(id, project.ClipUpdate{
		Prompt:           req.Prompt,
		Lyrics:           req.Lyrics,
		BPM:              req.BPM,
		KeyScale:         req.KeyScale,
		TimeSignature:    req.TimeSignature,
		SampleMode:       req.SampleMode,
		AutoExpandPrompt: req.AutoExpandPrompt,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if c.Status == project.StatusReady {
		if c, err = s.deps.Store.MarkStale(id); err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) moveClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartTime float64 `json:"startTime"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Store.MoveClip(mux.Vars(r)["id"], req.StartTime)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) trimClip(w http.ResponseWriter, r *http.Request) {
	var req struct {
		StartTime float64 `json:"startTime"`
		Duration  float64 `json:"duration"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Store.TrimClip(mux.Vars(r)["id"], req.StartTime, req.Duration)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) duplicateClip(w http.ResponseWriter, r *http.Request) {
	c, err := s.deps.Store.DuplicateClip(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) removeClip(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Studio.RemoveClip(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Generation ---

// generateClip starts generation in the background; progress arrives as job
// events.
func (s *Server) generateClip(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Pipeline.StartClip(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	s.startGeneration(w, run)
}

func (s *Server) generateAll(w http.ResponseWriter, r *http.Request) {
	run, err := s.deps.Pipeline.StartAll()
	if err != nil {
		writeError(w, err)
		return
	}
	s.startGeneration(w, run)
}

// startGeneration runs an already claimed generation against the server
// context.
func (s *Server) startGeneration(w http.ResponseWriter, run func(ctx context.Context) error) {
	go func() {
		if err := run(s.ctx); err != nil {
			logger.Warn("Generation finished with errors", logger.ErrorField(err))
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]bool{"ok": true})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"jobs":         s.deps.Pipeline.Jobs().List(),
		"isGenerating": s.deps.Pipeline.Generating(),
	})
}

func (s *Server) clearJobs(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Pipeline.Jobs().ClearCompleted()
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// --- Transport ---

type transportState struct {
	Playing     bool    `json:"isPlaying"`
	CurrentTime float64 `json:"currentTime"`
	Loop        bool    `json:"loopEnabled"`
	MasterGain  float64 `json:"masterVolume"`
}

func (s *Server) state() transportState {
	return transportState{
		Playing:     s.deps.Transport.Playing(),
		CurrentTime: s.deps.Transport.CurrentTime(),
		Loop:        s.deps.Transport.Loop(),
		MasterGain:  s.deps.Transport.Scheduler().Engine().MasterGain(),
	}
}

func (s *Server) getTransport(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) play(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From *float64 `json:"from"`
	}
	if r.ContentLength != 0 {
		if err := decode(r, &req); err != nil {
			writeError(w, err)
			return
		}
	}
	var err error
	if req.From != nil {
		err = s.deps.Transport.PlayFrom(r.Context(), *req.From)
	} else {
		err = s.deps.Transport.Play(r.Context())
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.deps.Transport.Pause()
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) stop(w http.ResponseWriter, r *http.Request) {
	s.deps.Transport.Stop()
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Time float64 `json:"time"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Transport.Seek(r.Context(), req.Time); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) loop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Enabled bool `json:"enabled"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Transport.SetLoop(req.Enabled)
	writeJSON(w, http.StatusOK, s.state())
}

func (s *Server) setMaster(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Volume float64 `json:"volume"`
	}
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	s.deps.Transport.Scheduler().Engine().SetMasterGain(req.Volume)
	writeJSON(w, http.StatusOK, s.state())
}

// --- Meters and export ---

type meterLevels struct {
	Master float32            `json:"master"`
	Tracks map[string]float32 `json:"tracks"`
}

func (s *Server) meters() meterLevels {
	e := s.deps.Transport.Scheduler().Engine()
	m := meterLevels{Master: e.MasterPeak(), Tracks: make(map[string]float32)}
	for _, ch := range e.Channels() {
		m.Tracks[ch.TrackID()] = ch.PeakLevel()
	}
	return m
}

func (s *Server) getMeters(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.meters())
}

func (s *Server) export(w http.ResponseWriter, r *http.Request) {
	p, err := s.deps.Store.Project()
	if err != nil {
		writeError(w, err)
		return
	}
	data, err := s.deps.Studio.Export(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.wav"`, safeName(p.Name)))
	_, _ = w.Write(data)
}

func safeName(name string) string {
	name = strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, name)
	if name == "" {
		return "mix"
	}
	return name
}

// --- Import ---

func readUpload(r *http.Request) (string, []byte, error) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		return "", nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, fmt.Errorf("%w: missing file: %v", errBadRequest, err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, maxUpload))
	if err != nil {
		return "", nil, err
	}
	return header.Filename, data, nil
}

func (s *Server) importToTrack(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	c, err := s.deps.Studio.ImportToTrack(r.Context(), mux.Vars(r)["id"], name, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) importAsTrack(w http.ResponseWriter, r *http.Request) {
	name, data, err := readUpload(r)
	if err != nil {
		writeError(w, err)
		return
	}
	t, c, err := s.deps.Studio.ImportAsNewTrack(r.Context(), name, data)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"track": t, "clip": c})
}

// --- Backend ---

func (s *Server) backendModels(w http.ResponseWriter, r *http.Request) {
	models, err := s.deps.Backend.ListModels(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, models)
}

func (s *Server) backendStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Backend.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
