// Package api is the HTTP control surface: REST routes for the project,
// transport, generation and export, plus a websocket event feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/satindergrewal/layerdaw/internal/acestep"
	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/engine"
	"github.com/satindergrewal/layerdaw/internal/generation"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"github.com/satindergrewal/layerdaw/internal/project"
	"github.com/satindergrewal/layerdaw/internal/storage"
	"github.com/satindergrewal/layerdaw/internal/studio"
	"github.com/satindergrewal/layerdaw/internal/transport"
)

// MeterRate is how often meter events are pushed while playing.
const MeterRate = 15

// maxUpload caps imported audio files.
const maxUpload = 200 << 20

// Deps are the services the API drives.
type Deps struct {
	Store     *project.Store
	Transport *transport.Transport
	Pipeline  *generation.Pipeline
	Studio    *studio.Studio

	// Monitor handlers are mounted when set.
	MonitorHTTP   http.Handler
	MonitorWebRTC http.Handler

	// Backend exposes the ACE-Step model list and queue stats when set.
	Backend BackendInfo
}

// BackendInfo reports what the queued generation server can run.
type BackendInfo interface {
	ListModels(ctx context.Context) (acestep.ModelsList, error)
	Stats(ctx context.Context) (acestep.Stats, error)
}

type Server struct {
	deps Deps
	hub  *Hub
	ctx  context.Context
}

// New wires the event feed to the transport, pipeline and store. ctx bounds
// background work started by requests, such as generation.
func New(ctx context.Context, deps Deps) *Server {
	s := &Server{deps: deps, hub: NewHub(), ctx: ctx}

	deps.Transport.Scheduler().OnTimeUpdate(func(t float64) {
		s.hub.Publish(EventTime, map[string]float64{"currentTime": t})
	})
	deps.Transport.OnEnded(func(looped bool) {
		s.hub.Publish(EventEnded, map[string]bool{"looped": looped})
	})
	deps.Pipeline.Jobs().OnChange(func(j generation.Job) {
		s.hub.Publish(EventJob, j)
	})
	deps.Pipeline.OnClipReady(func(c project.Clip) {
		deps.Transport.Forget(c.IsolatedAudioKey)
	})
	deps.Store.OnChange(func() {
		if p, err := deps.Store.Project(); err == nil {
			s.hub.Publish(EventProject, p)
		}
		if err := deps.Transport.SyncTracks(); err != nil {
			logger.Warn("Mixer sync failed", logger.ErrorField(err))
		}
	})
	return s
}

// Hub returns the event hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves the event hub and pushes meter levels until ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	go s.hub.Run(ctx)

	ticker := time.NewTicker(time.Second / MeterRate)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.deps.Transport.Playing() {
				s.hub.Publish(EventMeters, s.meters())
			}
		}
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(cors)

	api := r.PathPrefix("/api").Subrouter()

	api.HandleFunc("/project", s.getProject).Methods(http.MethodGet)
	api.HandleFunc("/project", s.createProject).Methods(http.MethodPost)
	api.HandleFunc("/project", s.loadProject).Methods(http.MethodPut)

	api.HandleFunc("/tracks", s.addTrack).Methods(http.MethodPost)
	api.HandleFunc("/tracks/{id}", s.updateTrack).Methods(http.MethodPatch)
	api.HandleFunc("/tracks/{id}", s.removeTrack).Methods(http.MethodDelete)
	api.HandleFunc("/tracks/{id}/clips", s.addClip).Methods(http.MethodPost)
	api.HandleFunc("/tracks/{id}/import", s.importToTrack).Methods(http.MethodPost)
	api.HandleFunc("/import", s.importAsTrack).Methods(http.MethodPost)

	api.HandleFunc("/clips/{id}", s.updateClip).Methods(http.MethodPatch)
	api.HandleFunc("/clips/{id}", s.removeClip).Methods(http.MethodDelete)
	api.HandleFunc("/clips/{id}/move", s.moveClip).Methods(http.MethodPost)
	api.HandleFunc("/clips/{id}/trim", s.trimClip).Methods(http.MethodPost)
	api.HandleFunc("/clips/{id}/duplicate", s.duplicateClip).Methods(http.MethodPost)
	api.HandleFunc("/clips/{id}/generate", s.generateClip).Methods(http.MethodPost)

	api.HandleFunc("/generate", s.generateAll).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.listJobs).Methods(http.MethodGet)
	api.HandleFunc("/jobs", s.clearJobs).Methods(http.MethodDelete)

	api.HandleFunc("/transport", s.getTransport).Methods(http.MethodGet)
	api.HandleFunc("/transport/play", s.play).Methods(http.MethodPost)
	api.HandleFunc("/transport/pause", s.pause).Methods(http.MethodPost)
	api.HandleFunc("/transport/stop", s.stop).Methods(http.MethodPost)
	api.HandleFunc("/transport/seek", s.seek).Methods(http.MethodPost)
	api.HandleFunc("/transport/loop", s.loop).Methods(http.MethodPost)
	api.HandleFunc("/master", s.setMaster).Methods(http.MethodPost)

	api.HandleFunc("/meters", s.getMeters).Methods(http.MethodGet)
	api.HandleFunc("/export", s.export).Methods(http.MethodGet)

	if s.deps.Backend != nil {
		api.HandleFunc("/backend/models", s.backendModels).Methods(http.MethodGet)
		api.HandleFunc("/backend/stats", s.backendStats).Methods(http.MethodGet)
	}

	r.Handle("/ws", s.hub)
	if s.deps.MonitorHTTP != nil {
		r.Handle("/monitor/stream", s.deps.MonitorHTTP)
	}
	if s.deps.MonitorWebRTC != nil {
		r.Handle("/monitor/offer", s.deps.MonitorWebRTC)
	}
	return r
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response", logger.ErrorField(err))
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, project.ErrClipNotFound),
		errors.Is(err, project.ErrTrackNotFound),
		errors.Is(err, project.ErrNoProject),
		errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, project.ErrInvalidTransition),
		errors.Is(err, generation.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, studio.ErrTooShort),
		errors.Is(err, audio.ErrUnsupportedFormat),
		errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrEngineClosed),
		errors.Is(err, generation.ErrNoBackend):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
