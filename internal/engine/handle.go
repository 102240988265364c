package engine

import "sync"

// Handle builds the engine on first use and hands the same engine and
// scheduler to every caller until Dispose.
type Handle struct {
	sampleRate int

	mu        sync.Mutex
	engine    *Engine
	scheduler *Scheduler
}

// NewHandle returns a handle whose engine will run at sampleRate.
func NewHandle(sampleRate int) *Handle {
	return &Handle{sampleRate: sampleRate}
}

func (h *Handle) ensure() {
	if h.engine == nil {
		h.engine = New(h.sampleRate)
		h.scheduler = NewScheduler(h.engine)
	}
}

func (h *Handle) Engine() *Engine {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensure()
	return h.engine
}

func (h *Handle) Scheduler() *Scheduler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ensure()
	return h.scheduler
}

// Dispose stops playback and tears down the engine. The next call to Engine
// or Scheduler builds a fresh one.
func (h *Handle) Dispose() {
	h.mu.Lock()
	e, s := h.engine, h.scheduler
	h.engine, h.scheduler = nil, nil
	h.mu.Unlock()

	if s != nil {
		s.Stop()
	}
	if e != nil {
		e.Dispose()
	}
}
