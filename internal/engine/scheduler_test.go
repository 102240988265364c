package engine

import (
	"testing"
)

func TestPastClipsNeverScheduled(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{
		{ClipID: "past", TrackID: "t", StartTime: 0, Duration: 5, Buffer: constBuffer(5, 0.5)},
		{ClipID: "edge", TrackID: "t", StartTime: 5, Duration: 5, Buffer: constBuffer(5, 0.5)},
		{ClipID: "live", TrackID: "t", StartTime: 8, Duration: 5, Buffer: constBuffer(5, 0.5)},
	}
	if err := s.SchedulePlayback(clips, 10, 30); err != nil {
		t.Fatal(err)
	}
	if got := e.SourceCount(); got != 1 {
		t.Errorf("SourceCount = %d, want 1", got)
	}
}

func TestMissingBufferSkipped(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{
		{ClipID: "a", TrackID: "t", StartTime: 0, Duration: 1, Buffer: nil},
		{ClipID: "b", TrackID: "t", StartTime: 0, Duration: 1, Buffer: constBuffer(1, 0.5)},
	}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatalf("SchedulePlayback: %v", err)
	}
	if got := e.SourceCount(); got != 1 {
		t.Errorf("SourceCount = %d, want 1", got)
	}
}

func TestEmptyScheduleStillAdvances(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	if err := s.SchedulePlayback(nil, 2, 30); err != nil {
		t.Fatal(err)
	}
	if !s.Playing() {
		t.Fatal("Playing = false")
	}
	if s.CurrentTime() != 2 {
		t.Errorf("CurrentTime = %v, want 2", s.CurrentTime())
	}
	e.Render(sr / 10)
	if !near(s.CurrentTime(), 2.1, 1e-9) {
		t.Errorf("CurrentTime = %v, want 2.1", s.CurrentTime())
	}
}

func TestCurrentTimeMonotonic(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	if err := s.SchedulePlayback(nil, 0, 30); err != nil {
		t.Fatal(err)
	}
	prev := s.CurrentTime()
	for i := 0; i < 50; i++ {
		e.Render(960)
		now := s.CurrentTime()
		if now < prev {
			t.Fatalf("time went backwards: %v -> %v", prev, now)
		}
		prev = now
	}
}

func TestStopKeepsOffset(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	if err := s.SchedulePlayback([]ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 10, Buffer: constBuffer(10, 0.5)}}, 3, 30); err != nil {
		t.Fatal(err)
	}
	e.Render(sr)
	s.Stop()
	if s.Playing() {
		t.Error("Playing = true after Stop")
	}
	if s.CurrentTime() != 3 {
		t.Errorf("CurrentTime = %v, want 3", s.CurrentTime())
	}
	if e.SourceCount() != 0 {
		t.Errorf("SourceCount = %d after Stop", e.SourceCount())
	}
	// a second stop is a no-op
	s.Stop()
	s.StopAllSources()
	if s.CurrentTime() != 3 {
		t.Errorf("CurrentTime = %v after double stop, want 3", s.CurrentTime())
	}
}

func TestRescheduleReplacesSources(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 10, Buffer: constBuffer(10, 0.5)}}
	for i := 0; i < 3; i++ {
		if err := s.SchedulePlayback(clips, float64(i), 30); err != nil {
			t.Fatal(err)
		}
	}
	if got := e.SourceCount(); got != 1 {
		t.Errorf("SourceCount = %d, want 1", got)
	}
	out := e.Render(10)
	if !near(float64(out[0][5]), 0.4, 1e-6) {
		t.Errorf("sample = %v, want 0.4 (no stacked sources)", out[0][5])
	}
}

func TestSetPosition(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	s.SetPosition(7.5)
	if s.CurrentTime() != 7.5 {
		t.Errorf("CurrentTime = %v, want 7.5", s.CurrentTime())
	}
	s.SetPosition(-1)
	if s.CurrentTime() != 0 {
		t.Errorf("CurrentTime = %v, want 0", s.CurrentTime())
	}
}

// --- Time-update loop ---

func TestTickReportsTime(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	var got []float64
	s.OnTimeUpdate(func(t float64) { got = append(got, t) })
	s.Tick() // not playing, nothing reported

	if err := s.SchedulePlayback(nil, 1, 30); err != nil {
		t.Fatal(err)
	}
	e.Render(sr / 2)
	s.Tick()
	if len(got) != 1 || !near(got[0], 1.5, 1e-9) {
		t.Errorf("time updates = %v, want [1.5]", got)
	}
}

func TestTickEndsPlayback(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	ended := 0
	updates := 0
	s.OnEnded(func() { ended++ })
	s.OnTimeUpdate(func(float64) { updates++ })

	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 1, Buffer: constBuffer(1, 0.5)}}
	if err := s.SchedulePlayback(clips, 0, 0.05); err != nil {
		t.Fatal(err)
	}
	e.Render(sr / 10)
	s.Tick()
	s.Tick()

	if ended != 1 {
		t.Errorf("ended called %d times, want 1", ended)
	}
	if updates != 0 {
		t.Errorf("time update called %d times past the end", updates)
	}
	if s.Playing() {
		t.Error("Playing = true after end")
	}
	if e.SourceCount() != 0 {
		t.Errorf("SourceCount = %d after end", e.SourceCount())
	}
}

func TestCallbackMayReenterScheduler(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	s.OnEnded(func() {
		// a loop handler restarts playback from inside the callback
		if err := s.SchedulePlayback(nil, 0, 0.05); err != nil {
			t.Errorf("reschedule: %v", err)
		}
	})
	if err := s.SchedulePlayback(nil, 0, 0.05); err != nil {
		t.Fatal(err)
	}
	e.Render(sr / 10)
	s.Tick()
	if !s.Playing() || s.CurrentTime() != 0 {
		t.Errorf("after loop restart: playing=%v time=%v", s.Playing(), s.CurrentTime())
	}
}

// --- Solo ---

func TestUpdateSoloState(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	a, _ := e.Channel("a")
	b, _ := e.Channel("b")

	b.SetSoloed(true)
	if err := s.UpdateSoloState(); err != nil {
		t.Fatal(err)
	}
	if a.EffectiveGain() != 0 {
		t.Errorf("unsoloed gain = %v, want 0", a.EffectiveGain())
	}
	if b.EffectiveGain() != 0.8 {
		t.Errorf("soloed gain = %v, want 0.8", b.EffectiveGain())
	}

	b.SetSoloed(false)
	if err := s.UpdateSoloState(); err != nil {
		t.Fatal(err)
	}
	if a.EffectiveGain() != 0.8 || b.EffectiveGain() != 0.8 {
		t.Errorf("gains after unsolo = %v, %v, want 0.8", a.EffectiveGain(), b.EffectiveGain())
	}
}
