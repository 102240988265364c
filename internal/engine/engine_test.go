package engine

import (
	"errors"
	"math"
	"testing"

	"github.com/satindergrewal/layerdaw/internal/audio"
)

const sr = audio.SampleRate

func constBuffer(seconds float64, v float32) *audio.Buffer {
	b := audio.NewBuffer(2, int(seconds*sr), sr)
	for _, ch := range b.Channels {
		for i := range ch {
			ch[i] = v
		}
	}
	return b
}

// rampBuffer holds i/len at sample i so reads reveal their position.
func rampBuffer(seconds float64) *audio.Buffer {
	n := int(seconds * sr)
	b := audio.NewBuffer(2, n, sr)
	for _, ch := range b.Channels {
		for i := range ch {
			ch[i] = float32(i) / float32(n)
		}
	}
	return b
}

func near(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol
}

// --- TrackChannel ---

func TestChannelDefaults(t *testing.T) {
	e := New(sr)
	ch, err := e.Channel("t1")
	if err != nil {
		t.Fatal(err)
	}
	if ch.EffectiveGain() != 0.8 {
		t.Errorf("default gain = %v, want 0.8", ch.EffectiveGain())
	}
	again, _ := e.Channel("t1")
	if again != ch {
		t.Error("Channel should return the same channel for a track")
	}
}

func TestChannelVolumeClamp(t *testing.T) {
	ch := newTrackChannel("t", sr)
	ch.SetVolume(1.7)
	if ch.EffectiveGain() != 1 {
		t.Errorf("gain = %v, want 1", ch.EffectiveGain())
	}
	ch.SetVolume(-2)
	if ch.EffectiveGain() != 0 {
		t.Errorf("gain = %v, want 0", ch.EffectiveGain())
	}
}

func TestChannelGainResolution(t *testing.T) {
	tests := []struct {
		name                      string
		muted, soloed, soloActive bool
		want                      float64
	}{
		{"plain", false, false, false, 0.5},
		{"muted", true, false, false, 0},
		{"other soloed", false, false, true, 0},
		{"self soloed", false, true, true, 0.5},
		{"muted beats solo", true, true, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch := newTrackChannel("t", sr)
			ch.SetVolume(0.5)
			ch.SetMuted(tt.muted)
			ch.SetSoloed(tt.soloed)
			ch.SetSoloActive(tt.soloActive)
			if got := ch.EffectiveGain(); got != tt.want {
				t.Errorf("EffectiveGain = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestChannelDisposeIgnoresSetters(t *testing.T) {
	ch := newTrackChannel("t", sr)
	ch.Dispose()
	ch.SetVolume(0.1)
	ch.SetMuted(true)
	if ch.Volume() != 0.8 || ch.Muted() {
		t.Error("setters should be ignored after Dispose")
	}
	if !ch.Disposed() {
		t.Error("Disposed = false")
	}
}

// --- Meter ---

func TestPeakLevelIsPostGain(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 1, Buffer: constBuffer(1, 0.5)}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	e.Render(1024)

	ch, _ := e.Channel("t")
	if got := ch.PeakLevel(); !near(float64(got), 0.4, 1e-5) {
		t.Errorf("PeakLevel = %v, want 0.4", got)
	}
	// reading twice has no side effects
	if got := ch.PeakLevel(); !near(float64(got), 0.4, 1e-5) {
		t.Errorf("second PeakLevel = %v, want 0.4", got)
	}
	if got := e.MasterPeak(); !near(float64(got), 0.4, 1e-5) {
		t.Errorf("MasterPeak = %v, want 0.4", got)
	}
}

func TestPeakLevelCapped(t *testing.T) {
	var m Meter
	m.Write([][]float32{{0.2, -3}, {0.1, 0.1}}, 2)
	if got := m.Peak(); got != 1 {
		t.Errorf("Peak = %v, want 1", got)
	}
}

func TestMeterWindowForgets(t *testing.T) {
	var m Meter
	m.Write([][]float32{{0.9}}, 1)
	quiet := make([]float32, MeterWindow)
	m.Write([][]float32{quiet}, MeterWindow)
	if got := m.Peak(); got != 0 {
		t.Errorf("Peak = %v, want 0 after a full quiet window", got)
	}
}

// --- Engine clock and rendering ---

func TestClockAdvancesWithoutSources(t *testing.T) {
	e := New(sr)
	e.Render(480)
	e.Render(480)
	if e.Position() != 960 {
		t.Errorf("Position = %d, want 960", e.Position())
	}
	if !near(e.Now(), 0.02, 1e-12) {
		t.Errorf("Now = %v, want 0.02", e.Now())
	}
}

func TestFutureClipStartsAfterDelay(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0.01, Duration: 1, Buffer: constBuffer(1, 0.5)}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	out := e.Render(960)
	if out[0][479] != 0 {
		t.Errorf("sample before start = %v, want 0", out[0][479])
	}
	if !near(float64(out[0][480]), 0.4, 1e-6) {
		t.Errorf("first played sample = %v, want 0.4", out[0][480])
	}
}

func TestInProgressClipSeeks(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	buf := rampBuffer(2)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 1, Duration: 2, AudioOffset: 0, Buffer: buf}}
	if err := s.SchedulePlayback(clips, 1.5, 30); err != nil {
		t.Fatal(err)
	}
	out := e.Render(1)
	want := 0.8 * float64(buf.Channels[0][sr/2])
	if !near(float64(out[0][0]), want, 1e-6) {
		t.Errorf("first sample = %v, want %v (read from 0.5s into the buffer)", out[0][0], want)
	}
}

func TestAudioOffsetShiftsRead(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	buf := rampBuffer(2)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 1, AudioOffset: 0.25, Buffer: buf}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	out := e.Render(1)
	want := 0.8 * float64(buf.Channels[0][sr/4])
	if !near(float64(out[0][0]), want, 1e-6) {
		t.Errorf("first sample = %v, want %v", out[0][0], want)
	}
}

func TestSourceStopsAfterDuration(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 0.01, Buffer: constBuffer(1, 0.5)}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	out := e.Render(960)
	if out[0][479] == 0 {
		t.Error("last sample inside the clip is silent")
	}
	if out[0][480] != 0 {
		t.Errorf("sample after clip end = %v, want 0", out[0][480])
	}
	if e.SourceCount() != 0 {
		t.Errorf("SourceCount = %d, want 0 after the clip finished", e.SourceCount())
	}
}

func TestResampledSource(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	buf := audio.NewBuffer(1, 24000, 24000)
	for i := range buf.Channels[0] {
		buf.Channels[0][i] = 0.5
	}
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 1, Buffer: buf}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	out := e.Render(sr)
	mid := out[1][sr/2]
	if !near(float64(mid), 0.4, 0.01) {
		t.Errorf("mid sample right channel = %v, want ~0.4", mid)
	}
}

func TestRemoveChannelSilencesTrack(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	clips := []ClipSchedule{{ClipID: "c", TrackID: "t", StartTime: 0, Duration: 1, Buffer: constBuffer(1, 0.5)}}
	if err := s.SchedulePlayback(clips, 0, 30); err != nil {
		t.Fatal(err)
	}
	ch, _ := e.Channel("t")
	if err := e.RemoveChannel("t"); err != nil {
		t.Fatal(err)
	}
	if !ch.Disposed() {
		t.Error("channel not disposed")
	}
	out := e.Render(100)
	if out[0][50] != 0 {
		t.Errorf("removed channel still audible: %v", out[0][50])
	}
	if len(e.Channels()) != 0 {
		t.Errorf("Channels = %d, want 0", len(e.Channels()))
	}
}

func TestMasterGain(t *testing.T) {
	e := New(sr)
	e.SetMasterGain(2)
	if e.MasterGain() != 1 {
		t.Errorf("MasterGain = %v, want 1", e.MasterGain())
	}
	e.SetMasterGain(0.5)
	if e.MasterGain() != 0.5 {
		t.Errorf("MasterGain = %v, want 0.5", e.MasterGain())
	}
}

// --- Disposal ---

func TestDisposedEngine(t *testing.T) {
	e := New(sr)
	s := NewScheduler(e)
	e.Dispose()
	e.Dispose()

	if _, err := e.Channel("t"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Channel err = %v, want ErrEngineClosed", err)
	}
	if err := s.SchedulePlayback(nil, 0, 30); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("SchedulePlayback err = %v, want ErrEngineClosed", err)
	}
	if err := s.UpdateSoloState(); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("UpdateSoloState err = %v, want ErrEngineClosed", err)
	}
	e.Render(100)
	if e.Position() != 0 {
		t.Errorf("disposed engine advanced its clock to %d", e.Position())
	}
}

func TestHandleLazyAndDispose(t *testing.T) {
	h := NewHandle(sr)
	e1 := h.Engine()
	if h.Engine() != e1 {
		t.Error("Handle should return the same engine")
	}
	if h.Scheduler().Engine() != e1 {
		t.Error("scheduler should drive the handle's engine")
	}
	h.Dispose()
	if !e1.Closed() {
		t.Error("engine not disposed")
	}
	if h.Engine() == e1 {
		t.Error("Handle should build a new engine after Dispose")
	}
}
