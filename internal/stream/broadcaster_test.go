package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/engine"
)

func TestNewBroadcaster(t *testing.T) {
	b := NewBroadcaster()
	if b == nil {
		t.Fatal("NewBroadcaster returned nil")
	}
	if b.ListenerCount() != 0 {
		t.Errorf("Initial ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroadcaster()

	l1 := b.Subscribe()
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 subscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	l2 := b.Subscribe()
	if b.ListenerCount() != 2 {
		t.Errorf("After 2 subscribes: ListenerCount = %d, want 2", b.ListenerCount())
	}

	b.Unsubscribe(l1)
	if b.ListenerCount() != 1 {
		t.Errorf("After 1 unsubscribe: ListenerCount = %d, want 1", b.ListenerCount())
	}

	b.Unsubscribe(l2)
	if b.ListenerCount() != 0 {
		t.Errorf("After all unsubscribed: ListenerCount = %d, want 0", b.ListenerCount())
	}
}

func TestBroadcastDelivers(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	// Send a frame
	frame := []int16{100, 200, 300, 400}
	source <- frame

	// Listener should receive it
	select {
	case got := <-l.C:
		if len(got) != len(frame) {
			t.Errorf("Received frame length %d, want %d", len(got), len(frame))
		}
		for i, v := range got {
			if v != frame[i] {
				t.Errorf("Frame[%d] = %d, want %d", i, v, frame[i])
			}
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for frame")
	}

	cancel()
	b.Unsubscribe(l)
}

func TestBroadcastMultipleListeners(t *testing.T) {
	b := NewBroadcaster()
	listeners := make([]*Listener, 5)
	for i := range listeners {
		listeners[i] = b.Subscribe()
	}

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	go b.Run(ctx, source)

	frame := []int16{42, -42}
	source <- frame

	// All listeners should get the frame
	for i, l := range listeners {
		select {
		case got := <-l.C:
			if got[0] != 42 {
				t.Errorf("Listener %d got frame[0]=%d, want 42", i, got[0])
			}
		case <-time.After(time.Second):
			t.Errorf("Listener %d timed out", i)
		}
	}

	cancel()
	for _, l := range listeners {
		b.Unsubscribe(l)
	}
}

func TestBroadcastDropsSlowListener(t *testing.T) {
	b := NewBroadcaster()
	slow := b.Subscribe()
	fast := b.Subscribe()

	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 200)

	go b.Run(ctx, source)

	// Overfill the slow listener's buffer without reading
	for i := 0; i < 200; i++ {
		source <- []int16{int16(i)}
	}

	// Give broadcaster time to process
	time.Sleep(100 * time.Millisecond)

	// Fast listener should have frames (we drain them)
	fastCount := 0
	for {
		select {
		case <-fast.C:
			fastCount++
		default:
			goto done
		}
	}
done:

	// Slow listener holds at most its buffer, the rest is dropped
	slowCount := 0
	for {
		select {
		case <-slow.C:
			slowCount++
		default:
			goto countDone
		}
	}
countDone:

	if slowCount > ListenerBuffer {
		t.Errorf("Slow listener got %d frames, should cap at buffer size %d", slowCount, ListenerBuffer)
	}
	if got := slow.Dropped(); got != int64(200-slowCount) {
		t.Errorf("Slow listener dropped %d, want %d", got, 200-slowCount)
	}
	if got := b.Delivered(); got != 200 {
		t.Errorf("Delivered = %d, want 200", got)
	}
	if fastCount == 0 {
		t.Error("Fast listener got 0 frames")
	}

	cancel()
	b.Unsubscribe(slow)
	b.Unsubscribe(fast)
}

func TestBroadcastStopsOnContextCancel(t *testing.T) {
	b := NewBroadcaster()
	ctx, cancel := context.WithCancel(context.Background())
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	cancel()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after context cancel")
	}
}

func TestBroadcastStopsOnSourceClose(t *testing.T) {
	b := NewBroadcaster()
	ctx := context.Background()
	source := make(chan []int16, 10)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		b.Run(ctx, source)
	}()

	close(source)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		// good
	case <-time.After(2 * time.Second):
		t.Fatal("Broadcaster did not stop after source closed")
	}
}

func TestListenerDoneChannel(t *testing.T) {
	b := NewBroadcaster()
	l := b.Subscribe()

	b.Unsubscribe(l)

	select {
	case <-l.Done():
	default:
		t.Error("Listener done channel not closed after unsubscribe")
	}

	// A second unsubscribe must not panic on the closed channel.
	b.Unsubscribe(l)
}

// --- Engine feed ---

func TestBroadcastEngineFrames(t *testing.T) {
	e := engine.New(audio.SampleRate)
	b := NewBroadcaster()
	l := b.Subscribe()
	defer b.Unsubscribe(l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go e.Run(ctx)
	go b.Run(ctx, e.Frames())

	select {
	case frame := <-l.C:
		if len(frame) != audio.FrameSamples {
			t.Errorf("frame length = %d, want %d", len(frame), audio.FrameSamples)
		}
		for i, v := range frame {
			if v != 0 {
				t.Fatalf("idle engine frame[%d] = %d, want silence", i, v)
			}
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no frame from the engine")
	}
}

// --- Handlers ---

func TestHTTPEncoderArgs(t *testing.T) {
	h := NewHTTPHandler(NewBroadcaster(), "")
	args := strings.Join(h.encoderArgs(), " ")
	for _, want := range []string{"-ar 48000", "-ac 2", "-b:a 192k", "-f s16le"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}

	h = NewHTTPHandler(NewBroadcaster(), "320k")
	if !strings.Contains(strings.Join(h.encoderArgs(), " "), "-b:a 320k") {
		t.Error("custom bitrate not applied")
	}
}

func TestWebRTCRejectsBadRequests(t *testing.T) {
	h := NewWebRTCHandler(NewBroadcaster(), 0)
	if h.bitrate != 128000 {
		t.Errorf("default bitrate = %d, want 128000", h.bitrate)
	}

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"preflight", http.MethodOptions, "", http.StatusOK},
		{"get", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"garbage", http.MethodPost, "{not json", http.StatusBadRequest},
		{"answer instead of offer", http.MethodPost, `{"type":"answer","sdp":""}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(tt.method, "/monitor/webrtc", strings.NewReader(tt.body))
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
	if h.PeerCount() != 0 {
		t.Errorf("peers = %d, want 0", h.PeerCount())
	}
}
