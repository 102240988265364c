package stream

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/logger"
	"gopkg.in/hraban/opus.v2"
)

// opusPacketSize bounds one encoded 20ms frame.
const opusPacketSize = 4000

// WebRTCHandler negotiates low-latency Opus monitor sessions over a single
// SDP offer/answer POST.
type WebRTCHandler struct {
	broadcaster *Broadcaster
	bitrate     int

	mu    sync.Mutex
	peers map[*webrtc.PeerConnection]chan struct{}
}

// NewWebRTCHandler creates an Opus monitor handler. A non-positive bitrate
// uses 128 kbit/s.
func NewWebRTCHandler(b *Broadcaster, bitrate int) *WebRTCHandler {
	if bitrate <= 0 {
		bitrate = 128000
	}
	return &WebRTCHandler{
		broadcaster: b,
		bitrate:     bitrate,
		peers:       make(map[*webrtc.PeerConnection]chan struct{}),
	}
}

func (h *WebRTCHandler) PeerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

func (h *WebRTCHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "POST required", http.StatusMethodNotAllowed)
		return
	}

	var offer webrtc.SessionDescription
	if err := json.NewDecoder(r.Body).Decode(&offer); err != nil || offer.Type != webrtc.SDPTypeOffer {
		http.Error(w, "invalid SDP offer", http.StatusBadRequest)
		return
	}

	pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
	if err != nil {
		http.Error(w, "create peer connection failed", http.StatusInternalServerError)
		return
	}
	fail := func(msg string, code int, err error) {
		logger.Warn("Monitor WebRTC negotiation failed", logger.String("step", msg), logger.ErrorField(err))
		pc.Close()
		http.Error(w, msg, code)
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: audio.SampleRate, Channels: audio.Channels},
		"master",
		"layerdaw-monitor",
	)
	if err != nil {
		fail("create audio track failed", http.StatusInternalServerError, err)
		return
	}
	if _, err := pc.AddTrack(track); err != nil {
		fail("add track failed", http.StatusInternalServerError, err)
		return
	}
	if err := pc.SetRemoteDescription(offer); err != nil {
		fail("set remote description failed", http.StatusBadRequest, err)
		return
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		fail("create answer failed", http.StatusInternalServerError, err)
		return
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		fail("set local description failed", http.StatusInternalServerError, err)
		return
	}

	<-webrtc.GatheringCompletePromise(pc)

	done := make(chan struct{})
	h.mu.Lock()
	h.peers[pc] = done
	h.mu.Unlock()
	logger.Info("Monitor WebRTC peer connected", logger.Int("peers", h.PeerCount()))

	go h.streamToPeer(track, done)

	pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		switch s {
		case webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed,
			webrtc.PeerConnectionStateDisconnected:
			if h.removePeer(pc) {
				pc.Close()
				logger.Info("Monitor WebRTC peer disconnected", logger.Int("peers", h.PeerCount()))
			}
		}
	})

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	_ = json.NewEncoder(w).Encode(pc.LocalDescription())
}

// streamToPeer encodes monitor frames onto track until done is closed.
func (h *WebRTCHandler) streamToPeer(track *webrtc.TrackLocalStaticSample, done <-chan struct{}) {
	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	enc, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppAudio)
	if err != nil {
		logger.Error("Opus encoder init failed", logger.ErrorField(err))
		return
	}
	if err := enc.SetBitrate(h.bitrate); err != nil {
		logger.Warn("Opus bitrate rejected", logger.Int("bitrate", h.bitrate), logger.ErrorField(err))
	}

	packet := make([]byte, opusPacketSize)
	for {
		select {
		case <-done:
			return
		case <-listener.Done():
			return
		case frame := <-listener.C:
			if len(frame) != audio.FrameSamples {
				continue
			}
			n, err := enc.Encode(frame, packet)
			if err != nil {
				logger.Warn("Opus encode failed", logger.ErrorField(err))
				continue
			}
			if err := track.WriteSample(media.Sample{Data: packet[:n], Duration: audio.FrameDuration}); err != nil {
				return
			}
		}
	}
}

// removePeer reports whether pc was still registered and stops its
// stream if so.
func (h *WebRTCHandler) removePeer(pc *webrtc.PeerConnection) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	done, ok := h.peers[pc]
	if !ok {
		return false
	}
	delete(h.peers, pc)
	close(done)
	return true
}

// Close hangs up every peer.
func (h *WebRTCHandler) Close() {
	h.mu.Lock()
	peers := make([]*webrtc.PeerConnection, 0, len(h.peers))
	for pc, done := range h.peers {
		close(done)
		peers = append(peers, pc)
	}
	h.peers = make(map[*webrtc.PeerConnection]chan struct{})
	h.mu.Unlock()
	for _, pc := range peers {
		pc.Close()
	}
}
