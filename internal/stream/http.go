package stream

import (
	"context"
	"io"
	"net/http"
	"os/exec"
	"strconv"

	"github.com/satindergrewal/layerdaw/internal/audio"
	"github.com/satindergrewal/layerdaw/internal/logger"
)

// HTTPHandler serves the master bus as a chunked MP3 stream. Each
// connection runs its own FFmpeg encoder.
type HTTPHandler struct {
	broadcaster *Broadcaster
	bitrate     string
}

// NewHTTPHandler creates an MP3 monitor handler. An empty bitrate uses 192k.
func NewHTTPHandler(b *Broadcaster, bitrate string) *HTTPHandler {
	if bitrate == "" {
		bitrate = "192k"
	}
	return &HTTPHandler{broadcaster: b, bitrate: bitrate}
}

// encoderArgs are the FFmpeg arguments for raw engine PCM in, MP3 out.
func (h *HTTPHandler) encoderArgs() []string {
	return []string{
		"-f", "s16le",
		"-ar", strconv.Itoa(audio.SampleRate),
		"-ac", strconv.Itoa(audio.Channels),
		"-i", "pipe:0",
		"-codec:a", "libmp3lame",
		"-b:a", h.bitrate,
		"-f", "mp3",
		"-fflags", "nobuffer",
		"-flush_packets", "1",
		"-loglevel", "error",
		"pipe:1",
	}
}

func (h *HTTPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "no-cache, no-store")
	w.Header().Set("Connection", "close")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("ICY-Name", "layerdaw monitor")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	cmd := exec.CommandContext(ctx, "ffmpeg", h.encoderArgs()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		logger.Error("Monitor stream stdin pipe failed", logger.ErrorField(err))
		return
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		logger.Error("Monitor stream stdout pipe failed", logger.ErrorField(err))
		return
	}
	if err := cmd.Start(); err != nil {
		logger.Error("Monitor stream ffmpeg start failed", logger.ErrorField(err))
		return
	}

	listener := h.broadcaster.Subscribe()
	defer h.broadcaster.Unsubscribe(listener)

	logger.Info("Monitor listener connected",
		logger.String("remote", r.RemoteAddr),
		logger.Int("listeners", h.broadcaster.ListenerCount()))
	defer func() {
		logger.Info("Monitor listener disconnected",
			logger.String("remote", r.RemoteAddr),
			logger.Int64("dropped_frames", listener.Dropped()))
	}()

	go func() {
		defer stdin.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case <-listener.Done():
				return
			case frame := <-listener.C:
				if _, err := stdin.Write(audio.SamplesToBytes(frame)); err != nil {
					return
				}
			}
		}
	}()

	buf := make([]byte, 4096)
	for {
		n, err := stdout.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				break
			}
			flusher.Flush()
		}
		if err != nil {
			if err != io.EOF {
				logger.Warn("Monitor stream read failed", logger.ErrorField(err))
			}
			break
		}
	}

	cancel()
	_ = cmd.Wait()
}
