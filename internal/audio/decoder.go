package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"

	"github.com/hajimehoshi/go-mp3"
)

// Decode turns an encoded audio blob into a float buffer. WAV and MP3 are
// decoded in process; anything else is handed to FFmpeg.
func Decode(data []byte) (*Buffer, error) {
	switch {
	case len(data) == 0:
		return nil, fmt.Errorf("decode: empty input: %w", ErrUnsupportedFormat)
	case isWAV(data):
		return DecodeWAV(data)
	case isMP3(data):
		return DecodeMP3(data)
	default:
		return DecodeWithFFmpeg(data)
	}
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[0:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// DecodeMP3 decodes MP3 bytes. The decoder always yields 16-bit stereo.
func DecodeMP3(data []byte) (*Buffer, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}
	return pcm16ToBuffer(pcm, 2, dec.SampleRate()), nil
}

// DecodeWithFFmpeg runs FFmpeg to decode any container it understands to
// 48kHz stereo PCM.
func DecodeWithFFmpeg(data []byte) (*Buffer, error) {
	cmd := exec.Command("ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-acodec", "pcm_s16le",
		"-ar", "48000",
		"-ac", "2",
		"-loglevel", "error",
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg decode: %w", err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("ffmpeg decode: no samples: %w", ErrUnsupportedFormat)
	}
	return pcm16ToBuffer(out, Channels, SampleRate), nil
}

func pcm16ToBuffer(pcm []byte, nch, sampleRate int) *Buffer {
	frames := len(pcm) / (2 * nch)
	b := NewBuffer(nch, frames, sampleRate)
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			off := (i*nch + c) * 2
			s := int(int16(binary.LittleEndian.Uint16(pcm[off : off+2])))
			b.Channels[c][i] = dequantize(s, 16)
		}
	}
	return b
}

// SamplesToBytes converts int16 samples to little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
