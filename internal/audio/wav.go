package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ErrUnsupportedFormat is returned for bytes no decoder recognises.
var ErrUnsupportedFormat = errors.New("unsupported audio format")

// EncodeWAV renders b as a 16-bit PCM WAV with a canonical 44-byte header.
// Samples are clamped to [-1, 1]; negative values scale by 32768 and positive
// values by 32767.
func EncodeWAV(b *Buffer) ([]byte, error) {
	nch := b.NumChannels()
	if nch == 0 {
		return nil, fmt.Errorf("encode wav: buffer has no channels")
	}
	frames := b.Len()

	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, b.SampleRate, BitDepth, nch, 1)

	intBuf := &goaudio.IntBuffer{
		Format: &goaudio.Format{
			NumChannels: nch,
			SampleRate:  b.SampleRate,
		},
		Data:           make([]int, frames*nch),
		SourceBitDepth: BitDepth,
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			intBuf.Data[i*nch+c] = quantize16(b.Channels[c][i])
		}
	}

	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode wav: %w", err)
	}
	return ws.Bytes(), nil
}

// DecodeWAV decodes an integer PCM WAV into a float buffer.
func DecodeWAV(data []byte) (*Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("decode wav: %w", ErrUnsupportedFormat)
	}
	pcm, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode wav: %w", err)
	}

	nch := int(dec.NumChans)
	if nch == 0 {
		return nil, fmt.Errorf("decode wav: no channels")
	}
	depth := int(dec.BitDepth)
	frames := len(pcm.Data) / nch
	out := NewBuffer(nch, frames, int(dec.SampleRate))

	for i := 0; i < frames; i++ {
		for c := 0; c < nch; c++ {
			out.Channels[c][i] = dequantize(pcm.Data[i*nch+c], depth)
		}
	}
	return out, nil
}

func quantize16(v float32) int {
	s := float64(v)
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	if s < 0 {
		return int(s * 32768)
	}
	return int(s * 32767)
}

func dequantize(s, depth int) float32 {
	if depth == 8 {
		// 8-bit WAV is unsigned
		return float32(s-128) / 128
	}
	full := float64(int64(1) << uint(depth-1))
	if s < 0 {
		return float32(float64(s) / full)
	}
	return float32(float64(s) / (full - 1))
}

// memWriteSeeker is an in-memory io.WriteSeeker; the WAV encoder seeks back
// to patch chunk sizes once the sample count is known.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	end := m.pos + len(p)
	if end > len(m.buf) {
		if end > cap(m.buf) {
			grown := make([]byte, end, 2*end)
			copy(grown, m.buf)
			m.buf = grown
		} else {
			m.buf = m.buf[:end]
		}
	}
	copy(m.buf[m.pos:], p)
	m.pos = end
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = int64(m.pos) + offset
	case io.SeekEnd:
		abs = int64(len(m.buf)) + offset
	default:
		return 0, fmt.Errorf("seek: invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("seek: negative position")
	}
	m.pos = int(abs)
	return abs, nil
}

func (m *memWriteSeeker) Bytes() []byte {
	return m.buf
}
