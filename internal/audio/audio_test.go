package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"testing"
	"time"
)

// --- Constants ---

func TestConstants(t *testing.T) {
	// 48kHz * 20ms = 960 samples per channel
	if got := SampleRate * int(FrameDuration/time.Millisecond) / 1000; got != FrameSize {
		t.Errorf("FrameSize mismatch: want %d, got %d", got, FrameSize)
	}
	if FrameSamples != FrameSize*Channels {
		t.Errorf("FrameSamples = %d, want %d", FrameSamples, FrameSize*Channels)
	}
	if FrameBytes != FrameSamples*2 {
		t.Errorf("FrameBytes = %d, want %d", FrameBytes, FrameSamples*2)
	}
}

// --- Buffer ---

func TestBufferBasics(t *testing.T) {
	b := NewBuffer(2, 4800, 48000)
	if b.NumChannels() != 2 {
		t.Errorf("NumChannels = %d, want 2", b.NumChannels())
	}
	if b.Len() != 4800 {
		t.Errorf("Len = %d, want 4800", b.Len())
	}
	if d := b.Duration(); math.Abs(d-0.1) > 1e-9 {
		t.Errorf("Duration = %v, want 0.1", d)
	}

	var nilBuf *Buffer
	if nilBuf.Len() != 0 || nilBuf.NumChannels() != 0 || nilBuf.Duration() != 0 {
		t.Error("nil buffer should report zero length, channels and duration")
	}
}

func TestBufferChannelUpmix(t *testing.T) {
	mono := NewBuffer(1, 3, 48000)
	mono.Channels[0][1] = 0.5
	if got := mono.Channel(1)[1]; got != 0.5 {
		t.Errorf("Channel(1) of mono buffer = %v, want the mono channel", got)
	}
}

func TestBufferCloneIsDeep(t *testing.T) {
	b := NewBuffer(2, 2, 48000)
	c := b.Clone()
	c.Channels[0][0] = 1
	if b.Channels[0][0] != 0 {
		t.Error("Clone shares sample memory with the original")
	}
}

func TestInterleaveClips(t *testing.T) {
	out := Interleave([][]float32{{2, -2}, {0.5, 0}}, 2)
	want := []int16{32767, 16383, -32768, 0}
	for i, v := range want {
		if out[i] != v {
			t.Errorf("Interleave[%d] = %d, want %d", i, out[i], v)
		}
	}
}

// --- Smoothstep ---

func TestSmoothstepBoundaries(t *testing.T) {
	tests := []struct {
		input float64
		want  float64
	}{
		{-0.5, 0},
		{0, 0},
		{0.5, 0.5},
		{1, 1},
		{1.5, 1},
	}
	for _, tt := range tests {
		got := Smoothstep(tt.input)
		if got != tt.want {
			t.Errorf("Smoothstep(%v) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSmoothstepMonotonic(t *testing.T) {
	prev := 0.0
	for i := 1; i <= 100; i++ {
		x := float64(i) / 100.0
		val := Smoothstep(x)
		if val < prev {
			t.Errorf("Smoothstep not monotonic: f(%v)=%v < f(%v)=%v", x, val, float64(i-1)/100.0, prev)
		}
		prev = val
	}
}

// --- GainRamp ---

func TestGainRampSettlesOnTarget(t *testing.T) {
	g := NewGainRamp(10, 1)
	g.Set(0)
	if g.Target() != 0 {
		t.Errorf("Target = %v, want 0", g.Target())
	}
	prev := 1.0
	for i := 0; i < 10; i++ {
		v := g.Next()
		if v > prev {
			t.Errorf("ramp down not monotonic at step %d: %v > %v", i, v, prev)
		}
		prev = v
	}
	if v := g.Next(); v != 0 {
		t.Errorf("ramp did not settle: %v", v)
	}
}

func TestGainRampApply(t *testing.T) {
	g := NewGainRamp(4, 0.5)
	chans := [][]float32{{1, 1}, {-1, -1}}
	g.Apply(chans, 2)
	if chans[0][0] != 0.5 || chans[1][1] != -0.5 {
		t.Errorf("settled ramp should scale by 0.5, got %v", chans)
	}
}

// --- WAV ---

func TestWAVHeaderCanonical(t *testing.T) {
	b := NewBuffer(2, 100, 48000)
	data, err := EncodeWAV(b)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if len(data) != 44+100*2*2 {
		t.Fatalf("WAV length = %d, want %d", len(data), 44+400)
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" || string(data[36:40]) != "data" {
		t.Errorf("unexpected chunk ids: %q %q %q", data[0:4], data[8:12], data[36:40])
	}
	if got := binary.LittleEndian.Uint32(data[4:8]); got != uint32(len(data)-8) {
		t.Errorf("RIFF size = %d, want %d", got, len(data)-8)
	}
	if got := binary.LittleEndian.Uint32(data[40:44]); got != 400 {
		t.Errorf("data size = %d, want 400", got)
	}
	if got := binary.LittleEndian.Uint16(data[34:36]); got != 16 {
		t.Errorf("bits per sample = %d, want 16", got)
	}
}

func TestWAVRoundTrip(t *testing.T) {
	const n = 4800
	b := NewBuffer(2, n, 48000)
	for i := 0; i < n; i++ {
		v := float32(math.Sin(2 * math.Pi * 440 * float64(i) / 48000))
		b.Channels[0][i] = v
		b.Channels[1][i] = -v * 0.5
	}

	data, err := EncodeWAV(b)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	got, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}

	if got.SampleRate != 48000 || got.NumChannels() != 2 {
		t.Fatalf("decoded format = %d Hz / %d ch, want 48000 / 2", got.SampleRate, got.NumChannels())
	}
	if d := got.Len() - n; d < -1 || d > 1 {
		t.Fatalf("decoded length = %d, want %d (+-1)", got.Len(), n)
	}
	step := 1.0/32767 + 1e-6
	for c := 0; c < 2; c++ {
		for i := 0; i < n; i++ {
			if diff := math.Abs(float64(got.Channels[c][i] - b.Channels[c][i])); diff > step {
				t.Fatalf("ch%d[%d]: error %v exceeds one quantization step", c, i, diff)
			}
		}
	}
}

func TestWAVClampsOutOfRange(t *testing.T) {
	b := NewBuffer(1, 2, 48000)
	b.Channels[0][0] = 1.7
	b.Channels[0][1] = -3
	data, err := EncodeWAV(b)
	if err != nil {
		t.Fatalf("EncodeWAV: %v", err)
	}
	if s := int16(binary.LittleEndian.Uint16(data[44:46])); s != 32767 {
		t.Errorf("positive overflow encoded as %d, want 32767", s)
	}
	if s := int16(binary.LittleEndian.Uint16(data[46:48])); s != -32768 {
		t.Errorf("negative overflow encoded as %d, want -32768", s)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := DecodeWAV([]byte("not a wav file at all")); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("DecodeWAV(garbage) err = %v, want ErrUnsupportedFormat", err)
	}
	if _, err := Decode(nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("Decode(nil) err = %v, want ErrUnsupportedFormat", err)
	}
}

func TestDecodeSniffsWAV(t *testing.T) {
	data, err := SilenceWAV(0.5)
	if err != nil {
		t.Fatalf("SilenceWAV: %v", err)
	}
	b, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if b.Len() != 24000 {
		t.Errorf("silence length = %d, want 24000", b.Len())
	}
}

// --- Silence / peaks ---

func TestSilenceLength(t *testing.T) {
	b := Silence(30)
	if b.Len() != 30*SampleRate || b.NumChannels() != Channels {
		t.Errorf("Silence(30) = %d frames x %d ch", b.Len(), b.NumChannels())
	}
}

func TestComputePeaks(t *testing.T) {
	b := NewBuffer(1, 10, 48000)
	b.Channels[0][2] = -0.8
	b.Channels[0][7] = 0.3
	peaks := ComputePeaks(b, 2)
	if len(peaks) != 2 || peaks[0] != 0.8 || peaks[1] != 0.3 {
		t.Errorf("ComputePeaks = %v, want [0.8 0.3]", peaks)
	}
	short := ComputePeaks(NewBuffer(1, 3, 48000), 200)
	if len(short) != 200 {
		t.Errorf("short buffer peaks len = %d, want 200", len(short))
	}
}

// --- Resample ---

func TestResampleLength(t *testing.T) {
	b := NewBuffer(2, 44100, 44100)
	out := Resample(b, 48000)
	if out.SampleRate != 48000 {
		t.Errorf("SampleRate = %d, want 48000", out.SampleRate)
	}
	if out.Len() != 48000 {
		t.Errorf("Len = %d, want 48000", out.Len())
	}
	if same := Resample(b, 44100); same != b {
		t.Error("Resample to the same rate should return the input")
	}
}

// --- SamplesToBytes ---

func TestSamplesToBytes(t *testing.T) {
	samples := []int16{0, 1, -1, 32767, -32768, 256}
	buf := SamplesToBytes(samples)
	if len(buf) != len(samples)*2 {
		t.Fatalf("SamplesToBytes length = %d, want %d", len(buf), len(samples)*2)
	}

	// 256 = 0x0100 -> bytes [0x00, 0x01]
	idx := 5 * 2
	if buf[idx] != 0x00 || buf[idx+1] != 0x01 {
		t.Errorf("Sample 256 encoded as [%02x, %02x], want [00, 01]", buf[idx], buf[idx+1])
	}
}
