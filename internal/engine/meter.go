package engine

import (
	"math"
	"sync"
)

// MeterWindow is the number of sample frames a peak reading covers.
const MeterWindow = 256

// Meter holds the absolute peak of each of the last MeterWindow rendered
// frames.
type Meter struct {
	mu   sync.Mutex
	ring [MeterWindow]float32
	pos  int
}

// Write records the peak across channels for each of the first n frames.
func (m *Meter) Write(channels [][]float32, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// only the tail can survive in the ring
	start := 0
	if n > MeterWindow {
		start = n - MeterWindow
	}
	for i := start; i < n; i++ {
		var peak float32
		for _, ch := range channels {
			if v := float32(math.Abs(float64(ch[i]))); v > peak {
				peak = v
			}
		}
		m.ring[m.pos] = peak
		m.pos = (m.pos + 1) % MeterWindow
	}
}

// Peak returns the highest level in the window, capped at 1.
func (m *Meter) Peak() float32 {
	m.mu.Lock()
	defer m.mu.Unlock()

	var peak float32
	for _, v := range m.ring {
		if v > peak {
			peak = v
		}
	}
	if peak > 1 {
		return 1
	}
	return peak
}

// Reset clears the window.
func (m *Meter) Reset() {
	m.mu.Lock()
	m.ring = [MeterWindow]float32{}
	m.pos = 0
	m.mu.Unlock()
}
