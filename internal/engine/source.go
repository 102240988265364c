package engine

import "github.com/satindergrewal/layerdaw/internal/audio"

// source is one scheduled read of a buffer into a channel. All fields are
// guarded by the engine mutex.
type source struct {
	ch         *TrackChannel
	buf        *audio.Buffer
	startFrame int64 // engine frame at which the first sample plays
	from       int   // first buffer frame to read
	length     int   // frames to play
	played     int
	stopped    bool
}

type sourceSpec struct {
	ch          *TrackChannel
	buf         *audio.Buffer
	delayFrames int64
	from        int
	length      int
}

func (s *source) done() bool {
	return s.stopped || s.played >= s.length || s.ch.Disposed()
}

// mixInto adds the source's contribution for engine frames [now, now+n) to
// bus, a stereo scratch buffer.
func (s *source) mixInto(bus [][]float32, now int64, n int) {
	first := 0
	if s.startFrame > now {
		if s.startFrame >= now+int64(n) {
			return
		}
		first = int(s.startFrame - now)
	}
	size := s.buf.Len()
	for i := first; i < n && s.played < s.length; i++ {
		idx := s.from + s.played
		if idx >= 0 && idx < size {
			for c := range bus {
				bus[c][i] += s.buf.Channel(c)[idx]
			}
		}
		s.played++
	}
}
