package project

import "sort"

// GenerationOrder returns the tracks sorted by descending order. Tracks with
// equal order keep their insertion order.
func GenerationOrder(p *Project) []Track {
	tracks := make([]Track, len(p.Tracks))
	copy(tracks, p.Tracks)
	sort.SliceStable(tracks, func(i, j int) bool {
		return tracks[i].Order > tracks[j].Order
	})
	return tracks
}

// ClipRef locates a clip in the generation sequence.
type ClipRef struct {
	TrackID string
	ClipID  string
}

// GenerationSequence flattens the project into the total order clips are
// generated in: tracks by GenerationOrder, clips in track order.
func GenerationSequence(p *Project) []ClipRef {
	var seq []ClipRef
	for _, t := range GenerationOrder(p) {
		for _, c := range t.Clips {
			seq = append(seq, ClipRef{TrackID: t.ID, ClipID: c.ID})
		}
	}
	return seq
}

// PreviousMix finds the nearest clip before clipID in the generation
// sequence that holds a cumulative mix. ok is false when clipID is the first
// clip with context, in which case generation starts from silence.
func PreviousMix(p *Project, clipID string) (prev Clip, ok bool) {
	seq := GenerationSequence(p)
	idx := -1
	for i, ref := range seq {
		if ref.ClipID == clipID {
			idx = i
			break
		}
	}
	for i := idx - 1; i >= 0; i-- {
		_, c, err := p.Clip(seq[i].ClipID)
		if err != nil {
			continue
		}
		if c.CumulativeMixKey != "" {
			return c.clone(), true
		}
	}
	return Clip{}, false
}
