package project

import "math"

const (
	MinClipDuration     = 0.5
	MinTimelineDuration = 30.0
	TimelinePadding     = 10.0
)

// TotalDuration is the timeline length implied by the clips: the latest clip
// end plus padding, never shorter than MinTimelineDuration.
func TotalDuration(tracks []Track) float64 {
	var maxEnd float64
	for _, t := range tracks {
		for _, c := range t.Clips {
			if end := c.End(); end > maxEnd {
				maxEnd = end
			}
		}
	}
	return math.Max(MinTimelineDuration, maxEnd+TimelinePadding)
}

// Normalize enforces the clip invariants in place: start >= 0, duration at
// least MinClipDuration, and a crop window inside the attached audio.
func Normalize(c *Clip) {
	if c.StartTime < 0 || math.IsNaN(c.StartTime) {
		c.StartTime = 0
	}
	if c.Duration < MinClipDuration || math.IsNaN(c.Duration) {
		c.Duration = MinClipDuration
	}
	if c.AudioOffset < 0 || math.IsNaN(c.AudioOffset) {
		c.AudioOffset = 0
	}
	if c.AudioDuration <= 0 {
		c.AudioOffset = 0
		return
	}
	if c.Duration > c.AudioDuration {
		c.Duration = math.Max(c.AudioDuration, MinClipDuration)
	}
	if c.AudioOffset+c.Duration > c.AudioDuration {
		c.AudioOffset = math.Max(0, c.AudioDuration-c.Duration)
	}
}

// trim applies a new start and duration to a clip. Moving the left edge
// shifts the crop offset by the same amount so the audio stays anchored to
// the timeline; the edges cannot pass the ends of the attached audio.
func trim(c *Clip, start, duration float64) {
	end := start + duration
	if start < 0 {
		start = 0
	}
	if end-start < MinClipDuration {
		start = math.Max(0, end-MinClipDuration)
		end = start + MinClipDuration
	}
	if c.AudioDuration > 0 {
		offset := c.AudioOffset + (start - c.StartTime)
		if offset < 0 {
			start -= offset
			offset = 0
		}
		if maxEnd := start + (c.AudioDuration - offset); end > maxEnd {
			end = maxEnd
		}
		c.AudioOffset = offset
	}
	c.StartTime = start
	c.Duration = end - start
	Normalize(c)
}
