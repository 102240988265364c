package audio

// Smoothstep returns the smoothstep interpolation for t in [0,1].
// Formula: 3t^2 - 2t^3.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// GainRamp moves a gain towards a target over a fixed number of samples along
// the smoothstep curve, so level changes on a live signal do not click.
type GainRamp struct {
	length int
	from   float64
	target float64
	pos    int
	value  float64
}

// NewGainRamp creates a ramp settled at the given gain.
func NewGainRamp(length int, gain float64) *GainRamp {
	if length < 1 {
		length = 1
	}
	return &GainRamp{length: length, from: gain, target: gain, pos: length, value: gain}
}

// Set starts a new ramp from the current value towards target.
func (g *GainRamp) Set(target float64) {
	if target == g.target {
		return
	}
	g.from = g.value
	g.target = target
	g.pos = 0
}

// Target returns the gain the ramp is heading to.
func (g *GainRamp) Target() float64 {
	return g.target
}

// Next advances one sample and returns the gain to apply to it.
func (g *GainRamp) Next() float64 {
	if g.pos >= g.length {
		g.value = g.target
		return g.value
	}
	g.pos++
	g.value = g.from + (g.target-g.from)*Smoothstep(float64(g.pos)/float64(g.length))
	return g.value
}

// Apply scales every sample of the given channels in place, advancing the
// ramp once per frame so all channels share the same gain curve.
func (g *GainRamp) Apply(channels [][]float32, frames int) {
	for i := 0; i < frames; i++ {
		gain := float32(g.Next())
		for _, ch := range channels {
			ch[i] *= gain
		}
	}
}
