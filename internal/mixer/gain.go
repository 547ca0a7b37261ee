package mixer

import (
	"math"
	"sync/atomic"

	"github.com/gopxl/beep"
)

// gainStage scales one participant's source before it reaches the bus.
// 0.0 mutes, 1.0 passes through, values above 1.0 amplify and may clip.
type gainStage struct {
	src     beep.Streamer
	level   atomic.Uint64 // float64 bits
	drained bool
}

func newGainStage(src beep.Streamer) *gainStage {
	g := &gainStage{src: src}
	g.setLevel(1.0)
	return g
}

func (g *gainStage) setLevel(level float64) {
	if level < 0 {
		level = 0
	}
	g.level.Store(math.Float64bits(level))
}

func (g *gainStage) Level() float64 {
	return math.Float64frombits(g.level.Load())
}

// Stream pulls from the source and scales in place. An ended source stays
// connected and contributes silence.
func (g *gainStage) Stream(samples [][2]float64) (int, bool) {
	if g.drained {
		return 0, true
	}
	n, ok := g.src.Stream(samples)
	if !ok {
		g.drained = true
	}
	level := g.Level()
	for i := range samples[:n] {
		samples[i][0] *= level
		samples[i][1] *= level
	}
	return n, true
}

func (g *gainStage) Err() error {
	return g.src.Err()
}

// PercentToGain maps a UI volume in [0,100] to a linear gain, clamping
// out of range input.
func PercentToGain(percent int) float64 {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	return float64(percent) / 100
}
