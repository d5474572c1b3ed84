// Package audio is the local capture graph: source -> gain -> PCMU track,
// plus playout of remote tracks.
package audio

import (
	"math"
	"sync/atomic"
)

const MaxVolume = 2.0

// Gain scales samples by a volume shared by every link. Changes apply to
// the next frame.
type Gain struct {
	volume atomic.Uint64
	muted  atomic.Bool
}

func NewGain(volume float64) *Gain {
	g := &Gain{}
	g.SetVolume(volume)
	return g
}

// SetVolume clamps to [0, MaxVolume].
func (g *Gain) SetVolume(v float64) {
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	if v > MaxVolume {
		v = MaxVolume
	}
	g.volume.Store(math.Float64bits(v))
}

func (g *Gain) Volume() float64 { return math.Float64frombits(g.volume.Load()) }

func (g *Gain) SetMuted(m bool) { g.muted.Store(m) }

func (g *Gain) Muted() bool { return g.muted.Load() }

// Apply scales samples in place with saturation.
func (g *Gain) Apply(samples []int16) {
	if g.muted.Load() {
		clear(samples)
		return
	}
	v := g.Volume()
	if v == 1 {
		return
	}
	for i, s := range samples {
		x := float64(s) * v
		switch {
		case x > math.MaxInt16:
			x = math.MaxInt16
		case x < math.MinInt16:
			x = math.MinInt16
		}
		samples[i] = int16(x)
	}
}
