package audio

import "math"

const (
	SampleRate   = 8000
	FrameSamples = SampleRate / 50 // 20ms
)

// Source fills buf with mono 16-bit PCM at SampleRate.
type Source interface {
	Read(buf []int16) (int, error)
}

// Tone is a synthetic sine source.
type Tone struct {
	Freq      float64
	Amplitude float64
	phase     float64
}

func NewTone(freq float64) *Tone {
	return &Tone{Freq: freq, Amplitude: 0.3}
}

func (t *Tone) Read(buf []int16) (int, error) {
	step := 2 * math.Pi * t.Freq / SampleRate
	for i := range buf {
		buf[i] = int16(t.Amplitude * math.MaxInt16 * math.Sin(t.phase))
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return len(buf), nil
}
