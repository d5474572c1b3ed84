package audio

import (
	"context"
	"encoding/binary"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

const frameDuration = 20 * time.Millisecond

// SampleWriter is satisfied by *webrtc.TrackLocalStaticSample.
type SampleWriter interface {
	WriteSample(s media.Sample) error
}

// NewTrack returns a PCMU track for one link's sender.
func NewTrack(streamID string) (*webrtc.TrackLocalStaticSample, error) {
	return webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU, ClockRate: SampleRate, Channels: 1},
		"audio", streamID,
	)
}

// Graph pulls frames from a source, applies the gain and writes PCMU
// samples to the output, normally a Fanout over every link.
type Graph struct {
	src   Source
	gain  *Gain
	out   SampleWriter
	clock clock.Clock
}

func NewGraph(src Source, gain *Gain, out SampleWriter, clk clock.Clock) *Graph {
	if clk == nil {
		clk = clock.New()
	}
	return &Graph{src: src, gain: gain, out: out, clock: clk}
}

func (g *Graph) Gain() *Gain { return g.gain }

// Frame produces one encoded frame.
func (g *Graph) Frame(pcm []int16) ([]byte, error) {
	n, err := g.src.Read(pcm)
	if err != nil {
		return nil, err
	}
	pcm = pcm[:n]
	g.gain.Apply(pcm)
	raw := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.LittleEndian.PutUint16(raw[2*i:], uint16(s))
	}
	return g711.EncodeUlaw(raw), nil
}

// Run writes one frame every 20ms until ctx ends or the source fails.
func (g *Graph) Run(ctx context.Context) error {
	logger := log.With().Str("module", "audio.graph").Logger()
	ticker := g.clock.Ticker(frameDuration)
	defer ticker.Stop()

	pcm := make([]int16, FrameSamples)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, err := g.Frame(pcm)
		if err != nil {
			logger.Error().Err(err).Msg("source read failed, stopping")
			return err
		}
		if err := g.out.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			logger.Warn().Err(err).Msg("write sample")
		}
	}
}
