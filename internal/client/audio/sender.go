package audio

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"golang.org/x/time/rate"
)

// rtpOverhead is the RTP header size counted against the ceiling.
const rtpOverhead = 12

// Fanout copies every encoded frame from the graph to each link's sender.
type Fanout struct {
	mu      sync.RWMutex
	senders map[*Sender]struct{}
}

func NewFanout() *Fanout {
	return &Fanout{senders: make(map[*Sender]struct{})}
}

// Add registers s and returns a func that removes it again.
func (f *Fanout) Add(s *Sender) (remove func()) {
	f.mu.Lock()
	f.senders[s] = struct{}{}
	f.mu.Unlock()
	return func() {
		f.mu.Lock()
		delete(f.senders, s)
		f.mu.Unlock()
	}
}

func (f *Fanout) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.senders)
}

func (f *Fanout) WriteSample(m media.Sample) error {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var first error
	for s := range f.senders {
		if err := s.WriteSample(m); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Sender is the outgoing audio of one link: its own PCMU track behind a
// bitrate ceiling. Frames over the ceiling are dropped before they reach
// the track.
type Sender struct {
	track   *webrtc.TrackLocalStaticSample
	clock   clock.Clock
	limiter atomic.Pointer[rate.Limiter]
	ceiling atomic.Uint64

	sent    atomic.Int64
	dropped atomic.Int64
}

func NewSender(streamID string, clk clock.Clock) (*Sender, error) {
	if clk == nil {
		clk = clock.New()
	}
	track, err := NewTrack(streamID)
	if err != nil {
		return nil, err
	}
	return &Sender{track: track, clock: clk}, nil
}

func (s *Sender) Track() *webrtc.TrackLocalStaticSample { return s.track }

// SetBitrateCeiling caps the outgoing rate in bits per second from the
// next frame on. Zero removes the cap.
func (s *Sender) SetBitrateCeiling(bps uint64) {
	s.ceiling.Store(bps)
	if bps == 0 {
		s.limiter.Store(nil)
		return
	}
	// a fifth of a second of credit, never less than one frame
	burst := max(int(bps/5), (FrameSamples+rtpOverhead)*8)
	s.limiter.Store(rate.NewLimiter(rate.Limit(bps), burst))
}

func (s *Sender) BitrateCeiling() uint64 { return s.ceiling.Load() }

func (s *Sender) WriteSample(m media.Sample) error {
	if lim := s.limiter.Load(); lim != nil && !lim.AllowN(s.clock.Now(), (len(m.Data)+rtpOverhead)*8) {
		s.dropped.Add(1)
		return nil
	}
	s.sent.Add(1)
	return s.track.WriteSample(m)
}

// Stats reports frames passed to the track and frames dropped by the
// ceiling.
func (s *Sender) Stats() (sent, dropped int64) {
	return s.sent.Load(), s.dropped.Load()
}
