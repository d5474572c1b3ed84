// Package rtc adapts pion peer connections to the mesh.
package rtc

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/chorus/internal/client/audio"
	"github.com/dkeye/chorus/internal/client/mesh"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func DefaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

// Factory builds one peer connection per remote. Each link gets its own
// sender fed from the shared fanout, so a ceiling caps that link only.
type Factory struct {
	cfg    webrtc.Configuration
	fanout *audio.Fanout
}

func NewFactory(cfg webrtc.Configuration, fanout *audio.Fanout) *Factory {
	return &Factory{cfg: cfg, fanout: fanout}
}

func (f *Factory) NewPeer(remote domain.UserID, hooks mesh.Hooks) (mesh.PeerConnection, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	c := &WebRTCConnection{
		pc:     pc,
		remote: remote,
		hooks:  hooks,
		logger: log.With().Str("module", "webrtc").Str("remote", string(remote)).Logger(),
	}
	if f.fanout != nil {
		out, err := audio.NewSender("chorus-"+string(remote), nil)
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		sender, err := pc.AddTrack(out.Track())
		if err != nil {
			_ = pc.Close()
			return nil, err
		}
		go drainRTCP(sender)
		c.out = out
		c.detach = f.fanout.Add(out)
	}
	c.start()
	return c, nil
}

// WebRTCConnection is one mesh link backed by pion.
type WebRTCConnection struct {
	pc     *webrtc.PeerConnection
	remote domain.UserID
	hooks  mesh.Hooks
	logger zerolog.Logger

	out    *audio.Sender
	detach func()
	// local is the mesh-wide ceiling, remoteBw what the peer's description
	// asks for; the sender gets the lower of the two.
	local    atomic.Uint64
	remoteBw atomic.Uint64

	mu       sync.Mutex
	pending  []webrtc.ICECandidateInit
	terminal sync.Once
	closed   sync.Once
}

func (c *WebRTCConnection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.logger.Info().Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			c.fireTerminal("ice " + s.String())
		}
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.logger.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		switch s {
		case webrtc.PeerConnectionStateConnected:
			if c.hooks.Connected != nil {
				c.hooks.Connected()
			}
		case webrtc.PeerConnectionStateDisconnected,
			webrtc.PeerConnectionStateFailed,
			webrtc.PeerConnectionStateClosed:
			c.fireTerminal("peer " + s.String())
		}
	})

	c.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		if s == webrtc.SignalingStateClosed {
			c.fireTerminal("signaling closed")
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && c.hooks.Candidate != nil {
			c.hooks.Candidate(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		c.logger.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("codec", track.Codec().MimeType).
			Msg("OnTrack received")
		if c.hooks.Track != nil {
			c.hooks.Track(track)
		}
	})
}

// fireTerminal reports the first terminal state only.
func (c *WebRTCConnection) fireTerminal(reason string) {
	c.terminal.Do(func() {
		if c.hooks.Terminal != nil {
			c.hooks.Terminal(reason)
		}
	})
}

func (c *WebRTCConnection) CreateOffer(ctx context.Context) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error) {
	if err := ctx.Err(); err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetRemoteDescription(offer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	c.useRemoteCeiling(offer)
	c.flushCandidates()
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return webrtc.SessionDescription{}, err
	}
	if err := c.pc.SetLocalDescription(answer); err != nil {
		return webrtc.SessionDescription{}, err
	}
	return *c.pc.LocalDescription(), nil
}

func (c *WebRTCConnection) AcceptAnswer(answer webrtc.SessionDescription) error {
	if err := c.pc.SetRemoteDescription(answer); err != nil {
		return err
	}
	c.useRemoteCeiling(answer)
	c.flushCandidates()
	return nil
}

// AddICECandidate buffers candidates that arrive before the remote
// description.
func (c *WebRTCConnection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	c.mu.Lock()
	if c.pc.RemoteDescription() == nil {
		c.pending = append(c.pending, ci)
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()
	return c.pc.AddICECandidate(ci)
}

func (c *WebRTCConnection) flushCandidates() {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ci := range pending {
		if err := c.pc.AddICECandidate(ci); err != nil {
			c.logger.Warn().Err(err).Msg("buffered candidate")
		}
	}
}

// SetBitrateCeiling caps this link's outgoing audio at once, negotiated
// or not.
func (c *WebRTCConnection) SetBitrateCeiling(bps uint64) {
	c.local.Store(bps)
	c.applyCeiling()
}

// BitrateCeiling is the cap currently enforced on the outgoing sender.
func (c *WebRTCConnection) BitrateCeiling() uint64 {
	if c.out == nil {
		return 0
	}
	return c.out.BitrateCeiling()
}

// SenderStats reports frames sent and dropped by the ceiling.
func (c *WebRTCConnection) SenderStats() (sent, dropped int64) {
	if c.out == nil {
		return 0, 0
	}
	return c.out.Stats()
}

func (c *WebRTCConnection) useRemoteCeiling(desc webrtc.SessionDescription) {
	bps, err := RemoteBitrateCeiling(desc)
	if err != nil {
		c.logger.Warn().Err(err).Msg("read remote bandwidth")
		return
	}
	c.remoteBw.Store(bps)
	c.applyCeiling()
}

func (c *WebRTCConnection) applyCeiling() {
	if c.out == nil {
		return
	}
	bps := lowerCeiling(c.local.Load(), c.remoteBw.Load())
	c.out.SetBitrateCeiling(bps)
	c.logger.Debug().Uint64("bps", bps).Msg("bitrate ceiling")
}

// lowerCeiling picks the tighter of two ceilings; zero means none.
func lowerCeiling(a, b uint64) uint64 {
	switch {
	case a == 0:
		return b
	case b == 0:
		return a
	default:
		return min(a, b)
	}
}

func (c *WebRTCConnection) Close() error {
	c.closed.Do(func() {
		if c.detach != nil {
			c.detach()
		}
	})
	err := c.pc.Close()
	if err != nil {
		c.logger.Error().Err(err).Msg("close error")
	} else {
		c.logger.Info().Msg("closed")
	}
	return err
}

func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
