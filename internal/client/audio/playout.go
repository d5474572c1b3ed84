package audio

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/dkeye/chorus/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zaf/g711"
)

type PlayoutState int32

const (
	PlayoutOk PlayoutState = iota
	PlayoutMuted
	PlayoutStopped
)

// PacketSource yields RTP packets from one remote track.
type PacketSource func() (*rtp.Packet, error)

func FromTrack(t *webrtc.TrackRemote) PacketSource {
	return func() (*rtp.Packet, error) {
		pkt, _, err := t.ReadRTP()
		return pkt, err
	}
}

// Sink receives decoded little-endian PCM per remote identity.
type Sink interface {
	Write(from domain.UserID, pcm []byte)
}

// Discard counts bytes and drops them.
type Discard struct {
	n atomic.Int64
}

func (d *Discard) Write(_ domain.UserID, pcm []byte) { d.n.Add(int64(len(pcm))) }

func (d *Discard) Bytes() int64 { return d.n.Load() }

// Playout decodes one remote PCMU track into a sink.
type Playout struct {
	remote  domain.UserID
	src     PacketSource
	state   atomic.Int32
	packets atomic.Int64
	cancel  context.CancelFunc
}

func (p *Playout) State() PlayoutState { return PlayoutState(p.state.Load()) }

func (p *Playout) Packets() int64 { return p.packets.Load() }

func (p *Playout) loop(ctx context.Context, sink Sink, logger *zerolog.Logger) {
	for {
		select {
		case <-ctx.Done():
			p.state.Store(int32(PlayoutStopped))
			return
		default:
		}
		pkt, err := p.src()
		if err != nil {
			logger.Info().Err(err).Msg("playout read ended")
			p.state.Store(int32(PlayoutStopped))
			return
		}
		p.packets.Add(1)
		switch p.State() {
		case PlayoutStopped:
			return
		case PlayoutMuted:
		case PlayoutOk:
			sink.Write(p.remote, g711.DecodeUlaw(pkt.Payload))
		}
	}
}

// Playouts keeps one playout per remote identity.
type Playouts struct {
	sink Sink

	mu       sync.RWMutex
	playouts map[domain.UserID]*Playout
}

func NewPlayouts(sink Sink) *Playouts {
	return &Playouts{sink: sink, playouts: make(map[domain.UserID]*Playout)}
}

// Start replaces any playout already running for remote.
func (m *Playouts) Start(ctx context.Context, remote domain.UserID, src PacketSource) *Playout {
	logger := log.With().Str("module", "audio.playout").Str("remote", string(remote)).Logger()

	pctx, cancel := context.WithCancel(ctx)
	p := &Playout{remote: remote, src: src, cancel: cancel}

	m.mu.Lock()
	if old, ok := m.playouts[remote]; ok {
		logger.Info().Msg("replacing existing playout")
		old.state.Store(int32(PlayoutStopped))
		old.cancel()
	}
	m.playouts[remote] = p
	m.mu.Unlock()

	go p.loop(pctx, m.sink, &logger)
	return p
}

func (m *Playouts) SetMuted(remote domain.UserID, muted bool) {
	m.mu.RLock()
	p, ok := m.playouts[remote]
	m.mu.RUnlock()
	if !ok || p.State() == PlayoutStopped {
		return
	}
	if muted {
		p.state.Store(int32(PlayoutMuted))
	} else {
		p.state.Store(int32(PlayoutOk))
	}
}

// Stop ends the playout for remote. The read loop exits on its next packet
// or when the track closes.
func (m *Playouts) Stop(remote domain.UserID) {
	m.mu.Lock()
	p, ok := m.playouts[remote]
	if ok {
		delete(m.playouts, remote)
	}
	m.mu.Unlock()
	if ok {
		p.state.Store(int32(PlayoutStopped))
		p.cancel()
	}
}

func (m *Playouts) StopAll() {
	m.mu.Lock()
	all := m.playouts
	m.playouts = make(map[domain.UserID]*Playout)
	m.mu.Unlock()
	for _, p := range all {
		p.state.Store(int32(PlayoutStopped))
		p.cancel()
	}
}

func (m *Playouts) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.playouts)
}
