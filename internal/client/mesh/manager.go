package mesh

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// PeerConnection is the transport of one link.
type PeerConnection interface {
	CreateOffer(ctx context.Context) (webrtc.SessionDescription, error)
	AcceptOffer(ctx context.Context, offer webrtc.SessionDescription) (webrtc.SessionDescription, error)
	AcceptAnswer(answer webrtc.SessionDescription) error
	AddICECandidate(c webrtc.ICECandidateInit) error
	SetBitrateCeiling(bps uint64)
	Close() error
}

// Hooks are invoked by a PeerConnection from its own goroutines.
type Hooks struct {
	Candidate func(webrtc.ICECandidateInit)
	Connected func()
	Terminal  func(reason string)
	Track     func(track *webrtc.TrackRemote)
}

type Factory interface {
	NewPeer(remote domain.UserID, hooks Hooks) (PeerConnection, error)
}

// Signaler carries offers, answers and candidates to a remote identity.
type Signaler interface {
	Signal(ctx context.Context, kind string, to domain.UserID, payload any) error
}

type link struct {
	remote   domain.UserID
	pc       PeerConnection
	state    State
	offerer  bool
	answered bool
	once     sync.Once
}

// Manager is the Peer Connection Manager. Operations on one remote identity
// never interleave; different remotes proceed in parallel.
type Manager struct {
	ctx      context.Context
	factory  Factory
	signaler Signaler
	locks    *core.KeyedLocker

	mu      sync.Mutex
	self    domain.UserID
	links   map[domain.UserID]*link
	ceiling uint64
	onTrack func(remote domain.UserID, track *webrtc.TrackRemote)
}

func NewManager(ctx context.Context, factory Factory, signaler Signaler) *Manager {
	return &Manager{
		ctx:      ctx,
		factory:  factory,
		signaler: signaler,
		locks:    core.NewKeyedLocker(),
		links:    make(map[domain.UserID]*link),
	}
}

// SetSelf records the local identity once it is known.
func (m *Manager) SetSelf(uid domain.UserID) {
	m.mu.Lock()
	m.self = uid
	m.mu.Unlock()
}

// OnTrack sets the callback for remote audio tracks.
func (m *Manager) OnTrack(fn func(remote domain.UserID, track *webrtc.TrackRemote)) {
	m.mu.Lock()
	m.onTrack = fn
	m.mu.Unlock()
}

func (m *Manager) view(remote domain.UserID) (View, *link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[remote]
	v := View{State: Absent, Polite: m.self < remote}
	if ok {
		v.State, v.Offerer, v.Answered = l.state, l.offerer, l.answered
	}
	return v, l
}

func (m *Manager) setState(l *link, s State) {
	m.mu.Lock()
	l.state = s
	m.mu.Unlock()
}

// State reports the state of the link to remote.
func (m *Manager) State(remote domain.UserID) State {
	v, _ := m.view(remote)
	return v.State
}

// Len counts active links.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.links)
}

// OnJoin handles a new co-member: any existing link is replaced and the
// local side offers.
func (m *Manager) OnJoin(remote domain.UserID) {
	unlock := m.locks.Lock(string(remote))
	defer unlock()
	m.step(remote, InputJoin, nil)
}

func (m *Manager) OnOffer(remote domain.UserID, raw json.RawMessage) {
	unlock := m.locks.Lock(string(remote))
	defer unlock()
	m.step(remote, InputOffer, raw)
}

func (m *Manager) OnAnswer(remote domain.UserID, raw json.RawMessage) {
	unlock := m.locks.Lock(string(remote))
	defer unlock()
	m.step(remote, InputAnswer, raw)
}

func (m *Manager) OnCandidate(remote domain.UserID, raw json.RawMessage) {
	unlock := m.locks.Lock(string(remote))
	defer unlock()
	m.step(remote, InputCandidate, raw)
}

func (m *Manager) OnLeave(remote domain.UserID) {
	unlock := m.locks.Lock(string(remote))
	defer unlock()
	m.step(remote, InputLeave, nil)
}

// step applies one input; the caller holds the remote's lock.
func (m *Manager) step(remote domain.UserID, in Input, raw json.RawMessage) {
	v, l := m.view(remote)
	action := Decide(v, in)
	logger := log.With().Str("module", "mesh").Str("remote", string(remote)).Str("state", v.State.String()).Logger()

	switch action {
	case ActionIgnore:
		logger.Debug().Int("input", int(in)).Msg("ignored")
	case ActionOffer:
		if l != nil {
			m.teardown(l, "replaced by join")
		}
		nl, err := m.open(remote, true)
		if err != nil {
			logger.Error().Err(err).Msg("open link")
			return
		}
		offer, err := nl.pc.CreateOffer(m.ctx)
		if err != nil {
			logger.Error().Err(err).Msg("create offer")
			m.teardown(nl, "offer failed")
			return
		}
		m.signal(core.EventRTCOffer, remote, offer)
	case ActionAnswer:
		var offer webrtc.SessionDescription
		if err := json.Unmarshal(raw, &offer); err != nil {
			logger.Warn().Err(err).Msg("bad offer")
			return
		}
		if l != nil {
			m.teardown(l, "replaced by remote offer")
		}
		nl, err := m.open(remote, false)
		if err != nil {
			logger.Error().Err(err).Msg("open link")
			return
		}
		answer, err := nl.pc.AcceptOffer(m.ctx, offer)
		if err != nil {
			logger.Error().Err(err).Msg("accept offer")
			m.teardown(nl, "answer failed")
			return
		}
		m.signal(core.EventRTCAnswer, remote, answer)
	case ActionApplyAnswer:
		var answer webrtc.SessionDescription
		if err := json.Unmarshal(raw, &answer); err != nil {
			logger.Warn().Err(err).Msg("bad answer")
			return
		}
		if err := l.pc.AcceptAnswer(answer); err != nil {
			// a rejected answer is dropped; the offer stays open
			logger.Warn().Err(err).Msg("apply answer")
			return
		}
		m.mu.Lock()
		l.answered = true
		m.mu.Unlock()
	case ActionAddCandidate:
		var c webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &c); err != nil {
			logger.Warn().Err(err).Msg("bad candidate")
			return
		}
		if err := l.pc.AddICECandidate(c); err != nil {
			logger.Warn().Err(err).Msg("add candidate")
		}
	case ActionMarkConnected:
		m.setState(l, Connected)
		logger.Info().Msg("link connected")
	case ActionTeardown:
		m.teardown(l, fmt.Sprintf("input %d", in))
	}
}

func (m *Manager) open(remote domain.UserID, offerer bool) (*link, error) {
	l := &link{remote: remote, state: Negotiating, offerer: offerer}
	pc, err := m.factory.NewPeer(remote, m.hooks(l))
	if err != nil {
		return nil, err
	}
	l.pc = pc

	m.mu.Lock()
	if m.ceiling > 0 {
		pc.SetBitrateCeiling(m.ceiling)
	}
	m.links[remote] = l
	m.mu.Unlock()
	return l, nil
}

// hooks route transport callbacks back into the state machine. They check
// the link instance so a stale callback never touches its replacement.
func (m *Manager) hooks(l *link) Hooks {
	current := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.links[l.remote] == l
	}
	return Hooks{
		Candidate: func(c webrtc.ICECandidateInit) {
			if current() {
				m.signal(core.EventRTCIceCandidate, l.remote, c)
			}
		},
		Connected: func() {
			go func() {
				unlock := m.locks.Lock(string(l.remote))
				defer unlock()
				if current() {
					m.step(l.remote, InputConnected, nil)
				}
			}()
		},
		Terminal: func(reason string) {
			go func() {
				unlock := m.locks.Lock(string(l.remote))
				defer unlock()
				if current() {
					log.Info().Str("module", "mesh").Str("remote", string(l.remote)).Str("reason", reason).Msg("transport terminal")
					m.step(l.remote, InputTerminal, nil)
				}
			}()
		},
		Track: func(track *webrtc.TrackRemote) {
			m.mu.Lock()
			fn := m.onTrack
			m.mu.Unlock()
			if fn != nil && current() {
				fn(l.remote, track)
			}
		},
	}
}

// teardown closes l exactly once and forgets it if still current.
func (m *Manager) teardown(l *link, reason string) {
	l.once.Do(func() {
		m.mu.Lock()
		if m.links[l.remote] == l {
			delete(m.links, l.remote)
		}
		l.state = Closed
		m.mu.Unlock()
		if l.pc != nil {
			if err := l.pc.Close(); err != nil {
				log.Warn().Err(err).Str("module", "mesh").Str("remote", string(l.remote)).Msg("close")
			}
		}
		log.Info().Str("module", "mesh").Str("remote", string(l.remote)).Str("reason", reason).Msg("link torn down")
	})
}

func (m *Manager) signal(kind string, to domain.UserID, payload any) {
	if err := m.signaler.Signal(m.ctx, kind, to, payload); err != nil {
		log.Warn().Err(err).Str("module", "mesh").Str("kind", kind).Str("to", string(to)).Msg("signal")
	}
}

// SetBitrateCeiling applies one outgoing bitrate ceiling to every link,
// current and future.
func (m *Manager) SetBitrateCeiling(bps uint64) {
	m.mu.Lock()
	m.ceiling = bps
	links := make([]*link, 0, len(m.links))
	for _, l := range m.links {
		links = append(links, l)
	}
	m.mu.Unlock()
	for _, l := range links {
		l.pc.SetBitrateCeiling(bps)
	}
}

// Close tears down every link, e.g. when the local identity leaves its
// channel.
func (m *Manager) Close() {
	m.mu.Lock()
	remotes := make([]domain.UserID, 0, len(m.links))
	for r := range m.links {
		remotes = append(remotes, r)
	}
	m.mu.Unlock()
	for _, r := range remotes {
		m.OnLeave(r)
	}
}
