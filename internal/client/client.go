// Package client is the headless signaling client: it authenticates, joins
// a server and channel, and drives the voice mesh from server events.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/dkeye/chorus/internal/client/mesh"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrForcedDisconnect means the identity signed in elsewhere. It is
	// never retried.
	ErrForcedDisconnect = errors.New("signed in elsewhere")
	ErrSignedOut        = errors.New("signed out by server")
)

type Options struct {
	Token      string
	ServerID   domain.ServerID
	ChannelID  domain.ChannelID
	SendBuffer int
	ReadLimit  int64
	PingPeriod time.Duration
}

type Client struct {
	conn   *websocket.Conn
	opts   Options
	out    chan core.Frame
	logger zerolog.Logger

	mu      sync.Mutex
	self    domain.UserID
	mesh    *mesh.Manager
	onLeave func(domain.UserID)
	leaving atomic.Bool
	joined  atomic.Bool
}

func Dial(ctx context.Context, url string, opts Options) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}
	return &Client{
		conn:   conn,
		opts:   opts,
		out:    make(chan core.Frame, opts.SendBuffer),
		logger: log.With().Str("module", "client").Logger(),
	}, nil
}

// UseMesh routes RTC events into m.
func (c *Client) UseMesh(m *mesh.Manager) {
	c.mu.Lock()
	c.mesh = m
	c.mu.Unlock()
}

// OnPeerLeft is called after a remote identity leaves the channel.
func (c *Client) OnPeerLeft(fn func(domain.UserID)) {
	c.mu.Lock()
	c.onLeave = fn
	c.mu.Unlock()
}

func (c *Client) Self() domain.UserID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.self
}

func (c *Client) manager() *mesh.Manager {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mesh
}

// Send enqueues one event without blocking.
func (c *Client) Send(typ string, payload any) error {
	frame, err := core.Encode(typ, payload)
	if err != nil {
		return err
	}
	select {
	case c.out <- frame:
		return nil
	default:
		return core.ErrBackpressure
	}
}

// Signal implements mesh.Signaler.
func (c *Client) Signal(_ context.Context, kind string, to domain.UserID, payload any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return c.Send(kind, core.RTCSendPayload{To: to, Payload: raw})
}

// Leave signs out; Run then returns nil once the server confirms.
func (c *Client) Leave() error {
	c.leaving.Store(true)
	return c.Send(core.EventDisconnectUser, core.SessionPayload{SessionToken: c.opts.Token})
}

// Run authenticates and processes events until ctx ends, the transport
// closes, or the server signs the identity out.
func (c *Client) Run(ctx context.Context) error {
	defer c.conn.Close(websocket.StatusNormalClosure, "")

	if err := c.Send(core.EventConnectUser, core.SessionPayload{SessionToken: c.opts.Token}); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.writeLoop(gctx) })
	g.Go(func() error { return c.readLoop(gctx) })
	err := g.Wait()

	if m := c.manager(); m != nil {
		m.Close()
	}
	if errors.Is(err, errDone) || ctx.Err() != nil {
		return nil
	}
	return err
}

var errDone = errors.New("client done")

func (c *Client) writeLoop(ctx context.Context) error {
	period := c.opts.PingPeriod
	if period <= 0 {
		period = 30 * time.Second
	}
	ping := time.NewTicker(period)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-c.out:
			if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		case <-ping.C:
			frame, _ := core.Encode(core.EventPing, nil)
			if err := c.conn.Write(ctx, websocket.MessageText, frame); err != nil {
				return err
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context) error {
	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return err
		}
		if err := c.handle(data); err != nil {
			return err
		}
	}
}

func (c *Client) handle(data []byte) error {
	typ := gjson.GetBytes(data, "type").String()
	payload := []byte(gjson.GetBytes(data, "payload").Raw)
	logger := c.logger.With().Str("event", typ).Logger()

	switch typ {
	case core.EventUserConnect:
		uid := domain.UserID(gjson.GetBytes(payload, "user.id").String())
		c.mu.Lock()
		c.self = uid
		m := c.mesh
		c.mu.Unlock()
		if m != nil {
			m.SetSelf(uid)
		}
		logger.Info().Str("uid", string(uid)).Msg("signed in")
		if c.opts.ServerID != "" {
			return c.Send(core.EventConnectServer, core.ConnectServerPayload{SessionToken: c.opts.Token, ServerID: c.opts.ServerID})
		}

	case core.EventUserDisconnect:
		if c.leaving.Load() {
			return errDone
		}
		return ErrSignedOut

	case core.EventForceDisconnect:
		logger.Warn().Msg("signed in elsewhere")
		return ErrForcedDisconnect

	case core.EventServerConnect:
		sid := gjson.GetBytes(payload, "server.id").String()
		logger.Info().Str("server_id", sid).Msg("joined server")
		if c.opts.ChannelID != "" && !c.joined.Load() {
			return c.Send(core.EventConnectChannel, core.ConnectChannelPayload{SessionToken: c.opts.Token, ChannelID: c.opts.ChannelID})
		}

	case core.EventChannelConnect:
		c.joined.Store(true)
		logger.Info().Str("channel_id", gjson.GetBytes(payload, "channel.id").String()).Msg("joined channel")

	case core.EventChannelDisconnect, core.EventServerDisconnect:
		c.joined.Store(false)
		if m := c.manager(); m != nil {
			m.Close()
		}

	case core.EventRTCJoin, core.EventRTCLeave:
		var p core.RTCPeerPayload
		if err := core.DecodePayload(payload, &p); err != nil {
			logger.Warn().Err(err).Msg("drop")
			return nil
		}
		m := c.manager()
		if m == nil {
			return nil
		}
		if typ == core.EventRTCJoin {
			m.OnJoin(p.UserID)
			return nil
		}
		m.OnLeave(p.UserID)
		c.mu.Lock()
		fn := c.onLeave
		c.mu.Unlock()
		if fn != nil {
			fn(p.UserID)
		}

	case core.EventRTCOffer, core.EventRTCAnswer, core.EventRTCIceCandidate:
		var p core.RTCRecvPayload
		if err := core.DecodePayload(payload, &p); err != nil {
			logger.Warn().Err(err).Msg("drop")
			return nil
		}
		m := c.manager()
		if m == nil {
			return nil
		}
		switch typ {
		case core.EventRTCOffer:
			m.OnOffer(p.From, p.Payload)
		case core.EventRTCAnswer:
			m.OnAnswer(p.From, p.Payload)
		default:
			m.OnCandidate(p.From, p.Payload)
		}

	case core.EventError:
		var e domain.Error
		_ = json.Unmarshal(payload, &e)
		logger.Warn().Str("part", e.Part).Str("tag", e.Tag).Int("status", e.StatusCode).Msg(e.Message)

	default:
		logger.Debug().Msg("event")
	}
	return nil
}
