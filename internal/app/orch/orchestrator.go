package orch

import (
	"context"
	"errors"
	"strings"

	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// Orchestrator turns inbound events into registry, presence and room
// directory calls, and routes the resulting effects to connections.
type Orchestrator struct {
	Registry  *app.Registry
	Sessions  *app.Sessions
	Users     *app.Users
	Presence  *app.PresenceStore
	Rooms     *app.Directory
	Scheduler *app.Scheduler
	Relay     *app.SignalRelay
	Policy    app.Policy

	identities *core.KeyedLocker
}

// Wire finishes construction once all fields are set.
func (o *Orchestrator) Wire() *Orchestrator {
	o.identities = core.NewKeyedLocker()
	if o.Policy == nil {
		o.Policy = app.SimplePolicy{}
	}
	if o.Relay == nil {
		o.Relay = app.NewSignalRelay(o.Registry)
	}
	o.Scheduler.OnTick(o.contributionTick)
	return o
}

func part(event string) string { return strings.ToUpper(event) }

func (o *Orchestrator) send(id core.ConnID, typ string, payload any) {
	conn, ok := o.Registry.Conn(id)
	if !ok {
		return
	}
	frame, err := core.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode")
		return
	}
	o.deliver(id, conn, frame)
}

func (o *Orchestrator) deliver(id core.ConnID, conn core.SignalConnection, frame core.Frame) {
	err := conn.TrySend(frame)
	if errors.Is(err, core.ErrBackpressure) {
		o.onBackpressure(id)
	}
}

// SendError reports err to the originating connection only.
func (o *Orchestrator) SendError(id core.ConnID, event string, err error) {
	de := domain.AsError(err, part(event))
	log.Warn().Str("module", "orch").Str("conn", string(id)).Str("part", de.Part).Str("tag", de.Tag).Msg(de.Message)
	o.send(id, core.EventError, de)
}

func (o *Orchestrator) broadcastServer(sid domain.ServerID, typ string, payload any) {
	frame, err := core.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode")
		return
	}
	for _, p := range o.Registry.MembersOfServer(sid) {
		o.deliver(p.ConnID, p.Conn, frame)
	}
}

func (o *Orchestrator) sendUsers(uids []domain.UserID, typ string, payload any) {
	if len(uids) == 0 {
		return
	}
	frame, err := core.Encode(typ, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("type", typ).Msg("encode")
		return
	}
	for _, p := range o.Registry.Peers(uids) {
		o.deliver(p.ConnID, p.Conn, frame)
	}
}

func (o *Orchestrator) onBackpressure(id core.ConnID) {
	uid, _ := o.Registry.IdentityOf(id)
	switch o.Policy.OnBackPressure(id, uid) {
	case app.KickMember:
		log.Warn().Str("module", "orch").Str("conn", string(id)).Str("user", string(uid)).Msg("send buffer full, kicking")
		// Kicks run detached: the caller may hold a room lock that the
		// cleanup needs.
		go o.Kick(id)
	case app.DropFrame:
		log.Debug().Str("module", "orch").Str("conn", string(id)).Msg("send buffer full, frame dropped")
	}
}

// Kick closes the transport and runs the disconnect cleanup.
func (o *Orchestrator) Kick(id core.ConnID) {
	if conn, ok := o.Registry.Conn(id); ok {
		conn.Close()
	}
	o.OnTransportClosed(context.Background(), id)
}

// applyEffects runs inside the room lock of sid.
func (o *Orchestrator) applyEffects(ctx context.Context, sid domain.ServerID, room *domain.Room, effects []core.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case core.EffectServerUpdate:
			o.broadcastServer(sid, core.EventServerUpdate, room)
		case core.EffectPlaySound:
			o.sendUsers(e.Recipients, core.EventPlaySound, core.PlaySoundPayload{Sound: e.Sound})
		case core.EffectRTCJoin:
			o.sendUsers(e.Recipients, core.EventRTCJoin, core.RTCPeerPayload{UserID: e.UserID})
		case core.EffectRTCLeave:
			o.sendUsers(e.Recipients, core.EventRTCLeave, core.RTCPeerPayload{UserID: e.UserID})
		case core.EffectStartContribution:
			if id, err := o.Registry.ConnectionOf(e.UserID); err == nil {
				o.Scheduler.Start(id, e.UserID)
			}
		case core.EffectCancelContribution:
			if id, err := o.Registry.ConnectionOf(e.UserID); err == nil {
				o.Scheduler.Cancel(id)
			}
		case core.EffectChannelConnect:
			if _, err := o.Presence.Update(ctx, e.UserID, domain.WithLocation(sid, e.ChannelID)); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("user", string(e.UserID)).Msg("presence on channel join")
			}
			ch, _ := room.Channel(e.ChannelID)
			o.sendUsers([]domain.UserID{e.UserID}, core.EventChannelConnect, core.ChannelPayload{ServerID: sid, Channel: ch})
		case core.EffectChannelDisconnect:
			if _, err := o.Presence.Update(ctx, e.UserID, domain.WithChannel("")); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("user", string(e.UserID)).Msg("presence on channel leave")
			}
			o.sendUsers([]domain.UserID{e.UserID}, core.EventChannelDisconnect, core.ChannelRefPayload{ChannelID: e.ChannelID})
		case core.EffectChannelMessage:
			o.broadcastServer(sid, core.EventChannelMessage, core.MessagePayload{Message: e.Message})
		}
	}
}

// saveMessages persists messages produced by an edit before the room is
// written.
func (o *Orchestrator) saveMessages(ctx context.Context, effects []core.Effect) error {
	for _, e := range effects {
		if e.Kind == core.EffectChannelMessage && e.Message != nil {
			if err := o.Rooms.SaveMessage(ctx, e.Message); err != nil {
				return err
			}
		}
	}
	return nil
}
