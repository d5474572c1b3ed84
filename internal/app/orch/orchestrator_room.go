package orch

import (
	"context"

	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

// CreateServer creates a server owned by the caller and connects to it.
func (o *Orchestrator) CreateServer(ctx context.Context, id core.ConnID, p core.CreateServerPayload) error {
	uid, err := o.authorize(ctx, id, p.SessionToken)
	if err != nil {
		o.SendError(id, core.EventCreateServer, err)
		return err
	}
	room, err := o.Rooms.CreateServer(ctx, uid, p.Name, p.Visibility)
	if err != nil {
		o.SendError(id, core.EventCreateServer, err)
		return err
	}
	return o.connectServer(ctx, id, uid, room.Server.ID, core.EventCreateServer)
}

// ConnectServer joins the server and its lobby, leaving the previous server.
func (o *Orchestrator) ConnectServer(ctx context.Context, id core.ConnID, token string, sid domain.ServerID) error {
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		o.SendError(id, core.EventConnectServer, err)
		return err
	}
	return o.connectServer(ctx, id, uid, sid, core.EventConnectServer)
}

func (o *Orchestrator) connectServer(ctx context.Context, id core.ConnID, uid domain.UserID, sid domain.ServerID, event string) error {
	fail := func(err error) error {
		o.SendError(id, event, err)
		return err
	}

	room, err := o.Rooms.Room(ctx, sid)
	if err != nil {
		return fail(err)
	}
	pr, err := o.Presence.Get(ctx, uid)
	if err != nil {
		return fail(err)
	}
	if pr.ServerID == sid && o.Registry.ServerOf(id) == sid {
		o.send(id, core.EventServerConnect, room)
		return nil
	}
	prev := pr.ServerID
	if prev == sid {
		prev = ""
	}

	var created bool
	err = o.Rooms.Atomically(ctx, []domain.ServerID{prev, sid}, func(tx *app.Tx) error {
		// validate on a copy before leaving anything
		room, err := tx.Room(ctx, sid)
		if err != nil {
			return err
		}
		trial := room.Clone()
		if _, err := core.JoinServer(trial, uid, o.Rooms.Now()); err != nil {
			return err
		}
		if _, err := core.CheckJoinChannel(trial, uid, trial.Server.LobbyID); err != nil {
			return err
		}
		if prev != "" {
			if err := o.leaveServerVia(ctx, tx.Mutate, id, uid, prev); err != nil {
				return err
			}
		}
		return tx.Mutate(ctx, sid, func(room *domain.Room) ([]core.Effect, error) {
			var err error
			if created, err = core.JoinServer(room, uid, o.Rooms.Now()); err != nil {
				return nil, err
			}
			if _, inside := room.ChannelOf(uid); inside {
				return []core.Effect{{Kind: core.EffectServerUpdate}}, nil
			}
			return core.JoinChannel(room, uid, room.Server.LobbyID)
		}, func(room *domain.Room, effects []core.Effect) {
			if created {
				if err := o.Rooms.AddMembership(ctx, uid, sid); err != nil {
					log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("membership index")
				}
			}
			o.Registry.Subscribe(id, sid)
			if _, err := o.Presence.Update(ctx, uid, domain.WithLocation(sid, "")); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("presence on server join")
			}
			o.send(id, core.EventServerConnect, room)
			o.applyEffects(ctx, sid, room, effects)
		})
	})
	if err != nil {
		return fail(err)
	}
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("server", string(sid)).Msg("connected to server")
	return nil
}

func (o *Orchestrator) DisconnectServer(ctx context.Context, id core.ConnID, token string) error {
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		o.SendError(id, core.EventDisconnectServer, err)
		return err
	}
	pr, err := o.Presence.Get(ctx, uid)
	if err != nil {
		o.SendError(id, core.EventDisconnectServer, err)
		return err
	}
	sid := pr.ServerID
	if sid == "" {
		sid = o.Registry.ServerOf(id)
	}
	if sid == "" {
		o.send(id, core.EventServerDisconnect, core.ServerRefPayload{})
		return nil
	}
	if err := o.leaveServer(ctx, id, uid, sid); err != nil {
		o.SendError(id, core.EventDisconnectServer, err)
		return err
	}
	return nil
}

// mutator is Directory.Mutate or Tx.Mutate.
type mutator func(ctx context.Context, sid domain.ServerID, fn app.MutateFunc, publish app.PublishFunc) error

func (o *Orchestrator) leaveServer(ctx context.Context, id core.ConnID, uid domain.UserID, sid domain.ServerID) error {
	return o.leaveServerVia(ctx, o.Rooms.Mutate, id, uid, sid)
}

// leaveServerVia leaves any channel of sid first. Presence location and the
// room subscription are cleared even when the room update fails.
func (o *Orchestrator) leaveServerVia(ctx context.Context, mutate mutator, id core.ConnID, uid domain.UserID, sid domain.ServerID) error {
	err := mutate(ctx, sid, func(room *domain.Room) ([]core.Effect, error) {
		return core.LeaveChannel(room, uid), nil
	}, func(room *domain.Room, effects []core.Effect) {
		o.applyEffects(ctx, sid, room, effects)
	})
	if o.Registry.ServerOf(id) == sid {
		o.Registry.Unsubscribe(id)
	}
	if _, perr := o.Presence.Update(ctx, uid, domain.ClearLocation()); perr != nil {
		log.Error().Err(perr).Str("module", "orch").Str("user", string(uid)).Msg("presence on server leave")
	}
	o.send(id, core.EventServerDisconnect, core.ServerRefPayload{ServerID: sid})
	log.Info().Str("module", "orch").Str("user", string(uid)).Str("server", string(sid)).Msg("left server")
	return err
}

// ConnectChannel moves the caller into chID, leaving its previous server if
// the channel belongs to another one. Both rooms stay locked from the
// admission check to the join, so a refused join leaves the caller where it
// was.
func (o *Orchestrator) ConnectChannel(ctx context.Context, id core.ConnID, token string, chID domain.ChannelID) error {
	fail := func(err error) error {
		o.SendError(id, core.EventConnectChannel, err)
		return err
	}
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		return fail(err)
	}
	sid, err := o.Rooms.ServerOfChannel(ctx, chID)
	if err != nil {
		return fail(err)
	}
	pr, err := o.Presence.Get(ctx, uid)
	if err != nil {
		return fail(err)
	}
	prev := pr.ServerID
	if prev == sid {
		prev = ""
	}

	err = o.Rooms.Atomically(ctx, []domain.ServerID{prev, sid}, func(tx *app.Tx) error {
		room, err := tx.Room(ctx, sid)
		if err != nil {
			return err
		}
		if _, err := core.CheckJoinChannel(room, uid, chID); err != nil {
			return err
		}
		if prev != "" {
			if err := o.leaveServerVia(ctx, tx.Mutate, id, uid, prev); err != nil {
				return err
			}
		}
		return tx.Mutate(ctx, sid, func(room *domain.Room) ([]core.Effect, error) {
			return core.JoinChannel(room, uid, chID)
		}, func(room *domain.Room, effects []core.Effect) {
			if o.Registry.ServerOf(id) != sid {
				o.Registry.Subscribe(id, sid)
			}
			o.applyEffects(ctx, sid, room, effects)
		})
	})
	if err != nil {
		return fail(err)
	}
	return nil
}

// DisconnectChannel is a no-op when the caller sits in no channel.
func (o *Orchestrator) DisconnectChannel(ctx context.Context, id core.ConnID, token string) error {
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		o.SendError(id, core.EventDisconnectChannel, err)
		return err
	}
	pr, err := o.Presence.Get(ctx, uid)
	if err != nil {
		o.SendError(id, core.EventDisconnectChannel, err)
		return err
	}
	if pr.ServerID == "" {
		return nil
	}
	err = o.Rooms.Mutate(ctx, pr.ServerID, func(room *domain.Room) ([]core.Effect, error) {
		return core.LeaveChannel(room, uid), nil
	}, func(room *domain.Room, effects []core.Effect) {
		o.applyEffects(ctx, pr.ServerID, room, effects)
	})
	if err != nil {
		o.SendError(id, core.EventDisconnectChannel, err)
	}
	return err
}

func (o *Orchestrator) ChatMessage(ctx context.Context, id core.ConnID, p core.ChatMessagePayload) error {
	return o.channelOp(ctx, id, core.EventChatMessage, p.SessionToken, p.ChannelID,
		func(room *domain.Room, uid domain.UserID) ([]core.Effect, error) {
			_, effects, err := core.AppendMessage(room, uid, p.ChannelID, domain.MessageID(o.Rooms.NewID()), p.Message, o.Rooms.Now())
			return effects, err
		}, nil)
}

func (o *Orchestrator) AddChannel(ctx context.Context, id core.ConnID, p core.AddChannelPayload) error {
	uid, err := o.authorize(ctx, id, p.SessionToken)
	if err != nil {
		o.SendError(id, core.EventAddChannel, err)
		return err
	}
	err = o.Rooms.Mutate(ctx, p.ServerID, func(room *domain.Room) ([]core.Effect, error) {
		_, effects, err := core.CreateChannel(room, uid, domain.ChannelID(o.Rooms.NewID()), p.Channel)
		return effects, err
	}, func(room *domain.Room, effects []core.Effect) {
		o.applyEffects(ctx, p.ServerID, room, effects)
	})
	if err != nil {
		o.SendError(id, core.EventAddChannel, err)
	}
	return err
}

func (o *Orchestrator) EditChannel(ctx context.Context, id core.ConnID, p core.EditChannelPayload) error {
	return o.channelOp(ctx, id, core.EventEditChannel, p.SessionToken, p.ChannelID,
		func(room *domain.Room, uid domain.UserID) ([]core.Effect, error) {
			return core.EditChannel(room, uid, p.ChannelID, p.Channel, o.Rooms.NewID, o.Rooms.Now())
		}, nil)
}

func (o *Orchestrator) DeleteChannel(ctx context.Context, id core.ConnID, p core.DeleteChannelPayload) error {
	return o.channelOp(ctx, id, core.EventDeleteChannel, p.SessionToken, p.ChannelID,
		func(room *domain.Room, uid domain.UserID) ([]core.Effect, error) {
			return core.DeleteChannel(room, uid, p.ChannelID)
		}, func() {
			if err := o.Rooms.DropChannel(ctx, p.ChannelID); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("channel", string(p.ChannelID)).Msg("drop channel index")
			}
		})
}

// EditMember changes another member's level or nickname, or the caller's
// own nickname. The whole server sees the result.
func (o *Orchestrator) EditMember(ctx context.Context, id core.ConnID, p core.EditMemberPayload) error {
	uid, err := o.authorize(ctx, id, p.SessionToken)
	if err != nil {
		o.SendError(id, core.EventEditMember, err)
		return err
	}
	patch := core.MemberPatch{Permission: p.PermissionLevel, Nickname: p.Nickname}
	err = o.Rooms.Mutate(ctx, p.ServerID, func(room *domain.Room) ([]core.Effect, error) {
		return core.EditMember(room, uid, p.UserID, patch)
	}, func(room *domain.Room, effects []core.Effect) {
		o.applyEffects(ctx, p.ServerID, room, effects)
	})
	if err != nil {
		o.SendError(id, core.EventEditMember, err)
		return err
	}
	log.Info().Str("module", "orch").Str("server", string(p.ServerID)).Str("operator", string(uid)).Str("member", string(p.UserID)).Msg("member edited")
	return nil
}

// channelOp runs a mutation addressed by channel id against its server.
func (o *Orchestrator) channelOp(
	ctx context.Context,
	id core.ConnID,
	event, token string,
	chID domain.ChannelID,
	fn func(room *domain.Room, uid domain.UserID) ([]core.Effect, error),
	after func(),
) error {
	fail := func(err error) error {
		o.SendError(id, event, err)
		return err
	}
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		return fail(err)
	}
	sid, err := o.Rooms.ServerOfChannel(ctx, chID)
	if err != nil {
		return fail(err)
	}
	err = o.Rooms.Mutate(ctx, sid, func(room *domain.Room) ([]core.Effect, error) {
		effects, err := fn(room, uid)
		if err != nil {
			return nil, err
		}
		if err := o.saveMessages(ctx, effects); err != nil {
			return nil, err
		}
		return effects, nil
	}, func(room *domain.Room, effects []core.Effect) {
		o.applyEffects(ctx, sid, room, effects)
		if after != nil {
			after()
		}
	})
	if err != nil {
		return fail(err)
	}
	return nil
}
