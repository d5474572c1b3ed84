package orch

import (
	"context"
	"errors"

	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	errStaleTick = errors.New("stale contribution tick")
	errNotSeated = errors.New("identity is not in a channel")
)

// ConnectUser binds the connection to the identity behind token.
func (o *Orchestrator) ConnectUser(ctx context.Context, id core.ConnID, token string) error {
	uid, err := o.Sessions.Resolve(ctx, token)
	if err == nil {
		_, err = o.Users.Get(ctx, uid)
	}
	if err != nil {
		o.send(id, core.EventUserDisconnect, nil)
		o.SendError(id, core.EventConnectUser, err)
		return err
	}

	// A connection switching identities leaves as the old one first.
	if cur, err := o.Registry.IdentityOf(id); err == nil && cur != uid {
		o.Cleanup(ctx, id)
	}

	unlock := o.identities.Lock(string(uid))
	defer unlock()

	err = o.Registry.Bind(id, uid, token, func(old app.Binding) {
		o.send(old.ConnID, core.EventForceDisconnect, nil)
		o.cleanupLocked(ctx, old.ConnID)
		if old.Token != token {
			if err := o.Sessions.Revoke(ctx, old.Token); err != nil {
				log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("revoke replaced session")
			}
		}
	})
	if err != nil {
		o.SendError(id, core.EventConnectUser, err)
		return err
	}

	now := o.Rooms.Now()
	online := domain.StatusOnline
	pr, err := o.Presence.Update(ctx, uid, domain.PresencePatch{Status: &online, LastActiveAt: &now})
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("presence on connect")
	}
	user, err := o.Users.Get(ctx, uid)
	if err != nil {
		o.SendError(id, core.EventConnectUser, err)
		return err
	}
	servers, err := o.Users.Memberships(ctx, uid)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Str("user", string(uid)).Msg("memberships on connect")
	}
	o.send(id, core.EventUserConnect, core.UserConnectPayload{User: user, Presence: pr, Servers: servers})
	log.Info().Str("module", "orch").Str("conn", string(id)).Str("user", string(uid)).Msg("user connected")
	return nil
}

// authorize checks that id is bound with token and that the session is
// still live.
func (o *Orchestrator) authorize(ctx context.Context, id core.ConnID, token string) (domain.UserID, error) {
	uid, err := o.Registry.Authorize(id, token)
	if err != nil {
		return "", err
	}
	owner, err := o.Sessions.Resolve(ctx, token)
	if err != nil {
		return "", err
	}
	if owner != uid {
		return "", domain.ErrInvalidSession
	}
	return uid, nil
}

// DisconnectUser is an explicit logout: full cleanup, the session is
// revoked and userDisconnect confirms.
func (o *Orchestrator) DisconnectUser(ctx context.Context, id core.ConnID, token string) error {
	if _, err := o.authorize(ctx, id, token); err != nil {
		o.SendError(id, core.EventDisconnectUser, err)
		return err
	}
	o.Cleanup(ctx, id)
	if err := o.Sessions.Revoke(ctx, token); err != nil {
		log.Error().Err(err).Str("module", "orch").Str("conn", string(id)).Msg("revoke on logout")
	}
	o.send(id, core.EventUserDisconnect, nil)
	return nil
}

// EndSession revokes token and signs out the connection bound with it, if
// any.
func (o *Orchestrator) EndSession(ctx context.Context, token string) error {
	uid, err := o.Sessions.Resolve(ctx, token)
	if err != nil {
		return err
	}
	if err := o.Sessions.Revoke(ctx, token); err != nil {
		return err
	}
	id, err := o.Registry.ConnectionOf(uid)
	if err != nil {
		return nil
	}
	if _, err := o.Registry.Authorize(id, token); err != nil {
		return nil
	}
	o.Cleanup(ctx, id)
	o.send(id, core.EventUserDisconnect, nil)
	return nil
}

func (o *Orchestrator) UpdatePresence(ctx context.Context, id core.ConnID, token string, status domain.Status) error {
	uid, err := o.authorize(ctx, id, token)
	if err != nil {
		o.SendError(id, core.EventUpdatePresence, err)
		return err
	}
	if _, err := domain.ParseStatus(string(status)); err != nil {
		o.SendError(id, core.EventUpdatePresence, err)
		return err
	}
	now := o.Rooms.Now()
	pr, err := o.Presence.Update(ctx, uid, domain.PresencePatch{Status: &status, LastActiveAt: &now})
	if err != nil {
		o.SendError(id, core.EventUpdatePresence, err)
		return err
	}
	if sid := o.Registry.ServerOf(id); sid != "" {
		o.broadcastServer(sid, core.EventUserPresenceUpdate, pr)
	} else {
		o.send(id, core.EventUserPresenceUpdate, pr)
	}
	return nil
}

// OnTransportClosed is called by the transport once a connection is gone.
func (o *Orchestrator) OnTransportClosed(ctx context.Context, id core.ConnID) {
	o.Cleanup(ctx, id)
	o.Scheduler.Cancel(id)
	o.Policy.Forget(id)
	o.Registry.Detach(id)
}

// Cleanup is the single disconnect path shared by logout, forced
// replacement and transport loss. It is idempotent.
func (o *Orchestrator) Cleanup(ctx context.Context, id core.ConnID) {
	uid, err := o.Registry.IdentityOf(id)
	if err != nil {
		return
	}
	unlock := o.identities.Lock(string(uid))
	defer unlock()
	o.cleanupLocked(ctx, id)
}

// cleanupLocked expects the identity lock to be held. Every step runs even
// when an earlier one fails.
func (o *Orchestrator) cleanupLocked(ctx context.Context, id core.ConnID) {
	subscribed := o.Registry.ServerOf(id)
	b, ok := o.Registry.Unbind(id)
	if !ok {
		return
	}
	logger := log.With().Str("module", "orch.cleanup").Str("conn", string(id)).Str("user", string(b.UserID)).Logger()

	o.Scheduler.Cancel(id)

	sid := subscribed
	if pr, err := o.Presence.Get(ctx, b.UserID); err != nil {
		logger.Error().Err(err).Msg("read presence")
	} else if pr.ServerID != "" {
		sid = pr.ServerID
	}
	if sid != "" {
		if err := o.leaveServer(ctx, id, b.UserID, sid); err != nil {
			logger.Error().Err(err).Str("server", string(sid)).Msg("leave server")
		}
	}

	now := o.Rooms.Now()
	offline := domain.StatusOffline
	patch := domain.ClearLocation()
	patch.Status, patch.LastActiveAt = &offline, &now
	if _, err := o.Presence.Update(ctx, b.UserID, patch); err != nil {
		logger.Error().Err(err).Msg("presence offline")
	}
	logger.Info().Msg("cleaned up")
}

// contributionTick credits one tick to the identity sitting in a channel
// and tells only its own connection about the new level.
func (o *Orchestrator) contributionTick(ctx context.Context, id core.ConnID, uid domain.UserID) {
	pr, err := o.Presence.Get(ctx, uid)
	if err != nil {
		log.Error().Err(err).Str("module", "orch.contribution").Str("user", string(uid)).Msg("read presence")
		return
	}
	if pr.ServerID == "" {
		o.Scheduler.Cancel(id)
		return
	}
	err = o.Rooms.Mutate(ctx, pr.ServerID, func(room *domain.Room) ([]core.Effect, error) {
		if !o.Scheduler.Active(id, uid) {
			return nil, errStaleTick
		}
		if _, ok := room.ChannelOf(uid); !ok {
			return nil, errNotSeated
		}
		core.AddContribution(room, uid, 1)
		return nil, nil
	}, func(*domain.Room, []core.Effect) {
		user, err := o.Users.AddLevel(ctx, uid, 1)
		if err != nil {
			log.Error().Err(err).Str("module", "orch.contribution").Str("user", string(uid)).Msg("add level")
			return
		}
		o.send(id, core.EventUserUpdate, user)
	})
	switch {
	case errors.Is(err, errNotSeated):
		o.Scheduler.Cancel(id)
	case errors.Is(err, errStaleTick):
	case err != nil:
		log.Error().Err(err).Str("module", "orch.contribution").Str("user", string(uid)).Msg("tick")
	}
}
