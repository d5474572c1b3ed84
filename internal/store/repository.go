package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
)

// Key layout.
const (
	userPrefix       = "user/"
	presencePrefix   = "presence/"
	roomPrefix       = "room/"
	channelPrefix    = "channel/"
	sessionPrefix    = "session/"
	messagePrefix    = "message/"
	membershipPrefix = "memberships/"
)

// Repository maps entities onto a KV. It is safe for concurrent use but does
// not serialize read-modify-write cycles except for the membership index.
type Repository struct {
	kv    KV
	locks *core.KeyedLocker
}

func NewRepository(kv KV) *Repository {
	return &Repository{kv: kv, locks: core.NewKeyedLocker()}
}

func (r *Repository) get(ctx context.Context, key string, v any) error {
	raw, err := r.kv.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %v: %w", key, err, domain.ErrTransientStore)
	}
	return nil
}

func (r *Repository) put(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return r.kv.Set(ctx, key, raw)
}

func (r *Repository) User(ctx context.Context, uid domain.UserID) (*domain.User, error) {
	var u domain.User
	if err := r.get(ctx, userPrefix+string(uid), &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (r *Repository) PutUser(ctx context.Context, u *domain.User) error {
	return r.put(ctx, userPrefix+string(u.ID), u)
}

// Presence returns the stored record and whether one existed.
func (r *Repository) Presence(ctx context.Context, uid domain.UserID) (domain.Presence, bool, error) {
	var p domain.Presence
	err := r.get(ctx, presencePrefix+string(uid), &p)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return domain.OfflinePresence(uid), false, nil
	case err != nil:
		return domain.Presence{}, false, err
	}
	return p, true, nil
}

func (r *Repository) PutPresence(ctx context.Context, p domain.Presence) error {
	return r.put(ctx, presencePrefix+string(p.UserID), p)
}

func (r *Repository) Room(ctx context.Context, sid domain.ServerID) (*domain.Room, error) {
	var room domain.Room
	if err := r.get(ctx, roomPrefix+string(sid), &room); err != nil {
		return nil, err
	}
	return &room, nil
}

// PutRoom writes the room and indexes each of its channels.
func (r *Repository) PutRoom(ctx context.Context, room *domain.Room) error {
	if err := r.put(ctx, roomPrefix+string(room.Server.ID), room); err != nil {
		return err
	}
	for _, ch := range room.Channels {
		if err := r.kv.Set(ctx, channelPrefix+string(ch.ID), []byte(room.Server.ID)); err != nil {
			return err
		}
	}
	return nil
}

// ServerOfChannel resolves the owning server of a channel.
func (r *Repository) ServerOfChannel(ctx context.Context, chID domain.ChannelID) (domain.ServerID, error) {
	raw, err := r.kv.Get(ctx, channelPrefix+string(chID))
	if err != nil {
		return "", err
	}
	if len(raw) == 0 {
		return "", domain.ErrNotFound
	}
	return domain.ServerID(raw), nil
}

// DropChannel forgets a deleted channel's index entry.
func (r *Repository) DropChannel(ctx context.Context, chID domain.ChannelID) error {
	return r.kv.Set(ctx, channelPrefix+string(chID), nil)
}

// Session resolves a token. Unknown and revoked tokens both yield
// domain.ErrInvalidSession.
func (r *Repository) Session(ctx context.Context, token string) (domain.UserID, error) {
	raw, err := r.kv.Get(ctx, sessionPrefix+token)
	if errors.Is(err, domain.ErrNotFound) || (err == nil && len(raw) == 0) {
		return "", domain.ErrInvalidSession
	}
	if err != nil {
		return "", err
	}
	return domain.UserID(raw), nil
}

// SessionExists reports whether token was ever issued, revoked or not.
func (r *Repository) SessionExists(ctx context.Context, token string) (bool, error) {
	_, err := r.kv.Get(ctx, sessionPrefix+token)
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (r *Repository) PutSession(ctx context.Context, token string, uid domain.UserID) error {
	return r.kv.Set(ctx, sessionPrefix+token, []byte(uid))
}

func (r *Repository) RevokeSession(ctx context.Context, token string) error {
	return r.kv.Set(ctx, sessionPrefix+token, nil)
}

func (r *Repository) Message(ctx context.Context, id domain.MessageID) (*domain.Message, error) {
	var m domain.Message
	if err := r.get(ctx, messagePrefix+string(id), &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *Repository) PutMessage(ctx context.Context, m *domain.Message) error {
	return r.put(ctx, messagePrefix+string(m.ID), m)
}

// Memberships lists the servers uid belongs to.
func (r *Repository) Memberships(ctx context.Context, uid domain.UserID) ([]domain.ServerID, error) {
	var out []domain.ServerID
	err := r.get(ctx, membershipPrefix+string(uid), &out)
	if errors.Is(err, domain.ErrNotFound) {
		return []domain.ServerID{}, nil
	}
	return out, err
}

// AddMembership records sid in uid's membership index.
func (r *Repository) AddMembership(ctx context.Context, uid domain.UserID, sid domain.ServerID) error {
	unlock := r.locks.Lock(string(uid))
	defer unlock()
	list, err := r.Memberships(ctx, uid)
	if err != nil {
		return err
	}
	if slices.Contains(list, sid) {
		return nil
	}
	return r.put(ctx, membershipPrefix+string(uid), append(list, sid))
}
