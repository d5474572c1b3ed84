package app

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// MutateFunc edits a freshly loaded room. Returning an error discards the
// edit.
type MutateFunc func(room *domain.Room) ([]core.Effect, error)

// PublishFunc delivers the effects of a persisted edit. It runs while the
// room is still locked, so broadcasts leave in mutation order.
type PublishFunc func(room *domain.Room, effects []core.Effect)

// Directory is the Room Directory. Every mutation of a server's room runs
// load, edit, persist and publish as one step under that server's lock.
type Directory struct {
	repo  *store.Repository
	locks *core.KeyedLocker
	clock clock.Clock
	ids   core.IDFunc
}

func NewDirectory(repo *store.Repository, clk clock.Clock) *Directory {
	return &Directory{
		repo:  repo,
		locks: core.NewKeyedLocker(),
		clock: clk,
		ids:   uuid.NewString,
	}
}

func (d *Directory) Now() int64 { return d.clock.Now().UnixMilli() }

func (d *Directory) NewID() string { return d.ids() }

// Room returns a snapshot without taking the room lock.
func (d *Directory) Room(ctx context.Context, sid domain.ServerID) (*domain.Room, error) {
	room, err := d.repo.Room(ctx, sid)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Missing("SERVER_NOT_FOUND", "server does not exist")
	}
	return room, err
}

func (d *Directory) ServerOfChannel(ctx context.Context, chID domain.ChannelID) (domain.ServerID, error) {
	sid, err := d.repo.ServerOfChannel(ctx, chID)
	if errors.Is(err, domain.ErrNotFound) {
		return "", domain.Missing("CHANNEL_NOT_FOUND", "channel does not exist")
	}
	return sid, err
}

// CreateServer persists a new server owned by owner, with its lobby.
func (d *Directory) CreateServer(ctx context.Context, owner domain.UserID, name string, vis domain.ServerVisibility) (*domain.Room, error) {
	sid := domain.ServerID(d.ids())
	room, err := core.NewRoom(sid, domain.ChannelID(d.ids()), owner, name, vis, d.Now())
	if err != nil {
		return nil, err
	}
	unlock := d.locks.Lock(string(sid))
	defer unlock()
	if err := d.repo.PutRoom(ctx, room); err != nil {
		return nil, err
	}
	if err := d.repo.AddMembership(ctx, owner, sid); err != nil {
		return nil, err
	}
	log.Info().Str("module", "app.directory").Str("server", string(sid)).Str("owner", string(owner)).Msg("server created")
	return room, nil
}

// Mutate serializes fn against every other mutation of sid.
func (d *Directory) Mutate(ctx context.Context, sid domain.ServerID, fn MutateFunc, publish PublishFunc) error {
	unlock := d.locks.Lock(string(sid))
	defer unlock()
	return d.mutate(ctx, sid, fn, publish)
}

func (d *Directory) mutate(ctx context.Context, sid domain.ServerID, fn MutateFunc, publish PublishFunc) error {
	room, err := d.Room(ctx, sid)
	if err != nil {
		return err
	}
	effects, err := fn(room)
	if err != nil {
		return err
	}
	if err := d.repo.PutRoom(ctx, room); err != nil {
		return err
	}
	if publish != nil {
		publish(room, effects)
	}
	return nil
}

// Tx mutates rooms whose locks are held by Atomically.
type Tx struct {
	d    *Directory
	held []domain.ServerID
}

var errNotHeld = errors.New("room not locked by transaction")

// Room loads sid under the held lock.
func (t *Tx) Room(ctx context.Context, sid domain.ServerID) (*domain.Room, error) {
	if !slices.Contains(t.held, sid) {
		return nil, fmt.Errorf("%s: %w", sid, errNotHeld)
	}
	return t.d.Room(ctx, sid)
}

func (t *Tx) Mutate(ctx context.Context, sid domain.ServerID, fn MutateFunc, publish PublishFunc) error {
	if !slices.Contains(t.held, sid) {
		return fmt.Errorf("%s: %w", sid, errNotHeld)
	}
	return t.d.mutate(ctx, sid, fn, publish)
}

// Atomically runs fn with every room in sids locked. Locks are taken in id
// order so two transactions over the same rooms cannot deadlock.
func (d *Directory) Atomically(ctx context.Context, sids []domain.ServerID, fn func(tx *Tx) error) error {
	held := slices.Clone(sids)
	held = slices.DeleteFunc(held, func(s domain.ServerID) bool { return s == "" })
	slices.Sort(held)
	held = slices.Compact(held)
	for _, sid := range held {
		unlock := d.locks.Lock(string(sid))
		defer unlock()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(&Tx{d: d, held: held})
}

func (d *Directory) SaveMessage(ctx context.Context, m *domain.Message) error {
	return d.repo.PutMessage(ctx, m)
}

func (d *Directory) AddMembership(ctx context.Context, uid domain.UserID, sid domain.ServerID) error {
	return d.repo.AddMembership(ctx, uid, sid)
}

func (d *Directory) DropChannel(ctx context.Context, chID domain.ChannelID) error {
	return d.repo.DropChannel(ctx, chID)
}
