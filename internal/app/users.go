package app

import (
	"context"
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
	"github.com/rs/zerolog/log"
)

type Users struct {
	repo  *store.Repository
	locks *core.KeyedLocker
	clock clock.Clock
}

func NewUsers(repo *store.Repository, clk clock.Clock) *Users {
	return &Users{repo: repo, locks: core.NewKeyedLocker(), clock: clk}
}

func (u *Users) Get(ctx context.Context, uid domain.UserID) (*domain.User, error) {
	user, err := u.repo.User(ctx, uid)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.Missing("USER_NOT_FOUND", "identity does not exist")
	}
	return user, err
}

// Ensure returns the identity, creating it with username on first sight.
func (u *Users) Ensure(ctx context.Context, uid domain.UserID, username string) (*domain.User, bool, error) {
	unlock := u.locks.Lock(string(uid))
	defer unlock()
	user, err := u.repo.User(ctx, uid)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, false, err
	}
	user, err = domain.NewUser(uid, username, u.clock.Now().UnixMilli())
	if err != nil {
		return nil, false, domain.Invalid("USER_INVALID", err.Error())
	}
	if err := u.repo.PutUser(ctx, user); err != nil {
		return nil, false, err
	}
	log.Info().Str("module", "app.users").Str("user", string(uid)).Msg("created identity")
	return user, true, nil
}

// AddLevel bumps the identity's level counter.
func (u *Users) AddLevel(ctx context.Context, uid domain.UserID, delta int64) (*domain.User, error) {
	unlock := u.locks.Lock(string(uid))
	defer unlock()
	user, err := u.repo.User(ctx, uid)
	if err != nil {
		return nil, err
	}
	user.Level += delta
	if err := u.repo.PutUser(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

func (u *Users) Memberships(ctx context.Context, uid domain.UserID) ([]domain.ServerID, error) {
	return u.repo.Memberships(ctx, uid)
}
