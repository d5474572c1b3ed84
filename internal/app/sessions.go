package app

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
	"github.com/rs/zerolog/log"
)

var ErrTokenCollision = errors.New("session token collision")

const tokenBytes = 32

// Sessions is the Session Registry: opaque random tokens resolving to
// identities.
type Sessions struct {
	repo   *store.Repository
	locks  *core.KeyedLocker
	random io.Reader
}

func NewSessions(repo *store.Repository) *Sessions {
	return &Sessions{repo: repo, locks: core.NewKeyedLocker(), random: rand.Reader}
}

// WithRandom swaps the entropy source; tests use it to force collisions.
func (s *Sessions) WithRandom(r io.Reader) *Sessions {
	s.random = r
	return s
}

// Create issues a new token for uid. A token that was ever issued before is
// rejected rather than reused.
func (s *Sessions) Create(ctx context.Context, uid domain.UserID) (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := io.ReadFull(s.random, buf); err != nil {
		return "", fmt.Errorf("read token entropy: %w", err)
	}
	token := base64.RawURLEncoding.EncodeToString(buf)

	unlock := s.locks.Lock(token)
	defer unlock()
	exists, err := s.repo.SessionExists(ctx, token)
	if err != nil {
		return "", err
	}
	if exists {
		log.Error().Str("module", "app.sessions").Str("user", string(uid)).Msg("token collision")
		return "", ErrTokenCollision
	}
	if err := s.repo.PutSession(ctx, token, uid); err != nil {
		return "", err
	}
	log.Info().Str("module", "app.sessions").Str("user", string(uid)).Msg("session created")
	return token, nil
}

// Resolve returns domain.ErrInvalidSession for unknown or revoked tokens.
func (s *Sessions) Resolve(ctx context.Context, token string) (domain.UserID, error) {
	if token == "" {
		return "", domain.ErrInvalidSession
	}
	return s.repo.Session(ctx, token)
}

func (s *Sessions) Revoke(ctx context.Context, token string) error {
	unlock := s.locks.Lock(token)
	defer unlock()
	if err := s.repo.RevokeSession(ctx, token); err != nil {
		return err
	}
	log.Info().Str("module", "app.sessions").Msg("session revoked")
	return nil
}
