package app_test

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
)

func newTestRepo() *store.Repository {
	return store.NewRepository(store.NewMemoryKV())
}

func TestSessionsLifecycle(t *testing.T) {
	ctx := context.Background()
	s := app.NewSessions(newTestRepo())
	token, err := s.Create(ctx, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(token) < 40 {
		t.Fatalf("token too short: %q", token)
	}
	uid, err := s.Resolve(ctx, token)
	if err != nil || uid != "alice" {
		t.Fatalf("resolve: %q %v", uid, err)
	}
	if err := s.Revoke(ctx, token); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Resolve(ctx, token); !errors.Is(err, domain.ErrInvalidSession) {
		t.Fatalf("revoked token resolved: %v", err)
	}
	if _, err := s.Resolve(ctx, ""); !errors.Is(err, domain.ErrInvalidSession) {
		t.Fatalf("empty token resolved: %v", err)
	}
}

func TestSessionsRejectCollision(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo()
	fixed := bytes.Repeat([]byte{7}, 64)

	s := app.NewSessions(repo).WithRandom(bytes.NewReader(fixed))
	if _, err := s.Create(ctx, "alice"); err != nil {
		t.Fatal(err)
	}
	s.WithRandom(bytes.NewReader(fixed))
	if _, err := s.Create(ctx, "bob"); !errors.Is(err, app.ErrTokenCollision) {
		t.Fatalf("expected collision, got %v", err)
	}
}
