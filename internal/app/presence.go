package app

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
)

// PresenceStore reads and patches presence records. Updates for one
// identity are serialized; broadcasting is left to the caller.
type PresenceStore struct {
	repo  *store.Repository
	locks *core.KeyedLocker
	clock clock.Clock
}

func NewPresenceStore(repo *store.Repository, clk clock.Clock) *PresenceStore {
	return &PresenceStore{repo: repo, locks: core.NewKeyedLocker(), clock: clk}
}

// Get returns an offline record for identities never seen before.
func (p *PresenceStore) Get(ctx context.Context, uid domain.UserID) (domain.Presence, error) {
	pr, _, err := p.repo.Presence(ctx, uid)
	return pr, err
}

func (p *PresenceStore) Update(ctx context.Context, uid domain.UserID, patch domain.PresencePatch) (domain.Presence, error) {
	unlock := p.locks.Lock(string(uid))
	defer unlock()
	pr, _, err := p.repo.Presence(ctx, uid)
	if err != nil {
		return domain.Presence{}, err
	}
	pr.Apply(patch, p.clock.Now().UnixMilli())
	if err := p.repo.PutPresence(ctx, pr); err != nil {
		return domain.Presence{}, err
	}
	return pr, nil
}
