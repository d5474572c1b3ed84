package app

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"golang.org/x/time/rate"
)

type BackpressureAction int

const (
	// DropFrame discards the frame that did not fit and keeps the connection.
	DropFrame BackpressureAction = iota
	KickMember
)

// Policy decides what happens to a connection whose send buffer is full.
type Policy interface {
	OnBackPressure(conn core.ConnID, uid domain.UserID) BackpressureAction
	// Forget drops any state kept for a connection that went away.
	Forget(conn core.ConnID)
}

// SimplePolicy kicks on the first overflow.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.ConnID, domain.UserID) BackpressureAction {
	return KickMember
}

func (SimplePolicy) Forget(core.ConnID) {}

// StrikePolicy tolerates up to strikes overflows per window for each
// connection by dropping the frame, and kicks past that.
type StrikePolicy struct {
	clock   clock.Clock
	limit   rate.Limit
	strikes int

	mu    sync.Mutex
	conns map[core.ConnID]*rate.Limiter
}

func NewStrikePolicy(clk clock.Clock, strikes int, window time.Duration) *StrikePolicy {
	if clk == nil {
		clk = clock.New()
	}
	return &StrikePolicy{
		clock:   clk,
		limit:   rate.Every(window / time.Duration(max(strikes, 1))),
		strikes: strikes,
		conns:   make(map[core.ConnID]*rate.Limiter),
	}
}

func (p *StrikePolicy) OnBackPressure(conn core.ConnID, _ domain.UserID) BackpressureAction {
	if p.strikes <= 0 {
		return KickMember
	}
	p.mu.Lock()
	lim, ok := p.conns[conn]
	if !ok {
		lim = rate.NewLimiter(p.limit, p.strikes)
		p.conns[conn] = lim
	}
	p.mu.Unlock()
	if lim.AllowN(p.clock.Now(), 1) {
		return DropFrame
	}
	return KickMember
}

func (p *StrikePolicy) Forget(conn core.ConnID) {
	p.mu.Lock()
	delete(p.conns, conn)
	p.mu.Unlock()
}
