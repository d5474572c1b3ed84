package app

import (
	"context"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultContributionInterval = 10 * time.Second

// TickFunc runs on every contribution tick of a connection.
type TickFunc func(ctx context.Context, conn core.ConnID, uid domain.UserID)

type ticket struct {
	uid    domain.UserID
	ticker *clock.Ticker
	done   chan struct{}
}

// Scheduler keeps one recurring timer per connection while its identity
// sits in a channel.
type Scheduler struct {
	clock    clock.Clock
	interval time.Duration
	onTick   TickFunc

	mu      sync.Mutex
	tickets map[core.ConnID]*ticket
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

func NewScheduler(clk clock.Clock, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultContributionInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		clock:    clk,
		interval: interval,
		tickets:  make(map[core.ConnID]*ticket),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// OnTick sets the tick handler. Call before the first Start.
func (s *Scheduler) OnTick(fn TickFunc) { s.onTick = fn }

// Start arms the timer for conn, replacing any existing one.
func (s *Scheduler) Start(conn core.ConnID, uid domain.UserID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return
	}
	if old, ok := s.tickets[conn]; ok {
		old.stop()
	}
	t := &ticket{uid: uid, ticker: s.clock.Ticker(s.interval), done: make(chan struct{})}
	s.tickets[conn] = t
	s.wg.Add(1)
	go s.run(conn, t)
	log.Debug().Str("module", "app.contribution").Str("conn", string(conn)).Str("user", string(uid)).Msg("timer started")
}

func (s *Scheduler) run(conn core.ConnID, t *ticket) {
	defer s.wg.Done()
	for {
		select {
		case <-t.done:
			return
		case <-s.ctx.Done():
			return
		case <-t.ticker.C:
			if s.onTick != nil {
				s.onTick(s.ctx, conn, t.uid)
			}
		}
	}
}

// Cancel stops the timer for conn. Safe to call repeatedly and for
// connections that never had one.
func (s *Scheduler) Cancel(conn core.ConnID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tickets[conn]; ok {
		t.stop()
		delete(s.tickets, conn)
		log.Debug().Str("module", "app.contribution").Str("conn", string(conn)).Msg("timer cancelled")
	}
}

// Active reports whether conn currently has a timer for uid.
func (s *Scheduler) Active(conn core.ConnID, uid domain.UserID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[conn]
	return ok && t.uid == uid
}

func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tickets)
}

// Stop cancels every timer and waits for in-flight ticks to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.cancel()
	for conn, t := range s.tickets {
		t.stop()
		delete(s.tickets, conn)
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (t *ticket) stop() {
	t.ticker.Stop()
	close(t.done)
}
