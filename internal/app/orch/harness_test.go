package orch_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/app/orch"
	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
	"github.com/dkeye/chorus/internal/store"
	"github.com/tidwall/gjson"
)

type fakeConn struct {
	mu     sync.Mutex
	frames []gjson.Result
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return core.ErrConnClosed
	}
	if c.full {
		return core.ErrBackpressure
	}
	c.frames = append(c.frames, gjson.ParseBytes(f))
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) of(typ string) []gjson.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []gjson.Result
	for _, f := range c.frames {
		if f.Get("type").String() == typ {
			out = append(out, f)
		}
	}
	return out
}

func (c *fakeConn) count(typ string) int { return len(c.of(typ)) }

func (c *fakeConn) last(typ string) gjson.Result {
	frames := c.of(typ)
	if len(frames) == 0 {
		return gjson.Result{}
	}
	return frames[len(frames)-1]
}

func (c *fakeConn) setFull(full bool) {
	c.mu.Lock()
	c.full = full
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	c.frames = nil
	c.mu.Unlock()
}

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *clock.Mock
	o     *orch.Orchestrator
	seq   int
}

type client struct {
	id    core.ConnID
	uid   domain.UserID
	token string
	conn  *fakeConn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewMock()
	repo := store.NewRepository(store.NewMemoryKV())
	sched := app.NewScheduler(clk, 10*time.Second)
	t.Cleanup(sched.Stop)
	o := (&orch.Orchestrator{
		Registry:  app.NewRegistry(),
		Sessions:  app.NewSessions(repo),
		Users:     app.NewUsers(repo, clk),
		Presence:  app.NewPresenceStore(repo, clk),
		Rooms:     app.NewDirectory(repo, clk),
		Scheduler: sched,
	}).Wire()
	return &harness{t: t, ctx: context.Background(), clock: clk, o: o}
}

func (h *harness) attach(name string) (core.ConnID, *fakeConn) {
	h.seq++
	id := core.ConnID(fmt.Sprintf("conn-%s-%d", name, h.seq))
	conn := &fakeConn{}
	h.o.Registry.Attach(id, conn)
	return id, conn
}

func (h *harness) login(name string) *client {
	h.t.Helper()
	uid := domain.UserID(name)
	if _, _, err := h.o.Users.Ensure(h.ctx, uid, name); err != nil {
		h.t.Fatalf("ensure %s: %v", name, err)
	}
	token, err := h.o.Sessions.Create(h.ctx, uid)
	if err != nil {
		h.t.Fatalf("session %s: %v", name, err)
	}
	id, conn := h.attach(name)
	if err := h.o.ConnectUser(h.ctx, id, token); err != nil {
		h.t.Fatalf("connect %s: %v", name, err)
	}
	return &client{id: id, uid: uid, token: token, conn: conn}
}

func (h *harness) server(owner *client) *domain.Room {
	h.t.Helper()
	if err := h.o.CreateServer(h.ctx, owner.id, core.CreateServerPayload{SessionToken: owner.token, Name: "Guild"}); err != nil {
		h.t.Fatalf("create server: %v", err)
	}
	return h.room(domain.ServerID(owner.conn.last(core.EventServerConnect).Get("payload.server.id").String()))
}

func (h *harness) room(sid domain.ServerID) *domain.Room {
	h.t.Helper()
	room, err := h.o.Rooms.Room(h.ctx, sid)
	if err != nil {
		h.t.Fatalf("room %s: %v", sid, err)
	}
	return room
}

func (h *harness) addChannel(owner *client, sid domain.ServerID, name string, capacity int) domain.ChannelID {
	h.t.Helper()
	err := h.o.AddChannel(h.ctx, owner.id, core.AddChannelPayload{
		SessionToken: owner.token,
		ServerID:     sid,
		Channel:      core.ChannelInput{Name: name, Capacity: capacity},
	})
	if err != nil {
		h.t.Fatalf("add channel: %v", err)
	}
	for _, ch := range h.room(sid).Channels {
		if ch.Name == name {
			return ch.ID
		}
	}
	h.t.Fatalf("channel %s not found", name)
	return ""
}

func (h *harness) presence(c *client) domain.Presence {
	h.t.Helper()
	p, err := h.o.Presence.Get(h.ctx, c.uid)
	if err != nil {
		h.t.Fatal(err)
	}
	return p
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}
