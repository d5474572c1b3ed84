package orch_test

import (
	"testing"
	"time"

	"github.com/dkeye/chorus/internal/app"
	"github.com/dkeye/chorus/internal/domain"
)

func TestSlowConnectionDropsFramesBeforeKick(t *testing.T) {
	h := newHarness(t)
	h.o.Policy = app.NewStrikePolicy(h.clock, 2, time.Minute)
	owner := h.login("owner")
	room := h.server(owner)
	a := h.login("a")
	if err := h.o.ConnectServer(h.ctx, a.id, a.token, room.Server.ID); err != nil {
		t.Fatal(err)
	}

	a.conn.setFull(true)
	for _, st := range []domain.Status{domain.StatusIdle, domain.StatusDND} {
		if err := h.o.UpdatePresence(h.ctx, owner.id, owner.token, st); err != nil {
			t.Fatal(err)
		}
	}
	time.Sleep(50 * time.Millisecond)
	if a.conn.isClosed() {
		t.Fatal("kicked within its strikes")
	}
	if _, err := h.o.Registry.ConnectionOf(a.uid); err != nil {
		t.Fatalf("binding lost: %v", err)
	}

	if err := h.o.UpdatePresence(h.ctx, owner.id, owner.token, domain.StatusOnline); err != nil {
		t.Fatal(err)
	}
	eventually(t, a.conn.isClosed)
	eventually(t, func() bool {
		_, err := h.o.Registry.ConnectionOf(a.uid)
		return err != nil
	})
}
