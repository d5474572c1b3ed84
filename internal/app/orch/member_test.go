package orch_test

import (
	"errors"
	"testing"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
)

func levelPtr(l domain.PermissionLevel) *domain.PermissionLevel { return &l }

func TestEditMemberPromotesAndBroadcasts(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner")
	room := h.server(owner)
	sid := room.Server.ID
	err := h.o.AddChannel(h.ctx, owner.id, core.AddChannelPayload{
		SessionToken: owner.token,
		ServerID:     sid,
		Channel:      core.ChannelInput{Name: "Vault", Visibility: domain.ChannelPrivate},
	})
	if err != nil {
		t.Fatal(err)
	}
	var vault domain.ChannelID
	for _, ch := range h.room(sid).Channels {
		if ch.Name == "Vault" {
			vault = ch.ID
		}
	}

	a := h.login("a")
	if err := h.o.ConnectServer(h.ctx, a.id, a.token, sid); err != nil {
		t.Fatal(err)
	}
	if err := h.o.ConnectChannel(h.ctx, a.id, a.token, vault); err == nil {
		t.Fatal("guest entered a private channel")
	}

	owner.conn.reset()
	a.conn.reset()
	nickname := "Scout"
	err = h.o.EditMember(h.ctx, owner.id, core.EditMemberPayload{
		SessionToken:    owner.token,
		ServerID:        sid,
		UserID:          a.uid,
		PermissionLevel: levelPtr(domain.PermissionTrusted),
		Nickname:        &nickname,
	})
	if err != nil {
		t.Fatal(err)
	}

	for _, c := range []*client{owner, a} {
		upd := c.conn.last(core.EventServerUpdate)
		m := upd.Get(`payload.server.members.#(userId=="a")`)
		if m.Get("permissionLevel").Int() != int64(domain.PermissionTrusted) || m.Get("nickname").String() != "Scout" {
			t.Fatalf("%s saw member %s", c.uid, m.Raw)
		}
	}
	if err := h.o.ConnectChannel(h.ctx, a.id, a.token, vault); err != nil {
		t.Fatalf("promoted member refused: %v", err)
	}
}

func TestEditMemberRefusesOwnerChange(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner")
	room := h.server(owner)
	sid := room.Server.ID
	a := h.login("a")
	if err := h.o.ConnectServer(h.ctx, a.id, a.token, sid); err != nil {
		t.Fatal(err)
	}
	if err := h.o.EditMember(h.ctx, owner.id, core.EditMemberPayload{
		SessionToken: owner.token, ServerID: sid, UserID: a.uid, PermissionLevel: levelPtr(domain.PermissionAdmin),
	}); err != nil {
		t.Fatal(err)
	}

	a.conn.reset()
	err := h.o.EditMember(h.ctx, a.id, core.EditMemberPayload{
		SessionToken: a.token, ServerID: sid, UserID: owner.uid, PermissionLevel: levelPtr(domain.PermissionGuest),
	})
	if !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("err = %v", err)
	}
	if got := a.conn.last(core.EventError).Get("payload.part").String(); got != "EDITMEMBER" {
		t.Fatalf("error part = %q", got)
	}
	if got := a.conn.last(core.EventError).Get("payload.tag").String(); got != "PERMISSION_DENIED" {
		t.Fatalf("error tag = %q", got)
	}
	if a.conn.count(core.EventServerUpdate) != 0 {
		t.Fatal("refused edit was broadcast")
	}
	m, _ := h.room(sid).Member(owner.uid)
	if m.Permission != domain.PermissionOwner {
		t.Fatalf("owner level = %d", m.Permission)
	}
}

func TestEditMemberRequiresLiveSession(t *testing.T) {
	h := newHarness(t)
	owner := h.login("owner")
	room := h.server(owner)
	if err := h.o.Sessions.Revoke(h.ctx, owner.token); err != nil {
		t.Fatal(err)
	}
	nickname := "ghost"
	err := h.o.EditMember(h.ctx, owner.id, core.EditMemberPayload{
		SessionToken: owner.token, ServerID: room.Server.ID, UserID: owner.uid, Nickname: &nickname,
	})
	if !errors.Is(err, domain.ErrInvalidSession) {
		t.Fatalf("err = %v", err)
	}
}
