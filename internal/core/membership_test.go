package core_test

import (
	"errors"
	"slices"
	"testing"

	"github.com/dkeye/chorus/internal/core"
	"github.com/dkeye/chorus/internal/domain"
)

func newRoom(t *testing.T) *domain.Room {
	t.Helper()
	room, err := core.NewRoom("s1", "lobby", "owner", "Guild", domain.ServerPublic, 1)
	if err != nil {
		t.Fatalf("new room: %v", err)
	}
	ch, _, err := core.CreateChannel(room, "owner", "voice", core.ChannelInput{Name: "Voice", Capacity: 2})
	if err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if ch.Order != 1 {
		t.Fatalf("expected order 1, got %d", ch.Order)
	}
	return room
}

func kinds(effects []core.Effect) []core.EffectKind {
	out := make([]core.EffectKind, 0, len(effects))
	for _, e := range effects {
		out = append(out, e.Kind)
	}
	return out
}

func countKind(effects []core.Effect, k core.EffectKind) int {
	n := 0
	for _, e := range effects {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func tagOf(err error) string {
	var de *domain.Error
	if errors.As(err, &de) {
		return de.Tag
	}
	return ""
}

func TestJoinServerIdempotent(t *testing.T) {
	room := newRoom(t)
	created, err := core.JoinServer(room, "alice", 2)
	if err != nil || !created {
		t.Fatalf("first join: created=%v err=%v", created, err)
	}
	created, err = core.JoinServer(room, "alice", 3)
	if err != nil || created {
		t.Fatalf("second join: created=%v err=%v", created, err)
	}
	if len(room.Server.Members) != 2 {
		t.Fatalf("expected 2 members, got %d", len(room.Server.Members))
	}
	m, _ := room.Member("alice")
	if m.Permission != domain.PermissionGuest {
		t.Errorf("expected guest level, got %d", m.Permission)
	}
}

func TestJoinServerInvisibleDenied(t *testing.T) {
	room, err := core.NewRoom("s2", "lobby2", "owner", "Hidden", domain.ServerInvisible, 1)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := core.JoinServer(room, "alice", 2); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
}

func TestJoinChannelCapacity(t *testing.T) {
	room := newRoom(t)
	for _, uid := range []domain.UserID{"a", "b", "c"} {
		if _, err := core.JoinServer(room, uid, 2); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := core.JoinChannel(room, "a", "voice"); err != nil {
		t.Fatalf("a: %v", err)
	}
	eff, err := core.JoinChannel(room, "b", "voice")
	if err != nil {
		t.Fatalf("b: %v", err)
	}
	for _, e := range eff {
		if e.Kind == core.EffectRTCJoin && !slices.Equal(e.Recipients, []domain.UserID{"a"}) {
			t.Errorf("RTCJoin should reach only previous members, got %v", e.Recipients)
		}
	}
	_, err = core.JoinChannel(room, "c", "voice")
	if tagOf(err) != "CHANNEL_IS_FULL" {
		t.Fatalf("expected CHANNEL_IS_FULL, got %v", err)
	}
	ch, _ := room.Channel("voice")
	if len(ch.Members) != 2 {
		t.Fatalf("expected 2 occupants, got %v", ch.Members)
	}

	// the owner overrides capacity
	if _, err := core.JoinChannel(room, "owner", "voice"); err != nil {
		t.Fatalf("owner override: %v", err)
	}
}

func TestJoinChannelRepeatIsNoop(t *testing.T) {
	room := newRoom(t)
	core.JoinServer(room, "a", 2)
	if _, err := core.JoinChannel(room, "a", "voice"); err != nil {
		t.Fatal(err)
	}
	eff, err := core.JoinChannel(room, "a", "voice")
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(kinds(eff), []core.EffectKind{core.EffectServerUpdate}) {
		t.Fatalf("repeat join effects: %v", kinds(eff))
	}
	ch, _ := room.Channel("voice")
	if len(ch.Members) != 1 {
		t.Fatalf("duplicate member: %v", ch.Members)
	}
}

func TestJoinChannelMovesWithinRoom(t *testing.T) {
	room := newRoom(t)
	core.JoinServer(room, "a", 2)
	core.JoinServer(room, "b", 2)
	core.JoinChannel(room, "b", "lobby")
	core.JoinChannel(room, "a", "lobby")

	eff, err := core.JoinChannel(room, "a", "voice")
	if err != nil {
		t.Fatal(err)
	}
	if n := countKind(eff, core.EffectServerUpdate); n != 1 {
		t.Fatalf("expected exactly one server update, got %d", n)
	}
	lobby, _ := room.Channel("lobby")
	if lobby.Has("a") {
		t.Fatal("a still in lobby")
	}
	for _, e := range eff {
		if e.Kind == core.EffectRTCLeave && !slices.Equal(e.Recipients, []domain.UserID{"b"}) {
			t.Errorf("RTCLeave recipients: %v", e.Recipients)
		}
	}
	if got := countKind(eff, core.EffectCancelContribution); got != 1 {
		t.Errorf("expected one contribution cancel, got %d", got)
	}
}

func TestJoinChannelRules(t *testing.T) {
	tests := []struct {
		name  string
		input core.ChannelInput
		level domain.PermissionLevel
		tag   string
	}{
		{"readonly", core.ChannelInput{Name: "news", Visibility: domain.ChannelReadonly}, domain.PermissionOwner, "CHANNEL_IS_READONLY"},
		{"member guest", core.ChannelInput{Name: "m", Visibility: domain.ChannelMember}, domain.PermissionGuest, "PERMISSION_DENIED"},
		{"member ok", core.ChannelInput{Name: "m", Visibility: domain.ChannelMember}, domain.PermissionMember, ""},
		{"private member", core.ChannelInput{Name: "p", Visibility: domain.ChannelPrivate}, domain.PermissionMember, "PERMISSION_DENIED"},
		{"private trusted", core.ChannelInput{Name: "p", Visibility: domain.ChannelPrivate}, domain.PermissionTrusted, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			room := newRoom(t)
			if _, _, err := core.CreateChannel(room, "owner", "x", tt.input); err != nil {
				t.Fatal(err)
			}
			core.JoinServer(room, "u", 2)
			m, _ := room.Member("u")
			m.Permission = tt.level
			_, err := core.JoinChannel(room, "u", "x")
			if got := tagOf(err); got != tt.tag {
				t.Fatalf("expected tag %q, got %q (%v)", tt.tag, got, err)
			}
		})
	}
}

func TestJoinChannelRequiresMembership(t *testing.T) {
	room := newRoom(t)
	if _, err := core.JoinChannel(room, "stranger", "voice"); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("expected permission denied, got %v", err)
	}
	if _, err := core.JoinChannel(room, "owner", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLeaveChannel(t *testing.T) {
	room := newRoom(t)
	if eff := core.LeaveChannel(room, "owner"); eff != nil {
		t.Fatalf("leaving nothing should yield no effects, got %v", kinds(eff))
	}
	core.JoinChannel(room, "owner", "voice")
	eff := core.LeaveChannel(room, "owner")
	if countKind(eff, core.EffectServerUpdate) != 1 || countKind(eff, core.EffectChannelDisconnect) != 1 {
		t.Fatalf("unexpected effects %v", kinds(eff))
	}
	if _, ok := room.ChannelOf("owner"); ok {
		t.Fatal("owner still seated")
	}
}

func TestEditChannelVoiceModeNotice(t *testing.T) {
	room := newRoom(t)
	mode := domain.VoiceForbidden
	ids := func() string { return "m1" }
	eff, err := core.EditChannel(room, "owner", "voice", core.ChannelPatch{VoiceMode: &mode}, ids, 10)
	if err != nil {
		t.Fatal(err)
	}
	if countKind(eff, core.EffectChannelMessage) != 1 {
		t.Fatalf("expected an info message, got %v", kinds(eff))
	}
	for _, e := range eff {
		if e.Kind == core.EffectChannelMessage && e.Message.Type != domain.MessageTypeInfo {
			t.Errorf("message type %q", e.Message.Type)
		}
	}

	core.JoinServer(room, "guest", 2)
	if _, err := core.EditChannel(room, "guest", "voice", core.ChannelPatch{VoiceMode: &mode}, ids, 11); !errors.Is(err, domain.ErrPermissionDenied) {
		t.Fatalf("guest edit: %v", err)
	}
}

func TestDeleteChannel(t *testing.T) {
	room := newRoom(t)
	if _, err := core.DeleteChannel(room, "owner", "lobby"); tagOf(err) != "LOBBY_NOT_DELETABLE" {
		t.Fatalf("expected LOBBY_NOT_DELETABLE, got %v", err)
	}
	core.JoinServer(room, "a", 2)
	core.JoinChannel(room, "a", "voice")
	eff, err := core.DeleteChannel(room, "owner", "voice")
	if err != nil {
		t.Fatal(err)
	}
	if countKind(eff, core.EffectChannelDisconnect) != 1 {
		t.Fatalf("occupant not evicted: %v", kinds(eff))
	}
	if _, ok := room.Channel("voice"); ok || len(room.Server.ChannelIDs) != 1 {
		t.Fatal("channel still listed")
	}
}

func TestAppendMessageMonotonic(t *testing.T) {
	room := newRoom(t)
	m1, _, err := core.AppendMessage(room, "owner", "lobby", "1", core.MessageInput{Content: "hi"}, 100)
	if err != nil {
		t.Fatal(err)
	}
	m2, _, err := core.AppendMessage(room, "owner", "lobby", "2", core.MessageInput{Content: "again"}, 50)
	if err != nil {
		t.Fatal(err)
	}
	if m2.Timestamp < m1.Timestamp {
		t.Fatalf("timestamps went backwards: %d < %d", m2.Timestamp, m1.Timestamp)
	}
	if m1.Type != domain.MessageTypeGeneral {
		t.Errorf("default type %q", m1.Type)
	}
	if _, _, err := core.AppendMessage(room, "owner", "lobby", "3", core.MessageInput{Content: ""}, 101); !errors.Is(err, domain.ErrProtocolViolation) {
		t.Fatalf("empty message: %v", err)
	}
}

func TestAddContribution(t *testing.T) {
	room := newRoom(t)
	if !core.AddContribution(room, "owner", 1) {
		t.Fatal("owner should be credited")
	}
	if core.AddContribution(room, "ghost", 1) {
		t.Fatal("non-member credited")
	}
	m, _ := room.Member("owner")
	if m.Contribution != 1 {
		t.Fatalf("contribution %d", m.Contribution)
	}
}

func withMember(t *testing.T, room *domain.Room, uid domain.UserID, level domain.PermissionLevel) {
	t.Helper()
	if _, err := core.JoinServer(room, uid, 1); err != nil {
		t.Fatalf("join %s: %v", uid, err)
	}
	m, _ := room.Member(uid)
	m.Permission = level
}

func level(l domain.PermissionLevel) *domain.PermissionLevel { return &l }

func nick(s string) *string { return &s }

func TestEditMemberRules(t *testing.T) {
	cases := []struct {
		name   string
		actor  domain.UserID
		target domain.UserID
		patch  core.MemberPatch
		tag    string
	}{
		{"empty patch", "admin", "guest", core.MemberPatch{}, "DATA_INVALID"},
		{"rename self", "guest", "guest", core.MemberPatch{Nickname: nick("Quiet")}, ""},
		{"promote self", "admin", "admin", core.MemberPatch{Permission: level(domain.PermissionOwner)}, "PERMISSION_DENIED"},
		{"member cannot edit others", "member", "guest", core.MemberPatch{Permission: level(domain.PermissionMember)}, "PERMISSION_DENIED"},
		{"trusted promotes guest", "trusted", "guest", core.MemberPatch{Permission: level(domain.PermissionMember)}, ""},
		{"trusted cannot grant own rank", "trusted", "guest", core.MemberPatch{Permission: level(domain.PermissionTrusted)}, "PERMISSION_TOO_HIGH"},
		{"trusted cannot rename others", "trusted", "guest", core.MemberPatch{Nickname: nick("x")}, "PERMISSION_DENIED"},
		{"equal rank untouchable", "admin", "admin2", core.MemberPatch{Permission: level(domain.PermissionGuest)}, "PERMISSION_DENIED"},
		{"higher rank untouchable", "trusted", "admin", core.MemberPatch{Permission: level(domain.PermissionGuest)}, "PERMISSION_DENIED"},
		{"owner level fixed", "admin", "owner", core.MemberPatch{Permission: level(domain.PermissionGuest)}, "PERMISSION_DENIED"},
		{"owner cannot mint owners", "owner", "admin", core.MemberPatch{Permission: level(domain.PermissionOwner)}, "PERMISSION_TOO_HIGH"},
		{"level out of range", "owner", "guest", core.MemberPatch{Permission: level(0)}, "PERMISSION_INVALID"},
		{"unknown target", "owner", "ghost", core.MemberPatch{Nickname: nick("x")}, "MEMBER_NOT_FOUND"},
		{"stranger actor", "ghost", "guest", core.MemberPatch{Nickname: nick("x")}, "NOT_MEMBER"},
		{"nickname too long", "guest", "guest", core.MemberPatch{Nickname: nick("abcdefghijklmnopqrstuvwxyz0123456789")}, "NICKNAME_INVALID"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			room := newRoom(t)
			withMember(t, room, "guest", domain.PermissionGuest)
			withMember(t, room, "member", domain.PermissionMember)
			withMember(t, room, "trusted", domain.PermissionTrusted)
			withMember(t, room, "admin", domain.PermissionAdmin)
			withMember(t, room, "admin2", domain.PermissionAdmin)
			before := room.Clone()

			effects, err := core.EditMember(room, tc.actor, tc.target, tc.patch)
			if tc.tag == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if countKind(effects, core.EffectServerUpdate) != 1 {
					t.Fatalf("effects = %v", kinds(effects))
				}
				return
			}
			if got := tagOf(err); got != tc.tag {
				t.Fatalf("tag = %q (%v), want %q", got, err, tc.tag)
			}
			for _, m := range before.Server.Members {
				after, _ := room.Member(m.UserID)
				if *after != *m {
					t.Fatalf("refused edit changed %s: %+v -> %+v", m.UserID, m, after)
				}
			}
		})
	}
}

func TestEditMemberPromotionOpensPrivateChannel(t *testing.T) {
	room := newRoom(t)
	withMember(t, room, "admin", domain.PermissionAdmin)
	withMember(t, room, "guest", domain.PermissionGuest)
	if _, _, err := core.CreateChannel(room, "owner", "vault", core.ChannelInput{Name: "Vault", Visibility: domain.ChannelPrivate}); err != nil {
		t.Fatalf("create channel: %v", err)
	}
	if _, err := core.CheckJoinChannel(room, "guest", "vault"); tagOf(err) != "PERMISSION_DENIED" {
		t.Fatalf("guest entered private channel: %v", err)
	}

	if _, err := core.EditMember(room, "admin", "guest", core.MemberPatch{Permission: level(domain.PermissionTrusted), Nickname: nick("  Scout ")}); err != nil {
		t.Fatalf("promote: %v", err)
	}
	m, _ := room.Member("guest")
	if m.Permission != domain.PermissionTrusted || m.Nickname != "Scout" {
		t.Fatalf("member = %+v", m)
	}
	if _, err := core.CheckJoinChannel(room, "guest", "vault"); err != nil {
		t.Fatalf("promoted member refused: %v", err)
	}
}
