package core

import (
	"slices"
	"strings"

	"github.com/dkeye/chorus/internal/domain"
)

// EffectKind names a side effect a membership transition asks the adapter
// layer to perform once the room has been persisted.
type EffectKind int

const (
	EffectServerUpdate EffectKind = iota
	EffectPlaySound
	EffectRTCJoin
	EffectRTCLeave
	EffectChannelConnect
	EffectChannelDisconnect
	EffectStartContribution
	EffectCancelContribution
	EffectChannelMessage
)

type Effect struct {
	Kind       EffectKind
	UserID     domain.UserID
	ChannelID  domain.ChannelID
	Sound      string
	Recipients []domain.UserID
	Message    *domain.Message
}

// IDFunc mints new entity ids.
type IDFunc func() string

const maxChannelNameLen = 32

type ChannelInput struct {
	Name       string                   `json:"name"`
	Visibility domain.ChannelVisibility `json:"visibility"`
	Capacity   int                      `json:"userLimit"`
	VoiceMode  domain.VoiceMode         `json:"voiceMode"`
}

// ChannelPatch edits a channel; nil fields are left untouched.
type ChannelPatch struct {
	Name       *string                   `json:"name,omitempty"`
	Visibility *domain.ChannelVisibility `json:"visibility,omitempty"`
	Capacity   *int                      `json:"userLimit,omitempty"`
	VoiceMode  *domain.VoiceMode         `json:"voiceMode,omitempty"`
}

// NewRoom builds a server owned by owner with its lobby channel.
func NewRoom(id domain.ServerID, lobby domain.ChannelID, owner domain.UserID, name string, vis domain.ServerVisibility, now int64) (*domain.Room, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxChannelNameLen {
		return nil, domain.Invalid("NAME_INVALID", "server name must be 1-32 characters")
	}
	if vis == "" {
		vis = domain.ServerPublic
	}
	switch vis {
	case domain.ServerPublic, domain.ServerPrivate, domain.ServerInvisible:
	default:
		return nil, domain.Invalid("VISIBILITY_INVALID", "unknown server visibility")
	}
	ch := &domain.Channel{
		ID:         lobby,
		ServerID:   id,
		Name:       "Lobby",
		Visibility: domain.ChannelPublic,
		Members:    []domain.UserID{},
		Messages:   []domain.MessageID{},
		VoiceMode:  domain.VoiceFree,
		IsLobby:    true,
	}
	return &domain.Room{
		Server: domain.Server{
			ID:         id,
			Name:       name,
			ChannelIDs: []domain.ChannelID{lobby},
			Members:    []*domain.Member{domain.NewMember(owner, domain.PermissionOwner, now)},
			OwnerID:    owner,
			Visibility: vis,
			LobbyID:    lobby,
			CreatedAt:  now,
		},
		Channels: []*domain.Channel{ch},
	}, nil
}

// JoinServer creates a guest membership when none exists. It is idempotent.
func JoinServer(room *domain.Room, uid domain.UserID, now int64) (created bool, err error) {
	if _, ok := room.Member(uid); ok {
		return false, nil
	}
	if room.Server.Visibility == domain.ServerInvisible {
		return false, domain.Deny("SERVER_INVISIBLE", "this server only accepts approved members")
	}
	room.Server.Members = append(room.Server.Members, domain.NewMember(uid, domain.PermissionGuest, now))
	return true, nil
}

// CheckJoinChannel validates a join without mutating the room.
func CheckJoinChannel(room *domain.Room, uid domain.UserID, chID domain.ChannelID) (*domain.Channel, error) {
	ch, ok := room.Channel(chID)
	if !ok {
		return nil, domain.Missing("CHANNEL_NOT_FOUND", "channel does not exist")
	}
	m, ok := room.Member(uid)
	if !ok {
		return nil, domain.Deny("NOT_MEMBER", "join the server before joining its channels")
	}
	if ch.Has(uid) {
		return ch, nil
	}
	if err := Admit(&room.Server, ch, m); err != nil {
		return nil, err
	}
	return ch, nil
}

// JoinChannel moves uid into chID, leaving any other channel of the same
// room first. A repeated join of the same channel changes nothing but still
// reports a server update.
func JoinChannel(room *domain.Room, uid domain.UserID, chID domain.ChannelID) ([]Effect, error) {
	ch, err := CheckJoinChannel(room, uid, chID)
	if err != nil {
		return nil, err
	}
	if ch.Has(uid) {
		return []Effect{{Kind: EffectServerUpdate}}, nil
	}

	var effects []Effect
	if prev, ok := room.ChannelOf(uid); ok {
		effects = append(effects, leave(prev, uid)...)
	}

	peers := slices.Clone(ch.Members)
	ch.Members = append(ch.Members, uid)
	effects = append(effects,
		Effect{Kind: EffectPlaySound, ChannelID: ch.ID, Sound: SoundJoin, Recipients: slices.Clone(ch.Members)},
		Effect{Kind: EffectRTCJoin, UserID: uid, ChannelID: ch.ID, Recipients: peers},
		Effect{Kind: EffectStartContribution, UserID: uid, ChannelID: ch.ID},
		Effect{Kind: EffectChannelConnect, UserID: uid, ChannelID: ch.ID},
		Effect{Kind: EffectServerUpdate},
	)
	return effects, nil
}

// LeaveChannel removes uid from whichever channel of the room holds it.
// It returns no effects when uid was not inside any channel.
func LeaveChannel(room *domain.Room, uid domain.UserID) []Effect {
	ch, ok := room.ChannelOf(uid)
	if !ok {
		return nil
	}
	return append(leave(ch, uid), Effect{Kind: EffectServerUpdate})
}

func leave(ch *domain.Channel, uid domain.UserID) []Effect {
	audience := slices.Clone(ch.Members)
	ch.Members = slices.DeleteFunc(ch.Members, func(id domain.UserID) bool { return id == uid })
	return []Effect{
		{Kind: EffectCancelContribution, UserID: uid, ChannelID: ch.ID},
		{Kind: EffectPlaySound, ChannelID: ch.ID, Sound: SoundLeave, Recipients: audience},
		{Kind: EffectRTCLeave, UserID: uid, ChannelID: ch.ID, Recipients: slices.Clone(ch.Members)},
		{Kind: EffectChannelDisconnect, UserID: uid, ChannelID: ch.ID},
	}
}

func CreateChannel(room *domain.Room, actor domain.UserID, id domain.ChannelID, in ChannelInput) (*domain.Channel, []Effect, error) {
	if err := requireAdmin(room, actor); err != nil {
		return nil, nil, err
	}
	ch := &domain.Channel{
		ID:         id,
		ServerID:   room.Server.ID,
		Visibility: domain.ChannelPublic,
		Members:    []domain.UserID{},
		Messages:   []domain.MessageID{},
		VoiceMode:  domain.VoiceFree,
		Order:      len(room.Channels),
	}
	patch := ChannelPatch{Name: &in.Name, Capacity: &in.Capacity}
	if in.Visibility != "" {
		patch.Visibility = &in.Visibility
	}
	if in.VoiceMode != "" {
		patch.VoiceMode = &in.VoiceMode
	}
	if err := applyPatch(ch, patch); err != nil {
		return nil, nil, err
	}
	room.Channels = append(room.Channels, ch)
	room.Server.ChannelIDs = append(room.Server.ChannelIDs, id)
	return ch, []Effect{{Kind: EffectServerUpdate}}, nil
}

// EditChannel applies patch. A voice mode change posts an info message to
// the channel, minted with ids at now.
func EditChannel(room *domain.Room, actor domain.UserID, chID domain.ChannelID, patch ChannelPatch, ids IDFunc, now int64) ([]Effect, error) {
	if err := requireAdmin(room, actor); err != nil {
		return nil, err
	}
	ch, ok := room.Channel(chID)
	if !ok {
		return nil, domain.Missing("CHANNEL_NOT_FOUND", "channel does not exist")
	}
	edited := *ch
	if err := applyPatch(&edited, patch); err != nil {
		return nil, err
	}
	if ch.IsLobby && edited.Visibility != domain.ChannelPublic {
		return nil, domain.Deny("LOBBY_IMMUTABLE", "the lobby channel must stay public")
	}
	modeChanged := edited.VoiceMode != ch.VoiceMode
	*ch = edited

	var effects []Effect
	if modeChanged {
		_, msgEffects, err := AppendMessage(room, actor, chID, domain.MessageID(ids()), MessageInput{
			Content: voiceModeNotice(ch.VoiceMode),
			Type:    domain.MessageTypeInfo,
		}, now)
		if err != nil {
			return nil, err
		}
		effects = append(effects, msgEffects...)
	}
	return append(effects, Effect{Kind: EffectServerUpdate}), nil
}

func voiceModeNotice(m domain.VoiceMode) string {
	switch m {
	case domain.VoiceForbidden:
		return "VOICE_CHANGE_TO_FORBIDDEN_SPEECH"
	case domain.VoiceQueue:
		return "VOICE_CHANGE_TO_QUEUE"
	default:
		return "VOICE_CHANGE_TO_FREE_SPEECH"
	}
}

// DeleteChannel removes a non-lobby channel, evicting its occupants.
func DeleteChannel(room *domain.Room, actor domain.UserID, chID domain.ChannelID) ([]Effect, error) {
	if err := requireAdmin(room, actor); err != nil {
		return nil, err
	}
	ch, ok := room.Channel(chID)
	if !ok {
		return nil, domain.Missing("CHANNEL_NOT_FOUND", "channel does not exist")
	}
	if ch.IsLobby {
		return nil, domain.Deny("LOBBY_NOT_DELETABLE", "the lobby channel cannot be deleted")
	}
	var effects []Effect
	for _, uid := range slices.Clone(ch.Members) {
		effects = append(effects, leave(ch, uid)...)
	}
	room.Channels = slices.DeleteFunc(room.Channels, func(c *domain.Channel) bool { return c.ID == chID })
	room.Server.ChannelIDs = slices.DeleteFunc(room.Server.ChannelIDs, func(id domain.ChannelID) bool { return id == chID })
	for i, c := range room.Channels {
		c.Order = i
	}
	return append(effects, Effect{Kind: EffectServerUpdate}), nil
}

// AppendMessage adds a message to the channel. Timestamps never go backwards
// within a channel.
func AppendMessage(room *domain.Room, sender domain.UserID, chID domain.ChannelID, id domain.MessageID, in MessageInput, now int64) (*domain.Message, []Effect, error) {
	ch, ok := room.Channel(chID)
	if !ok {
		return nil, nil, domain.Missing("CHANNEL_NOT_FOUND", "channel does not exist")
	}
	m, ok := room.Member(sender)
	if !ok {
		return nil, nil, domain.Deny("NOT_MEMBER", "join the server before sending messages")
	}
	if ch.Visibility == domain.ChannelReadonly && m.Permission < domain.PermissionAdmin {
		return nil, nil, domain.Deny("CHANNEL_IS_READONLY", "this channel is read-only")
	}
	if !domain.ValidMessageContent(in.Content) {
		return nil, nil, domain.Invalid("MESSAGE_INVALID", "message must be 1-2000 characters")
	}
	typ := in.Type
	if typ == "" {
		typ = domain.MessageTypeGeneral
	}
	ts := max(now, ch.LastMessageAt)
	msg := &domain.Message{
		ID:        id,
		SenderID:  sender,
		ChannelID: chID,
		Content:   in.Content,
		Type:      typ,
		Timestamp: ts,
	}
	ch.Messages = append(ch.Messages, id)
	ch.LastMessageAt = ts
	return msg, []Effect{{Kind: EffectChannelMessage, ChannelID: chID, Message: msg}}, nil
}

// AddContribution credits uid's member record. It reports false when uid
// is no longer a member.
func AddContribution(room *domain.Room, uid domain.UserID, delta int64) bool {
	m, ok := room.Member(uid)
	if !ok {
		return false
	}
	m.Contribution += delta
	return true
}

// MemberPatch edits a membership; nil fields are left untouched. An empty
// nickname clears it.
type MemberPatch struct {
	Permission *domain.PermissionLevel `json:"permissionLevel,omitempty"`
	Nickname   *string                 `json:"nickname,omitempty"`
}

// Ranks that may edit other members.
const (
	EditMemberLevel   = domain.PermissionTrusted
	EditNicknameLevel = domain.PermissionAdmin
)

// EditMember applies patch to target's membership on behalf of actor.
// Anyone may rename themselves. Editing someone else needs a rank above
// theirs; a granted level must stay below the actor's own and the owner's
// level never changes.
func EditMember(room *domain.Room, actor, target domain.UserID, patch MemberPatch) ([]Effect, error) {
	if patch.Permission == nil && patch.Nickname == nil {
		return nil, domain.Invalid("DATA_INVALID", "nothing to change")
	}
	op, ok := room.Member(actor)
	if !ok {
		return nil, domain.Deny("NOT_MEMBER", "join the server before editing members")
	}
	m, ok := room.Member(target)
	if !ok {
		return nil, domain.Missing("MEMBER_NOT_FOUND", "member does not exist")
	}
	edited := *m
	if patch.Nickname != nil {
		nick := strings.TrimSpace(*patch.Nickname)
		if len(nick) > maxChannelNameLen {
			return nil, domain.Invalid("NICKNAME_INVALID", "nickname must be at most 32 characters")
		}
		edited.Nickname = nick
	}

	if actor == target {
		if patch.Permission != nil {
			return nil, domain.Deny("PERMISSION_DENIED", "you cannot change your own permission")
		}
		*m = edited
		return []Effect{{Kind: EffectServerUpdate}}, nil
	}

	switch {
	case op.Permission < EditMemberLevel:
		return nil, domain.Deny("PERMISSION_DENIED", "not enough permission to edit other members")
	case m.Permission >= domain.PermissionOwner || target == room.Server.OwnerID:
		return nil, domain.Deny("PERMISSION_DENIED", "the owner's membership cannot be edited")
	case m.Permission >= op.Permission:
		return nil, domain.Deny("PERMISSION_DENIED", "you can only edit members ranked below you")
	case patch.Nickname != nil && op.Permission < EditNicknameLevel:
		return nil, domain.Deny("PERMISSION_DENIED", "not enough permission to rename other members")
	}
	if patch.Permission != nil {
		level := *patch.Permission
		switch {
		case level < domain.PermissionGuest:
			return nil, domain.Invalid("PERMISSION_INVALID", "unknown permission level")
		case level >= op.Permission || level > domain.PermissionAdmin:
			return nil, domain.Deny("PERMISSION_TOO_HIGH", "you cannot grant a level at or above your own")
		}
		edited.Permission = level
	}
	*m = edited
	return []Effect{{Kind: EffectServerUpdate}}, nil
}

func requireAdmin(room *domain.Room, actor domain.UserID) error {
	m, ok := room.Member(actor)
	if !ok || m.Permission < domain.PermissionAdmin {
		return domain.Deny("PERMISSION_DENIED", "not enough permission to manage channels")
	}
	return nil
}

func applyPatch(ch *domain.Channel, p ChannelPatch) error {
	if p.Name != nil {
		name := strings.TrimSpace(*p.Name)
		if name == "" || len(name) > maxChannelNameLen {
			return domain.Invalid("NAME_INVALID", "channel name must be 1-32 characters")
		}
		ch.Name = name
	}
	if p.Visibility != nil {
		switch *p.Visibility {
		case domain.ChannelPublic, domain.ChannelMember, domain.ChannelPrivate, domain.ChannelReadonly:
			ch.Visibility = *p.Visibility
		default:
			return domain.Invalid("VISIBILITY_INVALID", "unknown channel visibility")
		}
	}
	if p.Capacity != nil {
		if *p.Capacity < 0 {
			return domain.Invalid("USER_LIMIT_INVALID", "user limit cannot be negative")
		}
		ch.Capacity = *p.Capacity
	}
	if p.VoiceMode != nil {
		switch *p.VoiceMode {
		case domain.VoiceFree, domain.VoiceForbidden, domain.VoiceQueue:
			ch.VoiceMode = *p.VoiceMode
		default:
			return domain.Invalid("VOICE_MODE_INVALID", "unknown voice mode")
		}
	}
	return nil
}
