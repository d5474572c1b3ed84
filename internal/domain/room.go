package domain

import "slices"

type (
	ServerID  string
	ChannelID string
)

type ServerVisibility string

const (
	ServerPublic    ServerVisibility = "public"
	ServerPrivate   ServerVisibility = "private"
	ServerInvisible ServerVisibility = "invisible"
)

type ChannelVisibility string

const (
	ChannelPublic   ChannelVisibility = "public"
	ChannelMember   ChannelVisibility = "member"
	ChannelPrivate  ChannelVisibility = "private"
	ChannelReadonly ChannelVisibility = "readonly"
)

type VoiceMode string

const (
	VoiceFree      VoiceMode = "free"
	VoiceForbidden VoiceMode = "forbidden"
	VoiceQueue     VoiceMode = "queue"
)

type Server struct {
	ID           ServerID         `json:"id"`
	Name         string           `json:"name"`
	Announcement string           `json:"announcement"`
	ChannelIDs   []ChannelID      `json:"channelIds"`
	Members      []*Member        `json:"members"`
	OwnerID      UserID           `json:"ownerId"`
	Visibility   ServerVisibility `json:"visibility"`
	LobbyID      ChannelID        `json:"lobbyId"`
	CreatedAt    int64            `json:"createdAt"`
}

// Channel capacity 0 means unlimited. Members holds no duplicates.
type Channel struct {
	ID            ChannelID         `json:"id"`
	ServerID      ServerID          `json:"serverId"`
	Name          string            `json:"name"`
	Visibility    ChannelVisibility `json:"visibility"`
	Capacity      int               `json:"userLimit"`
	Members       []UserID          `json:"members"`
	Messages      []MessageID       `json:"messageIds"`
	VoiceMode     VoiceMode         `json:"voiceMode"`
	IsLobby       bool              `json:"isLobby"`
	Order         int               `json:"order"`
	LastMessageAt int64             `json:"lastMessageAt"`
}

func (c *Channel) Has(uid UserID) bool { return slices.Contains(c.Members, uid) }

// Full reports whether the channel reached its capacity.
func (c *Channel) Full() bool { return c.Capacity > 0 && len(c.Members) >= c.Capacity }

// Room is the unit of persistence and serialization: one server with all
// of its channels, read and written as a whole.
type Room struct {
	Server   Server     `json:"server"`
	Channels []*Channel `json:"channels"`
}

func (r *Room) Channel(id ChannelID) (*Channel, bool) {
	for _, ch := range r.Channels {
		if ch.ID == id {
			return ch, true
		}
	}
	return nil, false
}

// ChannelOf returns the channel the identity is inside, if any.
func (r *Room) ChannelOf(uid UserID) (*Channel, bool) {
	for _, ch := range r.Channels {
		if ch.Has(uid) {
			return ch, true
		}
	}
	return nil, false
}

func (r *Room) Member(uid UserID) (*Member, bool) {
	for _, m := range r.Server.Members {
		if m.UserID == uid {
			return m, true
		}
	}
	return nil, false
}

// Clone returns a deep copy safe to hand out after the room lock is released.
func (r *Room) Clone() *Room {
	out := &Room{Server: r.Server}
	out.Server.ChannelIDs = slices.Clone(r.Server.ChannelIDs)
	out.Server.Members = make([]*Member, 0, len(r.Server.Members))
	for _, m := range r.Server.Members {
		cp := *m
		out.Server.Members = append(out.Server.Members, &cp)
	}
	out.Channels = make([]*Channel, 0, len(r.Channels))
	for _, ch := range r.Channels {
		cp := *ch
		cp.Members = slices.Clone(ch.Members)
		cp.Messages = slices.Clone(ch.Messages)
		out.Channels = append(out.Channels, &cp)
	}
	return out
}
