package domain

import "fmt"

type Status string

const (
	StatusOnline    Status = "online"
	StatusDND       Status = "dnd"
	StatusIdle      Status = "idle"
	StatusInvisible Status = "invisible"
	StatusOffline   Status = "offline"
)

func ParseStatus(s string) (Status, error) {
	switch st := Status(s); st {
	case StatusOnline, StatusDND, StatusIdle, StatusInvisible, StatusOffline:
		return st, nil
	}
	return "", fmt.Errorf("status %q: %w", s, ErrProtocolViolation)
}

// Presence is the replicated location and status record of one identity.
// A non-empty ChannelID implies a non-empty ServerID.
type Presence struct {
	UserID       UserID    `json:"userId"`
	Status       Status    `json:"status"`
	ServerID     ServerID  `json:"currentServerId,omitempty"`
	ChannelID    ChannelID `json:"currentChannelId,omitempty"`
	LastActiveAt int64     `json:"lastActiveAt"`
	UpdatedAt    int64     `json:"updatedAt"`
}

// PresencePatch is a partial update; nil fields are left untouched and
// an empty ServerID/ChannelID value clears the location.
type PresencePatch struct {
	Status       *Status
	ServerID     *ServerID
	ChannelID    *ChannelID
	LastActiveAt *int64
}

func OfflinePresence(uid UserID) Presence {
	return Presence{UserID: uid, Status: StatusOffline}
}

// Apply merges the patch field by field. Applying the same patch twice
// yields the same record apart from UpdatedAt.
func (p *Presence) Apply(patch PresencePatch, now int64) {
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.ServerID != nil {
		p.ServerID = *patch.ServerID
		if p.ServerID == "" {
			p.ChannelID = ""
		}
	}
	if patch.ChannelID != nil {
		p.ChannelID = *patch.ChannelID
	}
	if patch.LastActiveAt != nil {
		p.LastActiveAt = *patch.LastActiveAt
	}
	p.UpdatedAt = now
}

// Patch helpers keep call sites short.

func WithStatus(s Status) PresencePatch { return PresencePatch{Status: &s} }

func WithLocation(server ServerID, channel ChannelID) PresencePatch {
	return PresencePatch{ServerID: &server, ChannelID: &channel}
}

func WithChannel(channel ChannelID) PresencePatch { return PresencePatch{ChannelID: &channel} }

func ClearLocation() PresencePatch { return WithLocation("", "") }
