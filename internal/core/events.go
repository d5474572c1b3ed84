package core

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/chorus/internal/domain"
)

// Inbound client -> server events.
const (
	EventConnectUser       = "connectUser"
	EventDisconnectUser    = "disconnectUser"
	EventUpdatePresence    = "updatePresence"
	EventCreateServer      = "createServer"
	EventConnectServer     = "connectServer"
	EventDisconnectServer  = "disconnectServer"
	EventConnectChannel    = "connectChannel"
	EventDisconnectChannel = "disconnectChannel"
	EventChatMessage       = "chatMessage"
	EventAddChannel        = "addChannel"
	EventEditChannel       = "editChannel"
	EventDeleteChannel     = "deleteChannel"
	EventEditMember        = "editMember"
	EventPing              = "ping"
)

// Outbound server -> client events.
const (
	EventUserConnect        = "userConnect"
	EventUserDisconnect     = "userDisconnect"
	EventForceDisconnect    = "forceDisconnect"
	EventUserPresenceUpdate = "userPresenceUpdate"
	EventUserUpdate         = "userUpdate"
	EventServerConnect      = "serverConnect"
	EventServerDisconnect   = "serverDisconnect"
	EventServerUpdate       = "serverUpdate"
	EventChannelConnect     = "channelConnect"
	EventChannelDisconnect  = "channelDisconnect"
	EventChannelMessage     = "channelMessage"
	EventPlaySound          = "playSound"
	EventRTCJoin            = "RTCJoin"
	EventRTCLeave           = "RTCLeave"
	EventError              = "error"
	EventPong               = "pong"
)

// Signaling events travel in both directions.
const (
	EventRTCOffer        = "RTCOffer"
	EventRTCAnswer       = "RTCAnswer"
	EventRTCIceCandidate = "RTCIceCandidate"
)

const (
	SoundJoin  = "join"
	SoundLeave = "leave"
)

// Envelope is the wire frame: {"type": ..., "payload": {...}}.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func Encode(typ string, payload any) (Frame, error) {
	env := Envelope{Type: typ}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", typ, err)
		}
		env.Payload = raw
	}
	return json.Marshal(env)
}

// DecodePayload unmarshals raw into v, reporting malformed input as a protocol violation.
func DecodePayload(raw []byte, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty payload: %w", domain.ErrProtocolViolation)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%v: %w", err, domain.ErrProtocolViolation)
	}
	return nil
}

type SessionPayload struct {
	SessionToken string `json:"sessionToken"`
}

type UpdatePresencePayload struct {
	SessionToken string        `json:"sessionToken"`
	Status       domain.Status `json:"status"`
}

type CreateServerPayload struct {
	SessionToken string                  `json:"sessionToken"`
	Name         string                  `json:"name"`
	Visibility   domain.ServerVisibility `json:"visibility"`
}

type ConnectServerPayload struct {
	SessionToken string          `json:"sessionToken"`
	ServerID     domain.ServerID `json:"serverId"`
}

type ConnectChannelPayload struct {
	SessionToken string           `json:"sessionToken"`
	ChannelID    domain.ChannelID `json:"channelId"`
}

type MessageInput struct {
	Content string `json:"content"`
	Type    string `json:"type,omitempty"`
}

type ChatMessagePayload struct {
	SessionToken string           `json:"sessionToken"`
	ChannelID    domain.ChannelID `json:"channelId"`
	Message      MessageInput     `json:"message"`
}

type AddChannelPayload struct {
	SessionToken string          `json:"sessionToken"`
	ServerID     domain.ServerID `json:"serverId"`
	Channel      ChannelInput    `json:"channel"`
}

type EditChannelPayload struct {
	SessionToken string           `json:"sessionToken"`
	ChannelID    domain.ChannelID `json:"channelId"`
	Channel      ChannelPatch     `json:"channel"`
}

type DeleteChannelPayload struct {
	SessionToken string           `json:"sessionToken"`
	ChannelID    domain.ChannelID `json:"channelId"`
}

type EditMemberPayload struct {
	SessionToken    string                  `json:"sessionToken"`
	ServerID        domain.ServerID         `json:"serverId"`
	UserID          domain.UserID           `json:"userId"`
	PermissionLevel *domain.PermissionLevel `json:"permissionLevel,omitempty"`
	Nickname        *string                 `json:"nickname,omitempty"`
}

// RTCSendPayload is what a client sends; the server rewrites To into From.
type RTCSendPayload struct {
	To      domain.UserID   `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

type RTCRecvPayload struct {
	From    domain.UserID   `json:"from"`
	Payload json.RawMessage `json:"payload"`
}

type RTCPeerPayload struct {
	UserID domain.UserID `json:"userId"`
}

type PlaySoundPayload struct {
	Sound string `json:"sound"`
}

type UserConnectPayload struct {
	User     *domain.User      `json:"user"`
	Presence domain.Presence   `json:"presence"`
	Servers  []domain.ServerID `json:"servers"`
}

type LevelPayload struct {
	Level int64 `json:"level"`
}

type ServerRefPayload struct {
	ServerID domain.ServerID `json:"serverId"`
}

type ChannelPayload struct {
	ServerID domain.ServerID `json:"serverId"`
	Channel  *domain.Channel `json:"channel"`
}

type ChannelRefPayload struct {
	ChannelID domain.ChannelID `json:"channelId"`
}

type MessagePayload struct {
	Message *domain.Message `json:"message"`
}
