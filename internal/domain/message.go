package domain

import "unicode/utf8"

const MaxMessageLen = 2000

type MessageID string

const (
	MessageTypeGeneral = "general"
	MessageTypeInfo    = "info"
)

// Message is immutable once created. Timestamp is assigned by the server.
type Message struct {
	ID        MessageID `json:"id"`
	SenderID  UserID    `json:"senderId"`
	ChannelID ChannelID `json:"channelId"`
	Content   string    `json:"content"`
	Type      string    `json:"type"`
	Timestamp int64     `json:"timestamp"`
}

func ValidMessageContent(s string) bool {
	n := utf8.RuneCountInString(s)
	return n > 0 && n <= MaxMessageLen
}
