package domain

import (
	"context"
	"time"
)

type MessageKind string

const (
	KindChat   MessageKind = "chat"
	KindSystem MessageKind = "system"
)

// Message is one entry of a room log. Username is set only for chat
// messages. Pending marks a message the client could not hand to the
// server; it is kept so the user retains a record of it.
type Message struct {
	Kind      MessageKind `json:"type,omitempty"`
	Username  string      `json:"username,omitempty"`
	Text      string      `json:"text"`
	Timestamp time.Time   `json:"timestamp"`
	Pending   bool        `json:"pending,omitempty"`
}

// IsChat treats a missing kind as chat, which is how servers send it.
func (m Message) IsChat() bool {
	return m.Kind == "" || m.Kind == KindChat
}

func NewChatMessage(username, text string, at time.Time) Message {
	return Message{Kind: KindChat, Username: username, Text: text, Timestamp: at}
}

func NewSystemMessage(text string, at time.Time) Message {
	return Message{Kind: KindSystem, Text: text, Timestamp: at}
}

// MessageRepository keeps the recent history of each room.
type MessageRepository interface {
	Append(ctx context.Context, roomCode string, message Message) error
	GetByRoomCode(ctx context.Context, roomCode string) ([]Message, error)
	DeleteRoom(ctx context.Context, roomCode string) error
}
