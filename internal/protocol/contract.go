// Package protocol is the wire contract shared by the room server and
// its clients. Every frame is a JSON Envelope. ID correlates a request
// with its reply: the server echoes the id of a join-room on the
// room-joined or room-error it answers with, and the id of a
// send-message on its ack.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tshare/publicroom/internal/domain"
)

type Envelope struct {
	Event string          `json:"event"`
	ID    string          `json:"id,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type JoinRoomPayload struct {
	RoomCode string `json:"roomCode"`
	Username string `json:"username"`
}

type RoomJoinedPayload struct {
	RoomCode string               `json:"roomCode"`
	RoomName string               `json:"roomName,omitempty"`
	Messages []domain.Message     `json:"messages"`
	Users    []domain.Participant `json:"users"`
}

type SendMessagePayload struct {
	RoomCode string `json:"roomCode"`
	Text     string `json:"text"`
	Username string `json:"username"`
}

type ChatMessagePayload struct {
	Username  string    `json:"username"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

func (p ChatMessagePayload) Message() domain.Message {
	return domain.NewChatMessage(p.Username, p.Text, p.Timestamp)
}

type TypingPayload struct {
	RoomCode string `json:"roomCode,omitempty"`
	Username string `json:"username"`
}

type AckPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// Decode unmarshals the envelope payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s: empty payload", e.Event)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%s: decode payload: %w", e.Event, err)
	}
	return nil
}

// Reason decodes a room-error payload, which is a bare string.
func (e *Envelope) Reason() string {
	var reason string
	if err := json.Unmarshal(e.Data, &reason); err != nil || reason == "" {
		return "Unable to join room"
	}
	return reason
}

func Parse(raw []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, fmt.Errorf("decode envelope: missing event")
	}
	return &env, nil
}

func (e *Envelope) Bytes() ([]byte, error) {
	return json.Marshal(e)
}

func newEnvelope(event, id string, data any) *Envelope {
	// payloads are plain structs and strings, so encoding cannot fail
	raw, _ := json.Marshal(data)
	return &Envelope{Event: event, ID: id, Data: raw}
}

func NewJoinRoom(id, roomCode, username string) *Envelope {
	return newEnvelope(JoinRoom, id, JoinRoomPayload{RoomCode: roomCode, Username: username})
}

func NewRoomJoined(id string, room domain.Room, messages []domain.Message, users []domain.Participant) *Envelope {
	if messages == nil {
		messages = []domain.Message{}
	}
	if users == nil {
		users = []domain.Participant{}
	}
	return newEnvelope(RoomJoined, id, RoomJoinedPayload{
		RoomCode: room.Code,
		RoomName: room.Name,
		Messages: messages,
		Users:    users,
	})
}

func NewRoomError(id, reason string) *Envelope {
	return newEnvelope(RoomError, id, reason)
}

func NewUserJoined(p domain.Participant) *Envelope {
	return newEnvelope(UserJoined, "", p)
}

func NewUserLeft(p domain.Participant) *Envelope {
	return newEnvelope(UserLeft, "", p)
}

func NewSendMessage(id, roomCode, text, username string) *Envelope {
	return newEnvelope(SendMessage, id, SendMessagePayload{RoomCode: roomCode, Text: text, Username: username})
}

func NewChatMessage(m domain.Message) *Envelope {
	return newEnvelope(ChatMessage, "", ChatMessagePayload{
		Username:  m.Username,
		Text:      m.Text,
		Timestamp: m.Timestamp,
	})
}

// NewAck acknowledges a send-message. An empty reason means success.
func NewAck(id, reason string) *Envelope {
	if reason != "" {
		return newEnvelope(Ack, id, AckPayload{OK: false, Error: reason})
	}
	return newEnvelope(Ack, id, AckPayload{OK: true})
}

// NewTyping builds a typing-start or typing-stop frame. Clients send
// the room code; the server broadcast carries only the username.
func NewTyping(started bool, roomCode, username string) *Envelope {
	event := TypingStop
	if started {
		event = TypingStart
	}
	return newEnvelope(event, "", TypingPayload{RoomCode: roomCode, Username: username})
}
