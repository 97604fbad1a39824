package protocol

const (
	JoinRoom    = "join-room"
	RoomJoined  = "room-joined"
	RoomError   = "room-error"
	UserJoined  = "user-joined"
	UserLeft    = "user-left"
	SendMessage = "send-message"
	ChatMessage = "chat-message"
	Ack         = "ack"
	TypingStart = "typing-start"
	TypingStop  = "typing-stop"
)
