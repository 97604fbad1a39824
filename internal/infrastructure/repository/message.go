package repository

import (
	"context"
	"sync"

	"github.com/tshare/publicroom/internal/domain"
)

// Oldest messages are evicted when a room exceeds capacity.
type messageRepository struct {
	messages map[string][]domain.Message // roomCode -> []Message
	capacity uint
	mu       *sync.RWMutex
}

func NewMessageRepository(capacity uint) domain.MessageRepository {
	if capacity == 0 {
		capacity = 100
	}
	return &messageRepository{
		capacity: capacity,
		messages: make(map[string][]domain.Message),
		mu:       &sync.RWMutex{},
	}
}

func (r *messageRepository) Append(ctx context.Context, roomCode string, message domain.Message) error {
	if roomCode == "" || message.Text == "" {
		return domain.ErrInvalidInput
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	roomMsgs := append(r.messages[roomCode], message)
	if excess := len(roomMsgs) - int(r.capacity); excess > 0 {
		roomMsgs = append([]domain.Message(nil), roomMsgs[excess:]...)
	}
	r.messages[roomCode] = roomMsgs

	return nil
}

func (r *messageRepository) GetByRoomCode(ctx context.Context, roomCode string) ([]domain.Message, error) {
	if roomCode == "" {
		return nil, domain.ErrInvalidInput
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	roomMsgs := r.messages[roomCode]
	cpy := make([]domain.Message, len(roomMsgs))
	copy(cpy, roomMsgs)

	return cpy, nil
}

func (r *messageRepository) DeleteRoom(ctx context.Context, roomCode string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.messages, roomCode)
	return nil
}
