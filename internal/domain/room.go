package domain

import (
	"context"
	"crypto/rand"
	"math/big"
	"strings"
	"time"
)

const (
	joinCodeLength = 6
	joinCodeChars  = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	maxCodeLength  = 32
)

var charsetLen = big.NewInt(int64(len(joinCodeChars)))

type Room struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

type RoomRepository interface {
	Create(ctx context.Context, room *Room) error
	GetByCode(ctx context.Context, code string) (*Room, error)
	Update(ctx context.Context, room *Room) error
	// Pin protects a room from capacity eviction while it is in use.
	// Pins are counted; each Pin needs its own Unpin.
	Pin(ctx context.Context, code string) error
	Unpin(ctx context.Context, code string)
	List(ctx context.Context) ([]Room, error)
}

// NewRoom creates an active room with a freshly generated code.
func NewRoom(name string) (*Room, error) {
	code, err := generateJoinCode()
	if err != nil {
		return nil, err
	}
	return NewRoomWithCode(code, name)
}

// NewRoomWithCode creates an active room under a caller-chosen code.
func NewRoomWithCode(code, name string) (*Room, error) {
	code = NormalizeCode(code)
	if err := ValidateCode(code); err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultRoomName(code)
	}

	return &Room{
		Code:      code,
		Name:      name,
		Active:    true,
		CreatedAt: time.Now(),
	}, nil
}

// NormalizeCode trims and upper-cases a user-entered room code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func ValidateCode(code string) error {
	if code == "" || len(code) > maxCodeLength {
		return ErrInvalidRoomCode
	}
	for _, c := range code {
		if !(c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return ErrInvalidRoomCode
		}
	}
	return nil
}

func DefaultRoomName(code string) string {
	return "Public Room " + code
}

func generateJoinCode() (string, error) {
	var sb strings.Builder
	sb.Grow(joinCodeLength)

	for i := 0; i < joinCodeLength; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(joinCodeChars[n.Int64()])
	}

	return sb.String(), nil
}
