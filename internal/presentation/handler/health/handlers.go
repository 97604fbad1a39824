package health

import (
	"net/http"
	"time"

	"github.com/tshare/publicroom/internal/infrastructure/json"
)

// RoomCounter reports the number of rooms with connected participants.
type RoomCounter interface {
	LiveRooms() int
}

type Handler struct {
	rooms RoomCounter
}

func NewHandler(rooms RoomCounter) *Handler {
	return &Handler{rooms: rooms}
}

func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	data := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		LiveRooms: h.rooms.LiveRooms(),
	}
	json.Write(w, http.StatusOK, data)
}
