package rooms

import (
	"time"

	"github.com/tshare/publicroom/internal/domain"
)

type createRoomRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

type setActiveRequest struct {
	Active *bool `json:"active"`
}

type roomResponse struct {
	Code      string    `json:"code"`
	Name      string    `json:"name"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func toRoomResponse(r *domain.Room) roomResponse {
	return roomResponse{
		Code:      r.Code,
		Name:      r.Name,
		Active:    r.Active,
		CreatedAt: r.CreatedAt,
	}
}
