package health

import "time"

type healthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	LiveRooms int       `json:"liveRooms"`
}
