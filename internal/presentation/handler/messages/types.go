package messages

import "time"

type messageResponse struct {
	Type      string    `json:"type"`
	Username  string    `json:"username,omitempty"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}
