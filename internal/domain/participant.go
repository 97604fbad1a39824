package domain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/tshare/publicroom/internal/infrastructure/validate"
)

const MaxUsernameLength = 20

var validateUsername = validate.Compose(
	validate.ValidUTF8(),
	validate.Required(),
	validate.MaxRunes(MaxUsernameLength),
	validate.NoControlChars(),
)

// ParticipantID is opaque and server-assigned. Numeric ids sent by
// other servers are accepted and kept in their decimal form.
type ParticipantID string

func (id *ParticipantID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ParticipantID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ParticipantID(n.String())
	return nil
}

type Participant struct {
	ID       ParticipantID `json:"id"`
	Username string        `json:"username"`
}

// NormalizeUsername trims the name and checks it is non-empty and at
// most MaxUsernameLength characters.
func NormalizeUsername(raw string) (string, error) {
	name := strings.TrimSpace(raw)
	if err := validateUsername(name); err != nil {
		return "", &ValidationError{Message: "Username " + err.Error()}
	}
	return name, nil
}

func NewParticipant(id ParticipantID, rawName string) (*Participant, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	name, err := NormalizeUsername(rawName)
	if err != nil {
		return nil, err
	}
	return &Participant{ID: id, Username: name}, nil
}
