package session

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/tshare/publicroom/internal/domain"
)

// ShareURL is the resumable address of a room: {baseURL}/public-room?code=XY12.
func ShareURL(baseURL, code string) string {
	if code == "" {
		return ""
	}
	q := url.Values{}
	q.Set("code", code)
	return strings.TrimRight(baseURL, "/") + "/public-room?" + q.Encode()
}

// ResolveCode accepts either a bare room code or a share URL and
// returns the normalized code.
func ResolveCode(input string) (string, error) {
	input = strings.TrimSpace(input)
	if strings.Contains(input, "://") || strings.Contains(input, "?") {
		u, err := url.Parse(input)
		if err != nil {
			return "", &domain.ValidationError{Message: "Invalid room code"}
		}
		input = u.Query().Get("code")
	}

	code := domain.NormalizeCode(input)
	if err := domain.ValidateCode(code); err != nil {
		return "", fmt.Errorf("%w: %w", &domain.ValidationError{Message: "Invalid room code"}, err)
	}
	return code, nil
}
