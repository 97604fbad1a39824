package roomjoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tshare/publicroom/internal/domain"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	DefaultValidateTimeout = 10 * time.Second

	msgValidateFailed = "Failed to validate room code"
	msgInvalidCode    = "Invalid room code"
)

// Validator checks a room code before a join is attempted.
type Validator interface {
	Validate(ctx context.Context, code string) error
}

// HTTPValidator calls GET {BaseURL}/public-room/validate/{code}.
//
// Failures come back as a *domain.ValidationError carrying the server's
// message, or a *domain.TimeoutError when Timeout elapses first.
type HTTPValidator struct {
	BaseURL string
	Timeout time.Duration
	Client  *http.Client
}

func NewHTTPValidator(baseURL string, timeout time.Duration) *HTTPValidator {
	if timeout <= 0 {
		timeout = DefaultValidateTimeout
	}
	return &HTTPValidator{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Timeout: timeout,
		Client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type validateResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (v *HTTPValidator) Validate(ctx context.Context, code string) error {
	ctx, cancel := context.WithTimeout(ctx, v.Timeout)
	defer cancel()

	endpoint := v.BaseURL + "/public-room/validate/" + url.PathEscape(code)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("%w: %w", &domain.ValidationError{Message: msgValidateFailed}, err)
	}
	req.Header.Set("Accept", "application/json")

	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &domain.TimeoutError{Op: "request"}
		}
		return fmt.Errorf("%w: %w", &domain.ValidationError{Message: msgValidateFailed}, err)
	}
	defer resp.Body.Close()

	var body validateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &domain.TimeoutError{Op: "request"}
		}
		return fmt.Errorf("%w: status %d: %w", &domain.ValidationError{Message: msgValidateFailed}, resp.StatusCode, err)
	}

	if !body.Success {
		msg := body.Message
		if msg == "" {
			msg = msgInvalidCode
		}
		return &domain.ValidationError{Message: msg}
	}
	return nil
}
