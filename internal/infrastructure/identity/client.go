package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/niciki/system-design/internal/domain/model"
	"github.com/niciki/system-design/internal/domain/repository"

	"go.uber.org/zap"
)

var _ repository.IdentityProvider = (*Client)(nil)

// Client resolves bearer tokens against the authentication service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("auth service URL is required")
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}, nil
}

type userResponse struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

func (c *Client) Authenticate(ctx context.Context, token string) (model.Caller, error) {
	if token == "" {
		return model.Caller{}, model.ErrUnauthorized
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/users/me", nil)
	if err != nil {
		return model.Caller{}, fmt.Errorf("failed to build auth request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Auth service request failed", zap.Error(err))
		return model.Caller{}, fmt.Errorf("%w: %w", model.ErrAuthUnavailable, err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized, http.StatusForbidden:
		return model.Caller{}, model.ErrUnauthorized
	default:
		c.logger.Error("Auth service returned unexpected status", zap.Int("status", resp.StatusCode))
		return model.Caller{}, fmt.Errorf("%w: unexpected status %s", model.ErrAuthUnavailable, resp.Status)
	}

	var user userResponse
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		c.logger.Error("Failed to decode auth response", zap.Error(err))
		return model.Caller{}, fmt.Errorf("%w: failed to decode user: %w", model.ErrAuthUnavailable, err)
	}
	if user.UserID <= 0 || user.Role == "" {
		return model.Caller{}, fmt.Errorf("%w: incomplete user payload", model.ErrAuthUnavailable)
	}

	return model.Caller{UserID: user.UserID, Username: user.Username, Role: model.Role(user.Role)}, nil
}
