package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/woozymasta/gamemaster/internal/apperr"
)

// ModerationClient asks the moderation service whether a user may enter a room.
type ModerationClient struct {
	c client
}

// NewModerationClient returns a client for the moderation service at baseURL.
func NewModerationClient(baseURL, token string, timeout time.Duration) *ModerationClient {
	return &ModerationClient{c: newClient(baseURL, token, timeout)}
}

type moderationCheck struct {
	RoomID int64 `json:"room_id"`
	UserID int64 `json:"user_id"`
}

// CheckModerations returns apperr.ErrUserBanned when the service forbids the user.
func (m *ModerationClient) CheckModerations(ctx context.Context, roomID, userID int64) error {
	err := m.c.do(ctx, http.MethodPost, "/check", moderationCheck{RoomID: roomID, UserID: userID}, nil)

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusForbidden {
		return fmt.Errorf("user %d in room %d: %w", userID, roomID, apperr.ErrUserBanned)
	}

	return err
}

// AllowAll is the moderation policy used when no moderation service is configured.
type AllowAll struct{}

// CheckModerations always allows.
func (AllowAll) CheckModerations(context.Context, int64, int64) error {
	return nil
}
