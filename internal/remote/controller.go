package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/models"
)

// ControllerClient starts and stops room processes through the fleet controller.
type ControllerClient struct {
	c client
}

// NewControllerClient returns a client for the controller at baseURL.
func NewControllerClient(baseURL, token string, timeout time.Duration) *ControllerClient {
	return &ControllerClient{c: newClient(baseURL, token, timeout)}
}

type instantiateRequest struct {
	Settings     models.Settings `json:"settings"`
	ServerID     int64           `json:"server_id"`
	AppVersionID int64           `json:"app_version_id"`
	MaxPlayers   int             `json:"max_players"`
}

type instantiateResponse struct {
	Handle string `json:"handle"`
}

// Instantiate asks the controller to start the room process and returns its handle.
func (c *ControllerClient) Instantiate(ctx context.Context, room *models.Room) (string, error) {
	var resp instantiateResponse

	err := c.c.do(ctx, http.MethodPost, fmt.Sprintf("/rooms/%d", room.ID), instantiateRequest{
		ServerID:     room.ServerID,
		AppVersionID: room.AppVersionID,
		MaxPlayers:   room.MaxPlayersCount,
		Settings:     room.Settings,
	}, &resp)
	if err != nil {
		return "", err
	}
	if resp.Handle == "" {
		return "", fmt.Errorf("controller returned empty handle for room %d", room.ID)
	}

	return resp.Handle, nil
}

// Terminate stops the room process. A process the controller does not know is already stopped.
func (c *ControllerClient) Terminate(ctx context.Context, room *models.Room) error {
	err := c.c.do(ctx, http.MethodDelete, fmt.Sprintf("/rooms/%d", room.ID), nil, nil)

	var se *StatusError
	if errors.As(err, &se) && se.Code == http.StatusNotFound {
		return nil
	}

	return err
}

// LocalController hands out random handles without starting anything.
// Used in development when no controller is configured.
type LocalController struct{}

// Instantiate returns a new uuid handle.
func (LocalController) Instantiate(_ context.Context, room *models.Room) (string, error) {
	handle := uuid.NewString()
	log.Debug().Int64("room", room.ID).Str("handle", handle).Msg("Local room instance created")

	return handle, nil
}

// Terminate only logs.
func (LocalController) Terminate(_ context.Context, room *models.Room) error {
	log.Debug().Int64("room", room.ID).Str("handle", room.Handle).Msg("Local room instance terminated")

	return nil
}
