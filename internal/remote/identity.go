package remote

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// User is the public identity of a player.
type User struct {
	Username string `json:"username"`
	ID       int64  `json:"id"`
}

// IdentityClient resolves user ids through the login service.
type IdentityClient struct {
	c client
}

// NewIdentityClient returns a client for the identity service at baseURL.
func NewIdentityClient(baseURL, token string, timeout time.Duration) *IdentityClient {
	return &IdentityClient{c: newClient(baseURL, token, timeout)}
}

// GetUser returns the user record for userID.
func (i *IdentityClient) GetUser(ctx context.Context, userID int64) (*User, error) {
	var u User
	if err := i.c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", userID), nil, &u); err != nil {
		return nil, fmt.Errorf("get user %d: %w", userID, err)
	}

	return &u, nil
}
