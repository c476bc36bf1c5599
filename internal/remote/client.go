// Package remote implements HTTP clients for the platform services the coordinator consults:
// identity, moderation and the game server process controller.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Config holds the base URLs of the platform services. Empty URLs disable the client.
type Config struct {
	// betteralign:ignore

	IdentityURL   string        `long:"identity-url" env:"IDENTITY_URL" description:"Base URL of the identity (login) service"`
	ModerationURL string        `long:"moderation-url" env:"MODERATION_URL" description:"Base URL of the moderation service"`
	ControllerURL string        `long:"controller-url" env:"CONTROLLER_URL" description:"Base URL of the game server process controller"`
	Token         string        `long:"token" env:"TOKEN" description:"Bearer token sent to platform services"`
	Timeout       time.Duration `long:"timeout" env:"TIMEOUT" description:"Request timeout" default:"5s"`
}

// StatusError is returned for unexpected HTTP statuses.
type StatusError struct {
	Method string
	URL    string
	Body   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.URL, e.Code, e.Body)
}

// client performs JSON requests against one service.
type client struct {
	http    *http.Client
	baseURL string
	token   string
}

func newClient(baseURL, token string, timeout time.Duration) client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	return client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
	}
}

// do sends in as JSON (when not nil), decodes a 2xx body into out (when not nil)
// and returns a *StatusError for any other status.
func (c client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, URL: url, Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}
