// Package game checks game servers over the Source Engine Query (A2S) protocol.
package game

import (
	"fmt"
	"time"

	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/gamemaster/internal/models"
)

// Prober queries servers with A2S_INFO.
type Prober struct {
	Timeout    time.Duration
	BufferSize uint16
}

// Probe connects to the server game port over UDP and requests A2S_INFO.
// An error means the game process did not answer.
func (p Prober) Probe(server models.Server) (*a2s.Info, error) {
	host := server.Host
	if host == "" {
		return nil, fmt.Errorf("server %s has no host", server.Name)
	}
	if server.Port <= 0 || server.Port > 65535 {
		return nil, fmt.Errorf("server %s has invalid port %d", server.Name, server.Port)
	}

	client, err := a2s.New(host, server.Port)
	if err != nil {
		return nil, err
	}
	defer func() { _ = client.Close() }()

	if p.BufferSize > 0 {
		client.BufferSize = p.BufferSize
	}
	if p.Timeout > 0 {
		client.Timeout = p.Timeout
	}

	return client.GetInfo()
}
