// Package maintenance probes the fleet and releases abandoned rooms.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/registry"
)

// Fleet is the part of the registry used by probes.
type Fleet interface {
	Servers(ctx context.Context, onlyEnabled bool) ([]models.Server, error)
	IngestHeartbeat(ctx context.Context, serverID int64, report registry.Report) error
}

// Prober checks that a server game process answers. game.Prober implements it.
type Prober interface {
	Probe(server models.Server) (*a2s.Info, error)
}

// RoomStore lists rooms without players.
type RoomStore interface {
	GetEmptyRooms(ctx context.Context, before time.Time) ([]models.Room, error)
}

// RoomTerminator stops and removes a room. *room.Manager implements it.
type RoomTerminator interface {
	Terminate(ctx context.Context, roomID int64) error
}

// Maintainer runs fleet and room maintenance tasks.
type Maintainer struct {
	fleet   Fleet
	prober  Prober
	rooms   RoomStore
	term    RoomTerminator
	now     func() time.Time
	workers int
}

// New creates a Maintainer. workers bounds concurrent probes.
func New(fleet Fleet, prober Prober, rooms RoomStore, term RoomTerminator, workers int) *Maintainer {
	if workers <= 0 {
		workers = 10
	}

	return &Maintainer{
		fleet:   fleet,
		prober:  prober,
		rooms:   rooms,
		term:    term,
		workers: workers,
		now:     time.Now,
	}
}

// ProbeServers queries every enabled server and reports unreachable ones as failed.
// It returns the number of failed servers.
func (m *Maintainer) ProbeServers(ctx context.Context) (int, error) {
	servers, err := m.fleet.Servers(ctx, true)
	if err != nil {
		return 0, err
	}

	if len(servers) == 0 {
		log.Debug().Msg("No servers to probe")
		return 0, nil
	}

	log.Debug().Int("count", len(servers)).Int("workers", m.workers).Msg("Probing servers")

	var (
		failed int
		mu     sync.Mutex
		wg     sync.WaitGroup
	)

	jobs := make(chan models.Server, len(servers))
	for i := 0; i < m.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for srv := range jobs {
				if !m.probe(ctx, srv) {
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}
		}()
	}

	for _, s := range servers {
		jobs <- s
	}
	close(jobs)

	wg.Wait()

	return failed, ctx.Err()
}

// probe reports whether the server answered. Healthy servers push their own load
// through heartbeats, so only failures are ingested here.
func (m *Maintainer) probe(ctx context.Context, srv models.Server) bool {
	logCtx := log.With().
		Int64("server", srv.ID).
		Str("name", srv.Name).
		Str("host", srv.Host).
		Int("port", srv.Port).
		Logger()

	if ctx.Err() != nil {
		return true
	}

	info, err := m.prober.Probe(srv)
	if err == nil {
		logCtx.Trace().
			Str("map", info.Map).
			Uint8("players", info.Players).
			Uint8("max_players", info.MaxPlayers).
			Msg("Server answered")
		return true
	}

	logCtx.Debug().Err(err).Msg("Server unreachable")

	if err := m.fleet.IngestHeartbeat(ctx, srv.ID, registry.FailureSignal{Err: err}); err != nil {
		logCtx.Error().Err(err).Msg("Failed to mark server as failed")
	}

	return false
}

// PruneRooms terminates rooms that have been empty for longer than age.
// It returns the number of rooms removed.
func (m *Maintainer) PruneRooms(ctx context.Context, age time.Duration) (int, error) {
	rooms, err := m.rooms.GetEmptyRooms(ctx, m.now().Add(-age))
	if err != nil {
		return 0, err
	}

	var removed int
	for _, r := range rooms {
		if err := m.term.Terminate(ctx, r.ID); err != nil {
			log.Error().Err(err).Int64("room", r.ID).Msg("Failed to prune room")
			continue
		}
		removed++
	}

	if removed > 0 {
		log.Info().Int("removed", removed).Dur("age", age).Msg("Empty rooms pruned")
	}

	return removed, nil
}

// Loop probes the fleet every interval until ctx is done.
func (m *Maintainer) Loop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			failed, err := m.ProbeServers(ctx)
			if err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Server probe round failed")
				continue
			}
			if failed > 0 {
				log.Warn().Int("failed", failed).Msg("Unreachable servers found")
			}
		}
	}
}
