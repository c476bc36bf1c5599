package maintenance

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/a2s/pkg/a2s"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/notify"
	"github.com/woozymasta/gamemaster/internal/registry"
	"github.com/woozymasta/gamemaster/internal/room"
	"github.com/woozymasta/gamemaster/internal/storage"
)

// portProber answers only for the listed ports.
type portProber map[int]bool

func (p portProber) Probe(server models.Server) (*a2s.Info, error) {
	if p[server.Port] {
		return &a2s.Info{Name: server.Name, Map: "chernarusplus", Players: 3, MaxPlayers: 60}, nil
	}

	return nil, errors.New("i/o timeout")
}

func newStore(t *testing.T) *storage.Repository {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "maintenance.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestProbeServers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	reg := registry.New(store)

	up, err := store.CreateServer(ctx, models.Server{Name: "up", Location: "http://up", Host: "10.0.0.1", Port: 2302, Enabled: true})
	require.NoError(t, err)
	down, err := store.CreateServer(ctx, models.Server{Name: "down", Location: "http://down", Host: "10.0.0.2", Port: 2402, Enabled: true})
	require.NoError(t, err)
	off, err := store.CreateServer(ctx, models.Server{Name: "off", Location: "http://off", Host: "10.0.0.3", Port: 2502})
	require.NoError(t, err)
	require.NoError(t, store.SetServerEnabled(ctx, off.ID, false))

	m := New(reg, portProber{2302: true}, store, nil, 2)

	failed, err := m.ProbeServers(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	got, err := store.GetServer(ctx, up.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)

	got, err = store.GetServer(ctx, down.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.LastFailureTrace, "i/o timeout")

	// disabled servers are not probed
	got, err = store.GetServer(ctx, off.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, got.Status)
}

func TestPruneRooms(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	rooms := room.NewManager(store, notify.NewNotifier(nil, 1))

	srv, err := store.CreateServer(ctx, models.Server{Name: "s", Location: "http://s", Enabled: true})
	require.NoError(t, err)

	empty, err := rooms.CreateRoom(ctx, models.Room{ServerID: srv.ID, MaxPlayersCount: 2})
	require.NoError(t, err)
	busy, err := rooms.CreateRoom(ctx, models.Room{ServerID: srv.ID, MaxPlayersCount: 2})
	require.NoError(t, err)

	p, err := rooms.CreatePlayer(ctx, models.Player{UserID: 1})
	require.NoError(t, err)
	require.NoError(t, rooms.Join(ctx, busy.ID, p.ID))

	m := New(registry.New(store), portProber{}, store, rooms, 1)
	m.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	removed, err := m.PruneRooms(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = rooms.Get(ctx, empty.ID)
	assert.Error(t, err)
	_, err = rooms.Get(ctx, busy.ID)
	assert.NoError(t, err)

	// rooms younger than the age survive
	fresh, err := rooms.CreateRoom(ctx, models.Room{ServerID: srv.ID, MaxPlayersCount: 2})
	require.NoError(t, err)
	m.now = time.Now

	removed, err = m.PruneRooms(ctx, time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
	_, err = rooms.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}
