package room

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/notify"
	"github.com/woozymasta/gamemaster/internal/remote"
	"github.com/woozymasta/gamemaster/internal/storage"
)

type sent struct {
	event  notify.Event
	userID int64
}

type recordingNotifier struct {
	events []sent
	mu     sync.Mutex
}

func (n *recordingNotifier) Send(_ context.Context, userID int64, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sent{userID: userID, event: event})
}

func (n *recordingNotifier) Broadcast(ctx context.Context, userIDs []int64, event notify.Event) {
	for _, id := range userIDs {
		n.Send(ctx, id, event)
	}
}

func (n *recordingNotifier) of(eventType string) []int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	var ids []int64
	for _, e := range n.events {
		if e.event.Type == eventType {
			ids = append(ids, e.userID)
		}
	}

	return ids
}

type banList map[int64]bool

func (b banList) CheckModerations(_ context.Context, _, userID int64) error {
	if b[userID] {
		return apperr.ErrUserBanned
	}

	return nil
}

type countingController struct {
	err        error
	started    atomic.Int32
	terminated atomic.Int32
}

func (c *countingController) Instantiate(_ context.Context, room *models.Room) (string, error) {
	if c.err != nil {
		return "", c.err
	}
	n := c.started.Add(1)

	return fmt.Sprintf("proc-%d-%d", room.ID, n), nil
}

func (c *countingController) Terminate(context.Context, *models.Room) error {
	c.terminated.Add(1)
	return errors.New("controller unreachable")
}

// lostRoomController loses the room while the process starts and records what it stops.
type lostRoomController struct {
	store   *storage.Repository
	stopped []string
}

func (c *lostRoomController) Instantiate(ctx context.Context, room *models.Room) (string, error) {
	if err := c.store.DeleteRoom(ctx, room.ID); err != nil {
		return "", err
	}

	return "proc-lost", nil
}

func (c *lostRoomController) Terminate(_ context.Context, room *models.Room) error {
	c.stopped = append(c.stopped, room.Handle)
	return nil
}

type users map[int64]string

func (u users) GetUser(_ context.Context, id int64) (*remote.User, error) {
	name, ok := u[id]
	if !ok {
		return nil, errors.New("lookup failed")
	}

	return &remote.User{ID: id, Username: name}, nil
}

type env struct {
	store    *storage.Repository
	notifier *recordingNotifier
	serverID int64
}

func newEnv(t *testing.T) *env {
	t.Helper()

	store, err := storage.New(filepath.Join(t.TempDir(), "room.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srv, err := store.CreateServer(context.Background(), models.Server{Name: "s1", Location: "http://s1", Enabled: true})
	require.NoError(t, err)

	return &env{store: store, notifier: &recordingNotifier{}, serverID: srv.ID}
}

func (e *env) players(t *testing.T, m *Manager, n int) []*models.Player {
	t.Helper()

	var out []*models.Player
	for i := range n {
		p, err := m.CreatePlayer(context.Background(), models.Player{UserID: int64(100 + i)})
		require.NoError(t, err)
		out = append(out, p)
	}

	return out
}

func TestJoinCapacityScenario(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier)

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)
	p := e.players(t, m, 3)

	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))
	require.NoError(t, m.Join(ctx, room.ID, p[1].ID))

	err = m.Join(ctx, room.ID, p[2].ID)
	assert.ErrorIs(t, err, apperr.ErrPlayersLimitPerRoomExceeded)
	assert.Equal(t, apperr.KindAdmission, apperr.KindOf(err))

	rejected, err := e.store.GetPlayer(ctx, p[2].ID)
	require.NoError(t, err)
	assert.Nil(t, rejected.RoomID)
	assert.Equal(t, models.PlayerNew, rejected.Status)

	require.NoError(t, m.Leave(ctx, room.ID, p[0].ID))
	require.NoError(t, m.Join(ctx, room.ID, p[2].ID))

	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)
}

func TestJoinNotifications(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier, WithIdentity(users{100: "alice", 101: "bob"}))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 4})
	require.NoError(t, err)
	p := e.players(t, m, 2)

	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))
	require.NoError(t, m.Join(ctx, room.ID, p[1].ID))

	// only alice was in the room when bob joined
	assert.Equal(t, []int64{100}, e.notifier.of(EventPlayerJoined))
	assert.Equal(t, []int64{100, 101}, e.notifier.of(EventRoomJoined))

	var joined PlayerInfo
	for _, ev := range e.notifier.events {
		if ev.event.Type == EventPlayerJoined {
			joined = ev.event.Data.(PlayerInfo)
		}
	}
	assert.Equal(t, "bob", joined.Username)

	require.NoError(t, m.Leave(ctx, room.ID, p[0].ID))
	assert.Equal(t, []int64{101}, e.notifier.of(EventPlayerLeft))
}

func TestJoinIdentityFailureLeavesNoTrace(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier, WithIdentity(users{}))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 4})
	require.NoError(t, err)
	p := e.players(t, m, 1)

	assert.Error(t, m.Join(ctx, room.ID, p[0].ID))

	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Empty(t, e.notifier.events)
}

func TestJoinBanned(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier, WithModerator(banList{101: true}))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 4})
	require.NoError(t, err)
	p := e.players(t, m, 2)

	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))

	err = m.Join(ctx, room.ID, p[1].ID)
	assert.ErrorIs(t, err, apperr.ErrUserBanned)
	assert.Equal(t, apperr.KindPolicy, apperr.KindOf(err))

	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 1)
	assert.Equal(t, []int64{100}, e.notifier.of(EventRoomJoined))
	assert.Empty(t, e.notifier.of(EventPlayerJoined))
}

func TestJoinTwiceIsNoop(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier)

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 1})
	require.NoError(t, err)
	p := e.players(t, m, 1)

	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))
	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))
}

func TestJoinConcurrentNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier)

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 5})
	require.NoError(t, err)
	p := e.players(t, m, 20)

	var (
		wg       sync.WaitGroup
		admitted atomic.Int32
	)
	for _, player := range p {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := m.Join(ctx, room.ID, player.ID)
			switch {
			case err == nil:
				admitted.Add(1)
			case !errors.Is(err, apperr.ErrPlayersLimitPerRoomExceeded):
				t.Errorf("unexpected join error: %v", err)
			}
		}()
	}
	wg.Wait()

	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 5)
	assert.EqualValues(t, 5, admitted.Load())
}

func TestLeaveNotMember(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier)

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)
	p := e.players(t, m, 1)

	assert.ErrorIs(t, m.Leave(ctx, room.ID, p[0].ID), apperr.ErrNotFound)
	assert.ErrorIs(t, m.Leave(ctx, room.ID, 9999), apperr.ErrNotFound)
}

func TestSpawnIsIdempotent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ctrl := &countingController{}
	m := NewManager(e.store, e.notifier, WithController(ctrl))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)

	first, err := m.Spawn(ctx, room.ID)
	require.NoError(t, err)
	second, err := m.Instantiate(ctx, room.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.EqualValues(t, 1, ctrl.started.Load())

	spawned := true
	rooms, err := m.Find(ctx, models.RoomFilter{Spawned: &spawned})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, first, rooms[0].Handle)
}

func TestSpawnError(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier, WithController(&countingController{err: errors.New("no slots")}))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)

	_, err = m.Spawn(ctx, room.ID)
	assert.ErrorIs(t, err, apperr.ErrSpawn)
	assert.Equal(t, apperr.KindPlacement, apperr.KindOf(err))

	room, err = m.Get(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, room.Handle)
}

func TestTerminateRemovesRoomEvenIfControllerFails(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ctrl := &countingController{}
	m := NewManager(e.store, e.notifier, WithController(ctrl))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, room.ID)
	require.NoError(t, err)

	p := e.players(t, m, 2)
	require.NoError(t, m.Join(ctx, room.ID, p[0].ID))
	require.NoError(t, m.Join(ctx, room.ID, p[1].ID))

	require.NoError(t, m.Terminate(ctx, room.ID))
	assert.EqualValues(t, 1, ctrl.terminated.Load())
	assert.Equal(t, []int64{100, 101}, e.notifier.of(EventRoomClosed))

	_, err = m.Get(ctx, room.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	_, err = e.store.GetPlayer(ctx, p[0].ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSpawnStopsProcessWhenHandleIsNotStored(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ctrl := &lostRoomController{store: e.store}
	m := NewManager(e.store, e.notifier, WithController(ctrl))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)

	_, err = m.Spawn(ctx, room.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	assert.Equal(t, []string{"proc-lost"}, ctrl.stopped)
}

func TestAdmitGroup(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier, WithIdentity(users{100: "alice", 101: "bob"}))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)

	admitted, err := m.Admit(ctx, room.ID, []models.Player{{UserID: 100}, {UserID: 101}})
	require.NoError(t, err)
	require.Len(t, admitted, 2)
	for _, p := range admitted {
		require.NotNil(t, p.RoomID)
		assert.Equal(t, room.ID, *p.RoomID)
		assert.Equal(t, models.PlayerJoined, p.Status)
	}

	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Len(t, members, 2)

	assert.Empty(t, e.notifier.of(EventRoomJoined))
	assert.Empty(t, e.notifier.of(EventPlayerJoined))
}

func TestAdmitGroupIsAllOrNothing(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier,
		WithModerator(banList{102: true}),
		WithIdentity(users{100: "alice", 101: "bob", 102: "eve"}),
	)

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 3})
	require.NoError(t, err)

	_, err = m.Admit(ctx, room.ID, []models.Player{{UserID: 100}, {UserID: 102}})
	assert.ErrorIs(t, err, apperr.ErrUserBanned)

	_, err = m.Admit(ctx, room.ID, []models.Player{{UserID: 100}, {UserID: 103}})
	assert.ErrorContains(t, err, "identity of user 103")

	_, err = m.Admit(ctx, room.ID, []models.Player{{UserID: 100}, {UserID: 101}, {UserID: 100}, {UserID: 101}})
	assert.ErrorIs(t, err, apperr.ErrPlayersLimitPerRoomExceeded)

	// nothing was written by the rejected groups
	_, err = e.store.GetPlayer(ctx, 1)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
	members, err := m.Players(ctx, room.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestDiscardIsSilent(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	ctrl := &countingController{}
	m := NewManager(e.store, e.notifier, WithController(ctrl))

	room, err := m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)
	_, err = m.Admit(ctx, room.ID, []models.Player{{UserID: 100}})
	require.NoError(t, err)
	_, err = m.Spawn(ctx, room.ID)
	require.NoError(t, err)

	require.NoError(t, m.Discard(ctx, room.ID))
	assert.EqualValues(t, 1, ctrl.terminated.Load())
	assert.Empty(t, e.notifier.of(EventRoomClosed))

	_, err = m.Get(ctx, room.ID)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestFindByServer(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	m := NewManager(e.store, e.notifier)

	other, err := e.store.CreateServer(ctx, models.Server{Name: "s2", Location: "http://s2", Enabled: true})
	require.NoError(t, err)

	_, err = m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: 2})
	require.NoError(t, err)
	_, err = m.CreateRoom(ctx, models.Room{ServerID: other.ID, MaxPlayersCount: 2})
	require.NoError(t, err)

	rooms, err := m.Find(ctx, models.RoomFilter{ServerID: other.ID})
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, other.ID, rooms[0].ServerID)

	_, err = m.CreateRoom(ctx, models.Room{ServerID: e.serverID, MaxPlayersCount: -1})
	assert.Error(t, err)
}
