// Package room admits players into rooms under a capacity limit and controls room processes.
package room

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/notify"
	"github.com/woozymasta/gamemaster/internal/remote"
	"golang.org/x/sync/singleflight"
)

// Event types sent to players.
const (
	EventPlayerJoined = "player_joined"
	EventRoomJoined   = "room_joined"
	EventPlayerLeft   = "player_left"
	EventRoomClosed   = "room_closed"
)

// Store is the persistence used by the manager.
type Store interface {
	CreateRoom(ctx context.Context, room models.Room) (*models.Room, error)
	GetRoom(ctx context.Context, id int64) (*models.Room, error)
	FindRooms(ctx context.Context, f models.RoomFilter) ([]models.Room, error)
	DeleteRoom(ctx context.Context, id int64) error
	SetRoomHandle(ctx context.Context, id int64, handle string) error
	CreatePlayer(ctx context.Context, p models.Player) (*models.Player, error)
	DeletePlayer(ctx context.Context, id int64) error
	GetPlayer(ctx context.Context, id int64) (*models.Player, error)
	GetRoomPlayers(ctx context.Context, roomID int64) ([]models.Player, error)
	AssignPlayer(ctx context.Context, roomID, playerID int64) (bool, error)
	DeleteRoomPlayer(ctx context.Context, roomID, playerID int64) error
}

// Moderator decides whether a user may enter a room.
// It returns an error wrapping apperr.ErrUserBanned to veto.
type Moderator interface {
	CheckModerations(ctx context.Context, roomID, userID int64) error
}

// Controller starts and stops the game process backing a room.
type Controller interface {
	Instantiate(ctx context.Context, room *models.Room) (string, error)
	Terminate(ctx context.Context, room *models.Room) error
}

// Identity resolves user ids to public user records.
type Identity interface {
	GetUser(ctx context.Context, userID int64) (*remote.User, error)
}

// Notifier delivers events to users, best effort.
type Notifier interface {
	Send(ctx context.Context, userID int64, event notify.Event)
	Broadcast(ctx context.Context, userIDs []int64, event notify.Event)
}

// Manager runs room operations. It keeps no per-room state in memory,
// so operations on different rooms never contend.
type Manager struct {
	store      Store
	moderator  Moderator
	controller Controller
	identity   Identity
	notifier   Notifier
	spawns     singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithModerator sets the moderation policy. Defaults to allowing everyone.
func WithModerator(m Moderator) Option {
	return func(mgr *Manager) { mgr.moderator = m }
}

// WithController sets the process controller. Defaults to remote.LocalController.
func WithController(c Controller) Option {
	return func(mgr *Manager) { mgr.controller = c }
}

// WithIdentity enables user lookups for notification payloads.
func WithIdentity(i Identity) Option {
	return func(mgr *Manager) { mgr.identity = i }
}

// NewManager creates a room manager.
func NewManager(store Store, notifier Notifier, opts ...Option) *Manager {
	m := &Manager{
		store:      store,
		notifier:   notifier,
		moderator:  remote.AllowAll{},
		controller: remote.LocalController{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// PlayerInfo is the public view of a room member sent in notifications.
type PlayerInfo struct {
	Username string `json:"username,omitempty"`
	PlayerID int64  `json:"player_id"`
	UserID   int64  `json:"user_id"`
}

// RoomInfo is sent to a player that just joined.
type RoomInfo struct {
	Settings models.Settings `json:"settings"`
	Players  []PlayerInfo    `json:"players"`
	RoomID   int64           `json:"room_id"`
	ServerID int64           `json:"server_id"`
}

// CreateRoom persists a new room.
func (m *Manager) CreateRoom(ctx context.Context, attrs models.Room) (*models.Room, error) {
	if attrs.MaxPlayersCount < 0 {
		return nil, fmt.Errorf("invalid max players count %d", attrs.MaxPlayersCount)
	}

	room, err := m.store.CreateRoom(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("create room: %w", err)
	}

	log.Debug().
		Int64("room", room.ID).
		Int64("server", room.ServerID).
		Int("max_players", room.MaxPlayersCount).
		Msg("Room created")

	return room, nil
}

// Get returns a room by id.
func (m *Manager) Get(ctx context.Context, roomID int64) (*models.Room, error) {
	return m.store.GetRoom(ctx, roomID)
}

// Find returns rooms matching the filter.
func (m *Manager) Find(ctx context.Context, f models.RoomFilter) ([]models.Room, error) {
	return m.store.FindRooms(ctx, f)
}

// CreatePlayer registers a player outside of any room.
func (m *Manager) CreatePlayer(ctx context.Context, attrs models.Player) (*models.Player, error) {
	return m.store.CreatePlayer(ctx, attrs)
}

// Players returns the current members of a room.
func (m *Manager) Players(ctx context.Context, roomID int64) ([]models.Player, error) {
	return m.store.GetRoomPlayers(ctx, roomID)
}

// Join admits the player into the room.
//
// Capacity is checked before asking moderation, then enforced again by the
// conditional write. Nothing is written and nobody is notified when any step fails.
func (m *Manager) Join(ctx context.Context, roomID, playerID int64) error {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	player, err := m.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}

	if player.RoomID != nil && *player.RoomID == room.ID {
		return nil
	}

	members, err := m.store.GetRoomPlayers(ctx, room.ID)
	if err != nil {
		return err
	}

	if len(members) >= room.MaxPlayersCount {
		return fmt.Errorf("room %d: %w", room.ID, apperr.ErrPlayersLimitPerRoomExceeded)
	}

	if err := m.moderator.CheckModerations(ctx, room.ID, player.UserID); err != nil {
		return fmt.Errorf("moderation of user %d: %w", player.UserID, err)
	}

	joining, err := m.playerInfo(ctx, *player)
	if err != nil {
		return err
	}

	ok, err := m.store.AssignPlayer(ctx, room.ID, player.ID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("room %d: %w", room.ID, apperr.ErrPlayersLimitPerRoomExceeded)
	}

	log.Debug().
		Int64("room", room.ID).
		Int64("player", player.ID).
		Int64("user", player.UserID).
		Msg("Player joined room")

	m.announceJoin(ctx, room, joining)

	return nil
}

// Admit places a group of new players into the room at once without notifying anyone.
//
// Moderation and identity are checked for every player before anything is written.
// When an assignment fails the players created by this call are deleted again.
func (m *Manager) Admit(ctx context.Context, roomID int64, group []models.Player) ([]models.Player, error) {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return nil, err
	}

	members, err := m.store.GetRoomPlayers(ctx, room.ID)
	if err != nil {
		return nil, err
	}

	if len(members)+len(group) > room.MaxPlayersCount {
		return nil, fmt.Errorf("room %d: %w", room.ID, apperr.ErrPlayersLimitPerRoomExceeded)
	}

	for _, p := range group {
		if err := m.moderator.CheckModerations(ctx, room.ID, p.UserID); err != nil {
			return nil, fmt.Errorf("moderation of user %d: %w", p.UserID, err)
		}
		if _, err := m.playerInfo(ctx, p); err != nil {
			return nil, fmt.Errorf("identity of user %d: %w", p.UserID, err)
		}
	}

	admitted := make([]models.Player, 0, len(group))
	for _, attrs := range group {
		p, err := m.store.CreatePlayer(ctx, attrs)
		if err != nil {
			m.dropPlayers(ctx, admitted)
			return nil, err
		}
		admitted = append(admitted, *p)

		ok, err := m.store.AssignPlayer(ctx, room.ID, p.ID)
		if err == nil && !ok {
			err = fmt.Errorf("room %d: %w", room.ID, apperr.ErrPlayersLimitPerRoomExceeded)
		}
		if err != nil {
			m.dropPlayers(ctx, admitted)
			return nil, err
		}

		admitted[len(admitted)-1].RoomID = &room.ID
		admitted[len(admitted)-1].Status = models.PlayerJoined
	}

	log.Debug().Int64("room", room.ID).Int("players", len(admitted)).Msg("Players admitted into room")

	return admitted, nil
}

func (m *Manager) dropPlayers(ctx context.Context, players []models.Player) {
	ctx = context.WithoutCancel(ctx)
	for _, p := range players {
		if err := m.store.DeletePlayer(ctx, p.ID); err != nil {
			log.Error().Err(err).Int64("player", p.ID).Msg("Failed to delete player of failed admission")
		}
	}
}

// announceJoin tells existing members about the new player and sends the room context to it.
func (m *Manager) announceJoin(ctx context.Context, room *models.Room, joining PlayerInfo) {
	members, err := m.store.GetRoomPlayers(ctx, room.ID)
	if err != nil {
		log.Warn().Err(err).Int64("room", room.ID).Msg("Failed to load room members for notification")
		return
	}

	info := RoomInfo{RoomID: room.ID, ServerID: room.ServerID, Settings: room.Settings}
	var others []int64
	for _, p := range members {
		info.Players = append(info.Players, PlayerInfo{PlayerID: p.ID, UserID: p.UserID})
		if p.ID != joining.PlayerID {
			others = append(others, p.UserID)
		}
	}

	m.notifier.Broadcast(ctx, others, notify.Event{Type: EventPlayerJoined, Data: joining})
	m.notifier.Send(ctx, joining.UserID, notify.Event{Type: EventRoomJoined, Data: info})
}

// playerInfo resolves the public identity of a player when an identity service is set.
func (m *Manager) playerInfo(ctx context.Context, p models.Player) (PlayerInfo, error) {
	info := PlayerInfo{PlayerID: p.ID, UserID: p.UserID}
	if m.identity == nil {
		return info, nil
	}

	user, err := m.identity.GetUser(ctx, p.UserID)
	if err != nil {
		return info, err
	}
	info.Username = user.Username

	return info, nil
}

// Leave removes the player from the room. A player that is not in the room yields apperr.ErrNotFound.
func (m *Manager) Leave(ctx context.Context, roomID, playerID int64) error {
	player, err := m.store.GetPlayer(ctx, playerID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteRoomPlayer(ctx, roomID, playerID); err != nil {
		return err
	}

	log.Debug().Int64("room", roomID).Int64("player", playerID).Msg("Player left room")

	remaining, err := m.store.GetRoomPlayers(ctx, roomID)
	if err != nil {
		log.Warn().Err(err).Int64("room", roomID).Msg("Failed to load room members for notification")
		return nil
	}

	m.notifier.Broadcast(ctx, userIDs(remaining), notify.Event{
		Type: EventPlayerLeft,
		Data: PlayerInfo{PlayerID: player.ID, UserID: player.UserID},
	})

	return nil
}

// Remove deletes all players of the room and then the room.
func (m *Manager) Remove(ctx context.Context, roomID int64) error {
	if err := m.store.DeleteRoom(ctx, roomID); err != nil {
		return err
	}

	log.Debug().Int64("room", roomID).Msg("Room removed")

	return nil
}

// Terminate stops the room process and removes the room.
// The room is removed even when the controller fails, the error is logged.
func (m *Manager) Terminate(ctx context.Context, roomID int64) error {
	return m.shutdown(ctx, roomID, true)
}

// Discard is Terminate without the room_closed notification, for rooms nobody was told about.
func (m *Manager) Discard(ctx context.Context, roomID int64) error {
	return m.shutdown(ctx, roomID, false)
}

func (m *Manager) shutdown(ctx context.Context, roomID int64, announce bool) error {
	room, err := m.store.GetRoom(ctx, roomID)
	if err != nil {
		return err
	}

	if announce {
		if members, err := m.store.GetRoomPlayers(ctx, room.ID); err == nil {
			m.notifier.Broadcast(ctx, userIDs(members), notify.Event{
				Type: EventRoomClosed,
				Data: map[string]int64{"room_id": room.ID},
			})
		}
	}

	if room.Handle != "" {
		m.stopProcess(ctx, room)
	}

	return m.Remove(ctx, room.ID)
}

func (m *Manager) stopProcess(ctx context.Context, room *models.Room) {
	if err := m.controller.Terminate(ctx, room); err != nil {
		log.Error().
			Err(err).
			Int64("room", room.ID).
			Str("handle", room.Handle).
			Msg("Failed to terminate room process")
	}
}

// Instantiate starts the room process and returns its handle.
// A room that already has a process returns the existing handle, concurrent
// calls for the same room share one controller request.
func (m *Manager) Instantiate(ctx context.Context, roomID int64) (string, error) {
	v, err, _ := m.spawns.Do(strconv.FormatInt(roomID, 10), func() (any, error) {
		room, err := m.store.GetRoom(ctx, roomID)
		if err != nil {
			return "", err
		}
		if room.Handle != "" {
			return room.Handle, nil
		}

		handle, err := m.controller.Instantiate(ctx, room)
		if err != nil {
			return "", fmt.Errorf("%w: room %d: %w", apperr.ErrSpawn, room.ID, err)
		}

		if err := m.store.SetRoomHandle(ctx, room.ID, handle); err != nil {
			// an unrecorded process would never be stopped
			room.Handle = handle
			m.stopProcess(context.WithoutCancel(ctx), room)

			return "", err
		}

		log.Info().Int64("room", room.ID).Str("handle", handle).Msg("Room process started")

		return handle, nil
	})
	if err != nil {
		return "", err
	}

	return v.(string), nil
}

// Spawn is Instantiate under the name used by placement code.
func (m *Manager) Spawn(ctx context.Context, roomID int64) (string, error) {
	return m.Instantiate(ctx, roomID)
}

func userIDs(players []models.Player) []int64 {
	ids := make([]int64, 0, len(players))
	for _, p := range players {
		ids = append(ids, p.UserID)
	}

	return ids
}
