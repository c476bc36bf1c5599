// Package party groups users into parties and places a started party into a room.
package party

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/notify"
)

// Event types sent to party members.
const (
	EventMemberJoined = "member_joined"
	EventMemberLeft   = "member_left"
	EventPartyStarted = "party_started"
	EventPartyClosed  = "party_closed"
)

// claimTTL bounds how long a start may hold a party before another start can take it over.
const claimTTL = 5 * time.Minute

// Store is the persistence used by the manager.
type Store interface {
	CreateParty(ctx context.Context, p models.Party) (*models.Party, error)
	GetParty(ctx context.Context, id int64) (*models.Party, error)
	ClaimPartyStart(ctx context.Context, id int64, token string, staleBefore time.Time) (bool, error)
	ReleasePartyStart(ctx context.Context, id int64, token string) error
	CompletePartyStart(ctx context.Context, id int64, token string, roomID int64) (bool, error)
	DeleteParty(ctx context.Context, id int64) error
	InsertSession(ctx context.Context, s models.PartySession) (*models.PartySession, error)
	GetSession(ctx context.Context, id int64) (*models.PartySession, error)
	GetPartySessions(ctx context.Context, partyID int64) ([]models.PartySession, error)
	DeleteSession(ctx context.Context, id int64) error
}

// RegionResolver maps a player address to the region it should play in. *geo.Index implements it.
type RegionResolver interface {
	ResolveRegion(ctx context.Context, ip string) (*models.GeoLocationRegion, error)
}

// ServerSelector picks a server in a region. *registry.Registry implements it.
type ServerSelector interface {
	SelectOptimal(ctx context.Context, regionID int64) (*models.Server, error)
}

// Rooms is the part of the room manager used for placement. *room.Manager implements it.
type Rooms interface {
	CreateRoom(ctx context.Context, attrs models.Room) (*models.Room, error)
	Spawn(ctx context.Context, roomID int64) (string, error)
	Admit(ctx context.Context, roomID int64, group []models.Player) ([]models.Player, error)
	Discard(ctx context.Context, roomID int64) error
}

// Notifier delivers events to users, best effort.
type Notifier interface {
	Broadcast(ctx context.Context, userIDs []int64, event notify.Event)
}

// Manager runs party operations.
type Manager struct {
	store    Store
	regions  RegionResolver
	servers  ServerSelector
	rooms    Rooms
	notifier Notifier
}

// NewManager creates a party manager.
func NewManager(store Store, regions RegionResolver, servers ServerSelector, rooms Rooms, notifier Notifier) *Manager {
	return &Manager{
		store:    store,
		regions:  regions,
		servers:  servers,
		rooms:    rooms,
		notifier: notifier,
	}
}

// MemberInfo is the public view of a party member sent in notifications.
type MemberInfo struct {
	SessionID int64       `json:"session_id"`
	UserID    int64       `json:"user_id"`
	Role      models.Role `json:"role"`
}

// StartedInfo tells members where the party was placed.
type StartedInfo struct {
	Host     string `json:"host"`
	Handle   string `json:"handle"`
	PartyID  int64  `json:"party_id"`
	RoomID   int64  `json:"room_id"`
	ServerID int64  `json:"server_id"`
	Port     int    `json:"port"`
}

// CreateParty persists a new party in the created status.
func (m *Manager) CreateParty(ctx context.Context, attrs models.Party) (*models.Party, error) {
	if attrs.MaxMembersCount <= 0 {
		return nil, fmt.Errorf("invalid max members count %d", attrs.MaxMembersCount)
	}

	p, err := m.store.CreateParty(ctx, attrs)
	if err != nil {
		return nil, fmt.Errorf("create party: %w", err)
	}

	log.Debug().Int64("party", p.ID).Int("max_members", p.MaxMembersCount).Msg("Party created")

	return p, nil
}

// Get returns a party by id.
func (m *Manager) Get(ctx context.Context, partyID int64) (*models.Party, error) {
	return m.store.GetParty(ctx, partyID)
}

// Members returns the sessions of a party in join order.
func (m *Manager) Members(ctx context.Context, partyID int64) ([]models.PartySession, error) {
	return m.store.GetPartySessions(ctx, partyID)
}

// CreateSession adds a member to the party while it is below its member limit.
func (m *Manager) CreateSession(ctx context.Context, partyID int64, attrs models.PartySession) (*models.PartySession, error) {
	return m.addSession(ctx, partyID, attrs)
}

// JoinParty is CreateSession under the name used by the client API.
func (m *Manager) JoinParty(ctx context.Context, partyID int64, attrs models.PartySession) (*models.PartySession, error) {
	return m.addSession(ctx, partyID, attrs)
}

func (m *Manager) addSession(ctx context.Context, partyID int64, attrs models.PartySession) (*models.PartySession, error) {
	attrs.PartyID = partyID

	session, err := m.store.InsertSession(ctx, attrs)
	if err != nil {
		return nil, err
	}

	if session == nil {
		// nothing inserted: the party is missing, no longer open or full
		party, err := m.store.GetParty(ctx, partyID)
		if err != nil {
			return nil, err
		}
		if party.Status != models.PartyCreated || party.Placing {
			return nil, fmt.Errorf("join party %d in %s: %w", partyID, partyState(party), apperr.ErrInvalidTransition)
		}

		return nil, fmt.Errorf("party %d: %w", partyID, apperr.ErrPlayersLimitPerPartyExceeded)
	}

	log.Debug().
		Int64("party", partyID).
		Int64("session", session.ID).
		Int64("user", session.UserID).
		Msg("Party member joined")

	if others, err := m.memberIDs(ctx, partyID, session.ID); err == nil {
		m.notifier.Broadcast(ctx, others, notify.Event{Type: EventMemberJoined, Data: memberInfo(session)})
	} else {
		log.Warn().Err(err).Int64("party", partyID).Msg("Failed to load party members for notification")
	}

	return session, nil
}

// CloseSession removes a member from its party.
func (m *Manager) CloseSession(ctx context.Context, sessionID int64) error {
	return m.removeSession(ctx, sessionID)
}

// LeaveParty is CloseSession under the name used by the client API.
func (m *Manager) LeaveParty(ctx context.Context, sessionID int64) error {
	return m.removeSession(ctx, sessionID)
}

func (m *Manager) removeSession(ctx context.Context, sessionID int64) error {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	if err := m.store.DeleteSession(ctx, session.ID); err != nil {
		return err
	}

	log.Debug().Int64("party", session.PartyID).Int64("session", session.ID).Msg("Party member left")

	if others, err := m.memberIDs(ctx, session.PartyID, session.ID); err == nil {
		m.notifier.Broadcast(ctx, others, notify.Event{Type: EventMemberLeft, Data: memberInfo(session)})
	} else {
		log.Warn().Err(err).Int64("party", session.PartyID).Msg("Failed to load party members for notification")
	}

	return nil
}

// Start places the party into a room on the best server near the initiating member.
//
// A start claims the party first, so a second start and new members are rejected with
// apperr.ErrInvalidTransition while placement runs. The status stays created until the
// room is filled and then moves through starting to started in one write. A failed
// placement discards the room and releases the claim without touching the status.
func (m *Manager) Start(ctx context.Context, partyID, bySessionID int64) (*models.Party, error) {
	initiator, err := m.authorize(ctx, partyID, bySessionID, models.PermCanStart)
	if err != nil {
		return nil, err
	}

	token := uuid.NewString()
	ok, err := m.store.ClaimPartyStart(ctx, partyID, token, time.Now().Add(-claimTTL))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, m.transitionError(ctx, partyID, models.PartyStarting)
	}

	log.Info().Int64("party", partyID).Int64("session", initiator.ID).Msg("Party starting")

	started, err := m.place(ctx, partyID, token, initiator)
	if err != nil {
		// the caller context may be gone, the claim must still be released
		if rerr := m.store.ReleasePartyStart(context.WithoutCancel(ctx), partyID, token); rerr != nil {
			log.Error().Err(rerr).Int64("party", partyID).Msg("Failed to release party start claim")
		}

		return nil, err
	}

	return started, nil
}

func (m *Manager) place(ctx context.Context, partyID int64, token string, initiator *models.PartySession) (*models.Party, error) {
	party, err := m.store.GetParty(ctx, partyID)
	if err != nil {
		return nil, err
	}

	region, err := m.regions.ResolveRegion(ctx, initiator.IPAddress)
	if err != nil {
		return nil, err
	}

	server, err := m.servers.SelectOptimal(ctx, region.ID)
	if err != nil {
		return nil, err
	}

	room, err := m.rooms.CreateRoom(ctx, models.Room{
		ServerID:        server.ID,
		AppVersionID:    initiator.AppVersionID,
		Settings:        party.Settings,
		MaxPlayersCount: party.MaxMembersCount,
	})
	if err != nil {
		return nil, err
	}

	started, handle, err := m.fill(ctx, party, token, room)
	if err != nil {
		if derr := m.rooms.Discard(context.WithoutCancel(ctx), room.ID); derr != nil {
			log.Error().Err(derr).Int64("room", room.ID).Msg("Failed to discard room of failed party start")
		}

		return nil, err
	}

	log.Info().
		Int64("party", partyID).
		Int64("room", room.ID).
		Str("server", server.Name).
		Str("region", region.Name).
		Msg("Party started")

	m.notifier.Broadcast(ctx, sessionUserIDs(started.sessions), notify.Event{
		Type: EventPartyStarted,
		Data: StartedInfo{
			PartyID:  partyID,
			RoomID:   room.ID,
			ServerID: server.ID,
			Host:     server.Host,
			Port:     server.Port,
			Handle:   handle,
		},
	})

	return started.party, nil
}

type startedParty struct {
	party    *models.Party
	sessions []models.PartySession
}

// fill admits every member into the room, spawns the room process and marks the party started.
// Members hear about the room only through party_started.
func (m *Manager) fill(ctx context.Context, party *models.Party, token string, room *models.Room) (*startedParty, string, error) {
	sessions, err := m.store.GetPartySessions(ctx, party.ID)
	if err != nil {
		return nil, "", err
	}

	group := make([]models.Player, 0, len(sessions))
	for _, s := range sessions {
		group = append(group, models.Player{
			UserID:    s.UserID,
			IPAddress: s.IPAddress,
			Payload:   s.Settings,
		})
	}

	if _, err := m.rooms.Admit(ctx, room.ID, group); err != nil {
		return nil, "", err
	}

	handle, err := m.rooms.Spawn(ctx, room.ID)
	if err != nil {
		return nil, "", err
	}

	ok, err := m.store.CompletePartyStart(ctx, party.ID, token, room.ID)
	if err != nil {
		return nil, "", err
	}
	if !ok {
		return nil, "", m.transitionError(ctx, party.ID, models.PartyStarted)
	}

	roomID := room.ID
	party.Status = models.PartyStarted
	party.RoomID = &roomID
	party.Placing = false

	return &startedParty{party: party, sessions: sessions}, handle, nil
}

// Close broadcasts the closure to all members and deletes the party with its sessions.
func (m *Manager) Close(ctx context.Context, partyID, bySessionID int64) error {
	if _, err := m.authorize(ctx, partyID, bySessionID, models.PermCanClose); err != nil {
		return err
	}

	sessions, err := m.store.GetPartySessions(ctx, partyID)
	if err != nil {
		return err
	}

	m.notifier.Broadcast(ctx, sessionUserIDs(sessions), notify.Event{
		Type: EventPartyClosed,
		Data: map[string]int64{"party_id": partyID},
	})

	if err := m.store.DeleteParty(ctx, partyID); err != nil {
		return err
	}

	log.Info().Int64("party", partyID).Int64("session", bySessionID).Msg("Party closed")

	return nil
}

// authorize loads the acting session and checks it belongs to the party and holds perm.
func (m *Manager) authorize(ctx context.Context, partyID, sessionID int64, perm models.Permission) (*models.PartySession, error) {
	session, err := m.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	if session.PartyID != partyID {
		return nil, fmt.Errorf("session %d is not a member of party %d: %w",
			sessionID, partyID, apperr.ErrPartySessionPermission)
	}

	if err := Require(session, perm); err != nil {
		return nil, err
	}

	return session, nil
}

func (m *Manager) transitionError(ctx context.Context, partyID int64, to models.PartyStatus) error {
	party, err := m.store.GetParty(ctx, partyID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}

		return fmt.Errorf("party %d to %s: %w", partyID, to, apperr.ErrInvalidTransition)
	}

	return fmt.Errorf("party %d from %s to %s: %w", partyID, partyState(party), to, apperr.ErrInvalidTransition)
}

func partyState(p *models.Party) string {
	if p.Placing && p.Status == models.PartyCreated {
		return "placement"
	}

	return p.Status.String()
}

func (m *Manager) memberIDs(ctx context.Context, partyID, exceptSessionID int64) ([]int64, error) {
	sessions, err := m.store.GetPartySessions(ctx, partyID)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		if s.ID != exceptSessionID {
			ids = append(ids, s.UserID)
		}
	}

	return ids, nil
}

func memberInfo(s *models.PartySession) MemberInfo {
	return MemberInfo{SessionID: s.ID, UserID: s.UserID, Role: s.Role}
}

func sessionUserIDs(sessions []models.PartySession) []int64 {
	ids := make([]int64, 0, len(sessions))
	for _, s := range sessions {
		ids = append(ids, s.UserID)
	}

	return ids
}
