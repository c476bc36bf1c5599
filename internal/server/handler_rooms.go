package server

import (
	"net/http"
	"strconv"

	"github.com/woozymasta/gamemaster/internal/models"
)

type createRoomRequest struct {
	Settings        models.Settings `json:"settings"`
	Application     string          `json:"application"`
	Version         string          `json:"version"`
	ServerID        int64           `json:"server_id"`
	MaxPlayersCount int             `json:"max_players_count"`
}

// handleCreateRoom creates a room for an application version on a server.
func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.ServerID <= 0 || req.MaxPlayersCount <= 0 {
		writeError(w, r, badRequest("server_id and max_players_count are required"))
		return
	}

	appVersionID, err := s.appVersion(r, req.Application, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.registry.Server(r.Context(), req.ServerID); err != nil {
		writeError(w, r, err)
		return
	}

	room, err := s.rooms.CreateRoom(r.Context(), models.Room{
		ServerID:        req.ServerID,
		AppVersionID:    appVersionID,
		Settings:        req.Settings,
		MaxPlayersCount: req.MaxPlayersCount,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, room)
}

// appVersion resolves an allowed application version, 0 when no application is given.
func (s *Server) appVersion(r *http.Request, app, version string) (int64, error) {
	if app == "" {
		if len(s.allowedApps) > 0 {
			return 0, badRequest("application is required")
		}
		return 0, nil
	}

	if !s.appAllowed(app) {
		return 0, badRequest("application %q is not allowed", app)
	}

	v, err := s.storage.EnsureAppVersion(r.Context(), app, version)
	if err != nil {
		return 0, err
	}

	return v.ID, nil
}

// handleFindRooms lists rooms.
// Query params: ?server_id=1&app_version_id=2&spawned=true
func (s *Server) handleFindRooms(w http.ResponseWriter, r *http.Request) {
	var (
		f   models.RoomFilter
		err error
	)

	if f.ServerID, err = queryID(r, "server_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if f.AppVersionID, err = queryID(r, "app_version_id"); err != nil {
		writeError(w, r, err)
		return
	}
	if raw := r.URL.Query().Get("spawned"); raw != "" {
		spawned, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, r, badRequest("invalid spawned %q", raw))
			return
		}
		f.Spawned = &spawned
	}

	rooms, err := s.rooms.Find(r.Context(), f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if rooms == nil {
		rooms = []models.Room{}
	}

	writeJSON(w, http.StatusOK, rooms)
}

// handleGetRoom returns one room.
func (s *Server) handleGetRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	room, err := s.rooms.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, room)
}

// handleTerminateRoom stops the room process and removes the room.
func (s *Server) handleTerminateRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.rooms.Terminate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleSpawnRoom starts the room process, returning the existing handle when already running.
func (s *Server) handleSpawnRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	handle, err := s.rooms.Spawn(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"handle": handle})
}

// handleRoomPlayers lists the members of a room.
func (s *Server) handleRoomPlayers(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if _, err := s.rooms.Get(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}

	players, err := s.rooms.Players(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if players == nil {
		players = []models.Player{}
	}

	writeJSON(w, http.StatusOK, players)
}

type joinRoomRequest struct {
	Payload   models.Settings `json:"payload"`
	IPAddress string          `json:"ip_address"`
	UserID    int64           `json:"user_id"`
	PlayerID  int64           `json:"player_id"`
}

// handleJoinRoom admits a player into a room. An existing player_id is reused,
// otherwise a new player is registered for user_id.
func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req joinRoomRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	playerID := req.PlayerID
	if playerID == 0 {
		if req.UserID <= 0 {
			writeError(w, r, badRequest("user_id or player_id is required"))
			return
		}

		player, err := s.rooms.CreatePlayer(r.Context(), models.Player{
			UserID:    req.UserID,
			IPAddress: req.IPAddress,
			Payload:   req.Payload,
		})
		if err != nil {
			writeError(w, r, err)
			return
		}
		playerID = player.ID
	}

	if err := s.rooms.Join(r.Context(), id, playerID); err != nil {
		writeError(w, r, err)
		return
	}

	players, err := s.rooms.Players(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	for _, p := range players {
		if p.ID == playerID {
			writeJSON(w, http.StatusOK, p)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]int64{"player_id": playerID})
}

// handleLeaveRoom removes a player from a room.
func (s *Server) handleLeaveRoom(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	playerID, err := pathID(r, "player")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.rooms.Leave(r.Context(), id, playerID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
