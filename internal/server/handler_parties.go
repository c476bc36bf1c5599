package server

import (
	"net/http"

	"github.com/woozymasta/gamemaster/internal/models"
)

type createPartyRequest struct {
	Settings        models.Settings `json:"settings"`
	MaxMembersCount int             `json:"max_members_count"`
}

// handleCreateParty creates an empty party.
func (s *Server) handleCreateParty(w http.ResponseWriter, r *http.Request) {
	var req createPartyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.MaxMembersCount <= 0 {
		writeError(w, r, badRequest("max_members_count is required"))
		return
	}

	p, err := s.parties.CreateParty(r.Context(), models.Party{
		MaxMembersCount: req.MaxMembersCount,
		Settings:        req.Settings,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, p)
}

type partyResponse struct {
	*models.Party
	Members []models.PartySession `json:"members"`
}

// handleGetParty returns a party with its members.
func (s *Server) handleGetParty(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.parties.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	members, err := s.parties.Members(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if members == nil {
		members = []models.PartySession{}
	}

	writeJSON(w, http.StatusOK, partyResponse{Party: p, Members: members})
}

type joinPartyRequest struct {
	Settings    models.Settings `json:"settings"`
	Application string          `json:"application"`
	Version     string          `json:"version"`
	IPAddress   string          `json:"ip_address"`
	UserID      int64           `json:"user_id"`
	Role        models.Role     `json:"role"`
}

// handleJoinParty adds a member session to a party.
func (s *Server) handleJoinParty(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req joinPartyRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.UserID <= 0 {
		writeError(w, r, badRequest("user_id is required"))
		return
	}
	if req.Role != models.RoleUser && req.Role != models.RoleAdmin {
		writeError(w, r, badRequest("unknown role %d", req.Role))
		return
	}

	appVersionID, err := s.appVersion(r, req.Application, req.Version)
	if err != nil {
		writeError(w, r, err)
		return
	}

	ip := req.IPAddress
	if ip == "" {
		ip = GetRealIP(r, s.trustProxy)
	}

	session, err := s.parties.JoinParty(r.Context(), id, models.PartySession{
		UserID:       req.UserID,
		Role:         req.Role,
		Settings:     req.Settings,
		AppVersionID: appVersionID,
		IPAddress:    ip,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, session)
}

// handleLeaveParty removes a member session from a party.
func (s *Server) handleLeaveParty(w http.ResponseWriter, r *http.Request) {
	sessionID, err := pathID(r, "session")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.parties.LeaveParty(r.Context(), sessionID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type partyActionRequest struct {
	SessionID int64 `json:"session_id"`
}

// handleStartParty places the party into a room on behalf of one of its members.
func (s *Server) handleStartParty(w http.ResponseWriter, r *http.Request) {
	id, req, err := s.partyAction(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	p, err := s.parties.Start(r.Context(), id, req.SessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, p)
}

// handleCloseParty dissolves the party on behalf of one of its members.
func (s *Server) handleCloseParty(w http.ResponseWriter, r *http.Request) {
	id, req, err := s.partyAction(w, r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.parties.Close(r.Context(), id, req.SessionID); err != nil {
		writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) partyAction(w http.ResponseWriter, r *http.Request) (int64, partyActionRequest, error) {
	var req partyActionRequest

	id, err := pathID(r, "id")
	if err != nil {
		return 0, req, err
	}

	if err := s.decode(w, r, &req); err != nil {
		return 0, req, err
	}
	if req.SessionID <= 0 {
		return 0, req, badRequest("session_id is required")
	}

	return id, req, nil
}
