package server

import (
	"errors"
	"net/http"
	"net/netip"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/registry"
	"github.com/woozymasta/gamemaster/internal/vars"
)

// handleHeartbeat ingests a health report or failure signal posted by a game server.
func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req models.HeartbeatRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Server == "" {
		writeError(w, r, badRequest("missing server name"))
		return
	}

	srv, err := s.registry.ServerByName(r.Context(), req.Server)
	if err != nil {
		writeError(w, r, err)
		return
	}

	report, err := reportOf(req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if err := s.registry.IngestHeartbeat(r.Context(), srv.ID, report); err != nil {
		writeError(w, r, err)
		return
	}

	updated, err := s.registry.Server(r.Context(), srv.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]models.ServerStatus{"status": updated.Status})
}

// reportOf turns the wire payload into a registry report.
// A payload with an error is a failure signal, anything else must carry loads within 0..1.
func reportOf(req models.HeartbeatRequest) (registry.Report, error) {
	if req.Error != "" {
		return registry.FailureSignal{Err: errors.New(req.Error), Traceback: req.Traceback}, nil
	}

	if req.CPULoad < 0 || req.CPULoad > 1 || req.RAMUsage < 0 || req.RAMUsage > 1 {
		return nil, apperr.ErrInvalidReport
	}

	return registry.HealthReport{CPULoad: req.CPULoad, RAMUsage: req.RAMUsage}, nil
}

// handleVersion returns build information.
func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, vars.Info())
}

// handleRegions lists the configured regions.
func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.storage.GetRegions(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	if regions == nil {
		regions = []models.GeoLocationRegion{}
	}

	writeJSON(w, http.StatusOK, regions)
}

type optimalResponse struct {
	Region *models.GeoLocationRegion `json:"region"`
	Server *models.Server            `json:"server"`
}

// handleOptimal resolves the region of a player address and picks its best server.
// Query params: ?ip=1.2.3.4, defaults to the caller address.
func (s *Server) handleOptimal(w http.ResponseWriter, r *http.Request) {
	ip := r.URL.Query().Get("ip")
	if ip == "" {
		ip = GetRealIP(r, s.trustProxy)
	} else if _, err := netip.ParseAddr(ip); err != nil {
		writeError(w, r, badRequest("invalid ip %q", ip))
		return
	}

	region, err := s.geo.ResolveRegion(r.Context(), ip)
	if err != nil {
		writeError(w, r, err)
		return
	}

	srv, err := s.registry.SelectOptimal(r.Context(), region.ID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, optimalResponse{Region: region, Server: srv})
}

// handleServers lists the fleet. Query params: ?enabled=true limits to enabled servers.
func (s *Server) handleServers(w http.ResponseWriter, r *http.Request) {
	servers, err := s.registry.Servers(r.Context(), r.URL.Query().Get("enabled") == "true")
	if err != nil {
		writeError(w, r, err)
		return
	}

	if servers == nil {
		servers = []models.Server{}
	}

	writeJSON(w, http.StatusOK, servers)
}

// handleGetServer returns one server.
func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	srv, err := s.registry.Server(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, srv)
}

type patchServerRequest struct {
	Enabled *bool `json:"enabled"`
}

// handlePatchServer enables or disables a server for placement.
func (s *Server) handlePatchServer(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req patchServerRequest
	if err := s.decode(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Enabled == nil {
		writeError(w, r, badRequest("missing enabled"))
		return
	}

	if err := s.storage.SetServerEnabled(r.Context(), id, *req.Enabled); err != nil {
		writeError(w, r, err)
		return
	}

	log.Info().Int64("server", id).Bool("enabled", *req.Enabled).Msg("Server placement toggled")

	srv, err := s.registry.Server(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, srv)
}
