// Package server implements the internal HTTP API of the coordinator: heartbeat ingestion
// from game servers and the room, party and fleet operations used by the client gateway.
package server

import (
	"net/http"
	"time"

	"github.com/cespare/xxhash/v2"
)

// New creates a new Server instance with the provided services and options.
func New(deps Deps, opts Options) *Server {
	appMap := make(map[uint64]struct{})
	for _, app := range opts.AllowedApps {
		hash := xxhash.Sum64String(app)
		appMap[hash] = struct{}{}
	}

	if opts.MaxBodySize <= 0 {
		opts.MaxBodySize = 64 << 10
	}

	return &Server{
		storage:     deps.Storage,
		registry:    deps.Registry,
		geo:         deps.Geo,
		rooms:       deps.Rooms,
		parties:     deps.Parties,
		authToken:   opts.AuthToken,
		allowedApps: appMap,
		maxBody:     opts.MaxBodySize,
		trustProxy:  opts.TrustProxy,
		limiter:     newIPLimiter(opts.HardLimitCount, opts.HardLimitWin),
		shutdown:    make(chan struct{}),
	}
}

// StartWorkers starts the limiter cleanup routine.
func (s *Server) StartWorkers() {
	go s.gcLimiter()
}

// StopWorkers stops background routines.
func (s *Server) StopWorkers() {
	close(s.shutdown)
}

// Run configures the HTTP routes and returns the main handler.
func (s *Server) Run() http.Handler {
	mux := http.NewServeMux()

	auth := func(h http.HandlerFunc) http.Handler {
		return AdminAuthMiddleware(s.authToken, h)
	}

	mux.Handle("POST /api/heartbeat", s.RateLimitMiddleware(auth(s.handleHeartbeat)))

	mux.Handle("GET /api/version", http.HandlerFunc(s.handleVersion))
	mux.Handle("GET /api/regions", auth(s.handleRegions))
	mux.Handle("GET /api/regions/optimal", auth(s.handleOptimal))

	mux.Handle("GET /api/servers", auth(s.handleServers))
	mux.Handle("GET /api/servers/{id}", auth(s.handleGetServer))
	mux.Handle("PATCH /api/servers/{id}", auth(s.handlePatchServer))

	mux.Handle("POST /api/rooms", auth(s.handleCreateRoom))
	mux.Handle("GET /api/rooms", auth(s.handleFindRooms))
	mux.Handle("GET /api/rooms/{id}", auth(s.handleGetRoom))
	mux.Handle("DELETE /api/rooms/{id}", auth(s.handleTerminateRoom))
	mux.Handle("POST /api/rooms/{id}/spawn", auth(s.handleSpawnRoom))
	mux.Handle("GET /api/rooms/{id}/players", auth(s.handleRoomPlayers))
	mux.Handle("POST /api/rooms/{id}/players", auth(s.handleJoinRoom))
	mux.Handle("DELETE /api/rooms/{id}/players/{player}", auth(s.handleLeaveRoom))

	mux.Handle("POST /api/parties", auth(s.handleCreateParty))
	mux.Handle("GET /api/parties/{id}", auth(s.handleGetParty))
	mux.Handle("POST /api/parties/{id}/sessions", auth(s.handleJoinParty))
	mux.Handle("DELETE /api/parties/{id}/sessions/{session}", auth(s.handleLeaveParty))
	mux.Handle("POST /api/parties/{id}/start", auth(s.handleStartParty))
	mux.Handle("POST /api/parties/{id}/close", auth(s.handleCloseParty))

	return s.RequestIDMiddleware(s.LoggingMiddleware(mux))
}

// gcLimiter periodically drops rate limiter entries of clients that went quiet.
func (s *Server) gcLimiter() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-s.shutdown:
			return
		case now := <-ticker.C:
			s.limiter.forget(now.Add(-10 * time.Minute))
		}
	}
}
