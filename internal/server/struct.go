package server

import (
	"time"

	"github.com/woozymasta/gamemaster/internal/geo"
	"github.com/woozymasta/gamemaster/internal/party"
	"github.com/woozymasta/gamemaster/internal/registry"
	"github.com/woozymasta/gamemaster/internal/room"
	"github.com/woozymasta/gamemaster/internal/storage"
)

// Deps are the services the HTTP layer exposes.
type Deps struct {
	Storage  *storage.Repository
	Registry *registry.Registry
	Geo      *geo.Index
	Rooms    *room.Manager
	Parties  *party.Manager
}

// Server holds the dependencies, configuration, and runtime state required
// to handle HTTP requests.
type Server struct {
	// storage serves reference data (regions, application versions).
	storage *storage.Repository

	// registry ingests heartbeats and selects servers.
	registry *registry.Registry

	// geo resolves client addresses to regions.
	geo *geo.Index

	// rooms and parties run the coordination operations.
	rooms   *room.Manager
	parties *party.Manager

	// allowedApps is a set of hashed application names (using xxhash) rooms and
	// sessions may be created for. Empty means any application.
	allowedApps map[uint64]struct{}

	// limiter holds per-IP token buckets for heartbeat ingestion.
	limiter *ipLimiter

	// shutdown stops background routines.
	shutdown chan struct{}

	// authToken is the bearer token required on every API endpoint.
	authToken string

	// maxBody specifies the maximum allowed size (in bytes) for incoming HTTP request bodies.
	maxBody int64

	// trustProxy indicates whether the server should trust headers like X-Forwarded-For
	// or CF-Connecting-IP when determining the client's real IP address.
	trustProxy bool
}

// Options are the HTTP layer settings.
type Options struct {
	AuthToken      string
	AllowedApps    []string
	MaxBodySize    int64
	HardLimitCount int
	HardLimitWin   time.Duration
	TrustProxy     bool
}
