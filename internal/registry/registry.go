// Package registry tracks game server health and selects servers for placement.
package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
)

// Store is the persistence used by the registry.
type Store interface {
	GetServer(ctx context.Context, id int64) (*models.Server, error)
	GetServerByName(ctx context.Context, name string) (*models.Server, error)
	GetServers(ctx context.Context, onlyEnabled bool) ([]models.Server, error)
	GetActiveServersInRegion(ctx context.Context, regionID int64) ([]models.Server, error)
	UpdateServerHealth(ctx context.Context, id int64, cpu, ram float64, status models.ServerStatus, at time.Time) error
	UpdateServerFailure(ctx context.Context, id int64, traceback string) error
}

// Registry ingests heartbeats and answers placement queries.
// Every server's health fields are written only through IngestHeartbeat.
type Registry struct {
	store      Store
	policy     Policy
	now        func() time.Time
	thresholds Thresholds
}

// Option configures a Registry.
type Option func(*Registry)

// WithThresholds sets the overload thresholds.
func WithThresholds(th Thresholds) Option {
	return func(r *Registry) { r.thresholds = th }
}

// WithPolicy replaces the placement policy.
func WithPolicy(p Policy) Option {
	return func(r *Registry) { r.policy = p }
}

// WithClock replaces time.Now, used by tests.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// New creates a registry on top of store.
func New(store Store, opts ...Option) *Registry {
	r := &Registry{
		store:      store,
		policy:     LeastLoaded,
		now:        time.Now,
		thresholds: DefaultThresholds,
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// IngestHeartbeat applies a report to the server state.
// Health reports refresh load and derive active or overload, failure signals mark the server failed.
func (r *Registry) IngestHeartbeat(ctx context.Context, serverID int64, report Report) error {
	switch rep := report.(type) {
	case HealthReport:
		status := models.StatusActive
		if rep.Overloaded(r.thresholds) {
			status = models.StatusOverload
		}

		if err := r.store.UpdateServerHealth(ctx, serverID, rep.CPULoad, rep.RAMUsage, status, r.now().UTC()); err != nil {
			return fmt.Errorf("heartbeat server %d: %w", serverID, err)
		}

		log.Trace().
			Int64("server", serverID).
			Float64("cpu", rep.CPULoad).
			Float64("ram", rep.RAMUsage).
			Str("status", string(status)).
			Msg("Heartbeat accepted")

	case FailureSignal:
		if err := r.store.UpdateServerFailure(ctx, serverID, rep.Trace()); err != nil {
			return fmt.Errorf("failure signal server %d: %w", serverID, err)
		}

		log.Warn().
			Int64("server", serverID).
			AnErr("failure", rep.Err).
			Msg("Server marked as failed")

	default:
		return fmt.Errorf("server %d: %w", serverID, apperr.ErrInvalidReport)
	}

	return nil
}

// SelectOptimal returns the preferred active server of the region.
func (r *Registry) SelectOptimal(ctx context.Context, regionID int64) (*models.Server, error) {
	candidates, err := r.store.GetActiveServersInRegion(ctx, regionID)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		return nil, fmt.Errorf("region %d: %w", regionID, apperr.ErrNoCapacity)
	}

	chosen := r.policy.Choose(candidates)

	return &chosen, nil
}

// Server returns a server by id.
func (r *Registry) Server(ctx context.Context, id int64) (*models.Server, error) {
	return r.store.GetServer(ctx, id)
}

// ServerByName returns a server by its unique name.
func (r *Registry) ServerByName(ctx context.Context, name string) (*models.Server, error) {
	return r.store.GetServerByName(ctx, name)
}

// Servers lists the fleet.
func (r *Registry) Servers(ctx context.Context, onlyEnabled bool) ([]models.Server, error) {
	return r.store.GetServers(ctx, onlyEnabled)
}
