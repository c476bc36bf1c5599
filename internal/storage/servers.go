package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
)

const serverColumns = `
	s.id, s.name, s.location, s.host, s.port, COALESCE(s.geo_location_id, 0), s.enabled, s.status,
	s.last_heartbeat, s.last_failure_tb, s.cpu_load, s.ram_usage`

func scanServer(row scanner) (*models.Server, error) {
	var (
		s         models.Server
		heartbeat sql.NullTime
	)

	err := row.Scan(
		&s.ID, &s.Name, &s.Location, &s.Host, &s.Port, &s.GeoLocationID, &s.Enabled, &s.Status,
		&heartbeat, &s.LastFailureTrace, &s.CPULoad, &s.RAMUsage,
	)
	if err != nil {
		return nil, err
	}

	if heartbeat.Valid {
		t := heartbeat.Time
		s.LastHeartbeat = &t
	}

	return &s, nil
}

func collectServers(rows *sql.Rows) ([]models.Server, error) {
	defer func() { _ = rows.Close() }()

	var servers []models.Server
	for rows.Next() {
		s, err := scanServer(rows)
		if err != nil {
			return nil, err
		}
		servers = append(servers, *s)
	}

	return servers, rows.Err()
}

// CreateServer registers a new fleet server. Provisioning normally happens outside the core,
// this exists for seeding and tests.
func (r *Repository) CreateServer(ctx context.Context, s models.Server) (*models.Server, error) {
	if s.Status == "" {
		s.Status = models.StatusActive
	}

	var locationID any
	if s.GeoLocationID != 0 {
		locationID = s.GeoLocationID
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO servers (name, location, host, port, geo_location_id, enabled, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.Name, s.Location, s.Host, s.Port, locationID, s.Enabled, s.Status)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return r.GetServer(ctx, id)
}

// GetServer returns a server by id.
func (r *Repository) GetServer(ctx context.Context, id int64) (*models.Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers s WHERE s.id = ?`, id)

	s, err := scanServer(row)
	if err != nil {
		return nil, notFound(err, "server", id)
	}

	return s, nil
}

// GetServerByName returns a server by its unique name.
func (r *Repository) GetServerByName(ctx context.Context, name string) (*models.Server, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+serverColumns+` FROM servers s WHERE s.name = ?`, name)

	s, err := scanServer(row)
	if err != nil {
		return nil, notFound(err, "server", name)
	}

	return s, nil
}

// GetServers retrieves all servers. With onlyEnabled set, disabled servers are skipped.
func (r *Repository) GetServers(ctx context.Context, onlyEnabled bool) ([]models.Server, error) {
	query := `SELECT ` + serverColumns + ` FROM servers s`
	if onlyEnabled {
		query += ` WHERE s.enabled = 1`
	}
	query += ` ORDER BY s.id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}

	return collectServers(rows)
}

// GetActiveServersInRegion returns enabled, active servers located in the region,
// least loaded first.
func (r *Repository) GetActiveServersInRegion(ctx context.Context, regionID int64) ([]models.Server, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+serverColumns+`
		FROM servers s
		JOIN geo_locations l ON l.id = s.geo_location_id
		WHERE l.region_id = ? AND s.enabled = 1 AND s.status = ?
		ORDER BY s.cpu_load + s.ram_usage, s.id
	`, regionID, models.StatusActive)
	if err != nil {
		return nil, err
	}

	return collectServers(rows)
}

// UpdateServerHealth stores a health report outcome.
func (r *Repository) UpdateServerHealth(ctx context.Context, id int64, cpu, ram float64, status models.ServerStatus, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE servers SET last_heartbeat = ?, cpu_load = ?, ram_usage = ?, status = ?
		WHERE id = ?
	`, at, cpu, ram, status, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "server", id)
}

// UpdateServerFailure marks a server as failed and keeps the failure trace.
func (r *Repository) UpdateServerFailure(ctx context.Context, id int64, traceback string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE servers SET status = ?, last_failure_tb = ? WHERE id = ?
	`, models.StatusFailed, traceback, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "server", id)
}

// SetServerEnabled toggles whether a server takes part in placement.
func (r *Repository) SetServerEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE servers SET enabled = ? WHERE id = ?`, enabled, id)
	if err != nil {
		return err
	}

	return expectAffected(res, "server", id)
}

func expectAffected(res sql.Result, entity string, id any) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %v: %w", entity, id, apperr.ErrNotFound)
	}

	return nil
}
