package storage

import (
	"context"

	"github.com/woozymasta/gamemaster/internal/models"
)

// EnsureAppVersion returns the id of an application version, creating it when missing.
func (r *Repository) EnsureAppVersion(ctx context.Context, app, version string) (*models.ApplicationVersion, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO application_versions (application, version) VALUES (?, ?)
		ON CONFLICT(application, version) DO UPDATE SET version = excluded.version
		RETURNING id, application, version
	`, app, version)

	var v models.ApplicationVersion
	if err := row.Scan(&v.ID, &v.Application, &v.Version); err != nil {
		return nil, err
	}

	return &v, nil
}

// GetAppVersion returns an application version by id.
func (r *Repository) GetAppVersion(ctx context.Context, id int64) (*models.ApplicationVersion, error) {
	var v models.ApplicationVersion
	err := r.db.QueryRowContext(ctx, `SELECT id, application, version FROM application_versions WHERE id = ?`, id).
		Scan(&v.ID, &v.Application, &v.Version)
	if err != nil {
		return nil, notFound(err, "application version", id)
	}

	return &v, nil
}

// CreateDeployment records an uploaded build for an application version.
func (r *Repository) CreateDeployment(ctx context.Context, appVersionID int64, file string) (*models.Deployment, error) {
	res, err := r.db.ExecContext(ctx, `INSERT INTO deployments (app_version_id, file) VALUES (?, ?)`, appVersionID, file)
	if err != nil {
		return nil, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	return &models.Deployment{ID: id, AppVersionID: appVersionID, File: file}, nil
}
