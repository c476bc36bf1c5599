package storage

import (
	"context"
	"database/sql"

	"github.com/woozymasta/gamemaster/internal/models"
)

const geoLocationColumns = `id, region_id, lat, lon, is_default`

func scanGeoLocation(row scanner) (*models.GeoLocation, error) {
	var l models.GeoLocation
	if err := row.Scan(&l.ID, &l.RegionID, &l.Latitude, &l.Longitude, &l.Default); err != nil {
		return nil, err
	}

	return &l, nil
}

// CreateRegion inserts a region, or returns the existing one with the same name.
func (r *Repository) CreateRegion(ctx context.Context, name string) (*models.GeoLocationRegion, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO geo_location_regions (name) VALUES (?)
		ON CONFLICT(name) DO UPDATE SET name = excluded.name
		RETURNING id, name
	`, name)

	var reg models.GeoLocationRegion
	if err := row.Scan(&reg.ID, &reg.Name); err != nil {
		return nil, err
	}

	return &reg, nil
}

// GetRegion returns a region by id.
func (r *Repository) GetRegion(ctx context.Context, id int64) (*models.GeoLocationRegion, error) {
	var reg models.GeoLocationRegion
	err := r.db.QueryRowContext(ctx, `SELECT id, name FROM geo_location_regions WHERE id = ?`, id).
		Scan(&reg.ID, &reg.Name)
	if err != nil {
		return nil, notFound(err, "region", id)
	}

	return &reg, nil
}

// GetRegions returns all regions ordered by name.
func (r *Repository) GetRegions(ctx context.Context) ([]models.GeoLocationRegion, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name FROM geo_location_regions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var regions []models.GeoLocationRegion
	for rows.Next() {
		var reg models.GeoLocationRegion
		if err := rows.Scan(&reg.ID, &reg.Name); err != nil {
			return nil, err
		}
		regions = append(regions, reg)
	}

	return regions, rows.Err()
}

// CreateLocation inserts a location point into a region.
// Flagging it as default clears the flag on any previous default location.
func (r *Repository) CreateLocation(ctx context.Context, l models.GeoLocation) (*models.GeoLocation, error) {
	var created *models.GeoLocation

	err := r.inTx(ctx, func(tx *sql.Tx) error {
		if l.Default {
			if _, err := tx.ExecContext(ctx, `UPDATE geo_locations SET is_default = 0 WHERE is_default = 1`); err != nil {
				return err
			}
		}

		row := tx.QueryRowContext(ctx, `
			INSERT INTO geo_locations (region_id, lat, lon, is_default) VALUES (?, ?, ?, ?)
			RETURNING `+geoLocationColumns,
			l.RegionID, l.Latitude, l.Longitude, l.Default,
		)

		var err error
		created, err = scanGeoLocation(row)
		return err
	})
	if err != nil {
		return nil, err
	}

	return created, nil
}

// GetLocation returns a location by id.
func (r *Repository) GetLocation(ctx context.Context, id int64) (*models.GeoLocation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+geoLocationColumns+` FROM geo_locations WHERE id = ?`, id)

	l, err := scanGeoLocation(row)
	if err != nil {
		return nil, notFound(err, "location", id)
	}

	return l, nil
}

// NearestLocation returns the location with the smallest bounding-box distance to the point.
// Longitude delta is not scaled by latitude, the same planar metric a box distance uses.
func (r *Repository) NearestLocation(ctx context.Context, lat, lon float64) (*models.GeoLocation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+geoLocationColumns+`
		FROM geo_locations
		ORDER BY (lat - ?) * (lat - ?) + (lon - ?) * (lon - ?), id
		LIMIT 1
	`, lat, lat, lon, lon)

	l, err := scanGeoLocation(row)
	if err != nil {
		return nil, notFound(err, "location near", [2]float64{lat, lon})
	}

	return l, nil
}

// DefaultLocation returns the first location flagged as default.
func (r *Repository) DefaultLocation(ctx context.Context) (*models.GeoLocation, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+geoLocationColumns+`
		FROM geo_locations
		WHERE is_default = 1
		ORDER BY id
		LIMIT 1
	`)

	l, err := scanGeoLocation(row)
	if err != nil {
		return nil, notFound(err, "location", "default")
	}

	return l, nil
}
