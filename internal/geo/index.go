// Package geo resolves coordinates and player addresses to the known server locations and regions.
package geo

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
)

// Store is the persistence the index reads locations from.
type Store interface {
	NearestLocation(ctx context.Context, lat, lon float64) (*models.GeoLocation, error)
	DefaultLocation(ctx context.Context) (*models.GeoLocation, error)
	GetRegion(ctx context.Context, id int64) (*models.GeoLocationRegion, error)
}

// Locator turns an IP address into coordinates. *geoip.Provider implements it.
type Locator interface {
	LatLon(ip string) (lat, lon float64, ok bool)
}

// Index answers nearest and default location queries.
type Index struct {
	store   Store
	locator Locator
}

// New returns an index over store. locator may be nil, then every player
// resolves to the default location.
func New(store Store, locator Locator) *Index {
	return &Index{store: store, locator: locator}
}

// Nearest returns the location closest to the coordinate.
func (i *Index) Nearest(ctx context.Context, lat, lon float64) (*models.GeoLocation, error) {
	return i.store.NearestLocation(ctx, lat, lon)
}

// Default returns the fallback location.
func (i *Index) Default(ctx context.Context) (*models.GeoLocation, error) {
	return i.store.DefaultLocation(ctx)
}

// Locate returns the nearest location to the IP address, or the default one
// when the address cannot be placed on the map.
func (i *Index) Locate(ctx context.Context, ip string) (*models.GeoLocation, error) {
	if i.locator != nil && ip != "" {
		if lat, lon, ok := i.locator.LatLon(ip); ok {
			loc, err := i.Nearest(ctx, lat, lon)
			if err == nil || !errors.Is(err, apperr.ErrNotFound) {
				return loc, err
			}
		}
	}

	log.Trace().Str("ip", ip).Msg("Address not locatable, using default location")

	return i.Default(ctx)
}

// ResolveRegion returns the region a player with the given address should be served from.
func (i *Index) ResolveRegion(ctx context.Context, ip string) (*models.GeoLocationRegion, error) {
	loc, err := i.Locate(ctx, ip)
	if err != nil {
		return nil, fmt.Errorf("resolve region: %w", err)
	}

	return i.store.GetRegion(ctx, loc.RegionID)
}
