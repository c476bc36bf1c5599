// Package fake seeds a development database with regions, locations, servers and application versions.
package fake

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/models"
)

// Store is the persistence the generator writes to.
type Store interface {
	CreateRegion(ctx context.Context, name string) (*models.GeoLocationRegion, error)
	CreateLocation(ctx context.Context, l models.GeoLocation) (*models.GeoLocation, error)
	CreateServer(ctx context.Context, s models.Server) (*models.Server, error)
	EnsureAppVersion(ctx context.Context, app, version string) (*models.ApplicationVersion, error)
}

type site struct {
	region string
	city   string
	lat    float64
	lon    float64
}

var sites = []site{
	{"eu", "frankfurt", 50.11, 8.68},
	{"eu", "amsterdam", 52.37, 4.90},
	{"eu", "warsaw", 52.23, 21.01},
	{"na", "ashburn", 39.04, -77.49},
	{"na", "dallas", 32.78, -96.80},
	{"na", "seattle", 47.61, -122.33},
	{"asia", "singapore", 1.35, 103.82},
	{"asia", "tokyo", 35.68, 139.69},
	{"sa", "sao-paulo", -23.55, -46.63},
	{"oce", "sydney", -33.87, 151.21},
}

// Generate creates every known site with count servers each. The first site becomes the default location.
// It returns the number of servers created.
func Generate(ctx context.Context, store Store, count int) (int, error) {
	for _, app := range []string{"dayz", "arma"} {
		for _, v := range []string{"1.25.0", "1.26.0"} {
			if _, err := store.EnsureAppVersion(ctx, app, v); err != nil {
				return 0, fmt.Errorf("seed app version: %w", err)
			}
		}
	}

	regions := make(map[string]int64)
	created := 0

	for i, s := range sites {
		regionID, ok := regions[s.region]
		if !ok {
			region, err := store.CreateRegion(ctx, s.region)
			if err != nil {
				return created, fmt.Errorf("seed region: %w", err)
			}
			regionID = region.ID
			regions[s.region] = regionID
		}

		loc, err := store.CreateLocation(ctx, models.GeoLocation{
			RegionID:  regionID,
			Latitude:  s.lat,
			Longitude: s.lon,
			Default:   i == 0,
		})
		if err != nil {
			return created, fmt.Errorf("seed location: %w", err)
		}

		for n := range count {
			name := fmt.Sprintf("%s-%d", s.city, n+1)
			_, err := store.CreateServer(ctx, models.Server{
				Name:          name,
				Location:      fmt.Sprintf("http://%s.game.internal:8000", name),
				Host:          fmt.Sprintf("10.%d.%d.%d", i, n/250, n%250+1),
				Port:          2302 + rand.Intn(100),
				GeoLocationID: loc.ID,
				Enabled:       true,
			})
			if err != nil {
				log.Warn().Err(err).Str("server", name).Msg("Failed to seed server")
				continue
			}
			created++
		}
	}

	log.Info().Int("regions", len(regions)).Int("servers", created).Msg("Fake data generated")

	return created, nil
}
