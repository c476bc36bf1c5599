package registry

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/woozymasta/gamemaster/internal/apperr"
	"github.com/woozymasta/gamemaster/internal/models"
	"github.com/woozymasta/gamemaster/internal/storage"
)

type fixture struct {
	store  *storage.Repository
	region *models.GeoLocationRegion
	loc    *models.GeoLocation
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := storage.New(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	region, err := store.CreateRegion(ctx, "eu")
	require.NoError(t, err)
	loc, err := store.CreateLocation(ctx, models.GeoLocation{RegionID: region.ID, Latitude: 50, Longitude: 8})
	require.NoError(t, err)

	return &fixture{store: store, region: region, loc: loc}
}

func (f *fixture) server(t *testing.T, name string, enabled bool) *models.Server {
	t.Helper()

	s, err := f.store.CreateServer(context.Background(), models.Server{
		Name: name, Location: "http://" + name + ":9000", GeoLocationID: f.loc.ID, Enabled: enabled,
	})
	require.NoError(t, err)

	return s
}

func TestHealthReportOverloaded(t *testing.T) {
	assert.True(t, HealthReport{CPULoad: 0.9, RAMUsage: 0.95}.Overloaded(DefaultThresholds))
	assert.True(t, HealthReport{CPULoad: 0.1, RAMUsage: 0.91}.Overloaded(DefaultThresholds))
	assert.False(t, HealthReport{CPULoad: 0.5, RAMUsage: 0.5}.Overloaded(DefaultThresholds))
}

func TestIngestHeartbeatStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := f.server(t, "alpha", true)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	reg := New(f.store, WithClock(func() time.Time { return now }))

	steps := []struct {
		report Report
		want   models.ServerStatus
	}{
		{HealthReport{CPULoad: 0.9, RAMUsage: 0.95}, models.StatusOverload},
		{HealthReport{CPULoad: 0.2, RAMUsage: 0.3}, models.StatusActive},
		{FailureSignal{Err: errors.New("connection refused")}, models.StatusFailed},
		{HealthReport{CPULoad: 0.95, RAMUsage: 0.1}, models.StatusOverload},
		{FailureSignal{Traceback: "goroutine 1 [running]"}, models.StatusFailed},
		{HealthReport{CPULoad: 0.1, RAMUsage: 0.1}, models.StatusActive},
	}

	for i, step := range steps {
		require.NoError(t, reg.IngestHeartbeat(ctx, srv.ID, step.report), "step %d", i)

		got, err := reg.Server(ctx, srv.ID)
		require.NoError(t, err)
		assert.Equal(t, step.want, got.Status, "step %d", i)
	}

	got, err := reg.Server(ctx, srv.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastHeartbeat)
	assert.True(t, now.Equal(*got.LastHeartbeat))
	assert.Equal(t, "goroutine 1 [running]", got.LastFailureTrace)
	assert.True(t, got.Active())
}

func TestFailureKeepsLoadFigures(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	srv := f.server(t, "alpha", true)
	reg := New(f.store)

	require.NoError(t, reg.IngestHeartbeat(ctx, srv.ID, HealthReport{CPULoad: 0.4, RAMUsage: 0.6}))
	require.NoError(t, reg.IngestHeartbeat(ctx, srv.ID, FailureSignal{Err: errors.New("timeout")}))

	got, err := reg.Server(ctx, srv.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Equal(t, "timeout", got.LastFailureTrace)
	assert.InDelta(t, 0.4, got.CPULoad, 1e-9)
	assert.False(t, got.Active())
}

func TestIngestHeartbeatInvalid(t *testing.T) {
	f := newFixture(t)
	srv := f.server(t, "alpha", true)
	reg := New(f.store)

	err := reg.IngestHeartbeat(context.Background(), srv.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrInvalidReport)

	err = reg.IngestHeartbeat(context.Background(), 404, HealthReport{})
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestSelectOptimal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	reg := New(f.store)

	_, err := reg.SelectOptimal(ctx, f.region.ID)
	assert.ErrorIs(t, err, apperr.ErrNoCapacity)

	busy := f.server(t, "busy", true)
	idle := f.server(t, "idle", true)
	failed := f.server(t, "failed", true)
	disabled := f.server(t, "disabled", false)
	hot := f.server(t, "hot", true)

	require.NoError(t, reg.IngestHeartbeat(ctx, busy.ID, HealthReport{CPULoad: 0.6, RAMUsage: 0.5}))
	require.NoError(t, reg.IngestHeartbeat(ctx, idle.ID, HealthReport{CPULoad: 0.2, RAMUsage: 0.3}))
	require.NoError(t, reg.IngestHeartbeat(ctx, failed.ID, FailureSignal{Err: errors.New("down")}))
	require.NoError(t, reg.IngestHeartbeat(ctx, disabled.ID, HealthReport{}))
	require.NoError(t, reg.IngestHeartbeat(ctx, hot.ID, HealthReport{CPULoad: 0.99}))

	got, err := reg.SelectOptimal(ctx, f.region.ID)
	require.NoError(t, err)
	assert.Equal(t, idle.ID, got.ID)

	require.NoError(t, reg.IngestHeartbeat(ctx, idle.ID, FailureSignal{Err: errors.New("down")}))
	got, err = reg.SelectOptimal(ctx, f.region.ID)
	require.NoError(t, err)
	assert.Equal(t, busy.ID, got.ID)

	other, err := f.store.CreateRegion(ctx, "us")
	require.NoError(t, err)
	_, err = reg.SelectOptimal(ctx, other.ID)
	assert.ErrorIs(t, err, apperr.ErrNoCapacity)
}

func TestSelectOptimalCustomPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	first := PolicyFunc(func(c []models.Server) models.Server { return c[len(c)-1] })
	reg := New(f.store, WithPolicy(first))

	a := f.server(t, "a", true)
	b := f.server(t, "b", true)
	require.NoError(t, reg.IngestHeartbeat(ctx, a.ID, HealthReport{CPULoad: 0.1}))
	require.NoError(t, reg.IngestHeartbeat(ctx, b.ID, HealthReport{CPULoad: 0.5}))

	got, err := reg.SelectOptimal(ctx, f.region.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, got.ID)
}

func TestLeastLoadedTieBreak(t *testing.T) {
	got := LeastLoaded.Choose([]models.Server{
		{ID: 3, CPULoad: 0.2},
		{ID: 1, CPULoad: 0.2},
		{ID: 2, CPULoad: 0.4},
	})
	assert.EqualValues(t, 1, got.ID)
}
