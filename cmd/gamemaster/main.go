// main is the entry point of the GameMaster coordinator.
// It initializes the configuration, logger, database, GeoIP provider and platform clients,
// then serves the internal HTTP API until interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/woozymasta/gamemaster/internal/config"
	"github.com/woozymasta/gamemaster/internal/fake"
	"github.com/woozymasta/gamemaster/internal/game"
	"github.com/woozymasta/gamemaster/internal/geo"
	"github.com/woozymasta/gamemaster/internal/geoip"
	"github.com/woozymasta/gamemaster/internal/logger"
	"github.com/woozymasta/gamemaster/internal/maintenance"
	"github.com/woozymasta/gamemaster/internal/notify"
	"github.com/woozymasta/gamemaster/internal/party"
	"github.com/woozymasta/gamemaster/internal/registry"
	"github.com/woozymasta/gamemaster/internal/remote"
	"github.com/woozymasta/gamemaster/internal/room"
	"github.com/woozymasta/gamemaster/internal/server"
	"github.com/woozymasta/gamemaster/internal/storage"
	"github.com/woozymasta/gamemaster/internal/vars"
)

func main() {
	cfg := config.Parse()

	logger.Setup(cfg.Logger)
	log.Info().Str("version", vars.Version).Msg("Starting gamemaster service...")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// GeoIP
	log.Info().Msg("Checking GeoIP database...")
	if err := geoip.EnsureDB(ctx, cfg.GeoIP.Path, cfg.GeoIP.URL, cfg.GeoIP.Interval); err != nil {
		log.Error().Err(err).Msg("Failed to download GeoIP database")
	}

	var locator geo.Locator
	geoProvider, err := geoip.Open(cfg.GeoIP.Path)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open GeoIP database, every player resolves to the default location")
	} else {
		locator = geoProvider
		defer func() {
			if err := geoProvider.Close(); err != nil {
				log.Error().Err(err).Msg("Error closing GeoIP provider")
			}
		}()
	}

	// Database
	store, err := storage.New(cfg.Storage.Path)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Messaging
	var messenger notify.Messenger = notify.LogMessenger{}
	if cfg.Redis.Address != "" {
		redisMessenger := notify.NewRedisMessenger(cfg.Redis)
		if err := redisMessenger.Ping(ctx); err != nil {
			log.Error().Err(err).Str("address", cfg.Redis.Address).Msg("Redis unreachable, messages will be retried per send")
		}
		defer func() { _ = redisMessenger.Close() }()
		messenger = redisMessenger
	}
	notifier := notify.NewNotifier(messenger, cfg.Server.Broadcast)

	// Core
	reg := registry.New(store, registry.WithThresholds(cfg.Health.Thresholds()))
	index := geo.New(store, locator)
	rooms := room.NewManager(store, notifier, roomOptions(cfg.Remote)...)
	parties := party.NewManager(store, index, reg, rooms, notifier)

	prober := game.Prober{Timeout: cfg.A2S.Timeout, BufferSize: cfg.A2S.BufferSize}
	maint := maintenance.New(reg, prober, store, rooms, cfg.A2S.Workers)

	// data generation or one-shot maintenance
	if runTasks(ctx, cfg, store, maint) {
		return
	}

	srvHandler := server.New(server.Deps{
		Storage:  store,
		Registry: reg,
		Geo:      index,
		Rooms:    rooms,
		Parties:  parties,
	}, server.Options{
		AuthToken:      cfg.Server.AuthToken,
		AllowedApps:    cfg.Server.AllowedApps,
		MaxBodySize:    cfg.Server.MaxBodySize,
		HardLimitCount: cfg.RateLimit.HardLimitCount,
		HardLimitWin:   cfg.RateLimit.HardLimitWin,
		TrustProxy:     cfg.Server.TrustProxy,
	})
	srvHandler.StartWorkers()

	if cfg.A2S.Interval > 0 {
		go maint.Loop(ctx, cfg.A2S.Interval)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      srvHandler.Run(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", cfg.Server.Address).Msg("Server listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	srvHandler.StopWorkers()

	log.Info().Msg("Server exited")
}

// roomOptions wires the platform service clients that have a configured URL.
func roomOptions(cfg remote.Config) []room.Option {
	var opts []room.Option

	if cfg.ModerationURL != "" {
		opts = append(opts, room.WithModerator(remote.NewModerationClient(cfg.ModerationURL, cfg.Token, cfg.Timeout)))
	}
	if cfg.ControllerURL != "" {
		opts = append(opts, room.WithController(remote.NewControllerClient(cfg.ControllerURL, cfg.Token, cfg.Timeout)))
	}
	if cfg.IdentityURL != "" {
		opts = append(opts, room.WithIdentity(remote.NewIdentityClient(cfg.IdentityURL, cfg.Token, cfg.Timeout)))
	}

	return opts
}

// runTasks executes one-shot tasks selected by flags.
// Returns true if a task was executed (indicating the program should exit).
func runTasks(ctx context.Context, cfg *config.Config, store *storage.Repository, maint *maintenance.Maintainer) bool {
	switch {
	case cfg.Storage.SeedCount > 0:
		if _, err := fake.Generate(ctx, store, cfg.Storage.SeedCount); err != nil {
			log.Error().Err(err).Msg("Failed to generate fake data")
		}

	case cfg.Storage.ProbeServers:
		failed, err := maint.ProbeServers(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Server probe failed")
		} else {
			log.Info().Int("failed", failed).Msg("Server probe finished")
		}

	case cfg.Storage.PruneRooms > 0:
		removed, err := maint.PruneRooms(ctx, cfg.Storage.PruneRooms)
		if err != nil {
			log.Error().Err(err).Msg("Room prune failed")
		} else {
			log.Info().Int("removed", removed).Msg("Room prune finished")
		}

	default:
		return false
	}

	return true
}
