package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/safevisit/backend/internal/config"
	"github.com/safevisit/backend/internal/db"
	"github.com/safevisit/backend/internal/geocode"
	httpapi "github.com/safevisit/backend/internal/http"
	"github.com/safevisit/backend/internal/localstore"
	"github.com/safevisit/backend/internal/realtime"
	"github.com/safevisit/backend/internal/roles"
	"github.com/safevisit/backend/internal/session"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := log.Level(level).With().Str("service", "safevisit-backend").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub()
	g, gctx := errgroup.WithContext(ctx)

	var gateway db.Gateway
	if cfg.DatabaseURL == "" {
		gateway = db.NewMemStore(hub)
		logger.Warn().Msg("DATABASE_URL not set, using in-memory store")
	} else {
		store, err := db.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect db")
		}
		if err := store.Migrate(ctx); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate db")
		}
		gateway = store
		listener := &db.Listener{Pool: store.Pool, Hub: hub, Logger: logger}
		g.Go(func() error { return listener.Run(gctx) })
	}
	defer gateway.Close()

	storage, err := localstore.Open(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("mode", cfg.LocalStore).Msg("failed to open local store")
	}
	defer storage.Close()

	resolver := roles.NewResolver(gateway, cfg.RoleCacheTTL, logger)
	registry := session.NewRegistry(gateway, storage, resolver, hub, cfg.RequestTimeout, logger)
	defer registry.Close()

	poller, err := session.NewPoller(cfg.PollSchedule, registry, cfg.RequestTimeout, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("schedule", cfg.PollSchedule).Msg("invalid poll schedule")
	}
	if poller != nil {
		poller.Start()
		defer poller.Stop()
	}

	var geocoder geocode.Geocoder
	if cfg.GeocoderEnabled {
		geocoder = &geocode.NominatimGeocoder{BaseURL: cfg.GeocoderURL, CountryCodes: "kr"}
		logger.Info().Str("url", cfg.GeocoderURL).Msg("geocoder enabled")
	}

	router := httpapi.Router(cfg, httpapi.Deps{
		Store:    gateway,
		Sessions: registry,
		Drafts:   session.NewDrafts(cfg.DraftTTL),
		Geocoder: geocoder,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		// ends open event streams so Shutdown does not wait on them
		registry.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}
