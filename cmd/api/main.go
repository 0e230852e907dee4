package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"slidesync/api/internal/app"
	"slidesync/api/internal/assets"
	"slidesync/api/internal/config"
	"slidesync/api/internal/history"
	"slidesync/api/internal/logging"
	"slidesync/api/internal/mutation"
	"slidesync/api/internal/presence"
	"slidesync/api/internal/room"
	"slidesync/api/internal/search"
	"slidesync/api/internal/session"
	"slidesync/api/internal/store"
	"slidesync/api/internal/util"
)

type dataStore interface {
	app.Store
	mutation.Store
	session.Store
	presence.Store
}

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	nodeID := cfg.NodeID
	if nodeID == "" {
		nodeID = util.NewID("node")
	}
	logger = logger.With().Str("node_id", nodeID).Logger()

	var (
		st    dataStore
		db    *sql.DB
		pgfts *search.PgFTS
		mem   *search.Memory
	)
	switch cfg.StoreDriver {
	case "memory":
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		st = store.NewMemoryStore()
		mem = search.NewMemory()
	default:
		var err error
		db, err = store.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("database connection failed")
		}
		defer db.Close()
		applied, err := store.ApplyMigrations(ctx, db, cfg.MigrationsDir)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		if len(applied) > 0 {
			logger.Info().Strs("versions", applied).Msg("migrations applied")
		}
		st = store.NewPostgresStore(db)
		pgfts = search.NewPgFTS(db)
	}

	checks := map[string]func(context.Context) error{}

	rooms := room.NewMultiplexer(logger, cfg.SendBuffer)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		relay, err := room.NewRedisRelay(cfg.RedisURL, nodeID, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer relay.Close()
		if err := relay.Start(ctx, rooms); err != nil {
			logger.Fatal().Err(err).Msg("redis subscribe failed")
		}
		rooms.SetRelay(relay)
		checks["redis"] = relay.Ping
		logger.Info().Msg("relaying room traffic through redis")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey, logger)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, pgfts, mem, logger)
	go searchService.ReindexAllFromPG(ctx)

	var assetStorage *assets.Storage
	if strings.TrimSpace(cfg.MinIOEndpoint) != "" {
		var err error
		assetStorage, err = assets.New(assets.Config{
			Endpoint:  cfg.MinIOEndpoint,
			AccessKey: cfg.MinIOAccessKey,
			SecretKey: cfg.MinIOSecretKey,
			Bucket:    cfg.MinIOBucket,
			UseSSL:    cfg.MinIOUseSSL,
			BaseURL:   cfg.AssetsBaseURL,
		}, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("object storage config invalid")
		}
		if err := assetStorage.EnsureBucket(ctx); err != nil {
			logger.Warn().Err(err).Msg("could not ensure asset bucket, uploads may fail")
		}
		checks["assets"] = assetStorage.Ping
	}

	observers := []mutation.Observer{searchService}
	var snapshots *history.Service
	if strings.TrimSpace(cfg.HistoryDir) != "" {
		if err := os.MkdirAll(cfg.HistoryDir, 0o755); err != nil {
			logger.Fatal().Err(err).Msg("failed to create history dir")
		}
		snapshots = history.New(cfg.HistoryDir, logger)
		observers = append(observers, snapshots)
	}

	registry := session.NewRegistry(st, logger)
	coordinator := presence.NewCoordinator(st, rooms, logger)
	pipeline := mutation.New(st, rooms, logger, mutation.Options{
		Debounce:     cfg.UpdateDebounce,
		StoreTimeout: cfg.StoreTimeout,
		NewID:        uuid.NewString,
		Observers:    observers,
	})

	service := app.NewService(app.Deps{
		Store:    st,
		Pipeline: pipeline,
		Registry: registry,
		Presence: coordinator,
		Rooms:    rooms,
		Search:   searchService,
		Assets:   assetStorage,
		History:  snapshots,
		Checks:   checks,
		NewID:    uuid.NewString,
		Log:      logger,
	})
	realtime := app.NewRealtime(rooms, registry, coordinator, pipeline, service, cfg.CORSOrigin, logger)
	httpServer := app.NewHTTPServer(service, realtime, cfg.CORSOrigin, logger)

	// Websocket connections manage their own write deadlines.
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.StoreDriver).Msg("slidesync API listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
	}
	pipeline.Flush()
	logger.Info().Int("pending", pipeline.Pending()).Msg("pending updates flushed")
	searchService.Flush()
}
