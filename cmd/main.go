package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/valkey-io/valkey-go"

	apirooms "github.com/Vasu1712/scenyx-hub/internal/api/rooms"
	"github.com/Vasu1712/scenyx-hub/internal/auth"
	"github.com/Vasu1712/scenyx-hub/internal/config"
	"github.com/Vasu1712/scenyx-hub/internal/docstore"
	"github.com/Vasu1712/scenyx-hub/internal/fanout"
	"github.com/Vasu1712/scenyx-hub/internal/logging"
	"github.com/Vasu1712/scenyx-hub/internal/middleware"
	"github.com/Vasu1712/scenyx-hub/internal/rooms"
	"github.com/Vasu1712/scenyx-hub/internal/session"
	"github.com/Vasu1712/scenyx-hub/internal/storage"
	"github.com/Vasu1712/scenyx-hub/internal/storage/memory"
	"github.com/Vasu1712/scenyx-hub/internal/storage/postgres"
	"github.com/Vasu1712/scenyx-hub/internal/storage/redis"
	"github.com/Vasu1712/scenyx-hub/internal/ws"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := logging.New(cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		logger.Errorf("hub stopped: %v", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, logger *logging.Logger) error {
	var (
		adapter storage.Adapter
		bus     fanout.Bus = fanout.Local{}
		client  valkey.Client
	)
	switch cfg.StorageStrategy {
	case config.StorageRedis:
		var err error
		client, err = redis.Dial(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connecting to %s: %w", cfg.RedisURL, err)
		}
		defer client.Close()
		adapter = redis.New(client, redis.Options{Prefix: cfg.CachePrefix, ScanBatch: cfg.ClearBatchSize}, logger)
		bus = fanout.NewValkey(client, cfg.CachePrefix, cfg.NodeID, logger)
	default:
		cache, err := memory.New(memory.Options{Size: cfg.MaxCacheSize, DefaultTTL: cfg.RoomTTL}, logger)
		if err != nil {
			return fmt.Errorf("creating cache: %w", err)
		}
		adapter = cache
	}
	logger.Infof("node %s using %s storage", cfg.NodeID, cfg.StorageStrategy)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := ws.NewHub(bus, cfg.NodeID, logger)
	go hub.Run()
	go func() {
		if err := hub.Listen(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorf("fan-out listener: %v", err)
		}
	}()

	var persisters rooms.Persisters
	if cfg.DocumentStore != "" {
		persisters = append(persisters, docstore.New(cfg.DocumentStore, nil))
	}
	if cfg.SnapshotDSN != "" {
		snapshots, err := postgres.Open(ctx, cfg.SnapshotDSN, logger)
		if err != nil {
			return err
		}
		defer snapshots.Close()
		persisters = append(persisters, snapshots)
	}
	var persist rooms.Persister
	if len(persisters) > 0 {
		persist = persisters
	}
	manager := rooms.NewManager(adapter, hub, persist, rooms.Options{NodeID: cfg.NodeID, RoomTTL: cfg.RoomTTL}, logger)

	verifier, err := auth.NewVerifier(cfg.SecretKey, cfg.RecordingTTL)
	if err != nil {
		return err
	}
	sessions := session.NewStore(adapter, cfg.SessionTTL, logger)

	handler := ws.NewHandler(hub, manager, sessions, verifier, ws.Options{
		NodeID:           cfg.NodeID,
		RecordingEnabled: cfg.RecordingOn,
		VolatileRate:     cfg.VolatileRate,
		VolatileBurst:    cfg.VolatileBurst,
		CheckOrigin:      middleware.CheckOrigin(cfg.CORSOrigins),
	}, logger)

	r := mux.NewRouter()
	r.Use(middleware.CORS(cfg.CORSOrigins))
	apirooms.RegisterRoomRoutes(r, &apirooms.RoomHandler{
		Rooms:  manager,
		Hub:    hub,
		NodeID: cfg.NodeID,
		Log:    logger.With("api"),
	}, handler.ServeWS, cfg.MetricsToken)

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Infof("hub listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case s := <-sig:
		logger.Infof("received %s, shutting down", s)
	case err := <-errc:
		if err != nil {
			return err
		}
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown: %v", err)
	}
	hub.Stop()
	if err := handler.Drain(shutdownCtx); err != nil {
		logger.Warnf("sockets still leaving rooms at shutdown: %v", err)
	}
	cancel()
	manager.Close()
	return nil
}
