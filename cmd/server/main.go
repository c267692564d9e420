package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/callwatch/backend/internal/ami"
	"github.com/callwatch/backend/internal/api"
	"github.com/callwatch/backend/internal/cache"
	"github.com/callwatch/backend/internal/clock"
	"github.com/callwatch/backend/internal/config"
	"github.com/callwatch/backend/internal/engine"
	"github.com/callwatch/backend/internal/manager"
	"github.com/callwatch/backend/internal/metrics"
	"github.com/callwatch/backend/internal/storage"
	"github.com/callwatch/backend/internal/websocket"
	"github.com/callwatch/backend/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("switch", cfg.AMIHost+":"+cfg.AMIPort).
		Str("store_mode", cfg.StoreMode).
		Str("log_level", cfg.LogLevel).
		Msg("starting callwatch backend")

	// Durable call record store
	var store storage.Store
	if cfg.StoreMode == "mysql" {
		mysqlStore, err := storage.NewMySQLStore(cfg.MySQLDSN, cfg.TrunkContext, log.Logger)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to open call record store")
		}
		store = mysqlStore
	} else {
		log.Warn().Msg("durable storage disabled, call records will not persist")
		store = storage.NewNoopStore()
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clk := clock.New()

	// Switch management transport
	client := ami.New(ami.Config{
		Host:     cfg.AMIHost,
		Port:     cfg.AMIPort,
		Username: cfg.AMIUsername,
		Secret:   cfg.AMISecret,
	}, log.Logger)
	defer client.Close()

	// Management facade
	availCache := cache.NewAvailabilityCache(clk)
	mgr := manager.New(client, store, availCache, "from-internal", log.Logger)
	go mgr.Run(ctx)

	// WebSocket hub
	hub := websocket.NewHub(log.Logger)
	go hub.Run()

	// State engine
	eng := engine.New(mgr, store, hub, clk, cfg.TrunkContext, log.Logger)
	go eng.Run(ctx)

	// Connect to the switch; the client keeps retrying with backoff on
	// later drops, but a failed first connect is worth a loud warning.
	go func() {
		if err := client.Connect(ctx); err != nil {
			log.Error().Err(err).Msg("initial switch connection failed")
		}
	}()

	// WebSocket handler, seeded with the latest snapshot
	wsHandler := websocket.NewHandler(hub, cfg, eng, log.Logger)

	// REST API
	apiHandler := api.NewHandler(eng, mgr, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())
	r.Get("/ws", wsHandler.ServeHTTP)
	r.Route("/api", apiHandler.Routes)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	// Stop the engine and facade loops
	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"callwatch-backend"}`)
}
