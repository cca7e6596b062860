// Counseling trainer server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashureev/counselsim/internal/api"
	"github.com/ashureev/counselsim/internal/config"
	"github.com/ashureev/counselsim/internal/live"
	"github.com/ashureev/counselsim/internal/middleware"
	"github.com/ashureev/counselsim/internal/persona"
	"github.com/ashureev/counselsim/internal/prompt"
	"github.com/ashureev/counselsim/internal/provider"
	"github.com/ashureev/counselsim/internal/relay"
	"github.com/ashureev/counselsim/internal/store"
	"github.com/ashureev/counselsim/web"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		slog.Error("Command failed", "error", err)
		os.Exit(1)
	}
}

// app carries what every subcommand needs once configuration is loaded.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}

	rootCmd := &cobra.Command{
		Use:           "counselsim",
		Short:         "Counseling trainer with simulated clients",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.serve(cmd.Context())
		},
	})
	rootCmd.AddCommand(newPatientsCmd(a))
	rootCmd.AddCommand(newDatasetCmd(a))

	return rootCmd
}

func (a *app) init() error {
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	}))
	slog.SetDefault(logger)

	if envErr != nil {
		slog.Info("No .env file found, using environment variables")
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}

// openCatalog picks the dataset source from MERGED_DATA_PATH. The returned
// cleanup closes the source if it holds resources.
func (a *app) openCatalog() (*persona.Catalog, func(), error) {
	path := a.cfg.DatasetPath
	if persona.IsSQLitePath(path) {
		db, err := persona.OpenSQLite(path)
		if err != nil {
			return nil, nil, fmt.Errorf("open dataset database: %w", err)
		}
		cleanup := func() {
			if closeErr := db.Close(); closeErr != nil {
				slog.Error("Failed to close dataset database", "error", closeErr)
			}
		}
		slog.Info("Dataset database connected", "path", path)
		return persona.NewCatalog(db, a.logger), cleanup, nil
	}

	slog.Info("Using dataset file", "path", path)
	return persona.NewCatalog(persona.NewFileSource(path, a.logger), a.logger), func() {}, nil
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.cfg
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "fake_provider", cfg.Provider.UseFake())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	catalog, closeCatalog, err := a.openCatalog()
	if err != nil {
		return err
	}
	defer closeCatalog()

	if src, ok := catalog.Primary().(persona.Refreshable); ok && cfg.DatasetRefresh != "" {
		refresher, err := persona.NewRefresher(cfg.DatasetRefresh, src, a.logger)
		if err != nil {
			return fmt.Errorf("invalid DATASET_REFRESH %q: %w", cfg.DatasetRefresh, err)
		}
		refresher.Start()
		defer refresher.Stop()
	}

	sessions := store.NewMemory()
	assembler := prompt.NewAssembler(prompt.ClassifierByName(cfg.EmotionClassifier))
	client := provider.New(cfg.Provider, a.logger)

	relayOpts := []relay.Option{relay.WithLogger(a.logger)}
	if cfg.TranscriptDir != "" {
		transcript, err := relay.NewFileTranscript(cfg.TranscriptDir, 0, a.logger)
		if err != nil {
			return fmt.Errorf("failed to initialize transcript: %w", err)
		}
		defer func() {
			if closeErr := transcript.Close(); closeErr != nil {
				slog.Error("Failed to close transcript", "error", closeErr)
			}
		}()
		relayOpts = append(relayOpts, relay.WithTranscript(transcript))
		slog.Info("Transcripts enabled", "dir", cfg.TranscriptDir)
	}
	rl := relay.New(sessions, assembler, client, relayOpts...)

	var limiter *middleware.RateLimiter
	if cfg.RateLimit.Requests > 0 {
		limiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window)
		defer limiter.Stop()
	}

	// Initialize handlers.
	hub := live.NewHub(a.logger)
	apiHandler := api.NewHandler(sessions, catalog, rl, hub, cfg, a.logger)
	wsHandler := live.NewHandler(sessions, rl, hub, cfg, a.logger)
	if limiter != nil {
		wsHandler.SetRateLimiter(limiter)
	}

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	apiHandler.RegisterHealth(r)
	apiHandler.RegisterRoutes(r, middleware.RateLimit(limiter))
	wsHandler.Register(r)

	if cfg.StaticDir != "" {
		spa, err := web.SPAHandler(cfg.StaticDir)
		if err != nil {
			return err
		}
		r.Handle("/*", spa)
	}

	// SSE replies stream for as long as the provider takes, so there is no
	// WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal.
	select {
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	shutdownErr := srv.Shutdown(shutdownCtx)
	// WebSocket connections are hijacked and outlive Shutdown.
	hub.CloseAll()
	if shutdownErr != nil {
		return fmt.Errorf("server forced to shutdown: %w", shutdownErr)
	}

	slog.Info("Server stopped successfully")
	return nil
}
