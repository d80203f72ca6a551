// Package server sets up and manages the main HTTP API server.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/testflow/api/internal/audit"
	"github.com/testflow/api/internal/auth"
	"github.com/testflow/api/internal/config"
	"github.com/testflow/api/internal/database"
	"github.com/testflow/api/internal/db"
	"github.com/testflow/api/internal/middleware"
	"github.com/testflow/api/internal/router"
)

// Server represents the API server with all its dependencies.
type Server struct {
	config      *config.Config
	reloader    *config.Reloader
	httpServer  *http.Server
	dbPool      *sql.DB
	auditWriter *audit.Writer
	auditPurger *audit.Purger

	backgroundCancel context.CancelFunc
}

// New creates a new Server instance with all dependencies initialized.
func New(reloader *config.Reloader) (*Server, error) {
	cfg := reloader.GetConfig()

	dbPool, err := database.NewPool(cfg.DatabaseURL, database.DefaultConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	slog.Info("Database connection pool established")

	if err := database.Migrate(dbPool); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	queries := db.New(dbPool)

	codec := auth.NewCodec(cfg.TokenIssuer, []byte(cfg.TokenSigningKey))
	reloader.OnSigningKeyChange(func(newKey string) {
		codec.SetKey([]byte(newKey))
	})

	auditWriter := audit.NewWriter(queries, audit.DefaultWriterConfig())
	recorder := audit.NewRecorder(auditWriter)
	auditPurger := audit.NewPurger(queries, cfg.AuditPurgeInterval)

	resolver := auth.NewResolver(queries)
	issuer := auth.NewIssuer(queries, codec, resolver, recorder, cfg.SessionTTL, cfg.ImpersonationTTL)
	credManager := auth.NewDeviceCredentialManager(dbPool, queries, recorder,
		cfg.DeviceCredentialTTL, int32(cfg.MaxActiveCredentials))

	authHandler := auth.NewHandler(issuer, codec, credManager, queries)
	authenticator := middleware.NewSessionAuthenticator(codec)

	handler := router.New(&router.Dependencies{
		AuthHandler:    authHandler,
		Authenticator:  authenticator,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return &Server{
		config:      cfg,
		reloader:    reloader,
		httpServer:  httpServer,
		dbPool:      dbPool,
		auditWriter: auditWriter,
		auditPurger: auditPurger,
	}, nil
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	// Start the config reloader so signing-key rotation takes effect live
	if err := s.reloader.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start config reloader: %w", err)
	}

	bgCtx, cancel := context.WithCancel(context.Background())
	s.backgroundCancel = cancel

	go s.auditWriter.Start(bgCtx)
	go s.auditPurger.Run(bgCtx)

	slog.Info("Starting Testflow API", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the server. The audit writer is drained after
// the HTTP server stops so in-flight requests can still enqueue records.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Starting graceful shutdown")

	if err := s.reloader.Stop(); err != nil {
		slog.Error("Error stopping config reloader", "error", err)
	} else {
		slog.Info("Config reloader stopped")
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		_ = s.httpServer.Close()
		return fmt.Errorf("could not stop server gracefully: %w", err)
	}

	slog.Info("Stopping audit writer")
	s.auditWriter.Stop()
	if s.backgroundCancel != nil {
		s.backgroundCancel()
	}

	if err := s.dbPool.Close(); err != nil {
		return fmt.Errorf("error closing database: %w", err)
	}

	slog.Info("Server stopped gracefully")
	return nil
}
