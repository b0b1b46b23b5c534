// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the local diagnostics API: migration status, settings,
// sync push, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ManuGH/matchvault/internal/app"
	"github.com/ManuGH/matchvault/internal/config"
	"github.com/ManuGH/matchvault/internal/health"
	xglog "github.com/ManuGH/matchvault/internal/log"
	"github.com/ManuGH/matchvault/internal/migration"
	"github.com/ManuGH/matchvault/internal/reconcile"
	"github.com/ManuGH/matchvault/internal/settings"
	"github.com/rs/zerolog"
)

const (
	readHeaderTimeout = 5 * time.Second
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 60 * time.Second
	shutdownTimeout   = 10 * time.Second
	maxBodyBytes      = 64 << 10
)

// Backend is the slice of the application the API drives.
type Backend interface {
	Status(ctx context.Context) app.MigrationStatus
	PushAll(ctx context.Context) (reconcile.PushResult, error)
	RetryBackend(ctx context.Context) (migration.Report, error)
}

// SettingsStore reads and patches the settings record.
type SettingsStore interface {
	GetSettings(ctx context.Context) settings.Settings
	UpdateSettings(ctx context.Context, p settings.Patch) (settings.Settings, error)
}

// Deps wires the API to the application.
type Deps struct {
	Backend  Backend
	Settings SettingsStore
	Health   *health.Manager
	Config   config.APIConfig
	// TracingService enables request tracing when non-empty.
	TracingService string
}

// Server is the diagnostics HTTP server.
type Server struct {
	deps    Deps
	handler http.Handler
	logger  zerolog.Logger
}

// New builds the server and its router.
func New(deps Deps) *Server {
	s := &Server{
		deps:   deps,
		logger: xglog.WithComponent("api"),
	}
	s.handler = s.routes()
	return s
}

// Handler returns the root handler, for tests and embedding.
func (s *Server) Handler() http.Handler { return s.handler }

// Run listens on the configured address and serves until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.deps.Config.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.deps.Config.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().
			Str(xglog.FieldEvent, "api.listening").
			Str("addr", ln.Addr().String()).
			Msg("diagnostics API listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info().Str(xglog.FieldEvent, "api.shutdown").Msg("shutting down diagnostics API")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
