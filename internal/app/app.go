package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/studyroom-server/internal/auth"
	"github.com/vovakirdan/studyroom-server/internal/config"
	"github.com/vovakirdan/studyroom-server/internal/core"
	"github.com/vovakirdan/studyroom-server/internal/log"
	"github.com/vovakirdan/studyroom-server/internal/metrics"
	"github.com/vovakirdan/studyroom-server/internal/presence"
	"github.com/vovakirdan/studyroom-server/internal/store"
	"github.com/vovakirdan/studyroom-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/studyroom-server/internal/transport/http"
)

// tokenTTL only matters for tokens minted by this process (dev tooling);
// production tokens come from the account service.
const tokenTTL = 24 * time.Hour

// App wires together store, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	gateway         *core.Gateway
	reconciler      *core.Reconciler
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	if err := st.Migrate(context.Background()); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      tokenTTL,
	}
	authService := auth.NewService(st, jwtConfig)

	m := metrics.New()
	tracker := presence.NewTracker()
	m.RegisterPresence(func() (int, int) {
		s := tracker.Stats()
		return s.Rooms, s.Pairs
	})

	coreLog := log.Component(logger, "core")
	gateway := core.NewGateway(st, st, tracker, coreLog, m, core.Options{
		CleanupTimeout: cfg.CleanupTimeout,
	})
	reconciler := core.NewReconciler(gateway, cfg.ReconcileInterval, log.Component(logger, "reconciler"))

	server := transporthttp.NewServer(gateway, authService, st, m, cfg, log.Component(logger, "http"))

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		gateway:         gateway,
		reconciler:      reconciler,
		store:           st,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and the reconciler and blocks until context
// cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	defer a.cleanup()

	g, gctx := errgroup.WithContext(ctx)
	// Hijacked WebSocket connections are not tracked by Shutdown; tying
	// request contexts to gctx ends them when the app stops.
	a.server.BaseContext = func(net.Listener) context.Context { return gctx }

	g.Go(func() error {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.reconciler.Run(gctx)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		if err := a.gateway.Wait(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("connections still open at shutdown")
		}
		return nil
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}

// Migrate applies the schema to the configured database and exits.
func Migrate(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) error {
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate store: %w", err)
	}
	logger.Info().Str("db_path", cfg.DatabasePath).Msg("schema applied")
	return nil
}
