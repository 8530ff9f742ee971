// Package app wires the application together: configuration, logging,
// metrics, the device-trust core, and the local HTTP server the desktop
// shell talks to.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"fatoora/internal/config"
	"fatoora/internal/infrastructure"
	"fatoora/internal/license"
	"fatoora/internal/mail"
	"fatoora/internal/pin"
	"fatoora/internal/security"
	"fatoora/internal/session"
	transport "fatoora/internal/transport/http"
	"fatoora/internal/websocket"
)

// App holds the wired application
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *infrastructure.MetricsProviders
	session *session.Session
	pins    *pin.Verifier
	hub     *websocket.Hub
	server  *http.Server
	version string
}

// New builds the application from configuration. Everything is wired
// top-down here; no package holds global state.
func New(version string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := infrastructure.InitializeLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := cfg.Paths.EnsureDirs(); err != nil {
		return nil, err
	}

	providers, err := infrastructure.InitializeMetrics(version, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	metrics, err := license.NewMetrics(providers.Meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register meters: %w", err)
	}

	prober := security.NewPublicIPProber(cfg.PublicIP, logger)
	fingerprints := security.NewGenerator(prober, logger)

	stateStore := license.NewFileStateStore(cfg.Paths.StatePath(), logger)
	validator := license.NewValidator(cfg.License, metrics, logger)
	lockout := license.NewLockout(stateStore, cfg.Lockout.MaxAttempts, metrics, logger)

	mailer := mail.NewLogMailer(logger)
	pins := pin.NewVerifier(pin.NewStore(), mailer, cfg.PIN, metrics, logger)

	profiles := session.NewProfileStore(cfg.Paths.ProfilePath(), cfg.PIN.PlaceholderRecipient, logger)

	sess := session.New(fingerprints, validator, lockout, pins, stateStore, profiles, logger)

	hub := websocket.NewHub(logger)
	sess.SetOnChange(func(st session.Status) {
		hub.Broadcast("session_status", st)
	})

	router := transport.NewRouter(transport.RouterDeps{
		Session: sess,
		Metrics: providers.PrometheusHTTP,
		WSHub:   hub,
		Version: version,
		Logger:  logger,
		Config:  cfg,
	})

	server := &http.Server{
		Addr:         cfg.Address(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	return &App{
		cfg:     cfg,
		logger:  logger,
		metrics: providers,
		session: sess,
		pins:    pins,
		hub:     hub,
		server:  server,
		version: version,
	}, nil
}

// Run starts the server and background loops and blocks until the
// context is cancelled or a component fails.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting",
		slog.String("version", a.version),
		slog.String("address", a.cfg.Address()),
	)

	a.session.Start(ctx)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return ignoreCancel(a.pins.Run(ctx))
	})

	g.Go(func() error {
		return ignoreCancel(a.hub.Run(ctx))
	})

	// Periodic revalidation keeps the verdict fresh without counting
	// against the manual retry throttle.
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.License.RecheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				a.session.CheckLicense(ctx)
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		return a.shutdown()
	})

	err := g.Wait()

	if closeErr := infrastructure.CloseLogFile(); closeErr != nil {
		a.logger.Warn("failed to close log file", slog.String("error", closeErr.Error()))
	}

	return err
}

// shutdown drains the HTTP server and flushes metrics
func (a *App) shutdown() error {
	a.logger.Info("shutting down", slog.Duration("timeout", a.cfg.Server.ShutdownTimeout))

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http shutdown failed: %w", err)
	}

	if err := a.metrics.Shutdown(ctx); err != nil {
		a.logger.Warn("metrics shutdown failed", slog.String("error", err.Error()))
	}

	a.logger.Info("shutdown complete")
	return nil
}

func ignoreCancel(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return nil
	}
	return err
}
