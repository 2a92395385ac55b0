package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/smartbin/internal/claim"
	"github.com/dukerupert/smartbin/internal/config"
	"github.com/dukerupert/smartbin/internal/handler"
	"github.com/dukerupert/smartbin/internal/identity"
	"github.com/dukerupert/smartbin/internal/logging"
	"github.com/dukerupert/smartbin/internal/metrics"
	"github.com/dukerupert/smartbin/internal/middleware"
	"github.com/dukerupert/smartbin/internal/oauth"
	"github.com/dukerupert/smartbin/internal/server"
	"github.com/dukerupert/smartbin/internal/session"
	ws "github.com/dukerupert/smartbin/internal/websocket"
)

const cleanupInterval = time.Hour

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the web server (default)",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}
	logger := logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if cfg.Session.SecretGenerated {
		logger.Warn("session.secret not set; using a random secret, pending Google sign-ins will fail after a restart")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := open(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer res.Close()

	m := metrics.New()
	hub := ws.NewHub(logger.With("component", "websocket"), m)

	var profiles identity.ProfileSource
	var consent handler.AuthURLSource
	if cfg.Google.Enabled() {
		google, err := oauth.NewGoogle(ctx, oauth.Config{
			ClientID:     cfg.Google.ClientID,
			ClientSecret: cfg.Google.ClientSecret,
			RedirectURL:  cfg.Google.RedirectURI,
			Issuer:       cfg.Google.Issuer,
		})
		if err != nil {
			return fmt.Errorf("set up google sign-in: %w", err)
		}
		profiles, consent = google, google
		logger.Info("google sign-in enabled", "redirect_uri", cfg.Google.RedirectURI)
	}

	memLimiter := middleware.NewMemoryRateLimiter()
	var limiter middleware.RateLimiter = memLimiter
	if res.redis != nil {
		limiter = middleware.NewRedisRateLimiter(res.redis, logger.With("component", "ratelimit"))
	}

	sessions := session.NewManager(res.sessions, cfg.Session.TTL, cfg.SecureCookies())
	srv, err := server.New(server.Deps{
		Identity:      identity.NewService(res.backend, profiles, logger.With("component", "identity")),
		Claims:        claim.NewService(res.backend, cfg.Points.Policy(), hub, logger.With("component", "claim")),
		Policy:        cfg.Points.Policy(),
		Sessions:      sessions,
		Google:        consent,
		State:         oauth.NewStateSigner(cfg.Session.Secret, oauth.DefaultStateTTL),
		SecureCookies: cfg.SecureCookies(),
		Hub:           hub,
		Limiter:       limiter,
		Metrics:       m,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	go runCleanup(ctx, sessions, memLimiter, logger.With("component", "cleanup"))

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv.Router(),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("SmartBin running", "addr", httpServer.Addr, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var metricsServer *http.Server
	if cfg.Metrics.Addr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           srv.MetricsRouter(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("metrics listening", "addr", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("metrics: %w", err)
			}
		}()
	}

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("metrics shutdown", "error", err)
		}
	}
	if serveErr != nil {
		httpServer.Close()
		return serveErr
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// runCleanup drops expired sessions and rate-limit windows until ctx ends.
func runCleanup(ctx context.Context, sessions *session.Manager, limiter *middleware.MemoryRateLimiter, logger *slog.Logger) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sessions.Cleanup(ctx)
			if err != nil {
				logger.Error("delete expired sessions", "error", err)
			} else if n > 0 {
				logger.Info("deleted expired sessions", "count", n)
			}
			limiter.Cleanup()
		}
	}
}
