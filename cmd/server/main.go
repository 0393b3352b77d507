package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/pscheid92/relaypulse/internal/auth"
	"github.com/pscheid92/relaypulse/internal/broadcast"
	"github.com/pscheid92/relaypulse/internal/config"
	"github.com/pscheid92/relaypulse/internal/platform/logging"
	"github.com/pscheid92/relaypulse/internal/protocol"
	"github.com/pscheid92/relaypulse/internal/ratelimit"
	"github.com/pscheid92/relaypulse/internal/server"
	"github.com/pscheid92/relaypulse/internal/session"
)

const shutdownTimeout = 10 * time.Second

func runGracefulShutdown(srv *server.Server, broadcaster *broadcast.Broadcaster, stopReaper context.CancelFunc) <-chan struct{} {
	done := make(chan struct{})
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		slog.Info("Shutdown signal received, cleaning up...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server shutdown error", "error", err)
		}

		stopReaper()
		broadcaster.Shutdown()

		close(done)
	}()

	return done
}

func main() {
	clock := clockwork.NewRealClock()

	cfg, err := config.Load()
	if err != nil {
		// Use log before slog is initialized
		log.Fatalf("Failed to load config: %v", err)
	}

	logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
	slog.Info("Application starting", "env", cfg.AppEnv, "port", cfg.Port)

	registry := session.NewRegistry()
	limiter := ratelimit.NewLimiter(clock, cfg.RateLimitMaxRequests, cfg.RateLimitWindow)
	table := server.NewConnTable()
	broadcaster := broadcast.NewBroadcaster(registry, table, clock)

	// Per-session state everywhere else dies with the session.
	registry.OnRemove(limiter.Forget)
	registry.OnRemove(broadcaster.Forget)
	registry.OnRemove(table.Drop)

	verifier := auth.NewVerifier(cfg.JWTSecret)
	cachedVerifier := auth.NewCachingVerifier(verifier, clock, cfg.AuthCacheTTL)
	registry.OnUserGone(cachedVerifier.Forget)

	proto := protocol.New(registry, limiter, broadcaster, cachedVerifier, verifier, table, clock, uuid.NewString)

	srv := server.NewServer(cfg, proto, registry, table, clock)

	reaper := session.NewReaper(registry, clock, cfg.ReapInterval, cfg.SessionIdleThreshold)
	reaperCtx, stopReaper := context.WithCancel(context.Background())
	go reaper.Run(reaperCtx)

	done := runGracefulShutdown(srv, broadcaster, stopReaper)

	slog.Info("Server starting", "port", cfg.Port)
	if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Server error", "error", err)
		os.Exit(1)
	}

	<-done
}
