package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/satlink/sathub/internal/api"
	"github.com/satlink/sathub/internal/config"
	"github.com/satlink/sathub/internal/httputil"
	"github.com/satlink/sathub/internal/hub"
)

// Build metadata injected via ldflags at compile time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.IsDevelopment() {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
			With().Timestamp().Logger()
	}

	log.Info().
		Str("version", version).
		Str("commit", commit).
		Str("built", date).
		Str("env", cfg.Environment).
		Msg("Starting SatHub Server")

	if cfg.CORSAllowOrigins == "*" {
		log.Warn().Msg("cors_allow_origins is set to a wildcard. Set an explicit origin when in production.")
	}

	h := hub.New(cfg, log.Logger)

	// Heartbeat supervisor runs for the life of the process; eviction of
	// silent peers is the only server-imposed timeout.
	supervisorCtx, supervisorCancel := context.WithCancel(context.Background())
	defer supervisorCancel()
	monitor := hub.NewMonitor(h, cfg.HeartbeatCheckInterval(), cfg.ClientTimeout(), log.Logger)
	go runWithBackoff(supervisorCtx, "heartbeat-supervisor", monitor.Run)

	app := fiber.New(fiber.Config{
		AppName: "SatHub",
		ErrorHandler: func(c fiber.Ctx, err error) error {
			status := fiber.StatusInternalServerError
			message := "An internal error occurred"
			if e, ok := errors.AsType[*fiber.Error](err); ok {
				status = e.Code
				message = e.Message
			} else {
				log.Error().Err(err).
					Str("method", c.Method()).
					Str("path", c.Path()).
					Msg("Unhandled error")
			}
			return httputil.Fail(c, status, message)
		},
	})

	app.Use(requestid.New())
	app.Use(httputil.RequestLogger(log.Logger))
	app.Use(cors.New(cors.Config{
		AllowOrigins:  strings.Split(cfg.CORSAllowOrigins, ","),
		AllowMethods:  []string{"GET", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept"},
		ExposeHeaders: []string{"X-Request-ID"},
	}))

	health := api.NewHealthHandler(h)
	app.Get("/healthz", health.Health)

	// WebSocket endpoint. Clients self-declare their role inside the
	// protocol via Register; there is no HTTP-level authentication.
	gateway := api.NewGatewayHandler(h)
	app.Get("/ws", gateway.Upgrade)

	// Terminal handler so unmatched requests return 404 instead of Fiber's
	// default empty 200 for middleware-matched paths.
	app.Use(func(_ fiber.Ctx) error {
		return fiber.ErrNotFound
	})

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Shutting down server")
		h.Shutdown()
		supervisorCancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	addr := cfg.Addr()
	log.Info().Str("addr", addr).Msg("Server listening")

	if err := app.Listen(addr, fiber.ListenConfig{DisableStartupMessage: true}); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// runWithBackoff runs fn in a loop, restarting with exponential backoff when
// it returns a non-nil, non-cancelled error. If fn returns nil or
// context.Canceled the goroutine exits. The delay starts at 1 second and
// doubles on each consecutive failure up to a 2-minute cap.
func runWithBackoff(ctx context.Context, name string, fn func(context.Context) error) {
	const (
		initialDelay = time.Second
		maxDelay     = 2 * time.Minute
	)
	delay := initialDelay
	for {
		if err := fn(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			log.Error().Err(err).Str("service", name).Dur("retry_in", delay).
				Msg("Background service stopped, restarting after delay")
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay = min(delay*2, maxDelay)
			continue
		}
		return
	}
}
