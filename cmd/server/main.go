package main // Entry point package

import (
	"context"   // Cancellation for shutdown
	"errors"    // Error matching
	"log/slog"  // Structured logging
	"net/http"  // http.ErrServerClosed
	"os"        // Exit codes
	"os/signal" // Signal-bound context
	"syscall"   // SIGINT and SIGTERM

	"github.com/jonboulle/clockwork" // Clock shared by locks, sweep and rate limits

	"github.com/iliyamo/movieflix-seatlock/internal/config"                  // Environment config loader
	"github.com/iliyamo/movieflix-seatlock/internal/database"                // MySQL connection and schema
	"github.com/iliyamo/movieflix-seatlock/internal/handler"                 // HTTP handlers
	"github.com/iliyamo/movieflix-seatlock/internal/logging"                 // slog setup
	"github.com/iliyamo/movieflix-seatlock/internal/middleware"              // Auth and rate limiting
	"github.com/iliyamo/movieflix-seatlock/internal/queue"                   // Booking event consumer
	"github.com/iliyamo/movieflix-seatlock/internal/realtime"                // Websocket seat lock gateway
	"github.com/iliyamo/movieflix-seatlock/internal/repository"              // Booking persistence
	"github.com/iliyamo/movieflix-seatlock/internal/router"                  // Route registration
	"github.com/iliyamo/movieflix-seatlock/internal/seatlock"                // In-memory lock table
	queue_publisher "github.com/iliyamo/movieflix-seatlock/internal/service" // Booking event publisher
)

func main() {
	if err := run(); err != nil {
		slog.Error("Server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load() // Load and validate environment config
	if err != nil {
		return err
	}
	logging.InitLogger(cfg.LogLevel, cfg.LogFormat) // Install the global slog handler

	// Cancelled on SIGINT or SIGTERM; everything long-running watches it.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName) // Connect to MySQL
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil { // Create booking tables if missing
		return err
	}

	rateLimit, err := config.LoadRateLimitConfig() // RATE_LIMIT_* settings
	if err != nil {
		return err
	}
	redisOpts, err := config.RedisOptions() // REDIS_* settings
	if err != nil {
		return err
	}
	rdb := config.NewRedisClient(ctx, redisOpts) // nil when Redis is down; limiter passes through
	if rdb != nil {
		defer rdb.Close()
	}

	clock := clockwork.NewRealClock()
	manager := seatlock.NewManager(seatlock.NewMemoryTable(), clock, cfg.SeatLockTTL) // Lock table with TTL
	gateway := realtime.NewGateway(manager, clock, cfg.SweepInterval)                 // Starts the event loop and sweep
	defer gateway.Stop()

	bookings := repository.NewBookingRepo(db)                  // MySQL booking store
	publisher := queue_publisher.NewPublisher(cfg.RabbitMQURL) // RabbitMQ publisher behind a breaker

	// The consumer is optional; it writes booking events to the logs directory.
	if cfg.QueueConsumerEnabled {
		go func() {
			if err := queue.StartBookingConsumer(ctx, cfg.RabbitMQURL, "logs"); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("Booking consumer stopped", "error", err)
			}
		}()
	}

	e := router.New() // Echo with recover and request logging
	router.RegisterRoutes(e, router.Handlers{
		Health: handler.NewHealthHandler(gateway, publisher),
		WebSocket: handler.NewWebSocketHandler(gateway, cfg.AllowedOrigins(), realtime.ServeOptions{
			EventRate:  cfg.WSEventRate,
			EventBurst: cfg.WSEventBurst,
			Clock:      clock,
		}),
		Bookings:  handler.NewBookingHandler(bookings, gateway, publisher, cfg.MaxSeatsPerBooking),
		Showtimes: handler.NewShowtimeHandler(bookings, gateway),
	}, cfg.JWTSecret, middleware.NewTokenBucket(rateLimit, rdb, clock))

	addr := ":" + cfg.Port // Address string with port
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Listening", "addr", addr, "env", cfg.Env, "lock_ttl", cfg.SeatLockTTL, "sweep", cfg.SweepInterval)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) { // Start HTTP server
			errCh <- err
		}
		close(errCh)
	}()

	// Block until the server fails or a signal arrives.
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	// Hijacked websocket connections are not tracked by the HTTP server;
	// stopping the gateway closes them so their handlers return.
	gateway.Stop()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
