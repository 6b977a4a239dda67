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

	"github.com/gorilla/mux"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/pflag"

	relay "github.com/electr1fy0/relay/internal"
	"github.com/electr1fy0/relay/internal/config"
)

func main() {
	if err := run(); err != nil {
		slog.Error("relay exited", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	flags := config.Flags()
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(slog.Default(), flags)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	logger := setupLogger(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := relay.Options{
		AdminRoom:        cfg.Relay.AdminRoom,
		PrivilegedRoles:  cfg.Relay.PrivilegedRoles,
		DuplicateSession: relay.DuplicateSessionPolicy(cfg.Relay.DuplicateSession),
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		SendBuffer:       cfg.Transport.SendBuffer,
		ReadLimit:        cfg.Transport.ReadLimit,
		PingPeriod:       cfg.Transport.PingPeriod,
		WriteWait:        cfg.Transport.WriteWait,
		PresenceKey:      cfg.Redis.PresenceKey,
		PresenceChannel:  cfg.Redis.PresenceChannel,
	}

	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		opts.Presence = rdb
	}

	// The hub outlives the HTTP server so that connections closed during
	// shutdown still get their teardown.
	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()

	r := relay.NewRelay(opts, logger)
	r.Start(hubCtx)

	router := mux.NewRouter()
	router.Use(relay.RequestLogger(logger))
	r.Routes(router, cfg.Server.SocketPath)

	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting the server", slog.String("addr", srv.Addr), slog.String("socketPath", cfg.Server.SocketPath))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.Any("error", err))
	}
	if err := r.Shutdown(shutdownCtx); err != nil {
		logger.Error("connections did not close in time", slog.Any("error", err))
	}
	logger.Info("relay stopped")
	return nil
}

func setupLogger(level string) *slog.Logger {
	lvl, err := config.ParseLevel(level)
	if err != nil {
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)
	return logger
}
