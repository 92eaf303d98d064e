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

	"github.com/golang-migrate/migrate/v4"
	"github.com/lending-service/cmd/api/auth"
	"github.com/lending-service/cmd/api/book"
	"github.com/lending-service/cmd/api/config"
	"github.com/lending-service/cmd/api/database"
	bookhttp "github.com/lending-service/cmd/api/http"
	"github.com/lending-service/cmd/api/inmemory"
	"github.com/lending-service/cmd/api/notifications"
)

func main() {
	err := run()
	if err != nil {
		slog.Error("exiting", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	authService := auth.NewService(store, auth.Config{
		Secret:   []byte(cfg.JWTSecret),
		TokenTTL: cfg.JWTTTL,
	})
	if cfg.AdminUsername != "" {
		user, created, err := authService.EnsureUser(ctx, cfg.AdminUsername, cfg.AdminPassword)
		if err != nil {
			return fmt.Errorf("seeding admin user: %w", err)
		}
		if created {
			logger.Info("admin user created", "user_id", user.ID, "username", user.Username)
		}
	}

	ntfy := notifications.NewNtfy(cfg.NotificationsEnabled, cfg.NotificationsBaseURL, &http.Client{Timeout: cfg.NotificationsTimeout})
	bookService := book.NewService(store, ntfy, book.ServiceConfig{
		NotificationsTimeout: cfg.NotificationsTimeout,
		RestoreOnDelete:      cfg.RestoreOnDelete,
		Logger:               logger,
	})
	defer bookService.Close()

	bookHandler := bookhttp.NewBookHandler(bookService, authService, logger)

	//create and init http server:
	server := bookhttp.NewServer(bookhttp.ServerConfig{
		Port:           cfg.HTTPPort,
		RequestTimeout: cfg.RequestTimeout,
	}, bookHandler)

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- fmt.Errorf("unexpected http server error: %w", err)
		}
		close(serverErr)
	}()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sc:
	case err := <-serverErr:
		return err
	}

	shutdownCtx, shutdownRelease := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownRelease()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP shutdown error: %w", err)
	}
	logger.Info("graceful shutdown complete")
	return nil
}

/* Uses Postgres when DATABASE_URL is set, the in-memory store otherwise. */
func openStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (book.Repository, func(), error) {
	if cfg.DatabaseURL == "" {
		store, err := inmemory.NewInMemoryStore()
		if err != nil {
			return nil, nil, fmt.Errorf("creating in-memory store: %w", err)
		}
		logger.Warn("DATABASE_URL not set, data lives in memory only")
		return store, func() {}, nil
	}

	dbObject, err := database.ConnectDb(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting with db: %w", err)
	}
	logger.Info("successfully connected to database")

	//apply migrations:
	store := database.NewStore(dbObject)
	err = database.MigrationUp(store, cfg.MigrationsPath)
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		dbObject.Close()
		return nil, nil, fmt.Errorf("migrating: %w", err)
	}

	return store, func() { dbObject.Close() }, nil
}
