package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPPort       int
	RequestTimeout time.Duration

	DatabaseURL    string
	MigrationsPath string

	JWTSecret     string
	JWTTTL        time.Duration
	AdminUsername string
	AdminPassword string

	NotificationsEnabled bool
	NotificationsBaseURL string
	NotificationsTimeout time.Duration

	RestoreOnDelete bool
	LogLevel        slog.Level
}

var ErrMissingJWTSecret = errors.New("JWT_SECRET must be set")

/*
Loads the optional .env files and reads every setting from the environment.
Variables already set in the environment win over the files.
*/
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("loading env file: %w", err)
	}
	return FromEnv()
}

func FromEnv() (Config, error) {
	var (
		config Config
		err    error
	)

	if config.HTTPPort, err = intEnv("HTTP_PORT", 8080); err != nil {
		return Config{}, err
	}
	if config.RequestTimeout, err = durationEnv("HTTP_REQUEST_TIMEOUT", 5*time.Second); err != nil {
		return Config{}, err
	}

	config.DatabaseURL = os.Getenv("DATABASE_URL")
	config.MigrationsPath = stringEnv("DATABASE_MIGRATIONS_PATH", "migrations")

	config.JWTSecret = os.Getenv("JWT_SECRET")
	if config.JWTSecret == "" {
		return Config{}, ErrMissingJWTSecret
	}
	if config.JWTTTL, err = durationEnv("JWT_TTL", 60*time.Minute); err != nil {
		return Config{}, err
	}
	config.AdminUsername = os.Getenv("ADMIN_USERNAME")
	config.AdminPassword = os.Getenv("ADMIN_PASSWORD")

	if config.NotificationsEnabled, err = boolEnv("NOTIFICATIONS_ENABLED", false); err != nil {
		return Config{}, err
	}
	config.NotificationsBaseURL = stringEnv("NOTIFICATIONS_BASE_URL", "https://ntfy.sh")
	if config.NotificationsTimeout, err = durationEnv("NOTIFICATIONS_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}

	if config.RestoreOnDelete, err = boolEnv("BORROW_RESTORE_ON_DELETE", false); err != nil {
		return Config{}, err
	}
	if err := config.LogLevel.UnmarshalText([]byte(stringEnv("LOG_LEVEL", "info"))); err != nil {
		return Config{}, fmt.Errorf("getting LOG_LEVEL from env: %w", err)
	}

	return config, nil
}

func stringEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func intEnv(key string, fallback int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("getting %s from env: %w", key, err)
	}
	return v, nil
}

// Durations must carry a unit suffix, like "5s".
func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("getting %s from env: %w", key, err)
	}
	return v, nil
}

func boolEnv(key string, fallback bool) (bool, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("getting %s from env: %w", key, err)
	}
	return v, nil
}
