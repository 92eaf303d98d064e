package config_test

import (
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/lending-service/cmd/api/config"
	"github.com/matryer/is"
)

var keys = []string{
	"HTTP_PORT", "HTTP_REQUEST_TIMEOUT", "DATABASE_URL", "DATABASE_MIGRATIONS_PATH",
	"JWT_SECRET", "JWT_TTL", "ADMIN_USERNAME", "ADMIN_PASSWORD",
	"NOTIFICATIONS_ENABLED", "NOTIFICATIONS_BASE_URL", "NOTIFICATIONS_TIMEOUT",
	"BORROW_RESTORE_ON_DELETE", "LOG_LEVEL",
}

/* Clears every key for the duration of the test. */
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range keys {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestFromEnv(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("JWT_SECRET", "s3cret")

		c, err := config.FromEnv()
		is.NoErr(err)
		is.Equal(c.HTTPPort, 8080)
		is.Equal(c.RequestTimeout, 5*time.Second)
		is.Equal(c.DatabaseURL, "")
		is.Equal(c.MigrationsPath, "migrations")
		is.Equal(c.JWTTTL, 60*time.Minute)
		is.True(!c.NotificationsEnabled)
		is.Equal(c.NotificationsTimeout, 2*time.Second)
		is.True(!c.RestoreOnDelete)
		is.Equal(c.LogLevel, slog.LevelInfo)
	})

	t.Run("reads every key", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("HTTP_PORT", "9090")
		t.Setenv("HTTP_REQUEST_TIMEOUT", "250ms")
		t.Setenv("DATABASE_URL", "postgres://u:p@localhost/lending?sslmode=disable")
		t.Setenv("JWT_SECRET", "s3cret")
		t.Setenv("JWT_TTL", "15m")
		t.Setenv("ADMIN_USERNAME", "admin")
		t.Setenv("ADMIN_PASSWORD", "admin-pass")
		t.Setenv("NOTIFICATIONS_ENABLED", "true")
		t.Setenv("NOTIFICATIONS_BASE_URL", "http://ntfy.local")
		t.Setenv("BORROW_RESTORE_ON_DELETE", "true")
		t.Setenv("LOG_LEVEL", "debug")

		c, err := config.FromEnv()
		is.NoErr(err)
		is.Equal(c.HTTPPort, 9090)
		is.Equal(c.RequestTimeout, 250*time.Millisecond)
		is.Equal(c.DatabaseURL, "postgres://u:p@localhost/lending?sslmode=disable")
		is.Equal(c.JWTTTL, 15*time.Minute)
		is.Equal(c.AdminUsername, "admin")
		is.Equal(c.AdminPassword, "admin-pass")
		is.True(c.NotificationsEnabled)
		is.Equal(c.NotificationsBaseURL, "http://ntfy.local")
		is.True(c.RestoreOnDelete)
		is.Equal(c.LogLevel, slog.LevelDebug)
	})

	t.Run("secret is required", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)

		_, err := config.FromEnv()
		is.True(errors.Is(err, config.ErrMissingJWTSecret))
	})

	t.Run("invalid values fail", func(t *testing.T) {
		for key, value := range map[string]string{
			"HTTP_PORT":                "eighty",
			"HTTP_REQUEST_TIMEOUT":     "5",
			"NOTIFICATIONS_ENABLED":    "sometimes",
			"BORROW_RESTORE_ON_DELETE": "yes please",
			"LOG_LEVEL":                "chatty",
		} {
			t.Run(key, func(t *testing.T) {
				is := is.New(t)
				clearEnv(t)
				t.Setenv("JWT_SECRET", "s3cret")
				t.Setenv(key, value)

				_, err := config.FromEnv()
				is.True(err != nil)
			})
		}
	})
}

func TestLoad(t *testing.T) {
	t.Run("reads an env file without overriding the environment", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("HTTP_PORT", "7000")
		t.Cleanup(func() {
			os.Unsetenv("JWT_SECRET")
			os.Unsetenv("ADMIN_USERNAME")
		})

		envFile := filepath.Join(t.TempDir(), "test.env")
		is.NoErr(os.WriteFile(envFile, []byte("JWT_SECRET=from-file\nADMIN_USERNAME=librarian\nHTTP_PORT=1\n"), 0o600))

		c, err := config.Load(envFile)
		is.NoErr(err)
		is.Equal(c.JWTSecret, "from-file")
		is.Equal(c.AdminUsername, "librarian")
		is.Equal(c.HTTPPort, 7000)
	})

	t.Run("a missing env file is fine", func(t *testing.T) {
		is := is.New(t)
		clearEnv(t)
		t.Setenv("JWT_SECRET", "s3cret")

		_, err := config.Load(filepath.Join(t.TempDir(), "absent.env"))
		is.NoErr(err)
	})
}
