package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/delivery")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "postgres://localhost/delivery", cfg.DatabaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, 5*time.Minute, cfg.GeocodeCacheTTL)
	assert.Equal(t, 1024, cfg.GeocodeCacheSize)
	assert.Equal(t, 30, cfg.FallbackMinTime)
	assert.Equal(t, 45, cfg.FallbackMaxTime)
	assert.Equal(t, "postgres", cfg.ZoneSource)
	assert.Equal(t, slog.LevelInfo, cfg.SlogLevel())
}

func TestLoadConfigFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	env := "SERVER_PORT=9090\nDEBOUNCE_WINDOW=250ms\nZONE_SOURCE=NATS\nLOG_LEVEL=debug\nFALLBACK_MIN_TIME=20\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0o600))
	t.Setenv("FALLBACK_MIN_TIME", "25")

	cfg, err := LoadConfig(dir)
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.ServerPort)
	assert.Equal(t, 250*time.Millisecond, cfg.DebounceWindow)
	assert.Equal(t, "nats", cfg.ZoneSource)
	assert.Equal(t, 25, cfg.FallbackMinTime, "environment wins over the file")
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
}
