package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_ADDR", "")
	t.Setenv("SLIDESYNC_STORE", "")
	t.Setenv("SLIDESYNC_UPDATE_DEBOUNCE_MS", "")
	t.Setenv("REDIS_URL", "")

	cfg := Load()

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "postgres", cfg.StoreDriver)
	assert.Equal(t, 500*time.Millisecond, cfg.UpdateDebounce)
	assert.Equal(t, 10*time.Second, cfg.StoreTimeout)
	assert.Empty(t, cfg.RedisURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("SLIDESYNC_STORE", "MEMORY")
	t.Setenv("SLIDESYNC_UPDATE_DEBOUNCE_MS", "0")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("SLIDESYNC_SEND_BUFFER", "not-a-number")

	cfg := Load()

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, time.Duration(0), cfg.UpdateDebounce)
	assert.True(t, cfg.MinIOUseSSL)
	assert.Equal(t, 256, cfg.SendBuffer)
}
