package config_test

import (
	"testing"
	"time"

	"github.com/layer-3/walletlink/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"WALLETLINK_REDIS_URL", "WALLETLINK_HTTP_ADDR", "WALLETLINK_CONTROL_TOKEN",
		"WALLETLINK_LOG_DEBUG", "WALLETLINK_SHUTDOWN_TIMEOUT", "WALLETLINK_APP_NAME",
	} {
		t.Setenv(key, "")
	}

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://localhost:6379/0", cfg.RedisURL)
	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Empty(t, cfg.ControlToken)
	assert.Equal(t, "walletlink", cfg.Metadata.Name)
	assert.False(t, cfg.LogDebug)
	assert.Equal(t, 10*time.Second, cfg.ShutdownTimeout)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("WALLETLINK_REDIS_URL", "redis://redis:6379/2")
	t.Setenv("WALLETLINK_HTTP_ADDR", "127.0.0.1:8080")
	t.Setenv("WALLETLINK_CONTROL_TOKEN", "s3cret")
	t.Setenv("WALLETLINK_APP_NAME", "wallet")
	t.Setenv("WALLETLINK_LOG_DEBUG", "true")
	t.Setenv("WALLETLINK_SHUTDOWN_TIMEOUT", "3s")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, "redis://redis:6379/2", cfg.RedisURL)
	assert.Equal(t, "127.0.0.1:8080", cfg.HTTPAddr)
	assert.Equal(t, "s3cret", cfg.ControlToken)
	assert.Equal(t, "wallet", cfg.Metadata.Name)
	assert.True(t, cfg.LogDebug)
	assert.Equal(t, 3*time.Second, cfg.ShutdownTimeout)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	tests := map[string]string{
		"WALLETLINK_LOG_DEBUG":        "maybe",
		"WALLETLINK_LOG_TRACE":        "2",
		"WALLETLINK_SHUTDOWN_TIMEOUT": "soon",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			_, err := config.Load()
			assert.ErrorIs(t, err, config.ErrConfig)
		})
	}

	t.Run("negative timeout", func(t *testing.T) {
		t.Setenv("WALLETLINK_SHUTDOWN_TIMEOUT", "-1s")
		_, err := config.Load()
		assert.ErrorIs(t, err, config.ErrConfig)
	})
}
