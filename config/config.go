package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/layer-3/walletlink/core"
)

// ErrConfig is returned when an environment variable holds an invalid value
var ErrConfig = errors.New("invalid configuration")

// Config contains the runtime configuration of the walletlink binary
type Config struct {
	RedisURL string
	HTTPAddr string

	// ControlToken guards the HTTP control API; empty disables the check
	ControlToken string

	KeyServerURL string
	Metadata     core.AppMetadata

	LogDebug bool
	LogTrace bool

	ShutdownTimeout time.Duration
}

// Load reads WALLETLINK_* environment variables, falling back to defaults
func Load() (Config, error) {
	cfg := Config{
		RedisURL:     envString("WALLETLINK_REDIS_URL", "redis://localhost:6379/0"),
		HTTPAddr:     envString("WALLETLINK_HTTP_ADDR", ":9000"),
		ControlToken: os.Getenv("WALLETLINK_CONTROL_TOKEN"),
		KeyServerURL: envString("WALLETLINK_KEYSERVER_URL", "https://keys.walletconnect.com"),
		Metadata: core.AppMetadata{
			Name:        envString("WALLETLINK_APP_NAME", "walletlink"),
			Description: os.Getenv("WALLETLINK_APP_DESCRIPTION"),
			URL:         os.Getenv("WALLETLINK_APP_URL"),
		},
	}

	var err error
	if cfg.LogDebug, err = envBool("WALLETLINK_LOG_DEBUG", false); err != nil {
		return Config{}, err
	}
	if cfg.LogTrace, err = envBool("WALLETLINK_LOG_TRACE", false); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout, err = envDuration("WALLETLINK_SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.ShutdownTimeout <= 0 {
		return Config{}, fmt.Errorf("WALLETLINK_SHUTDOWN_TIMEOUT must be positive: %w", ErrConfig)
	}
	return cfg, nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s=%q: %w", key, v, ErrConfig)
	}
	return b, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s=%q: %w", key, v, ErrConfig)
	}
	return d, nil
}
