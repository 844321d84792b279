// Package config loads runtime configuration from the environment.
package config

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config collects everything the server and consumer need. Flags in
// cmd/server may override Port and DBPath for local runs.
type Config struct {
	Port   int    `env:"HTTP_PORT" envDefault:"8080"`
	DBPath string `env:"DB_PATH" envDefault:"expenses.db"`

	// StreamURL is the upstream expense event stream. Empty disables the
	// consumer (API-only mode).
	StreamURL string `env:"STREAM_URL"`

	ConsumerWorkers int           `env:"CONSUMER_WORKERS" envDefault:"4"`
	MaxRetries      int           `env:"STREAM_MAX_RETRIES" envDefault:"3"`
	RetryBackoff    time.Duration `env:"STREAM_RETRY_BACKOFF" envDefault:"500ms"`
}

// Load parses the environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
