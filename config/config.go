// Package config loads transport and Azure settings from the environment and optional .env files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/next-trace/scg-azure-servicebus/adapters/azure"
	"github.com/next-trace/scg-azure-servicebus/transport"
)

// Config is the process configuration.
type Config struct {
	LogLevel slog.Level `env:"SCG_LOG_LEVEL" envDefault:"INFO"`

	Transport transport.Options `envPrefix:"SCG_TRANSPORT_"`
	Azure     azure.Config      `envPrefix:"SCG_ASB_"`
}

// UseAzure reports whether Azure connection settings are present.
func (c Config) UseAzure() bool {
	return c.Azure.ConnectionString != "" || c.Azure.Namespace != ""
}

// Load reads files into the environment, without overriding variables already set, then parses it.
// Missing files are skipped.
func Load(files ...string) (Config, error) {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}
