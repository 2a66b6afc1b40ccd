// Package auth parses auth service flags and launches the service.
package auth

import (
	"context"
	"flag"

	entrypoint "github.com/quietriver/gatehouse/internal/platform/cmd"
	server "github.com/quietriver/gatehouse/internal/services/auth/app"
)

// Config holds auth command configuration.
type Config struct {
	Port int `env:"GATEHOUSE_AUTH_PORT" envDefault:"8083"`
}

// ParseConfig parses environment and flags into Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.ParseConfig(&cfg); err != nil {
		return Config{}, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "The auth HTTP server port")
	if err := entrypoint.ParseArgs(fs, args); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Run starts the auth HTTP API service.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceAuth, func(context.Context) error {
		return server.Run(ctx, cfg.Port)
	})
}
