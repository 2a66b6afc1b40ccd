// Package session configures bearer session issuance.
package session

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls session token lifetime.
//
// Sessions always expire. Unbounded bearer tokens are a liability, so
// the TTL is configurable rather than optional; the default keeps web
// clients signed in for thirty days.
type Config struct {
	TTL time.Duration `env:"GATEHOUSE_SESSION_TTL" envDefault:"720h"`
}

// LoadConfigFromEnv loads session configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TTL <= 0 {
		cfg.TTL = 720 * time.Hour
	}
	return cfg
}
