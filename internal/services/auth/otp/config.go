// Package otp implements the email one-time-code credential flow.
package otp

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// Config controls one-time code generation and delivery pacing.
//
// DevEcho returns the generated code in the request-code response so
// automated clients can finish the flow without an email transport. It
// must stay disabled outside development deployments.
type Config struct {
	TTL          time.Duration `env:"GATEHOUSE_OTP_TTL"            envDefault:"10m"`
	CodeLength   int           `env:"GATEHOUSE_OTP_CODE_LENGTH"    envDefault:"6"`
	DevEcho      bool          `env:"GATEHOUSE_OTP_DEV_ECHO"       envDefault:"false"`
	SendCooldown time.Duration `env:"GATEHOUSE_OTP_SEND_COOLDOWN"  envDefault:"30s"`
	DailyLimit   int           `env:"GATEHOUSE_OTP_DAILY_LIMIT"    envDefault:"10"`
}

// LoadConfigFromEnv loads one-time code configuration with defaults.
//
// Defaults are intentionally explicit because codes are security-sensitive and
// should remain predictable in local and CI environments.
func LoadConfigFromEnv() Config {
	var cfg Config
	_ = env.Parse(&cfg)
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Minute
	}
	if cfg.CodeLength < 6 {
		cfg.CodeLength = 6
	}
	if cfg.SendCooldown < 0 {
		cfg.SendCooldown = 0
	}
	if cfg.DailyLimit <= 0 {
		cfg.DailyLimit = 10
	}
	return cfg
}
