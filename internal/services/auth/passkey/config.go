package passkey

import (
	"time"

	"github.com/caarlos0/env/v11"
)

// CeremonyKind describes the WebAuthn ceremony a challenge belongs to.
type CeremonyKind string

const (
	CeremonyKindRegistration CeremonyKind = "registration"
	CeremonyKindLogin        CeremonyKind = "login"
)

// DeviceClass classifies the authenticator backing a credential.
type DeviceClass string

const (
	DeviceClassPlatform      DeviceClass = "platform"
	DeviceClassCrossPlatform DeviceClass = "cross-platform"
)

// Config controls WebAuthn relying party settings.
type Config struct {
	RPDisplayName string        `env:"GATEHOUSE_WEBAUTHN_RP_DISPLAY_NAME"`
	RPID          string        `env:"GATEHOUSE_WEBAUTHN_RP_ID"           envDefault:"localhost"`
	RPOrigins     []string      `env:"GATEHOUSE_WEBAUTHN_RP_ORIGINS"      envSeparator:","`
	ChallengeTTL  time.Duration `env:"GATEHOUSE_WEBAUTHN_CHALLENGE_TTL"   envDefault:"5m"`
}

// LoadConfigFromEnv returns passkey configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{
			RPDisplayName: "Gatehouse",
			RPID:          "localhost",
			RPOrigins:     []string{"http://localhost:8086"},
			ChallengeTTL:  5 * time.Minute,
		}
	}
	if cfg.RPDisplayName == "" {
		cfg.RPDisplayName = "Gatehouse"
	}
	if len(cfg.RPOrigins) == 0 {
		cfg.RPOrigins = []string{"http://localhost:8086"}
	}
	if cfg.ChallengeTTL <= 0 {
		cfg.ChallengeTTL = 5 * time.Minute
	}
	return cfg
}
