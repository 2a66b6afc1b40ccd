package email

import (
	"log"

	"github.com/caarlos0/env/v11"
)

// Config selects and configures the mail provider.
type Config struct {
	ResendAPIKey string `env:"GATEHOUSE_RESEND_API_KEY"`
	From         string `env:"GATEHOUSE_EMAIL_FROM" envDefault:"Gatehouse <auth@localhost>"`
}

// LoadConfigFromEnv returns email configuration with defaults.
func LoadConfigFromEnv() Config {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{From: "Gatehouse <auth@localhost>"}
	}
	if cfg.From == "" {
		cfg.From = "Gatehouse <auth@localhost>"
	}
	return cfg
}

// NewSenderFromEnv builds a Resend sender when an API key is configured,
// falling back to the log sender for local development.
func NewSenderFromEnv() Sender {
	cfg := LoadConfigFromEnv()
	if cfg.ResendAPIKey == "" {
		log.Printf("no mail provider configured, logging outbound email")
		return LogSender{}
	}
	sender, err := NewResendSender(cfg.ResendAPIKey, cfg.From)
	if err != nil {
		log.Printf("mail provider misconfigured (%v), logging outbound email", err)
		return LogSender{}
	}
	return sender
}
