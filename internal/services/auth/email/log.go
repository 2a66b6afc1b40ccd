package email

import (
	"context"
	"log"
)

// LogSender writes messages to the process log instead of delivering them.
// It backs local development when no mail provider is configured.
type LogSender struct{}

func (LogSender) Send(_ context.Context, msg Message) error {
	log.Printf("email to=%s subject=%q body=%q", msg.To, msg.Subject, msg.Text)
	return nil
}
