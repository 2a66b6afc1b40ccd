// Package email delivers transactional mail for the auth service.
package email

import (
	"context"
	"errors"
)

// ErrSendFailed reports a delivery failure from the underlying provider.
var ErrSendFailed = errors.New("failed to send email")

// Message is a single outbound email.
type Message struct {
	To      string
	Subject string
	Text    string
}

// Sender delivers messages. Implementations must be safe for concurrent use.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}
