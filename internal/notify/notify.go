package notify

import (
	"context"
)

// Message is a plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Notifier delivers a message to a user's address.
type Notifier interface {
	Send(ctx context.Context, msg Message) error
}
