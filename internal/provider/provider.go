// Package provider defines the interface for email delivery backends.
package provider

import (
	"context"

	"github.com/shineum/epub-relay/internal/email"
)

// Provider is the interface that email delivery backends must implement.
// Each provider submits a fully built message to the target service
// (SMTP submission, AWS SES, Microsoft Graph, or stdout for dry runs).
// Implementations make exactly one delivery attempt per Send.
type Provider interface {
	// Send delivers an email message through this provider.
	// It returns an error if the delivery fails.
	Send(ctx context.Context, msg *email.Email) error

	// Name returns the human-readable name of this provider.
	Name() string
}
