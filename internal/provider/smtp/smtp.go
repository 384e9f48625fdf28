// Package smtp implements a Provider that submits emails to an SMTP server
// over implicit TLS (SMTPS, port 465) with AUTH PLAIN.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/emersion/go-sasl"
	gosmtp "github.com/emersion/go-smtp"

	"github.com/shineum/epub-relay/internal/email"
)

// ErrNoRecipients is returned when a message has no non-empty recipient.
var ErrNoRecipients = errors.New("no recipients provided")

// SMTPProviderConfig holds the configuration for creating an SMTPProvider.
type SMTPProviderConfig struct {
	// Addr is the submission server as host:port, e.g. "smtp.gmail.com:465".
	Addr string

	// Username and Password are the AUTH PLAIN credentials. Authentication
	// is skipped only when both are empty.
	Username string
	Password string

	// TLSConfig overrides the client TLS settings. When nil, the server
	// certificate is verified against the host part of Addr.
	TLSConfig *tls.Config
}

// SMTPProvider delivers each message over a fresh authenticated SMTPS session.
type SMTPProvider struct {
	addr      string
	username  string
	password  string
	tlsConfig *tls.Config
}

// New creates a new SMTPProvider. It does not connect; every Send dials.
func New(cfg SMTPProviderConfig) (*SMTPProvider, error) {
	host, _, err := net.SplitHostPort(cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("invalid SMTP address %q: %w", cfg.Addr, err)
	}

	tlsConfig := cfg.TLSConfig
	if tlsConfig == nil {
		tlsConfig = &tls.Config{
			ServerName: host,
			MinVersion: tls.VersionTLS12,
		}
	}

	return &SMTPProvider{
		addr:      cfg.Addr,
		username:  cfg.Username,
		password:  cfg.Password,
		tlsConfig: tlsConfig,
	}, nil
}

// Send encodes msg and submits it in one SMTP transaction. Cancelling ctx
// aborts the session by closing the connection.
func (p *SMTPProvider) Send(ctx context.Context, msg *email.Email) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	recipients := make([]string, 0, len(msg.To))
	for _, to := range msg.To {
		if to != "" {
			recipients = append(recipients, to)
		}
	}
	if len(recipients) == 0 {
		return ErrNoRecipients
	}

	raw, err := email.Encode(msg)
	if err != nil {
		return err
	}

	client, err := gosmtp.DialTLS(p.addr, p.tlsConfig)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.addr, err)
	}
	defer client.Close()

	stop := context.AfterFunc(ctx, func() {
		client.Close()
	})
	defer stop()

	if p.username != "" || p.password != "" {
		if err := client.Auth(sasl.NewPlainClient("", p.username, p.password)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err := client.Mail(msg.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM rejected: %w", err)
	}
	for _, rcpt := range recipients {
		if err := client.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("RCPT TO %s rejected: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA rejected: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("message not accepted: %w", err)
	}

	if err := client.Quit(); err != nil {
		// The message is already accepted at this point.
		slog.Debug("SMTP QUIT failed", "addr", p.addr, "error", err)
	}

	slog.Debug("SMTP server accepted message",
		"addr", p.addr,
		"message_id", msg.MessageID,
		"size", len(raw),
	)
	return nil
}

// Name returns the provider name.
func (p *SMTPProvider) Name() string {
	return "smtp"
}
