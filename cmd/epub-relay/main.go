// Package main is the entry point for the EPUB relay server.
package main

import (
	"context"
	"crypto/tls"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/shineum/epub-relay/internal/config"
	"github.com/shineum/epub-relay/internal/fetch"
	"github.com/shineum/epub-relay/internal/httpapi"
	"github.com/shineum/epub-relay/internal/provider"
	"github.com/shineum/epub-relay/internal/provider/graph"
	"github.com/shineum/epub-relay/internal/provider/ses"
	"github.com/shineum/epub-relay/internal/provider/smtp"
	"github.com/shineum/epub-relay/internal/provider/stdout"
	"github.com/shineum/epub-relay/internal/relay"
	relaytls "github.com/shineum/epub-relay/internal/tls"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	setupLogger(cfg.Logging.Level)

	prov := selectProvider(cfg)

	handler, err := relay.New(relay.Config{
		Recipient: cfg.Kindle.Email,
		Sender:    cfg.Sender(),
		Subject:   cfg.Mail.Subject,
		Body:      cfg.Mail.Body,
	}, fetch.New(&http.Client{Timeout: cfg.Fetch.Timeout}), prov)
	if err != nil {
		slog.Error("failed to create relay handler", "error", err)
		os.Exit(1)
	}

	// TLS is optional for the HTTP listener
	var tlsConfig *tls.Config
	tlsMode := "off"
	if cfg.TLS.Enabled {
		tlsConfig, err = relaytls.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile)
		if err != nil {
			slog.Error("failed to setup TLS", "error", err)
			os.Exit(1)
		}
		tlsMode = "self-signed"
		if cfg.TLS.CertFile != "" && cfg.TLS.KeyFile != "" {
			tlsMode = "file"
		}
	}

	server := httpapi.New(httpapi.ServerConfig{
		ListenAddr: cfg.HTTP.Listen,
		RelayPath:  cfg.HTTP.Path,
		Relay:      handler,
		TLSConfig:  tlsConfig,
	})

	// Missing mail settings are reported, not fatal; each request fails instead.
	if cfg.Kindle.Email == "" || cfg.Sender() == "" {
		slog.Warn("recipient or sender not configured, sends will fail",
			"recipient_set", cfg.Kindle.Email != "",
			"sender_set", cfg.Sender() != "",
		)
	}

	slog.Info("starting epub-relay",
		"listen", cfg.HTTP.Listen,
		"path", cfg.HTTP.Path,
		"provider", prov.Name(),
		"fetch_timeout", cfg.Fetch.Timeout.String(),
		"tls_mode", tlsMode,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Blocks until a signal cancels the context
	if err := server.ListenAndServe(ctx); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("epub-relay stopped")
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

// setupLogger configures the global slog logger with JSON output and the
// specified log level.
func setupLogger(level string) {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})
	slog.SetDefault(slog.New(handler))
}

// selectProvider chooses the mail submission backend. Misconfiguration of
// an explicitly selected SES or Graph provider is fatal.
func selectProvider(cfg *config.Config) provider.Provider {
	switch cfg.Provider {
	case "smtp", "":
		slog.Info("using SMTP provider",
			"addr", cfg.SMTPAddr(),
			"username", cfg.SMTP.Username,
		)
		p, err := smtp.New(smtp.SMTPProviderConfig{
			Addr:     cfg.SMTPAddr(),
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
		})
		if err != nil {
			slog.Error("failed to create SMTP provider", "error", err)
			os.Exit(1)
		}
		return p

	case "ses":
		if !cfg.SESConfigured() {
			slog.Error("SES provider selected but SES_REGION and SES_SENDER are required")
			os.Exit(1)
		}
		slog.Info("using AWS SES provider",
			"region", cfg.SES.Region,
			"sender", cfg.SES.Sender,
		)
		p, err := ses.New(context.Background(), ses.SESProviderConfig{
			Region:          cfg.SES.Region,
			AccessKeyID:     cfg.SES.AccessKeyID,
			SecretAccessKey: cfg.SES.SecretAccessKey,
			Sender:          cfg.SES.Sender,
		})
		if err != nil {
			slog.Error("failed to create SES provider", "error", err)
			os.Exit(1)
		}
		return p

	case "graph":
		if !cfg.GraphConfigured() {
			slog.Error("Graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET, and GRAPH_SENDER are required")
			os.Exit(1)
		}
		slog.Info("using Microsoft Graph provider",
			"sender", cfg.Graph.Sender,
		)
		return graph.New(graph.GraphProviderConfig{
			TenantID:     cfg.Graph.TenantID,
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			Sender:       cfg.Graph.Sender,
		})

	case "stdout":
		slog.Info("using stdout provider")
		return stdout.New()

	default:
		slog.Error("unknown provider", "provider", cfg.Provider)
		os.Exit(1)
		return nil
	}
}
