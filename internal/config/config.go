// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the EPUB relay.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultSubject = "Kindle EPUB"
	defaultBody    = "Here is your EPUB for Kindle"
)

// Config holds the complete application configuration.
type Config struct {
	Provider string        `yaml:"provider"`
	HTTP     HTTPConfig    `yaml:"http"`
	Kindle   KindleConfig  `yaml:"kindle"`
	SMTP     SMTPConfig    `yaml:"smtp"`
	Mail     MailConfig    `yaml:"mail"`
	Fetch    FetchConfig   `yaml:"fetch"`
	SES      SESConfig     `yaml:"ses"`
	Graph    GraphConfig   `yaml:"graph"`
	TLS      TLSConfig     `yaml:"tls"`
	Logging  LoggingConfig `yaml:"logging"`
}

// HTTPConfig holds the relay's HTTP listener configuration.
type HTTPConfig struct {
	Listen string `yaml:"listen"`
	Path   string `yaml:"path"`
}

// KindleConfig holds the destination mailbox.
type KindleConfig struct {
	Email string `yaml:"email"`
}

// SMTPConfig holds the outbound submission server and its credentials.
// Username doubles as the sender address.
type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MailConfig holds the fixed texts of every outbound message.
type MailConfig struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// FetchConfig holds remote download settings. A zero Timeout means none.
type FetchConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// SESConfig holds AWS SES configuration.
type SESConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	Sender          string `yaml:"sender"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	Sender       string `yaml:"sender"`
}

// TLSConfig controls the optional HTTPS listener.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	if err := cfg.applyEnvVars(); err != nil {
		return nil, err
	}

	cfg.Provider = strings.ToLower(cfg.Provider)
	return cfg, nil
}

// SMTPAddr returns the host:port of the submission server.
func (c *Config) SMTPAddr() string {
	return fmt.Sprintf("%s:%d", c.SMTP.Host, c.SMTP.Port)
}

// Sender returns the From address of outbound messages for the selected provider.
func (c *Config) Sender() string {
	switch c.Provider {
	case "ses":
		return c.SES.Sender
	case "graph":
		return c.Graph.Sender
	default:
		return c.SMTP.Username
	}
}

// SESConfigured returns true if the SES region and sender are set.
// Static credentials are optional; the default AWS chain is used otherwise.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.Provider = "smtp"
	c.HTTP.Listen = ":8080"
	c.HTTP.Path = "/api/sendUrl"
	c.SMTP.Host = "smtp.gmail.com"
	c.SMTP.Port = 465
	c.Mail.Subject = defaultSubject
	c.Mail.Body = defaultBody
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() error {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	if v := os.Getenv("PORT"); v != "" {
		c.HTTP.Listen = ":" + v
	}
	if v := os.Getenv("HTTP_LISTEN"); v != "" {
		c.HTTP.Listen = v
	}
	if v := os.Getenv("RELAY_PATH"); v != "" {
		c.HTTP.Path = v
	}

	if v := os.Getenv("KINDLE_EMAIL"); v != "" {
		c.Kindle.Email = v
	}
	if v := os.Getenv("GMAIL_USER"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("GMAIL_APP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_HOST"); v != "" {
		c.SMTP.Host = v
	}
	if v := os.Getenv("SMTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SMTP_PORT %q: %w", v, err)
		}
		c.SMTP.Port = port
	}

	if v := os.Getenv("MAIL_SUBJECT"); v != "" {
		c.Mail.Subject = v
	}
	if v := os.Getenv("MAIL_BODY"); v != "" {
		c.Mail.Body = v
	}

	if v := os.Getenv("FETCH_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid FETCH_TIMEOUT %q: %w", v, err)
		}
		c.Fetch.Timeout = d
	}

	if v := os.Getenv("SES_REGION"); v != "" {
		c.SES.Region = v
	}
	if v := os.Getenv("SES_ACCESS_KEY_ID"); v != "" {
		c.SES.AccessKeyID = v
	}
	if v := os.Getenv("SES_SECRET_ACCESS_KEY"); v != "" {
		c.SES.SecretAccessKey = v
	}
	if v := os.Getenv("SES_SENDER"); v != "" {
		c.SES.Sender = v
	}

	if v := os.Getenv("GRAPH_TENANT_ID"); v != "" {
		c.Graph.TenantID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_ID"); v != "" {
		c.Graph.ClientID = v
	}
	if v := os.Getenv("GRAPH_CLIENT_SECRET"); v != "" {
		c.Graph.ClientSecret = v
	}
	if v := os.Getenv("GRAPH_SENDER"); v != "" {
		c.Graph.Sender = v
	}

	if v := os.Getenv("TLS_ENABLED"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid TLS_ENABLED %q: %w", v, err)
		}
		c.TLS.Enabled = enabled
	}
	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}

	return nil
}
