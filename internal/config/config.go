// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the gateway process.
//
// Bootstrap configuration covers process-level knobs only: listen address,
// AWS clients, store/table/bucket names, intervals, TLS files, logging.
// Routing configuration (domains, forwarding rules, catch-all policies)
// lives in the settings store and is hot-reloadable at runtime.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Config holds the complete bootstrap configuration.
type Config struct {
	SMTP     SMTPConfig     `yaml:"smtp"`
	AWS      AWSConfig      `yaml:"aws"`
	Settings SettingsConfig `yaml:"settings"`
	Archive  ArchiveConfig  `yaml:"archive"`
	Audit    AuditConfig    `yaml:"audit"`
	Relay    RelayConfig    `yaml:"relay"`
	TLS      TLSConfig      `yaml:"tls"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// SMTPConfig holds SMTP listener configuration.
type SMTPConfig struct {
	Listen         string `yaml:"listen"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// AWSConfig holds shared AWS client configuration. Static credentials are
// optional; when absent the default credential chain is used.
type AWSConfig struct {
	Region          string `yaml:"region"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// SettingsConfig holds settings-store and reload-supervisor configuration.
type SettingsConfig struct {
	Table                  string `yaml:"table"`
	RefreshIntervalSeconds int    `yaml:"refresh_interval_seconds"`
	PollIntervalSeconds    int    `yaml:"poll_interval_seconds"`
	RestartBackoffSeconds  int    `yaml:"restart_backoff_seconds"`
}

// ArchiveConfig holds message archive configuration.
type ArchiveConfig struct {
	Bucket string `yaml:"bucket"`
}

// AuditConfig holds audit log configuration. An empty table name routes
// audit entries to the process log instead of the store.
type AuditConfig struct {
	Table string `yaml:"table"`
}

// RelayConfig selects the outbound relay backend.
// Valid values: "sendgrid", "ses", "stdout", or empty for auto-detection.
type RelayConfig struct {
	Backend   string `yaml:"backend"`
	SESRegion string `yaml:"ses_region"`
}

// TLSConfig holds TLS certificate file paths.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// MetricsConfig holds the Prometheus metrics listener configuration.
// An empty listen address disables the metrics endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
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
	cfg.applyEnvVars()
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
	cfg.applyEnvVars()

	return cfg, nil
}

// AuthEnabled returns true if both SMTP username and password are set.
func (c *Config) AuthEnabled() bool {
	return c.SMTP.Username != "" && c.SMTP.Password != ""
}

// RefreshInterval returns the settings cache refresh interval.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Settings.RefreshIntervalSeconds) * time.Second
}

// PollInterval returns the restart-signal poll interval.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Settings.PollIntervalSeconds) * time.Second
}

// RestartBackoff returns the crash-recovery backoff applied before the
// supervisor re-enters its start cycle after an unexpected failure.
func (c *Config) RestartBackoff() time.Duration {
	return time.Duration(c.Settings.RestartBackoffSeconds) * time.Second
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Listen = ":2525"
	c.SMTP.MaxMessageSize = defaultMaxMessageSize
	c.AWS.Region = "us-east-1"
	c.Settings.Table = "SMTPSettings"
	c.Settings.RefreshIntervalSeconds = 60
	c.Settings.PollIntervalSeconds = 5
	c.Settings.RestartBackoffSeconds = 5
	c.Archive.Bucket = "email-messages"
	c.Audit.Table = "serverlogs"
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("SMTP_LISTEN"); v != "" {
		c.SMTP.Listen = v
	}
	if v := os.Getenv("SMTP_USERNAME"); v != "" {
		c.SMTP.Username = v
	}
	if v := os.Getenv("SMTP_PASSWORD"); v != "" {
		c.SMTP.Password = v
	}
	if v := os.Getenv("SMTP_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.SMTP.MaxMessageSize = size
		}
	}

	if v := os.Getenv("AWS_REGION"); v != "" {
		c.AWS.Region = v
	}
	if v := os.Getenv("AWS_ACCESS_KEY_ID"); v != "" {
		c.AWS.AccessKeyID = v
	}
	if v := os.Getenv("AWS_SECRET_ACCESS_KEY"); v != "" {
		c.AWS.SecretAccessKey = v
	}

	if v := os.Getenv("SETTINGS_TABLE"); v != "" {
		c.Settings.Table = v
	}
	if v := os.Getenv("SETTINGS_REFRESH_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Settings.RefreshIntervalSeconds = n
		}
	}
	if v := os.Getenv("SETTINGS_POLL_INTERVAL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Settings.PollIntervalSeconds = n
		}
	}
	if v := os.Getenv("RESTART_BACKOFF"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Settings.RestartBackoffSeconds = n
		}
	}

	if v := os.Getenv("ARCHIVE_BUCKET"); v != "" {
		c.Archive.Bucket = v
	}
	if v := os.Getenv("AUDIT_TABLE"); v != "" {
		c.Audit.Table = v
	}

	if v := os.Getenv("RELAY_BACKEND"); v != "" {
		c.Relay.Backend = strings.ToLower(v)
	}
	if v := os.Getenv("RELAY_SES_REGION"); v != "" {
		c.Relay.SESRegion = v
	}

	if v := os.Getenv("TLS_CERT_FILE"); v != "" {
		c.TLS.CertFile = v
	}
	if v := os.Getenv("TLS_KEY_FILE"); v != "" {
		c.TLS.KeyFile = v
	}

	if v := os.Getenv("METRICS_LISTEN"); v != "" {
		c.Metrics.Listen = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
}
