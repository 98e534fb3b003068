// Package main is the entry point for the mailfold inbound email gateway.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mailfold/mailfold/internal/archive"
	"github.com/mailfold/mailfold/internal/audit"
	"github.com/mailfold/mailfold/internal/checks"
	"github.com/mailfold/mailfold/internal/config"
	"github.com/mailfold/mailfold/internal/dispatch"
	"github.com/mailfold/mailfold/internal/relay"
	"github.com/mailfold/mailfold/internal/settings"
	"github.com/mailfold/mailfold/internal/smtp"
	"github.com/mailfold/mailfold/internal/supervisor"
	"github.com/mailfold/mailfold/internal/tlsutil"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file (optional)")
	flag.Parse()

	// Load bootstrap configuration
	cfg, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging
	setupLogger(cfg.Logging.Level)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		sig := <-sigCh
		slog.Info("received signal, initiating shutdown", "signal", sig)
		cancel()
	}()

	// Shared AWS configuration for all store clients
	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		slog.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	dynamoClient := dynamodb.NewFromConfig(awsCfg)
	s3Client := s3.NewFromConfig(awsCfg)

	// Audit sink: store-backed when a table is configured, process log otherwise
	var sink audit.Sink
	if cfg.Audit.Table != "" {
		sink = audit.NewDynamoSink(dynamoClient, cfg.Audit.Table)
	} else {
		sink = audit.NewSlogSink()
	}

	store := settings.NewDynamoStore(dynamoClient, cfg.Settings.Table)
	cache := settings.NewCache(store, sink, cfg.RefreshInterval())

	arc := archive.NewS3Archive(s3Client, cfg.Archive.Bucket, cfg.AWS.Region)
	if err := arc.EnsureContainerExists(ctx); err != nil {
		// Fail-open: archive writes will fail per recipient until resolved.
		slog.Error("failed to ensure archive bucket exists", "error", err)
		sink.Record(audit.LevelError, "Failed to ensure archive bucket exists", err, "main")
	}

	rel := selectRelay(ctx, cfg, awsCfg, cache)
	dispatcher := dispatch.New(arc, rel, sink)

	// Load or generate TLS certificates for the configured hostname
	tlsConfig, err := tlsutil.LoadOrGenerateTLS(cfg.TLS.CertFile, cfg.TLS.KeyFile, cache.Get(ctx).ServerName)
	if err != nil {
		slog.Error("failed to setup TLS", "error", err)
		os.Exit(1)
	}

	checkRunner := checks.NewRunner()

	factory := func(snapshot *settings.ServerSettings) supervisor.Listener {
		return smtp.New(smtp.ServerConfig{
			ListenAddr:     cfg.SMTP.Listen,
			Hostname:       snapshot.ServerName,
			Dispatcher:     dispatcher,
			Settings:       cache,
			Checks:         checkRunner,
			TLSConfig:      tlsConfig,
			AuthUsername:   cfg.SMTP.Username,
			AuthPassword:   cfg.SMTP.Password,
			MaxMessageSize: cfg.SMTP.MaxMessageSize,
		})
	}

	if cfg.Metrics.Listen != "" {
		go serveMetrics(cfg.Metrics.Listen)
	}

	slog.Info("starting mailfold",
		"listen", cfg.SMTP.Listen,
		"relay", rel.Name(),
		"auth_enabled", cfg.AuthEnabled(),
		"settings_table", cfg.Settings.Table,
		"archive_bucket", cfg.Archive.Bucket,
	)

	sup := supervisor.New(cache, sink, factory, cfg.PollInterval(), cfg.RestartBackoff())

	// Blocks until the context is cancelled
	if err := sup.Run(ctx); err != nil {
		slog.Error("supervisor error", "error", err)
		os.Exit(1)
	}

	slog.Info("mailfold stopped")
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
	case "info":
		logLevel = slog.LevelInfo
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

// loadAWSConfig builds the shared AWS client configuration. Static
// credentials from the bootstrap config take precedence over the default
// credential chain.
func loadAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.AWS.Region))

	if cfg.AWS.AccessKeyID != "" && cfg.AWS.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWS.AccessKeyID, cfg.AWS.SecretAccessKey, ""),
		))
	}

	return awsconfig.LoadDefaultConfig(ctx, opts...)
}

// selectRelay chooses the outbound delivery backend based on configuration.
// With no explicit backend, SendGrid is used when the settings store has an
// API key, otherwise stdout.
func selectRelay(ctx context.Context, cfg *config.Config, awsCfg aws.Config, cache *settings.Cache) relay.Relay {
	sendGridKey := func() string {
		return cache.Get(context.Background()).SendGridApiKey
	}

	switch cfg.Relay.Backend {
	case "sendgrid":
		slog.Info("using SendGrid relay")
		return relay.NewSendGrid(nil, sendGridKey)

	case "ses":
		slog.Info("using AWS SES relay", "region", sesRegion(cfg))
		client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
			if cfg.Relay.SESRegion != "" {
				o.Region = cfg.Relay.SESRegion
			}
		})
		return relay.NewSES(client)

	case "stdout":
		slog.Info("using stdout relay")
		return relay.NewStdout()

	case "":
		// Auto-detection: a configured SendGrid key selects SendGrid.
		if cache.Get(ctx).SendGridApiKey != "" {
			slog.Info("using SendGrid relay (auto-detected)")
			return relay.NewSendGrid(nil, sendGridKey)
		}
		slog.Info("no relay configured, using stdout relay")
		return relay.NewStdout()

	default:
		slog.Error("unknown relay backend", "backend", cfg.Relay.Backend)
		os.Exit(1)
		return nil
	}
}

// sesRegion returns the effective SES region.
func sesRegion(cfg *config.Config) string {
	if cfg.Relay.SESRegion != "" {
		return cfg.Relay.SESRegion
	}
	return cfg.AWS.Region
}

// serveMetrics exposes the Prometheus endpoint.
func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	slog.Info("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("metrics server error", "error", err)
	}
}
