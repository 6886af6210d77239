package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/mariia-platform/backupd/internal/alerting"
	"github.com/mariia-platform/backupd/internal/api"
	"github.com/mariia-platform/backupd/internal/backend"
	"github.com/mariia-platform/backupd/internal/config"
	"github.com/mariia-platform/backupd/internal/engine"
	"github.com/mariia-platform/backupd/internal/metrics"
	"github.com/mariia-platform/backupd/internal/state"
)

func main() {
	configPath := flag.String("config", config.GetEnvOrDefault("BACKUPD_CONFIG", "backupd.yaml"), "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Server.LogLevel)
	defer func() { _ = logger.Sync() }()

	store, err := newStore(cfg, logger)
	if err != nil {
		logger.Fatal("state store", zap.Error(err))
	}
	defer store.Close()

	backends, err := newBackends(cfg, logger)
	if err != nil {
		logger.Fatal("backends", zap.Error(err))
	}

	m := metrics.New()
	notifier := newNotifier(cfg, logger)

	manager, err := engine.NewManager(cfg, store, backends, notifier, m, logger)
	if err != nil {
		logger.Fatal("manager", zap.Error(err))
	}
	manager.Start()
	defer manager.Stop()

	server := api.NewServer(cfg, manager, m, logger)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(level string) *zap.Logger {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		lvl = zapcore.InfoLevel
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	logger, err := cfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	return logger
}

func newStore(cfg *config.Config, logger *zap.Logger) (state.Store, error) {
	switch cfg.State.Driver {
	case "postgres":
		return state.NewPostgresStore(state.PostgresConfig{
			Host:     cfg.State.Postgres.Host,
			Port:     cfg.State.Postgres.Port,
			Database: cfg.State.Postgres.Database,
			User:     cfg.State.Postgres.User,
			Password: cfg.State.Postgres.Password,
			SSLMode:  cfg.State.Postgres.SSLMode,
		}, cfg.InstanceID)
	case "file":
		return state.NewFileStore(cfg.State.Path, cfg.InstanceID, logger)
	default:
		return nil, fmt.Errorf("unknown state driver %q", cfg.State.Driver)
	}
}

func newBackends(cfg *config.Config, logger *zap.Logger) (map[string]backend.Backend, error) {
	backends := make(map[string]backend.Backend, len(cfg.Backends))
	for _, bc := range cfg.Backends {
		switch bc.Type {
		case "local":
			basePath := bc.Options["base_path"]
			if basePath == "" {
				return nil, fmt.Errorf("backend %s: base_path option is required", bc.ID)
			}
			if err := os.MkdirAll(basePath, 0750); err != nil {
				return nil, fmt.Errorf("backend %s: %w", bc.ID, err)
			}
			backends[bc.ID] = backend.NewLocalBackend(bc.ID, basePath, logger)

		case "s3":
			b, err := backend.NewS3Backend(backend.S3Options{
				Name:      bc.ID,
				Endpoint:  bc.Options["endpoint"],
				Region:    bc.Region,
				AccessKey: config.GetEnvOrDefault("BACKUPD_"+envKey(bc.ID)+"_ACCESS_KEY", bc.Options["access_key"]),
				SecretKey: config.GetEnvOrDefault("BACKUPD_"+envKey(bc.ID)+"_SECRET_KEY", bc.Options["secret_key"]),
				Bucket:    bc.LocationRef,
				Prefix:    bc.Options["prefix"],
				PathStyle: bc.Options["path_style"] == "true",
			}, logger)
			if err != nil {
				return nil, err
			}
			backends[bc.ID] = b

		default:
			return nil, fmt.Errorf("backend %s: unknown type %q", bc.ID, bc.Type)
		}
	}
	return backends, nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) alerting.Notifier {
	logNotifier := alerting.NewLogNotifier(logger)
	if cfg.Alerting.WebhookURL == "" {
		return logNotifier
	}

	webhook := alerting.NewWebhookNotifier(cfg.Alerting.WebhookURL, cfg.Alerting.Timeout, logger)
	retrying := &retryingNotifier{
		inner: webhook,
		policy: backend.NewRetryPolicy(
			backend.WithMaxAttempts(3),
			backend.WithInitialDelay(time.Second),
			backend.WithRetryLogger(logger),
		),
	}
	return alerting.NewMultiNotifier(retrying, logNotifier)
}

// retryingNotifier retries webhook delivery on transient failures.
type retryingNotifier struct {
	inner  alerting.Notifier
	policy *backend.RetryPolicy
}

func (n *retryingNotifier) Notify(ctx context.Context, alert alerting.Alert) error {
	return n.policy.Execute(ctx, func() error {
		return n.inner.Notify(ctx, alert)
	})
}

func envKey(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z':
			out = append(out, r-'a'+'A')
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
