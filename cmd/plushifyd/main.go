package main

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/plushify/plushify/internal/admin"
	"github.com/plushify/plushify/internal/blob"
	"github.com/plushify/plushify/internal/httpserver"
	"github.com/plushify/plushify/internal/metrics"
	"github.com/plushify/plushify/internal/store/gormstore"
	"github.com/plushify/plushify/internal/transform"
	"github.com/plushify/plushify/internal/webhook"
	"github.com/plushify/plushify/pkg/credit"
	"github.com/plushify/plushify/pkg/generation"
)

const (
	flagDatabaseURL      = "database-url"
	flagListenAddr       = "listen-addr"
	flagWebhookSecret    = "webhook-secret"
	flagSessionSecret    = "session-secret"
	flagOpenRouterKey    = "openrouter-api-key"
	flagOpenRouterURL    = "openrouter-base-url"
	flagOpenRouterModel  = "openrouter-model"
	flagBlobDir          = "blob-dir"
	flagBlobBaseURL      = "blob-base-url"
	flagWorkers          = "workers"
	flagAllowedOrigins   = "allowed-origins"
	configDatabaseURL    = "database_url"
	configListenAddr     = "listen_addr"
	configWebhookSecret  = "webhook_secret"
	configSessionSecret  = "session_secret"
	configOpenRouterKey  = "openrouter_api_key"
	configOpenRouterURL  = "openrouter_base_url"
	configOpenRouterMdl  = "openrouter_model"
	configBlobDir        = "blob_dir"
	configBlobBaseURL    = "blob_base_url"
	configWorkers        = "workers"
	configAllowedOrigins = "allowed_origins"

	defaultDatabaseURL = "sqlite:///tmp/plushify.db"
	defaultListenAddr  = ":8080"
	defaultBlobDir     = "/tmp/plushify-blobs"
	defaultBlobBaseURL = "http://localhost:8080/blobs"
	defaultWorkers     = 4
	reconcileInterval  = time.Minute
)

type runtimeConfig struct {
	DatabaseURL     string
	ListenAddr      string
	WebhookSecret   string
	SessionSecret   string
	OpenRouterKey   string
	OpenRouterURL   string
	OpenRouterModel string
	BlobDir         string
	BlobBaseURL     string
	Workers         int
	AllowedOrigins  []string
}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "plushifyd: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "plushifyd",
		Short:         "Plushify credit ledger and generation server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}

	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite path)")
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagWebhookSecret, "", "payment webhook HMAC secret")
	cmd.Flags().String(flagSessionSecret, "", "session token signing secret")
	cmd.Flags().String(flagOpenRouterKey, "", "OpenRouter API key")
	cmd.Flags().String(flagOpenRouterURL, transform.DefaultBaseURL, "OpenRouter API base URL")
	cmd.Flags().String(flagOpenRouterModel, transform.DefaultModel, "OpenRouter image model")
	cmd.Flags().String(flagBlobDir, defaultBlobDir, "blob storage root directory")
	cmd.Flags().String(flagBlobBaseURL, defaultBlobBaseURL, "public base URL for stored blobs")
	cmd.Flags().Int(flagWorkers, defaultWorkers, "generation worker count")
	cmd.Flags().StringSlice(flagAllowedOrigins, nil, "CORS allowed origins")

	return cmd
}

func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	envBindings := map[string]string{
		configDatabaseURL:    "DATABASE_URL",
		configListenAddr:     "LISTEN_ADDR",
		configWebhookSecret:  "WEBHOOK_SECRET",
		configSessionSecret:  "SESSION_SECRET",
		configOpenRouterKey:  "OPENROUTER_API_KEY",
		configOpenRouterURL:  "OPENROUTER_BASE_URL",
		configOpenRouterMdl:  "OPENROUTER_MODEL",
		configBlobDir:        "BLOB_DIR",
		configBlobBaseURL:    "BLOB_BASE_URL",
		configWorkers:        "WORKERS",
		configAllowedOrigins: "ALLOWED_ORIGINS",
	}
	for key, envName := range envBindings {
		if err := viper.BindEnv(key, envName); err != nil {
			return err
		}
	}

	flagBindings := map[string]string{
		configDatabaseURL:    flagDatabaseURL,
		configListenAddr:     flagListenAddr,
		configWebhookSecret:  flagWebhookSecret,
		configSessionSecret:  flagSessionSecret,
		configOpenRouterKey:  flagOpenRouterKey,
		configOpenRouterURL:  flagOpenRouterURL,
		configOpenRouterMdl:  flagOpenRouterModel,
		configBlobDir:        flagBlobDir,
		configBlobBaseURL:    flagBlobBaseURL,
		configWorkers:        flagWorkers,
		configAllowedOrigins: flagAllowedOrigins,
	}
	for key, flagName := range flagBindings {
		if err := viper.BindPFlag(key, cmd.Flags().Lookup(flagName)); err != nil {
			return err
		}
	}

	cfg.DatabaseURL = viper.GetString(configDatabaseURL)
	cfg.ListenAddr = viper.GetString(configListenAddr)
	cfg.WebhookSecret = viper.GetString(configWebhookSecret)
	cfg.SessionSecret = viper.GetString(configSessionSecret)
	cfg.OpenRouterKey = viper.GetString(configOpenRouterKey)
	cfg.OpenRouterURL = viper.GetString(configOpenRouterURL)
	cfg.OpenRouterModel = viper.GetString(configOpenRouterMdl)
	cfg.BlobDir = viper.GetString(configBlobDir)
	cfg.BlobBaseURL = viper.GetString(configBlobBaseURL)
	cfg.Workers = viper.GetInt(configWorkers)
	cfg.AllowedOrigins = viper.GetStringSlice(configAllowedOrigins)

	if cfg.DatabaseURL == "" {
		return fmt.Errorf("database url is required")
	}
	if cfg.SessionSecret == "" {
		return fmt.Errorf("session secret is required")
	}
	if cfg.OpenRouterKey == "" {
		return fmt.Errorf("openrouter api key is required")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaultWorkers
	}
	return nil
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	gormDB, cleanup, driver, err := openDatabase(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()

	if err := prepareSchema(gormDB, driver); err != nil {
		return err
	}

	store := gormstore.New(gormDB)
	clock := func() int64 { return time.Now().UTC().Unix() }

	ledger, err := credit.NewService(store, clock, credit.WithOperationLogger(metrics.LedgerObserver{}))
	if err != nil {
		return fmt.Errorf("credit service init: %w", err)
	}
	blobs, err := blob.NewFSStore(cfg.BlobDir, cfg.BlobBaseURL)
	if err != nil {
		return fmt.Errorf("blob store init: %w", err)
	}
	transformer, err := transform.NewClient(transform.Config{
		APIKey:  cfg.OpenRouterKey,
		BaseURL: cfg.OpenRouterURL,
		Model:   cfg.OpenRouterModel,
	}, logger)
	if err != nil {
		return fmt.Errorf("transform client init: %w", err)
	}
	manager, err := generation.NewManager(store, ledger, blobs, transformer, logger, clock,
		generation.WithOutcomeObserver(metrics.ObserveGenerationOutcome))
	if err != nil {
		return fmt.Errorf("generation manager init: %w", err)
	}
	admins, err := admin.NewService(store, ledger, logger)
	if err != nil {
		return fmt.Errorf("admin service init: %w", err)
	}
	webhookHandler := webhook.NewHandler(cfg.WebhookSecret, webhook.DefaultPlans(), ledger, logger, metrics.ObserveWebhookEvent)

	server, err := httpserver.New(httpserver.Config{
		ListenAddr:     cfg.ListenAddr,
		AllowedOrigins: cfg.AllowedOrigins,
		SessionSecret:  cfg.SessionSecret,
		WebhookSecret:  cfg.WebhookSecret,
	}, logger, httpserver.Dependencies{
		Accounts:    store,
		Ledger:      ledger,
		Generations: manager,
		Admins:      admins,
		Webhook:     webhookHandler,
	})
	if err != nil {
		return fmt.Errorf("http server init: %w", err)
	}

	manager.Run(ctx, cfg.Workers)
	manager.RunReconciler(ctx, reconcileInterval)

	logger.Info("plushifyd starting",
		zap.String("listen_addr", cfg.ListenAddr),
		zap.String("driver", driver),
		zap.Int("workers", cfg.Workers))
	return server.Run(ctx)
}

func openDatabase(ctx context.Context, dsn string) (*gorm.DB, func() error, string, error) {
	driver, sqlitePath, err := resolveDriver(dsn)
	if err != nil {
		return nil, nil, "", err
	}

	var db *gorm.DB
	gormConfig := &gorm.Config{}
	switch driver {
	case "postgres":
		db, err = gorm.Open(postgres.Open(dsn), gormConfig)
	case "sqlite":
		db, err = gorm.Open(sqlite.Open(sqlitePath), gormConfig)
	default:
		return nil, nil, "", fmt.Errorf("unsupported database scheme %q", driver)
	}
	if err != nil {
		return nil, nil, "", err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, nil, "", err
	}
	cleanup := func() error { return sqlDB.Close() }
	return db.WithContext(ctx), cleanup, driver, nil
}

func resolveDriver(dsn string) (string, string, error) {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return "postgres", "", nil
	}
	if strings.HasPrefix(dsn, "sqlite://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return "", "", fmt.Errorf("parse sqlite url: %w", err)
		}
		path := u.Path
		if path == "" {
			path = u.Host
		}
		if path == "" || path == "/" {
			path = "plushify.db"
		}
		sqlitePath, err := normalizeSQLitePath(path)
		return "sqlite", sqlitePath, err
	}
	// Treat everything else as a direct sqlite path.
	sqlitePath, err := normalizeSQLitePath(dsn)
	return "sqlite", sqlitePath, err
}

func normalizeSQLitePath(path string) (string, error) {
	if path == ":memory:" {
		return path, nil
	}
	if strings.HasPrefix(path, "/") {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return "", err
		}
		return path, nil
	}
	abs := filepath.Join(".", path)
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return "", err
	}
	return abs, nil
}

func prepareSchema(db *gorm.DB, driver string) error {
	if driver != "sqlite" {
		return nil
	}
	if err := db.AutoMigrate(gormstore.Models()...); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}
