package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-rules/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-rules/pkg/catalog"
	"github.com/ekaya-inc/ekaya-rules/pkg/config"
	"github.com/ekaya-inc/ekaya-rules/pkg/database"
	"github.com/ekaya-inc/ekaya-rules/pkg/handlers"
	"github.com/ekaya-inc/ekaya-rules/pkg/index"
	"github.com/ekaya-inc/ekaya-rules/pkg/lock"
	"github.com/ekaya-inc/ekaya-rules/pkg/logging"
	"github.com/ekaya-inc/ekaya-rules/pkg/repositories"
	"github.com/ekaya-inc/ekaya-rules/pkg/services"
)

const lockKeyPrefix = "ekaya-rules:lock:"

// app holds the process-wide dependencies shared by every command.
type app struct {
	cfg    *config.Config
	logger *zap.Logger
	db     *database.DB
	redis  *redis.Client
	index  *index.BadgerIndex

	indexSync    services.RuleIndexSynchronizer
	registration services.RuleRegistrationService
	debt         services.RuleDebtService
	tags         services.TagService
}

func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); err == nil {
		return config.LoadFile(configPath, Version)
	}
	return config.LoadEnv(Version)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	a := &app{cfg: cfg, logger: logger}

	logger.Info("Configuration loaded",
		zap.String("version", cfg.Version),
		zap.String("env", cfg.Env),
		zap.String("database", logging.SanitizeConnectionString(cfg.Database.URL())),
		zap.String("index_path", cfg.Index.Path),
		zap.Bool("index_in_memory", cfg.Index.InMemory),
		zap.String("catalog_dir", cfg.Registration.CatalogDir))

	a.db, err = database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.URL(),
		MaxConnections: cfg.Database.MaxConnections,
		Logger:         logger.Named("database"),
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to connect to database: %s", logging.SanitizeError(err))
	}

	a.redis, err = database.NewRedisClient(ctx, &cfg.Redis)
	if err != nil {
		a.close()
		return nil, errors.New(logging.SanitizeError(err))
	}

	idxCfg := index.DefaultConfig(cfg.Index.Path)
	idxCfg.InMemory = cfg.Index.InMemory
	idxCfg.SyncWrites = cfg.Index.SyncWrites
	idxCfg.GCInterval = cfg.Index.GCInterval()
	idxCfg.Logger = logger
	a.index, err = index.Open(idxCfg)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to open rule index: %w", err)
	}

	a.wireServices()
	return a, nil
}

func (a *app) wireServices() {
	scope := services.NewScopeFunc(a.db)
	tx := services.NewTxFunc(a.db)
	clock := services.NewSystemClock()

	ruleRepo := repositories.NewRuleRepository()
	charRepo := repositories.NewCharacteristicRepository()
	activeRuleRepo := repositories.NewActiveRuleRepository()
	tagRepo := repositories.NewTagRepository()

	a.indexSync = services.NewRuleIndexSynchronizer(scope, ruleRepo, charRepo, activeRuleRepo, tagRepo,
		a.index, a.cfg.Index.BatchSize, a.logger)
	cascade := services.NewActiveRuleCascade(tx, ruleRepo, activeRuleRepo, a.indexSync, a.logger)
	a.tags = services.NewTagService(scope, tx, tagRepo, a.index, a.logger)
	a.debt = services.NewRuleDebtService(scope, tx, ruleRepo, charRepo, a.indexSync, clock, a.logger)

	var locker services.RunLocker
	if a.redis != nil {
		locker = lock.NewRedisLocker(a.redis, lockKeyPrefix, a.cfg.Registration.LockTTL())
	} else {
		a.logger.Info("Redis not configured, registration runs are serialized in-process only")
		locker = lock.NewLocalLocker()
	}

	a.registration = services.NewRuleRegistrationService(&services.RuleRegistrationServiceDeps{
		Provider:        catalog.NewYAMLProvider(a.cfg.Registration.CatalogDir, a.logger),
		Scope:           scope,
		Tx:              tx,
		RuleRepo:        ruleRepo,
		CharRepo:        charRepo,
		Cascade:         cascade,
		IndexSync:       a.indexSync,
		Tags:            a.tags,
		Locker:          locker,
		Clock:           clock,
		CommitBatchSize: a.cfg.Registration.CommitBatchSize,
		Logger:          a.logger,
	})
}

func (a *app) close() {
	if a.index != nil {
		if err := a.index.Close(); err != nil {
			a.logger.Error("Failed to close rule index", zap.Error(err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("Failed to close Redis client", zap.Error(err))
		}
	}
	if a.db != nil {
		a.db.Close()
	}
	_ = a.logger.Sync()
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	if a.cfg.Registration.RunOnStartup {
		_, err := a.registration.Register(ctx)
		switch {
		case errors.Is(err, apperrors.ErrRunInProgress):
			a.logger.Info("Another instance is registering rules, skipping startup registration")
		case err != nil:
			return fmt.Errorf("startup registration failed: %w", err)
		}
	} else if _, err := a.indexSync.EnsureIndex(ctx); err != nil {
		// The API still serves; POST /api/index/rebuild recovers.
		a.logger.Warn("Failed to verify rule index", zap.Error(err))
	}

	mux := http.NewServeMux()
	handlers.NewHealthHandler(a.cfg, a.logger).RegisterRoutes(mux)
	handlers.NewRulesHandler(a.registration, a.indexSync, a.debt, a.tags, a.logger).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              net.JoinHostPort(a.cfg.BindAddr, a.cfg.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		a.logger.Info("Starting ekaya-rules",
			zap.String("addr", server.Addr),
			zap.String("version", a.cfg.Version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}

	a.logger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

func runRegister(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.registration.Register(ctx)
	if err != nil {
		return err
	}
	if result.IndexStale {
		a.logger.Warn("Registration committed but the index is stale; run `ekaya-rules reindex`")
	}
	return nil
}

func runReindex(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.close()

	result, err := a.indexSync.Rebuild(ctx)
	if err != nil {
		return err
	}
	a.logger.Info("Rule index rebuilt",
		zap.Int("rules", result.Rules),
		zap.Int("active_rules", result.ActiveRules),
		zap.Int("tags", result.Tags),
		zap.Duration("duration", result.Duration))
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := database.OpenSQL(cfg.Database.URL())
	if err != nil {
		return errors.New(logging.SanitizeError(err))
	}
	defer db.Close()

	return database.RunMigrations(db, cfg.Database.MigrationsPath, logger)
}
