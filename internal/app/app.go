// Package app wires configuration, logging, storage and the core services shared by the
// HTTP server and the admin CLI.
package app

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"studyhub/internal/auth"
	"studyhub/internal/config"
	"studyhub/internal/logging"
	"studyhub/internal/objectstore"
	"studyhub/internal/redis"
	"studyhub/internal/service/account"
	"studyhub/internal/service/attachment"
	"studyhub/internal/service/persona"
	"studyhub/internal/storage"
)

// App holds the long-lived dependencies of a process.
type App struct {
	Config      *config.Config
	Logger      *zap.Logger
	DB          *sqlx.DB
	Cache       *redis.Client
	Accounts    *account.Service
	Auth        *auth.Service
	Personas    *persona.Service
	Store       objectstore.Store
	Attachments *attachment.Service
}

// Bootstrap loads the config at cfgPath and opens everything the services need. The
// database schema is migrated on every start.
func Bootstrap(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.BasicConfig.LogLevel, cfg.BasicConfig.LogFormat)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Logger: logger}
	if err := a.open(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) open(ctx context.Context) error {
	cfg := a.Config
	dbType := cfg.BasicConfig.Database
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	a.DB = db
	if err := storage.Migrate(db); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}
	a.Logger.Info("database ready", zap.String("driver", db.DriverName()))

	if cfg.Redis.Enabled {
		cache, err := redis.NewClient(ctx, cfg.Redis)
		if err != nil {
			return fmt.Errorf("create redis client: %w", err)
		}
		a.Cache = cache
	}

	store, err := objectstore.New(ctx, cfg.ObjectStore, cfg.BasicConfig.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("open object store: %w", err)
	}
	a.Store = store

	a.Accounts = account.NewService(db)
	a.Auth = auth.NewService(db, a.Cache, a.Accounts, a.Logger.Named("auth"), auth.Options{
		SessionTTL:   cfg.Auth.SessionTTL,
		MagicLinkTTL: cfg.Auth.MagicLinkTTL,
		BaseURL:      cfg.BasicConfig.PublicBaseURL,
	})
	a.Personas = persona.NewService(persona.NewStore(db), a.Accounts, a.Auth, persona.Options{
		Production: cfg.IsProduction(),
		Logger:     a.Logger.Named("persona"),
	})
	a.Attachments = attachment.NewService(db, store, attachment.Options{
		Logger: a.Logger.Named("attachments"),
	})
	return nil
}

// LocalFiles returns the local object store when attachments are kept on disk.
func (a *App) LocalFiles() *objectstore.Local {
	local, _ := a.Store.(*objectstore.Local)
	return local
}

// Close releases connections and flushes the logger.
func (a *App) Close() {
	if a.Cache != nil {
		a.Cache.Close()
	}
	if a.DB != nil {
		a.DB.Close()
	}
	if a.Logger != nil {
		_ = a.Logger.Sync()
	}
}
