package main

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/wager/internal/config"
	"github.com/MarkoPoloResearchLab/wager/internal/health"
	"github.com/MarkoPoloResearchLab/wager/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/wager/internal/store/memstore"
	"github.com/MarkoPoloResearchLab/wager/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/wager/pkg/wager"
	"go.uber.org/zap"
)

// openedStore bundles a store with its readiness probe and release func.
type openedStore struct {
	store wager.Store
	ping  health.Check
	close func() error
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (openedStore, error) {
	if cfg.DatabaseURL == config.MemoryDatabaseURL {
		logger.Warn("using in-memory store; balances are lost on exit")
		return openedStore{
			store: memstore.New(),
			ping:  func(context.Context) error { return nil },
			close: func() error { return nil },
		}, nil
	}

	if config.IsPostgresURL(cfg.DatabaseURL) {
		version, err := pgstore.Migrate(cfg.DatabaseURL)
		if err != nil {
			return openedStore{}, err
		}
		logger.Info("database schema ready", zap.Uint("version", version))
	}

	if cfg.StoreDriver == config.StoreDriverPgx {
		pool, err := pgstore.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return openedStore{}, err
		}
		return openedStore{
			store: pgstore.New(pool),
			ping:  pool.Ping,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	}

	db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return openedStore{}, fmt.Errorf("database open: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		_ = cleanup()
		return openedStore{}, err
	}
	logger.Info("gorm store opened", zap.String("driver", driver))
	return openedStore{store: gormstore.New(db), ping: sqlDB.PingContext, close: cleanup}, nil
}
