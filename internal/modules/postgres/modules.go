package postgres

import (
	"context"
	"fmt"
	"time"

	"futures_bot/internal/modules/config"
	"futures_bot/internal/modules/postgres/service"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
	"futures_bot/pkg/db"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Backend: стор позиций, который видит риск-монитор.
type Backend interface {
	risksvc.Store
	risksvc.Closer
}

// Module выбирает стор по store_driver: postgres или memory.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			newBackend,
			func(b Backend) risksvc.Store { return b },
			func(b Backend) risksvc.Closer { return b },
		),
	)
}

func newBackend(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (Backend, error) {
	if cfg.StoreDriver == "memory" {
		log.Warn("store_driver=memory: positions are not persisted")
		return service.NewMemoryStore(), nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	poolMaster, err := db.NewPool(ctx, db.PoolConfig{
		DSN: cfg.DB,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create poolMaster: %w", err)
	}

	err = poolMaster.Ping(ctx)
	if err != nil {
		poolMaster.Close()
		return nil, err
	}

	tm := db.NewPgTxManager(poolMaster)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			tm.Close()
			return nil
		},
	})
	return service.NewPgStore(tm, log), nil
}
