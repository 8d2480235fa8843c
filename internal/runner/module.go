package runner

import (
	"context"

	streamsvc "futures_bot/internal/modules/binance_stream/service"
	"futures_bot/internal/modules/config"
	risksvc "futures_bot/internal/modules/risk_monitor/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

func Module() fx.Option {
	return fx.Module("runner",
		fx.Provide(
			NewTradingLock,
			func(l *TradingLock) risksvc.TradingLock { return l },
			func(cfg *config.Config, m *risksvc.Monitor, feed *streamsvc.Client, log *zap.Logger) *Runner {
				return New(Options{
					SweepInterval:   cfg.Risk.SweepInterval,
					KlineSyncPeriod: cfg.Stream.KlineSyncPeriod,
					KlineIntervals:  cfg.Stream.KlineIntervals,
				}, m, m.Watchlist(), feed, log)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, r *Runner) {
			lc.Append(fx.Hook{
				OnStart: func(_ context.Context) error {
					r.Start(context.Background())
					return nil
				},
				OnStop: func(_ context.Context) error {
					r.Stop()
					return nil
				},
			})
		}),
	)
}
