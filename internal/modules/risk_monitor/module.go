package risk_monitor

import (
	"context"

	streamsvc "futures_bot/internal/modules/binance_stream/service"
	"futures_bot/internal/modules/config"
	"futures_bot/internal/modules/risk_monitor/service"
	"futures_bot/pkg/workerpool"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Cfg         *config.Config
	Log         *zap.Logger
	Store       service.Store
	Closer      service.Closer
	Broadcaster service.Broadcaster
	Lock        service.TradingLock
	Ticks       *streamsvc.TickBroadcaster
}

// Module поднимает реактивный риск-монитор поверх тиков binance_stream.
func Module() fx.Option {
	return fx.Module("risk_monitor",
		fx.Provide(
			func(p Params) *service.Monitor {
				return service.NewMonitor(service.Options{
					RefreshInterval: p.Cfg.Risk.WatchlistRefresh,
					BusyPolicy:      p.Cfg.Risk.BusyPolicy,
				}, service.Deps{
					Store:       p.Store,
					Closer:      p.Closer,
					Broadcaster: p.Broadcaster,
					Lock:        p.Lock,
					Ticks:       p.Ticks,
					Pool:        workerpool.New(p.Cfg.Risk.Workers),
				}, p.Log)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, m *service.Monitor) {
			lc.Append(fx.Hook{
				OnStart: m.Start,
				OnStop: func(context.Context) error {
					m.Stop()
					return nil
				},
			})
		}),
	)
}
