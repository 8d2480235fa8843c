package binance_stream

import (
	"context"

	"futures_bot/internal/modules/binance_stream/service"
	"futures_bot/internal/modules/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module поднимает стрим Binance Futures и реестр подписчиков на тики.
func Module() fx.Option {
	return fx.Module("binance_stream",
		fx.Provide(
			service.NewTickBroadcaster,
			func(cfg *config.Config, log *zap.Logger, ticks *service.TickBroadcaster) *service.Client {
				return service.NewClient(service.OptionsFromConfig(cfg), log, ticks, nil)
			},
		),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client) {
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					// ctx из OnStart живёт только до конца старта
					return c.Start(context.Background())
				},
				OnStop: func(context.Context) error {
					c.Stop()
					return nil
				},
			})
		}),
	)
}
