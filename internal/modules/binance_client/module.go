package binance_client

import (
	"futures_bot/internal/modules/binance_client/service"
	"futures_bot/internal/modules/config"
	makersvc "futures_bot/internal/modules/maker/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module: REST-клиент Binance Futures, он же Exchange для maker.
func Module() fx.Option {
	return fx.Module("binance_client",
		fx.Provide(
			func(cfg *config.Config, log *zap.Logger) *service.Client {
				return service.NewClient(service.OptionsFromConfig(cfg), log)
			},
			func(c *service.Client) makersvc.Exchange { return c },
		),
	)
}
