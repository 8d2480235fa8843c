package maker

import (
	"futures_bot/internal/modules/config"
	"futures_bot/internal/modules/maker/service"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module: maker-движок исполнения. Exchange приходит из binance_client.
func Module() fx.Option {
	return fx.Module("maker",
		fx.Provide(
			func(cfg *config.Config) (service.Config, error) {
				return service.NewConfig(cfg)
			},
			func(cfg service.Config, ex service.Exchange, log *zap.Logger) *service.Engine {
				return service.NewEngine(cfg, ex, log)
			},
		),
	)
}
