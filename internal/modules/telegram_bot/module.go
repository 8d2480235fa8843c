package telegram

import (
	"context"

	"futures_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

// Module: Telegram: сток для алертов и /status. Reporter подставляет health.
func Module() fx.Option {
	return fx.Module("telegram",
		fx.Provide(
			service.NewTelegram,
		),
		fx.Invoke(
			func(lc fx.Lifecycle, t *service.Telegram) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						t.Start()
						return nil
					},
					OnStop: func(ctx context.Context) error {
						t.Stop()
						return nil
					},
				})
			},
		),
	)
}
