package broadcast

import (
	"context"
	"net/http"

	"futures_bot/internal/modules/broadcast/service"
	"futures_bot/internal/modules/config"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
	telegramsvc "futures_bot/internal/modules/telegram_bot/service"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Lc       fx.Lifecycle
	Cfg      *config.Config
	Log      *zap.Logger
	Hub      *service.Hub
	Telegram *telegramsvc.Telegram
}

// Module: рассылка риск-событий: WebSocket /ws, Redis (если задан addr), Telegram.
func Module() fx.Option {
	return fx.Module("broadcast",
		fx.Provide(
			service.NewHub,
			newFanout,
			func(f *service.Fanout) risksvc.Broadcaster { return f },
		),
		fx.Invoke(func(lc fx.Lifecycle, mux *http.ServeMux, hub *service.Hub) {
			mux.Handle("/ws", hub)
			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					hub.Close()
					return nil
				},
			})
		}),
	)
}

func newFanout(p Params) *service.Fanout {
	sinks := []service.Sink{p.Hub}

	if p.Cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     p.Cfg.Redis.Addr,
			Password: p.Cfg.Redis.Password,
			DB:       p.Cfg.Redis.DB,
		})
		p.Lc.Append(fx.Hook{
			OnStop: func(context.Context) error { return rdb.Close() },
		})
		sinks = append(sinks, service.NewRedisSink(rdb, p.Cfg.Redis.Channel))
	}
	if p.Telegram.Enabled() {
		sinks = append(sinks, p.Telegram)
	}

	p.Log.Info("broadcast sinks", zap.Int("count", len(sinks)))
	return service.NewFanout(p.Log, 0, sinks...)
}
