package main

import (
	"context"

	"futures_bot/internal/modules/binance_client"
	"futures_bot/internal/modules/binance_stream"
	"futures_bot/internal/modules/broadcast"
	"futures_bot/internal/modules/config"
	"futures_bot/internal/modules/health"
	"futures_bot/internal/modules/maker"
	"futures_bot/internal/modules/postgres"
	"futures_bot/internal/modules/risk_monitor"
	telegram "futures_bot/internal/modules/telegram_bot"
	"futures_bot/internal/runner"
	"futures_bot/pkg/logger"
	"futures_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

const serviceName = "futures_bot"

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{
		Level: cfg.Service.LogLevel,
		JSON:  cfg.Service.LogJSON,
	})
}

func initTracing(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) error {
	if !cfg.Tracing.Enabled {
		return nil
	}
	_, closer, err := tracing.InitTracer(tracing.Config{
		Host: cfg.Tracing.Host,
		Port: cfg.Tracing.Port,
	})
	if err != nil {
		return err
	}
	log.Info("tracing enabled", zap.String("host", cfg.Tracing.Host), zap.Int("port", cfg.Tracing.Port))
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			closer()
			return nil
		},
	})
	return nil
}

func main() {
	logger.SetServiceName(serviceName)
	tracing.SetServiceName(serviceName)

	app := fx.New(
		config.Module(),
		fx.Provide(newLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),
		fx.Invoke(initTracing),

		postgres.Module(),
		binance_stream.Module(),
		binance_client.Module(),
		maker.Module(),
		telegram.Module(),
		broadcast.Module(),
		risk_monitor.Module(),
		runner.Module(),
		health.Module(),
	)
	app.Run()
}
