package health

import (
	"context"
	"net"
	"net/http"
	"time"

	streamsvc "futures_bot/internal/modules/binance_stream/service"
	broadcastsvc "futures_bot/internal/modules/broadcast/service"
	"futures_bot/internal/modules/config"
	"futures_bot/internal/modules/health/service"
	makersvc "futures_bot/internal/modules/maker/service"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
	telegramsvc "futures_bot/internal/modules/telegram_bot/service"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Config struct {
	Addr string // например ":8080"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: cfg.Service.HealthAddr}
}

func NewState(
	feed *streamsvc.Client,
	risk *risksvc.Monitor,
	maker *makersvc.Engine,
	fanout *broadcastsvc.Fanout,
) *service.State {
	return service.NewState(feed, risk, maker, fanout)
}

func NewRegistry(state *service.State) (*prometheus.Registry, error) {
	reg := prometheus.NewRegistry()
	if err := service.RegisterMetrics(reg, state); err != nil {
		return nil, err
	}
	return reg, nil
}

func NewMux(state *service.State, reg *prometheus.Registry) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		// liveness: процесс жив
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		// readiness: стартовали и стрим не лежит
		if !state.Ready() {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		body, err := sonic.Marshal(state.Report())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})

	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	return mux
}

func RunHTTP(lc fx.Lifecycle, cfg Config, mux *http.ServeMux, state *service.State, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					log.Error("health server", zap.Error(err))
				}
			}()
			state.SetReady(true)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			state.SetReady(false)
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			NewState,
			NewConfig,
			NewRegistry,
			NewMux,
		),
		fx.Invoke(
			RunHTTP,
			// State зависит от broadcast, а тот от telegram, поэтому связываем после сборки
			func(t *telegramsvc.Telegram, s *service.State) { t.SetReporter(s) },
		),
	)
}
