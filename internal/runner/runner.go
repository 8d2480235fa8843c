package runner

import (
	"context"
	"sync"
	"time"

	"futures_bot/internal/models"
	risksvc "futures_bot/internal/modules/risk_monitor/service"

	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(ctx context.Context, src risksvc.PriceSource) (int, error)
}

// Watched: символы с открытыми позициями.
type Watched interface {
	Symbols() []string
}

type Feed interface {
	AllPrices() map[string]float64
	PricesFresh() bool
	State() models.FeedState
	SyncKlineSubscriptions(symbols, intervals []string) (added, removed int, err error)
}

type Options struct {
	SweepInterval   time.Duration
	KlineSyncPeriod time.Duration
	KlineIntervals  []string
}

// Runner: периодические задачи: фолбэк-свип риска и синк kline-подписок.
type Runner struct {
	opt     Options
	sweeper Sweeper
	watched Watched
	feed    Feed
	log     *zap.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(opt Options, sweeper Sweeper, watched Watched, feed Feed, log *zap.Logger) *Runner {
	if opt.SweepInterval <= 0 {
		opt.SweepInterval = 5 * time.Second
	}
	if opt.KlineSyncPeriod <= 0 {
		opt.KlineSyncPeriod = 60 * time.Second
	}
	return &Runner{
		opt:     opt,
		sweeper: sweeper,
		watched: watched,
		feed:    feed,
		log:     log.Named("runner"),
	}
}

func (r *Runner) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	r.cancel = cancel

	r.every(ctx, r.opt.SweepInterval, r.sweep)
	r.every(ctx, r.opt.KlineSyncPeriod, r.syncKlines)
}

func (r *Runner) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()
}

func (r *Runner) every(ctx context.Context, d time.Duration, job func(context.Context)) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job(ctx)
			}
		}
	}()
}

// sweep: только по свежим ценам, иначе закрывали бы по устаревшему уровню.
func (r *Runner) sweep(ctx context.Context) {
	if !r.feed.PricesFresh() {
		return
	}
	n, err := r.sweeper.Sweep(ctx, r.feed)
	if err != nil {
		r.log.Error("sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		r.log.Info("sweep closed positions", zap.Int("count", n))
	}
}

func (r *Runner) syncKlines(context.Context) {
	if r.feed.State() != models.FeedConnected || len(r.opt.KlineIntervals) == 0 {
		return
	}
	added, removed, err := r.feed.SyncKlineSubscriptions(r.watched.Symbols(), r.opt.KlineIntervals)
	if err != nil {
		r.log.Warn("kline sync", zap.Error(err))
	}
	if added+removed > 0 {
		r.log.Info("kline subscriptions synced", zap.Int("added", added), zap.Int("removed", removed))
	}
}
