package service

import (
	"context"
	"sync/atomic"
	"time"

	"futures_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const defaultSinkTimeout = 5 * time.Second

// Fanout рассылает событие во все стоки параллельно.
// Ошибка или таймаут одного стока только логируется.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	log     *zap.Logger

	events   atomic.Int64
	failures atomic.Int64
}

func NewFanout(log *zap.Logger, timeout time.Duration, sinks ...Sink) *Fanout {
	if timeout <= 0 {
		timeout = defaultSinkTimeout
	}
	return &Fanout{sinks: sinks, timeout: timeout, log: log.Named("broadcast")}
}

func (f *Fanout) Broadcast(ctx context.Context, ev models.RiskEvent) error {
	payload, err := sonic.Marshal(ev)
	if err != nil {
		return errors.Wrap(err, "marshal risk event")
	}
	f.events.Add(1)

	var g errgroup.Group
	for _, s := range f.sinks {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(ctx, f.timeout)
			defer cancel()
			if err := f.deliver(sctx, s, ev, payload); err != nil {
				f.failures.Add(1)
				f.log.Warn("sink failed",
					zap.String("sink", s.Name()),
					zap.Int64("position_id", ev.Decision.PositionID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	return g.Wait()
}

func (f *Fanout) deliver(ctx context.Context, s Sink, ev models.RiskEvent, payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic: %v", r)
		}
	}()
	return s.Deliver(ctx, ev, payload)
}

type FanoutStats struct {
	Sinks    int   `json:"sinks"`
	Events   int64 `json:"events"`
	Failures int64 `json:"failures"`
}

func (f *Fanout) Stats() FanoutStats {
	return FanoutStats{
		Sinks:    len(f.sinks),
		Events:   f.events.Load(),
		Failures: f.failures.Load(),
	}
}
