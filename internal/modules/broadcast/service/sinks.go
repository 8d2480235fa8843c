package service

import (
	"context"

	"futures_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Sink: один получатель риск-событий. payload: событие, уже сериализованное в JSON.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, ev models.RiskEvent, payload []byte) error
}

// Deliver: Hub как сток.
func (h *Hub) Deliver(_ context.Context, _ models.RiskEvent, payload []byte) error {
	h.Publish(payload)
	return nil
}

// RedisSink: PUBLISH в канал (по умолчанию risk_alerts).
type RedisSink struct {
	rdb     redis.UniversalClient
	channel string
}

func NewRedisSink(rdb redis.UniversalClient, channel string) *RedisSink {
	return &RedisSink{rdb: rdb, channel: channel}
}

func (s *RedisSink) Name() string { return "redis" }

func (s *RedisSink) Deliver(ctx context.Context, _ models.RiskEvent, payload []byte) error {
	if err := s.rdb.Publish(ctx, s.channel, payload).Err(); err != nil {
		return errors.Wrapf(err, "redis publish %s", s.channel)
	}
	return nil
}
