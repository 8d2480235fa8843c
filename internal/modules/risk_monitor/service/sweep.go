package service

import (
	"context"
	"errors"

	"futures_bot/internal/models"
)

// Sweep: фолбэк-опрос раз в несколько секунд: все позиции из watchlist по текущим ценам.
// Лок берётся так же неблокирующе; занят: пропускаем.
func (m *Monitor) Sweep(ctx context.Context, src PriceSource) (int, error) {
	if !m.active.Load() {
		return 0, nil
	}
	prices := m.watch.Match(src.AllPrices())
	if len(prices) == 0 {
		return 0, nil
	}

	var actions []models.CloseAction
	err := m.deps.Pool.Do(ctx, func(ctx context.Context) error {
		var err error
		actions, err = m.check(ctx, prices)
		return err
	})
	switch {
	case errors.Is(err, errLocked):
		m.stats.sweepsSkipped.Add(1)
		return 0, nil
	case err != nil:
		m.publish(ctx, models.SourceSweep, actions)
		return len(actions), err
	}
	m.stats.sweeps.Add(1)
	m.publish(ctx, models.SourceSweep, actions)
	return len(actions), nil
}
