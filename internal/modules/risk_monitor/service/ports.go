package service

import (
	"context"

	"futures_bot/internal/models"
	streamsvc "futures_bot/internal/modules/binance_stream/service"
)

// Store: хранилище агентов и позиций.
type Store interface {
	// ListActiveAgentsWithPositions: все открытые позиции активных агентов.
	ListActiveAgentsWithPositions(ctx context.Context) ([]models.WatchedPosition, error)
	// Batch: одна транзакция на пачку тиков: всё, кроме закрытий, коммитится разом.
	Batch(ctx context.Context, fn func(ctx context.Context, b Batch) error) error
}

// Batch: чтения по первичному ключу и не-закрывающие мутации внутри транзакции.
// Отсутствующая строка: models.ErrNotFound.
type Batch interface {
	GetAgent(ctx context.Context, id int64) (*models.Agent, error)
	GetPosition(ctx context.Context, id int64) (*models.Position, error)
	UpdateTrailing(ctx context.Context, positionID int64, stopLoss, extreme float64) error
	// Scope: работа над одной позицией. Ошибка fn откатывает только её изменения,
	// остальная пачка продолжает работать.
	Scope(ctx context.Context, fn func(ctx context.Context, b Batch) error) error
}

// Closer закрывает позицию в собственной транзакции, коммит сразу.
type Closer interface {
	ClosePosition(ctx context.Context, agent *models.Agent, pos *models.Position, price float64, reason models.CloseReason) (models.CloseAction, error)
}

type Broadcaster interface {
	Broadcast(ctx context.Context, ev models.RiskEvent) error
}

// TradingLock: общий с торговым циклом лок. Реактивный путь берёт его только через TryLock.
type TradingLock interface {
	TryLock() bool
	Unlock()
}

type TickSource interface {
	Register(s streamsvc.TickSubscriber)
	Unregister(s streamsvc.TickSubscriber)
}

// PriceSource: текущие mark-цены для фолбэк-свипа.
type PriceSource interface {
	AllPrices() map[string]float64
}
