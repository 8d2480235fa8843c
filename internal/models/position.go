package models

import "time"

// Agent: торговый агент, владелец позиций.
type Agent struct {
	ID             int64
	Name           string
	Status         string // active / paused / stopped
	CurrentBalance float64
}

const AgentStatusActive = "active"

func (a *Agent) Active() bool { return a != nil && a.Status == AgentStatusActive }

// PositionType: направление фьючерсной позиции.
type PositionType string

const (
	PositionLong  PositionType = "long"
	PositionShort PositionType = "short"
)

// Position: строка portfolio. Читается по первичному ключу на каждой проверке,
// между тиками не кешируется.
type Position struct {
	ID           int64
	AgentID      int64
	InstrumentID string // "bitcoin"
	Symbol       string // "BTC"
	Amount       float64
	EntryPrice   float64
	Type         PositionType
	Leverage     int
	Margin       float64

	LiquidationPrice float64
	StopLossPrice    float64
	TakeProfitPrice  float64

	// трейлинг: процент отступа и экстремум цены с момента входа
	TrailingStopPct float64
	PriceExtreme    float64

	UpdatedAt time.Time
}

func (p *Position) Open() bool { return p != nil && p.Amount > 0 }

func (p *Position) IsShort() bool { return p.Type == PositionShort }

// PnL при закрытии по цене price.
func (p *Position) PnL(price float64) float64 {
	if p.IsShort() {
		return p.Amount * (p.EntryPrice - price)
	}
	return p.Amount * (price - p.EntryPrice)
}

// WatchedPosition: то, что отдаёт стор при пересборке watchlist.
type WatchedPosition struct {
	AgentID      int64
	PositionID   int64
	InstrumentID string
	Symbol       string
	Amount       float64
}

// WatchEntry: элемент watchlist для одного фьючерсного символа.
type WatchEntry struct {
	AgentID      int64
	PositionID   int64
	InstrumentID string
}
