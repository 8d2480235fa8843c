package models

import "time"

// CloseReason: почему реактивный монитор закрыл позицию.
type CloseReason string

const (
	CloseLiquidation CloseReason = "liquidation"
	CloseStopLoss    CloseReason = "stop_loss"
	CloseTakeProfit  CloseReason = "take_profit"
)

// CloseAction: результат закрытия позиции, то же, что отдаёт торговый цикл.
type CloseAction struct {
	Action       string      `json:"action"` // close_long / close_short
	Reason       CloseReason `json:"reason"`
	AgentID      int64       `json:"agent_id"`
	PositionID   int64       `json:"position_id"`
	Coin         string      `json:"coin"`
	Symbol       string      `json:"symbol"`
	Price        float64     `json:"price"`
	Amount       float64     `json:"amount"`
	ProfitLoss   float64     `json:"profit_loss"`
	CashReturned float64     `json:"cash_returned"`
}

// RiskEvent: то, что уходит в broadcast (UI, redis, telegram).
type RiskEvent struct {
	Type      string      `json:"type"` // risk_alert
	Source    string      `json:"source"`
	AgentID   int64       `json:"agent_id"`
	Decision  CloseAction `json:"decision"`
	Timestamp time.Time   `json:"timestamp"`
}

const (
	EventRiskAlert = "risk_alert"

	SourceReactive = "reactive"
	SourceSweep    = "sweep"
)

func NewRiskEvent(source string, a CloseAction) RiskEvent {
	return RiskEvent{
		Type:      EventRiskAlert,
		Source:    source,
		AgentID:   a.AgentID,
		Decision:  a,
		Timestamp: time.Now().UTC(),
	}
}
