package service

import (
	"math"

	"futures_bot/internal/models"
)

// settle считает итог закрытия: PnL по цене закрытия, при ликвидации: минус вся маржа.
// Агенту возвращается margin + PnL, но не меньше нуля.
func settle(pos *models.Position, price float64, reason models.CloseReason) models.CloseAction {
	pnl := pos.PnL(price)
	if reason == models.CloseLiquidation {
		pnl = -pos.Margin
	}
	return models.CloseAction{
		Action:       "close_" + string(pos.Type),
		Reason:       reason,
		AgentID:      pos.AgentID,
		PositionID:   pos.ID,
		Coin:         pos.InstrumentID,
		Symbol:       pos.Symbol,
		Price:        price,
		Amount:       pos.Amount,
		ProfitLoss:   pnl,
		CashReturned: math.Max(pos.Margin+pnl, 0),
	}
}
