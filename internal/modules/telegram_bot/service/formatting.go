package service

import (
	"fmt"
	"strings"

	"futures_bot/internal/models"
)

var reasonTitles = map[models.CloseReason]string{
	models.CloseLiquidation: "💀 Ликвидация",
	models.CloseStopLoss:    "🛑 Stop-loss",
	models.CloseTakeProfit:  "🎯 Take-profit",
}

func formatRiskEvent(ev models.RiskEvent) string {
	d := ev.Decision
	title, ok := reasonTitles[d.Reason]
	if !ok {
		title = string(d.Reason)
	}
	return fmt.Sprintf(
		"*%s* `%s`\n\n"+
			"Агент: `%d`  позиция: `%d`\n"+
			"Действие: `%s`\n"+
			"Цена: `%s`  объём: `%s`\n"+
			"PnL: `%s`  возврат: `%s`\n"+
			"Источник: _%s_",
		title, strings.ToUpper(d.Symbol),
		d.AgentID, d.PositionID,
		d.Action,
		f2(d.Price), fmt.Sprintf("%g", d.Amount),
		f2(d.ProfitLoss), f2(d.CashReturned),
		ev.Source,
	)
}
