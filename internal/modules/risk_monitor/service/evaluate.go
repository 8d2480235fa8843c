package service

import "futures_bot/internal/models"

// verdict: итог проверки одной позиции по цене.
type verdict struct {
	close  bool
	reason models.CloseReason

	// trail: стоп или экстремум сдвинулись, надо записать в батче
	trail    bool
	stopLoss float64
	extreme  float64
}

// evaluate: ликвидация -> трейлинг -> стоп-лосс -> тейк-профит. Первое сработавшее закрывает.
func evaluate(p *models.Position, price float64) verdict {
	if price <= 0 {
		return verdict{}
	}
	if hitLiquidation(p, price) {
		return verdict{close: true, reason: models.CloseLiquidation}
	}

	v := verdict{stopLoss: p.StopLossPrice, extreme: p.PriceExtreme}
	ratchet(p, price, &v)

	switch {
	case hitStop(p, v.stopLoss, price):
		return verdict{close: true, reason: models.CloseStopLoss}
	case hitTake(p, price):
		return verdict{close: true, reason: models.CloseTakeProfit}
	}
	return v
}

func hitLiquidation(p *models.Position, price float64) bool {
	if p.LiquidationPrice <= 0 {
		return false
	}
	if p.IsShort() {
		return price >= p.LiquidationPrice
	}
	return price <= p.LiquidationPrice
}

func hitStop(p *models.Position, stop, price float64) bool {
	if stop <= 0 {
		return false
	}
	if p.IsShort() {
		return price >= stop
	}
	return price <= stop
}

func hitTake(p *models.Position, price float64) bool {
	if p.TakeProfitPrice <= 0 {
		return false
	}
	if p.IsShort() {
		return price <= p.TakeProfitPrice
	}
	return price >= p.TakeProfitPrice
}

// ratchet двигает стоп только в сторону прибыли, от экстремума цены.
func ratchet(p *models.Position, price float64, v *verdict) {
	if p.TrailingStopPct <= 0 {
		return
	}
	k := p.TrailingStopPct / 100

	if p.IsShort() {
		if v.extreme <= 0 || price < v.extreme {
			v.extreme = price
			v.trail = true
		}
		if cand := v.extreme * (1 + k); v.stopLoss <= 0 || cand < v.stopLoss {
			v.stopLoss = cand
			v.trail = true
		}
		return
	}

	if price > v.extreme {
		v.extreme = price
		v.trail = true
	}
	if cand := v.extreme * (1 - k); cand > v.stopLoss {
		v.stopLoss = cand
		v.trail = true
	}
}
