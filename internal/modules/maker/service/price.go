package service

import (
	"math"

	"futures_bot/internal/models"

	"github.com/shopspring/decimal"
)

var bpsDivisor = decimal.NewFromInt(10_000)

// LimitPrice: BUY: base минус отступ, SELL: base плюс отступ.
// Отступ считается от reference: reference * bps / 10000.
func LimitPrice(side models.Side, base, reference, offsetBps float64, precision int32) float64 {
	offset := decimal.NewFromFloat(reference).
		Mul(decimal.NewFromFloat(offsetBps)).
		Div(bpsDivisor)

	p := decimal.NewFromFloat(base)
	if side == models.SideBuy {
		p = p.Sub(offset)
	} else {
		p = p.Add(offset)
	}
	f, _ := p.Round(precision).Float64()
	return f
}

// AdverseMovePct: насколько mid ушёл против ордера, в процентах от лимитной цены.
// Для BUY плохо, когда цена растёт; для SELL: когда падает. Движение в нашу сторону = 0.
func AdverseMovePct(side models.Side, limit, mid float64) float64 {
	if limit <= 0 {
		return 0
	}
	if side == models.SideBuy {
		return math.Max(0, (mid-limit)/limit*100)
	}
	return math.Max(0, (limit-mid)/limit*100)
}
