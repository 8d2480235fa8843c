package service

import (
	"testing"

	"futures_bot/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestEvaluate(t *testing.T) {
	long := models.Position{
		Type: models.PositionLong, Amount: 1, EntryPrice: 64000,
		LiquidationPrice: 60000, StopLossPrice: 61000, TakeProfitPrice: 70000,
	}
	short := models.Position{
		Type: models.PositionShort, Amount: 1, EntryPrice: 64000,
		LiquidationPrice: 68000, StopLossPrice: 67000, TakeProfitPrice: 60000,
	}

	tests := []struct {
		name   string
		pos    models.Position
		price  float64
		close  bool
		reason models.CloseReason
	}{
		{"long liquidation beats stop", long, 59000, true, models.CloseLiquidation},
		{"long liquidation at the boundary", long, 60000, true, models.CloseLiquidation},
		{"long stop", long, 60500, true, models.CloseStopLoss},
		{"long take", long, 70000, true, models.CloseTakeProfit},
		{"long hold", long, 65000, false, ""},
		{"short liquidation beats stop", short, 69000, true, models.CloseLiquidation},
		{"short stop", short, 67500, true, models.CloseStopLoss},
		{"short take", short, 59999, true, models.CloseTakeProfit},
		{"short hold", short, 64000, false, ""},
		{"no price", long, 0, false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := evaluate(&tt.pos, tt.price)
			assert.Equal(t, tt.close, v.close)
			assert.Equal(t, tt.reason, v.reason)
		})
	}
}

func TestEvaluateUnsetLevelsNeverFire(t *testing.T) {
	p := models.Position{Type: models.PositionShort, Amount: 1, EntryPrice: 100}
	v := evaluate(&p, 1_000_000)
	assert.False(t, v.close)
	assert.False(t, v.trail)
}

func TestTrailingRatchet(t *testing.T) {
	long := models.Position{
		Type: models.PositionLong, Amount: 1, EntryPrice: 100,
		StopLossPrice: 95, TrailingStopPct: 2, PriceExtreme: 100,
	}

	v := evaluate(&long, 110)
	assert.False(t, v.close)
	assert.True(t, v.trail)
	assert.InDelta(t, 110, v.extreme, 1e-9)
	assert.InDelta(t, 107.8, v.stopLoss, 1e-9)

	long.PriceExtreme, long.StopLossPrice = v.extreme, v.stopLoss
	v = evaluate(&long, 108)
	assert.False(t, v.close)
	assert.False(t, v.trail, "stop never moves against the position")

	v = evaluate(&long, 107)
	assert.True(t, v.close)
	assert.Equal(t, models.CloseStopLoss, v.reason)

	short := models.Position{
		Type: models.PositionShort, Amount: 1, EntryPrice: 100,
		StopLossPrice: 105, TrailingStopPct: 2,
	}
	v = evaluate(&short, 90)
	assert.True(t, v.trail)
	assert.InDelta(t, 90, v.extreme, 1e-9)
	assert.InDelta(t, 91.8, v.stopLoss, 1e-9)
}
