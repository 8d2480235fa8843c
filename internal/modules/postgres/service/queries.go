package service

const (
	qListWatched = `
SELECT p.agent_id, p.id, p.cryptocurrency, p.symbol, p.amount
FROM portfolio p
JOIN trading_agents a ON a.id = p.agent_id
WHERE a.status = 'active' AND p.amount > 0
ORDER BY p.id`

	qGetAgent = `
SELECT id, name, status, COALESCE(current_balance, 0)
FROM trading_agents
WHERE id = $1`

	qGetPosition = `
SELECT id, agent_id, cryptocurrency, symbol, amount, avg_buy_price,
       COALESCE(position_type, 'long'), COALESCE(leverage, 1), COALESCE(margin, 0),
       COALESCE(liquidation_price, 0), COALESCE(stop_loss_price, 0), COALESCE(take_profit_price, 0),
       COALESCE(trailing_stop_pct, 0), COALESCE(price_extreme, 0), updated_at
FROM portfolio
WHERE id = $1`

	qUpdateTrailing = `
UPDATE portfolio
SET stop_loss_price = $2, price_extreme = $3, updated_at = now()
WHERE id = $1`

	qDeletePosition = `
DELETE FROM portfolio
WHERE id = $1 AND agent_id = $2`

	qInsertTrade = `
INSERT INTO trades (agent_id, cryptocurrency, symbol, trade_type, amount, price,
                    total_value, profit_loss, leverage, margin, timestamp)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`

	qCreditAgent = `
UPDATE trading_agents
SET current_balance = current_balance + $2, updated_at = now()
WHERE id = $1`
)
