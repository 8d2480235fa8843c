package service

import (
	"context"

	"futures_bot/internal/models"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
	"futures_bot/pkg/db"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// PgStore: агенты и позиции в Postgres (trading_agents / portfolio / trades).
type PgStore struct {
	db  db.TxManager
	log *zap.Logger
}

func NewPgStore(tm db.TxManager, log *zap.Logger) *PgStore {
	return &PgStore{db: tm, log: log.Named("pg_store")}
}

func (s *PgStore) ListActiveAgentsWithPositions(ctx context.Context) (out []models.WatchedPosition, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.ListActiveAgentsWithPositions")
		}
	}()

	err = s.db.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		rows, err := tx.Query(ctx, qListWatched)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var w models.WatchedPosition
			if err := rows.Scan(&w.AgentID, &w.PositionID, &w.InstrumentID, &w.Symbol, &w.Amount); err != nil {
				return err
			}
			out = append(out, w)
		}
		return rows.Err()
	})
	return out, err
}

// Batch: одна ReadCommitted-транзакция на проверку пачки тиков.
// Каждая позиция идёт в своём SAVEPOINT (pgBatch.Scope): упавший запрос не ломает остальную пачку.
func (s *PgStore) Batch(ctx context.Context, fn func(ctx context.Context, b risksvc.Batch) error) error {
	err := s.db.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		return fn(ctx, pgBatch{tx: tx})
	})
	return errors.Wrap(err, "pg.Batch")
}

// ClosePosition: отдельная транзакция: удалить позицию, записать сделку, вернуть деньги агенту.
// Если позицию уже закрыли: models.ErrNotFound.
func (s *PgStore) ClosePosition(
	ctx context.Context,
	agent *models.Agent,
	pos *models.Position,
	price float64,
	reason models.CloseReason,
) (action models.CloseAction, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.ClosePosition")
		}
	}()

	action = settle(pos, price, reason)
	err = s.db.RunMaster(ctx, func(ctx context.Context, tx db.Transaction) error {
		tag, err := tx.Exec(ctx, qDeletePosition, pos.ID, agent.ID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return models.ErrNotFound
		}
		if _, err := tx.Exec(ctx, qInsertTrade,
			agent.ID, pos.InstrumentID, pos.Symbol, action.Action, pos.Amount, price,
			pos.Amount*price, action.ProfitLoss, pos.Leverage, pos.Margin,
		); err != nil {
			return errors.Wrap(err, "insert trade")
		}
		if _, err := tx.Exec(ctx, qCreditAgent, agent.ID, action.CashReturned); err != nil {
			return errors.Wrap(err, "credit agent")
		}
		return nil
	})
	if err != nil {
		return models.CloseAction{}, err
	}
	return action, nil
}

type pgBatch struct {
	tx db.Transaction
}

// Scope: SAVEPOINT на позицию. При ошибке fn откатываемся только до него.
func (b pgBatch) Scope(ctx context.Context, fn func(ctx context.Context, b risksvc.Batch) error) error {
	sp, err := b.tx.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "savepoint")
	}
	if err := fn(ctx, pgBatch{tx: sp}); err != nil {
		if rbErr := sp.Rollback(ctx); rbErr != nil {
			return errors.Wrapf(rbErr, "rollback savepoint after: %v", err)
		}
		return err
	}
	return errors.Wrap(sp.Commit(ctx), "release savepoint")
}

func (b pgBatch) GetAgent(ctx context.Context, id int64) (*models.Agent, error) {
	var a models.Agent
	err := b.tx.QueryRow(ctx, qGetAgent, id).Scan(&a.ID, &a.Name, &a.Status, &a.CurrentBalance)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get agent %d", id)
	}
	return &a, nil
}

func (b pgBatch) GetPosition(ctx context.Context, id int64) (*models.Position, error) {
	var (
		p   models.Position
		typ string
	)
	err := b.tx.QueryRow(ctx, qGetPosition, id).Scan(
		&p.ID, &p.AgentID, &p.InstrumentID, &p.Symbol, &p.Amount, &p.EntryPrice,
		&typ, &p.Leverage, &p.Margin,
		&p.LiquidationPrice, &p.StopLossPrice, &p.TakeProfitPrice,
		&p.TrailingStopPct, &p.PriceExtreme, &p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrapf(err, "get position %d", id)
	}
	p.Type = models.PositionType(typ)
	return &p, nil
}

func (b pgBatch) UpdateTrailing(ctx context.Context, positionID int64, stopLoss, extreme float64) error {
	_, err := b.tx.Exec(ctx, qUpdateTrailing, positionID, stopLoss, extreme)
	return errors.Wrapf(err, "update trailing %d", positionID)
}
