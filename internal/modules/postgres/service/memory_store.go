package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"futures_bot/internal/models"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
)

// Trade: запись о закрытии в памяти.
type Trade struct {
	models.CloseAction
	At time.Time
}

// MemoryStore: стор в памяти для paper-режима и тестов, семантика как у PgStore.
// Изменения Batch применяются только если fn вернула nil.
type MemoryStore struct {
	mu        sync.RWMutex
	agents    map[int64]models.Agent
	positions map[int64]models.Position
	trades    []Trade
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:    make(map[int64]models.Agent),
		positions: make(map[int64]models.Position),
	}
}

func (s *MemoryStore) PutAgent(a models.Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.agents[a.ID] = a
}

func (s *MemoryStore) PutPosition(p models.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p
}

func (s *MemoryStore) Agent(id int64) (models.Agent, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	return a, ok
}

func (s *MemoryStore) Position(id int64) (models.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[id]
	return p, ok
}

func (s *MemoryStore) Trades() []Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Trade(nil), s.trades...)
}

func (s *MemoryStore) ListActiveAgentsWithPositions(context.Context) ([]models.WatchedPosition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.WatchedPosition
	for _, p := range s.positions {
		a, ok := s.agents[p.AgentID]
		if !ok || !a.Active() || p.Amount <= 0 {
			continue
		}
		out = append(out, models.WatchedPosition{
			AgentID:      p.AgentID,
			PositionID:   p.ID,
			InstrumentID: p.InstrumentID,
			Symbol:       p.Symbol,
			Amount:       p.Amount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func (s *MemoryStore) Batch(ctx context.Context, fn func(ctx context.Context, b risksvc.Batch) error) error {
	b := &memBatch{s: s, trailing: make(map[int64][2]float64)}
	if err := fn(ctx, b); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range b.trailing {
		p, ok := s.positions[id]
		if !ok {
			continue
		}
		p.StopLossPrice, p.PriceExtreme = v[0], v[1]
		p.UpdatedAt = time.Now().UTC()
		s.positions[id] = p
	}
	return nil
}

func (s *MemoryStore) ClosePosition(
	_ context.Context,
	agent *models.Agent,
	pos *models.Position,
	price float64,
	reason models.CloseReason,
) (models.CloseAction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p, ok := s.positions[pos.ID]; !ok || p.AgentID != agent.ID {
		return models.CloseAction{}, models.ErrNotFound
	}
	action := settle(pos, price, reason)

	delete(s.positions, pos.ID)
	s.trades = append(s.trades, Trade{CloseAction: action, At: time.Now().UTC()})
	if a, ok := s.agents[agent.ID]; ok {
		a.CurrentBalance += action.CashReturned
		s.agents[agent.ID] = a
	}
	return action, nil
}

type memBatch struct {
	s        *MemoryStore
	trailing map[int64][2]float64
}

// Scope: изменения fn видны пачке только если fn вернула nil.
func (b *memBatch) Scope(ctx context.Context, fn func(ctx context.Context, b risksvc.Batch) error) error {
	child := &memBatch{s: b.s, trailing: make(map[int64][2]float64, len(b.trailing))}
	for id, v := range b.trailing {
		child.trailing[id] = v
	}
	if err := fn(ctx, child); err != nil {
		return err
	}
	b.trailing = child.trailing
	return nil
}

func (b *memBatch) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	a, ok := b.s.Agent(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	return &a, nil
}

func (b *memBatch) GetPosition(_ context.Context, id int64) (*models.Position, error) {
	p, ok := b.s.Position(id)
	if !ok {
		return nil, models.ErrNotFound
	}
	if v, ok := b.trailing[id]; ok {
		p.StopLossPrice, p.PriceExtreme = v[0], v[1]
	}
	return &p, nil
}

func (b *memBatch) UpdateTrailing(_ context.Context, positionID int64, stopLoss, extreme float64) error {
	b.trailing[positionID] = [2]float64{stopLoss, extreme}
	return nil
}
