package service

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"futures_bot/internal/models"
	streamsvc "futures_bot/internal/modules/binance_stream/service"
)

type closeCall struct {
	positionID int64
	price      float64
	reason     models.CloseReason
}

type fakeStore struct {
	mu        sync.Mutex
	agents    map[int64]*models.Agent
	positions map[int64]*models.Position

	reads    int
	batches  int
	scopes   int
	trailing map[int64][2]float64
	closes   []closeCall
	posErr   map[int64]error
	// commitErr: Batch выполняет fn, но коммит падает
	commitErr error

	entered    chan struct{}
	gate       chan struct{}
	closePanic bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		agents:    map[int64]*models.Agent{},
		positions: map[int64]*models.Position{},
		trailing:  map[int64][2]float64{},
		posErr:    map[int64]error{},
	}
}

func (s *fakeStore) addAgent(id int64, status string) {
	s.agents[id] = &models.Agent{ID: id, Name: "agent", Status: status, CurrentBalance: 1000}
}

func (s *fakeStore) addPosition(p models.Position) {
	cp := p
	s.positions[p.ID] = &cp
}

func (s *fakeStore) ListActiveAgentsWithPositions(context.Context) ([]models.WatchedPosition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.WatchedPosition
	for _, p := range s.positions {
		a := s.agents[p.AgentID]
		if !a.Active() {
			continue
		}
		out = append(out, models.WatchedPosition{
			AgentID: p.AgentID, PositionID: p.ID, InstrumentID: p.InstrumentID, Symbol: p.Symbol, Amount: p.Amount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PositionID < out[j].PositionID })
	return out, nil
}

func (s *fakeStore) Batch(ctx context.Context, fn func(ctx context.Context, b Batch) error) error {
	s.mu.Lock()
	s.batches++
	entered, gate := s.entered, s.gate
	s.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	if err := fn(ctx, s); err != nil {
		return err
	}
	return s.commitErr
}

func (s *fakeStore) Scope(ctx context.Context, fn func(ctx context.Context, b Batch) error) error {
	s.mu.Lock()
	s.scopes++
	s.mu.Unlock()
	return fn(ctx, s)
}

func (s *fakeStore) GetAgent(_ context.Context, id int64) (*models.Agent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	a, ok := s.agents[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *fakeStore) GetPosition(_ context.Context, id int64) (*models.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	if err := s.posErr[id]; err != nil {
		return nil, err
	}
	p, ok := s.positions[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *fakeStore) UpdateTrailing(_ context.Context, id int64, stop, extreme float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.trailing[id] = [2]float64{stop, extreme}
	return nil
}

func (s *fakeStore) ClosePosition(_ context.Context, agent *models.Agent, pos *models.Position, price float64, reason models.CloseReason) (models.CloseAction, error) {
	if s.closePanic {
		panic("close exploded")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes = append(s.closes, closeCall{positionID: pos.ID, price: price, reason: reason})
	delete(s.positions, pos.ID)
	return models.CloseAction{
		Action:     "close_" + string(pos.Type),
		Reason:     reason,
		AgentID:    agent.ID,
		PositionID: pos.ID,
		Coin:       pos.InstrumentID,
		Symbol:     pos.Symbol,
		Price:      price,
		Amount:     pos.Amount,
		ProfitLoss: pos.PnL(price),
	}, nil
}

func (s *fakeStore) snapshot() (reads, batches int, closes []closeCall) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads, s.batches, append([]closeCall(nil), s.closes...)
}

type fakeLock struct{ held atomic.Bool }

func (l *fakeLock) TryLock() bool { return l.held.CompareAndSwap(false, true) }
func (l *fakeLock) Unlock()       { l.held.Store(false) }

type fakeTicks struct {
	mu   sync.Mutex
	subs []streamsvc.TickSubscriber
}

func (t *fakeTicks) Register(s streamsvc.TickSubscriber) {
	t.mu.Lock()
	t.subs = append(t.subs, s)
	t.mu.Unlock()
}

func (t *fakeTicks) Unregister(s streamsvc.TickSubscriber) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, cur := range t.subs {
		if cur == s {
			t.subs = append(t.subs[:i], t.subs[i+1:]...)
			return
		}
	}
}

func (t *fakeTicks) count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

type fakeBroadcaster struct {
	mu     sync.Mutex
	events []models.RiskEvent
}

func (b *fakeBroadcaster) Broadcast(_ context.Context, ev models.RiskEvent) error {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	return nil
}

func (b *fakeBroadcaster) all() []models.RiskEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]models.RiskEvent(nil), b.events...)
}

type staticPrices map[string]float64

func (p staticPrices) AllPrices() map[string]float64 { return p }
