package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"futures_bot/internal/models"
	"futures_bot/pkg/tracing"
	"futures_bot/pkg/workerpool"

	"go.uber.org/zap"
)

const (
	BusyDrop   = "drop"
	BusyQueue1 = "queue1"
)

var errLocked = errors.New("trading lock is held")

type Options struct {
	RefreshInterval time.Duration
	BusyPolicy      string
}

type Deps struct {
	Store       Store
	Closer      Closer
	Broadcaster Broadcaster
	Lock        TradingLock
	Ticks       TickSource
	Pool        *workerpool.Pool
}

// Monitor реагирует на тики mark-цен: фильтрует по watchlist и отдаёт проверку
// позиций в пул. Одновременно в полёте не больше одной проверки.
type Monitor struct {
	opt  Options
	deps Deps
	log  *zap.Logger
	now  func() time.Time

	watch *Watchlist

	active atomic.Bool
	busy   atomic.Bool
	// lifeMu: Stop не должен начать Wait, пока OnTick между проверкой active и inflight.Add
	lifeMu sync.RWMutex

	// queue1: последняя пачка, пришедшая пока проверка в полёте
	pendingMu sync.Mutex
	pending   map[string]float64

	inflight  sync.WaitGroup
	refreshCh chan struct{}
	cancel    context.CancelFunc
	loopDone  chan struct{}

	startedAt atomic.Int64
	stats     counters
}

type counters struct {
	ticksReceived  atomic.Int64
	ticksProcessed atomic.Int64
	skippedNoMatch atomic.Int64
	skippedBusy    atomic.Int64
	skippedLocked  atomic.Int64
	queued         atomic.Int64
	actions        atomic.Int64
	checkErrors    atomic.Int64
	lastCheckUs    atomic.Int64
	sweeps         atomic.Int64
	sweepsSkipped  atomic.Int64
	refreshes      atomic.Int64
}

func NewMonitor(opt Options, deps Deps, log *zap.Logger) *Monitor {
	if log == nil {
		log = zap.NewNop()
	}
	if opt.RefreshInterval <= 0 {
		opt.RefreshInterval = 30 * time.Second
	}
	if opt.BusyPolicy == "" {
		opt.BusyPolicy = BusyDrop
	}
	if deps.Pool == nil {
		deps.Pool = workerpool.New(1)
	}
	return &Monitor{
		opt:       opt,
		deps:      deps,
		log:       log.Named("risk_monitor"),
		now:       time.Now,
		watch:     NewWatchlist(),
		refreshCh: make(chan struct{}, 1),
	}
}

func (m *Monitor) Watchlist() *Watchlist { return m.watch }

// Start строит watchlist синхронно и подписывается на тики.
func (m *Monitor) Start(ctx context.Context) error {
	if m.active.Swap(true) {
		return nil
	}
	m.startedAt.Store(m.now().UnixNano())

	if err := m.deps.Pool.Do(ctx, m.rebuild); err != nil {
		// стартуем с пустым watchlist, фоновый рефреш подтянет позиции
		m.log.Error("initial watchlist build failed", zap.Error(err))
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.loopDone = make(chan struct{})
	go m.refreshLoop(loopCtx, m.loopDone)

	m.deps.Ticks.Register(m)

	symbols, positions := m.watch.Counts()
	m.log.Info("reactive risk monitor started",
		zap.Int("symbols", symbols),
		zap.Int("positions", positions),
		zap.String("busy_policy", m.opt.BusyPolicy),
	)
	return nil
}

// Stop отписывается от тиков и ждёт уже отправленную проверку: её коммит должен дойти.
func (m *Monitor) Stop() {
	if !m.active.Swap(false) {
		return
	}
	// барьер: дожидаемся OnTick, который уже прошёл проверку active
	m.lifeMu.Lock()
	m.lifeMu.Unlock()
	m.deps.Ticks.Unregister(m)
	if m.cancel != nil {
		m.cancel()
		<-m.loopDone
	}
	m.inflight.Wait()

	m.log.Info("reactive risk monitor stopped",
		zap.Int64("ticks_processed", m.stats.ticksProcessed.Load()),
		zap.Int64("actions_taken", m.stats.actions.Load()),
	)
}

// Refresh просит внеочередную пересборку watchlist. Не блокирует, повторные запросы склеиваются.
func (m *Monitor) Refresh() {
	if !m.active.Load() {
		return
	}
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}

func (m *Monitor) refreshLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(m.opt.RefreshInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.refreshCh:
		case <-t.C:
		}
		if err := m.deps.Pool.Do(ctx, m.rebuild); err != nil && ctx.Err() == nil {
			m.log.Error("watchlist refresh failed", zap.Error(err))
		}
	}
}

func (m *Monitor) rebuild(ctx context.Context) error {
	rows, err := m.deps.Store.ListActiveAgentsWithPositions(ctx)
	if err != nil {
		return fmt.Errorf("list positions: %w", err)
	}
	symbols, positions := m.watch.Replace(rows, m.now())
	m.stats.refreshes.Add(1)
	if positions > 0 {
		m.log.Debug("watchlist rebuilt", zap.Int("symbols", symbols), zap.Int("positions", positions))
	}
	return nil
}

// OnTick вызывается из горутины чтения стрима: только фильтр и CAS, никакого I/O.
func (m *Monitor) OnTick(prices map[string]float64) {
	if !m.active.Load() {
		return
	}
	m.stats.ticksReceived.Add(1)

	relevant := m.watch.Match(prices)
	if len(relevant) == 0 {
		m.stats.skippedNoMatch.Add(1)
		return
	}

	if !m.busy.CompareAndSwap(false, true) {
		m.stats.skippedBusy.Add(1)
		if m.opt.BusyPolicy == BusyQueue1 {
			m.pendingMu.Lock()
			if m.busy.Load() {
				m.pending = relevant
				m.stats.queued.Add(1)
			}
			m.pendingMu.Unlock()
		}
		return
	}

	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	if !m.active.Load() {
		m.busy.Store(false)
		return
	}
	m.dispatch(relevant)
}

// dispatch вызывается с уже выставленным busy. Снимает его только complete.
func (m *Monitor) dispatch(prices map[string]float64) {
	m.inflight.Add(1)
	m.deps.Pool.Go(context.Background(), func(ctx context.Context) error {
		return m.reactiveCheck(ctx, prices)
	}, m.complete)
}

func (m *Monitor) complete(err error) {
	defer m.inflight.Done()
	if err != nil {
		m.log.Error("reactive check failed", zap.Error(err))
	}

	m.pendingMu.Lock()
	next := m.pending
	m.pending = nil
	if next == nil || !m.active.Load() {
		m.busy.Store(false)
		m.pendingMu.Unlock()
		return
	}
	m.pendingMu.Unlock()

	// busy остаётся выставленным: слот переходит к отложенной пачке
	m.dispatch(next)
}

func (m *Monitor) reactiveCheck(ctx context.Context, prices map[string]float64) error {
	actions, err := m.check(ctx, prices)
	switch {
	case errors.Is(err, errLocked):
		m.stats.skippedLocked.Add(1)
		return nil
	case err != nil:
		m.publish(ctx, models.SourceReactive, actions)
		return err
	}
	m.stats.ticksProcessed.Add(1)
	m.publish(ctx, models.SourceReactive, actions)
	return nil
}

// check: сама проверка под торговым локом. Возвращает errLocked, если лок занят.
func (m *Monitor) check(ctx context.Context, prices map[string]float64) (actions []models.CloseAction, err error) {
	span, ctx := tracing.StartSpan(ctx, "risk.check")
	defer func() {
		if !errors.Is(err, errLocked) {
			tracing.Finish(span, err)
		} else {
			span.Finish()
		}
	}()

	t0 := time.Now()
	if !m.deps.Lock.TryLock() {
		return nil, errLocked
	}
	defer m.deps.Lock.Unlock()

	if m.watch.Age(m.now()) > m.opt.RefreshInterval {
		if err := m.rebuild(ctx); err != nil {
			m.log.Error("periodic watchlist refresh failed", zap.Error(err))
		}
	}

	cands := m.watch.Candidates(prices)
	err = m.deps.Store.Batch(ctx, func(ctx context.Context, b Batch) error {
		for _, c := range cands {
			var a *models.CloseAction
			err := b.Scope(ctx, func(ctx context.Context, b Batch) error {
				var err error
				a, err = m.checkOne(ctx, b, c)
				return err
			})
			if err != nil {
				m.stats.checkErrors.Add(1)
				m.log.Error("position check failed",
					zap.Int64("agent_id", c.AgentID),
					zap.Int64("position_id", c.PositionID),
					zap.String("symbol", c.Symbol),
					zap.Error(err),
				)
				continue
			}
			if a != nil {
				actions = append(actions, *a)
			}
		}
		return nil
	})

	// закрытия коммитятся отдельно от пачки: учитываем их и при ошибке коммита
	if len(actions) > 0 {
		m.stats.actions.Add(int64(len(actions)))
		if err := m.rebuild(ctx); err != nil {
			m.log.Error("watchlist rebuild after close failed", zap.Error(err))
		}
	}
	m.stats.lastCheckUs.Store(time.Since(t0).Microseconds())
	if err != nil {
		return actions, fmt.Errorf("commit batch: %w", err)
	}
	return actions, nil
}

// checkOne проверяет одну позицию, паника превращается в ошибку этой позиции.
func (m *Monitor) checkOne(ctx context.Context, b Batch, c Candidate) (action *models.CloseAction, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	agent, err := b.GetAgent(ctx, c.AgentID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	if !agent.Active() {
		return nil, nil
	}

	pos, err := b.GetPosition(ctx, c.PositionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get position: %w", err)
	}
	if !pos.Open() || pos.AgentID != agent.ID {
		return nil, nil
	}

	v := evaluate(pos, c.Price)
	switch {
	case v.close:
		a, err := m.deps.Closer.ClosePosition(ctx, agent, pos, c.Price, v.reason)
		if errors.Is(err, models.ErrNotFound) {
			// закрыли параллельно торговым циклом
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("close %s: %w", v.reason, err)
		}
		m.log.Info("position closed",
			zap.String("action", a.Action),
			zap.String("reason", string(v.reason)),
			zap.String("symbol", c.Symbol),
			zap.Float64("price", c.Price),
			zap.Float64("pnl", a.ProfitLoss),
		)
		return &a, nil
	case v.trail:
		if err := b.UpdateTrailing(ctx, pos.ID, v.stopLoss, v.extreme); err != nil {
			return nil, fmt.Errorf("update trailing: %w", err)
		}
	}
	return nil, nil
}

func (m *Monitor) publish(ctx context.Context, source string, actions []models.CloseAction) {
	if m.deps.Broadcaster == nil {
		return
	}
	for _, a := range actions {
		if err := m.deps.Broadcaster.Broadcast(ctx, models.NewRiskEvent(source, a)); err != nil {
			m.log.Error("risk event broadcast failed", zap.Int64("position_id", a.PositionID), zap.Error(err))
		}
	}
}
