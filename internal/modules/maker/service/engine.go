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

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrInvalidOrder = errors.New("invalid maker order")
	// ErrRejected: биржа не вернула id ордера.
	ErrRejected = errors.New("maker order rejected")
)

const clientIDPrefix = "mk-"

type outcome int

const (
	outcomeFailed  outcome = iota // следующая попытка
	outcomeFilled                 // Filled или PartiallyFilled с объёмом
	outcomeAborted                // CancelAll или отмена ctx: без ретраев и фолбэка
)

// liveness: что означает ответ биржи для ордера.
type liveness int

const (
	stateLive liveness = iota
	stateFilled
	statePartialLive // частично исполнен, остаток ещё стоит в стакане
	stateDead
)

// Engine размещает post-only лимитки, следит за ними, переставляет и
// при необходимости добивает рыночным ордером.
type Engine struct {
	cfg Config
	ex  Exchange
	log *zap.Logger

	mu      sync.Mutex
	pending map[string]*models.MakerOrder

	attempts       atomic.Int64
	fills          atomic.Int64
	cancels        atomic.Int64
	rejects        atomic.Int64
	expired        atomic.Int64
	adverseCancels atomic.Int64
	fallbacks      atomic.Int64
}

func NewEngine(cfg Config, ex Exchange, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		cfg:     cfg,
		ex:      ex,
		log:     log.Named("maker"),
		pending: make(map[string]*models.MakerOrder),
	}
}

func (e *Engine) Config() Config { return e.cfg }

// Execute исполняет объём maker-ордерами. Возвращает терминальный ордер с исполнением
// или nil, если исполнить не удалось. Ошибка: только на некорректный вход или отмену ctx.
func (e *Engine) Execute(ctx context.Context, symbol string, side models.Side, quantity, referencePrice float64) (_ *models.MakerOrder, err error) {
	if symbol == "" || !side.Valid() || quantity <= 0 || referencePrice <= 0 {
		return nil, fmt.Errorf("%w: symbol=%q side=%q qty=%v ref=%v", ErrInvalidOrder, symbol, side, quantity, referencePrice)
	}

	span, ctx := tracing.StartSpan(ctx, "maker.execute")
	span.SetTag("symbol", symbol)
	span.SetTag("side", string(side))
	defer func() { tracing.Finish(span, err) }()

	for attempt := 1; attempt <= e.cfg.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		e.attempts.Add(1)

		o, out := e.attempt(ctx, symbol, side, quantity, referencePrice, attempt)
		switch out {
		case outcomeFilled:
			qty, avg := o.Fill()
			e.log.Info("maker order filled",
				zap.String("symbol", symbol),
				zap.String("side", string(side)),
				zap.String("status", o.Status().String()),
				zap.Float64("filled_qty", qty),
				zap.Float64("avg_price", avg),
				zap.Int("attempt", attempt),
			)
			return o, nil
		case outcomeAborted:
			return nil, ctx.Err()
		}
		e.log.Info("maker attempt not filled",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Int("max_retries", e.cfg.MaxRetries),
			zap.String("status", o.Status().String()),
		)
	}

	if !e.cfg.FallbackToIOC {
		return nil, nil
	}
	return e.fallback(ctx, symbol, side, quantity), nil
}

func (e *Engine) attempt(ctx context.Context, symbol string, side models.Side, quantity, ref float64, attempt int) (*models.MakerOrder, outcome) {
	o := &models.MakerOrder{
		Symbol:     symbol,
		Side:       side,
		Quantity:   quantity,
		LimitPrice: e.limitPrice(ctx, symbol, side, ref),
		ClientID:   clientIDPrefix + uuid.NewString(),
		CreatedAt:  time.Now(),
		Attempt:    attempt,
		Metadata:   map[string]any{"reference_price": ref},
	}

	// размещение не отменяем: иначе ордер на бирже остаётся в неизвестном состоянии
	res, err := e.ex.PlaceOrder(context.WithoutCancel(ctx), models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		Price:         o.LimitPrice,
		PostOnly:      e.cfg.PostOnly,
		ClientOrderID: o.ClientID,
	})
	if err == nil && res.OrderID == "" {
		err = ErrRejected
	}
	if err != nil {
		o.Transition(models.OrderRejected)
		o.Metadata["error"] = err.Error()
		e.rejects.Add(1)
		e.log.Warn("maker order rejected",
			zap.String("symbol", symbol),
			zap.Float64("limit", o.LimitPrice),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return o, outcomeFailed
	}
	o.OrderID = res.OrderID
	o.Transition(models.OrderPlaced)

	e.register(o)
	defer e.deregister(o)

	e.log.Info("maker order placed",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", quantity),
		zap.Float64("limit", o.LimitPrice),
		zap.String("order_id", o.OrderID),
		zap.Int("attempt", attempt),
	)

	// GTX, который пересёк бы спред, биржа сразу возвращает EXPIRED
	if res.Status != "" {
		if out, done := e.settle(ctx, o, models.OrderState{
			Status: res.Status, ExecutedQty: res.ExecutedQty, AvgPrice: res.AvgPrice,
		}); done {
			return o, out
		}
	}
	return e.monitor(ctx, o)
}

func (e *Engine) limitPrice(ctx context.Context, symbol string, side models.Side, ref float64) float64 {
	base := ref
	top, err := e.ex.GetBestPrice(ctx, symbol)
	switch {
	case err != nil:
		e.log.Debug("best price lookup failed, using reference", zap.String("symbol", symbol), zap.Error(err))
	case side == models.SideBuy && top.BestBid > 0:
		base = top.BestBid
	case side == models.SideSell && top.BestAsk > 0:
		base = top.BestAsk
	}
	return LimitPrice(side, base, ref, e.cfg.PriceOffsetBps, e.cfg.PricePrecision)
}

// monitor опрашивает статус, пока ордер не исполнится, не умрёт, не уйдёт цена или не выйдет время.
// Опросы одного ордера строго последовательны.
func (e *Engine) monitor(ctx context.Context, o *models.MakerOrder) (*models.MakerOrder, outcome) {
	deadline := time.Now().Add(e.cfg.MaxWait)
	for {
		if o.Status().Terminal() {
			// снят через CancelAll
			return o, outcomeAborted
		}
		wait := min(e.cfg.PollInterval, time.Until(deadline))
		if wait <= 0 {
			break
		}
		if err := sleepCtx(ctx, wait); err != nil {
			e.safeCancel(context.WithoutCancel(ctx), o)
			o.Transition(models.OrderCancelled)
			return o, outcomeAborted
		}
		if o.Status().Terminal() {
			return o, outcomeAborted
		}

		st, err := e.ex.GetOrderStatus(ctx, o.Symbol, o.OrderID)
		if err != nil {
			e.log.Warn("maker status poll failed", zap.String("order_id", o.OrderID), zap.Error(err))
			continue
		}
		if out, done := e.settle(ctx, o, st); done {
			return o, out
		}

		top, err := e.ex.GetBestPrice(ctx, o.Symbol)
		if err != nil {
			continue
		}
		mid := top.Mid()
		if mid <= 0 {
			continue
		}
		if adverse := AdverseMovePct(o.Side, o.LimitPrice, mid); adverse > e.cfg.MaxAdversePct {
			e.log.Info("adverse move, cancelling maker order",
				zap.String("order_id", o.OrderID),
				zap.Float64("adverse_pct", adverse),
				zap.Float64("max_pct", e.cfg.MaxAdversePct),
				zap.Float64("mid", mid),
			)
			return e.selfCancel(ctx, o, models.OrderCancelled)
		}
	}

	e.log.Info("maker order timed out", zap.String("order_id", o.OrderID), zap.Duration("max_wait", e.cfg.MaxWait))
	return e.selfCancel(ctx, o, models.OrderExpired)
}

// settle применяет ответ биржи. done=false: ордер ещё живой, ждём дальше.
func (e *Engine) settle(ctx context.Context, o *models.MakerOrder, st models.OrderState) (outcome, bool) {
	switch e.apply(o, st) {
	case stateFilled:
		e.fills.Add(1)
		return outcomeFilled, true
	case statePartialLive:
		// остаток в стакане не оставляем
		e.safeCancel(context.WithoutCancel(ctx), o)
		e.fills.Add(1)
		return outcomeFilled, true
	case stateDead:
		if !e.isPending(o) {
			return outcomeAborted, true
		}
		return outcomeFailed, true
	}
	return outcomeFailed, false
}

// apply переводит ордер по статусу биржи. Исполненный объём сохраняется всегда.
func (e *Engine) apply(o *models.MakerOrder, st models.OrderState) liveness {
	o.SetFill(st.ExecutedQty, st.AvgPrice)
	qty, _ := o.Fill()

	switch s := models.ParseExchangeStatus(st.Status); s {
	case models.OrderFilled:
		if o.Transition(models.OrderFilled) {
			return stateFilled
		}
		return stateDead
	case models.OrderPartiallyFilled:
		if qty > 0 && o.Transition(models.OrderPartiallyFilled) {
			return statePartialLive
		}
		return stateLive
	case models.OrderCancelled, models.OrderExpired, models.OrderRejected:
		// снят после частичного исполнения: это тоже исполнение
		if qty > 0 && o.Transition(models.OrderPartiallyFilled) {
			return stateFilled
		}
		o.Transition(s)
		return stateDead
	}
	return stateLive
}

// selfCancel снимает ордер по таймауту/движению цены. Если отмена проиграла гонку
// исполнению, подтверждающее чтение статуса вернёт исполнение вместо повторного ордера.
func (e *Engine) selfCancel(ctx context.Context, o *models.MakerOrder, final models.OrderStatus) (*models.MakerOrder, outcome) {
	cctx := context.WithoutCancel(ctx)
	e.safeCancel(cctx, o)

	if e.cfg.ConfirmCancel && e.confirmFill(cctx, o) {
		e.fills.Add(1)
		return o, outcomeFilled
	}

	if !o.Transition(final) {
		// уже снят через CancelAll
		return o, outcomeAborted
	}
	e.cancels.Add(1)
	switch final {
	case models.OrderExpired:
		e.expired.Add(1)
		o.Metadata["cancel_reason"] = "timeout"
	case models.OrderCancelled:
		e.adverseCancels.Add(1)
		o.Metadata["cancel_reason"] = "adverse_move"
	}
	return o, outcomeFailed
}

// confirmFill: одно чтение статуса после отмены: было ли исполнение.
func (e *Engine) confirmFill(ctx context.Context, o *models.MakerOrder) bool {
	st, err := e.ex.GetOrderStatus(ctx, o.Symbol, o.OrderID)
	if err != nil {
		e.log.Warn("cancel confirmation failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return false
	}
	o.SetFill(st.ExecutedQty, st.AvgPrice)
	qty, _ := o.Fill()

	switch models.ParseExchangeStatus(st.Status) {
	case models.OrderFilled:
		return o.Transition(models.OrderFilled)
	case models.OrderPartiallyFilled:
		if qty > 0 && o.Transition(models.OrderPartiallyFilled) {
			e.safeCancel(ctx, o)
			return true
		}
	case models.OrderCancelled, models.OrderExpired, models.OrderRejected:
		return qty > 0 && o.Transition(models.OrderPartiallyFilled)
	default:
		e.log.Warn("maker order still live after cancel", zap.String("order_id", o.OrderID))
	}
	return false
}

// safeCancel: best-effort отмена на бирже. Статус ордера не трогает, ошибки глотает.
func (e *Engine) safeCancel(ctx context.Context, o *models.MakerOrder) bool {
	if o.OrderID == "" {
		return false
	}
	ok, err := e.ex.CancelOrder(ctx, o.Symbol, o.OrderID)
	if err != nil {
		e.log.Warn("maker cancel failed", zap.String("order_id", o.OrderID), zap.Error(err))
		return false
	}
	return ok
}

func (e *Engine) fallback(ctx context.Context, symbol string, side models.Side, quantity float64) *models.MakerOrder {
	e.fallbacks.Add(1)
	e.log.Warn("maker attempts exhausted, market fallback",
		zap.String("symbol", symbol),
		zap.String("side", string(side)),
		zap.Float64("qty", quantity),
		zap.Int("attempts", e.cfg.MaxRetries),
	)

	o := &models.MakerOrder{
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		ClientID:  clientIDPrefix + uuid.NewString(),
		CreatedAt: time.Now(),
		Attempt:   e.cfg.MaxRetries + 1,
		Metadata:  map[string]any{"fallback": "ioc"},
	}
	res, err := e.ex.PlaceOrder(context.WithoutCancel(ctx), models.OrderRequest{
		Symbol:        symbol,
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: o.ClientID,
	})
	if err != nil || res.OrderID == "" {
		e.log.Error("market fallback failed", zap.String("symbol", symbol), zap.Error(err))
		return nil
	}

	o.OrderID = res.OrderID
	st := models.OrderState{Status: res.Status, ExecutedQty: res.ExecutedQty, AvgPrice: res.AvgPrice}
	if !res.HasExecuted && models.ParseExchangeStatus(res.Status) == models.OrderFilled {
		// FILLED без executedQty: исполнен весь объём
		st.ExecutedQty = quantity
	}

	cctx := context.WithoutCancel(ctx)
	live := e.apply(o, st)
	if live == stateLive {
		// ответ без финального статуса: одно чтение статуса
		if st, err = e.ex.GetOrderStatus(cctx, symbol, o.OrderID); err == nil {
			live = e.apply(o, st)
		} else {
			e.log.Warn("market fallback status failed", zap.String("order_id", o.OrderID), zap.Error(err))
		}
	}

	switch live {
	case stateFilled:
	case statePartialLive:
		e.safeCancel(cctx, o)
	default:
		e.log.Error("market fallback not filled",
			zap.String("symbol", symbol),
			zap.String("order_id", o.OrderID),
			zap.String("status", res.Status),
		)
		return nil
	}
	e.fills.Add(1)
	return o
}

// CancelAll снимает все стоящие ордера по символу. Execute, чей ордер снят, завершается без ретраев.
func (e *Engine) CancelAll(ctx context.Context, symbol string) int {
	e.mu.Lock()
	var targets []*models.MakerOrder
	for _, o := range e.pending {
		if o.Symbol == symbol && o.Status() == models.OrderPlaced {
			targets = append(targets, o)
		}
	}
	e.mu.Unlock()

	n := 0
	for _, o := range targets {
		if !e.safeCancel(ctx, o) {
			continue
		}
		// переход и удаление из реестра: атомарно для Execute
		e.mu.Lock()
		if o.Transition(models.OrderCancelled) {
			delete(e.pending, o.OrderID)
			n++
			e.cancels.Add(1)
		}
		e.mu.Unlock()
	}
	if n > 0 {
		e.log.Info("maker orders cancelled", zap.String("symbol", symbol), zap.Int("count", n))
	}
	return n
}

func (e *Engine) register(o *models.MakerOrder) {
	e.mu.Lock()
	e.pending[o.OrderID] = o
	e.mu.Unlock()
}

func (e *Engine) deregister(o *models.MakerOrder) {
	e.mu.Lock()
	if cur, ok := e.pending[o.OrderID]; ok && cur == o {
		delete(e.pending, o.OrderID)
	}
	e.mu.Unlock()
}

func (e *Engine) isPending(o *models.MakerOrder) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.pending[o.OrderID] == o
}

func (e *Engine) PendingCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.pending)
}

func (e *Engine) Stats() models.MakerStats {
	return models.MakerStats{
		Attempts:       e.attempts.Load(),
		Fills:          e.fills.Load(),
		Cancels:        e.cancels.Load(),
		Rejects:        e.rejects.Load(),
		Expired:        e.expired.Load(),
		AdverseCancels: e.adverseCancels.Load(),
		Fallbacks:      e.fallbacks.Load(),
		Pending:        e.PendingCount(),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
