package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"futures_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeExchange struct {
	mu sync.Mutex

	bookCalls int
	book      func(call int) (models.BookTop, error)

	places  []models.OrderRequest
	placeFn func(n int, req models.OrderRequest) (models.PlaceResult, error)

	polls    map[string]int
	statusFn func(id string, poll int, cancelled bool) (models.OrderState, error)

	cancels  []string
	cancelOK bool
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		polls:    map[string]int{},
		cancelOK: true,
		book: func(int) (models.BookTop, error) {
			return models.BookTop{BestBid: 65000, BestAsk: 65001}, nil
		},
	}
}

func (f *fakeExchange) PlaceOrder(_ context.Context, req models.OrderRequest) (models.PlaceResult, error) {
	f.mu.Lock()
	f.places = append(f.places, req)
	n := len(f.places)
	fn := f.placeFn
	f.mu.Unlock()
	if fn != nil {
		return fn(n, req)
	}
	return models.PlaceResult{OrderID: "o" + string(rune('0'+n)), Status: "NEW"}, nil
}

func (f *fakeExchange) CancelOrder(_ context.Context, _ string, id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancels = append(f.cancels, id)
	return f.cancelOK, nil
}

func (f *fakeExchange) GetOrderStatus(_ context.Context, _ string, id string) (models.OrderState, error) {
	f.mu.Lock()
	f.polls[id]++
	n := f.polls[id]
	cancelled := false
	for _, c := range f.cancels {
		if c == id {
			cancelled = true
		}
	}
	fn := f.statusFn
	f.mu.Unlock()
	if fn != nil {
		return fn(id, n, cancelled)
	}
	return models.OrderState{Status: "NEW"}, nil
}

func (f *fakeExchange) GetBestPrice(context.Context, string) (models.BookTop, error) {
	f.mu.Lock()
	f.bookCalls++
	n := f.bookCalls
	fn := f.book
	f.mu.Unlock()
	return fn(n)
}

func (f *fakeExchange) placed() []models.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.OrderRequest(nil), f.places...)
}

func (f *fakeExchange) cancelled() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancels...)
}

func fastConfig() Config {
	c := DefaultConfig()
	c.MaxWait = 40 * time.Millisecond
	c.PollInterval = 5 * time.Millisecond
	return c
}

func TestExecuteFilledOnFirstPoll(t *testing.T) {
	ex := newFakeExchange()
	ex.statusFn = func(string, int, bool) (models.OrderState, error) {
		return models.OrderState{Status: "FILLED", ExecutedQty: 0.01, AvgPrice: 64993.5}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, models.OrderFilled, o.Status())
	qty, avg := o.Fill()
	assert.Equal(t, 0.01, qty)
	assert.Equal(t, 64993.5, avg)
	assert.Equal(t, 1, o.Attempt)

	places := ex.placed()
	require.Len(t, places, 1)
	assert.True(t, places[0].PostOnly)
	assert.Equal(t, 64993.5, places[0].Price)
	assert.True(t, strings.HasPrefix(places[0].ClientOrderID, "mk-"))

	st := e.Stats()
	assert.EqualValues(t, 1, st.Attempts)
	assert.EqualValues(t, 1, st.Fills)
	assert.Zero(t, st.Pending)
	assert.Zero(t, e.PendingCount())
}

func TestAdverseMoveCancelsBeforeTimeout(t *testing.T) {
	ex := newFakeExchange()
	ex.book = func(call int) (models.BookTop, error) {
		if call == 1 {
			return models.BookTop{BestBid: 64990, BestAsk: 64991}, nil
		}
		return models.BookTop{BestBid: 65199, BestAsk: 65201}, nil
	}
	cfg := DefaultConfig()
	cfg.PriceOffsetBps = 0
	cfg.MaxRetries = 1
	cfg.FallbackToIOC = false
	cfg.PollInterval = 5 * time.Millisecond
	cfg.MaxWait = 5 * time.Second
	e := NewEngine(cfg, ex, zap.NewNop())

	start := time.Now()
	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Less(t, time.Since(start), time.Second)

	assert.Equal(t, 64990.0, ex.placed()[0].Price)
	assert.Equal(t, []string{"o1"}, ex.cancelled())
	st := e.Stats()
	assert.EqualValues(t, 1, st.AdverseCancels)
	assert.EqualValues(t, 1, st.Cancels)
	assert.Zero(t, st.Expired)
}

func TestTwoExpiredAttemptsThenSingleFallback(t *testing.T) {
	ex := newFakeExchange()
	ex.placeFn = func(n int, req models.OrderRequest) (models.PlaceResult, error) {
		if req.Price == 0 {
			return models.PlaceResult{OrderID: "mkt", Status: "FILLED", ExecutedQty: 0.01, HasExecuted: true, AvgPrice: 65010}, nil
		}
		return models.PlaceResult{OrderID: "lim" + string(rune('0'+n)), Status: "NEW"}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)

	places := ex.placed()
	require.Len(t, places, 3)
	assert.True(t, places[0].PostOnly)
	assert.True(t, places[1].PostOnly)
	assert.False(t, places[2].PostOnly)
	assert.Zero(t, places[2].Price)

	assert.Equal(t, "mkt", o.OrderID)
	assert.Equal(t, models.OrderFilled, o.Status())
	qty, avg := o.Fill()
	assert.Equal(t, 0.01, qty)
	assert.Equal(t, 65010.0, avg)

	st := e.Stats()
	assert.EqualValues(t, 2, st.Attempts)
	assert.EqualValues(t, 2, st.Expired)
	assert.EqualValues(t, 1, st.Fallbacks)
	assert.Zero(t, e.PendingCount())
}

func TestExpiredMarketFallbackReturnsNil(t *testing.T) {
	ex := newFakeExchange()
	ex.placeFn = func(n int, req models.OrderRequest) (models.PlaceResult, error) {
		if req.Price == 0 {
			return models.PlaceResult{OrderID: "mkt", Status: "EXPIRED", ExecutedQty: 0, HasExecuted: true}, nil
		}
		return models.PlaceResult{OrderID: "lim" + string(rune('0'+n)), Status: "NEW"}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Len(t, ex.placed(), 3)

	st := e.Stats()
	assert.EqualValues(t, 1, st.Fallbacks)
	assert.Zero(t, st.Fills)
}

func TestMarketFallbackWithoutExecutedQtyUsesRequested(t *testing.T) {
	ex := newFakeExchange()
	ex.placeFn = func(n int, req models.OrderRequest) (models.PlaceResult, error) {
		if req.Price == 0 {
			return models.PlaceResult{OrderID: "mkt", Status: "FILLED"}, nil
		}
		return models.PlaceResult{OrderID: "lim" + string(rune('0'+n)), Status: "NEW"}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideSell, 0.02, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, models.OrderFilled, o.Status())
	qty, _ := o.Fill()
	assert.Equal(t, 0.02, qty)
}

func TestExhaustedWithoutFallbackReturnsNil(t *testing.T) {
	ex := newFakeExchange()
	cfg := fastConfig()
	cfg.FallbackToIOC = false
	e := NewEngine(cfg, ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "ETHUSDT", models.SideSell, 1, 3200)
	require.NoError(t, err)
	assert.Nil(t, o)
	assert.Len(t, ex.placed(), 2)
	assert.Zero(t, e.Stats().Fallbacks)
}

func TestPartialFillIsTerminalSuccess(t *testing.T) {
	ex := newFakeExchange()
	ex.statusFn = func(_ string, poll int, _ bool) (models.OrderState, error) {
		if poll == 1 {
			return models.OrderState{Status: "PARTIALLY_FILLED", ExecutedQty: 0}, nil
		}
		return models.OrderState{Status: "PARTIALLY_FILLED", ExecutedQty: 0.004, AvgPrice: 64993}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)

	assert.Equal(t, models.OrderPartiallyFilled, o.Status())
	assert.True(t, o.Status().Terminal())
	qty, _ := o.Fill()
	assert.Equal(t, 0.004, qty)
	assert.Equal(t, []string{"o1"}, ex.cancelled(), "the resting remainder is cancelled")
	assert.Len(t, ex.placed(), 1)
}

func TestRejectedPlacementMovesToNextAttempt(t *testing.T) {
	ex := newFakeExchange()
	ex.placeFn = func(n int, _ models.OrderRequest) (models.PlaceResult, error) {
		switch n {
		case 1:
			return models.PlaceResult{}, nil
		case 2:
			return models.PlaceResult{}, errors.New("-5022 post only rejected")
		}
		return models.PlaceResult{OrderID: "ok", Status: "FILLED", ExecutedQty: 1, HasExecuted: true, AvgPrice: 3199}, nil
	}
	cfg := fastConfig()
	cfg.MaxRetries = 3
	e := NewEngine(cfg, ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "ETHUSDT", models.SideSell, 1, 3200)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, 3, o.Attempt)
	assert.Equal(t, models.OrderFilled, o.Status())

	st := e.Stats()
	assert.EqualValues(t, 2, st.Rejects)
	assert.EqualValues(t, 3, st.Attempts)
}

func TestImmediatelyExpiredPostOnlyRetries(t *testing.T) {
	ex := newFakeExchange()
	ex.placeFn = func(n int, req models.OrderRequest) (models.PlaceResult, error) {
		if n == 1 {
			return models.PlaceResult{OrderID: "gtx", Status: "EXPIRED"}, nil
		}
		return models.PlaceResult{OrderID: "o2", Status: "NEW"}, nil
	}
	ex.statusFn = func(string, int, bool) (models.OrderState, error) {
		return models.OrderState{Status: "FILLED", ExecutedQty: 0.01, AvgPrice: 65000}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, "o2", o.OrderID)
	assert.Equal(t, 2, o.Attempt)
}

func TestFillRacingCancelIsReturned(t *testing.T) {
	ex := newFakeExchange()
	ex.cancelOK = false
	ex.statusFn = func(_ string, _ int, cancelled bool) (models.OrderState, error) {
		if cancelled {
			return models.OrderState{Status: "FILLED", ExecutedQty: 0.01, AvgPrice: 64993.5}, nil
		}
		return models.OrderState{Status: "NEW"}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Equal(t, models.OrderFilled, o.Status())
	assert.Len(t, ex.placed(), 1, "no duplicate order after a lost cancel race")
	assert.Zero(t, e.Stats().Expired)
}

func TestCancelAllAbortsExecute(t *testing.T) {
	ex := newFakeExchange()
	cfg := fastConfig()
	cfg.MaxWait = 5 * time.Second
	e := NewEngine(cfg, ex, zap.NewNop())

	type result struct {
		o   *models.MakerOrder
		err error
	}
	done := make(chan result, 1)
	go func() {
		o, err := e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0.01, 65000)
		done <- result{o, err}
	}()

	require.Eventually(t, func() bool { return e.PendingCount() == 1 }, time.Second, 2*time.Millisecond)
	assert.Zero(t, e.CancelAll(context.Background(), "ETHUSDT"))
	assert.Equal(t, 1, e.CancelAll(context.Background(), "BTCUSDT"))
	assert.Zero(t, e.PendingCount())

	select {
	case r := <-done:
		require.NoError(t, r.err)
		assert.Nil(t, r.o)
	case <-time.After(2 * time.Second):
		t.Fatal("execute did not stop after CancelAll")
	}
	assert.Len(t, ex.placed(), 1, "no retry and no fallback after operator cancel")
	assert.EqualValues(t, 1, e.Stats().Cancels)
}

func TestExecuteContextCancelled(t *testing.T) {
	ex := newFakeExchange()
	cfg := fastConfig()
	cfg.MaxWait = 5 * time.Second
	e := NewEngine(cfg, ex, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		for e.PendingCount() == 0 {
			time.Sleep(time.Millisecond)
		}
		cancel()
	}()

	o, err := e.Execute(ctx, "BTCUSDT", models.SideBuy, 0.01, 65000)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, o)
	assert.Equal(t, []string{"o1"}, ex.cancelled())
	assert.Zero(t, e.PendingCount())
}

func TestExecuteRejectsBadInput(t *testing.T) {
	e := NewEngine(DefaultConfig(), newFakeExchange(), zap.NewNop())
	_, err := e.Execute(context.Background(), "BTCUSDT", models.SideNone, 1, 65000)
	assert.ErrorIs(t, err, ErrInvalidOrder)
	_, err = e.Execute(context.Background(), "BTCUSDT", models.SideBuy, 0, 65000)
	assert.ErrorIs(t, err, ErrInvalidOrder)
}

func TestBestPriceFailureFallsBackToReference(t *testing.T) {
	ex := newFakeExchange()
	ex.book = func(int) (models.BookTop, error) { return models.BookTop{}, errors.New("timeout") }
	ex.statusFn = func(string, int, bool) (models.OrderState, error) {
		return models.OrderState{Status: "FILLED", ExecutedQty: 1, AvgPrice: 3200.32}, nil
	}
	e := NewEngine(fastConfig(), ex, zap.NewNop())

	_, err := e.Execute(context.Background(), "ETHUSDT", models.SideSell, 1, 3200)
	require.NoError(t, err)
	assert.Equal(t, 3200.32, ex.placed()[0].Price)
}
