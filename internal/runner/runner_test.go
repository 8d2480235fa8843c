package runner

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"futures_bot/internal/models"
	risksvc "futures_bot/internal/modules/risk_monitor/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var _ risksvc.TradingLock = (*TradingLock)(nil)

func TestTradingLock(t *testing.T) {
	l := NewTradingLock()
	require.True(t, l.TryLock())
	assert.False(t, l.TryLock())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, l.LockContext(ctx), context.DeadlineExceeded)

	go func() {
		time.Sleep(20 * time.Millisecond)
		l.Unlock()
	}()
	require.NoError(t, l.LockContext(context.Background()))
	l.Unlock()
}

type fakeSweeper struct {
	calls atomic.Int32
}

func (s *fakeSweeper) Sweep(context.Context, risksvc.PriceSource) (int, error) {
	s.calls.Add(1)
	return 0, nil
}

type fakeWatched []string

func (w fakeWatched) Symbols() []string { return w }

type fakeFeed struct {
	mu        sync.Mutex
	fresh     bool
	state     models.FeedState
	symbols   []string
	intervals []string
	syncs     int
}

func (f *fakeFeed) AllPrices() map[string]float64 { return map[string]float64{"BTCUSDT": 65000} }

func (f *fakeFeed) PricesFresh() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fresh
}

func (f *fakeFeed) State() models.FeedState { return f.state }

func (f *fakeFeed) SyncKlineSubscriptions(symbols, intervals []string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.syncs++
	f.symbols, f.intervals = symbols, intervals
	return len(symbols) * len(intervals), 0, nil
}

func TestSweepOnlyWhenFresh(t *testing.T) {
	sw := &fakeSweeper{}
	feed := &fakeFeed{}
	r := New(Options{}, sw, fakeWatched{}, feed, zap.NewNop())

	r.sweep(context.Background())
	assert.Zero(t, sw.calls.Load())

	feed.fresh = true
	r.sweep(context.Background())
	assert.Equal(t, int32(1), sw.calls.Load())
}

func TestSyncKlines(t *testing.T) {
	feed := &fakeFeed{state: models.FeedDisconnected}
	r := New(Options{KlineIntervals: []string{"1m", "5m"}}, &fakeSweeper{}, fakeWatched{"BTCUSDT", "ETHUSDT"}, feed, zap.NewNop())

	r.syncKlines(context.Background())
	assert.Zero(t, feed.syncs, "skipped while disconnected")

	feed.state = models.FeedConnected
	r.syncKlines(context.Background())
	assert.Equal(t, 1, feed.syncs)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT"}, feed.symbols)
	assert.Equal(t, []string{"1m", "5m"}, feed.intervals)
}

func TestStartStop(t *testing.T) {
	sw := &fakeSweeper{}
	feed := &fakeFeed{fresh: true, state: models.FeedConnected}
	r := New(Options{
		SweepInterval:   5 * time.Millisecond,
		KlineSyncPeriod: 5 * time.Millisecond,
		KlineIntervals:  []string{"1m"},
	}, sw, fakeWatched{"BTCUSDT"}, feed, zap.NewNop())

	r.Start(context.Background())
	require.Eventually(t, func() bool {
		feed.mu.Lock()
		defer feed.mu.Unlock()
		return sw.calls.Load() >= 2 && feed.syncs >= 2
	}, time.Second, 5*time.Millisecond)
	r.Stop()

	n := sw.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, sw.calls.Load(), "no jobs after Stop")
}
