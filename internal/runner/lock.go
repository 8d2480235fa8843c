package runner

import (
	"context"
	"sync"
	"time"
)

// TradingLock: общий лок торгового цикла и риск-монитора.
// Торговый цикл ждёт его через Lock/LockContext, реактивный путь берёт только TryLock.
type TradingLock struct {
	mu sync.Mutex
}

func NewTradingLock() *TradingLock { return &TradingLock{} }

func (l *TradingLock) TryLock() bool { return l.mu.TryLock() }

func (l *TradingLock) Lock() { l.mu.Lock() }

func (l *TradingLock) Unlock() { l.mu.Unlock() }

// LockContext ждёт лок, пока не отменён ctx.
func (l *TradingLock) LockContext(ctx context.Context) error {
	if l.mu.TryLock() {
		return nil
	}
	t := time.NewTicker(10 * time.Millisecond)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			if l.mu.TryLock() {
				return nil
			}
		}
	}
}
