package service

import (
	"reflect"
	"sync"

	"go.uber.org/zap"
)

// TickSubscriber получает каждую пачку mark-цен.
// OnTick вызывается синхронно из горутины чтения стрима: блокировать нельзя.
// Карта prices только для чтения и общая для всех подписчиков.
type TickSubscriber interface {
	OnTick(prices map[string]float64)
}

// TickBroadcaster: реестр подписчиков на тики.
type TickBroadcaster struct {
	log *zap.Logger

	mu   sync.Mutex
	subs []TickSubscriber // copy-on-write
}

func NewTickBroadcaster(log *zap.Logger) *TickBroadcaster {
	if log == nil {
		log = zap.NewNop()
	}
	return &TickBroadcaster{log: log}
}

// Register добавляет подписчика; повторная регистрация того же подписчика: no-op.
func (b *TickBroadcaster) Register(s TickSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, cur := range b.subs {
		if same(cur, s) {
			return
		}
	}
	next := make([]TickSubscriber, 0, len(b.subs)+1)
	next = append(next, b.subs...)
	b.subs = append(next, s)
	b.log.Info("tick subscriber registered", zap.Int("total", len(b.subs)))
}

func (b *TickBroadcaster) Unregister(s TickSubscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, cur := range b.subs {
		if !same(cur, s) {
			continue
		}
		next := make([]TickSubscriber, 0, len(b.subs)-1)
		next = append(next, b.subs[:i]...)
		b.subs = append(next, b.subs[i+1:]...)
		b.log.Info("tick subscriber removed", zap.Int("remaining", len(b.subs)))
		return
	}
}

func (b *TickBroadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dispatch вызывает подписчиков по порядку регистрации, без удержания мьютекса.
// Паника одного подписчика не мешает остальным.
func (b *TickBroadcaster) Dispatch(prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()

	for _, s := range subs {
		b.safeCall(s, prices)
	}
}

func (b *TickBroadcaster) safeCall(s TickSubscriber, prices map[string]float64) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("tick subscriber panic", zap.Any("panic", r))
		}
	}()
	s.OnTick(prices)
}

// same: подписчики сравниваются по идентичности; некомпарабельные значения никогда не равны.
func same(a, b TickSubscriber) bool {
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}
