// Package workerpool: ограниченный пул для блокирующей работы (БД, синхронные
// клиенты), чтобы горутина чтения стрима никогда не ждала на них.
package workerpool

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

type Pool struct {
	size     int64
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	done     atomic.Int64
}

func New(size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{
		size: int64(size),
		sem:  semaphore.NewWeighted(int64(size)),
	}
}

// Do занимает слот и выполняет fn в вызывающей горутине.
// Паника внутри fn возвращается как ошибка, слот освобождается всегда.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	p.inFlight.Add(1)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workerpool: panic: %v", r)
		}
		p.inFlight.Add(-1)
		p.done.Add(1)
		p.sem.Release(1)
	}()
	return fn(ctx)
}

// Go: асинхронный Do; onDone вызывается после завершения в любом случае.
func (p *Pool) Go(ctx context.Context, fn func(ctx context.Context) error, onDone func(error)) {
	go func() {
		err := p.Do(ctx, fn)
		if onDone != nil {
			onDone(err)
		}
	}()
}

func (p *Pool) Size() int        { return int(p.size) }
func (p *Pool) InFlight() int64  { return p.inFlight.Load() }
func (p *Pool) Completed() int64 { return p.done.Load() }
