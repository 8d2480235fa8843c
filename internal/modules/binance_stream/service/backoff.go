package service

import "time"

// backoff: экспоненциальная задержка переподключения: min, 2*min, ... до max.
// Сбрасывается в min сразу после успешного коннекта.
type backoff struct {
	min time.Duration
	max time.Duration
	cur time.Duration
}

func newBackoff(min, max time.Duration) *backoff {
	if min <= 0 {
		min = time.Second
	}
	if max < min {
		max = min
	}
	return &backoff{min: min, max: max, cur: min}
}

// Next возвращает текущую задержку и удваивает следующую.
func (b *backoff) Next() time.Duration {
	d := b.cur
	b.cur *= 2
	if b.cur > b.max {
		b.cur = b.max
	}
	return d
}

func (b *backoff) Reset() { b.cur = b.min }
