package models

import "time"

// Kline: последняя свеча по паре (symbol, interval).
type Kline struct {
	Symbol    string
	Interval  string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
	UpdatedAt time.Time
}

// FeedState: состояние подключения к стриму.
type FeedState int32

const (
	FeedDisconnected FeedState = iota
	FeedConnecting
	FeedConnected
	FeedStopped
)

func (s FeedState) String() string {
	switch s {
	case FeedDisconnected:
		return "disconnected"
	case FeedConnecting:
		return "connecting"
	case FeedConnected:
		return "connected"
	case FeedStopped:
		return "stopped"
	}
	return "unknown"
}
