package service

import "futures_bot/internal/models"

// Health: снимок состояния стрима для /healthz.
type Health struct {
	Status              string   `json:"status"`
	State               string   `json:"state"`
	MessagesReceived    int64    `json:"messages_received"`
	ConnectionCount     int64    `json:"connection_count"`
	Errors              int64    `json:"errors"`
	DroppedItems        int64    `json:"dropped_items"`
	PriceSymbolsTracked int      `json:"price_symbols_tracked"`
	KlineStreamsActive  int      `json:"kline_streams_active"`
	KlineDataKeys       int      `json:"kline_data_keys"`
	LastMessageAgeS     *float64 `json:"last_message_age_s"`
	PricesFresh         bool     `json:"prices_fresh"`
	TickSubscribers     int      `json:"tick_subscribers"`
}

func (c *Client) Health() Health {
	c.mu.RLock()
	prices, klines := len(c.markPrices), len(c.klines)
	c.mu.RUnlock()

	c.subMu.Lock()
	streams := len(c.klineStreams)
	c.subMu.Unlock()

	h := Health{
		State:               c.State().String(),
		MessagesReceived:    c.messages.Load(),
		ConnectionCount:     c.connections.Load(),
		Errors:              c.errs.Load(),
		DroppedItems:        c.dropped.Load(),
		PriceSymbolsTracked: prices,
		KlineStreamsActive:  streams,
		KlineDataKeys:       klines,
		PricesFresh:         c.PricesFresh(),
		TickSubscribers:     c.ticks.Len(),
	}
	if age, ok := c.PriceAge(); ok {
		s := age.Seconds()
		h.LastMessageAgeS = &s
	}

	switch {
	case h.PricesFresh:
		h.Status = "ok"
	case c.State() == models.FeedConnected:
		h.Status = "stale"
	default:
		h.Status = "down"
	}
	return h
}
