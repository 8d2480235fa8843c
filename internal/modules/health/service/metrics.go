package service

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "futures_bot"

func b2f(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// RegisterMetrics вешает на reg счётчики поверх снимков компонентов.
func RegisterMetrics(reg prometheus.Registerer, s *State) error {
	counter := func(sub, name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: sub, Name: name, Help: help,
		}, fn)
	}
	gauge := func(sub, name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: sub, Name: name, Help: help,
		}, fn)
	}
	skipped := func(reason string, fn func() float64) prometheus.Collector {
		return prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "risk", Name: "ticks_skipped_total",
			Help:        "Tick batches not checked, by reason.",
			ConstLabels: prometheus.Labels{"reason": reason},
		}, fn)
	}

	collectors := []prometheus.Collector{
		counter("feed", "messages_total", "Frames received from the market stream.",
			func() float64 { return float64(s.feed.Health().MessagesReceived) }),
		counter("feed", "connections_total", "Successful stream connections.",
			func() float64 { return float64(s.feed.Health().ConnectionCount) }),
		counter("feed", "errors_total", "Stream connection failures.",
			func() float64 { return float64(s.feed.Health().Errors) }),
		counter("feed", "dropped_items_total", "Malformed items and frames dropped.",
			func() float64 { return float64(s.feed.Health().DroppedItems) }),
		gauge("feed", "prices_fresh", "1 when mark prices are fresh.",
			func() float64 { return b2f(s.feed.Health().PricesFresh) }),
		gauge("feed", "last_message_age_seconds", "Age of the last mark-price batch, -1 if none.",
			func() float64 {
				if age := s.feed.Health().LastMessageAgeS; age != nil {
					return *age
				}
				return -1
			}),

		counter("risk", "ticks_received_total", "Tick batches delivered to the monitor.",
			func() float64 { return float64(s.risk.Health().TicksReceived) }),
		counter("risk", "ticks_processed_total", "Tick batches fully checked.",
			func() float64 { return float64(s.risk.Health().TicksProcessed) }),
		skipped("no_match", func() float64 { return float64(s.risk.Health().TicksSkippedNoMatch) }),
		skipped("busy", func() float64 { return float64(s.risk.Health().TicksSkippedBusy) }),
		skipped("locked", func() float64 { return float64(s.risk.Health().TicksSkippedLocked) }),
		counter("risk", "actions_total", "Positions closed by the monitor.",
			func() float64 { return float64(s.risk.Health().ActionsTaken) }),
		counter("risk", "check_errors_total", "Per-position check errors.",
			func() float64 { return float64(s.risk.Health().CheckErrors) }),
		gauge("risk", "last_check_ms", "Duration of the last check.",
			func() float64 { return s.risk.Health().LastCheckMs }),
		gauge("risk", "watchlist_positions", "Positions on the watchlist.",
			func() float64 { return float64(s.risk.Health().WatchlistPositions) }),

		counter("maker", "attempts_total", "Limit order attempts.",
			func() float64 { return float64(s.maker.Stats().Attempts) }),
		counter("maker", "fills_total", "Maker fills.",
			func() float64 { return float64(s.maker.Stats().Fills) }),
		counter("maker", "fallbacks_total", "IOC fallbacks.",
			func() float64 { return float64(s.maker.Stats().Fallbacks) }),
		gauge("maker", "pending_orders", "Orders currently being monitored.",
			func() float64 { return float64(s.maker.Stats().Pending) }),

		counter("broadcast", "events_total", "Risk events broadcast.",
			func() float64 { return float64(s.broadcast.Stats().Events) }),
		counter("broadcast", "failures_total", "Sink delivery failures.",
			func() float64 { return float64(s.broadcast.Stats().Failures) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
