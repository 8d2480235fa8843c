package service

import (
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"futures_bot/internal/models"
	streamsvc "futures_bot/internal/modules/binance_stream/service"
	broadcastsvc "futures_bot/internal/modules/broadcast/service"
	risksvc "futures_bot/internal/modules/risk_monitor/service"
)

type FeedSource interface {
	Health() streamsvc.Health
}

type RiskSource interface {
	Health() risksvc.Health
}

type MakerSource interface {
	Stats() models.MakerStats
}

type BroadcastSource interface {
	Stats() broadcastsvc.FanoutStats
}

// Report: ответ /healthz.
type Report struct {
	Status       string                   `json:"status"`
	Ready        bool                     `json:"ready"`
	UptimeS      float64                  `json:"uptime_s"`
	Websocket    streamsvc.Health         `json:"websocket"`
	ReactiveRisk risksvc.Health           `json:"reactive_risk"`
	Maker        models.MakerStats        `json:"maker"`
	Broadcast    broadcastsvc.FanoutStats `json:"broadcast"`
}

type State struct {
	ready     atomic.Bool
	startedAt time.Time

	feed      FeedSource
	risk      RiskSource
	maker     MakerSource
	broadcast BroadcastSource
}

func NewState(feed FeedSource, risk RiskSource, maker MakerSource, broadcast BroadcastSource) *State {
	s := &State{
		startedAt: time.Now(),
		feed:      feed,
		risk:      risk,
		maker:     maker,
		broadcast: broadcast,
	}
	s.ready.Store(false)
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }

// Ready: приложение стартовало и стрим не лежит.
func (s *State) Ready() bool {
	return s.ready.Load() && s.feed.Health().Status != "down"
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *State) Report() Report {
	r := Report{
		Ready:        s.Ready(),
		UptimeS:      math.Round(s.Uptime().Seconds()),
		Websocket:    s.feed.Health(),
		ReactiveRisk: s.risk.Health(),
		Maker:        s.maker.Stats(),
		Broadcast:    s.broadcast.Stats(),
	}
	r.Status = "ok"
	if r.Websocket.Status != "ok" || !r.ReactiveRisk.Active {
		r.Status = "degraded"
	}
	return r
}

// Summary: то же самое текстом, для /status в Telegram.
func (s *State) Summary() string {
	r := s.Report()
	var b strings.Builder
	fmt.Fprintf(&b, "status: %s, uptime %s\n", r.Status, time.Duration(r.UptimeS)*time.Second)
	fmt.Fprintf(&b, "ws: %s (%s), symbols %d, klines %d\n",
		r.Websocket.Status, r.Websocket.State, r.Websocket.PriceSymbolsTracked, r.Websocket.KlineStreamsActive)
	fmt.Fprintf(&b, "risk: active=%t, watch %d/%d, actions %d, errors %d\n",
		r.ReactiveRisk.Active, r.ReactiveRisk.WatchlistSymbols, r.ReactiveRisk.WatchlistPositions,
		r.ReactiveRisk.ActionsTaken, r.ReactiveRisk.CheckErrors)
	fmt.Fprintf(&b, "maker: pending %d, fills %d, fallbacks %d",
		r.Maker.Pending, r.Maker.Fills, r.Maker.Fallbacks)
	return b.String()
}
