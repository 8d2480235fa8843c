package service

import (
	"testing"

	"futures_bot/internal/models"
	streamsvc "futures_bot/internal/modules/binance_stream/service"
	broadcastsvc "futures_bot/internal/modules/broadcast/service"
	risksvc "futures_bot/internal/modules/risk_monitor/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFeed struct{ h streamsvc.Health }

func (f *fakeFeed) Health() streamsvc.Health { return f.h }

type fakeRisk struct{ h risksvc.Health }

func (f *fakeRisk) Health() risksvc.Health { return f.h }

type fakeMaker struct{ s models.MakerStats }

func (f *fakeMaker) Stats() models.MakerStats { return f.s }

type fakeBroadcast struct{ s broadcastsvc.FanoutStats }

func (f *fakeBroadcast) Stats() broadcastsvc.FanoutStats { return f.s }

func newTestState() (*State, *fakeFeed, *fakeRisk) {
	feed := &fakeFeed{h: streamsvc.Health{Status: "ok", State: "connected", MessagesReceived: 42, PricesFresh: true}}
	risk := &fakeRisk{h: risksvc.Health{Active: true, TicksSkippedBusy: 3, ActionsTaken: 1}}
	maker := &fakeMaker{s: models.MakerStats{Fills: 5, Pending: 1}}
	bc := &fakeBroadcast{s: broadcastsvc.FanoutStats{Sinks: 2, Events: 1}}
	return NewState(feed, risk, maker, bc), feed, risk
}

func TestReport(t *testing.T) {
	s, feed, risk := newTestState()

	assert.False(t, s.Ready(), "not ready before start")
	s.SetReady(true)
	assert.True(t, s.Ready())

	r := s.Report()
	assert.Equal(t, "ok", r.Status)
	assert.Equal(t, int64(42), r.Websocket.MessagesReceived)
	assert.Equal(t, int64(5), r.Maker.Fills)
	assert.Equal(t, 2, r.Broadcast.Sinks)

	feed.h.Status = "stale"
	assert.Equal(t, "degraded", s.Report().Status)
	assert.True(t, s.Ready(), "stale is still ready")

	feed.h.Status = "down"
	assert.False(t, s.Ready())

	feed.h.Status = "ok"
	risk.h.Active = false
	assert.Equal(t, "degraded", s.Report().Status)
}

func TestSummary(t *testing.T) {
	s, _, _ := newTestState()
	out := s.Summary()
	assert.Contains(t, out, "ws: ok (connected)")
	assert.Contains(t, out, "actions 1")
	assert.Contains(t, out, "fills 5")
}

func TestRegisterMetrics(t *testing.T) {
	s, _, _ := newTestState()
	reg := prometheus.NewRegistry()
	require.NoError(t, RegisterMetrics(reg, s))

	mfs, err := reg.Gather()
	require.NoError(t, err)
	var (
		msgs    float64
		skipped int
	)
	for _, mf := range mfs {
		switch mf.GetName() {
		case "futures_bot_feed_messages_total":
			msgs = mf.GetMetric()[0].GetCounter().GetValue()
		case "futures_bot_risk_ticks_skipped_total":
			skipped = len(mf.GetMetric())
		}
	}
	assert.Equal(t, 42.0, msgs)
	assert.Equal(t, 3, skipped, "one series per reason")

	assert.Error(t, RegisterMetrics(reg, s), "duplicate registration")
}
