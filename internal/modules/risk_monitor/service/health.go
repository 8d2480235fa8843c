package service

import (
	"math"
	"time"
)

type Health struct {
	Active              bool     `json:"active"`
	UptimeS             float64  `json:"uptime_s"`
	WatchlistSymbols    int      `json:"watchlist_symbols"`
	WatchlistPositions  int      `json:"watchlist_positions"`
	WatchedSymbols      []string `json:"watched_symbols"`
	TicksReceived       int64    `json:"ticks_received"`
	TicksProcessed      int64    `json:"ticks_processed"`
	TicksSkippedNoMatch int64    `json:"ticks_skipped_no_match"`
	TicksSkippedBusy    int64    `json:"ticks_skipped_busy"`
	TicksSkippedLocked  int64    `json:"ticks_skipped_locked"`
	TicksQueued         int64    `json:"ticks_queued"`
	ActionsTaken        int64    `json:"actions_taken"`
	CheckErrors         int64    `json:"check_errors"`
	LastCheckMs         float64  `json:"last_check_ms"`
	Idle                bool     `json:"idle"`
	Sweeps              int64    `json:"sweeps"`
	SweepsSkipped       int64    `json:"sweeps_skipped"`
	WatchlistRefreshes  int64    `json:"watchlist_refreshes"`
}

func (m *Monitor) Health() Health {
	symbols, positions := m.watch.Counts()
	h := Health{
		Active:              m.active.Load(),
		WatchlistSymbols:    symbols,
		WatchlistPositions:  positions,
		WatchedSymbols:      m.watch.Symbols(),
		TicksReceived:       m.stats.ticksReceived.Load(),
		TicksProcessed:      m.stats.ticksProcessed.Load(),
		TicksSkippedNoMatch: m.stats.skippedNoMatch.Load(),
		TicksSkippedBusy:    m.stats.skippedBusy.Load(),
		TicksSkippedLocked:  m.stats.skippedLocked.Load(),
		TicksQueued:         m.stats.queued.Load(),
		ActionsTaken:        m.stats.actions.Load(),
		CheckErrors:         m.stats.checkErrors.Load(),
		LastCheckMs:         math.Round(float64(m.stats.lastCheckUs.Load())/10) / 100,
		Idle:                !m.busy.Load(),
		Sweeps:              m.stats.sweeps.Load(),
		SweepsSkipped:       m.stats.sweepsSkipped.Load(),
		WatchlistRefreshes:  m.stats.refreshes.Load(),
	}
	if ts := m.startedAt.Load(); ts > 0 {
		h.UptimeS = math.Round(m.now().Sub(time.Unix(0, ts)).Seconds())
	}
	return h
}
