package service

import (
	"math"
	"sort"
	"sync"
	"time"

	"futures_bot/internal/helper"
	"futures_bot/internal/models"
)

// Candidate: позиция, которую надо проверить по цене тика.
type Candidate struct {
	Symbol string
	Price  float64
	models.WatchEntry
}

// Watchlist: фьючерсный символ -> позиции, которые от него зависят.
// Пересобирается целиком; читатели получают копию на момент чтения.
type Watchlist struct {
	mu          sync.RWMutex
	entries     map[string][]models.WatchEntry
	refreshedAt time.Time
}

func NewWatchlist() *Watchlist {
	return &Watchlist{entries: map[string][]models.WatchEntry{}}
}

// Replace строит watchlist заново. Позиции с нулевым объёмом и без символа отбрасываются.
func (w *Watchlist) Replace(rows []models.WatchedPosition, at time.Time) (symbols, positions int) {
	next := make(map[string][]models.WatchEntry)
	for _, r := range rows {
		if r.Amount <= 0 {
			continue
		}
		sym, ok := helper.FuturesSymbol(r.InstrumentID, r.Symbol)
		if !ok {
			continue
		}
		next[sym] = append(next[sym], models.WatchEntry{
			AgentID:      r.AgentID,
			PositionID:   r.PositionID,
			InstrumentID: r.InstrumentID,
		})
		positions++
	}
	for _, list := range next {
		sort.Slice(list, func(i, j int) bool { return list[i].PositionID < list[j].PositionID })
	}

	w.mu.Lock()
	w.entries = next
	w.refreshedAt = at
	w.mu.Unlock()
	return len(next), positions
}

// Match: только те цены из тика, по которым есть позиции. nil, если ничего.
func (w *Watchlist) Match(prices map[string]float64) map[string]float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	var out map[string]float64
	for sym := range w.entries {
		p, ok := prices[sym]
		if !ok {
			continue
		}
		if out == nil {
			out = make(map[string]float64, len(w.entries))
		}
		out[sym] = p
	}
	return out
}

// Candidates разворачивает цены в список проверок в стабильном порядке.
func (w *Watchlist) Candidates(prices map[string]float64) []Candidate {
	syms := make([]string, 0, len(prices))
	for s := range prices {
		syms = append(syms, s)
	}
	sort.Strings(syms)

	w.mu.RLock()
	defer w.mu.RUnlock()

	var out []Candidate
	for _, s := range syms {
		for _, e := range w.entries[s] {
			out = append(out, Candidate{Symbol: s, Price: prices[s], WatchEntry: e})
		}
	}
	return out
}

func (w *Watchlist) Age(now time.Time) time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.refreshedAt.IsZero() {
		return time.Duration(math.MaxInt64)
	}
	return now.Sub(w.refreshedAt)
}

func (w *Watchlist) Counts() (symbols, positions int) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, list := range w.entries {
		positions += len(list)
	}
	return len(w.entries), positions
}

func (w *Watchlist) Symbols() []string {
	w.mu.RLock()
	out := make([]string, 0, len(w.entries))
	for s := range w.entries {
		out = append(out, s)
	}
	w.mu.RUnlock()
	sort.Strings(out)
	return out
}
