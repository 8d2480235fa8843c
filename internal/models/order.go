package models

import (
	"sync"
	"time"
)

// Side "BUY"/"SELL".
type Side string

const (
	SideNone Side = ""
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

func (s Side) Valid() bool { return s == SideBuy || s == SideSell }

// OrderStatus: жизненный цикл maker-ордера.
// Pending и Placed: единственные нетерминальные состояния.
type OrderStatus int

const (
	OrderPending OrderStatus = iota
	OrderPlaced
	OrderPartiallyFilled
	OrderFilled
	OrderCancelled
	OrderExpired
	OrderRejected
)

var orderStatusNames = [...]string{
	OrderPending:         "PENDING",
	OrderPlaced:          "PLACED",
	OrderPartiallyFilled: "PARTIALLY_FILLED",
	OrderFilled:          "FILLED",
	OrderCancelled:       "CANCELLED",
	OrderExpired:         "EXPIRED",
	OrderRejected:        "REJECTED",
}

func (s OrderStatus) String() string {
	if s < 0 || int(s) >= len(orderStatusNames) {
		return "UNKNOWN"
	}
	return orderStatusNames[s]
}

func (s OrderStatus) Terminal() bool { return s != OrderPending && s != OrderPlaced }

// ParseExchangeStatus переводит статус биржи (Binance) в OrderStatus.
// NEW и неизвестные значения считаются Placed.
func ParseExchangeStatus(raw string) OrderStatus {
	switch raw {
	case "FILLED":
		return OrderFilled
	case "PARTIALLY_FILLED":
		return OrderPartiallyFilled
	case "CANCELED", "CANCELLED":
		return OrderCancelled
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return OrderExpired
	case "REJECTED":
		return OrderRejected
	default:
		return OrderPlaced
	}
}

// OrderRequest: то, что движок отправляет на биржу. Price == 0 означает рыночный ордер.
type OrderRequest struct {
	Symbol        string
	Side          Side
	Quantity      float64
	Price         float64
	PostOnly      bool
	ClientOrderID string
}

// PlaceResult: ответ биржи на размещение.
type PlaceResult struct {
	OrderID     string
	Status      string
	ExecutedQty float64
	// HasExecuted: executedQty был в ответе (в том числе нулевой).
	HasExecuted bool
	AvgPrice    float64
}

// OrderState: ответ биржи на запрос статуса.
type OrderState struct {
	Status      string
	ExecutedQty float64
	AvgPrice    float64
}

// BookTop: лучшие bid/ask.
type BookTop struct {
	BestBid float64
	BestAsk float64
}

func (b BookTop) Mid() float64 {
	if b.BestBid <= 0 || b.BestAsk <= 0 {
		return 0
	}
	return (b.BestBid + b.BestAsk) / 2
}

// MakerStats: снимок счётчиков maker-движка.
type MakerStats struct {
	Attempts       int64 `json:"attempts"`
	Fills          int64 `json:"fills"`
	Cancels        int64 `json:"cancels"`
	Rejects        int64 `json:"rejects"`
	Expired        int64 `json:"expired"`
	AdverseCancels int64 `json:"adverse_cancels"`
	Fallbacks      int64 `json:"ioc_fallbacks"`
	Pending        int   `json:"pending_orders"`
}

// MakerOrder: лимитный ордер одной попытки maker-движка.
// Принадлежит циклу попытки, который его создал; статус меняется только через
// Transition, из терминального статуса выхода нет.
type MakerOrder struct {
	Symbol       string
	Side         Side
	Quantity     float64
	LimitPrice   float64
	OrderID      string
	ClientID     string
	FilledQty    float64
	AvgFillPrice float64
	CreatedAt    time.Time
	Attempt      int
	Metadata     map[string]any

	mu     sync.Mutex
	status OrderStatus
}

func (o *MakerOrder) Status() OrderStatus {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// Transition переводит ордер в next. Возвращает false, если ордер уже терминальный.
func (o *MakerOrder) Transition(next OrderStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.status.Terminal() {
		return false
	}
	o.status = next
	return true
}

// SetFill обновляет исполненный объём; нулевой объём игнорируется.
func (o *MakerOrder) SetFill(qty, avg float64) {
	if qty <= 0 {
		return
	}
	o.mu.Lock()
	o.FilledQty = qty
	o.AvgFillPrice = avg
	o.mu.Unlock()
}

func (o *MakerOrder) Fill() (qty, avg float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.FilledQty, o.AvgFillPrice
}
