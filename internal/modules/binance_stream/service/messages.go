package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"futures_bot/internal/helper"
	"futures_bot/internal/models"

	"github.com/bytedance/sonic"
)

// ErrMalformed: кадр или элемент кадра не разобрался; элемент отбрасывается.
var ErrMalformed = errors.New("malformed stream item")

const markPriceStream = "!markPrice@arr@1s"

// envelope: обёртка combined-стрима: {"stream": "...", "data": ...}.
// Подтверждения подписок приходят как {"result": null, "id": n}.
type envelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
	ID     *int64          `json:"id"`
}

type markPriceItem struct {
	Symbol  string `json:"s"`
	Price   string `json:"p"`
	Index   string `json:"i"`
	Funding string `json:"r"`
}

// markUpdate: разобранный элемент пачки mark-цен.
type markUpdate struct {
	symbol     string
	price      float64
	index      float64
	hasIndex   bool
	funding    float64
	hasFunding bool
}

type klineFrame struct {
	K struct {
		OpenTime int64  `json:"t"`
		Symbol   string `json:"s"`
		Interval string `json:"i"`
		Open     string `json:"o"`
		High     string `json:"h"`
		Low      string `json:"l"`
		Close    string `json:"c"`
		Volume   string `json:"v"`
		Closed   bool   `json:"x"`
	} `json:"k"`
}

type controlMessage struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

func decodeEnvelope(raw []byte) (envelope, error) {
	var env envelope
	if err := sonic.Unmarshal(raw, &env); err != nil {
		return env, fmt.Errorf("%w: envelope: %v", ErrMalformed, err)
	}
	return env, nil
}

func isMarkPriceStream(stream string) bool {
	return strings.Contains(stream, "markPrice")
}

func isKlineStream(stream string) bool {
	return strings.Contains(stream, "@kline_")
}

// decodeMarkPrices разбирает пачку (массив или одиночный объект).
// Битые элементы пропускаются, их количество возвращается вторым значением.
func decodeMarkPrices(data json.RawMessage) ([]markUpdate, int) {
	var items []json.RawMessage
	if err := sonic.Unmarshal(data, &items); err != nil {
		items = []json.RawMessage{data}
	}

	out := make([]markUpdate, 0, len(items))
	dropped := 0
	for _, raw := range items {
		u, err := decodeMarkPrice(raw)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, u)
	}
	return out, dropped
}

func decodeMarkPrice(raw json.RawMessage) (markUpdate, error) {
	var it markPriceItem
	if err := sonic.Unmarshal(raw, &it); err != nil {
		return markUpdate{}, fmt.Errorf("%w: mark price: %v", ErrMalformed, err)
	}
	if it.Symbol == "" {
		return markUpdate{}, fmt.Errorf("%w: mark price without symbol", ErrMalformed)
	}
	p, err := strconv.ParseFloat(it.Price, 64)
	if err != nil || p <= 0 {
		return markUpdate{}, fmt.Errorf("%w: mark price %s=%q", ErrMalformed, it.Symbol, it.Price)
	}

	u := markUpdate{symbol: strings.ToUpper(it.Symbol), price: p}
	if v, err := strconv.ParseFloat(it.Index, 64); err == nil && v > 0 {
		u.index, u.hasIndex = v, true
	}
	if v, err := strconv.ParseFloat(it.Funding, 64); err == nil {
		u.funding, u.hasFunding = v, true
	}
	return u, nil
}

func decodeKline(data json.RawMessage, now time.Time) (models.Kline, error) {
	var f klineFrame
	if err := sonic.Unmarshal(data, &f); err != nil {
		return models.Kline{}, fmt.Errorf("%w: kline: %v", ErrMalformed, err)
	}
	k := f.K
	if k.Symbol == "" || k.Interval == "" {
		return models.Kline{}, fmt.Errorf("%w: kline without symbol/interval", ErrMalformed)
	}

	o, err1 := strconv.ParseFloat(k.Open, 64)
	h, err2 := strconv.ParseFloat(k.High, 64)
	l, err3 := strconv.ParseFloat(k.Low, 64)
	c, err4 := strconv.ParseFloat(k.Close, 64)
	v, err5 := strconv.ParseFloat(k.Volume, 64)
	if err := errors.Join(err1, err2, err3, err4, err5); err != nil {
		return models.Kline{}, fmt.Errorf("%w: kline %s: %v", ErrMalformed, helper.KlineKey(k.Symbol, k.Interval), err)
	}

	return models.Kline{
		Symbol:    strings.ToUpper(k.Symbol),
		Interval:  helper.NormTF(k.Interval),
		OpenTime:  time.UnixMilli(k.OpenTime),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     c,
		Volume:    v,
		Closed:    k.Closed,
		UpdatedAt: now,
	}, nil
}
