package helper

import (
	"strings"
)

// coinSymbols: id инструмента в сторе -> фьючерсный символ Binance.
var coinSymbols = map[string]string{
	"bitcoin":     "BTCUSDT",
	"ethereum":    "ETHUSDT",
	"binancecoin": "BNBUSDT",
	"solana":      "SOLUSDT",
	"ripple":      "XRPUSDT",
	"cardano":     "ADAUSDT",
	"dogecoin":    "DOGEUSDT",
	"avalanche-2": "AVAXUSDT",
	"polkadot":    "DOTUSDT",
	"chainlink":   "LINKUSDT",
	"litecoin":    "LTCUSDT",
	"tron":        "TRXUSDT",
}

// FuturesSymbol: "bitcoin" -> "BTCUSDT". Если id неизвестен: тикер позиции + USDT.
func FuturesSymbol(instrumentID, ticker string) (string, bool) {
	if s, ok := coinSymbols[strings.ToLower(strings.TrimSpace(instrumentID))]; ok {
		return s, true
	}
	t := strings.ToUpper(strings.TrimSpace(ticker))
	if t == "" {
		return "", false
	}
	if strings.HasSuffix(t, "USDT") {
		return t, true
	}
	return t + "USDT", true
}

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "kline_")
	switch s {
	case "60m", "1h":
		return "1h"
	case "240m", "4h":
		return "4h"
	default:
		return s
	}
}

// KlineKey: ключ кеша свечей "BTCUSDT_5m".
func KlineKey(symbol, interval string) string {
	return strings.ToUpper(symbol) + "_" + interval
}

// KlineStream: имя стрима Binance "btcusdt@kline_5m".
func KlineStream(symbol, interval string) string {
	return strings.ToLower(symbol) + "@kline_" + interval
}

// SplitKlineStream: "btcusdt@kline_5m" -> ("BTCUSDT", "5m").
func SplitKlineStream(stream string) (symbol string, interval string, ok bool) {
	i := strings.Index(stream, "@kline_")
	if i <= 0 || i+len("@kline_") >= len(stream) {
		return "", "", false
	}
	return strings.ToUpper(stream[:i]), stream[i+len("@kline_"):], true
}

// SplitKlineKey: "BTCUSDT_5m" -> ("BTCUSDT", "5m").
func SplitKlineKey(key string) (symbol string, interval string, ok bool) {
	i := strings.IndexByte(key, '_')
	if i <= 0 || i >= len(key)-1 {
		return "", "", false
	}
	return key[:i], key[i+1:], true
}
