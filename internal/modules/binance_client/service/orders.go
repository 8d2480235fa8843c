package service

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"futures_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const orderPath = "/fapi/v1/order"

type orderResponse struct {
	OrderID       int64               `json:"orderId"`
	ClientOrderID string              `json:"clientOrderId"`
	Status        string              `json:"status"`
	ExecutedQty   decimal.NullDecimal `json:"executedQty"`
	AvgPrice      decimal.Decimal     `json:"avgPrice"`
}

type bookTickerResponse struct {
	Symbol   string          `json:"symbol"`
	BidPrice decimal.Decimal `json:"bidPrice"`
	AskPrice decimal.Decimal `json:"askPrice"`
}

// PlaceOrder: Price > 0: LIMIT (GTX для post-only, иначе GTC), Price == 0: MARKET.
func (c *Client) PlaceOrder(ctx context.Context, req models.OrderRequest) (models.PlaceResult, error) {
	if !req.Side.Valid() || req.Quantity <= 0 {
		return models.PlaceResult{}, errors.Errorf("place order: bad request side=%q qty=%v", req.Side, req.Quantity)
	}

	params := url.Values{}
	params.Set("symbol", req.Symbol)
	params.Set("side", string(req.Side))
	params.Set("quantity", decimal.NewFromFloat(req.Quantity).String())
	params.Set("newOrderRespType", "RESULT")
	if req.ClientOrderID != "" {
		params.Set("newClientOrderId", req.ClientOrderID)
	}
	if req.Price > 0 {
		params.Set("type", "LIMIT")
		params.Set("price", decimal.NewFromFloat(req.Price).String())
		if req.PostOnly {
			params.Set("timeInForce", "GTX")
		} else {
			params.Set("timeInForce", "GTC")
		}
	} else {
		params.Set("type", "MARKET")
	}

	var r orderResponse
	if err := c.do(ctx, http.MethodPost, orderPath, params, true, &r); err != nil {
		return models.PlaceResult{}, errors.Wrap(err, "place order")
	}
	c.log.Debug("order placed",
		zap.String("symbol", req.Symbol),
		zap.Int64("order_id", r.OrderID),
		zap.String("status", r.Status),
	)
	return models.PlaceResult{
		OrderID:     formatOrderID(r.OrderID),
		Status:      r.Status,
		ExecutedQty: r.ExecutedQty.Decimal.InexactFloat64(),
		HasExecuted: r.ExecutedQty.Valid,
		AvgPrice:    r.AvgPrice.InexactFloat64(),
	}, nil
}

// CancelOrder: true: снят; false без ошибки: биржа ордер уже не знает.
func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) (bool, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var r orderResponse
	err := c.do(ctx, http.MethodDelete, orderPath, params, true, &r)
	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr) && apiErr.Code == codeUnknownOrder:
		return false, nil
	case err != nil:
		return false, errors.Wrap(err, "cancel order")
	}
	return models.ParseExchangeStatus(r.Status) == models.OrderCancelled, nil
}

func (c *Client) GetOrderStatus(ctx context.Context, symbol, orderID string) (models.OrderState, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", orderID)

	var r orderResponse
	if err := c.do(ctx, http.MethodGet, orderPath, params, true, &r); err != nil {
		return models.OrderState{}, errors.Wrap(err, "get order")
	}
	return models.OrderState{
		Status:      r.Status,
		ExecutedQty: r.ExecutedQty.Decimal.InexactFloat64(),
		AvgPrice:    r.AvgPrice.InexactFloat64(),
	}, nil
}

func (c *Client) GetBestPrice(ctx context.Context, symbol string) (models.BookTop, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var r bookTickerResponse
	if err := c.do(ctx, http.MethodGet, "/fapi/v1/ticker/bookTicker", params, false, &r); err != nil {
		return models.BookTop{}, errors.Wrap(err, "book ticker")
	}
	return models.BookTop{
		BestBid: r.BidPrice.InexactFloat64(),
		BestAsk: r.AskPrice.InexactFloat64(),
	}, nil
}

func formatOrderID(id int64) string {
	if id <= 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
