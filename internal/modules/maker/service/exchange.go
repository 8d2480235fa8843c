package service

import (
	"context"

	"futures_bot/internal/models"
)

// Exchange: то, что движку нужно от биржи. Реализация: binance_client.
type Exchange interface {
	PlaceOrder(ctx context.Context, req models.OrderRequest) (models.PlaceResult, error)
	// CancelOrder: false без ошибки: ордера уже нет (исполнен или снят).
	CancelOrder(ctx context.Context, symbol, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, symbol, orderID string) (models.OrderState, error)
	GetBestPrice(ctx context.Context, symbol string) (models.BookTop, error)
}
