package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"futures_bot/internal/models"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testKey    = "key"
	testSecret = "secret"
)

type captured struct {
	method string
	path   string
	params url.Values
	apiKey string
	sigOK  bool
}

func newTestClient(t *testing.T, status int, body string) (*Client, *captured) {
	t.Helper()
	got := &captured{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got.method = r.Method
		got.path = r.URL.Path
		got.apiKey = r.Header.Get("X-MBX-APIKEY")

		raw := r.URL.RawQuery
		if i := strings.LastIndex(raw, "&signature="); i >= 0 {
			h := hmac.New(sha256.New, []byte(testSecret))
			h.Write([]byte(raw[:i]))
			got.sigOK = hex.EncodeToString(h.Sum(nil)) == raw[i+len("&signature="):]
		}
		got.params, _ = url.ParseQuery(raw)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	c := NewClient(Options{
		BaseURL:    srv.URL,
		APIKey:     testKey,
		APISecret:  testSecret,
		RecvWindow: 5 * time.Second,
	}, nil)
	c.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return c, got
}

func TestPlaceOrderPostOnlyLimit(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK,
		`{"orderId":123,"clientOrderId":"mk-1","status":"NEW","executedQty":"0","avgPrice":"0.00"}`)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "BTCUSDT", Side: models.SideBuy, Quantity: 0.01,
		Price: 64993.5, PostOnly: true, ClientOrderID: "mk-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "123", res.OrderID)
	assert.Equal(t, "NEW", res.Status)
	assert.Zero(t, res.ExecutedQty)
	assert.True(t, res.HasExecuted)

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/fapi/v1/order", got.path)
	assert.Equal(t, testKey, got.apiKey)
	assert.True(t, got.sigOK)
	assert.Equal(t, "LIMIT", got.params.Get("type"))
	assert.Equal(t, "GTX", got.params.Get("timeInForce"))
	assert.Equal(t, "64993.5", got.params.Get("price"))
	assert.Equal(t, "0.01", got.params.Get("quantity"))
	assert.Equal(t, "mk-1", got.params.Get("newClientOrderId"))
	assert.Equal(t, "RESULT", got.params.Get("newOrderRespType"))
	assert.Equal(t, "1700000000000", got.params.Get("timestamp"))
	assert.Equal(t, "5000", got.params.Get("recvWindow"))
}

func TestPlaceOrderMarket(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK,
		`{"orderId":9,"status":"FILLED","executedQty":"0.5","avgPrice":"3001.25"}`)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "ETHUSDT", Side: models.SideSell, Quantity: 0.5,
	})
	require.NoError(t, err)

	assert.Equal(t, "MARKET", got.params.Get("type"))
	assert.Empty(t, got.params.Get("price"))
	assert.Empty(t, got.params.Get("timeInForce"))
	assert.Equal(t, "FILLED", res.Status)
	assert.InDelta(t, 0.5, res.ExecutedQty, 1e-12)
	assert.InDelta(t, 3001.25, res.AvgPrice, 1e-9)
}

func TestPlaceOrderWithoutExecutedQty(t *testing.T) {
	c, _ := newTestClient(t, http.StatusOK, `{"orderId":10,"status":"FILLED"}`)

	res, err := c.PlaceOrder(context.Background(), models.OrderRequest{
		Symbol: "ETHUSDT", Side: models.SideBuy, Quantity: 0.5,
	})
	require.NoError(t, err)
	assert.Equal(t, "FILLED", res.Status)
	assert.False(t, res.HasExecuted)
	assert.Zero(t, res.ExecutedQty)
}

func TestPlaceOrderBadRequest(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{}`)
	_, err := c.PlaceOrder(context.Background(), models.OrderRequest{Symbol: "BTCUSDT", Side: "HOLD", Quantity: 1})
	assert.Error(t, err)
	assert.Empty(t, got.method, "no request sent")
}

func TestCancelOrder(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK, `{"orderId":123,"status":"CANCELED","executedQty":"0"}`)
	ok, err := c.CancelOrder(context.Background(), "BTCUSDT", "123")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, http.MethodDelete, got.method)
	assert.Equal(t, "123", got.params.Get("orderId"))
	assert.True(t, got.sigOK)
}

func TestCancelUnknownOrder(t *testing.T) {
	c, _ := newTestClient(t, http.StatusBadRequest, `{"code":-2011,"msg":"Unknown order sent."}`)
	ok, err := c.CancelOrder(context.Background(), "BTCUSDT", "123")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetOrderStatus(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK,
		`{"orderId":123,"status":"PARTIALLY_FILLED","executedQty":"0.004","avgPrice":"64990.1"}`)
	st, err := c.GetOrderStatus(context.Background(), "BTCUSDT", "123")
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, got.method)
	assert.Equal(t, "PARTIALLY_FILLED", st.Status)
	assert.InDelta(t, 0.004, st.ExecutedQty, 1e-12)
	assert.InDelta(t, 64990.1, st.AvgPrice, 1e-9)
}

func TestGetBestPriceUnsigned(t *testing.T) {
	c, got := newTestClient(t, http.StatusOK,
		`{"symbol":"BTCUSDT","bidPrice":"64999.90","bidQty":"1","askPrice":"65000.10","askQty":"2"}`)
	top, err := c.GetBestPrice(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, "/fapi/v1/ticker/bookTicker", got.path)
	assert.Empty(t, got.params.Get("signature"))
	assert.InDelta(t, 65000.0, top.Mid(), 1e-9)
}

func TestServerError(t *testing.T) {
	c, _ := newTestClient(t, http.StatusInternalServerError, `oops`)
	_, err := c.GetOrderStatus(context.Background(), "BTCUSDT", "1")
	require.Error(t, err)

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.HTTPStatus)
	assert.Equal(t, "oops", apiErr.Msg)
}
