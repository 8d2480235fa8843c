package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"futures_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// codeUnknownOrder: Binance: "Unknown order sent." (ордер уже исполнен/снят).
const codeUnknownOrder = -2011

// APIError: ответ биржи с кодом ошибки.
type APIError struct {
	HTTPStatus int
	Code       int    `json:"code"`
	Msg        string `json:"msg"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("binance http %d: code=%d msg=%s", e.HTTPStatus, e.Code, e.Msg)
}

type Options struct {
	BaseURL    string
	APIKey     string
	APISecret  string
	RecvWindow time.Duration
	RatePerSec float64
	Timeout    time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		BaseURL:    cfg.Exchange.BaseURL,
		APIKey:     cfg.Exchange.APIKey,
		APISecret:  cfg.Exchange.APISecret,
		RecvWindow: cfg.Exchange.RecvWindow,
		RatePerSec: cfg.Exchange.RatePerSec,
		Timeout:    cfg.Exchange.Timeout,
	}
}

// Client: REST Binance USDⓈ-M Futures: ордера и лучшие цены.
type Client struct {
	opt     Options
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
	now     func() time.Time
}

func NewClient(opt Options, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if opt.Timeout <= 0 {
		opt.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if opt.RatePerSec > 0 {
		limit = rate.Limit(opt.RatePerSec)
	}
	return &Client{
		opt:     opt,
		http:    &http.Client{Timeout: opt.Timeout},
		limiter: rate.NewLimiter(limit, max(1, int(opt.RatePerSec))),
		log:     log.Named("binance_client"),
		now:     time.Now,
	}
}

func (c *Client) sign(payload string) string {
	h := hmac.New(sha256.New, []byte(c.opt.APISecret))
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))
}

// do отправляет запрос; signed добавляет timestamp, recvWindow и подпись к query.
func (c *Client) do(ctx context.Context, method, path string, params url.Values, signed bool, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return errors.Wrap(err, "rate limit wait")
	}

	if params == nil {
		params = url.Values{}
	}
	query := params.Encode()
	if signed {
		params.Set("timestamp", strconv.FormatInt(c.now().UnixMilli(), 10))
		if c.opt.RecvWindow > 0 {
			params.Set("recvWindow", strconv.FormatInt(c.opt.RecvWindow.Milliseconds(), 10))
		}
		query = params.Encode()
		query += "&signature=" + c.sign(query)
	}

	u := strings.TrimRight(c.opt.BaseURL, "/") + path
	if query != "" {
		u += "?" + query
	}
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return errors.Wrapf(err, "new request %s %s", method, path)
	}
	if c.opt.APIKey != "" {
		req.Header.Set("X-MBX-APIKEY", c.opt.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, path)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrapf(err, "read %s", path)
	}

	if resp.StatusCode/100 != 2 {
		apiErr := &APIError{HTTPStatus: resp.StatusCode}
		if uerr := sonic.Unmarshal(body, apiErr); uerr != nil || apiErr.Msg == "" {
			apiErr.Msg = string(body)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := sonic.Unmarshal(body, out); err != nil {
		return errors.Wrapf(err, "decode %s: %s", path, string(body))
	}
	return nil
}
