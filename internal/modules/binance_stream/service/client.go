package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"futures_bot/internal/helper"
	"futures_bot/internal/models"
	"futures_bot/internal/modules/config"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrDial    = errors.New("stream dial failed")
	ErrStopped = errors.New("stream client stopped")
)

const (
	writeTimeout = 5 * time.Second
	readLimit    = 4 << 20
)

// Dialer: то, чем открываем websocket. *websocket.Dialer подходит как есть.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

type Options struct {
	URL         string
	ReadTimeout time.Duration
	BackoffMin  time.Duration
	BackoffMax  time.Duration
	StaleAfter  time.Duration
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		URL:         cfg.Stream.URL,
		ReadTimeout: cfg.Stream.ReadTimeout,
		BackoffMin:  cfg.Stream.BackoffMin,
		BackoffMax:  cfg.Stream.BackoffMax,
		StaleAfter:  cfg.Stream.StaleAfter,
	}
}

// Client держит одно combined-подключение к Binance Futures:
// mark-цены всех символов раз в секунду + динамический набор kline-стримов.
type Client struct {
	opt    Options
	log    *zap.Logger
	dialer Dialer
	ticks  *TickBroadcaster
	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time

	mu           sync.RWMutex
	markPrices   map[string]float64
	fundingRates map[string]float64
	indexPrices  map[string]float64
	klines       map[string]models.Kline

	// subMu -> connMu, никогда наоборот
	subMu        sync.Mutex
	klineStreams map[string]struct{}

	connMu sync.Mutex
	conn   *websocket.Conn

	state       atomic.Int32
	lastMsg     atomic.Int64
	messages    atomic.Int64
	connections atomic.Int64
	errs        atomic.Int64
	dropped     atomic.Int64
	controlID   atomic.Int64

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped bool
}

func NewClient(opt Options, log *zap.Logger, ticks *TickBroadcaster, dialer Dialer) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	if ticks == nil {
		ticks = NewTickBroadcaster(log)
	}
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	}
	if opt.StaleAfter <= 0 {
		opt.StaleAfter = 10 * time.Second
	}
	c := &Client{
		opt:          opt,
		log:          log.Named("binance_stream"),
		dialer:       dialer,
		ticks:        ticks,
		sleep:        sleepCtx,
		now:          time.Now,
		markPrices:   make(map[string]float64),
		fundingRates: make(map[string]float64),
		indexPrices:  make(map[string]float64),
		klines:       make(map[string]models.Kline),
		klineStreams: make(map[string]struct{}),
	}
	c.state.Store(int32(models.FeedDisconnected))
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (c *Client) Ticks() *TickBroadcaster { return c.ticks }

func (c *Client) State() models.FeedState { return models.FeedState(c.state.Load()) }

func (c *Client) setState(s models.FeedState) {
	// из Stopped не выходим
	for {
		cur := c.state.Load()
		if models.FeedState(cur) == models.FeedStopped {
			return
		}
		if c.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

// Start запускает цикл подключения в фоне. Повторный вызов: no-op.
func (c *Client) Start(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	if c.stopped {
		return ErrStopped
	}
	if c.done != nil {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})
	go c.run(runCtx, c.done)

	c.log.Info("stream started", zap.String("url", c.opt.URL))
	return nil
}

// Stop закрывает соединение и дожидается выхода цикла. Состояние: Stopped навсегда.
func (c *Client) Stop() {
	c.runMu.Lock()
	c.stopped = true
	c.state.Store(int32(models.FeedStopped))
	cancel, done := c.cancel, c.done
	c.runMu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeConn()
	if done != nil {
		<-done
	}
	c.log.Info("stream stopped",
		zap.Int64("messages", c.messages.Load()),
		zap.Int64("connections", c.connections.Load()),
	)
}

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	bo := newBackoff(c.opt.BackoffMin, c.opt.BackoffMax)
	for {
		if ctx.Err() != nil {
			return
		}
		c.setState(models.FeedConnecting)

		err := c.connectAndListen(ctx, bo)
		if ctx.Err() != nil {
			return
		}
		c.setState(models.FeedDisconnected)
		if err != nil {
			c.errs.Add(1)
		}

		delay := bo.Next()
		c.log.Warn("stream disconnected, reconnecting",
			zap.Error(err),
			zap.Duration("backoff", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return
		}
	}
}

func (c *Client) connectAndListen(ctx context.Context, bo *backoff) error {
	snapshot := c.klineStreamList()
	url := c.streamURL(snapshot)

	conn, _, err := c.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDial, err)
	}
	conn.SetReadLimit(readLimit)
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()
	c.setState(models.FeedConnected)
	bo.Reset()
	c.connections.Add(1)
	c.log.Info("stream connected", zap.Int("kline_streams", len(snapshot)))

	// поток мог измениться между сборкой URL и коннектом
	c.reconcile(snapshot)

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()
	defer c.dropConn(conn)

	for {
		c.extendDeadline(conn)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
		c.handleMessage(msg)
	}
}

func (c *Client) extendDeadline(conn *websocket.Conn) {
	if c.opt.ReadTimeout > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
	}
}

func (c *Client) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	_ = conn.Close()
}

func (c *Client) closeConn() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()
	if conn != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (c *Client) streamURL(klineStreams []string) string {
	streams := make([]string, 0, len(klineStreams)+1)
	streams = append(streams, markPriceStream)
	streams = append(streams, klineStreams...)

	base := c.opt.URL
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + "streams=" + strings.Join(streams, "/")
}

func (c *Client) handleMessage(raw []byte) {
	env, err := decodeEnvelope(raw)
	if err != nil {
		c.dropped.Add(1)
		c.log.Debug("drop frame", zap.Error(err))
		return
	}
	c.messages.Add(1)
	c.lastMsg.Store(c.now().UnixNano())

	switch {
	case isMarkPriceStream(env.Stream):
		c.onMarkPrices(env)
	case isKlineStream(env.Stream):
		c.onKline(env)
	default:
		// ответы на SUBSCRIBE/UNSUBSCRIBE
	}
}

func (c *Client) onMarkPrices(env envelope) {
	updates, bad := decodeMarkPrices(env.Data)
	if bad > 0 {
		c.dropped.Add(int64(bad))
		c.log.Debug("mark price items dropped", zap.Int("count", bad))
	}
	if len(updates) == 0 {
		return
	}

	tick := make(map[string]float64, len(updates))
	c.mu.Lock()
	for _, u := range updates {
		c.markPrices[u.symbol] = u.price
		if u.hasIndex {
			c.indexPrices[u.symbol] = u.index
		}
		if u.hasFunding {
			c.fundingRates[u.symbol] = u.funding
		}
		tick[u.symbol] = u.price
	}
	c.mu.Unlock()

	c.ticks.Dispatch(tick)
}

func (c *Client) onKline(env envelope) {
	k, err := decodeKline(env.Data, c.now())
	if err != nil {
		c.dropped.Add(1)
		c.log.Debug("drop kline", zap.String("stream", env.Stream), zap.Error(err))
		return
	}
	c.mu.Lock()
	c.klines[helper.KlineKey(k.Symbol, k.Interval)] = k
	c.mu.Unlock()
}

// --- кеш ---

func (c *Client) Price(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.markPrices[strings.ToUpper(symbol)]
	return p, ok
}

func (c *Client) FundingRate(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.fundingRates[strings.ToUpper(symbol)]
	return r, ok
}

func (c *Client) IndexPrice(symbol string) (float64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.indexPrices[strings.ToUpper(symbol)]
	return p, ok
}

func (c *Client) LatestKline(symbol, interval string) (models.Kline, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	k, ok := c.klines[helper.KlineKey(strings.ToUpper(symbol), helper.NormTF(interval))]
	return k, ok
}

func (c *Client) AllPrices() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.markPrices))
	for k, v := range c.markPrices {
		out[k] = v
	}
	return out
}

func (c *Client) AllFundingRates() map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]float64, len(c.fundingRates))
	for k, v := range c.fundingRates {
		out[k] = v
	}
	return out
}

// PriceAge: сколько прошло с последнего сообщения; false, если сообщений ещё не было.
func (c *Client) PriceAge() (time.Duration, bool) {
	ts := c.lastMsg.Load()
	if ts == 0 {
		return time.Duration(math.MaxInt64), false
	}
	return c.now().Sub(time.Unix(0, ts)), true
}

func (c *Client) PricesFresh() bool {
	if c.State() != models.FeedConnected {
		return false
	}
	age, ok := c.PriceAge()
	return ok && age < c.opt.StaleAfter
}

// --- подписки на свечи ---

func (c *Client) klineStreamList() []string {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	return c.klineStreamListLocked()
}

func (c *Client) klineStreamListLocked() []string {
	out := make([]string, 0, len(c.klineStreams))
	for s := range c.klineStreams {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SubscribeKlines добавляет стрим в желаемый набор и, если есть соединение,
// шлёт SUBSCRIBE. Ошибка отправки не откатывает набор: следующий коннект его подхватит.
func (c *Client) SubscribeKlines(symbol, interval string) error {
	stream := helper.KlineStream(symbol, helper.NormTF(interval))

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.klineStreams[stream]; ok {
		return nil
	}
	c.klineStreams[stream] = struct{}{}
	return c.sendControl("SUBSCRIBE", []string{stream})
}

func (c *Client) UnsubscribeKlines(symbol, interval string) error {
	stream := helper.KlineStream(symbol, helper.NormTF(interval))

	c.subMu.Lock()
	defer c.subMu.Unlock()
	if _, ok := c.klineStreams[stream]; !ok {
		return nil
	}
	delete(c.klineStreams, stream)

	c.mu.Lock()
	sym, iv, _ := helper.SplitKlineStream(stream)
	delete(c.klines, helper.KlineKey(sym, iv))
	c.mu.Unlock()

	return c.sendControl("UNSUBSCRIBE", []string{stream})
}

// SyncKlineSubscriptions приводит набор kline-стримов к symbols × intervals.
func (c *Client) SyncKlineSubscriptions(symbols, intervals []string) (added, removed int, err error) {
	want := make(map[string]struct{}, len(symbols)*len(intervals))
	for _, s := range symbols {
		for _, iv := range intervals {
			want[helper.KlineStream(s, helper.NormTF(iv))] = struct{}{}
		}
	}

	c.subMu.Lock()
	var toAdd, toRemove []string
	for s := range want {
		if _, ok := c.klineStreams[s]; !ok {
			toAdd = append(toAdd, s)
		}
	}
	for s := range c.klineStreams {
		if _, ok := want[s]; !ok {
			toRemove = append(toRemove, s)
		}
	}
	c.subMu.Unlock()

	var errs []error
	for _, s := range toRemove {
		sym, iv, _ := helper.SplitKlineStream(s)
		if e := c.UnsubscribeKlines(sym, iv); e != nil {
			errs = append(errs, e)
		}
	}
	for _, s := range toAdd {
		sym, iv, _ := helper.SplitKlineStream(s)
		if e := c.SubscribeKlines(sym, iv); e != nil {
			errs = append(errs, e)
		}
	}

	if len(toAdd) > 0 || len(toRemove) > 0 {
		c.log.Info("kline subscriptions synced",
			zap.Int("added", len(toAdd)),
			zap.Int("removed", len(toRemove)),
		)
	}
	return len(toAdd), len(toRemove), errors.Join(errs...)
}

// reconcile досылает то, что поменялось в наборе, пока шёл коннект.
func (c *Client) reconcile(snapshot []string) {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	had := make(map[string]struct{}, len(snapshot))
	for _, s := range snapshot {
		had[s] = struct{}{}
	}
	var add, remove []string
	for s := range c.klineStreams {
		if _, ok := had[s]; !ok {
			add = append(add, s)
		}
	}
	for s := range had {
		if _, ok := c.klineStreams[s]; !ok {
			remove = append(remove, s)
		}
	}
	if len(add) > 0 {
		if err := c.sendControl("SUBSCRIBE", add); err != nil {
			c.log.Debug("kline resync after reconnect: subscribe failed", zap.Strings("streams", add), zap.Error(err))
		}
	}
	if len(remove) > 0 {
		if err := c.sendControl("UNSUBSCRIBE", remove); err != nil {
			c.log.Debug("kline resync after reconnect: unsubscribe failed", zap.Strings("streams", remove), zap.Error(err))
		}
	}
}

// sendControl вызывается под subMu. Без соединения: тихо выходим.
func (c *Client) sendControl(method string, streams []string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil || c.State() != models.FeedConnected {
		return nil
	}

	msg := controlMessage{Method: method, Params: streams, ID: c.controlID.Add(1)}
	body, err := sonic.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", method, err)
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, body); err != nil {
		c.errs.Add(1)
		c.log.Warn("control message failed",
			zap.String("method", method),
			zap.Strings("streams", streams),
			zap.Error(err),
		)
		return fmt.Errorf("send %s: %w", method, err)
	}
	c.log.Debug("control message sent", zap.String("method", method), zap.Strings("streams", streams))
	return nil
}
