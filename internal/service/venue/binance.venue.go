package venue

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/krobus00/order-executor/internal/config"
	"github.com/krobus00/order-executor/internal/entity"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	binanceDefaultBaseURL   = "https://fapi.binance.com"
	binanceDefaultWSBaseURL = "wss://fstream.binance.com"
	binanceDepthLimit       = 20
	binanceListenKeyRefresh = 30 * time.Minute
)

// Binance API error codes worth classifying.
const (
	binanceCodeInsufficientBalance = -2010
	binanceCodeInsufficientMargin  = -2019
	binanceCodeUnknownSymbol       = -1121
	binanceCodeTooManyRequests     = -1003
	binanceCodeNoNeedToChange      = -4046 // margin mode already set
)

type BinanceVenue struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	wsBaseURL  string
	recvWindow int64
	leverage   int
	streaming  bool
	httpClient *http.Client

	bookFeedMu sync.Mutex
	bookFeeds  map[string]*binanceBookStream

	userFeedMu    sync.Mutex
	userStream    *binanceUserStream
	listenKey     string
	listenKeyTime time.Time
}

func InitBinanceVenue(venueConfig config.VenueConfig) *BinanceVenue {
	baseURL := strings.TrimSpace(venueConfig.BaseURL)
	if baseURL == "" {
		baseURL = binanceDefaultBaseURL
	}
	wsBaseURL := strings.TrimSpace(venueConfig.WSBaseURL)
	if wsBaseURL == "" {
		wsBaseURL = binanceDefaultWSBaseURL
	}
	recvWindow := venueConfig.RecvWindow
	if recvWindow <= 0 {
		recvWindow = 5000
	}

	newVenue := &BinanceVenue{
		apiKey:     strings.TrimSpace(venueConfig.APIKey),
		apiSecret:  strings.TrimSpace(venueConfig.APISecret),
		baseURL:    strings.TrimRight(baseURL, "/"),
		wsBaseURL:  strings.TrimRight(wsBaseURL, "/"),
		recvWindow: recvWindow,
		leverage:   venueConfig.Leverage,
		streaming:  venueConfig.Streaming,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		bookFeeds:  make(map[string]*binanceBookStream),
	}

	RegisterVenue(entity.VenueBinance, newVenue)

	return newVenue
}

func (v *BinanceVenue) ID() string {
	return string(entity.VenueBinance)
}

func (v *BinanceVenue) SupportsStreaming() bool {
	return v.streaming
}

func (v *BinanceVenue) Leverage() int {
	return v.leverage
}

func (v *BinanceVenue) CreateLimitOrder(ctx context.Context, symbol string, side entity.OrderSide, amount, price decimal.Decimal, params map[string]string) (*entity.VenueOrder, error) {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	values.Set("side", string(side))
	values.Set("type", "LIMIT")
	values.Set("timeInForce", "GTC")
	values.Set("quantity", amount.String())
	values.Set("price", price.String())
	for k, val := range params {
		values.Set(k, val)
	}

	var resp binanceOrderResponse
	if err := v.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", values, &resp); err != nil {
		return nil, err
	}

	order := resp.toVenueOrder()
	return &order, nil
}

func (v *BinanceVenue) CreateMarketOrder(ctx context.Context, symbol string, side entity.OrderSide, amount decimal.Decimal, params map[string]string) (*entity.VenueOrder, error) {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	values.Set("side", string(side))
	values.Set("type", "MARKET")
	values.Set("quantity", amount.String())
	for k, val := range params {
		values.Set(k, val)
	}

	var resp binanceOrderResponse
	if err := v.signedRequest(ctx, http.MethodPost, "/fapi/v1/order", values, &resp); err != nil {
		return nil, err
	}

	order := resp.toVenueOrder()
	return &order, nil
}

func (v *BinanceVenue) CancelOrder(ctx context.Context, orderID, symbol string) error {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	values.Set("orderId", orderID)

	var resp binanceOrderResponse
	return v.signedRequest(ctx, http.MethodDelete, "/fapi/v1/order", values, &resp)
}

func (v *BinanceVenue) FetchOpenOrders(ctx context.Context, symbol string) ([]entity.VenueOrder, error) {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))

	var resp []binanceOrderResponse
	if err := v.signedRequest(ctx, http.MethodGet, "/fapi/v1/openOrders", values, &resp); err != nil {
		return nil, err
	}

	orders := make([]entity.VenueOrder, 0, len(resp))
	for _, item := range resp {
		orders = append(orders, item.toVenueOrder())
	}
	return orders, nil
}

func (v *BinanceVenue) FetchOrder(ctx context.Context, orderID, symbol string) (*entity.VenueOrder, error) {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	values.Set("orderId", orderID)

	var resp binanceOrderResponse
	if err := v.signedRequest(ctx, http.MethodGet, "/fapi/v1/order", values, &resp); err != nil {
		return nil, err
	}

	order := resp.toVenueOrder()
	return &order, nil
}

func (v *BinanceVenue) FetchOrderBook(ctx context.Context, symbol string) (*entity.OrderBook, error) {
	endpoint := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", v.baseURL, binanceSymbol(symbol), binanceDepthLimit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return nil, &entity.NetworkError{VenueID: v.ID(), Op: "fetch_order_book", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &entity.NetworkError{VenueID: v.ID(), Op: "fetch_order_book", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, binanceAPIError(resp.StatusCode, body)
	}

	var depth struct {
		LastUpdateID int64      `json:"lastUpdateId"`
		EventTime    int64      `json:"E"`
		Bids         [][]string `json:"bids"`
		Asks         [][]string `json:"asks"`
	}
	if err := json.Unmarshal(body, &depth); err != nil {
		return nil, fmt.Errorf("binance depth parse failed: %w", err)
	}

	book := &entity.OrderBook{
		Symbol:      symbol,
		Bids:        binanceBookLevels(depth.Bids),
		Asks:        binanceBookLevels(depth.Asks),
		TimestampMs: depth.EventTime,
	}
	if book.TimestampMs == 0 {
		book.TimestampMs = time.Now().UnixMilli()
	}
	return book, nil
}

func (v *BinanceVenue) SetMarginMode(ctx context.Context, mode, symbol string) error {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	marginType := "CROSSED"
	if strings.EqualFold(mode, "isolated") {
		marginType = "ISOLATED"
	}
	values.Set("marginType", marginType)

	var resp json.RawMessage
	err := v.signedRequest(ctx, http.MethodPost, "/fapi/v1/marginType", values, &resp)
	if err != nil {
		var apiErr *binanceError
		if asBinanceError(err, &apiErr) && apiErr.Code == binanceCodeNoNeedToChange {
			return nil
		}
	}
	return err
}

func (v *BinanceVenue) SetLeverage(ctx context.Context, leverage int, symbol string) error {
	values := url.Values{}
	values.Set("symbol", binanceSymbol(symbol))
	values.Set("leverage", strconv.Itoa(leverage))

	var resp json.RawMessage
	return v.signedRequest(ctx, http.MethodPost, "/fapi/v1/leverage", values, &resp)
}

// WatchOrderBook blocks until the next depth push for the symbol,
// dialing the stream on first use. Transport failures tear the
// connection down and surface as a NetworkError so the caller owns the
// reconnect policy.
func (v *BinanceVenue) WatchOrderBook(ctx context.Context, symbol string) (*entity.OrderBook, error) {
	stream := v.bookStream(symbol)

	message, err := stream.next(ctx)
	if err != nil {
		return nil, err
	}

	var payload struct {
		EventTime int64      `json:"E"`
		Bids      [][]string `json:"b"`
		Asks      [][]string `json:"a"`
	}
	if err := json.Unmarshal(message, &payload); err != nil {
		return nil, fmt.Errorf("binance depth stream parse failed: %w", err)
	}

	book := &entity.OrderBook{
		Symbol:      symbol,
		Bids:        binanceBookLevels(payload.Bids),
		Asks:        binanceBookLevels(payload.Asks),
		TimestampMs: payload.EventTime,
	}
	if book.TimestampMs == 0 {
		book.TimestampMs = time.Now().UnixMilli()
	}
	return book, nil
}

// WatchOrders blocks until the next order update for the symbol. The
// user data stream is read by one demux loop that fans updates out into
// per-symbol queues, so a watcher of one symbol can never consume and
// drop an update meant for another.
func (v *BinanceVenue) WatchOrders(ctx context.Context, symbol string) ([]entity.VenueOrder, error) {
	stream, err := v.ensureUserStream(ctx)
	if err != nil {
		return nil, err
	}

	order, err := stream.nextOrder(ctx, binanceSymbol(symbol))
	if err != nil {
		return nil, err
	}
	return []entity.VenueOrder{order}, nil
}

func (v *BinanceVenue) bookStream(symbol string) *binanceBookStream {
	v.bookFeedMu.Lock()
	defer v.bookFeedMu.Unlock()

	key := strings.ToLower(binanceSymbol(symbol))
	if stream, ok := v.bookFeeds[key]; ok {
		return stream
	}
	stream := &binanceBookStream{
		venueID: v.ID(),
		url:     fmt.Sprintf("%s/ws/%s@depth%d@100ms", v.wsBaseURL, key, binanceDepthLimit),
	}
	v.bookFeeds[key] = stream
	return stream
}

// ensureUserStream lazily opens the user data stream and refreshes the
// listen key before it expires. A key rotation replaces the stream.
func (v *BinanceVenue) ensureUserStream(ctx context.Context) (*binanceUserStream, error) {
	v.userFeedMu.Lock()
	defer v.userFeedMu.Unlock()

	if v.listenKey != "" && time.Since(v.listenKeyTime) > binanceListenKeyRefresh {
		if err := v.keepAliveListenKey(ctx); err != nil {
			logrus.Warnf("binance listen key keepalive failed: %v", err)
			v.listenKey = ""
		} else {
			v.listenKeyTime = time.Now()
		}
	}

	if v.listenKey == "" || v.userStream == nil {
		if v.listenKey == "" {
			key, err := v.createListenKey(ctx)
			if err != nil {
				return nil, err
			}
			v.listenKey = key
		}
		v.listenKeyTime = time.Now()
		if v.userStream != nil {
			v.userStream.stop()
		}
		v.userStream = newBinanceUserStream(v.ID(), fmt.Sprintf("%s/ws/%s", v.wsBaseURL, v.listenKey))
	}

	return v.userStream, nil
}

func (v *BinanceVenue) createListenKey(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-MBX-APIKEY", v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return "", &entity.NetworkError{VenueID: v.ID(), Op: "create_listen_key", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &entity.NetworkError{VenueID: v.ID(), Op: "create_listen_key", Err: err}
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return "", binanceAPIError(resp.StatusCode, body)
	}

	var payload struct {
		ListenKey string `json:"listenKey"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return "", fmt.Errorf("binance listen key parse failed: %w", err)
	}
	if payload.ListenKey == "" {
		return "", fmt.Errorf("binance listen key response is empty")
	}
	return payload.ListenKey, nil
}

func (v *BinanceVenue) keepAliveListenKey(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, v.baseURL+"/fapi/v1/listenKey", nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return &entity.NetworkError{VenueID: v.ID(), Op: "keepalive_listen_key", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		body, _ := io.ReadAll(resp.Body)
		return binanceAPIError(resp.StatusCode, body)
	}
	return nil
}

func (v *BinanceVenue) signedRequest(ctx context.Context, method, path string, values url.Values, out any) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if v.apiKey == "" || v.apiSecret == "" {
		return fmt.Errorf("binance credentials are missing in config")
	}

	values.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	values.Set("recvWindow", strconv.FormatInt(v.recvWindow, 10))

	payload := values.Encode()
	signature := hmacSHA256Hex(v.apiSecret, payload)
	endpoint := v.baseURL + path + "?" + payload + "&signature=" + signature

	req, err := http.NewRequestWithContext(ctx, method, endpoint, nil)
	if err != nil {
		return err
	}
	req.Header.Set("X-MBX-APIKEY", v.apiKey)

	resp, err := v.httpClient.Do(req)
	if err != nil {
		return &entity.NetworkError{VenueID: v.ID(), Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return &entity.NetworkError{VenueID: v.ID(), Op: method + " " + path, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return binanceAPIError(resp.StatusCode, body)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance response parse failed: status=%d body=%s", resp.StatusCode, string(body))
	}
	return nil
}

// binanceError carries the venue's error payload, wrapping the matching
// sentinel so callers can classify with errors.Is.
type binanceError struct {
	StatusCode int
	Code       int
	Message    string
	sentinel   error
}

func (e *binanceError) Error() string {
	return fmt.Sprintf("binance request rejected: status=%d code=%d message=%s", e.StatusCode, e.Code, e.Message)
}

func (e *binanceError) Unwrap() error {
	return e.sentinel
}

func asBinanceError(err error, target **binanceError) bool {
	be, ok := err.(*binanceError)
	if ok {
		*target = be
	}
	return ok
}

func binanceAPIError(statusCode int, body []byte) error {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &payload)
	if payload.Msg == "" {
		payload.Msg = strings.TrimSpace(string(body))
	}

	var sentinel error
	switch {
	case payload.Code == binanceCodeInsufficientBalance || payload.Code == binanceCodeInsufficientMargin:
		sentinel = entity.ErrInsufficientFunds
	case payload.Code == binanceCodeUnknownSymbol:
		sentinel = entity.ErrUnknownSymbol
	case payload.Code == binanceCodeTooManyRequests || statusCode == http.StatusTooManyRequests:
		sentinel = entity.ErrRateLimited
	}

	return &binanceError{
		StatusCode: statusCode,
		Code:       payload.Code,
		Message:    payload.Msg,
		sentinel:   sentinel,
	}
}

type binanceOrderResponse struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	AvgPrice      string `json:"avgPrice"`
	Price         string `json:"price"`
	UpdateTime    int64  `json:"updateTime"`
	ClientOrderID string `json:"clientOrderId"`
}

func (r binanceOrderResponse) toVenueOrder() entity.VenueOrder {
	amount := binanceDecimalOrZero(r.OrigQty)
	filled := binanceDecimalOrZero(r.ExecutedQty)

	order := entity.VenueOrder{
		ID:          strconv.FormatInt(r.OrderID, 10),
		Symbol:      r.Symbol,
		Status:      binanceOrderStatus(r.Status),
		Side:        entity.OrderSide(r.Side),
		Type:        entity.OrderType(r.Type),
		Amount:      amount,
		Filled:      filled,
		Remaining:   amount.Sub(filled),
		TimestampMs: r.UpdateTime,
	}
	if avg := binanceDecimalOrZero(r.AvgPrice); avg.IsPositive() {
		order.AveragePrice = &avg
	}
	if price := binanceDecimalOrZero(r.Price); price.IsPositive() {
		order.LastPrice = &price
	}
	return order
}

type binanceOrderUpdate struct {
	Symbol       string `json:"s"`
	Side         string `json:"S"`
	Type         string `json:"o"`
	Status       string `json:"X"`
	OrderID      int64  `json:"i"`
	OrigQty      string `json:"q"`
	FilledQty    string `json:"z"`
	AvgPrice     string `json:"ap"`
	LastPrice    string `json:"L"`
	TradeTimeMs  int64  `json:"T"`
	ClientID     string `json:"c"`
	ExecutionTyp string `json:"x"`
}

func (u binanceOrderUpdate) toVenueOrder() entity.VenueOrder {
	amount := binanceDecimalOrZero(u.OrigQty)
	filled := binanceDecimalOrZero(u.FilledQty)

	order := entity.VenueOrder{
		ID:          strconv.FormatInt(u.OrderID, 10),
		Symbol:      u.Symbol,
		Status:      binanceOrderStatus(u.Status),
		Side:        entity.OrderSide(u.Side),
		Type:        entity.OrderType(u.Type),
		Amount:      amount,
		Filled:      filled,
		Remaining:   amount.Sub(filled),
		TimestampMs: u.TradeTimeMs,
	}
	if avg := binanceDecimalOrZero(u.AvgPrice); avg.IsPositive() {
		order.AveragePrice = &avg
	}
	if last := binanceDecimalOrZero(u.LastPrice); last.IsPositive() {
		order.LastPrice = &last
	}
	return order
}

func binanceOrderStatus(status string) entity.OrderStatus {
	switch strings.ToUpper(status) {
	case "NEW", "PARTIALLY_FILLED":
		return entity.OrderStatusOpen
	case "FILLED":
		return entity.OrderStatusClosed
	case "CANCELED", "PENDING_CANCEL":
		return entity.OrderStatusCanceled
	case "REJECTED":
		return entity.OrderStatusRejected
	case "EXPIRED", "EXPIRED_IN_MATCH":
		return entity.OrderStatusExpired
	default:
		return entity.OrderStatusOpen
	}
}

func binanceBookLevels(raw [][]string) []entity.BookLevel {
	levels := make([]entity.BookLevel, 0, len(raw))
	for _, item := range raw {
		if len(item) < 2 {
			continue
		}
		price := binanceDecimalOrZero(item[0])
		amount := binanceDecimalOrZero(item[1])
		if !price.IsPositive() {
			continue
		}
		levels = append(levels, entity.BookLevel{Price: price, Amount: amount})
	}
	return levels
}

func binanceDecimalOrZero(raw string) decimal.Decimal {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Zero
	}
	value, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Zero
	}
	return value
}

func binanceSymbol(symbol string) string {
	normalized := strings.ToUpper(strings.TrimSpace(symbol))
	normalized = strings.ReplaceAll(normalized, "/", "")
	normalized = strings.ReplaceAll(normalized, "-", "")
	return normalized
}

func hmacSHA256Hex(secret, payload string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(payload))
	return fmt.Sprintf("%x", h.Sum(nil))
}

type wsPayload struct {
	data []byte
	err  error
}

// binanceBookStream broadcasts every depth push for one symbol to all
// callers currently waiting in WatchOrderBook. Concurrent orders on the
// same symbol each see every snapshot instead of competing for reads.
type binanceBookStream struct {
	venueID string
	url     string

	mu      sync.Mutex
	feed    *binanceWSFeed
	waiters []chan wsPayload
	running bool
}

func (s *binanceBookStream) next(ctx context.Context) ([]byte, error) {
	waiter := make(chan wsPayload, 1)

	s.mu.Lock()
	s.waiters = append(s.waiters, waiter)
	if !s.running {
		s.running = true
		if s.feed == nil {
			s.feed = &binanceWSFeed{venueID: s.venueID, url: s.url}
		}
		go s.readLoop(s.feed)
	}
	s.mu.Unlock()

	select {
	case payload := <-waiter:
		return payload.data, payload.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *binanceBookStream) readLoop(feed *binanceWSFeed) {
	for {
		message, err := feed.next(context.Background())

		s.mu.Lock()
		waiters := s.waiters
		s.waiters = nil
		if err != nil {
			s.running = false
			s.feed = nil
		}
		s.mu.Unlock()

		// Each waiter channel has capacity one and is only ever handed
		// a single payload, so these sends never block.
		for _, waiter := range waiters {
			waiter <- wsPayload{data: message, err: err}
		}
		if err != nil {
			return
		}
	}
}

const binanceUserQueueDepth = 128

// binanceUserStream reads the user data stream once and demuxes order
// updates by symbol into persistent buffered queues. Buffering holds
// updates arriving between successive WatchOrders calls.
type binanceUserStream struct {
	venueID string
	url     string

	mu      sync.Mutex
	feed    *binanceWSFeed
	queues  map[string]chan entity.VenueOrder
	stopped chan struct{}
	readErr error
	running bool
	closed  bool
}

func newBinanceUserStream(venueID, url string) *binanceUserStream {
	return &binanceUserStream{
		venueID: venueID,
		url:     url,
		queues:  make(map[string]chan entity.VenueOrder),
		stopped: make(chan struct{}),
	}
}

// queue returns the symbol's update queue. Caller holds s.mu.
func (s *binanceUserStream) queue(symbol string) chan entity.VenueOrder {
	q, ok := s.queues[symbol]
	if !ok {
		q = make(chan entity.VenueOrder, binanceUserQueueDepth)
		s.queues[symbol] = q
	}
	return q
}

func (s *binanceUserStream) nextOrder(ctx context.Context, symbol string) (entity.VenueOrder, error) {
	s.mu.Lock()
	q := s.queue(symbol)
	if !s.running && !s.closed {
		s.running = true
		s.readErr = nil
		s.stopped = make(chan struct{})
		s.feed = &binanceWSFeed{venueID: s.venueID, url: s.url}
		go s.readLoop(s.feed)
	}
	stopped := s.stopped
	s.mu.Unlock()

	// Drain buffered updates before reporting a dead stream.
	select {
	case order := <-q:
		return order, nil
	default:
	}

	select {
	case order := <-q:
		return order, nil
	case <-stopped:
		s.mu.Lock()
		err := s.readErr
		s.mu.Unlock()
		if err == nil {
			err = &entity.NetworkError{VenueID: s.venueID, Op: "ws_user_stream", Err: errors.New("user stream closed")}
		}
		return entity.VenueOrder{}, err
	case <-ctx.Done():
		return entity.VenueOrder{}, ctx.Err()
	}
}

func (s *binanceUserStream) readLoop(feed *binanceWSFeed) {
	for {
		message, err := feed.next(context.Background())
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.running = false
			close(s.stopped)
			s.mu.Unlock()
			return
		}

		var payload struct {
			Event string             `json:"e"`
			Order binanceOrderUpdate `json:"o"`
		}
		if err := json.Unmarshal(message, &payload); err != nil {
			logrus.Warnf("binance user stream parse failed: %v", err)
			continue
		}
		if payload.Event != "ORDER_TRADE_UPDATE" {
			continue
		}

		s.mu.Lock()
		q := s.queue(payload.Order.Symbol)
		s.mu.Unlock()

		select {
		case q <- payload.Order.toVenueOrder():
		default:
			// Full queue: drop the oldest so the freshest state lands.
			select {
			case <-q:
			default:
			}
			select {
			case q <- payload.Order.toVenueOrder():
			default:
			}
		}
	}
}

func (s *binanceUserStream) stop() {
	s.mu.Lock()
	s.closed = true
	feed := s.feed
	s.mu.Unlock()
	if feed != nil {
		feed.close()
	}
}

// binanceWSFeed owns one websocket connection and hands out messages
// one at a time. The connection dials lazily and is dropped on any
// read error; callers decide when to reconnect by calling next again.
type binanceWSFeed struct {
	venueID string
	url     string

	mu   sync.Mutex
	conn *websocket.Conn
}

func (f *binanceWSFeed) next(ctx context.Context) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if f.conn == nil {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, f.url, nil)
		if err != nil {
			return nil, &entity.NetworkError{VenueID: f.venueID, Op: "ws_dial", Err: err}
		}
		conn.SetPongHandler(func(string) error {
			return nil
		})
		f.conn = conn
	}

	conn := f.conn
	readDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-readDone:
		}
	}()

	_, message, err := conn.ReadMessage()
	close(readDone)
	if err != nil {
		_ = conn.Close()
		f.conn = nil
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &entity.NetworkError{VenueID: f.venueID, Op: "ws_read", Err: err}
	}
	return message, nil
}

func (f *binanceWSFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		_ = f.conn.Close()
		f.conn = nil
	}
}
