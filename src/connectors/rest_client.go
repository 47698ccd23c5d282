package connectors

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"tradingcore/src/exchange"
	"tradingcore/src/model"
	"tradingcore/src/security"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	logger "github.com/sirupsen/logrus"
)

const (
	defaultRetryAttempts   = 5
	defaultRetryBaseDelay  = 500 * time.Millisecond
	defaultRetryMaxBackoff = 8 * time.Second
)

func init() {
	exchange.RegisterConnector("rest", func(exchangeID string) (exchange.Connector, error) {
		config := GetConfig()
		apiKey, err := security.DecryptString(config.APIKeyHash)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt API key: %w", err)
		}
		apiSecret, err := security.DecryptString(config.APISecretHash)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt API secret: %w", err)
		}
		return NewRestClient(apiKey, apiSecret, config.RestBaseURL, config.RestTimeout), nil
	})
}

// apiResponse is the gateway's uniform response envelope.
type apiResponse struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

// RestClient talks to an exchange gateway exposing the normalized REST
// API. Every private request is HMAC-signed; transient HTTP failures are
// retried by the underlying client before surfacing as model errors.
type RestClient struct {
	apiKey    string
	apiSecret string
	baseURL   string
	http      *resty.Client

	exchange.Adapter

	futures bool
}

func isRetryableResp(r *resty.Response, err error) bool {
	if err != nil {
		return true
	}
	if r == nil {
		return false
	}

	code := r.StatusCode()

	if code >= 500 && code <= 599 {
		return true
	}
	if code == 429 {
		return true
	}
	if code == 408 {
		return true
	}
	return false
}

func NewRestClient(apiKey, apiSecret, baseURL string, timeout time.Duration) *RestClient {
	retryCount := defaultRetryAttempts - 1

	if baseURL == "" {
		baseURL = GetConfig().RestBaseURL
		logger.Warnf("No base URL provided, using default: %s", baseURL)
	}

	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(retryCount).
		SetRetryWaitTime(defaultRetryBaseDelay).
		SetRetryMaxWaitTime(defaultRetryMaxBackoff).
		AddRetryCondition(isRetryableResp)

	c := &RestClient{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		baseURL:   baseURL,
		http:      httpClient,
	}
	c.Adapter = exchange.Adapter{
		OrderFields:    gatewayOrderFields,
		PositionFields: gatewayPositionFields,
		TickerFields:   gatewayTickerFields,
	}
	return c
}

// WithFutures flags the gateway as a derivatives venue.
func (c *RestClient) WithFutures() *RestClient {
	c.futures = true
	return c
}

func (c *RestClient) Name() string { return "rest" }

func (c *RestClient) SupportsFutures() bool     { return c.futures }
func (c *RestClient) SupportsDeepHistory() bool { return true }

func signRequest(path, query, body string, expiry int64, secret string) string {
	base := path
	if query != "" {
		base += query
	}
	base += fmt.Sprintf("%d", expiry)
	if body != "" {
		base += body
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *RestClient) doRequest(ctx context.Context, method, path, query string, body []byte) (*apiResponse, error) {
	expiry := time.Now().Add(1 * time.Minute).Unix()

	sig := signRequest(path, query, string(body), expiry, c.apiSecret)

	req := c.http.R().
		SetContext(ctx).
		SetHeader("x-api-access-token", c.apiKey).
		SetHeader("x-api-request-expiry", fmt.Sprintf("%d", expiry)).
		SetHeader("x-api-request-signature", sig)

	if query != "" {
		req = req.SetQueryString(query)
	}
	if body != nil {
		req = req.SetBody(body).SetHeader("Content-Type", "application/json")
	}

	resp, err := req.Execute(method, path)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", model.ErrUnreachableExchange, err)
	}

	if mapped := mapHTTPStatus(resp.StatusCode(), resp.Body()); mapped != nil {
		return nil, mapped
	}

	var parsed apiResponse
	if err := json.Unmarshal(resp.Body(), &parsed); err != nil {
		return nil, fmt.Errorf("%w: malformed response: %v", model.ErrFailedRequest, err)
	}
	if parsed.Code != 0 {
		return nil, mapAPICode(parsed.Code, parsed.Msg)
	}
	return &parsed, nil
}

// mapHTTPStatus folds transport-level failures into the model's error
// taxonomy so callers can decide between retry and bubble-up.
func mapHTTPStatus(code int, body []byte) error {
	switch {
	case code == 200:
		return nil
	case code == 408:
		return model.ErrRequestTimeout
	case code == 429:
		return fmt.Errorf("%w: rate limited", model.ErrRetriableFailedRequest)
	case code >= 500:
		return fmt.Errorf("%w: HTTP %d", model.ErrExchangeNotAvailable, code)
	default:
		return fmt.Errorf("%w: HTTP %d: %s", model.ErrFailedRequest, code, string(body))
	}
}

// Gateway application error codes.
const (
	apiCodeInvalidNonce     = 10001
	apiCodeOrderNotFound    = 20001
	apiCodeInsufficientBal  = 20002
	apiCodeUnsupportedCall  = 30001
	apiCodeDuplicateOrderID = 20003
)

func mapAPICode(code int, msg string) error {
	switch code {
	case apiCodeInvalidNonce:
		return model.ErrInvalidNonce
	case apiCodeOrderNotFound:
		return model.ErrOrderNotFoundOnCancel
	case apiCodeInsufficientBal:
		return fmt.Errorf("%w: %s", model.ErrMissingFunds, msg)
	case apiCodeUnsupportedCall:
		return model.ErrNotSupported
	default:
		return fmt.Errorf("%w: API error %d: %s", model.ErrFailedRequest, code, msg)
	}
}

func (c *RestClient) GetOpenOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	return c.fetchOrders(ctx, symbol, "open", limit)
}

func (c *RestClient) GetClosedOrders(ctx context.Context, symbol model.Symbol, limit int) ([]*model.RawOrder, error) {
	return c.fetchOrders(ctx, symbol, "closed", limit)
}

func (c *RestClient) fetchOrders(ctx context.Context, symbol model.Symbol, state string, limit int) ([]*model.RawOrder, error) {
	query := url.Values{"symbol": {symbol.String()}, "state": {state}}
	if limit > 0 {
		query.Set("limit", fmt.Sprintf("%d", limit))
	}
	resp, err := c.doRequest(ctx, "GET", "/v1/orders", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raws []map[string]any
	if err := json.Unmarshal(resp.Data, &raws); err != nil {
		return nil, fmt.Errorf("%w: malformed orders payload: %v", model.ErrFailedRequest, err)
	}
	orders := make([]*model.RawOrder, 0, len(raws))
	for _, raw := range raws {
		order, err := c.AdaptOrder(raw)
		if err != nil {
			return nil, err
		}
		orders = append(orders, order)
	}
	return orders, nil
}

func (c *RestClient) GetOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (*model.RawOrder, error) {
	query := url.Values{"symbol": {symbol.String()}}
	resp, err := c.doRequest(ctx, "GET", "/v1/orders/"+exchangeOrderID, query.Encode(), nil)
	if err != nil {
		if errors.Is(err, model.ErrOrderNotFoundOnCancel) {
			return nil, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed order payload: %v", model.ErrFailedRequest, err)
	}
	return c.AdaptOrder(raw)
}

func (c *RestClient) CreateOrder(ctx context.Context, order *model.Order) (*model.RawOrder, error) {
	body := map[string]any{
		"symbol":          order.Symbol.String(),
		"side":            string(order.Side),
		"type":            string(order.Type),
		"quantity":        order.OriginQuantity.String(),
		"price":           order.OriginPrice.String(),
		"client_order_id": order.ClientOrderID,
		"reduce_only":     order.ReduceOnly,
		"post_only":       order.PostOnly,
	}
	if order.Tag != "" {
		body["tag"] = order.Tag
	}

	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := c.doRequest(ctx, "POST", "/v1/orders", "", b)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed order payload: %v", model.ErrFailedRequest, err)
	}
	return c.AdaptOrder(raw)
}

func (c *RestClient) CancelOrder(ctx context.Context, exchangeOrderID string, symbol model.Symbol) (model.OrderStatus, error) {
	query := url.Values{"symbol": {symbol.String()}}
	resp, err := c.doRequest(ctx, "DELETE", "/v1/orders/"+exchangeOrderID, query.Encode(), nil)
	if err != nil {
		return "", err
	}

	var result struct {
		Status model.OrderStatus `json:"status"`
	}
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return "", fmt.Errorf("%w: malformed cancel payload: %v", model.ErrFailedRequest, err)
	}
	if result.Status == "" {
		return model.OrderStatusCanceled, nil
	}
	return result.Status, nil
}

func (c *RestClient) GetPositions(ctx context.Context, symbols []model.Symbol) ([]*model.RawPosition, error) {
	if !c.futures {
		return nil, model.ErrNotSupported
	}
	resp, err := c.doRequest(ctx, "GET", "/v1/positions", "", nil)
	if err != nil {
		return nil, err
	}

	var raws []map[string]any
	if err := json.Unmarshal(resp.Data, &raws); err != nil {
		return nil, fmt.Errorf("%w: malformed positions payload: %v", model.ErrFailedRequest, err)
	}
	positions := make([]*model.RawPosition, 0, len(raws))
	for _, raw := range raws {
		position, err := c.AdaptPosition(raw)
		if err != nil {
			return nil, err
		}
		positions = append(positions, position)
	}
	return positions, nil
}

func (c *RestClient) GetPosition(ctx context.Context, symbol model.Symbol) (*model.RawPosition, error) {
	if !c.futures {
		return nil, model.ErrNotSupported
	}
	query := url.Values{"symbol": {symbol.String()}}
	resp, err := c.doRequest(ctx, "GET", "/v1/position", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed position payload: %v", model.ErrFailedRequest, err)
	}
	return c.AdaptPosition(raw)
}

func (c *RestClient) GetSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int) ([]model.Candle, error) {
	return c.getSymbolPrices(ctx, symbol, timeFrame, limit, time.Time{})
}

// GetSymbolPricesUntil pages candle history backwards from an upper bound.
func (c *RestClient) GetSymbolPricesUntil(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error) {
	return c.getSymbolPrices(ctx, symbol, timeFrame, limit, until)
}

func (c *RestClient) getSymbolPrices(ctx context.Context, symbol model.Symbol, timeFrame model.TimeFrame, limit int, until time.Time) ([]model.Candle, error) {
	query := url.Values{
		"symbol":     {symbol.String()},
		"time_frame": {string(timeFrame)},
		"limit":      {fmt.Sprintf("%d", limit)},
	}
	if !until.IsZero() {
		query.Set("end_time", fmt.Sprintf("%d", until.UnixMilli()))
	}
	resp, err := c.doRequest(ctx, "GET", "/v1/klines", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	// klines arrive as [open_time_ms, open, high, low, close, volume]
	var rows [][]json.Number
	if err := json.Unmarshal(resp.Data, &rows); err != nil {
		return nil, fmt.Errorf("%w: malformed klines payload: %v", model.ErrFailedRequest, err)
	}
	candles := make([]model.Candle, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("%w: short kline row", model.ErrFailedRequest)
		}
		openMillis, err := row[0].Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: bad kline open time: %v", model.ErrFailedRequest, err)
		}
		candle := model.Candle{OpenTime: time.UnixMilli(openMillis)}
		for i, target := range []*decimal.Decimal{&candle.Open, &candle.High, &candle.Low, &candle.Close, &candle.Volume} {
			value, err := decimal.NewFromString(row[i+1].String())
			if err != nil {
				return nil, fmt.Errorf("%w: bad kline value: %v", model.ErrFailedRequest, err)
			}
			*target = value
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

func (c *RestClient) GetPriceTicker(ctx context.Context, symbol model.Symbol) (*model.Ticker, error) {
	query := url.Values{"symbol": {symbol.String()}}
	resp, err := c.doRequest(ctx, "GET", "/v1/ticker", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw map[string]any
	if err := json.Unmarshal(resp.Data, &raw); err != nil {
		return nil, fmt.Errorf("%w: malformed ticker payload: %v", model.ErrFailedRequest, err)
	}
	return c.AdaptTicker(raw)
}

func (c *RestClient) GetOrderBook(ctx context.Context, symbol model.Symbol) (*model.OrderBook, error) {
	query := url.Values{"symbol": {symbol.String()}}
	resp, err := c.doRequest(ctx, "GET", "/v1/depth", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var book model.OrderBook
	if err := json.Unmarshal(resp.Data, &book); err != nil {
		return nil, fmt.Errorf("%w: malformed depth payload: %v", model.ErrFailedRequest, err)
	}
	book.Symbol = symbol.String()
	return &book, nil
}

func (c *RestClient) GetRecentTrades(ctx context.Context, symbol model.Symbol, limit int) ([]model.PublicTrade, error) {
	query := url.Values{"symbol": {symbol.String()}, "limit": {fmt.Sprintf("%d", limit)}}
	resp, err := c.doRequest(ctx, "GET", "/v1/trades", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var publicTrades []model.PublicTrade
	if err := json.Unmarshal(resp.Data, &publicTrades); err != nil {
		return nil, fmt.Errorf("%w: malformed trades payload: %v", model.ErrFailedRequest, err)
	}
	return publicTrades, nil
}

func (c *RestClient) GetMarkPrice(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return c.getMarkPrice(ctx, symbol, false)
}

func (c *RestClient) GetMarkPriceAndFunding(ctx context.Context, symbol model.Symbol) (*model.MarkPrice, error) {
	return c.getMarkPrice(ctx, symbol, true)
}

func (c *RestClient) getMarkPrice(ctx context.Context, symbol model.Symbol, withFunding bool) (*model.MarkPrice, error) {
	if !c.futures {
		return nil, model.ErrNotSupported
	}
	query := url.Values{"symbol": {symbol.String()}}
	if withFunding {
		query.Set("funding", "true")
	}
	resp, err := c.doRequest(ctx, "GET", "/v1/mark-price", query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var mark model.MarkPrice
	if err := json.Unmarshal(resp.Data, &mark); err != nil {
		return nil, fmt.Errorf("%w: malformed mark price payload: %v", model.ErrFailedRequest, err)
	}
	return &mark, nil
}

func (c *RestClient) GetMarkets(ctx context.Context) ([]model.Market, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/markets", "", nil)
	if err != nil {
		return nil, err
	}

	var markets []model.Market
	if err := json.Unmarshal(resp.Data, &markets); err != nil {
		return nil, fmt.Errorf("%w: malformed markets payload: %v", model.ErrFailedRequest, err)
	}
	return markets, nil
}

func (c *RestClient) GetBalances(ctx context.Context) ([]model.RawBalance, error) {
	resp, err := c.doRequest(ctx, "GET", "/v1/balances", "", nil)
	if err != nil {
		return nil, err
	}

	var balances []model.RawBalance
	if err := json.Unmarshal(resp.Data, &balances); err != nil {
		return nil, fmt.Errorf("%w: malformed balances payload: %v", model.ErrFailedRequest, err)
	}
	return balances, nil
}

func (c *RestClient) SetLeverage(ctx context.Context, symbol model.Symbol, side model.PositionSide, leverage decimal.Decimal) error {
	if !c.futures {
		return model.ErrNotSupported
	}
	b, err := json.Marshal(map[string]any{
		"symbol":   symbol.String(),
		"side":     string(side),
		"leverage": leverage.String(),
	})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, "POST", "/v1/leverage", "", b)
	return err
}

func (c *RestClient) SetMarginType(ctx context.Context, symbol model.Symbol, side model.PositionSide, marginType model.MarginType) error {
	if !c.futures {
		return model.ErrNotSupported
	}
	b, err := json.Marshal(map[string]any{
		"symbol":      symbol.String(),
		"side":        string(side),
		"margin_type": string(marginType),
	})
	if err != nil {
		return err
	}
	_, err = c.doRequest(ctx, "POST", "/v1/margin-type", "", b)
	return err
}
