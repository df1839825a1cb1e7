package api

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fibonacci-trader/config"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

var _ interfaces.Broker = (*RESTClient)(nil)

// RESTClient talks to a terminal bridge over signed REST calls
type RESTClient struct {
	Config *config.Config
	Logger logging.LoggerInterface
	HTTP   *http.Client
}

// NewRESTClient creates a new REST bridge client
func NewRESTClient(cfg *config.Config, logger logging.LoggerInterface) *RESTClient {
	return &RESTClient{
		Config: cfg,
		Logger: logger,
		HTTP:   &http.Client{Timeout: cfg.HTTPTimeout},
	}
}

// envelope is the bridge's reply wrapper; retCode 0 means success
type envelope struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
}

// BridgeError is a non-zero retCode returned by the bridge
type BridgeError struct {
	Path    string
	RetCode int
	RetMsg  string
}

func (e *BridgeError) Error() string {
	return fmt.Sprintf("%s error %d: %s", e.Path, e.RetCode, e.RetMsg)
}

func (c *RESTClient) Name() string { return "rest" }

// SignREST signs a REST request
func (c *RESTClient) SignREST(secret, timestamp, apiKey, recvWindow, payload string) string {
	base := timestamp + apiKey + recvWindow + payload
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(base))
	return hex.EncodeToString(mac.Sum(nil))
}

// do sends a signed request and decodes result into out. GET requests sign
// the encoded query, POST requests sign the JSON body.
func (c *RESTClient) do(ctx context.Context, method, path string, q url.Values, body any, out any) error {
	var (
		raw     []byte
		payload string
		target  = strings.TrimRight(c.Config.BridgeURL, "/") + path
	)
	if body != nil {
		var err error
		if raw, err = json.Marshal(body); err != nil {
			return err
		}
		payload = string(raw)
	} else if len(q) > 0 {
		payload = q.Encode()
		target += "?" + payload
	}
	ts := strconv.FormatInt(time.Now().UnixMilli(), 10)

	if c.Logger != nil {
		c.Logger.Debug("Sending %s request to bridge: %s %s", method, path, payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-BRIDGE-API-KEY", c.Config.APIKey)
	req.Header.Set("X-BRIDGE-TIMESTAMP", ts)
	req.Header.Set("X-BRIDGE-RECV-WINDOW", c.Config.RecvWindow)
	req.Header.Set("X-BRIDGE-SIGN", c.SignREST(c.Config.APISecret, ts, c.Config.APIKey, c.Config.RecvWindow, payload))

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if c.Logger != nil {
			c.Logger.Error("Failed to send %s request to bridge: %v", method, err)
		}
		return err
	}
	defer resp.Body.Close()
	reply, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if c.Logger != nil {
		c.Logger.Debug("Received response from bridge for %s: Status %d, Body: %s", path, resp.StatusCode, string(reply))
	}

	var env envelope
	if err := json.Unmarshal(reply, &env); err != nil {
		return fmt.Errorf("%s: status %d: %w", path, resp.StatusCode, err)
	}
	if env.RetCode != 0 {
		return &BridgeError{Path: path, RetCode: env.RetCode, RetMsg: env.RetMsg}
	}
	if out == nil || len(env.Result) == 0 {
		return nil
	}
	return json.Unmarshal(env.Result, out)
}

func parse(s string) float64 {
	v, _ := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v
}

// FetchBars fetches the latest count bars. Each bar is
// [startMillis, open, high, low, close, volume] as strings, oldest first.
func (c *RESTClient) FetchBars(ctx context.Context, symbol, timeframe string, count int) (models.BarWindow, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("timeframe", timeframe)
	q.Set("count", strconv.Itoa(count))

	var r struct {
		List [][]string `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/bars", q, nil, &r); err != nil {
		return nil, err
	}
	out := make(models.BarWindow, 0, len(r.List))
	for _, k := range r.List {
		if len(k) < 5 {
			return nil, fmt.Errorf("malformed bar: %v", k)
		}
		ms, err := strconv.ParseInt(k[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("malformed bar time %q: %w", k[0], err)
		}
		bar := models.Bar{
			Time:  time.UnixMilli(ms).UTC(),
			Open:  parse(k[1]),
			High:  parse(k[2]),
			Low:   parse(k[3]),
			Close: parse(k[4]),
		}
		if len(k) > 5 {
			bar.Volume = parse(k[5])
		}
		out = append(out, bar)
	}
	return out, nil
}

// CurrentTick fetches the current bid/ask
func (c *RESTClient) CurrentTick(ctx context.Context, symbol string) (models.Tick, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var r struct {
		Bid  string `json:"bid"`
		Ask  string `json:"ask"`
		Time int64  `json:"time"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/tick", q, nil, &r); err != nil {
		return models.Tick{}, err
	}
	tick := models.Tick{Bid: parse(r.Bid), Ask: parse(r.Ask), Time: time.UnixMilli(r.Time).UTC()}
	if tick.Bid <= 0 || tick.Ask <= 0 {
		return models.Tick{}, fmt.Errorf("no quote for %s", symbol)
	}
	return tick, nil
}

// SymbolMeta fetches instrument information
func (c *RESTClient) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var r struct {
		Point      string `json:"point"`
		TickValue  string `json:"tickValue"`
		VolumeMin  string `json:"volumeMin"`
		VolumeMax  string `json:"volumeMax"`
		VolumeStep string `json:"volumeStep"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/instrument-info", q, nil, &r); err != nil {
		return models.SymbolMeta{}, err
	}
	meta := models.SymbolMeta{
		Symbol:     symbol,
		Point:      parse(r.Point),
		TickValue:  parse(r.TickValue),
		VolumeMin:  parse(r.VolumeMin),
		VolumeMax:  parse(r.VolumeMax),
		VolumeStep: parse(r.VolumeStep),
	}
	if meta.Point <= 0 {
		return models.SymbolMeta{}, fmt.Errorf("instrument info for %s has no point size", symbol)
	}
	return meta, nil
}

// AccountEquity fetches the account equity
func (c *RESTClient) AccountEquity(ctx context.Context) (float64, error) {
	var r struct {
		Equity string `json:"equity"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/account/info", nil, nil, &r); err != nil {
		return 0, err
	}
	return strconv.ParseFloat(r.Equity, 64)
}

// OpenPositionCount counts open positions for symbol
func (c *RESTClient) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	var r struct {
		List []struct {
			Ticket string `json:"ticket"`
			Side   string `json:"side"`
			Volume string `json:"volume"`
		} `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/position/list", q, nil, &r); err != nil {
		return 0, err
	}
	return len(r.List), nil
}

// SubmitMarketOrder sends a market order with attached stops. A bridge
// refusal comes back as Success=false with the bridge's message.
func (c *RESTClient) SubmitMarketOrder(ctx context.Context, symbol string, in models.OrderIntent) (models.OrderResult, error) {
	body := map[string]any{
		"symbol":     symbol,
		"side":       string(in.Side),
		"orderType":  "Market",
		"volume":     strconv.FormatFloat(in.Volume, 'f', -1, 64),
		"price":      strconv.FormatFloat(in.Entry, 'f', -1, 64),
		"stopLoss":   strconv.FormatFloat(in.StopLoss, 'f', -1, 64),
		"takeProfit": strconv.FormatFloat(in.TakeProfit, 'f', -1, 64),
		"deviation":  in.Deviation,
		"magic":      in.Magic,
		"comment":    in.Comment,
	}
	if c.Logger != nil {
		c.Logger.Info("Sending order to bridge: %s %s %s", symbol, in.Side, body["volume"])
	}
	var r struct {
		OrderID string `json:"orderId"`
	}
	err := c.do(ctx, http.MethodPost, "/v1/order/create", nil, body, &r)
	var be *BridgeError
	if errors.As(err, &be) {
		return models.OrderResult{Reason: fmt.Sprintf("%d: %s", be.RetCode, be.RetMsg)}, nil
	}
	if err != nil {
		return models.OrderResult{}, err
	}
	return models.OrderResult{Success: true, OrderID: r.OrderID}, nil
}

// Symbols lists the instruments the bridge exposes
func (c *RESTClient) Symbols(ctx context.Context) ([]string, error) {
	var r struct {
		List []struct {
			Symbol string `json:"symbol"`
		} `json:"list"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/market/symbols", nil, nil, &r); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(r.List))
	for _, s := range r.List {
		out = append(out, s.Symbol)
	}
	return out, nil
}
