package bitget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/infra"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Client is the Bitget V2 mix REST client. It implements domain.Exchange.
type Client struct {
	baseURL     string
	productType string
	marginCoin  string
	httpClient  *http.Client
	signer      *Signer
	logger      *slog.Logger
}

var _ domain.Exchange = (*Client)(nil)

// NewClient creates a new Bitget API client.
func NewClient(cfg *infra.Config) *Client {
	baseURL := strings.TrimRight(cfg.Bitget.RestURL, "/")
	if baseURL == "" {
		baseURL = BaseURLMainnet
	}

	return &Client{
		baseURL:     baseURL,
		productType: cfg.Bitget.ProductType,
		marginCoin:  cfg.Bitget.MarginCoin,
		httpClient: &http.Client{
			Timeout: cfg.Engine.CallTimeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		signer: NewSigner(cfg.Bitget.AccessKey, cfg.Bitget.SecretKey, cfg.Bitget.Passphrase),
		logger: slog.Default().With("module", "bitget_client"),
	}
}

// QueryBalance returns the margin-coin account of the futures product line.
func (c *Client) QueryBalance(ctx context.Context) (domain.Balance, error) {
	var accounts []accountData
	err := c.call(ctx, "query_balance", http.MethodGet, pathAccounts, url.Values{
		"productType": {c.productType},
	}, nil, &accounts)
	if err != nil {
		return domain.Balance{}, err
	}

	for _, a := range accounts {
		if !strings.EqualFold(a.MarginCoin, c.marginCoin) {
			continue
		}
		available, err := decimal.NewFromString(a.Available)
		if err != nil {
			return domain.Balance{}, fmt.Errorf("query_balance: bad available %q: %w", a.Available, err)
		}
		equity, _ := decimal.NewFromString(a.AccountEquity)
		return domain.Balance{Asset: c.marginCoin, Available: available, Equity: equity}, nil
	}

	return domain.Balance{Asset: c.marginCoin, Available: decimal.Zero, Equity: decimal.Zero}, nil
}

// QueryOpenOrders lists resting orders for symbol.
func (c *Client) QueryOpenOrders(ctx context.Context, symbol string) ([]domain.OpenOrder, error) {
	var data pendingOrdersData
	err := c.call(ctx, "query_open_orders", http.MethodGet, pathPendingOrders, url.Values{
		"productType": {c.productType},
		"symbol":      {symbol},
	}, nil, &data)
	if err != nil {
		return nil, err
	}

	orders := make([]domain.OpenOrder, 0, len(data.EntrustedList))
	for _, o := range data.EntrustedList {
		price, err := decimal.NewFromString(o.Price)
		if err != nil {
			c.logger.Warn("Skipping order with unparsable price", slog.String("order_id", o.OrderID), slog.String("price", o.Price))
			continue
		}
		size, _ := decimal.NewFromString(o.Size)
		side, _ := domain.ParseSide(o.Side)

		orders = append(orders, domain.OpenOrder{
			ID:        o.OrderID,
			ClientOID: o.ClientOid,
			Symbol:    strings.ToUpper(o.Symbol),
			Side:      side,
			Price:     price,
			Qty:       size,
		})
	}
	return orders, nil
}

// QueryPositions returns the positions held in symbol with signed quantities.
func (c *Client) QueryPositions(ctx context.Context, symbol string) ([]domain.Position, error) {
	var data []positionData
	err := c.call(ctx, "query_positions", http.MethodGet, pathPosition, url.Values{
		"productType": {c.productType},
		"symbol":      {symbol},
		"marginCoin":  {c.marginCoin},
	}, nil, &data)
	if err != nil {
		return nil, err
	}
	return toPositions(data, symbol), nil
}

// toPositions converts venue rows into signed positions, dropping empty ones.
func toPositions(rows []positionData, symbol string) []domain.Position {
	positions := make([]domain.Position, 0, len(rows))
	for _, p := range rows {
		sym := p.Symbol
		if sym == "" {
			sym = p.InstID
		}
		if !strings.EqualFold(sym, symbol) {
			continue
		}
		total, err := decimal.NewFromString(p.Total)
		if err != nil || total.IsZero() {
			continue
		}
		if p.HoldSide == "short" {
			total = total.Neg()
		}
		positions = append(positions, domain.Position{Symbol: symbol, Qty: total})
	}
	return positions
}

// CancelOrders cancels ids in batches. Orders that are already gone are
// reported by the venue in failureList and logged, not returned as errors.
func (c *Client) CancelOrders(ctx context.Context, symbol string, ids []string) error {
	for start := 0; start < len(ids); start += maxCancelBatch {
		end := min(start+maxCancelBatch, len(ids))

		list := make([]cancelID, 0, end-start)
		for _, id := range ids[start:end] {
			list = append(list, cancelID{OrderID: id})
		}

		var data batchCancelData
		err := c.call(ctx, "cancel_orders", http.MethodPost, pathBatchCancel, nil, batchCancelRequest{
			Symbol:      symbol,
			ProductType: c.productType,
			MarginCoin:  c.marginCoin,
			OrderIDList: list,
		}, &data)
		if err != nil {
			return err
		}

		for _, f := range data.FailureList {
			c.logger.Warn("Cancel not applied",
				slog.String("order_id", f.OrderID),
				slog.String("reason", f.ErrorMsg),
			)
		}
	}
	return nil
}

// NewOrder submits a limit order. A business rejection is returned in the
// result code with a nil error; only transport failures are errors.
func (c *Client) NewOrder(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if req.ClientOID == "" {
		req.ClientOID = uuid.NewString()
	}

	body := placeOrderRequest{
		Symbol:      req.Symbol,
		ProductType: c.productType,
		MarginMode:  "crossed",
		MarginCoin:  c.marginCoin,
		Size:        req.Qty.String(),
		Side:        string(req.Side),
		OrderType:   string(req.Type),
		ClientOid:   req.ClientOID,
	}
	if req.Type == domain.OrderTypeLimit {
		body.Price = req.Price.String()
		body.Force = "gtc"
		if req.PostOnly {
			body.Force = "post_only"
		}
	}
	if req.ReduceOnly {
		body.ReduceOnly = "YES"
	}

	return c.placeOrder(ctx, body)
}

// MarketOrder submits a reduce-only market order used to flatten a position.
func (c *Client) MarketOrder(ctx context.Context, symbol string, side domain.Side, qty decimal.Decimal) (domain.OrderResult, error) {
	return c.NewOrder(ctx, domain.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Type:       domain.OrderTypeMarket,
		Qty:        qty.Abs(),
		ReduceOnly: true,
	})
}

func (c *Client) placeOrder(ctx context.Context, body placeOrderRequest) (domain.OrderResult, error) {
	env, err := c.do(ctx, "place_order", http.MethodPost, pathPlaceOrder, nil, body)
	if err != nil {
		return domain.OrderResult{}, err
	}

	result := domain.OrderResult{Code: env.Code, Message: env.Msg, ClientOID: body.ClientOid}
	if !result.Accepted() {
		c.logger.Warn("Order rejected",
			slog.String("symbol", body.Symbol),
			slog.String("code", env.Code),
			slog.String("msg", env.Msg),
		)
		return result, nil
	}

	var data placeOrderData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return result, fmt.Errorf("place_order: decode data: %w", err)
	}
	result.OrderID = data.OrderID

	c.logger.Info("Order placed",
		slog.String("order_id", data.OrderID),
		slog.String("client_oid", body.ClientOid),
		slog.String("symbol", body.Symbol),
		slog.String("type", body.OrderType),
		slog.String("price", body.Price),
		slog.String("size", body.Size),
	)
	return result, nil
}

// SetLeverage sets the symbol leverage for the margin coin.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	return c.call(ctx, "set_leverage", http.MethodPost, pathSetLeverage, nil, setLeverageRequest{
		Symbol:      symbol,
		ProductType: c.productType,
		MarginCoin:  c.marginCoin,
		Leverage:    strconv.Itoa(leverage),
	}, nil)
}

// call performs a request that must succeed and decodes data into out.
func (c *Client) call(ctx context.Context, op, method, path string, query url.Values, body, out interface{}) error {
	env, err := c.do(ctx, op, method, path, query, body)
	if err != nil {
		return err
	}
	if env.Code != domain.CodeSuccess {
		return &domain.OrderRejectedError{Code: env.Code, Msg: op + ": " + env.Msg}
	}
	if out == nil || len(env.Data) == 0 || string(env.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%s: decode data: %w", op, err)
	}
	return nil
}

// do handles auth headers, serialization and the response envelope.
// Transport failures, 429 and 5xx answers come back as retriable
// NetworkErrors; 401 and 403 as fatal ones.
func (c *Client) do(ctx context.Context, op, method, path string, query url.Values, body interface{}) (*apiResponse, error) {
	var bodyReader io.Reader
	var bodyStr string

	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBytes)
		bodyStr = string(jsonBytes)
	}

	queryStr := query.Encode()
	reqURL := c.baseURL + path
	if queryStr != "" {
		reqURL += "?" + queryStr
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return nil, err
	}

	for k, v := range c.signer.GenerateHeaders(method, path, queryStr, bodyStr) {
		req.Header.Set(k, v)
	}
	req.Header.Set("User-Agent", DefaultUserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.NewNetworkError(op, err)
	}

	switch {
	case resp.StatusCode >= http.StatusInternalServerError, resp.StatusCode == http.StatusTooManyRequests:
		return nil, domain.NewNetworkError(op, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(bodyBytes)))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		// Bad keys or a missing permission do not heal on retry.
		return nil, domain.NewFatalNetworkError(op, fmt.Errorf("status=%d body=%s", resp.StatusCode, truncate(bodyBytes)))
	}

	var env apiResponse
	if err := json.Unmarshal(bodyBytes, &env); err != nil {
		return nil, fmt.Errorf("%s: status=%d: failed to parse response: %w", op, resp.StatusCode, err)
	}
	if env.Code == "" {
		return nil, fmt.Errorf("%s: status=%d: %w", op, resp.StatusCode, errors.New("response without code"))
	}

	return &env, nil
}

func truncate(b []byte) string {
	const limit = 256
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
