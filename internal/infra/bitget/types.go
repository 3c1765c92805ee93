package bitget

import (
	stdjson "encoding/json"
	"time"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	BaseURLMainnet   = "https://api.bitget.com"
	PublicWSURL      = "wss://ws.bitget.com/v2/ws/public"
	PrivateWSURL     = "wss://ws.bitget.com/v2/ws/private"
	DefaultUserAgent = "quote_keeper/0.1"

	handshakeTimeout = 10 * time.Second
	loginTimeout     = 10 * time.Second
	// Bitget drops a connection that stays silent for 2 minutes.
	defaultPingInterval = 25 * time.Second
	defaultReadTimeout  = 60 * time.Second

	// batch-cancel-orders accepts at most 50 ids per call
	maxCancelBatch = 50
)

// REST paths (V2 mix API)
const (
	pathAccounts      = "/api/v2/mix/account/accounts"
	pathSetLeverage   = "/api/v2/mix/account/set-leverage"
	pathPendingOrders = "/api/v2/mix/order/orders-pending"
	pathPlaceOrder    = "/api/v2/mix/order/place-order"
	pathBatchCancel   = "/api/v2/mix/order/batch-cancel-orders"
	pathPosition      = "/api/v2/mix/position/single-position"
)

// apiResponse is the envelope of every REST answer.
type apiResponse struct {
	Code        string             `json:"code"`
	Msg         string             `json:"msg"`
	RequestTime int64              `json:"requestTime"`
	Data        stdjson.RawMessage `json:"data"`
}

type accountData struct {
	MarginCoin    string `json:"marginCoin"`
	Available     string `json:"available"`
	AccountEquity string `json:"accountEquity"`
}

type pendingOrdersData struct {
	EntrustedList []pendingOrder `json:"entrustedList"`
	EndID         string         `json:"endId"`
}

type pendingOrder struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Price     string `json:"price"`
	Size      string `json:"size"`
	Status    string `json:"status"`
}

type positionData struct {
	Symbol   string `json:"symbol"`
	InstID   string `json:"instId"` // WS push uses instId
	HoldSide string `json:"holdSide"`
	Total    string `json:"total"`
}

type placeOrderRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginMode  string `json:"marginMode"`
	MarginCoin  string `json:"marginCoin"`
	Size        string `json:"size"`
	Price       string `json:"price,omitempty"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	Force       string `json:"force,omitempty"`
	ClientOid   string `json:"clientOid"`
	ReduceOnly  string `json:"reduceOnly,omitempty"`
}

type placeOrderData struct {
	OrderID   string `json:"orderId"`
	ClientOid string `json:"clientOid"`
}

type cancelID struct {
	OrderID string `json:"orderId"`
}

type batchCancelRequest struct {
	Symbol      string     `json:"symbol"`
	ProductType string     `json:"productType"`
	MarginCoin  string     `json:"marginCoin"`
	OrderIDList []cancelID `json:"orderIdList"`
}

type batchCancelData struct {
	SuccessList []cancelID `json:"successList"`
	FailureList []struct {
		OrderID  string `json:"orderId"`
		ErrorMsg string `json:"errorMsg"`
	} `json:"failureList"`
}

type setLeverageRequest struct {
	Symbol      string `json:"symbol"`
	ProductType string `json:"productType"`
	MarginCoin  string `json:"marginCoin"`
	Leverage    string `json:"leverage"`
}

// WebSocket frames

type wsRequest struct {
	Op   string      `json:"op"`
	Args interface{} `json:"args"`
}

type subscribeArg struct {
	InstType string `json:"instType"`
	Channel  string `json:"channel"`
	InstID   string `json:"instId"`
}

type loginArg struct {
	APIKey     string `json:"apiKey"`
	Passphrase string `json:"passphrase"`
	Timestamp  string `json:"timestamp"`
	Sign       string `json:"sign"`
}

// wsMessage covers event acks ("login", "subscribe", "error") and data pushes.
type wsMessage struct {
	Event  string             `json:"event"`
	Code   stdjson.Number     `json:"code"`
	Msg    string             `json:"msg"`
	Action string             `json:"action"`
	Arg    subscribeArg       `json:"arg"`
	Data   stdjson.RawMessage `json:"data"`
	Ts     int64              `json:"ts"`
}

type tickerData struct {
	InstID string `json:"instId"`
	LastPr string `json:"lastPr"`
	Ts     string `json:"ts"`
}
