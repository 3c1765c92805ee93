package bitget

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/event"
	"quote_keeper/internal/infra"
	"quote_keeper/internal/service"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// FeedConfig configures the futures WebSocket feed.
type FeedConfig struct {
	PublicURL    string
	PrivateURL   string
	Symbol       string
	ProductType  string
	MaxRetries   int
	RetryDelay   time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
}

// FeedConfigFrom maps the application config onto a FeedConfig.
func FeedConfigFrom(cfg *infra.Config) FeedConfig {
	return FeedConfig{
		PublicURL:    cfg.Bitget.WSPublicURL,
		PrivateURL:   cfg.Bitget.WSPrivateURL,
		Symbol:       cfg.Strategy.Symbol,
		ProductType:  cfg.Bitget.ProductType,
		MaxRetries:   cfg.Feed.MaxRetries,
		RetryDelay:   cfg.Feed.RetryDelay,
		PingInterval: cfg.Feed.PingInterval,
	}
}

// stream is one WebSocket connection (public ticker or private positions).
type stream struct {
	name    string
	url     string
	private bool
	conn    *websocket.Conn
	mu      sync.RWMutex
	writeMu sync.Mutex
}

// FuturesWorker streams the last price and position pushes for one symbol.
// Prices and heartbeats of the public stream feed the PriceService health;
// both streams push events into the engine inbox without blocking.
type FuturesWorker struct {
	cfg     FeedConfig
	signer  *Signer
	tracker *service.PriceService
	inbox   chan<- event.Event
	metrics *infra.Metrics
	logger  *slog.Logger
	now     func() time.Time

	public  *stream
	private *stream

	fatal     chan error
	fatalOnce sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewFuturesWorker factory. A nil signer or one without credentials
// disables the private positions stream.
func NewFuturesWorker(cfg FeedConfig, signer *Signer, tracker *service.PriceService, inbox chan<- event.Event, metrics *infra.Metrics) *FuturesWorker {
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if cfg.ProductType == "" {
		cfg.ProductType = infra.DefaultProductType
	}

	w := &FuturesWorker{
		cfg:     cfg,
		signer:  signer,
		tracker: tracker,
		inbox:   inbox,
		metrics: metrics,
		logger:  slog.Default().With("module", "bitget_feed"),
		now:     time.Now,
		public:  &stream{name: "public", url: cfg.PublicURL},
		fatal:   make(chan error, 1),
	}
	if signer != nil && signer.HasCredentials() && cfg.PrivateURL != "" {
		w.private = &stream{name: "private", url: cfg.PrivateURL, private: true}
	}
	return w
}

// Connect starts the connection loops and returns immediately.
func (w *FuturesWorker) Connect(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.connectionLoop(ctx, w.public)

	if w.private != nil {
		w.wg.Add(1)
		go w.connectionLoop(ctx, w.private)
	}
	return nil
}

var errNoData = errors.New("connection closed before any frame arrived")

// Fatal delivers ErrFeedExhausted once a stream runs out of reconnect attempts.
func (w *FuturesWorker) Fatal() <-chan error {
	return w.fatal
}

func (w *FuturesWorker) connectionLoop(ctx context.Context, s *stream) {
	defer w.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Feed panic recovered", slog.String("stream", s.name), slog.Any("panic", r))
			w.reportFatal(fmt.Errorf("%s stream panic: %v", s.name, r))
		}
	}()

	failures := 0
	for {
		if ctx.Err() != nil {
			w.logger.Info("Feed connection loop stopped", slog.String("stream", s.name))
			return
		}

		connCtx, cancelConn := context.WithCancel(ctx)
		err := w.connect(connCtx, s)
		if err == nil {
			// A connection only counts once the venue has said something on it;
			// one that is accepted and dropped straight away is a failed attempt.
			if w.readLoop(connCtx, s) {
				failures = 0
			} else {
				err = errNoData
			}
		}
		cancelConn()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			failures++
			w.logger.Warn("Feed connection failed",
				slog.String("stream", s.name),
				slog.Any("error", err),
				slog.Int("attempt", failures),
				slog.Int("max_retries", w.cfg.MaxRetries),
			)
			if failures >= w.cfg.MaxRetries {
				w.reportFatal(fmt.Errorf("%s stream after %d attempts: %w", s.name, failures, domain.ErrFeedExhausted))
				return
			}
		} else {
			w.logger.Warn("Feed disconnected, reconnecting", slog.String("stream", s.name))
		}

		w.metrics.RecordFeedReconnect()
		if !sleepCtx(ctx, w.cfg.RetryDelay) {
			return
		}
	}
}

func (w *FuturesWorker) connect(ctx context.Context, s *stream) error {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	header := http.Header{}
	header.Set("User-Agent", DefaultUserAgent)

	conn, _, err := dialer.DialContext(ctx, s.url, header)
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrConnectionFailed, err)
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	if s.private {
		if err := w.login(s); err != nil {
			w.closeStream(s)
			return err
		}
	}

	if err := w.subscribe(s); err != nil {
		w.closeStream(s)
		return err
	}

	if !s.private {
		w.tracker.SetConnected(true)
		w.metrics.SetFeedConnected(true)
	}

	go w.pingLoop(ctx, s)
	w.logger.Info("Feed connected", slog.String("stream", s.name), slog.String("symbol", w.cfg.Symbol))
	return nil
}

func (w *FuturesWorker) login(s *stream) error {
	b, err := json.Marshal(wsRequest{Op: "login", Args: []loginArg{w.signer.LoginArg()}})
	if err != nil {
		return err
	}
	if err := w.threadSafeWrite(s, websocket.TextMessage, b); err != nil {
		return err
	}

	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()

	conn.SetReadDeadline(time.Now().Add(loginTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	var ack wsMessage
	if err := json.Unmarshal(msg, &ack); err != nil {
		return fmt.Errorf("login: decode ack: %w", err)
	}
	if ack.Event != "login" || ack.Code.String() != "0" {
		return fmt.Errorf("login rejected: event=%s code=%s msg=%s", ack.Event, ack.Code, ack.Msg)
	}
	return nil
}

func (w *FuturesWorker) subscribe(s *stream) error {
	arg := subscribeArg{InstType: w.cfg.ProductType, Channel: "ticker", InstID: w.cfg.Symbol}
	if s.private {
		arg = subscribeArg{InstType: w.cfg.ProductType, Channel: "positions", InstID: "default"}
	}

	b, err := json.Marshal(wsRequest{Op: "subscribe", Args: []subscribeArg{arg}})
	if err != nil {
		return err
	}
	return w.threadSafeWrite(s, websocket.TextMessage, b)
}

func (w *FuturesWorker) pingLoop(ctx context.Context, s *stream) {
	ticker := time.NewTicker(w.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.threadSafeWrite(s, websocket.TextMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

func (w *FuturesWorker) threadSafeWrite(s *stream, msgType int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return errors.New("no conn")
	}
	return s.conn.WriteMessage(msgType, data)
}

// readLoop pumps frames until the connection fails. It reports whether any
// frame arrived.
func (w *FuturesWorker) readLoop(ctx context.Context, s *stream) (received bool) {
	for {
		if ctx.Err() != nil {
			return received
		}

		s.mu.RLock()
		conn := s.conn
		s.mu.RUnlock()
		if conn == nil {
			return received
		}

		conn.SetReadDeadline(time.Now().Add(w.cfg.ReadTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				w.logger.Warn("Feed read failed", slog.String("stream", s.name), slog.Any("error", err))
			}
			w.closeStream(s)
			return received
		}
		received = true
		w.handleMessage(s, msg)
	}
}

func (w *FuturesWorker) handleMessage(s *stream, msg []byte) {
	now := w.now()

	if bytes.Equal(msg, []byte("pong")) {
		w.metrics.RecordFeedMessage("pong")
		w.heartbeat(s, now)
		return
	}

	var m wsMessage
	if err := json.Unmarshal(msg, &m); err != nil {
		w.logger.Debug("Unparsable feed frame", slog.String("stream", s.name), slog.Any("error", err))
		return
	}

	if m.Event != "" {
		w.metrics.RecordFeedMessage("event")
		if m.Event == "error" {
			w.logger.Warn("Feed error event",
				slog.String("stream", s.name),
				slog.String("code", m.Code.String()),
				slog.String("msg", m.Msg),
			)
		}
		w.heartbeat(s, now)
		return
	}

	switch m.Arg.Channel {
	case "ticker":
		w.handleTicker(m, now)
	case "positions":
		w.handlePositions(m, now)
	}
}

// heartbeat only counts for the public stream; private traffic says nothing
// about price freshness.
func (w *FuturesWorker) heartbeat(s *stream, now time.Time) {
	if !s.private {
		w.tracker.Touch(now)
	}
}

func (w *FuturesWorker) handleTicker(m wsMessage, now time.Time) {
	var rows []tickerData
	if err := json.Unmarshal(m.Data, &rows); err != nil {
		w.logger.Debug("Bad ticker payload", slog.Any("error", err))
		return
	}

	for _, row := range rows {
		if row.InstID != w.cfg.Symbol {
			continue
		}
		price, err := decimal.NewFromString(row.LastPr)
		if err != nil {
			continue
		}
		if !w.tracker.UpdatePrice(domain.Ticker{Symbol: w.cfg.Symbol, Price: price, At: now}) {
			continue
		}
		w.metrics.RecordFeedMessage("ticker")

		ev := event.AcquirePriceTickEvent()
		ev.Ts = now
		ev.Symbol = w.cfg.Symbol
		ev.Price = price

		select {
		case w.inbox <- ev:
		default:
			// inbox full: the next tick supersedes this one
			event.ReleasePriceTickEvent(ev)
		}
	}
}

func (w *FuturesWorker) handlePositions(m wsMessage, now time.Time) {
	var rows []positionData
	if err := json.Unmarshal(m.Data, &rows); err != nil {
		w.logger.Debug("Bad positions payload", slog.Any("error", err))
		return
	}
	w.metrics.RecordFeedMessage("positions")

	alert := domain.PositionAlert{
		Symbol:    w.cfg.Symbol,
		Positions: toPositions(rows, w.cfg.Symbol),
		At:        now,
	}

	select {
	case w.inbox <- &event.PositionEvent{BaseEvent: event.BaseEvent{Ts: now}, Alert: alert}:
	default:
		w.logger.Warn("Inbox full, position alert dropped; watchdog will catch it",
			slog.String("net_qty", alert.NetQty().String()))
	}
}

func (w *FuturesWorker) closeStream(s *stream) {
	s.mu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.mu.Unlock()

	if !s.private {
		w.tracker.SetConnected(false)
		w.metrics.SetFeedConnected(false)
	}
}

func (w *FuturesWorker) reportFatal(err error) {
	w.fatalOnce.Do(func() {
		w.logger.Error("Feed gave up", slog.Any("error", err))
		w.fatal <- err
	})
}

// Disconnect stops both streams and waits for their loops to exit.
func (w *FuturesWorker) Disconnect() {
	if w.cancel != nil {
		w.cancel()
	}
	w.closeStream(w.public)
	if w.private != nil {
		w.closeStream(w.private)
	}
	w.wg.Wait()
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
