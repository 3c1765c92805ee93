package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/engine"
	"quote_keeper/internal/event"
	"quote_keeper/internal/execution"
	"quote_keeper/internal/infra"
	"quote_keeper/internal/infra/bitget"
	"quote_keeper/internal/infra/storage"
	"quote_keeper/internal/service"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
)

// Bitget USDT-M taker fee, charged on every paper fill.
var paperFeeRate = decimal.RequireFromString("0.0006")

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	ConfigPath string

	Config   *infra.Config
	Storage  *storage.Storage
	Registry *prometheus.Registry
	Metrics  *infra.Metrics
	Exchange domain.Exchange
	Paper    *execution.PaperExecution // nil in live mode
	Prices   *service.PriceService
	Feed     *bitget.FuturesWorker
	Engine   *engine.Engine
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap(configPath string) *Bootstrap {
	return &Bootstrap{ConfigPath: configPath}
}

// Initialize builds every component without touching the network.
func (b *Bootstrap) Initialize() error {
	// 1. Load Config
	cfg, err := infra.LoadConfig(b.ConfigPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	// 2. Setup Logger
	slog.SetDefault(infra.NewLogger(cfg))
	slog.Info("Bootstrapping quote keeper...",
		slog.String("version", cfg.App.Version),
		slog.String("mode", cfg.App.Mode),
		slog.String("symbol", cfg.Strategy.Symbol))

	// 3. Initialize Storage (DB)
	store, err := storage.NewStorage(cfg.App.DataDir)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	b.Storage = store
	slog.Info("Database initialized", slog.String("dir", cfg.App.DataDir))

	// 4. Metrics
	b.Registry = prometheus.NewRegistry()
	b.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.Metrics = infra.NewMetrics(b.Registry)

	// 5. Venue, price tracker and engine
	b.Prices = service.NewPriceService(cfg.Strategy.Symbol)

	var signer *bitget.Signer
	if cfg.IsPaper() {
		b.Paper = execution.NewPaperExecution(cfg.Strategy.Symbol, paperFeeRate)
		b.Paper.Deposit(cfg.Bitget.PaperBalance)
		b.Exchange = b.Paper
		slog.Warn("Paper mode: orders are simulated",
			slog.String("balance", cfg.Bitget.PaperBalance.String()))
	} else {
		signer = bitget.NewSigner(cfg.Bitget.AccessKey, cfg.Bitget.SecretKey, cfg.Bitget.Passphrase)
		b.Exchange = bitget.NewClient(cfg)
	}

	event.Warmup()
	b.Engine = engine.New(engine.ConfigFrom(cfg), b.Exchange, b.Prices, b.Storage, b.Metrics, engine.RealClock())

	if b.Paper != nil {
		paper := b.Paper
		inbox := b.Engine.Inbox()
		b.Prices.OnPrice(func(t domain.Ticker) {
			paper.UpdatePrice(t.Symbol, t.Price)
		})
		paper.OnFill(func(alert domain.PositionAlert) {
			ev := &event.PositionEvent{BaseEvent: event.BaseEvent{Ts: alert.At}, Alert: alert}
			select {
			case inbox <- ev:
			default:
				slog.Warn("Engine inbox full, paper fill alert dropped")
			}
		})
	}

	// 6. Feed
	b.Feed = bitget.NewFuturesWorker(bitget.FeedConfigFrom(cfg), signer, b.Prices, b.Engine.Inbox(), b.Metrics)
	slog.Info("Components ready")

	return nil
}

// Run starts the admin server, the engine and the feed, then blocks until
// ctx is done, the feed gives up, or the engine panics. Cleanup always runs.
func (b *Bootstrap) Run(ctx context.Context) (err error) {
	admin := NewAdminServer(b.Config.App.AdminAddr, b.Registry, b.Engine)
	if admin != nil {
		go func() {
			slog.Info("Admin server started", slog.String("addr", admin.Addr))
			if err := admin.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Admin server failed", slog.Any("error", err))
			}
		}()
	}

	defer func() {
		if r := recover(); r != nil {
			slog.Error("CRITICAL: panic in main loop", slog.Any("panic", r))
			err = multierr.Append(fmt.Errorf("panic: %v", r), b.shutdown(admin))
		}
	}()

	if err := b.Engine.Prepare(ctx); err != nil {
		return multierr.Append(fmt.Errorf("startup: %w", err), b.shutdown(admin))
	}

	engineDone := make(chan error, 1)
	go func() { engineDone <- b.Engine.Run(ctx) }()

	if err := b.Feed.Connect(ctx); err != nil {
		return multierr.Append(fmt.Errorf("connect feed: %w", err), b.shutdown(admin))
	}
	slog.InfoContext(ctx, "Quote keeper fully operational. Press Ctrl+C to exit.")

	var cause error
	select {
	case <-ctx.Done():
		slog.Info("Shutdown signal received")
	case cause = <-b.Feed.Fatal():
		slog.Error("Price feed gave up", slog.Any("error", cause))
	case cause = <-engineDone:
		if cause != nil {
			slog.Error("Engine stopped", slog.Any("error", cause))
		}
	}

	return multierr.Append(cause, b.shutdown(admin))
}

// shutdown pulls every order first, then stops the feed and the admin server.
func (b *Bootstrap) shutdown(admin *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), b.Config.Engine.ShutdownTimeout)
	defer cancel()

	var errs error
	if err := b.Engine.Shutdown(ctx); err != nil {
		errs = multierr.Append(errs, fmt.Errorf("engine: %w", err))
	}
	b.Feed.Disconnect()
	if admin != nil {
		actx, acancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer acancel()
		if err := admin.Shutdown(actx); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("admin server: %w", err))
		}
	}
	slog.Info("Shutdown complete", slog.Bool("clean", errs == nil))
	return errs
}

// Close releases the storage handle.
func (b *Bootstrap) Close() error {
	if b.Storage == nil {
		return nil
	}
	return b.Storage.Close()
}
