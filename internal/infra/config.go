package infra

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"quote_keeper/internal/domain"
	"quote_keeper/internal/strategy"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	ModeLive  = "live"
	ModePaper = "paper"

	DefaultProductType = "USDT-FUTURES"
	DefaultMarginCoin  = "USDT"
)

// Config holds every setting of the quote keeper.
// Credentials are overridden from the environment after the file is loaded.
type Config struct {
	App struct {
		Name      string `yaml:"name"`
		Version   string `yaml:"version"`
		Mode      string `yaml:"mode"`
		AdminAddr string `yaml:"admin_addr"`
		DataDir   string `yaml:"data_dir"`
	} `yaml:"app"`

	Bitget struct {
		WSPublicURL  string          `yaml:"ws_public_url"`
		WSPrivateURL string          `yaml:"ws_private_url"`
		RestURL      string          `yaml:"rest_url"`
		AccessKey    string          `yaml:"access_key"`
		SecretKey    string          `yaml:"secret_key"`
		Passphrase   string          `yaml:"passphrase"`
		ProductType  string          `yaml:"product_type"`
		MarginCoin   string          `yaml:"margin_coin"`
		PaperBalance decimal.Decimal `yaml:"paper_balance"`
	} `yaml:"bitget"`

	Strategy struct {
		Symbol          string          `yaml:"symbol"`
		Side            string          `yaml:"side"`
		Leverage        int             `yaml:"leverage"`
		Offset          decimal.Decimal `yaml:"offset"`
		LowThreshold    decimal.Decimal `yaml:"low_threshold"`
		HighThreshold   decimal.Decimal `yaml:"high_threshold"`
		MarginSafety    decimal.Decimal `yaml:"margin_safety"`
		Utilization     decimal.Decimal `yaml:"utilization"`
		PricePrecision  *int32          `yaml:"price_precision"` // nil until defaulted; 0 is a valid precision
		QtyPrecision    *int32          `yaml:"qty_precision"`
		Cooldown        time.Duration   `yaml:"cooldown"`
		CloseOnShutdown bool            `yaml:"close_on_shutdown"`
	} `yaml:"strategy"`

	Engine struct {
		WatchdogInterval  time.Duration `yaml:"watchdog_interval"`
		StaleDisconnected time.Duration `yaml:"stale_disconnected"`
		StaleAbsolute     time.Duration `yaml:"stale_absolute"`
		PositionTimeout   time.Duration `yaml:"position_timeout"`
		CallTimeout       time.Duration `yaml:"call_timeout"`
		SettleDelay       time.Duration `yaml:"settle_delay"`
		VerifyAttempts    int           `yaml:"verify_attempts"`
		VerifyDelay       time.Duration `yaml:"verify_delay"`
		ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
	} `yaml:"engine"`

	Feed struct {
		MaxRetries   int           `yaml:"max_retries"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
		PingInterval time.Duration `yaml:"ping_interval"`
	} `yaml:"feed"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the config file, applies defaults and
// environment overrides, then validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig is LoadConfig without the file read.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	overrideWithEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "quote_keeper"
	}
	if c.App.Mode == "" {
		c.App.Mode = ModeLive
	}
	if c.App.DataDir == "" {
		c.App.DataDir = "data"
	}
	if c.Bitget.ProductType == "" {
		c.Bitget.ProductType = DefaultProductType
	}
	if c.Bitget.MarginCoin == "" {
		c.Bitget.MarginCoin = DefaultMarginCoin
	}
	if c.Bitget.PaperBalance.IsZero() {
		c.Bitget.PaperBalance = decimal.NewFromInt(1000)
	}

	if c.Strategy.MarginSafety.IsZero() {
		c.Strategy.MarginSafety = decimal.RequireFromString("0.95")
	}
	if c.Strategy.Utilization.IsZero() {
		c.Strategy.Utilization = decimal.RequireFromString("0.8")
	}
	setPrecision(&c.Strategy.PricePrecision, 2)
	setPrecision(&c.Strategy.QtyPrecision, 3)
	if c.Strategy.Cooldown == 0 {
		c.Strategy.Cooldown = 10 * time.Minute
	}

	setDuration(&c.Engine.WatchdogInterval, 5*time.Second)
	setDuration(&c.Engine.StaleDisconnected, 10*time.Second)
	setDuration(&c.Engine.StaleAbsolute, 30*time.Second)
	setDuration(&c.Engine.PositionTimeout, 5*time.Second)
	setDuration(&c.Engine.CallTimeout, 10*time.Second)
	setDuration(&c.Engine.SettleDelay, 2*time.Second)
	setDuration(&c.Engine.VerifyDelay, time.Second)
	setDuration(&c.Engine.ShutdownTimeout, 15*time.Second)
	if c.Engine.VerifyAttempts == 0 {
		c.Engine.VerifyAttempts = 3
	}

	if c.Feed.MaxRetries == 0 {
		c.Feed.MaxRetries = 10
	}
	setDuration(&c.Feed.RetryDelay, 5*time.Second)
	setDuration(&c.Feed.PingInterval, 25*time.Second)

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

func setPrecision(p **int32, def int32) {
	if *p == nil {
		*p = &def
	}
}

func setDuration(d *time.Duration, def time.Duration) {
	if *d == 0 {
		*d = def
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.App.Mode != ModeLive && c.App.Mode != ModePaper {
		return configErr("app.mode", fmt.Sprintf("unknown mode %q", c.App.Mode))
	}

	// Bitget
	if !isWSURL(c.Bitget.WSPublicURL) {
		return configErr("bitget.ws_public_url", "invalid WS URL: "+c.Bitget.WSPublicURL)
	}
	if c.App.Mode == ModeLive {
		if !isWSURL(c.Bitget.WSPrivateURL) {
			return configErr("bitget.ws_private_url", "invalid WS URL: "+c.Bitget.WSPrivateURL)
		}
		if !strings.HasPrefix(c.Bitget.RestURL, "https://") && !strings.HasPrefix(c.Bitget.RestURL, "http://") {
			return configErr("bitget.rest_url", "invalid REST URL: "+c.Bitget.RestURL)
		}
		if c.Bitget.AccessKey == "" || c.Bitget.SecretKey == "" || c.Bitget.Passphrase == "" {
			return configErr("bitget.access_key", "live mode requires API credentials")
		}
	}

	// Strategy
	if c.Strategy.Symbol == "" {
		return configErr("strategy.symbol", "symbol is required")
	}
	if _, err := domain.ParseSide(c.Strategy.Side); err != nil {
		return configErr("strategy.side", err.Error())
	}
	if c.Strategy.Leverage <= 0 {
		return configErr("strategy.leverage", "leverage must be positive")
	}
	if !c.Strategy.Offset.IsPositive() || c.Strategy.Offset.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return configErr("strategy.offset", "offset must be in (0, 1)")
	}
	if !c.Strategy.LowThreshold.IsPositive() || !c.Strategy.LowThreshold.LessThan(c.Strategy.HighThreshold) {
		return configErr("strategy.low_threshold", "thresholds must satisfy 0 < low < high")
	}
	side, _ := domain.ParseSide(c.Strategy.Side)
	th := strategy.Thresholds{Low: c.Strategy.LowThreshold, High: c.Strategy.HighThreshold}
	if !strategy.HoldsAtPlacement(c.Strategy.Offset, side, th) {
		return configErr("strategy.offset", fmt.Sprintf(
			"offset %s places a %s quote outside the (%s, %s) dead-band; it would be replaced on every tick",
			c.Strategy.Offset, side, th.Low, th.High))
	}
	if !inUnitInterval(c.Strategy.MarginSafety) {
		return configErr("strategy.margin_safety", "must be in (0, 1]")
	}
	if !inUnitInterval(c.Strategy.Utilization) {
		return configErr("strategy.utilization", "must be in (0, 1]")
	}
	if c.Strategy.PricePrecision == nil || *c.Strategy.PricePrecision < 0 {
		return configErr("strategy.price_precision", "precision must not be negative")
	}
	if c.Strategy.QtyPrecision == nil || *c.Strategy.QtyPrecision < 0 {
		return configErr("strategy.qty_precision", "precision must not be negative")
	}

	// Engine
	if c.Engine.StaleDisconnected >= c.Engine.StaleAbsolute {
		return configErr("engine.stale_disconnected", "short stale threshold must be below the absolute one")
	}
	if c.Engine.VerifyAttempts < 1 {
		return configErr("engine.verify_attempts", "at least one verification attempt is required")
	}

	// Feed
	if c.Feed.MaxRetries < 1 {
		return configErr("feed.max_retries", "must be positive")
	}

	return nil
}

// StrategySide returns the parsed quote side. Only valid after Validate.
func (c *Config) StrategySide() domain.Side {
	side, _ := domain.ParseSide(c.Strategy.Side)
	return side
}

// IsPaper reports whether orders go to the in-process paper venue.
func (c *Config) IsPaper() bool {
	return c.App.Mode == ModePaper
}

func configErr(field, msg string) error {
	return &domain.ConfigError{Field: field, Err: errors.New(msg)}
}

func inUnitInterval(d decimal.Decimal) bool {
	return d.IsPositive() && d.LessThanOrEqual(decimal.NewFromInt(1))
}

func isWSURL(s string) bool {
	return strings.HasPrefix(s, "ws://") || strings.HasPrefix(s, "wss://")
}

// overrideWithEnv overwrites credentials with environment variables when set.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("QK_BITGET_KEY"); key != "" {
		cfg.Bitget.AccessKey = key
	}
	if secret := os.Getenv("QK_BITGET_SECRET"); secret != "" {
		cfg.Bitget.SecretKey = secret
	}
	if pass := os.Getenv("QK_BITGET_PASSPHRASE"); pass != "" {
		cfg.Bitget.Passphrase = pass
	}
	if mode := os.Getenv("QK_MODE"); mode != "" {
		cfg.App.Mode = mode
	}
}
