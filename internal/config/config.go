// Package config defines the top-level configuration for budabid and provides
// validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by BUDABID_* environment variables.
type Config struct {
	Buda     BudaConfig              `toml:"buda"`
	Feed     FeedConfig              `toml:"feed"`
	Markets  map[string]MarketConfig `toml:"markets"`
	Redis    RedisConfig             `toml:"redis"`
	Journal  JournalConfig           `toml:"journal"`
	Archive  ArchiveConfig           `toml:"archive"`
	Notify   NotifyConfig            `toml:"notify"`
	LogLevel string                  `toml:"log_level"`
}

// BudaConfig holds Buda.com API endpoints and credentials. The key and secret
// are normally injected through BUDA_API_KEY / BUDA_API_SECRET rather than
// written into the TOML file.
type BudaConfig struct {
	BaseURL   string `toml:"base_url"`
	WsURL     string `toml:"ws_url"`
	ApiKey    string `toml:"api_key"`
	ApiSecret string `toml:"api_secret"`
}

// FeedConfig holds market-feed timing parameters.
type FeedConfig struct {
	// Interval is the reconciliation loop's polling interval; the loop also
	// wakes early on top-of-book changes.
	Interval duration `toml:"interval"`
	// StalenessFactor multiplies Interval to get the staleness window after
	// which the feed falls back to REST fetches.
	StalenessFactor int `toml:"staleness_factor"`
	// SanityInterval is the cadence of unconditional REST refetches used to
	// catch silent feed desync.
	SanityInterval duration `toml:"sanity_interval"`
	// ReadyTimeout bounds the wait for the initial websocket book sync before
	// the run proceeds on REST data.
	ReadyTimeout duration `toml:"ready_timeout"`
}

// MarketConfig holds the per-market trading constraints. Decimal fields are
// TOML strings so they survive the trip without binary-float rounding.
type MarketConfig struct {
	Tick            string `toml:"tick"`
	MinAmount       string `toml:"min_amount"`
	MinQuote        string `toml:"min_quote"`
	AmountPrecision int    `toml:"amount_precision"`
}

// RedisConfig holds connection parameters for the optional per-market run
// lock.
type RedisConfig struct {
	Enabled    bool   `toml:"enabled"`
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// LockTTL bounds how long a crashed run can hold the market lock.
	LockTTL duration `toml:"lock_ttl"`
}

// JournalConfig holds PostgreSQL parameters for the optional fill journal.
type JournalConfig struct {
	Enabled       bool   `toml:"enabled"`
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// ArchiveConfig holds S3-compatible storage parameters for the optional
// execution-report archive.
type ArchiveConfig struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
	Prefix         string `toml:"prefix"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "30s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values. The
// market table mirrors Buda's published constraints for the CLP markets.
func Defaults() Config {
	return Config{
		Buda: BudaConfig{
			BaseURL: "https://www.buda.com/api/v2",
			WsURL:   "wss://realtime.buda.com/sub",
		},
		Feed: FeedConfig{
			Interval:        duration{30 * time.Second},
			StalenessFactor: 3,
			SanityInterval:  duration{120 * time.Second},
			ReadyTimeout:    duration{5 * time.Second},
		},
		Markets: map[string]MarketConfig{
			"btc-clp": {
				Tick:            "1",
				MinAmount:       "0.00002",
				MinQuote:        "2000",
				AmountPrecision: 8,
			},
			"usdc-clp": {
				Tick:            "0.01",
				MinAmount:       "0.01",
				MinQuote:        "10",
				AmountPrecision: 6,
			},
		},
		Redis: RedisConfig{
			Enabled:    false,
			Addr:       "localhost:6379",
			PoolSize:   10,
			MaxRetries: 3,
			LockTTL:    duration{10 * time.Minute},
		},
		Journal: JournalConfig{
			Enabled:       false,
			Host:          "localhost",
			Port:          5432,
			Database:      "budabid",
			User:          "budabid",
			SSLMode:       "disable",
			PoolMaxConns:  4,
			PoolMinConns:  1,
			RunMigrations: true,
		},
		Archive: ArchiveConfig{
			Enabled:        false,
			Region:         "us-east-1",
			Bucket:         "budabid-reports",
			ForcePathStyle: true,
			Prefix:         "runs",
		},
		Notify: NotifyConfig{
			Events: []string{"order_placed", "outbid", "partial_fill", "run_completed", "run_interrupted"},
		},
		LogLevel: "info",
	}
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	if c.Buda.BaseURL == "" {
		errs = append(errs, "buda: base_url must not be empty")
	}
	if c.Buda.WsURL == "" {
		errs = append(errs, "buda: ws_url must not be empty")
	}

	if c.Feed.Interval.Duration <= 0 {
		errs = append(errs, "feed: interval must be > 0")
	}
	if c.Feed.StalenessFactor < 2 {
		errs = append(errs, "feed: staleness_factor must be >= 2")
	}
	if c.Feed.SanityInterval.Duration <= 0 {
		errs = append(errs, "feed: sanity_interval must be > 0")
	}

	if len(c.Markets) == 0 {
		errs = append(errs, "markets: at least one market must be configured")
	}
	for id, m := range c.Markets {
		if _, err := m.Spec(id); err != nil {
			errs = append(errs, fmt.Sprintf("markets.%s: %v", id, err))
		}
	}

	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.LockTTL.Duration <= 0 {
			errs = append(errs, "redis: lock_ttl must be > 0 when enabled")
		}
	}

	if c.Journal.Enabled && strings.TrimSpace(c.Journal.DSN) == "" {
		if c.Journal.Host == "" {
			errs = append(errs, "journal: host must not be empty (or set journal.dsn)")
		}
		if c.Journal.Port <= 0 || c.Journal.Port > 65535 {
			errs = append(errs, fmt.Sprintf("journal: port must be 1-65535, got %d", c.Journal.Port))
		}
		if c.Journal.Database == "" {
			errs = append(errs, "journal: database must not be empty")
		}
	}

	if c.Archive.Enabled {
		if c.Archive.Bucket == "" {
			errs = append(errs, "archive: bucket must not be empty when enabled")
		}
		if c.Archive.Region == "" {
			errs = append(errs, "archive: region must not be empty when enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// RequireCredentials checks that API credentials are present. Trading and
// balance commands need them; public order book queries do not.
func (c *Config) RequireCredentials() error {
	if c.Buda.ApiKey == "" || c.Buda.ApiSecret == "" {
		return fmt.Errorf("buda: api_key and api_secret are required (set BUDA_API_KEY / BUDA_API_SECRET)")
	}
	return nil
}

// Spec converts a MarketConfig into a domain.MarketSpec, parsing the decimal
// string fields and deriving base/quote currencies from the market id.
func (m MarketConfig) Spec(id string) (domain.MarketSpec, error) {
	tick, err := decimal.NewFromString(m.Tick)
	if err != nil || !tick.IsPositive() {
		return domain.MarketSpec{}, fmt.Errorf("invalid tick %q", m.Tick)
	}
	minAmount, err := decimal.NewFromString(m.MinAmount)
	if err != nil || !minAmount.IsPositive() {
		return domain.MarketSpec{}, fmt.Errorf("invalid min_amount %q", m.MinAmount)
	}
	minQuote, err := decimal.NewFromString(m.MinQuote)
	if err != nil || !minQuote.IsPositive() {
		return domain.MarketSpec{}, fmt.Errorf("invalid min_quote %q", m.MinQuote)
	}
	if m.AmountPrecision < 0 || m.AmountPrecision > 18 {
		return domain.MarketSpec{}, fmt.Errorf("invalid amount_precision %d", m.AmountPrecision)
	}

	base, quote, ok := strings.Cut(id, "-")
	if !ok || base == "" || quote == "" {
		return domain.MarketSpec{}, fmt.Errorf("market id %q is not of the form base-quote", id)
	}

	return domain.MarketSpec{
		ID:              id,
		Tick:            tick,
		MinAmount:       minAmount,
		MinQuote:        minQuote,
		AmountPrecision: int32(m.AmountPrecision),
		BaseCurrency:    base,
		QuoteCurrency:   quote,
	}, nil
}

// MarketSpec looks up and converts the configuration for the given market id.
func (c *Config) MarketSpec(id string) (domain.MarketSpec, error) {
	m, ok := c.Markets[strings.ToLower(id)]
	if !ok {
		return domain.MarketSpec{}, fmt.Errorf("market %q is not configured", id)
	}
	return m.Spec(strings.ToLower(id))
}
