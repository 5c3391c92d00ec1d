package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies environment variable overrides, and returns the
// final Config. A missing config file is not an error: the defaults plus
// environment are enough for a credentialed run. The returned Config has NOT
// been validated; the caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known environment variables and overwrites the
// corresponding Config fields when a variable is set. The BUDA_API_* names
// match the original deployment convention; everything else uses BUDABID_*.
func applyEnvOverrides(cfg *Config) {
	// ── Buda ──
	setStr(&cfg.Buda.ApiKey, "BUDA_API_KEY")
	setStr(&cfg.Buda.ApiSecret, "BUDA_API_SECRET")
	setStr(&cfg.Buda.BaseURL, "BUDABID_BUDA_BASE_URL")
	setStr(&cfg.Buda.WsURL, "BUDABID_BUDA_WS_URL")

	// ── Feed ──
	setDuration(&cfg.Feed.Interval, "BUDABID_FEED_INTERVAL")
	setInt(&cfg.Feed.StalenessFactor, "BUDABID_FEED_STALENESS_FACTOR")
	setDuration(&cfg.Feed.SanityInterval, "BUDABID_FEED_SANITY_INTERVAL")
	setDuration(&cfg.Feed.ReadyTimeout, "BUDABID_FEED_READY_TIMEOUT")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "BUDABID_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "BUDABID_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "BUDABID_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "BUDABID_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "BUDABID_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "BUDABID_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "BUDABID_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "BUDABID_REDIS_LOCK_TTL")

	// ── Journal ──
	setBool(&cfg.Journal.Enabled, "BUDABID_JOURNAL_ENABLED")
	setStr(&cfg.Journal.DSN, "BUDABID_JOURNAL_DSN")
	setStr(&cfg.Journal.Host, "BUDABID_JOURNAL_HOST")
	setInt(&cfg.Journal.Port, "BUDABID_JOURNAL_PORT")
	setStr(&cfg.Journal.Database, "BUDABID_JOURNAL_DATABASE")
	setStr(&cfg.Journal.User, "BUDABID_JOURNAL_USER")
	setStr(&cfg.Journal.Password, "BUDABID_JOURNAL_PASSWORD")
	setStr(&cfg.Journal.SSLMode, "BUDABID_JOURNAL_SSL_MODE")
	setInt(&cfg.Journal.PoolMaxConns, "BUDABID_JOURNAL_POOL_MAX_CONNS")
	setInt(&cfg.Journal.PoolMinConns, "BUDABID_JOURNAL_POOL_MIN_CONNS")
	setBool(&cfg.Journal.RunMigrations, "BUDABID_JOURNAL_RUN_MIGRATIONS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "BUDABID_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Endpoint, "BUDABID_ARCHIVE_ENDPOINT")
	setStr(&cfg.Archive.Region, "BUDABID_ARCHIVE_REGION")
	setStr(&cfg.Archive.Bucket, "BUDABID_ARCHIVE_BUCKET")
	setStr(&cfg.Archive.AccessKey, "BUDABID_ARCHIVE_ACCESS_KEY")
	setStr(&cfg.Archive.SecretKey, "BUDABID_ARCHIVE_SECRET_KEY")
	setBool(&cfg.Archive.UseSSL, "BUDABID_ARCHIVE_USE_SSL")
	setBool(&cfg.Archive.ForcePathStyle, "BUDABID_ARCHIVE_FORCE_PATH_STYLE")
	setStr(&cfg.Archive.Prefix, "BUDABID_ARCHIVE_PREFIX")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "BUDABID_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "BUDABID_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "BUDABID_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "BUDABID_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "BUDABID_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
