// Package app wires configuration, the exchange clients, the market feed, and
// the execution engine into a runnable bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	s3blob "github.com/cmardones/budabid/internal/blob/s3"
	redisc "github.com/cmardones/budabid/internal/cache/redis"
	"github.com/cmardones/budabid/internal/config"
	"github.com/cmardones/budabid/internal/domain"
	"github.com/cmardones/budabid/internal/engine"
	"github.com/cmardones/budabid/internal/feed"
	"github.com/cmardones/budabid/internal/notify"
	"github.com/cmardones/budabid/internal/platform/buda"
	"github.com/cmardones/budabid/internal/store/postgres"
)

// App holds the long-lived clients a command needs: the Buda REST client plus
// the optional run lock, journal, archiver, and notifier.
type App struct {
	cfg    *config.Config
	logger *slog.Logger

	client   *buda.Client
	lock     *redisc.RunLock
	redis    *redisc.Client
	pg       *postgres.Client
	journal  engine.Journal
	archiver engine.Archiver
	notifier engine.Notifier
}

// New constructs the application from configuration. Optional services are
// only dialed when enabled; a disabled service is simply nil.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	a := &App{
		cfg:    cfg,
		logger: logger,
		client: buda.NewClient(cfg.Buda.BaseURL, cfg.Buda.ApiKey, cfg.Buda.ApiSecret, logger),
	}

	if cfg.Redis.Enabled {
		rc, err := redisc.New(ctx, redisc.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return nil, fmt.Errorf("app: redis: %w", err)
		}
		a.redis = rc
		a.lock = redisc.NewRunLock(rc)
	}

	if cfg.Journal.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Journal.DSN,
			Host:     cfg.Journal.Host,
			Port:     cfg.Journal.Port,
			Database: cfg.Journal.Database,
			User:     cfg.Journal.User,
			Password: cfg.Journal.Password,
			SSLMode:  cfg.Journal.SSLMode,
			MaxConns: cfg.Journal.PoolMaxConns,
			MinConns: cfg.Journal.PoolMinConns,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: journal: %w", err)
		}
		if cfg.Journal.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				pg.Close()
				a.Close()
				return nil, fmt.Errorf("app: journal migrations: %w", err)
			}
		}
		a.pg = pg
		a.journal = postgres.NewFillStore(pg.Pool())
	}

	if cfg.Archive.Enabled {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			UseSSL:         cfg.Archive.UseSSL,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("app: archive: %w", err)
		}
		a.archiver = s3blob.NewReportArchiver(s3c, cfg.Archive.Prefix)
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	if len(senders) > 0 {
		a.notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)
	}

	return a, nil
}

// Close releases the optional service connections.
func (a *App) Close() {
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if a.pg != nil {
		a.pg.Close()
	}
}

// Run executes one order maintenance run for the given intent and returns its
// summary. It acquires the market's run lock when Redis is enabled, wires the
// realtime feed with REST fallback, and drives the engine until the target is
// exhausted, the remainder drops below the market minimum, or ctx is
// cancelled.
func (a *App) Run(ctx context.Context, intent domain.OrderIntent) (domain.ExecutionSummary, error) {
	spec, err := a.cfg.MarketSpec(intent.MarketID)
	if err != nil {
		return domain.ExecutionSummary{}, fmt.Errorf("app: %w", err)
	}

	// Cross-check configured constraints against the exchange. A drifted
	// minimum would make the run place rejectable orders; warn, don't fail:
	// the endpoint is not load-bearing.
	if market, err := a.client.GetMarket(ctx, spec.ID); err != nil {
		a.logger.Warn("market metadata unavailable", slog.String("error", err.Error()))
	} else {
		if market.Disabled {
			return domain.ExecutionSummary{}, fmt.Errorf("app: market %s is disabled on the exchange", spec.ID)
		}
		if exchangeMin, err := market.MinimumOrderAmount.Decimal(); err == nil &&
			exchangeMin.GreaterThan(spec.MinAmount) {
			a.logger.Warn("configured min_amount below exchange minimum",
				slog.String("configured", spec.MinAmount.String()),
				slog.String("exchange", exchangeMin.String()))
		}
	}

	if a.lock != nil {
		unlock, err := a.lock.Acquire(ctx, spec.ID, a.cfg.Redis.LockTTL.Duration)
		if err != nil {
			return domain.ExecutionSummary{}, fmt.Errorf("app: %w", err)
		}
		defer unlock()
	}

	// The private orders channel needs the account's pubsub key. Losing it
	// only costs push latency: order statuses are polled anyway.
	pubsubKey := ""
	if !intent.DryRun {
		key, err := a.client.GetPubsubKey(ctx)
		if err != nil {
			a.logger.Warn("pubsub key unavailable, orders channel disabled",
				slog.String("error", err.Error()))
		} else {
			pubsubKey = key
		}
	}

	var gateway engine.Gateway = a.client
	if intent.DryRun {
		gateway = engine.NewDryRunGateway(a.client, a.logger)
	}

	var mf *feed.MarketFeed
	var runner *engine.Runner

	realtime := buda.NewRealtimeClient(buda.RealtimeOptions{
		WsURL:     a.cfg.Buda.WsURL,
		MarketID:  spec.ID,
		PubsubKey: pubsubKey,
		OnBookSync: func(bids, asks []domain.PriceLevel) {
			mf.OnBookSync(bids, asks)
		},
		OnBookChange: func(side string, price, size decimal.Decimal) {
			mf.OnBookChange(side, price, size)
		},
		OnOrder: func(status domain.OrderStatus) {
			runner.OnOrderUpdate(status)
		},
		OnReset: func() {
			mf.OnReset()
		},
	}, a.logger)

	mf = feed.New(feed.Options{
		MarketID:        spec.ID,
		Interval:        a.cfg.Feed.Interval.Duration,
		StalenessFactor: a.cfg.Feed.StalenessFactor,
		SanityInterval:  a.cfg.Feed.SanityInterval.Duration,
		ReadyTimeout:    a.cfg.Feed.ReadyTimeout.Duration,
	}, a.client, realtime, a.logger)

	runner = engine.NewRunner(engine.RunnerOptions{
		Gateway:  gateway,
		Feed:     mf,
		Intent:   intent,
		Spec:     spec,
		Journal:  a.journal,
		Archiver: a.archiver,
		Notifier: a.notifier,
		Logger:   a.logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	feedCtx, stopFeed := context.WithCancel(gctx)
	defer stopFeed()

	g.Go(func() error {
		if err := mf.Run(feedCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	var summary domain.ExecutionSummary
	g.Go(func() error {
		defer stopFeed()
		s, err := runner.Execute(gctx)
		summary = s
		return err
	})

	err = g.Wait()
	return summary, err
}

// Balances returns the account balances for display.
func (a *App) Balances(ctx context.Context) ([]buda.Balance, error) {
	return a.client.GetBalances(ctx)
}

// OrderBook returns the current book for display. Public endpoint, no
// credentials needed.
func (a *App) OrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error) {
	return a.client.GetOrderBook(ctx, marketID)
}
