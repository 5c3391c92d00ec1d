package feed

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cmardones/budabid/internal/domain"
)

// BookFetcher pulls a full order book over REST. Satisfied by the Buda client.
type BookFetcher interface {
	GetOrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error)
}

// Runner is a long-lived push source (the realtime websocket client). It
// returns only when ctx is cancelled; transport trouble is handled internally.
type Runner interface {
	Run(ctx context.Context) error
}

// Options configures a MarketFeed.
type Options struct {
	MarketID string
	// Interval is the reconciliation cadence; the watchdog checks staleness at
	// this rate.
	Interval time.Duration
	// StalenessFactor: the book counts as stale after Interval*StalenessFactor
	// without an update, triggering a REST fallback fetch.
	StalenessFactor int
	// SanityInterval forces a full REST refetch at this cadence even while the
	// push feed looks healthy, bounding drift from missed deltas.
	SanityInterval time.Duration
	// ReadyTimeout bounds how long WaitReady blocks for the first book.
	ReadyTimeout time.Duration
}

// MarketFeed maintains a current order book for one market from a realtime
// push source with a REST pull fallback, and exposes immutable snapshots.
type MarketFeed struct {
	market   string
	state    *BookState
	books    BookFetcher
	realtime Runner

	interval     time.Duration
	staleAfter   time.Duration
	sanityEvery  time.Duration
	readyTimeout time.Duration

	logger *slog.Logger
}

// New creates a feed. realtime may be nil, in which case the feed runs in
// pull-only mode off the REST order book endpoint.
func New(opts Options, books BookFetcher, realtime Runner, logger *slog.Logger) *MarketFeed {
	factor := opts.StalenessFactor
	if factor <= 0 {
		factor = 3
	}
	return &MarketFeed{
		market:       opts.MarketID,
		state:        NewBookState(opts.MarketID),
		books:        books,
		realtime:     realtime,
		interval:     opts.Interval,
		staleAfter:   time.Duration(factor) * opts.Interval,
		sanityEvery:  opts.SanityInterval,
		readyTimeout: opts.ReadyTimeout,
		logger:       logger.With(slog.String("component", "feed"), slog.String("market", opts.MarketID)),
	}
}

// OnBookSync feeds a full push snapshot into the book. Wire this into the
// realtime client's sync callback.
func (f *MarketFeed) OnBookSync(bids, asks []domain.PriceLevel) {
	f.state.ApplySync(bids, asks, domain.SourceRealtime, time.Now())
}

// OnBookChange feeds one incremental push delta into the book.
func (f *MarketFeed) OnBookChange(side string, price, size decimal.Decimal) {
	f.state.ApplyChange(side, price, size, time.Now())
}

// OnReset discards the book after a push session drops. The next pull or sync
// rebuilds it.
func (f *MarketFeed) OnReset() {
	f.state.Reset()
	f.logger.Warn("push session reset, book discarded")
}

// Run drives the feed until ctx is cancelled: the realtime runner (when
// configured) plus a watchdog that pulls the book over REST when the push data
// goes stale and refetches periodically as a sanity check. An initial pull
// seeds the book so consumers become ready without waiting for the first push
// sync.
func (f *MarketFeed) Run(ctx context.Context) error {
	if err := f.pull(ctx); err != nil {
		f.logger.Warn("initial book fetch failed", slog.String("error", err.Error()))
	}

	g, gctx := errgroup.WithContext(ctx)

	if f.realtime != nil {
		g.Go(func() error {
			return f.realtime.Run(gctx)
		})
	}

	g.Go(func() error {
		return f.watchdog(gctx)
	})

	return g.Wait()
}

func (f *MarketFeed) watchdog(ctx context.Context) error {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	lastSanity := time.Now()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticker.C:
			if f.state.IsStale(now, f.staleAfter) {
				f.logger.Warn("book stale, pulling over REST",
					slog.Duration("stale_after", f.staleAfter))
				if err := f.pull(ctx); err != nil {
					f.logger.Error("fallback fetch failed", slog.String("error", err.Error()))
				}
				lastSanity = now
				continue
			}
			if f.sanityEvery > 0 && now.Sub(lastSanity) >= f.sanityEvery {
				if err := f.pull(ctx); err != nil {
					f.logger.Warn("sanity refetch failed", slog.String("error", err.Error()))
				}
				lastSanity = now
			}
		}
	}
}

// pull fetches the book over REST and installs it as a fallback-source sync.
func (f *MarketFeed) pull(ctx context.Context) error {
	snap, err := f.books.GetOrderBook(ctx, f.market)
	if err != nil {
		return fmt.Errorf("feed: pull %s: %w", f.market, err)
	}
	f.state.ApplySync(snap.Bids, snap.Asks, domain.SourceFallback, time.Now())
	return nil
}

// Current returns the latest book snapshot, or ErrNotReady before the first
// full sync or pull succeeds.
func (f *MarketFeed) Current() (domain.BookSnapshot, error) {
	snap, ok := f.state.Snapshot()
	if !ok {
		return domain.BookSnapshot{}, domain.ErrNotReady
	}
	return snap, nil
}

// WaitReady blocks until the feed has a book, the ready timeout elapses, or
// ctx is cancelled. Timeout yields ErrNotReady.
func (f *MarketFeed) WaitReady(ctx context.Context) error {
	deadline := time.NewTimer(f.readyTimeout)
	defer deadline.Stop()
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

	for {
		if _, ok := f.state.Snapshot(); ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("feed: no book after %s: %w", f.readyTimeout, domain.ErrNotReady)
		case <-poll.C:
		}
	}
}

// WaitTopChange blocks until the best bid or ask moves, at most maxWait.
// Returns true when woken by a change, false on timeout. Because signals are
// coalesced, a true return only promises "something moved", not how much.
func (f *MarketFeed) WaitTopChange(ctx context.Context, maxWait time.Duration) (bool, error) {
	timer := time.NewTimer(maxWait)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case <-timer.C:
		return false, nil
	case <-f.state.TopChanged():
		return true, nil
	}
}
