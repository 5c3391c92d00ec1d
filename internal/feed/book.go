package feed

import (
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// BookState is the mutable, mutex-guarded order book a MarketFeed maintains
// from push events and pull fallbacks. Consumers only ever see immutable
// BookSnapshot copies.
type BookState struct {
	mu         sync.Mutex
	marketID   string
	bids       map[string]domain.PriceLevel
	asks       map[string]domain.PriceLevel
	ready      bool
	source     domain.SnapshotSource
	lastUpdate time.Time

	// topCh coalesces top-of-book change notifications: one pending signal at
	// most, so a slow consumer never blocks the feed.
	topCh chan struct{}
}

// NewBookState creates an empty, not-yet-ready book for the given market.
func NewBookState(marketID string) *BookState {
	return &BookState{
		marketID: marketID,
		bids:     make(map[string]domain.PriceLevel),
		asks:     make(map[string]domain.PriceLevel),
		topCh:    make(chan struct{}, 1),
	}
}

// ApplySync replaces the entire book with a full snapshot and marks the state
// ready. Used both for websocket book-sync events and REST fallback fetches.
func (b *BookState) ApplySync(bids, asks []domain.PriceLevel, source domain.SnapshotSource, now time.Time) {
	b.mu.Lock()
	prevBid, prevAsk := b.topLocked()

	b.bids = make(map[string]domain.PriceLevel, len(bids))
	for _, lvl := range bids {
		if lvl.Size.IsPositive() {
			b.bids[lvl.Price.String()] = lvl
		}
	}
	b.asks = make(map[string]domain.PriceLevel, len(asks))
	for _, lvl := range asks {
		if lvl.Size.IsPositive() {
			b.asks[lvl.Price.String()] = lvl
		}
	}
	b.ready = true
	b.source = source
	b.lastUpdate = now

	newBid, newAsk := b.topLocked()
	changed := !prevBid.Equal(newBid) || !prevAsk.Equal(newAsk)
	b.mu.Unlock()

	if changed {
		b.notifyTop()
	}
}

// ApplyChange applies one incremental level update. A non-positive size
// removes the level. Changes before the first sync are ignored: without a
// baseline they would build a partial book.
func (b *BookState) ApplyChange(side string, price, size decimal.Decimal, now time.Time) {
	b.mu.Lock()
	if !b.ready {
		b.mu.Unlock()
		return
	}

	levels := b.bids
	if side == "ask" {
		levels = b.asks
	}

	prevBid, prevAsk := b.topLocked()
	key := price.String()
	if size.IsPositive() {
		levels[key] = domain.PriceLevel{Price: price, Size: size}
	} else {
		delete(levels, key)
	}
	b.source = domain.SourceRealtime
	b.lastUpdate = now

	newBid, newAsk := b.topLocked()
	changed := !prevBid.Equal(newBid) || !prevAsk.Equal(newAsk)
	b.mu.Unlock()

	if changed {
		b.notifyTop()
	}
}

// Snapshot returns an immutable copy of the current book with bids sorted
// descending and asks ascending. ok is false until the first full sync.
func (b *BookState) Snapshot() (domain.BookSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.ready {
		return domain.BookSnapshot{}, false
	}

	snap := domain.BookSnapshot{
		MarketID: b.marketID,
		Bids:     sortedLevels(b.bids, true),
		Asks:     sortedLevels(b.asks, false),
		AsOf:     b.lastUpdate,
		Source:   b.source,
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	return snap, true
}

// IsStale reports whether the book has not been updated within window, or has
// never been synced at all.
func (b *BookState) IsStale(now time.Time, window time.Duration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.ready {
		return true
	}
	return now.Sub(b.lastUpdate) > window
}

// Reset discards the book and marks the state not ready. Called when a
// websocket session drops, so stale push data cannot be mistaken for current.
func (b *BookState) Reset() {
	b.mu.Lock()
	b.bids = make(map[string]domain.PriceLevel)
	b.asks = make(map[string]domain.PriceLevel)
	b.ready = false
	b.mu.Unlock()
}

// TopChanged returns a channel that receives a signal whenever the best bid or
// best ask moves. Signals are coalesced; a receive means "at least one change
// since the last receive".
func (b *BookState) TopChanged() <-chan struct{} {
	return b.topCh
}

func (b *BookState) notifyTop() {
	select {
	case b.topCh <- struct{}{}:
	default:
	}
}

// topLocked returns the current best bid and ask, zero when a side is empty.
// Caller must hold b.mu.
func (b *BookState) topLocked() (bestBid, bestAsk decimal.Decimal) {
	for _, lvl := range b.bids {
		if bestBid.IsZero() || lvl.Price.GreaterThan(bestBid) {
			bestBid = lvl.Price
		}
	}
	for _, lvl := range b.asks {
		if bestAsk.IsZero() || lvl.Price.LessThan(bestAsk) {
			bestAsk = lvl.Price
		}
	}
	return bestBid, bestAsk
}

func sortedLevels(m map[string]domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(m))
	for _, lvl := range m {
		out = append(out, lvl)
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	return out
}
