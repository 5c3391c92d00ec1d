package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// SnapshotSource identifies which data path produced a book snapshot.
type SnapshotSource string

const (
	// SourceRealtime marks snapshots built from websocket push events.
	SourceRealtime SnapshotSource = "realtime"
	// SourceFallback marks snapshots fetched over REST when the push feed is
	// stale, unavailable, or during the periodic sanity refetch.
	SourceFallback SnapshotSource = "fallback"
)

// PriceLevel is a single price+size entry in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// BookSnapshot is an immutable view of a market's order book. Bids are sorted
// by price descending, asks ascending; levels are price-deduplicated and sizes
// are positive. BestBid/BestAsk are only meaningful when the corresponding
// side is non-empty.
type BookSnapshot struct {
	MarketID string
	Bids     []PriceLevel
	Asks     []PriceLevel
	BestBid  decimal.Decimal
	BestAsk  decimal.Decimal
	AsOf     time.Time
	Source   SnapshotSource
}

// HasBids reports whether the bid side has any visible liquidity.
func (b BookSnapshot) HasBids() bool { return len(b.Bids) > 0 }

// HasAsks reports whether the ask side has any visible liquidity.
func (b BookSnapshot) HasAsks() bool { return len(b.Asks) > 0 }

// Spread returns best_ask - best_bid. Only meaningful when both sides are
// present.
func (b BookSnapshot) Spread() decimal.Decimal {
	return b.BestAsk.Sub(b.BestBid)
}
