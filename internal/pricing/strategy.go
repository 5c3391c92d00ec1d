// Package pricing decides where to rest the maintained order and how much of
// the remaining target to post at that price.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// Quote is a priced order proposal: rest Amount (base currency) at Price.
type Quote struct {
	Price  decimal.Decimal
	Amount decimal.Decimal
}

// Compute prices the remaining target against the current book and converts
// it to a base amount. remaining is quote currency for buys and base currency
// for sells. Returns ErrNoLiquidity when the book cannot support the strategy
// and ErrBelowMinimum when the remainder is too small for the market, which
// is the normal termination condition.
func Compute(book domain.BookSnapshot, side domain.Side, strategy domain.Strategy, depthRatio decimal.Decimal, remaining decimal.Decimal, spec domain.MarketSpec) (Quote, error) {
	price, err := Price(book, side, strategy, depthRatio, spec)
	if err != nil {
		return Quote{}, err
	}
	amount, err := Amount(price, remaining, side, spec)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Price: price, Amount: amount}, nil
}

// Price computes the resting price for the given strategy. Prices are always
// aligned to the market tick and never cross the spread.
func Price(book domain.BookSnapshot, side domain.Side, strategy domain.Strategy, depthRatio decimal.Decimal, spec domain.MarketSpec) (decimal.Decimal, error) {
	switch strategy {
	case domain.StrategyDepth:
		return depthPrice(book, side, depthRatio, spec)
	default:
		return topPrice(book, side, spec)
	}
}

// topPrice bids one tick above the best bid (or asks one tick below the best
// ask). When stepping would cross the opposite best, it falls back to joining
// the current best instead: queue position behind the touch is better than
// taking liquidity.
func topPrice(book domain.BookSnapshot, side domain.Side, spec domain.MarketSpec) (decimal.Decimal, error) {
	if side == domain.SideBuy {
		if !book.HasBids() {
			return decimal.Zero, fmt.Errorf("pricing: %s bids: %w", book.MarketID, domain.ErrNoLiquidity)
		}
		joined := floorToTick(book.BestBid, spec.Tick)
		improved := joined.Add(spec.Tick)
		if book.HasAsks() && improved.GreaterThanOrEqual(book.BestAsk) {
			return joined, nil
		}
		return improved, nil
	}

	if !book.HasAsks() {
		return decimal.Zero, fmt.Errorf("pricing: %s asks: %w", book.MarketID, domain.ErrNoLiquidity)
	}
	joined := ceilToTick(book.BestAsk, spec.Tick)
	improved := joined.Sub(spec.Tick)
	if book.HasBids() && improved.LessThanOrEqual(book.BestBid) {
		return joined, nil
	}
	return improved, nil
}

// depthPrice walks the own side of the book from the touch, accumulating
// visible size until it reaches ratio of the side's total, and prices at the
// level that crossed the threshold. ratio is clamped to (0,1]; a zero or
// negative ratio degenerates to the touch.
func depthPrice(book domain.BookSnapshot, side domain.Side, ratio decimal.Decimal, spec domain.MarketSpec) (decimal.Decimal, error) {
	levels := book.Bids
	if side == domain.SideSell {
		levels = book.Asks
	}
	if len(levels) == 0 {
		return decimal.Zero, fmt.Errorf("pricing: %s %s side: %w", book.MarketID, side, domain.ErrNoLiquidity)
	}

	total := decimal.Zero
	for _, lvl := range levels {
		total = total.Add(lvl.Size)
	}
	threshold := total.Mul(ratio)

	cum := decimal.Zero
	price := levels[0].Price
	for _, lvl := range levels {
		cum = cum.Add(lvl.Size)
		price = lvl.Price
		if cum.GreaterThanOrEqual(threshold) {
			break
		}
	}

	if side == domain.SideBuy {
		return floorToTick(price, spec.Tick), nil
	}
	return ceilToTick(price, spec.Tick), nil
}

// Amount converts the remaining target into a base-currency order size at
// price, truncated to the market's amount precision, and enforces the
// exchange minimums.
func Amount(price, remaining decimal.Decimal, side domain.Side, spec domain.MarketSpec) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if side == domain.SideBuy {
		if remaining.LessThan(spec.MinQuote) {
			return decimal.Zero, fmt.Errorf("pricing: remaining %s %s < minimum %s: %w",
				remaining, spec.QuoteCurrency, spec.MinQuote, domain.ErrBelowMinimum)
		}
		if !price.IsPositive() {
			return decimal.Zero, fmt.Errorf("pricing: non-positive price %s: %w", price, domain.ErrNoLiquidity)
		}
		amount = remaining.DivRound(price, spec.AmountPrecision+4).Truncate(spec.AmountPrecision)
	} else {
		amount = remaining.Truncate(spec.AmountPrecision)
	}

	if amount.LessThan(spec.MinAmount) {
		return decimal.Zero, fmt.Errorf("pricing: amount %s %s < minimum %s: %w",
			amount, spec.BaseCurrency, spec.MinAmount, domain.ErrBelowMinimum)
	}
	return amount, nil
}

// floorToTick rounds price down to the nearest tick multiple.
func floorToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Floor().Mul(tick)
}

// ceilToTick rounds price up to the nearest tick multiple.
func ceilToTick(price, tick decimal.Decimal) decimal.Decimal {
	if !tick.IsPositive() {
		return price
	}
	return price.Div(tick).Ceil().Mul(tick)
}
