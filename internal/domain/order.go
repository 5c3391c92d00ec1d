package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side indicates whether the maintained order buys or sells the base currency.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// Strategy selects the pricing policy for a run.
type Strategy string

const (
	// StrategyTop prices one tick better than the current best price on our
	// side, claiming queue priority without crossing the spread.
	StrategyTop Strategy = "top"
	// StrategyDepth prices at the level where cumulative visible volume
	// reaches a configured fraction of the side's total volume.
	StrategyDepth Strategy = "depth"
)

// OrderState tracks the lifecycle of the maintained order as reported by the
// exchange and advanced by the controller.
type OrderState string

const (
	OrderStateIdle              OrderState = "idle"
	OrderStatePlacing           OrderState = "placing"
	OrderStateActive            OrderState = "active"
	OrderStatePartiallyFilled   OrderState = "partially_filled"
	OrderStateFullyFilled       OrderState = "fully_filled"
	OrderStateCanceling         OrderState = "canceling"
	OrderStateCanceled          OrderState = "canceled"
	OrderStateCanceledWithTrade OrderState = "canceled_with_trade"
	OrderStateTerminated        OrderState = "terminated"
)

// Live reports whether an order in this state may still trade on the exchange.
func (s OrderState) Live() bool {
	switch s {
	case OrderStatePlacing, OrderStateActive, OrderStatePartiallyFilled:
		return true
	}
	return false
}

// OrderIntent is the user's request for one run: which market, which side,
// how much to execute, and how to price the resting order. TargetAmount is in
// quote currency for buys and base currency for sells. The intent itself is
// immutable; realized fills reduce the remaining target via the ledger.
type OrderIntent struct {
	MarketID     string
	Side         Side
	TargetAmount decimal.Decimal
	Strategy     Strategy
	DepthRatio   decimal.Decimal
	Interval     time.Duration
	DryRun       bool
}

// MarketSpec carries the per-market trading constraints used for pricing and
// termination decisions.
type MarketSpec struct {
	ID string
	// Tick is the minimum price increment.
	Tick decimal.Decimal
	// MinAmount is the exchange's minimum order size in base currency.
	MinAmount decimal.Decimal
	// MinQuote is the minimum order value in quote currency.
	MinQuote decimal.Decimal
	// AmountPrecision is the number of decimal places of the base currency.
	AmountPrecision int32
	BaseCurrency    string
	QuoteCurrency   string
}

// LiveOrder is the controller's view of the single order it owns. The market
// feed never mutates it.
type LiveOrder struct {
	ExchangeID      string
	ClientID        string
	Price           decimal.Decimal
	RequestedAmount decimal.Decimal
	State           OrderState
}

// OrderStatus is the exchange-reported status of an order. TradedBase and
// TradedQuote are cumulative over the order's lifetime, which is what makes
// fill observations idempotent (see Ledger.Observe).
type OrderStatus struct {
	ID          string
	State       OrderState
	Price       decimal.Decimal
	TradedBase  decimal.Decimal
	TradedQuote decimal.Decimal
}

// Fill is a single observed execution delta.
type Fill struct {
	OrderID string
	Amount  decimal.Decimal
	Price   decimal.Decimal
	Quote   decimal.Decimal
	Time    time.Time
}

// ExecutionSummary is the final result of a run, computed from the ledger on
// both normal and interrupted termination.
type ExecutionSummary struct {
	RunID         string
	MarketID      string
	Side          Side
	Target        decimal.Decimal
	TotalSpent    decimal.Decimal
	TotalReceived decimal.Decimal
	AveragePrice  decimal.Decimal
	Completed     bool
	Interrupted   bool
	StartedAt     time.Time
	FinishedAt    time.Time
}

// CompletionRatio returns executed/target in [0,1], or zero when the target
// is zero. The executed figure is quote for buys and base for sells.
func (s ExecutionSummary) CompletionRatio() decimal.Decimal {
	if s.Target.IsZero() {
		return decimal.Zero
	}
	executed := s.TotalSpent
	if s.Side == SideSell {
		executed = s.TotalReceived
	}
	ratio := executed.Div(s.Target)
	if ratio.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.NewFromInt(1)
	}
	return ratio
}
