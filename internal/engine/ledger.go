package engine

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// Ledger accumulates fills across every order a run places. It works from
// cumulative exchange-reported totals rather than individual trade events, so
// replayed or out-of-order status reads never double-count: only a growth in
// an order's cumulative traded amount produces a new fill.
type Ledger struct {
	mu     sync.Mutex
	orders map[string]orderTotals
	base   decimal.Decimal
	quote  decimal.Decimal
	fills  []domain.Fill
}

type orderTotals struct {
	base  decimal.Decimal
	quote decimal.Decimal
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{orders: make(map[string]orderTotals)}
}

// Observe records the fill delta implied by an order status, if any. Returns
// the new fill and true when the order's cumulative traded amount grew, or a
// zero Fill and false otherwise. Quote figures come straight from the
// exchange's total_exchanged, so the run totals match the account to the cent
// regardless of price improvement inside the fill.
func (l *Ledger) Observe(status domain.OrderStatus, now time.Time) (domain.Fill, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	seen := l.orders[status.ID]
	deltaBase := status.TradedBase.Sub(seen.base)
	if !deltaBase.IsPositive() {
		return domain.Fill{}, false
	}
	deltaQuote := status.TradedQuote.Sub(seen.quote)
	if deltaQuote.IsNegative() {
		deltaQuote = decimal.Zero
	}

	l.orders[status.ID] = orderTotals{base: status.TradedBase, quote: status.TradedQuote}
	l.base = l.base.Add(deltaBase)
	l.quote = l.quote.Add(deltaQuote)

	fill := domain.Fill{
		OrderID: status.ID,
		Amount:  deltaBase,
		Price:   status.Price,
		Quote:   deltaQuote,
		Time:    now,
	}
	l.fills = append(l.fills, fill)
	return fill, true
}

// Totals returns the cumulative base and quote amounts traded across the run.
func (l *Ledger) Totals() (base, quote decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.base, l.quote
}

// Remaining returns how much of target is still unexecuted: target minus
// quote spent for buys, target minus base sold for sells. Never negative.
func (l *Ledger) Remaining(side domain.Side, target decimal.Decimal) decimal.Decimal {
	base, quote := l.Totals()
	executed := quote
	if side == domain.SideSell {
		executed = base
	}
	rem := target.Sub(executed)
	if rem.IsNegative() {
		return decimal.Zero
	}
	return rem
}

// AveragePrice returns total quote over total base, or zero before any fill.
func (l *Ledger) AveragePrice() decimal.Decimal {
	base, quote := l.Totals()
	if !base.IsPositive() {
		return decimal.Zero
	}
	return quote.DivRound(base, 8)
}

// Fills returns a copy of every fill observed so far, in observation order.
func (l *Ledger) Fills() []domain.Fill {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.Fill, len(l.fills))
	copy(out, l.fills)
	return out
}
