// Package engine contains the order maintenance core: the fill ledger, the
// per-order controller, and the run loop that keeps a limit order at the
// front of the book until a target amount has been executed.
package engine

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// Gateway is the exchange surface the engine needs. Satisfied by the Buda
// REST client; tests substitute fakes and dry runs wrap it (see DryRun).
type Gateway interface {
	GetBalance(ctx context.Context, currency string) (decimal.Decimal, error)
	GetOrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error)
	PlaceOrder(ctx context.Context, marketID string, side domain.Side, amount, price decimal.Decimal, clientID string) (domain.LiveOrder, error)
	GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) (domain.OrderStatus, error)
}

// Feed provides current order book snapshots and change wakeups.
type Feed interface {
	Current() (domain.BookSnapshot, error)
	WaitReady(ctx context.Context) error
	WaitTopChange(ctx context.Context, maxWait time.Duration) (bool, error)
}

// Journal persists run progress for offline analysis. Implementations are
// write-only from the engine's point of view; a failed write never affects
// the run.
type Journal interface {
	StartRun(ctx context.Context, runID string, intent domain.OrderIntent) error
	RecordFill(ctx context.Context, runID string, fill domain.Fill) error
	FinishRun(ctx context.Context, summary domain.ExecutionSummary) error
}

// Archiver stores the final execution report after the run ends.
type Archiver interface {
	Archive(ctx context.Context, summary domain.ExecutionSummary, fills []domain.Fill) error
}

// Notifier delivers status events to external channels.
type Notifier interface {
	Notify(ctx context.Context, event domain.StatusEvent)
}
