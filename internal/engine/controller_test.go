package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmardones/budabid/internal/domain"
)

// fakeGateway is an in-memory exchange. Tests drive it by mutating order
// statuses between reconcile steps.
type fakeGateway struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]domain.OrderStatus
	balances map[string]decimal.Decimal
	book     domain.BookSnapshot

	placed   []domain.LiveOrder
	canceled []string
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:   make(map[string]domain.OrderStatus),
		balances: make(map[string]decimal.Decimal),
	}
}

func (f *fakeGateway) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[currency], nil
}

func (f *fakeGateway) GetOrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.book, nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, marketID string, side domain.Side, amount, price decimal.Decimal, clientID string) (domain.LiveOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("o%d", f.seq)
	f.orders[id] = domain.OrderStatus{ID: id, State: domain.OrderStateActive, Price: price}
	order := domain.LiveOrder{
		ExchangeID:      id,
		ClientID:        clientID,
		Price:           price,
		RequestedAmount: amount,
		State:           domain.OrderStateActive,
	}
	f.placed = append(f.placed, order)
	return order, nil
}

func (f *fakeGateway) GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	return status, nil
}

func (f *fakeGateway) CancelOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	if status.State.Live() {
		if status.TradedBase.IsPositive() {
			status.State = domain.OrderStateCanceledWithTrade
		} else {
			status.State = domain.OrderStateCanceled
		}
	}
	f.orders[orderID] = status
	f.canceled = append(f.canceled, orderID)
	return status, nil
}

// setStatus overwrites an order's exchange-side status.
func (f *fakeGateway) setStatus(orderID string, state domain.OrderState, tradedBase, tradedQuote decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status := f.orders[orderID]
	status.State = state
	status.TradedBase = tradedBase
	status.TradedQuote = tradedQuote
	f.orders[orderID] = status
}

func (f *fakeGateway) lastPlaced() domain.LiveOrder {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.placed[len(f.placed)-1]
}

func (f *fakeGateway) placedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.placed)
}

func testSpec() domain.MarketSpec {
	return domain.MarketSpec{
		ID:              "btc-clp",
		Tick:            dec("1"),
		MinAmount:       dec("0.001"),
		MinQuote:        dec("2000"),
		AmountPrecision: 8,
		BaseCurrency:    "btc",
		QuoteCurrency:   "clp",
	}
}

func testBook(bestBid, bestAsk string) domain.BookSnapshot {
	return domain.BookSnapshot{
		MarketID: "btc-clp",
		Bids:     []domain.PriceLevel{{Price: dec(bestBid), Size: dec("5")}},
		Asks:     []domain.PriceLevel{{Price: dec(bestAsk), Size: dec("5")}},
		BestBid:  dec(bestBid),
		BestAsk:  dec(bestAsk),
		AsOf:     time.Now(),
		Source:   domain.SourceRealtime,
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func newTestController(gw Gateway, ledger *Ledger, intent domain.OrderIntent) (*Controller, *[]domain.StatusEvent) {
	events := &[]domain.StatusEvent{}
	ctrl := NewController(gw, ledger, intent, testSpec(), testLogger(), func(e domain.StatusEvent) {
		*events = append(*events, e)
	}, nil)
	return ctrl, events
}

func eventTypes(events []domain.StatusEvent) []domain.StatusEventType {
	out := make([]domain.StatusEventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func buyIntent(target string) domain.OrderIntent {
	return domain.OrderIntent{
		MarketID:     "btc-clp",
		Side:         domain.SideBuy,
		TargetAmount: dec(target),
		Strategy:     domain.StrategyTop,
		Interval:     time.Second,
	}
}

func TestControllerPlacesInitialOrder(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, events := newTestController(gw, ledger, buyIntent("10000"))

	done, err := ctrl.Reconcile(context.Background(), testBook("100", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	require.True(t, ctrl.HasLiveOrder())

	order := gw.lastPlaced()
	assert.True(t, dec("101").Equal(order.Price), "got %s", order.Price)
	assert.True(t, order.RequestedAmount.Mul(order.Price).LessThanOrEqual(dec("10000")))
	assert.NotEmpty(t, order.ClientID)
	assert.Contains(t, eventTypes(*events), domain.EventOrderPlaced)
}

func TestControllerStillBest(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, events := newTestController(gw, ledger, buyIntent("10000"))

	ctx := context.Background()
	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)

	// Our own order is now the best bid; nobody outbid us.
	done, err := ctrl.Reconcile(ctx, testBook("101", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.True(t, ctrl.HasLiveOrder())
	assert.Equal(t, 1, gw.placedCount(), "no replacement while still best")
	assert.Contains(t, eventTypes(*events), domain.EventStillBest)
}

func TestControllerOutbidReplacesWithRepricedRemainder(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, events := newTestController(gw, ledger, buyIntent("10000"))
	ctx := context.Background()

	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)
	first := gw.lastPlaced()

	// Partial fill lands, then someone bids above us.
	gw.setStatus(first.ExchangeID, domain.OrderStatePartiallyFilled, dec("41.79207920"), dec("4221"))

	done, err := ctrl.Reconcile(ctx, testBook("103", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ctrl.HasLiveOrder(), "outbid order must be retired")
	assert.Contains(t, gw.canceled, first.ExchangeID)
	assert.Contains(t, eventTypes(*events), domain.EventOutbid)
	assert.Contains(t, eventTypes(*events), domain.EventPartialFill)

	// Replacement prices the book fresh and sizes from the remainder.
	done, err = ctrl.Reconcile(ctx, testBook("103", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	second := gw.lastPlaced()
	assert.NotEqual(t, first.ExchangeID, second.ExchangeID)
	assert.True(t, dec("104").Equal(second.Price), "got %s", second.Price)
	assert.True(t, second.RequestedAmount.Mul(second.Price).LessThanOrEqual(dec("5779")),
		"replacement must be sized from the unfilled remainder")
}

func TestControllerFullFillCompletesRun(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, events := newTestController(gw, ledger, buyIntent("10000"))
	ctx := context.Background()

	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)
	order := gw.lastPlaced()

	gw.setStatus(order.ExchangeID, domain.OrderStateFullyFilled, order.RequestedAmount, dec("10000"))

	done, err := ctrl.Reconcile(ctx, testBook("101", "110"))
	require.NoError(t, err)
	assert.False(t, done, "fill observation and completion are separate steps")
	assert.Contains(t, eventTypes(*events), domain.EventOrderFilled)

	done, err = ctrl.Reconcile(ctx, testBook("101", "110"))
	require.NoError(t, err)
	assert.True(t, done)

	_, quote := ledger.Totals()
	assert.True(t, dec("10000").Equal(quote))
}

func TestControllerRemainderBelowMinimumTerminates(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, _ := newTestController(gw, ledger, buyIntent("2500"))
	ctx := context.Background()

	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)
	order := gw.lastPlaced()

	// 1000 CLP executed, then the order dies externally. Remainder 1500 is
	// under the 2000 CLP market minimum.
	gw.setStatus(order.ExchangeID, domain.OrderStateCanceledWithTrade, dec("9.9"), dec("1000"))

	done, err := ctrl.Reconcile(ctx, testBook("101", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ctrl.HasLiveOrder())

	done, err = ctrl.Reconcile(ctx, testBook("101", "110"))
	require.NoError(t, err)
	assert.True(t, done, "remainder below minimum must finish the run")
	assert.Equal(t, 1, gw.placedCount(), "no order may be placed for a dust remainder")

	_, quote := ledger.Totals()
	assert.True(t, dec("1000").Equal(quote), "partial execution must be preserved")
}

func TestControllerCancelRace(t *testing.T) {
	// The order trades more between the outbid decision and the cancel
	// landing. The final re-read must capture the extra fill.
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, _ := newTestController(gw, ledger, buyIntent("10000"))
	ctx := context.Background()

	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)
	order := gw.lastPlaced()

	// By the time the controller looks again, the order is already
	// canceled_with_trade with a fill it has never seen.
	gw.setStatus(order.ExchangeID, domain.OrderStateCanceledWithTrade, dec("20"), dec("2020"))

	done, err := ctrl.Reconcile(ctx, testBook("103", "110"))
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ctrl.HasLiveOrder())

	_, quote := ledger.Totals()
	assert.True(t, dec("2020").Equal(quote), "fill in the cancel window must be booked")
}

func TestControllerEmptyBookWaits(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, _ := newTestController(gw, ledger, buyIntent("10000"))

	book := domain.BookSnapshot{MarketID: "btc-clp", AsOf: time.Now()}
	done, err := ctrl.Reconcile(context.Background(), book)
	require.NoError(t, err)
	assert.False(t, done)
	assert.False(t, ctrl.HasLiveOrder())
	assert.Zero(t, gw.placedCount())
}

func TestControllerShutdownCancelsLiveOrder(t *testing.T) {
	gw := newFakeGateway()
	ledger := NewLedger()
	ctrl, _ := newTestController(gw, ledger, buyIntent("10000"))
	ctx := context.Background()

	_, err := ctrl.Reconcile(ctx, testBook("100", "110"))
	require.NoError(t, err)
	order := gw.lastPlaced()

	ctrl.Shutdown(ctx)
	assert.False(t, ctrl.HasLiveOrder())
	assert.Contains(t, gw.canceled, order.ExchangeID)
}
