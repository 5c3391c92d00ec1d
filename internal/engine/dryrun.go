package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// DryRunGateway wraps a real gateway, passing reads through while simulating
// order placement. Simulated orders rest forever and never trade, so a dry
// run exercises the full pricing and replacement logic without touching the
// account.
type DryRunGateway struct {
	real   Gateway
	logger *slog.Logger

	mu     sync.Mutex
	seq    int
	orders map[string]domain.OrderStatus
}

// NewDryRunGateway wraps real. Balance and order book reads hit the exchange;
// everything else is simulated in memory.
func NewDryRunGateway(real Gateway, logger *slog.Logger) *DryRunGateway {
	return &DryRunGateway{
		real:   real,
		logger: logger.With(slog.String("component", "dry_run")),
		orders: make(map[string]domain.OrderStatus),
	}
}

func (d *DryRunGateway) GetBalance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return d.real.GetBalance(ctx, currency)
}

func (d *DryRunGateway) GetOrderBook(ctx context.Context, marketID string) (domain.BookSnapshot, error) {
	return d.real.GetOrderBook(ctx, marketID)
}

func (d *DryRunGateway) PlaceOrder(ctx context.Context, marketID string, side domain.Side, amount, price decimal.Decimal, clientID string) (domain.LiveOrder, error) {
	d.mu.Lock()
	d.seq++
	id := fmt.Sprintf("dry-%d", d.seq)
	d.orders[id] = domain.OrderStatus{ID: id, State: domain.OrderStateActive, Price: price}
	d.mu.Unlock()

	d.logger.InfoContext(ctx, "simulated order placed",
		slog.String("market", marketID),
		slog.String("order_id", id),
		slog.String("side", string(side)),
		slog.String("price", price.String()),
		slog.String("amount", amount.String()),
	)

	return domain.LiveOrder{
		ExchangeID:      id,
		ClientID:        clientID,
		Price:           price,
		RequestedAmount: amount,
		State:           domain.OrderStateActive,
	}, nil
}

func (d *DryRunGateway) GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, ok := d.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	return status, nil
}

func (d *DryRunGateway) CancelOrder(ctx context.Context, orderID string) (domain.OrderStatus, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	status, ok := d.orders[orderID]
	if !ok {
		return domain.OrderStatus{}, domain.ErrOrderNotFound
	}
	status.State = domain.OrderStateCanceled
	d.orders[orderID] = status
	d.logger.Info("simulated order canceled", slog.String("order_id", orderID))
	return status, nil
}
