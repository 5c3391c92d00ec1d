package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
	"github.com/cmardones/budabid/internal/pricing"
)

const (
	// cancelSettleAttempts bounds how many times the controller re-reads an
	// order while waiting for a cancel to land.
	cancelSettleAttempts = 5
	cancelSettleDelay    = 500 * time.Millisecond
)

// Controller owns the single maintained order for one run: it places it,
// watches for outbids and fills, and performs the read-cancel-reread dance
// that keeps the ledger exact across replacements. It holds at most one live
// order at any time.
type Controller struct {
	gw     Gateway
	ledger *Ledger
	intent domain.OrderIntent
	spec   domain.MarketSpec
	logger *slog.Logger

	emit   func(domain.StatusEvent)
	onFill func(domain.Fill)

	order *domain.LiveOrder
}

// NewController creates a controller. emit and onFill may be nil.
func NewController(gw Gateway, ledger *Ledger, intent domain.OrderIntent, spec domain.MarketSpec, logger *slog.Logger, emit func(domain.StatusEvent), onFill func(domain.Fill)) *Controller {
	if emit == nil {
		emit = func(domain.StatusEvent) {}
	}
	if onFill == nil {
		onFill = func(domain.Fill) {}
	}
	return &Controller{
		gw:     gw,
		ledger: ledger,
		intent: intent,
		spec:   spec,
		logger: logger.With(slog.String("component", "controller"), slog.String("market", intent.MarketID)),
		emit:   emit,
		onFill: onFill,
	}
}

// HasLiveOrder reports whether an order is currently resting on the exchange.
func (c *Controller) HasLiveOrder() bool {
	return c.order != nil
}

// Reconcile advances the state machine one step against the given book
// snapshot. It returns done=true when the run has nothing left to do: the
// target is exhausted or the remainder fell below the market minimum. A false
// return with nil error means "check again on the next wakeup".
func (c *Controller) Reconcile(ctx context.Context, book domain.BookSnapshot) (done bool, err error) {
	remaining := c.ledger.Remaining(c.intent.Side, c.intent.TargetAmount)
	if remaining.IsZero() {
		if c.order != nil {
			if err := c.retire(ctx); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if c.order == nil {
		return c.place(ctx, book, remaining)
	}
	return c.track(ctx, book)
}

// place prices the remainder and submits a fresh order. ErrBelowMinimum from
// pricing terminates the run normally; ErrNoLiquidity just waits.
func (c *Controller) place(ctx context.Context, book domain.BookSnapshot, remaining decimal.Decimal) (bool, error) {
	quote, err := pricing.Compute(book, c.intent.Side, c.intent.Strategy, c.intent.DepthRatio, remaining, c.spec)
	if err != nil {
		if errors.Is(err, domain.ErrBelowMinimum) {
			c.logger.Info("remainder below market minimum, finishing",
				slog.String("remaining", remaining.String()))
			return true, nil
		}
		if errors.Is(err, domain.ErrNoLiquidity) {
			c.logger.Warn("cannot price against empty book side, waiting")
			return false, nil
		}
		return false, err
	}

	order, err := c.gw.PlaceOrder(ctx, c.intent.MarketID, c.intent.Side, quote.Amount, quote.Price, uuid.NewString())
	if err != nil {
		return false, fmt.Errorf("engine: place: %w", err)
	}
	c.order = &order

	c.emit(domain.StatusEvent{
		Type:     domain.EventOrderPlaced,
		MarketID: c.intent.MarketID,
		OrderID:  order.ExchangeID,
		Price:    quote.Price,
		Amount:   quote.Amount,
		Time:     time.Now(),
	})
	return false, nil
}

// track reads the live order's status, books any fill delta, and reacts to
// terminal states and outbids.
func (c *Controller) track(ctx context.Context, book domain.BookSnapshot) (bool, error) {
	status, err := c.gw.GetOrder(ctx, c.order.ExchangeID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			// The exchange no longer knows the order; whatever it traded was
			// already booked from earlier reads. Drop it and replace.
			c.logger.Warn("live order vanished from exchange",
				slog.String("order_id", c.order.ExchangeID))
			c.order = nil
			return false, nil
		}
		return false, fmt.Errorf("engine: read order: %w", err)
	}

	c.observe(status)

	switch status.State {
	case domain.OrderStateFullyFilled:
		c.emit(domain.StatusEvent{
			Type:     domain.EventOrderFilled,
			MarketID: c.intent.MarketID,
			OrderID:  status.ID,
			Price:    status.Price,
			Amount:   status.TradedBase,
			Time:     time.Now(),
		})
		c.order = nil
		return false, nil

	case domain.OrderStateCanceled, domain.OrderStateCanceledWithTrade, domain.OrderStateTerminated:
		// Canceled outside our control; replace on the next step.
		c.emit(domain.StatusEvent{
			Type:     domain.EventOrderCanceled,
			MarketID: c.intent.MarketID,
			OrderID:  status.ID,
			Time:     time.Now(),
		})
		c.order = nil
		return false, nil

	case domain.OrderStateCanceling:
		// A cancel is already in flight; let it settle.
		return false, nil
	}

	if c.outbid(book) {
		c.emit(domain.StatusEvent{
			Type:     domain.EventOutbid,
			MarketID: c.intent.MarketID,
			OrderID:  c.order.ExchangeID,
			Price:    c.order.Price,
			Time:     time.Now(),
		})
		if err := c.retire(ctx); err != nil {
			return false, err
		}
		return false, nil
	}

	c.emit(domain.StatusEvent{
		Type:     domain.EventStillBest,
		MarketID: c.intent.MarketID,
		OrderID:  c.order.ExchangeID,
		Price:    c.order.Price,
		Time:     time.Now(),
	})
	return false, nil
}

// outbid reports whether someone now quotes a strictly better price than the
// maintained order.
func (c *Controller) outbid(book domain.BookSnapshot) bool {
	if c.intent.Side == domain.SideBuy {
		return book.HasBids() && book.BestBid.GreaterThan(c.order.Price)
	}
	return book.HasAsks() && book.BestAsk.LessThan(c.order.Price)
}

// retire takes the live order off the book: read, cancel, then re-read until
// the exchange reports a non-live state. Only the final re-read is trusted
// for accounting, because the order can trade in the gap before the cancel
// lands.
func (c *Controller) retire(ctx context.Context) error {
	orderID := c.order.ExchangeID

	// Pre-cancel read narrows the window of unobserved fills.
	if status, err := c.gw.GetOrder(ctx, orderID); err == nil {
		c.observe(status)
		if !status.State.Live() && status.State != domain.OrderStateCanceling {
			c.order = nil
			return nil
		}
	}

	if _, err := c.gw.CancelOrder(ctx, orderID); err != nil && !errors.Is(err, domain.ErrOrderNotFound) {
		return fmt.Errorf("engine: cancel: %w", err)
	}

	for attempt := 0; attempt < cancelSettleAttempts; attempt++ {
		status, err := c.gw.GetOrder(ctx, orderID)
		if err != nil {
			if errors.Is(err, domain.ErrOrderNotFound) {
				break
			}
			return fmt.Errorf("engine: settle cancel: %w", err)
		}
		c.observe(status)
		if !status.State.Live() && status.State != domain.OrderStateCanceling {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(cancelSettleDelay):
		}
	}

	c.emit(domain.StatusEvent{
		Type:     domain.EventOrderCanceled,
		MarketID: c.intent.MarketID,
		OrderID:  orderID,
		Time:     time.Now(),
	})
	c.order = nil
	return nil
}

// Shutdown cancels the live order, if any, for an interrupted run. Errors are
// logged, not returned: shutdown is best-effort.
func (c *Controller) Shutdown(ctx context.Context) {
	if c.order == nil {
		return
	}
	if err := c.retire(ctx); err != nil {
		c.logger.Error("failed to cancel order during shutdown",
			slog.String("order_id", c.order.ExchangeID),
			slog.String("error", err.Error()))
	}
}

// observe books a status into the ledger and surfaces the fill, if any.
func (c *Controller) observe(status domain.OrderStatus) {
	fill, ok := c.ledger.Observe(status, time.Now())
	if !ok {
		return
	}
	c.onFill(fill)
	c.emit(domain.StatusEvent{
		Type:     domain.EventPartialFill,
		MarketID: c.intent.MarketID,
		OrderID:  status.ID,
		Price:    fill.Price,
		Amount:   fill.Amount,
		Time:     fill.Time,
	})
	c.logger.Info("fill observed",
		slog.String("order_id", status.ID),
		slog.String("amount", fill.Amount.String()),
		slog.String("quote", fill.Quote.String()),
	)
}
