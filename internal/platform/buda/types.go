package buda

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cmardones/budabid/internal/domain"
)

// pair is Buda's [amount, currency] tuple, e.g. ["0.001", "BTC"]. Amounts are
// decimal strings; a bare string or number is also accepted for robustness.
type pair []string

// Decimal parses the amount component. A missing or empty pair is zero.
func (p pair) Decimal() (decimal.Decimal, error) {
	if len(p) == 0 || p[0] == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(p[0])
	if err != nil {
		return decimal.Zero, fmt.Errorf("buda: parse amount %q: %w", p[0], err)
	}
	return d, nil
}

// Currency returns the currency component, or "" when absent.
func (p pair) Currency() string {
	if len(p) < 2 {
		return ""
	}
	return p[1]
}

// bookEntry is one [price, amount] level of the public order book.
type bookEntry []string

func (e bookEntry) level() (domain.PriceLevel, error) {
	if len(e) < 2 {
		return domain.PriceLevel{}, fmt.Errorf("buda: short book entry %v", e)
	}
	price, err := decimal.NewFromString(e[0])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("buda: parse book price %q: %w", e[0], err)
	}
	size, err := decimal.NewFromString(e[1])
	if err != nil {
		return domain.PriceLevel{}, fmt.Errorf("buda: parse book size %q: %w", e[1], err)
	}
	return domain.PriceLevel{Price: price, Size: size}, nil
}

// orderBookResponse is the /markets/{id}/order_book payload.
type orderBookResponse struct {
	OrderBook struct {
		Bids []bookEntry `json:"bids"`
		Asks []bookEntry `json:"asks"`
	} `json:"order_book"`
}

// Balance is an account balance for a single currency.
type Balance struct {
	ID              string `json:"id"`
	AvailableAmount pair   `json:"available_amount"`
	FrozenAmount    pair   `json:"frozen_amount"`
	Amount          pair   `json:"amount"`
}

// Order is Buda's order resource.
type Order struct {
	ID             json.Number `json:"id"`
	MarketID       string      `json:"market_id"`
	Type           string      `json:"type"` // "Bid" or "Ask"
	State          string      `json:"state"`
	PriceType      string      `json:"price_type"`
	Limit          pair        `json:"limit"`
	Amount         pair        `json:"amount"`
	OriginalAmount pair        `json:"original_amount"`
	TradedAmount   pair        `json:"traded_amount"`
	TotalExchanged pair        `json:"total_exchanged"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Status converts the wire order into a domain.OrderStatus. Cumulative traded
// figures come straight from the resource, which is what the ledger's dedup
// relies on.
func (o Order) Status() (domain.OrderStatus, error) {
	tradedBase, err := o.TradedAmount.Decimal()
	if err != nil {
		return domain.OrderStatus{}, err
	}
	tradedQuote, err := o.TotalExchanged.Decimal()
	if err != nil {
		return domain.OrderStatus{}, err
	}
	price, err := o.Limit.Decimal()
	if err != nil {
		return domain.OrderStatus{}, err
	}
	return domain.OrderStatus{
		ID:          o.ID.String(),
		State:       mapOrderState(o.State, tradedBase),
		Price:       price,
		TradedBase:  tradedBase,
		TradedQuote: tradedQuote,
	}, nil
}

// mapOrderState translates Buda order states into the controller's closed
// state set.
func mapOrderState(state string, tradedBase decimal.Decimal) domain.OrderState {
	switch strings.ToLower(state) {
	case "received", "accepted":
		return domain.OrderStatePlacing
	case "pending":
		if tradedBase.IsPositive() {
			return domain.OrderStatePartiallyFilled
		}
		return domain.OrderStateActive
	case "traded":
		return domain.OrderStateFullyFilled
	case "canceling":
		return domain.OrderStateCanceling
	case "canceled":
		if tradedBase.IsPositive() {
			return domain.OrderStateCanceledWithTrade
		}
		return domain.OrderStateCanceled
	case "canceled_and_traded":
		return domain.OrderStateCanceledWithTrade
	default:
		return domain.OrderStateActive
	}
}

// sideToOrderType maps a domain side onto Buda's order type names.
func sideToOrderType(side domain.Side) string {
	if side == domain.SideSell {
		return "Ask"
	}
	return "Bid"
}

// Market is Buda's market metadata resource.
type Market struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	BaseCurrency       string `json:"base_currency"`
	QuoteCurrency      string `json:"quote_currency"`
	MinimumOrderAmount pair   `json:"minimum_order_amount"`
	Disabled           bool   `json:"disabled"`
	TakerFee           string `json:"taker_fee"`
	MakerFee           string `json:"maker_fee"`
}

// apiError is the error payload Buda returns on non-2xx responses.
type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}
