package buda

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmardones/budabid/internal/domain"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestOrderStatus(t *testing.T) {
	raw := []byte(`{
		"id": 2059797,
		"market_id": "BTC-CLP",
		"type": "Bid",
		"state": "pending",
		"price_type": "limit",
		"limit": ["84429573.0", "CLP"],
		"amount": ["0.001", "BTC"],
		"original_amount": ["0.001", "BTC"],
		"traded_amount": ["0.0004", "BTC"],
		"total_exchanged": ["33771.83", "CLP"]
	}`)

	var order Order
	require.NoError(t, json.Unmarshal(raw, &order))

	status, err := order.Status()
	require.NoError(t, err)

	assert.Equal(t, "2059797", status.ID)
	assert.Equal(t, domain.OrderStatePartiallyFilled, status.State)
	assert.True(t, dec("84429573.0").Equal(status.Price))
	assert.True(t, dec("0.0004").Equal(status.TradedBase))
	assert.True(t, dec("33771.83").Equal(status.TradedQuote))
}

func TestMapOrderState(t *testing.T) {
	cases := []struct {
		state  string
		traded string
		want   domain.OrderState
	}{
		{"received", "0", domain.OrderStatePlacing},
		{"accepted", "0", domain.OrderStatePlacing},
		{"pending", "0", domain.OrderStateActive},
		{"pending", "0.001", domain.OrderStatePartiallyFilled},
		{"traded", "0.001", domain.OrderStateFullyFilled},
		{"canceling", "0", domain.OrderStateCanceling},
		{"canceled", "0", domain.OrderStateCanceled},
		{"canceled", "0.001", domain.OrderStateCanceledWithTrade},
		{"canceled_and_traded", "0.001", domain.OrderStateCanceledWithTrade},
	}

	for _, tc := range cases {
		got := mapOrderState(tc.state, dec(tc.traded))
		assert.Equal(t, tc.want, got, "state %q traded %s", tc.state, tc.traded)
	}
}

func TestPairDecimal(t *testing.T) {
	t.Run("amount with currency", func(t *testing.T) {
		p := pair{"0.001", "BTC"}
		d, err := p.Decimal()
		require.NoError(t, err)
		assert.True(t, dec("0.001").Equal(d))
		assert.Equal(t, "BTC", p.Currency())
	})

	t.Run("empty pair is zero", func(t *testing.T) {
		var p pair
		d, err := p.Decimal()
		require.NoError(t, err)
		assert.True(t, d.IsZero())
		assert.Empty(t, p.Currency())
	})

	t.Run("garbage amount errors", func(t *testing.T) {
		p := pair{"abc", "BTC"}
		_, err := p.Decimal()
		assert.Error(t, err)
	})
}

func TestParseLevels(t *testing.T) {
	entries := []bookEntry{
		{"84429572.0", "0.5"},
		{"84429572.0", "0.9"}, // duplicate price, dropped
		{"84000000.0", "0"},   // zero size, dropped
		{"83000000.0", "1.2"},
	}

	levels, err := parseLevels(entries)
	require.NoError(t, err)
	require.Len(t, levels, 2)
	assert.True(t, dec("84429572.0").Equal(levels[0].Price))
	assert.True(t, dec("0.5").Equal(levels[0].Size), "first occurrence wins")
	assert.True(t, dec("83000000.0").Equal(levels[1].Price))
}

func TestSideToOrderType(t *testing.T) {
	assert.Equal(t, "Bid", sideToOrderType(domain.SideBuy))
	assert.Equal(t, "Ask", sideToOrderType(domain.SideSell))
}
