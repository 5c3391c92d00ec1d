package buda

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cmardones/budabid/internal/domain"
)

type change struct {
	side  string
	price decimal.Decimal
	size  decimal.Decimal
}

func newTestRealtime(t *testing.T) (*RealtimeClient, *[][]domain.PriceLevel, *[]change, *[]domain.OrderStatus) {
	t.Helper()
	syncs := &[][]domain.PriceLevel{}
	changes := &[]change{}
	orders := &[]domain.OrderStatus{}

	rc := NewRealtimeClient(RealtimeOptions{
		WsURL:    "wss://realtime.buda.com/sub",
		MarketID: "BTC-CLP",
		OnBookSync: func(bids, asks []domain.PriceLevel) {
			*syncs = append(*syncs, bids, asks)
		},
		OnBookChange: func(side string, price, size decimal.Decimal) {
			*changes = append(*changes, change{side, price, size})
		},
		OnOrder: func(status domain.OrderStatus) {
			*orders = append(*orders, status)
		},
	}, slog.New(slog.DiscardHandler))

	return rc, syncs, changes, orders
}

func TestChannelNaming(t *testing.T) {
	rc, _, _, _ := newTestRealtime(t)
	// Market ids are lowercased and stripped of dashes in channel names.
	assert.Equal(t, "btcclp", rc.marketID)
	assert.Equal(t,
		"wss://realtime.buda.com/sub?channel=book%40btcclp",
		rc.channelURL("book@"+rc.marketID))
}

func TestHandleBookSync(t *testing.T) {
	rc, syncs, _, _ := newTestRealtime(t)

	rc.handleBookMessage([]byte(`{
		"ev": "book-sync",
		"data": {
			"bids": [["84429572.0", "0.5"], ["84000000.0", "1.0"]],
			"asks": [["84500000.0", "0.3"]]
		}
	}`))

	require.Len(t, *syncs, 2)
	bids, asks := (*syncs)[0], (*syncs)[1]
	require.Len(t, bids, 2)
	require.Len(t, asks, 1)
	assert.True(t, dec("84429572.0").Equal(bids[0].Price))
	assert.True(t, dec("0.3").Equal(asks[0].Size))
}

func TestHandleBookChanged(t *testing.T) {
	t.Run("change array form", func(t *testing.T) {
		rc, _, changes, _ := newTestRealtime(t)
		rc.handleBookMessage([]byte(`{"ev": "book-changed", "change": ["bids", "84429573.0", "0.25"]}`))

		require.Len(t, *changes, 1)
		c := (*changes)[0]
		assert.Equal(t, "bid", c.side)
		assert.True(t, dec("84429573.0").Equal(c.price))
		assert.True(t, dec("0.25").Equal(c.size))
	})

	t.Run("multi-level data form", func(t *testing.T) {
		rc, _, changes, _ := newTestRealtime(t)
		rc.handleBookMessage([]byte(`{
			"ev": "book-changed",
			"data": {"bids": [["100.0", "1.0"]], "asks": [["101.0", "0"]]}
		}`))

		require.Len(t, *changes, 2)
		assert.Equal(t, "bid", (*changes)[0].side)
		assert.Equal(t, "ask", (*changes)[1].side)
		assert.True(t, (*changes)[1].size.IsZero(), "zero size passes through as a removal")
	})

	t.Run("single-level data form", func(t *testing.T) {
		rc, _, changes, _ := newTestRealtime(t)
		rc.handleBookMessage([]byte(`{
			"ev": "book-changed",
			"data": {"side": "ask", "price": "101.5", "amount": "2.0"}
		}`))

		require.Len(t, *changes, 1)
		assert.Equal(t, "ask", (*changes)[0].side)
	})

	t.Run("garbage is dropped silently", func(t *testing.T) {
		rc, syncs, changes, _ := newTestRealtime(t)
		rc.handleBookMessage([]byte(`not json`))
		rc.handleBookMessage([]byte(`{"ev": "book-changed", "change": ["bids", "oops", "0.1"]}`))
		rc.handleBookMessage([]byte(`{"ev": "something-else", "data": {}}`))
		assert.Empty(t, *syncs)
		assert.Empty(t, *changes)
	})
}

func TestHandleOrderMessage(t *testing.T) {
	rc, _, _, orders := newTestRealtime(t)

	t.Run("wrapped order form", func(t *testing.T) {
		rc.handleOrderMessage([]byte(`{
			"ev": "order-updated",
			"data": {"order": {
				"id": 123,
				"state": "pending",
				"limit": ["84429573.0", "CLP"],
				"traded_amount": ["0.0001", "BTC"],
				"total_exchanged": ["8442.95", "CLP"]
			}}
		}`))

		require.Len(t, *orders, 1)
		status := (*orders)[0]
		assert.Equal(t, "123", status.ID)
		assert.Equal(t, domain.OrderStatePartiallyFilled, status.State)
		assert.True(t, dec("8442.95").Equal(status.TradedQuote))
	})

	t.Run("bare order form", func(t *testing.T) {
		rc.handleOrderMessage([]byte(`{
			"ev": "order-created",
			"data": {"id": 124, "state": "received", "limit": ["100.0", "CLP"]}
		}`))

		require.Len(t, *orders, 2)
		assert.Equal(t, "124", (*orders)[1].ID)
		assert.Equal(t, domain.OrderStatePlacing, (*orders)[1].State)
	})

	t.Run("unrelated events are ignored", func(t *testing.T) {
		rc.handleOrderMessage([]byte(`{"ev": "ping", "data": {}}`))
		assert.Len(t, *orders, 2)
	})
}
