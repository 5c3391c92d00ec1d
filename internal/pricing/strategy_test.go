package pricing

import (
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

func btcClpSpec() domain.MarketSpec {
	return domain.MarketSpec{
		ID:              "btc-clp",
		Tick:            dec("1"),
		MinAmount:       dec("0.00002"),
		MinQuote:        dec("2000"),
		AmountPrecision: 8,
		BaseCurrency:    "btc",
		QuoteCurrency:   "clp",
	}
}

func bookWith(bids, asks [][2]string) domain.BookSnapshot {
	snap := domain.BookSnapshot{MarketID: "btc-clp"}
	for _, b := range bids {
		snap.Bids = append(snap.Bids, domain.PriceLevel{Price: dec(b[0]), Size: dec(b[1])})
	}
	for _, a := range asks {
		snap.Asks = append(snap.Asks, domain.PriceLevel{Price: dec(a[0]), Size: dec(a[1])})
	}
	if len(snap.Bids) > 0 {
		snap.BestBid = snap.Bids[0].Price
	}
	if len(snap.Asks) > 0 {
		snap.BestAsk = snap.Asks[0].Price
	}
	return snap
}

func TestTopPrice(t *testing.T) {
	spec := btcClpSpec()

	t.Run("buy improves best bid by one tick", func(t *testing.T) {
		book := bookWith([][2]string{{"84429572", "0.5"}}, [][2]string{{"84500000", "1"}})
		price, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, spec)
		require.NoError(t, err)
		assert.True(t, dec("84429573").Equal(price), "got %s", price)
	})

	t.Run("buy joins best bid when improving would cross", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}}, [][2]string{{"101", "1"}})
		price, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, spec)
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(price), "got %s", price)
	})

	t.Run("sell improves best ask by one tick", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}}, [][2]string{{"105", "1"}})
		price, err := Price(book, domain.SideSell, domain.StrategyTop, decimal.Zero, spec)
		require.NoError(t, err)
		assert.True(t, dec("104").Equal(price), "got %s", price)
	})

	t.Run("sell joins best ask when improving would cross", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}}, [][2]string{{"101", "1"}})
		price, err := Price(book, domain.SideSell, domain.StrategyTop, decimal.Zero, spec)
		require.NoError(t, err)
		assert.True(t, dec("101").Equal(price), "got %s", price)
	})

	t.Run("buy with fractional tick", func(t *testing.T) {
		usdcSpec := spec
		usdcSpec.Tick = dec("0.01")
		book := bookWith([][2]string{{"934.56", "100"}}, [][2]string{{"936.00", "100"}})
		price, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, usdcSpec)
		require.NoError(t, err)
		assert.True(t, dec("934.57").Equal(price), "got %s", price)
	})

	t.Run("buy aligns off-tick best bid before stepping", func(t *testing.T) {
		usdcSpec := spec
		usdcSpec.Tick = dec("0.01")
		book := bookWith([][2]string{{"934.567", "100"}}, [][2]string{{"936.00", "100"}})
		price, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, usdcSpec)
		require.NoError(t, err)
		assert.True(t, dec("934.57").Equal(price), "got %s", price)
	})

	t.Run("empty own side returns ErrNoLiquidity", func(t *testing.T) {
		book := bookWith(nil, [][2]string{{"101", "1"}})
		_, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, spec)
		assert.ErrorIs(t, err, domain.ErrNoLiquidity)

		book = bookWith([][2]string{{"100", "1"}}, nil)
		_, err = Price(book, domain.SideSell, domain.StrategyTop, decimal.Zero, spec)
		assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	})

	t.Run("buy with empty ask side still improves", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}}, nil)
		price, err := Price(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, spec)
		require.NoError(t, err)
		assert.True(t, dec("101").Equal(price), "got %s", price)
	})
}

func TestDepthPrice(t *testing.T) {
	spec := btcClpSpec()

	t.Run("half of visible volume lands on third level", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}, {"99", "2"}, {"98", "5"}}, nil)
		price, err := Price(book, domain.SideBuy, domain.StrategyDepth, dec("0.5"), spec)
		require.NoError(t, err)
		// total 8, threshold 4: 1, 3, 8 -> crosses at the 98 level.
		assert.True(t, dec("98").Equal(price), "got %s", price)
	})

	t.Run("tiny ratio stays at the touch", func(t *testing.T) {
		book := bookWith([][2]string{{"100", "1"}, {"99", "2"}}, nil)
		price, err := Price(book, domain.SideBuy, domain.StrategyDepth, dec("0.01"), spec)
		require.NoError(t, err)
		assert.True(t, dec("100").Equal(price), "got %s", price)
	})

	t.Run("full ratio reaches the deepest level", func(t *testing.T) {
		book := bookWith(nil, [][2]string{{"101", "1"}, {"102", "2"}, {"103", "3"}})
		price, err := Price(book, domain.SideSell, domain.StrategyDepth, dec("1"), spec)
		require.NoError(t, err)
		assert.True(t, dec("103").Equal(price), "got %s", price)
	})

	t.Run("empty side returns ErrNoLiquidity", func(t *testing.T) {
		book := bookWith(nil, nil)
		_, err := Price(book, domain.SideBuy, domain.StrategyDepth, dec("0.5"), spec)
		assert.ErrorIs(t, err, domain.ErrNoLiquidity)
	})
}

func TestAmount(t *testing.T) {
	spec := btcClpSpec()

	t.Run("buy converts quote remainder to base", func(t *testing.T) {
		amount, err := Amount(dec("80000000"), dec("100000"), domain.SideBuy, spec)
		require.NoError(t, err)
		assert.True(t, dec("0.00125").Equal(amount), "got %s", amount)
	})

	t.Run("buy truncates to amount precision", func(t *testing.T) {
		amount, err := Amount(dec("84429573"), dec("100000"), domain.SideBuy, spec)
		require.NoError(t, err)
		assert.Equal(t, int32(-8), amount.Exponent())
		assert.True(t, amount.Mul(dec("84429573")).LessThanOrEqual(dec("100000")),
			"amount*price must not exceed the remainder")
	})

	t.Run("sell uses base remainder directly", func(t *testing.T) {
		amount, err := Amount(dec("80000000"), dec("0.003"), domain.SideSell, spec)
		require.NoError(t, err)
		assert.True(t, dec("0.003").Equal(amount), "got %s", amount)
	})

	t.Run("buy remainder below minimum quote terminates", func(t *testing.T) {
		_, err := Amount(dec("80000000"), dec("1500"), domain.SideBuy, spec)
		assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	})

	t.Run("sell remainder below minimum amount terminates", func(t *testing.T) {
		_, err := Amount(dec("80000000"), dec("0.00001"), domain.SideSell, spec)
		assert.ErrorIs(t, err, domain.ErrBelowMinimum)
	})
}

func TestCompute(t *testing.T) {
	spec := btcClpSpec()
	book := bookWith([][2]string{{"84429572", "0.5"}}, [][2]string{{"84500000", "1"}})

	quote, err := Compute(book, domain.SideBuy, domain.StrategyTop, decimal.Zero, dec("100000"), spec)
	require.NoError(t, err)
	assert.True(t, dec("84429573").Equal(quote.Price))
	assert.True(t, quote.Amount.IsPositive())
	assert.True(t, quote.Amount.Mul(quote.Price).LessThanOrEqual(dec("100000")))
}
