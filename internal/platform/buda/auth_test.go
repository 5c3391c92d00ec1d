package buda

import (
	"net/http"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSign(t *testing.T) {
	t.Run("deterministic for same inputs", func(t *testing.T) {
		a := Sign("secret", "GET", "/api/v2/balances/btc", "1234567890", nil)
		b := Sign("secret", "GET", "/api/v2/balances/btc", "1234567890", nil)
		assert.Equal(t, a, b)
		assert.Len(t, a, 96, "hex-encoded SHA-384 digest is 96 chars")
	})

	t.Run("changes with every component", func(t *testing.T) {
		base := Sign("secret", "GET", "/api/v2/me", "1", nil)
		assert.NotEqual(t, base, Sign("other", "GET", "/api/v2/me", "1", nil))
		assert.NotEqual(t, base, Sign("secret", "POST", "/api/v2/me", "1", nil))
		assert.NotEqual(t, base, Sign("secret", "GET", "/api/v2/orders", "1", nil))
		assert.NotEqual(t, base, Sign("secret", "GET", "/api/v2/me", "2", nil))
	})

	t.Run("body is base64-encoded into the message", func(t *testing.T) {
		withBody := Sign("secret", "POST", "/api/v2/markets/btc-clp/orders", "1", []byte(`{"a":1}`))
		without := Sign("secret", "POST", "/api/v2/markets/btc-clp/orders", "1", nil)
		assert.NotEqual(t, withBody, without)
	})
}

func TestNonceSourceMonotonic(t *testing.T) {
	var n NonceSource

	t.Run("strictly increasing", func(t *testing.T) {
		prev := n.Next()
		for i := 0; i < 1000; i++ {
			next := n.Next()
			require.Greater(t, next, prev)
			prev = next
		}
	})

	t.Run("no duplicates under concurrency", func(t *testing.T) {
		const workers = 8
		const perWorker = 500

		var mu sync.Mutex
		seen := make(map[int64]bool, workers*perWorker)

		var wg sync.WaitGroup
		for w := 0; w < workers; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				local := make([]int64, 0, perWorker)
				for i := 0; i < perWorker; i++ {
					local = append(local, n.Next())
				}
				mu.Lock()
				for _, v := range local {
					assert.False(t, seen[v], "nonce %d issued twice", v)
					seen[v] = true
				}
				mu.Unlock()
			}()
		}
		wg.Wait()
	})
}

func TestAuthHeaders(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://www.buda.com/api/v2/me", nil)
	require.NoError(t, err)

	authHeaders(req, "key", "sig", "42")

	assert.Equal(t, "key", req.Header.Get("X-SBTC-APIKEY"))
	assert.Equal(t, "42", req.Header.Get("X-SBTC-NONCE"))
	assert.Equal(t, "sig", req.Header.Get("X-SBTC-SIGNATURE"))
}
