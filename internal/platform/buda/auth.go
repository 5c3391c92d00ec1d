package buda

import (
	"crypto/hmac"
	"crypto/sha512"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"sync/atomic"
	"time"
)

// NonceSource produces strictly increasing nonces. Buda rejects requests whose
// nonce is not greater than the last one seen for the key, so concurrent
// callers must never reuse or reorder values.
type NonceSource struct {
	last atomic.Int64
}

// Next returns the current time in microseconds, bumped past the previously
// issued value when the clock has not advanced.
func (n *NonceSource) Next() int64 {
	for {
		now := time.Now().UnixMicro()
		last := n.last.Load()
		if now <= last {
			now = last + 1
		}
		if n.last.CompareAndSwap(last, now) {
			return now
		}
	}
}

// Sign computes the hex-encoded HMAC-SHA384 signature Buda expects. The
// signed message is "METHOD path base64(body) nonce", or "METHOD path nonce"
// when the request has no body.
func Sign(secret, method, path, nonce string, body []byte) string {
	message := method + " " + path
	if len(body) > 0 {
		message += " " + base64.StdEncoding.EncodeToString(body)
	}
	message += " " + nonce

	mac := hmac.New(sha512.New384, []byte(secret))
	mac.Write([]byte(message))
	return hex.EncodeToString(mac.Sum(nil))
}

// authHeaders sets the three Buda authentication headers on req.
func authHeaders(req *http.Request, apiKey, signature, nonce string) {
	req.Header.Set("X-SBTC-APIKEY", apiKey)
	req.Header.Set("X-SBTC-NONCE", nonce)
	req.Header.Set("X-SBTC-SIGNATURE", signature)
}
