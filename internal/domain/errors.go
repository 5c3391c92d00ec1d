package domain

import "errors"

var (
	// ErrNotReady means the feed has no book yet. A normal transient state
	// during the first seconds of a run, not a failure.
	ErrNotReady = errors.New("market feed not ready")
	// ErrNoLiquidity means the relevant book side is empty; the caller should
	// wait for the next tick rather than price against nothing.
	ErrNoLiquidity = errors.New("no liquidity on book side")
	// ErrBelowMinimum means the remaining amount converts to less than the
	// market's minimum order size. A normal termination condition.
	ErrBelowMinimum = errors.New("amount below market minimum")

	ErrRateLimited         = errors.New("rate limited")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderNotFound       = errors.New("order not found")
	ErrWSDisconnect        = errors.New("websocket disconnected")
	ErrLockHeld            = errors.New("lock already held")
)
