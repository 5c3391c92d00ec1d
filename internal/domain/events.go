package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatusEventType enumerates the progress notifications emitted while a run
// is in flight.
type StatusEventType string

const (
	EventOrderPlaced   StatusEventType = "order_placed"
	EventStillBest     StatusEventType = "still_best"
	EventOutbid        StatusEventType = "outbid"
	EventPartialFill   StatusEventType = "partial_fill"
	EventOrderFilled   StatusEventType = "order_filled"
	EventOrderCanceled StatusEventType = "order_canceled"
	EventFeedFallback  StatusEventType = "feed_fallback"
	EventRunCompleted  StatusEventType = "run_completed"
	EventRunInterrupt  StatusEventType = "run_interrupted"
)

// StatusEvent is one progress notification for display layers. Fields other
// than Type and Time are populated when relevant to the event.
type StatusEvent struct {
	Type     StatusEventType
	MarketID string
	OrderID  string
	Price    decimal.Decimal
	Amount   decimal.Decimal
	Message  string
	Time     time.Time
}
