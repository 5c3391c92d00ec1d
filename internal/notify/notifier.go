// Package notify delivers run status events to external channels. Events are
// dispatched to every registered sender (Telegram, Discord) and can be
// filtered by event type so operators receive only the alerts they care
// about.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cmardones/budabid/internal/domain"
	"github.com/cmardones/budabid/internal/engine"
)

// Sender is the interface each notification channel implements.
type Sender interface {
	// Send delivers a notification with the given title and message body.
	Send(ctx context.Context, title, message string) error
	// Name returns a human-readable identifier for the sender.
	Name() string
}

// Notifier dispatches status events to one or more Senders, filtered by an
// allowed set of event types. An empty set allows everything.
type Notifier struct {
	senders []Sender
	events  map[domain.StatusEventType]bool
	logger  *slog.Logger
}

// NewNotifier creates a Notifier delivering to the given senders. Only events
// whose type appears in events are forwarded; an empty slice forwards all.
func NewNotifier(senders []Sender, events []string, logger *slog.Logger) *Notifier {
	allowed := make(map[domain.StatusEventType]bool, len(events))
	for _, e := range events {
		allowed[domain.StatusEventType(strings.TrimSpace(e))] = true
	}
	return &Notifier{
		senders: senders,
		events:  allowed,
		logger:  logger.With(slog.String("component", "notifier")),
	}
}

// Notify formats and dispatches one status event. Sender failures are logged,
// never surfaced: notifications must not influence the run.
func (n *Notifier) Notify(ctx context.Context, event domain.StatusEvent) {
	if len(n.senders) == 0 {
		return
	}
	if len(n.events) > 0 && !n.events[event.Type] {
		return
	}

	title, message := format(event)
	for _, s := range n.senders {
		if err := s.Send(ctx, title, message); err != nil {
			n.logger.ErrorContext(ctx, "sender failed",
				slog.String("sender", s.Name()),
				slog.String("event", string(event.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

// format renders an event into a title and body.
func format(event domain.StatusEvent) (title, message string) {
	title = fmt.Sprintf("budabid %s [%s]", event.Type, event.MarketID)

	var parts []string
	if event.OrderID != "" {
		parts = append(parts, "order "+event.OrderID)
	}
	if event.Price.IsPositive() {
		parts = append(parts, "price "+event.Price.String())
	}
	if event.Amount.IsPositive() {
		parts = append(parts, "amount "+event.Amount.String())
	}
	if event.Message != "" {
		parts = append(parts, event.Message)
	}
	if len(parts) == 0 {
		parts = append(parts, string(event.Type))
	}
	return title, strings.Join(parts, "\n")
}

// Compile-time interface check.
var _ engine.Notifier = (*Notifier)(nil)
