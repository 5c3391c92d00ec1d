package buda

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/cmardones/budabid/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 1 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 30 * time.Second
)

// BookSyncHandler is called with the full book when a book-sync event arrives.
type BookSyncHandler func(bids, asks []domain.PriceLevel)

// BookChangeHandler is called for each incremental level change. A zero size
// removes the level. side is "bid" or "ask".
type BookChangeHandler func(side string, price, size decimal.Decimal)

// OrderUpdateHandler is called for each private order event.
type OrderUpdateHandler func(status domain.OrderStatus)

// ResetHandler is called after a reconnect, before any new event, so the
// consumer can discard state that predates the gap.
type ResetHandler func()

// RealtimeClient subscribes to Buda's realtime channels: the public
// book@<market> channel and, when a pubsub key is available, the private
// orders@<key> channel. Each channel runs on its own connection and
// reconnects independently with exponential backoff.
type RealtimeClient struct {
	wsURL     string
	marketID  string
	pubsubKey string

	onBookSync   BookSyncHandler
	onBookChange BookChangeHandler
	onOrder      OrderUpdateHandler
	onReset      ResetHandler

	logger *slog.Logger
}

// RealtimeOptions configures a RealtimeClient.
type RealtimeOptions struct {
	// WsURL is the subscription endpoint, e.g. "wss://realtime.buda.com/sub".
	WsURL string
	// MarketID is the market to follow, e.g. "btc-clp".
	MarketID string
	// PubsubKey enables the private orders channel when non-empty.
	PubsubKey string

	OnBookSync   BookSyncHandler
	OnBookChange BookChangeHandler
	OnOrder      OrderUpdateHandler
	OnReset      ResetHandler
}

// NewRealtimeClient creates a realtime client for the given market.
func NewRealtimeClient(opts RealtimeOptions, logger *slog.Logger) *RealtimeClient {
	return &RealtimeClient{
		wsURL:        opts.WsURL,
		marketID:     strings.ReplaceAll(strings.ToLower(opts.MarketID), "-", ""),
		pubsubKey:    opts.PubsubKey,
		onBookSync:   opts.OnBookSync,
		onBookChange: opts.OnBookChange,
		onOrder:      opts.OnOrder,
		onReset:      opts.OnReset,
		logger:       logger.With(slog.String("component", "buda_realtime")),
	}
}

// Run connects the configured channels and blocks until ctx is cancelled.
// Transport failures reconnect with capped exponential backoff; the caller is
// expected to keep working from pull fallbacks while a channel is down.
func (r *RealtimeClient) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return r.runChannel(gctx, r.channelURL("book@"+r.marketID), r.handleBookMessage)
	})
	if r.pubsubKey != "" {
		g.Go(func() error {
			return r.runChannel(gctx, r.channelURL("orders@"+r.pubsubKey), r.handleOrderMessage)
		})
	}

	return g.Wait()
}

func (r *RealtimeClient) channelURL(channel string) string {
	return r.wsURL + "?channel=" + url.QueryEscape(channel)
}

// runChannel dials wsURL and pumps messages into handle until ctx is
// cancelled, reconnecting on failure.
func (r *RealtimeClient) runChannel(ctx context.Context, wsURL string, handle func([]byte)) error {
	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := r.runConnection(ctx, wsURL, handle)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		r.logger.Warn("realtime channel disconnected, reconnecting",
			slog.String("url", wsURL),
			slog.Duration("delay", delay),
			slog.String("error", errString(err)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection holds one websocket session: dial, keep-alive, read loop.
func (r *RealtimeClient) runConnection(ctx context.Context, wsURL string, handle func([]byte)) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("%w: dial: %v", domain.ErrWSDisconnect, err)
	}
	defer conn.Close()

	// A fresh session starts from a clean book; the server sends a full sync
	// after subscription.
	if r.onReset != nil {
		r.onReset()
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Ping loop and context watcher. Closing the connection unblocks the
	// read loop below.
	pingCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				conn.Close()
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: read: %v", domain.ErrWSDisconnect, err)
		}
		handle(message)
	}
}

// realtimeEnvelope is the outer shape of every realtime message.
type realtimeEnvelope struct {
	Event  string          `json:"ev"`
	Data   json.RawMessage `json:"data"`
	Change []string        `json:"change"`
}

// handleBookMessage parses book-sync and book-changed events. Unparseable
// messages are dropped silently.
func (r *RealtimeClient) handleBookMessage(raw []byte) {
	var env realtimeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	switch env.Event {
	case "book-sync":
		var data struct {
			Bids []bookEntry `json:"bids"`
			Asks []bookEntry `json:"asks"`
		}
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return
		}
		bids, err := parseLevels(data.Bids)
		if err != nil {
			return
		}
		asks, err := parseLevels(data.Asks)
		if err != nil {
			return
		}
		if r.onBookSync != nil {
			r.onBookSync(bids, asks)
		}

	case "book-changed":
		// Array form: ["bids"|"asks", price, amount].
		if len(env.Change) >= 3 {
			side := sideFromChannelName(env.Change[0])
			if side == "" {
				return
			}
			r.emitChange(side, env.Change[1], env.Change[2])
			return
		}

		// Multi-level form: data carries bids/asks lists.
		var multi struct {
			Bids []bookEntry `json:"bids"`
			Asks []bookEntry `json:"asks"`
		}
		if err := json.Unmarshal(env.Data, &multi); err == nil && (len(multi.Bids) > 0 || len(multi.Asks) > 0) {
			for _, e := range multi.Bids {
				if len(e) >= 2 {
					r.emitChange("bid", e[0], e[1])
				}
			}
			for _, e := range multi.Asks {
				if len(e) >= 2 {
					r.emitChange("ask", e[0], e[1])
				}
			}
			return
		}

		// Single-level form: data carries side/price/amount fields.
		var single struct {
			Side   string `json:"side"`
			Price  string `json:"price"`
			Amount string `json:"amount"`
		}
		if err := json.Unmarshal(env.Data, &single); err != nil {
			return
		}
		if single.Side == "bid" || single.Side == "ask" {
			r.emitChange(single.Side, single.Price, single.Amount)
		}
	}
}

func (r *RealtimeClient) emitChange(side, priceStr, sizeStr string) {
	if r.onBookChange == nil {
		return
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return
	}
	size, err := decimal.NewFromString(sizeStr)
	if err != nil {
		return
	}
	r.onBookChange(side, price, size)
}

// handleOrderMessage parses private order-created / order-updated events.
func (r *RealtimeClient) handleOrderMessage(raw []byte) {
	var env realtimeEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}
	if env.Event != "order-created" && env.Event != "order-updated" {
		return
	}

	// The order may arrive wrapped in {"order": {...}} or bare.
	var wrapped struct {
		Order *Order `json:"order"`
	}
	var order Order
	if err := json.Unmarshal(env.Data, &wrapped); err == nil && wrapped.Order != nil {
		order = *wrapped.Order
	} else if err := json.Unmarshal(env.Data, &order); err != nil {
		return
	}

	status, err := order.Status()
	if err != nil || status.ID == "" {
		return
	}
	if r.onOrder != nil {
		r.onOrder(status)
	}
}

func sideFromChannelName(name string) string {
	switch name {
	case "bids":
		return "bid"
	case "asks":
		return "ask"
	}
	return ""
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
