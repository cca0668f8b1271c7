// Package feed implements the live market-data feed client. It subscribes to
// the upstream quote streamer over a websocket and pushes every decoded tick
// into a handler; the handler (the ingestion sink) owns validation and
// persistence.
package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pattarap/tickbar/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TickHandler is called once per decoded tick.
type TickHandler func(ctx context.Context, tick domain.Tick)

// YahooFeed connects to the quote streamer, subscribes to the configured
// ticker symbols, and invokes the handler for each pricing message. It
// reconnects with capped exponential backoff and replays the subscription
// after every reconnect.
type YahooFeed struct {
	wsURL     string
	tickers   []string
	onTick    TickHandler
	logger    *slog.Logger
	closeOnce sync.Once
	done      chan struct{}
}

// NewYahooFeed creates a feed for the given streamer URL and ticker symbols.
func NewYahooFeed(wsURL string, tickers []string, onTick TickHandler, logger *slog.Logger) *YahooFeed {
	return &YahooFeed{
		wsURL:   wsURL,
		tickers: tickers,
		onTick:  onTick,
		logger:  logger.With(slog.String("component", "yahoo_feed")),
		done:    make(chan struct{}),
	}
}

// Run connects and consumes pricing messages until ctx is cancelled or Close
// is called. Disconnects are retried with exponential backoff; a transport
// failure never propagates past this loop.
func (f *YahooFeed) Run(ctx context.Context) error {
	if len(f.tickers) == 0 {
		f.logger.InfoContext(ctx, "no tickers to subscribe, exiting")
		return nil
	}

	delay := reconnectDelay
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.logger.WarnContext(ctx, "streamer disconnected, reconnecting",
			slog.Duration("delay", delay),
			slog.String("error", errString(err)),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}

// runConnection dials, subscribes, and reads messages until the connection
// drops or ctx is cancelled.
func (f *YahooFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock the read loop when the context is cancelled.
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		<-connCtx.Done()
		_ = conn.Close()
	}()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go f.pingLoop(connCtx, conn)

	sub, err := json.Marshal(map[string][]string{"subscribe": f.tickers})
	if err != nil {
		return err
	}
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return err
	}
	f.logger.InfoContext(ctx, "streamer subscribed", slog.Int("tickers", len(f.tickers)))

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		tick, err := DecodeTicker(payload)
		if err != nil {
			// A single undecodable frame is not worth the connection.
			f.logger.WarnContext(ctx, "skipping undecodable pricing message",
				slog.String("error", err.Error()),
			)
			continue
		}
		f.onTick(ctx, tick)
	}
}

// pingLoop keeps the connection alive until ctx is cancelled.
func (f *YahooFeed) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Close stops the feed.
func (f *YahooFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

func errString(err error) string {
	if err == nil {
		return domain.ErrFeedDisconnect.Error()
	}
	return err.Error()
}
