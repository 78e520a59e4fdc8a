// Package adapter holds the exchange-facing transport: the resilient
// WebSocket client the per-exchange adapters are built on, and the feed
// watchdog that detects symbols gone silent.
package adapter

import (
	"context"
	"math"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/depthsync/depthsync/internal/feed"
	"github.com/depthsync/depthsync/internal/metrics"
)

// CircuitState represents the health of the WebSocket connection. The feed
// watchdog reads this to decide whether an exchange's data can be trusted.
type CircuitState int32

const (
	CircuitClosed CircuitState = iota // healthy
	CircuitOpen                       // unhealthy — feed suspect
)

// WSConfig holds tunable parameters for a WSClient.
type WSConfig struct {
	Exchange feed.Exchange
	URL      string

	// Buffer sizes for the underlying TCP connection.
	ReadBufferSize  int
	WriteBufferSize int

	// HeartbeatTimeout is the maximum duration of silence before the client
	// considers the connection dead and triggers a reconnect.
	HeartbeatTimeout time.Duration

	// Backoff parameters for reconnection.
	BackoffInitial time.Duration
	BackoffMax     time.Duration
	BackoffFactor  float64

	// Headers sent during the WebSocket handshake.
	Headers http.Header
}

// DefaultWSConfig returns defaults tuned for public market-data streams.
// Venues ping at multi-second cadence, so the heartbeat window is generous.
func DefaultWSConfig(exchange feed.Exchange, url string) WSConfig {
	return WSConfig{
		Exchange:         exchange,
		URL:              url,
		ReadBufferSize:   4096,
		WriteBufferSize:  4096,
		HeartbeatTimeout: 30 * time.Second,
		BackoffInitial:   250 * time.Millisecond,
		BackoffMax:       10 * time.Second,
		BackoffFactor:    2.0,
	}
}

// WSClient is a resilient, low-latency WebSocket connection manager.
// It automatically reconnects with exponential backoff, monitors heartbeats,
// and fans out incoming messages to subscribers.
type WSClient struct {
	cfg WSConfig
	log zerolog.Logger
	met *metrics.Set

	// circuit exposes connection health for the feed watchdog.
	circuit atomic.Int32

	mu   sync.RWMutex
	conn *websocket.Conn

	// subscribers receive copies of every inbound message.
	subMu sync.RWMutex
	subs  []chan []byte

	// outbox for sending messages through the connection.
	outbox chan []byte

	cancel context.CancelFunc
	done   chan struct{}

	// onReconnect is called after each successful reconnection, so adapters
	// can re-send their subscriptions.
	onReconnect func()
}

// NewWSClient creates a new WebSocket client. Call Connect to start.
func NewWSClient(cfg WSConfig, log zerolog.Logger, met *metrics.Set) *WSClient {
	return &WSClient{
		cfg:    cfg,
		log:    log.With().Str("component", "ws").Str("exchange", string(cfg.Exchange)).Logger(),
		met:    met,
		outbox: make(chan []byte, 256),
		done:   make(chan struct{}),
	}
}

// OnReconnect registers fn to run after every successful reconnection.
// Must be called before Connect.
func (ws *WSClient) OnReconnect(fn func()) {
	ws.onReconnect = fn
}

// Circuit returns the current circuit state.
func (ws *WSClient) Circuit() CircuitState {
	return CircuitState(ws.circuit.Load())
}

// Subscribe returns a channel that receives copies of every inbound message.
// The caller must drain the channel to avoid blocking other subscribers.
func (ws *WSClient) Subscribe() <-chan []byte {
	ch := make(chan []byte, 512)
	ws.subMu.Lock()
	ws.subs = append(ws.subs, ch)
	ws.subMu.Unlock()
	return ch
}

// Send enqueues a message for delivery over the WebSocket connection.
func (ws *WSClient) Send(data []byte) {
	select {
	case ws.outbox <- data:
	default:
		ws.log.Warn().Int("bytes", len(data)).Msg("outbox full, dropping message")
	}
}

// Connect dials the WebSocket endpoint and starts the read/write/heartbeat
// loops. It blocks until the initial connection succeeds or ctx is cancelled.
func (ws *WSClient) Connect(ctx context.Context) error {
	ctx, ws.cancel = context.WithCancel(ctx)

	if err := ws.dial(ctx); err != nil {
		return err
	}
	ws.circuit.Store(int32(CircuitClosed))

	go ws.readLoop(ctx)
	go ws.writeLoop(ctx)

	return nil
}

// Close shuts down the client, closing the underlying connection and all
// subscriber channels.
func (ws *WSClient) Close() {
	if ws.cancel != nil {
		ws.cancel()
	}
	ws.mu.Lock()
	if ws.conn != nil {
		ws.conn.Close()
	}
	ws.mu.Unlock()

	ws.subMu.RLock()
	for _, ch := range ws.subs {
		close(ch)
	}
	ws.subMu.RUnlock()

	close(ws.done)
}

// Done returns a channel that is closed when the client has fully shut down.
func (ws *WSClient) Done() <-chan struct{} {
	return ws.done
}

// dial establishes the WebSocket connection with TCP_NODELAY enabled.
func (ws *WSClient) dial(ctx context.Context) error {
	dialer := websocket.Dialer{
		ReadBufferSize:  ws.cfg.ReadBufferSize,
		WriteBufferSize: ws.cfg.WriteBufferSize,
		NetDialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			d := net.Dialer{}
			conn, err := d.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			if tc, ok := conn.(*net.TCPConn); ok {
				tc.SetNoDelay(true)
			}
			return conn, nil
		},
	}

	conn, _, err := dialer.DialContext(ctx, ws.cfg.URL, ws.cfg.Headers)
	if err != nil {
		return err
	}

	ws.mu.Lock()
	ws.conn = conn
	ws.mu.Unlock()
	return nil
}

// reconnect loops with exponential backoff until a connection is
// re-established or the context is cancelled.
func (ws *WSClient) reconnect(ctx context.Context) bool {
	ws.circuit.Store(int32(CircuitOpen))

	delay := ws.cfg.BackoffInitial
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(delay):
		}

		if err := ws.dial(ctx); err != nil {
			ws.log.Warn().Err(err).Dur("retryIn", delay).Msg("reconnect failed")
			delay = time.Duration(math.Min(
				float64(delay)*ws.cfg.BackoffFactor,
				float64(ws.cfg.BackoffMax),
			))
			continue
		}

		ws.circuit.Store(int32(CircuitClosed))
		ws.met.WSReconnectsTotal.WithLabelValues(string(ws.cfg.Exchange)).Inc()
		ws.log.Info().Msg("reconnected")
		if ws.onReconnect != nil {
			ws.onReconnect()
		}
		return true
	}
}

// readLoop reads messages and fans them out to subscribers. It also acts as
// the heartbeat monitor: if no message arrives within HeartbeatTimeout, it
// triggers a reconnect.
func (ws *WSClient) readLoop(ctx context.Context) {
	for {
		ws.mu.RLock()
		c := ws.conn
		ws.mu.RUnlock()

		c.SetReadDeadline(time.Now().Add(ws.cfg.HeartbeatTimeout))
		_, msg, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ws.log.Warn().Err(err).Msg("read error, reconnecting")
			c.Close()
			if !ws.reconnect(ctx) {
				return
			}
			continue
		}

		ws.fanOut(msg)
	}
}

// writeLoop drains the outbox and writes messages to the connection.
func (ws *WSClient) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-ws.outbox:
			ws.mu.RLock()
			c := ws.conn
			ws.mu.RUnlock()
			if err := c.WriteMessage(websocket.TextMessage, data); err != nil {
				ws.log.Warn().Err(err).Msg("write error")
			}
		}
	}
}

// fanOut delivers msg to every subscriber without blocking.
func (ws *WSClient) fanOut(msg []byte) {
	ws.subMu.RLock()
	defer ws.subMu.RUnlock()

	for _, ch := range ws.subs {
		select {
		case ch <- msg:
		default:
			// Slow consumer — drop to avoid head-of-line blocking.
		}
	}
}
