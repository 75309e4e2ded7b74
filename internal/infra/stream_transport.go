package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// FrameHandler receives every well-formed inbound frame of a connection, in arrival order.
type FrameHandler func(ctx context.Context, frame json.RawMessage)

// CloseHandler is told about every closure that was not requested by the caller.
type CloseHandler func(err error)

// StreamTransport owns at most one physical WebSocket connection.
// It parses frames, drops malformed ones and reconnects with linear backoff
// until MaxRetries consecutive attempts have failed, then gives up silently.
type StreamTransport struct {
	id     string
	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connected atomic.Bool

	MaxRetries       int
	BaseDelay        time.Duration
	ReadTimeout      time.Duration
	HandshakeTimeout time.Duration

	// sleep waits d or until ctx is done; false means ctx ended first.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewStreamTransport creates a transport with the default reconnect policy.
func NewStreamTransport(id string) *StreamTransport {
	return &StreamTransport{
		id:               id,
		MaxRetries:       DefaultMaxRetries,
		BaseDelay:        DefaultBaseDelay,
		ReadTimeout:      60 * time.Second,
		HandshakeTimeout: 10 * time.Second,
		sleep:            sleepCtx,
	}
}

// Open closes any previous connection and starts a new one for url.
// Handlers run on the transport's read goroutine and must not call Close.
func (t *StreamTransport) Open(ctx context.Context, url string, onMessage FrameHandler, onClosed CloseHandler) {
	t.Close()

	ctx, cancel := context.WithCancel(ctx)
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()

	t.wg.Add(1)
	go t.runLoop(ctx, url, onMessage, onClosed)
}

// Close tears the connection down and cancels a pending reconnect.
// It is idempotent and returns only after the last frame has been delivered.
func (t *StreamTransport) Close() {
	t.mu.Lock()
	cancel := t.cancel
	t.cancel = nil
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
}

// Connected reports whether a physical connection is currently open.
func (t *StreamTransport) Connected() bool {
	return t.connected.Load()
}

func (t *StreamTransport) runLoop(ctx context.Context, url string, onMessage FrameHandler, onClosed CloseHandler) {
	defer t.wg.Done()
	attempt := 0

	for {
		err := t.session(ctx, url, &attempt, onMessage)
		if ctx.Err() != nil {
			return
		}
		if onClosed != nil {
			onClosed(err)
		}

		if attempt >= t.MaxRetries {
			slog.Warn("Stream reconnect attempts exhausted", "id", t.id, "attempts", attempt)
			return
		}
		attempt++
		delay := CalculateBackoff(t.BaseDelay, attempt)
		slog.Warn("Stream closed", "id", t.id, "err", err, "attempt", attempt, "delay", delay)

		if !t.sleep(ctx, delay) {
			return
		}
	}
}

// session runs one physical connection until it fails or ctx ends.
func (t *StreamTransport) session(ctx context.Context, url string, attempt *int, onMessage FrameHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: t.HandshakeTimeout}
	header := make(http.Header)
	header.Set("User-Agent", GetUserAgent())

	conn, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblocks ReadMessage as soon as the caller closes us.
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	t.connected.Store(true)
	defer t.connected.Store(false)

	*attempt = 0 // Reset on successful connect
	slog.Info("Stream connected", "id", t.id, "url", url)

	for {
		if t.ReadTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(t.ReadTimeout))
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		var frame json.RawMessage
		if err := json.Unmarshal(msg, &frame); err != nil {
			slog.Warn("Dropping malformed frame", "id", t.id, "err", err, "bytes", len(msg))
			continue
		}
		onMessage(ctx, frame)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
