// Package publish mirrors changed tickers to Redis for out-of-process readers.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"screener_go/internal/domain"

	"github.com/redis/go-redis/v9"
)

// DirtySource yields the symbols changed since the last drain.
type DirtySource interface {
	DrainDirty() []string
	Get(symbol string) (domain.Ticker, bool)
}

// RedisMirror writes the latest ticker of every changed symbol under
// prefix+symbol and publishes each flushed batch on one channel.
type RedisMirror struct {
	client  *redis.Client
	prefix  string
	channel string
	ttl     time.Duration
}

// NewRedisMirror wraps an existing client. ttl 0 keeps keys forever.
func NewRedisMirror(client *redis.Client, prefix, channel string, ttl time.Duration) *RedisMirror {
	return &RedisMirror{client: client, prefix: prefix, channel: channel, ttl: ttl}
}

// Ping checks connectivity.
func (m *RedisMirror) Ping(ctx context.Context) error {
	return m.client.Ping(ctx).Err()
}

// Key returns the key a symbol is stored under.
func (m *RedisMirror) Key(symbol string) string {
	return m.prefix + symbol
}

// Flush stores tickers in one pipeline and publishes them as a JSON array.
func (m *RedisMirror) Flush(ctx context.Context, tickers []domain.Ticker) error {
	if len(tickers) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, t := range tickers {
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", t.Symbol, err)
		}
		pipe.Set(ctx, m.Key(t.Symbol), b, m.ttl)
	}

	batch, err := json.Marshal(tickers)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	pipe.Publish(ctx, m.channel, batch)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Run flushes the changed tickers of src every interval until ctx is done.
// Failed flushes are logged and the batch is lost; the next change of a
// symbol rewrites it.
func (m *RedisMirror) Run(ctx context.Context, src DirtySource, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Redis mirror started", "channel", m.channel, "interval", interval)
	for {
		select {
		case <-ctx.Done():
			slog.Info("Redis mirror stopped")
			return
		case <-ticker.C:
			if err := m.flushDirty(ctx, src); err != nil && ctx.Err() == nil {
				slog.Warn("Redis flush failed", slog.Any("error", err))
			}
		}
	}
}

func (m *RedisMirror) flushDirty(ctx context.Context, src DirtySource) error {
	symbols := src.DrainDirty()
	if len(symbols) == 0 {
		return nil
	}
	tickers := make([]domain.Ticker, 0, len(symbols))
	for _, sym := range symbols {
		if t, ok := src.Get(sym); ok {
			tickers = append(tickers, t)
		}
	}
	return m.Flush(ctx, tickers)
}

// Close closes the underlying client.
func (m *RedisMirror) Close() error {
	return m.client.Close()
}
