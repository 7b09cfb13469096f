// Package redis publishes alerts and watchlist snapshots to Redis. The
// publisher is an optional sink off the hot path; the scanner runs fully
// without it.
package redis

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"gap-scanner/internal/model"
)

const (
	// Stream trimming: a full session of alerts plus buffer.
	alertStreamMaxLen = 10000
	defaultLatestTTL  = 30 * time.Minute

	alertStream  = "alerts"
	alertPubSub  = "pub:alerts"
	latestPrefix = "alert:latest:"
)

// Config configures the Redis publisher.
type Config struct {
	Addr     string // e.g. "localhost:6379"
	Password string
	DB       int
}

// Publisher writes alerts to a Redis Stream, a per-symbol latest key, and a
// PubSub channel for live subscribers.
type Publisher struct {
	client *goredis.Client
	log    *slog.Logger
}

// Client returns the underlying Redis client for health checks.
func (p *Publisher) Client() *goredis.Client { return p.client }

// New creates a Publisher and pings the server.
func New(cfg Config) (*Publisher, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log := slog.Default().With("component", "redis")
	log.Info("connected", "addr", cfg.Addr)
	return &Publisher{client: client, log: log}, nil
}

// PublishAlert performs the pipelined write for one alert: XADD to the alert
// stream with auto-trimming, SET of the per-symbol latest key, and PUBLISH
// for real-time subscribers.
func (p *Publisher) PublishAlert(ctx context.Context, alert model.Alert) {
	jsonData := string(alert.JSON())

	pipe := p.client.Pipeline()
	pipe.XAdd(ctx, &goredis.XAddArgs{
		Stream: alertStream,
		MaxLen: alertStreamMaxLen,
		Approx: true,
		Values: map[string]interface{}{"data": jsonData},
	})
	pipe.Set(ctx, latestPrefix+alert.Symbol, jsonData, defaultLatestTTL)
	pipe.Publish(ctx, alertPubSub, jsonData)

	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("alert pipeline error", "alert", alert.ID, "err", err)
	}
}

// PublishWatchlist stores the current watchlist snapshot under a single key
// so dashboards can read it without hitting the scanner.
func (p *Publisher) PublishWatchlist(ctx context.Context, entries []model.WatchlistEntry) {
	pipe := p.client.Pipeline()
	pipe.Del(ctx, "watchlist")
	for _, e := range entries {
		pipe.HSet(ctx, "watchlist", e.Symbol, fmt.Sprintf("%.2f", e.GapPercent))
	}
	pipe.Expire(ctx, "watchlist", defaultLatestTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		p.log.Warn("watchlist pipeline error", "err", err)
	}
}

// Run consumes alerts from alertCh and publishes them until ctx is cancelled
// or the channel is closed.
func (p *Publisher) Run(ctx context.Context, alertCh <-chan model.Alert) {
	for {
		select {
		case <-ctx.Done():
			return
		case alert, ok := <-alertCh:
			if !ok {
				return
			}
			p.PublishAlert(ctx, alert)
		}
	}
}

// Close closes the Redis client.
func (p *Publisher) Close() error {
	return p.client.Close()
}
