package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the gap scanner.
type Metrics struct {
	BarsIngested  prometheus.Counter
	AlertsFired   *prometheus.CounterVec // labels: type
	DedupeDrops   prometheus.Counter
	DroppedBars   prometheus.Counter // out-of-order / misaligned
	WSReconnects  prometheus.Counter
	RESTRetries   prometheus.Counter
	CacheHitRate  prometheus.Gauge
	ScanDur       prometheus.Histogram
	WatchlistSize prometheus.Gauge
	BackfillDur   prometheus.Histogram
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		BarsIngested: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_bars_ingested_total",
			Help: "Total 1-minute bars accepted into symbol state",
		}),
		AlertsFired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scanner_alerts_fired_total",
			Help: "Total alerts dispatched (by detector type)",
		}, []string{"type"}),
		DedupeDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_dedupe_drops_total",
			Help: "Alerts rejected by the dedupe set",
		}),
		DroppedBars: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_dropped_bars_total",
			Help: "Bars dropped (out-of-order, duplicate, or misaligned)",
		}),
		WSReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_ws_reconnects_total",
			Help: "Total WebSocket reconnection attempts",
		}),
		RESTRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "scanner_rest_retries_total",
			Help: "Total REST retry attempts",
		}),
		CacheHitRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_cache_hit_rate",
			Help: "REST response cache hit rate since start (0..1)",
		}),
		ScanDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_pull_scan_duration_seconds",
			Help:    "Duration of one boundary pull-validation pass",
			Buckets: prometheus.DefBuckets,
		}),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "scanner_watchlist_size",
			Help: "Symbols currently on the watchlist",
		}),
		BackfillDur: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "scanner_backfill_duration_seconds",
			Help:    "Duration of one per-symbol backfill",
			Buckets: prometheus.DefBuckets,
		}),
	}

	prometheus.MustRegister(
		m.BarsIngested,
		m.AlertsFired,
		m.DedupeDrops,
		m.DroppedBars,
		m.WSReconnects,
		m.RESTRetries,
		m.CacheHitRate,
		m.ScanDur,
		m.WatchlistSize,
		m.BackfillDur,
	)

	return m
}

// HealthStatus represents the scanner's health.
type HealthStatus struct {
	mu sync.RWMutex

	WSConnected    bool
	LastBarTime    time.Time
	SessionOpen    bool
	WatchlistSize  int
	RedisConnected bool
	SQLiteOK       bool

	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetWSConnected(v bool) {
	h.mu.Lock()
	h.WSConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastBarTime(t time.Time) {
	h.mu.Lock()
	h.LastBarTime = t
	h.mu.Unlock()
}

func (h *HealthStatus) SetSessionOpen(v bool) {
	h.mu.Lock()
	h.SessionOpen = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetWatchlistSize(n int) {
	h.mu.Lock()
	h.WatchlistSize = n
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks. Either dependency may
// be nil (the scanner runs without the optional sinks).
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	overallStatus := "healthy"
	httpCode := http.StatusOK

	// During the session, a dead stream means the scanner is blind.
	if h.SessionOpen && !h.WSConnected {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}

	barAge := ""
	if !h.LastBarTime.IsZero() {
		barAge = time.Since(h.LastBarTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status          string  `json:"status"`
		Uptime          string  `json:"uptime"`
		WSConnected     bool    `json:"ws_connected"`
		SessionOpen     bool    `json:"session_open"`
		WatchlistSize   int     `json:"watchlist_size"`
		LastBarTime     string  `json:"last_bar_time"`
		BarAge          string  `json:"bar_age"`
		RedisConnected  bool    `json:"redis_connected"`
		RedisLatencyMs  float64 `json:"redis_latency_ms"`
		SQLiteOK        bool    `json:"sqlite_ok"`
		SQLiteLatencyMs float64 `json:"sqlite_latency_ms"`
		LastCheckAt     string  `json:"last_check_at"`
	}{
		Status:          overallStatus,
		Uptime:          time.Since(h.StartedAt).Round(time.Second).String(),
		WSConnected:     h.WSConnected,
		SessionOpen:     h.SessionOpen,
		WatchlistSize:   h.WatchlistSize,
		LastBarTime:     h.LastBarTime.Format(time.RFC3339),
		BarAge:          barAge,
		RedisConnected:  h.RedisConnected,
		RedisLatencyMs:  h.RedisLatencyMs,
		SQLiteOK:        h.SQLiteOK,
		SQLiteLatencyMs: h.SQLiteLatencyMs,
		LastCheckAt:     h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		slog.Info("metrics server listening", "addr", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("metrics server error", "err", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
