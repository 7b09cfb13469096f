package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/logger"
	"gap-scanner/internal/metrics"
	"gap-scanner/internal/model"
	"gap-scanner/internal/notification"
	"gap-scanner/internal/polygon"
	"gap-scanner/internal/scanner"
	redisstore "gap-scanner/internal/store/redis"
	sqlitestore "gap-scanner/internal/store/sqlite"
)

func main() {
	// ---- Load config from env (+ optional .env / YAML) ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.Init("scanner", logger.Level(cfg.Dev.Debug))
	log.Info("starting", "session", cfg.Session.Start+"-"+cfg.Session.End)

	clk, err := clock.New(cfg.Dev.OverrideNow)
	if err != nil {
		log.Error("clock init failed", "err", err)
		os.Exit(1)
	}

	// ---- Provider clients ----
	client, err := polygon.NewClient(cfg.APIKey, cfg.API)
	if err != nil {
		log.Error("client init failed", "err", err)
		os.Exit(1)
	}
	stream, err := polygon.NewStream(cfg.APIKey)
	if err != nil {
		log.Error("stream init failed", "err", err)
		os.Exit(1)
	}

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Optional sinks (off hot path) ----
	var journal *sqlitestore.Journal
	if cfg.SQLitePath != "" {
		journal, err = sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if err != nil {
			log.Warn("sqlite init failed, continuing without journal", "err", err)
		} else {
			defer journal.Close()
		}
	}

	var publisher *redisstore.Publisher
	if cfg.RedisAddr != "" {
		publisher, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Warn("redis init failed, continuing without publisher", "err", err)
		} else {
			defer publisher.Close()
		}
	}

	// ---- Scanner ----
	sc := scanner.New(cfg, clk, client, stream)

	// Metrics wiring: hot-path hooks only increment counters.
	client.OnRetry = prom.RESTRetries.Inc
	stream.OnReconnect = func() {
		prom.WSReconnects.Inc()
		health.SetWSConnected(false)
	}
	stream.OnStatus = func(st polygon.StatusEvent) {
		if st.Status == "connected" || st.Status == "auth_success" {
			health.SetWSConnected(true)
		}
	}
	sc.Dispatcher().OnDuplicate = prom.DedupeDrops.Inc
	sc.Engine().OnIngested = func(bar model.Candle) {
		prom.BarsIngested.Inc()
		health.SetLastBarTime(bar.TS)
	}
	sc.Engine().OnDropped = prom.DroppedBars.Inc
	sc.Engine().OnBackfill = func(d time.Duration) {
		prom.BackfillDur.Observe(d.Seconds())
	}
	sc.Hooks = scanner.Hooks{
		OnScanDuration: func(d time.Duration) {
			prom.ScanDur.Observe(d.Seconds())
			hits, misses := client.CacheStats()
			if total := hits + misses; total > 0 {
				prom.CacheHitRate.Set(float64(hits) / float64(total))
			}
		},
		OnWatchlistSize: func(n int) {
			prom.WatchlistSize.Set(float64(n))
			health.SetWatchlistSize(n)
			if publisher != nil {
				go publisher.PublishWatchlist(ctx, sc.Watchlist())
			}
		},
		OnSessionChanged: health.SetSessionOpen,
	}

	// ---- Alert sinks ----
	sc.SubscribeAlerts(notification.AsSubscriber(notification.NewLogNotifier()))
	sc.SubscribeAlerts(func(a model.Alert) {
		prom.AlertsFired.WithLabelValues(string(a.Type)).Inc()
	})
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		sc.SubscribeAlerts(notification.AsSubscriber(
			notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID)))
		log.Info("telegram notifier enabled")
	}
	if cfg.WebhookURL != "" {
		sc.SubscribeAlerts(notification.AsSubscriber(
			notification.NewWebhookNotifier(cfg.WebhookURL)))
		log.Info("webhook notifier enabled")
	}

	if journal != nil {
		alertCh := make(chan model.Alert, 1000)
		sc.SubscribeAlerts(func(a model.Alert) {
			select {
			case alertCh <- a:
			default: // journal backlog never blocks dispatch
			}
		})
		go journal.Run(ctx, alertCh)
	}
	if publisher != nil {
		alertCh := make(chan model.Alert, 1000)
		sc.SubscribeAlerts(func(a model.Alert) {
			select {
			case alertCh <- a:
			default:
			}
		})
		go publisher.Run(ctx, alertCh)
	}

	// ---- Liveness probes for the optional sinks ----
	switch {
	case publisher != nil && journal != nil:
		health.StartLivenessChecker(ctx, publisher.Client(), journal.DB(), 30*time.Second)
	case publisher != nil:
		health.StartLivenessChecker(ctx, publisher.Client(), nil, 30*time.Second)
	case journal != nil:
		health.StartLivenessChecker(ctx, nil, journal.DB(), 30*time.Second)
	}

	// ---- Start ----
	if err := sc.Start(ctx); err != nil {
		log.Error("scanner start failed", "err", err)
		os.Exit(1)
	}

	// ---- Wait for shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info("shutting down", "signal", sig.String())

	sc.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	log.Info("bye")
}
