// histscan runs the historical selector for a past trading date and replays
// the day's minute bars through the pattern detectors, printing the alerts
// the live scanner would have fired.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"gap-scanner/config"
	"gap-scanner/internal/clock"
	"gap-scanner/internal/dispatch"
	"gap-scanner/internal/ingest"
	"gap-scanner/internal/logger"
	"gap-scanner/internal/model"
	"gap-scanner/internal/pattern"
	"gap-scanner/internal/polygon"
	"gap-scanner/internal/selector"
	"gap-scanner/internal/state"
	sqlitestore "gap-scanner/internal/store/sqlite"
)

func main() {
	dateFlag := flag.String("date", "", "ET trading date to scan (YYYY-MM-DD)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (skip the selector)")
	statsFlag := flag.Bool("stats", false, "print per-symbol gap stats")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}
	log := logger.Init("histscan", logger.Level(cfg.Dev.Debug))

	if *dateFlag == "" {
		fmt.Fprintln(os.Stderr, "usage: histscan -date YYYY-MM-DD [-symbols AAA,BBB] [-stats]")
		os.Exit(2)
	}
	day, err := time.ParseInLocation("2006-01-02", *dateFlag, clock.Eastern)
	if err != nil {
		log.Error("bad -date", "err", err)
		os.Exit(2)
	}

	clk, err := clock.New(cfg.Dev.OverrideNow)
	if err != nil {
		log.Error("clock init failed", "err", err)
		os.Exit(1)
	}
	if lb := cfg.Historical.MaxLookbackDays; lb > 0 &&
		clk.Now().Sub(day) > time.Duration(lb)*24*time.Hour {
		log.Error("date beyond the lookback window", "date", *dateFlag, "max_days", lb)
		os.Exit(2)
	}
	client, err := polygon.NewClient(cfg.APIKey, cfg.API)
	if err != nil {
		log.Error("client init failed", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ---- Pick the symbols ----
	var entries []model.WatchlistEntry
	sel := selector.New(clk, cfg, client)
	if *symbolsFlag != "" {
		for _, sym := range strings.Split(*symbolsFlag, ",") {
			sym = strings.ToUpper(strings.TrimSpace(sym))
			if sym == "" {
				continue
			}
			entry := model.WatchlistEntry{Symbol: sym, DiscoveredAt: time.Now().UTC()}
			// Hand-picked symbols skip the selector, so seed the after-hours
			// high here; the replayed bars raise the rest of the HOD.
			if high, herr := sel.PrevDayAfterHoursHigh(ctx, sym, day); herr == nil {
				entry.HOD = high
			} else {
				log.Warn("after-hours high unavailable", "symbol", sym, "err", herr)
			}
			entries = append(entries, entry)
		}
	} else {
		var stats []model.GapStats
		entries, stats, err = sel.SelectHistorical(ctx, day)
		if err != nil {
			log.Error("historical selection failed", "err", err)
			os.Exit(1)
		}
		if *statsFlag {
			printStats(stats)
		}
	}
	if len(entries) == 0 {
		log.Info("no symbols qualified", "date", *dateFlag)
		return
	}

	// ---- Replay through the detectors ----
	store := state.NewStore(clk)
	disp := dispatch.New()

	detectors := []pattern.Detector{pattern.NewToppingTail(clk, cfg)}
	if cfg.GreenRun.Enabled {
		detectors = append(detectors, pattern.NewGreenRun(clk, cfg))
	}
	engine := ingest.New(clk, cfg, store, client, detectors, disp.Fire)
	engine.Historical = true

	var alerts []model.Alert
	disp.Subscribe(func(a model.Alert) {
		alerts = append(alerts, a)
		fmt.Printf("%s  %-6s %-16s price=%.2f hod=%.2f vol=%d  %s\n",
			time.UnixMilli(a.TS).In(clock.Eastern).Format("15:04"),
			a.Symbol, a.Type, a.Price, a.HOD, a.Volume, a.Detail)
	})

	// Journal replayed alerts alongside the live ones when configured.
	var journal *sqlitestore.Journal
	var journalCh chan model.Alert
	if cfg.SQLitePath != "" {
		j, jerr := sqlitestore.New(sqlitestore.Config{DBPath: cfg.SQLitePath})
		if jerr != nil {
			log.Warn("sqlite init failed, continuing without journal", "err", jerr)
		} else {
			defer j.Close()
			journal = j
			journalCh = make(chan model.Alert, 1000)
			disp.Subscribe(func(a model.Alert) { journalCh <- a })
			go journal.Run(ctx, journalCh)
		}
	}

	for _, entry := range entries {
		store.Upsert(entry)
		if err := engine.ReplayDay(ctx, entry.Symbol, day); err != nil {
			log.Warn("replay failed", "symbol", entry.Symbol, "err", err)
		}
	}
	if journalCh != nil {
		close(journalCh)
		time.Sleep(500 * time.Millisecond) // let the journal flush
		if rows, rerr := journal.Recent(len(alerts)); rerr == nil {
			log.Info("alerts journaled", "rows", len(rows))
		}
	}

	log.Info("replay complete", "date", *dateFlag, "symbols", len(entries), "alerts", len(alerts))
}

func printStats(stats []model.GapStats) {
	sort.Slice(stats, func(i, j int) bool { return stats[i].PeakGap > stats[j].PeakGap })
	fmt.Printf("%-6s %10s %10s %10s %8s %8s %s\n",
		"SYM", "PREVCLOSE", "PEAK", "PEAKGAP%", "FADE%", "VOLUME", "EARLY")
	for _, s := range stats {
		fmt.Printf("%-6s %10.2f %10.2f %10.1f %8.1f %8d %v\n",
			s.Symbol, s.PrevClose, s.PeakPrice, s.PeakGap, s.FadePct, s.DailyVolume, s.IsEarlyPeak)
	}
}
