// Package config holds the immutable threshold snapshot for the scanner.
// Secrets and infrastructure addresses come from environment variables
// (with optional .env loading); detector thresholds come from defaults,
// optionally overridden by a YAML file named in SCANNER_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"gap-scanner/internal/clock"
)

// SessionConfig is the ET window for volume accumulation and pattern evaluation.
type SessionConfig struct {
	Start string `yaml:"start"` // "HH:MM" ET
	End   string `yaml:"end"`
}

// StartMinute returns the session start as ET minutes since midnight.
// Call only after Validate.
func (s SessionConfig) StartMinute() int { m, _ := clock.ParseHHMM(s.Start); return m }

// EndMinute returns the session end as ET minutes since midnight.
func (s SessionConfig) EndMinute() int { m, _ := clock.ParseHHMM(s.End); return m }

// GapConfig filters the watchlist universe.
type GapConfig struct {
	MinPct              float64 `yaml:"min_pct"`
	MaxPct              float64 `yaml:"max_pct"`
	MinPrice            float64 `yaml:"min_price"`
	MaxPrice            float64 `yaml:"max_price"`
	MinCumulativeVolume int64   `yaml:"min_cumulative_volume"`
}

// ToppingTailConfig is the numeric contract of the Topping-Tail-5m detector.
type ToppingTailConfig struct {
	RequireStrictHODBreak bool    `yaml:"require_strict_hod_break"`
	MaxHighDistancePct    float64 `yaml:"max_high_distance_pct"`
	MaxCloseDistancePct   float64 `yaml:"max_close_distance_pct"`
	MustCloseRed          bool    `yaml:"must_close_red"`
	MinShadowToBodyRatio  float64 `yaml:"min_shadow_to_body_ratio"`
	MinClosePercent       float64 `yaml:"min_close_percent"`
	MinBarVolume          int64   `yaml:"min_bar_volume"`
	MaxBarVolume          int64   `yaml:"max_bar_volume"` // session-volume sanity ceiling
}

// GreenRunConfig is the numeric contract of the Green-Run-Reject detector.
type GreenRunConfig struct {
	Enabled               bool    `yaml:"enabled"`
	MinConsecutiveGreen   int     `yaml:"min_consecutive_green"`
	MaxConsecutiveGreen   int     `yaml:"max_consecutive_green"`
	MinRunGainPct         float64 `yaml:"min_run_gain_pct"`
	MaxDistanceFromHODPct float64 `yaml:"max_distance_from_hod_pct"`
}

// APIConfig tunes the REST client.
type APIConfig struct {
	MaxRetries       int `yaml:"max_retries"`
	RequestTimeoutMs int `yaml:"request_timeout_ms"` // overall deadline, also the cache TTL
	HTTPTimeoutMs    int `yaml:"http_timeout_ms"`    // per-attempt deadline
	AggregatesLimit  int `yaml:"aggregates_limit"`
}

// ScanningConfig tunes the boundary scheduler and quote synthesis.
type ScanningConfig struct {
	BackfillDelayAfterBoundaryMs int     `yaml:"backfill_delay_after_boundary_ms"`
	BidAskSpread                 float64 `yaml:"bid_ask_spread"`
}

// EarlyGainerConfig is the optional Stage 2b fader pass of the historical selector.
type EarlyGainerConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	MinEarlyPeakGap         float64 `yaml:"min_early_peak_gap"`
	EarlyPeakWindowEnd      string  `yaml:"early_peak_window_end"` // "HH:MM" ET
	MinFadePercent          float64 `yaml:"min_fade_percent"`
	MaxAdditionalFaders     int     `yaml:"max_additional_faders"`
	MinDailyVolumeForFaders int64   `yaml:"min_daily_volume_for_faders"`
}

// HistoricalConfig tunes the historical selector mode.
type HistoricalConfig struct {
	MaxLookbackDays     int               `yaml:"max_lookback_days"`
	MaxSymbolsToAnalyze int               `yaml:"max_symbols_to_analyze"`
	MinDiscoveryVolume  int64             `yaml:"min_discovery_volume"`
	EarlyGainer         EarlyGainerConfig `yaml:"early_gainer"`
}

// DevConfig holds development toggles.
type DevConfig struct {
	Debug       bool   `yaml:"debug"`
	OverrideNow string `yaml:"override_now"` // RFC3339; freezes the clock
}

// Config is the full immutable snapshot. Replace atomically, never mutate.
type Config struct {
	// Provider credentials
	APIKey string `yaml:"-"`

	Session       SessionConfig     `yaml:"session"`
	Gap           GapConfig         `yaml:"gap"`
	ToppingTail5m ToppingTailConfig `yaml:"topping_tail_5m"`
	GreenRun      GreenRunConfig    `yaml:"green_run"`
	API           APIConfig         `yaml:"api"`
	Scanning      ScanningConfig    `yaml:"scanning"`
	Historical    HistoricalConfig  `yaml:"historical"`
	Dev           DevConfig         `yaml:"dev"`

	// Infrastructure (optional sinks + observability)
	RedisAddr     string `yaml:"-"`
	RedisPassword string `yaml:"-"`
	SQLitePath    string `yaml:"-"`
	MetricsAddr   string `yaml:"-"`

	// Alert sinks
	TelegramBotToken string `yaml:"-"`
	TelegramChatID   string `yaml:"-"`
	WebhookURL       string `yaml:"-"`
}

// Default returns the baseline configuration with the regular premarket
// session window (07:00-11:30 ET).
func Default() *Config {
	return &Config{
		Session: SessionConfig{Start: "07:00", End: "11:30"},
		Gap: GapConfig{
			MinPct:              20,
			MaxPct:              500,
			MinPrice:            1.0,
			MaxPrice:            20.0,
			MinCumulativeVolume: 500_000,
		},
		ToppingTail5m: ToppingTailConfig{
			RequireStrictHODBreak: true,
			MaxHighDistancePct:    1.0,
			MaxCloseDistancePct:   2.0,
			MustCloseRed:          false,
			MinShadowToBodyRatio:  2.0,
			MinClosePercent:       60,
			MinBarVolume:          1000,
			MaxBarVolume:          50_000_000,
		},
		GreenRun: GreenRunConfig{
			Enabled:               false,
			MinConsecutiveGreen:   4,
			MaxConsecutiveGreen:   20,
			MinRunGainPct:         2,
			MaxDistanceFromHODPct: 3,
		},
		API: APIConfig{
			MaxRetries:       3,
			RequestTimeoutMs: 30_000,
			HTTPTimeoutMs:    10_000,
			AggregatesLimit:  50_000,
		},
		Scanning: ScanningConfig{
			BackfillDelayAfterBoundaryMs: 15_000,
			BidAskSpread:                 0.01,
		},
		Historical: HistoricalConfig{
			MaxLookbackDays:     30,
			MaxSymbolsToAnalyze: 10,
			MinDiscoveryVolume:  500_000,
			EarlyGainer: EarlyGainerConfig{
				Enabled:                 false,
				MinEarlyPeakGap:         30,
				EarlyPeakWindowEnd:      "07:00",
				MinFadePercent:          50,
				MaxAdditionalFaders:     3,
				MinDailyVolumeForFaders: 2_000_000,
			},
		},
	}
}

// ExtendedHours widens the session window to the full 04:00-20:00 ET
// extended-hours range. Applied when USE_EXTENDED_HOURS=true.
func (c *Config) ExtendedHours() {
	c.Session = SessionConfig{Start: "04:00", End: "20:00"}
}

// Load builds the configuration: defaults, then the optional YAML file from
// SCANNER_CONFIG, then environment variables. A .env file in the working
// directory is honored when present.
func Load() (*Config, error) {
	_ = godotenv.Load() // optional; missing .env is fine

	cfg := Default()

	if path := os.Getenv("SCANNER_CONFIG"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if boolEnv("USE_EXTENDED_HOURS") {
		cfg.ExtendedHours()
	}

	cfg.APIKey = os.Getenv("MARKET_API_KEY")

	cfg.RedisAddr = getEnv("REDIS_ADDR", "")
	cfg.RedisPassword = getEnv("REDIS_PASSWORD", "")
	cfg.SQLitePath = getEnv("SQLITE_PATH", "")
	cfg.MetricsAddr = getEnv("METRICS_ADDR", ":9090")

	cfg.TelegramBotToken = getEnv("TELEGRAM_BOT_TOKEN", "")
	cfg.TelegramChatID = getEnv("TELEGRAM_CHAT_ID", "")
	cfg.WebhookURL = getEnv("ALERT_WEBHOOK_URL", "")

	if boolEnv("SCANNER_DEBUG") {
		cfg.Dev.Debug = true
	}
	if v := os.Getenv("SCANNER_OVERRIDE_NOW"); v != "" {
		cfg.Dev.OverrideNow = v
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects inconsistent thresholds. A Config that fails validation
// must never reach the scanner.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("config: MARKET_API_KEY not set")
	}
	start, err := clock.ParseHHMM(c.Session.Start)
	if err != nil {
		return fmt.Errorf("config: session.start: %w", err)
	}
	end, err := clock.ParseHHMM(c.Session.End)
	if err != nil {
		return fmt.Errorf("config: session.end: %w", err)
	}
	if start >= end {
		return fmt.Errorf("config: session.start %s >= session.end %s", c.Session.Start, c.Session.End)
	}
	if c.Gap.MinPct >= c.Gap.MaxPct {
		return fmt.Errorf("config: gap.minPct %g >= gap.maxPct %g", c.Gap.MinPct, c.Gap.MaxPct)
	}
	if c.Gap.MinPrice <= 0 || c.Gap.MaxPrice <= 0 {
		return fmt.Errorf("config: gap prices must be positive (min=%g max=%g)", c.Gap.MinPrice, c.Gap.MaxPrice)
	}
	if c.Gap.MinPrice >= c.Gap.MaxPrice {
		return fmt.Errorf("config: gap.minPrice %g >= gap.maxPrice %g", c.Gap.MinPrice, c.Gap.MaxPrice)
	}
	if c.ToppingTail5m.MaxHighDistancePct > c.ToppingTail5m.MaxCloseDistancePct {
		return fmt.Errorf("config: toppingTail5m.maxHighDistancePct %g > maxCloseDistancePct %g",
			c.ToppingTail5m.MaxHighDistancePct, c.ToppingTail5m.MaxCloseDistancePct)
	}
	if c.GreenRun.MinConsecutiveGreen > c.GreenRun.MaxConsecutiveGreen {
		return fmt.Errorf("config: greenRun.minConsecutiveGreen %d > maxConsecutiveGreen %d",
			c.GreenRun.MinConsecutiveGreen, c.GreenRun.MaxConsecutiveGreen)
	}
	if _, err := clock.ParseHHMM(c.Historical.EarlyGainer.EarlyPeakWindowEnd); err != nil {
		return fmt.Errorf("config: historical.earlyGainer.earlyPeakWindowEnd: %w", err)
	}
	return nil
}

// With clones the snapshot, applies the mutation, and re-validates. This is
// the only sanctioned way to derive a changed Config.
func (c *Config) With(apply func(*Config)) (*Config, error) {
	next := *c
	apply(&next)
	if err := next.Validate(); err != nil {
		return nil, err
	}
	return &next, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func boolEnv(key string) bool {
	b, _ := strconv.ParseBool(os.Getenv(key))
	return b
}
