package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	if cfg.Broker != "paper" {
		t.Fatalf("expected paper broker, got %q", cfg.Broker)
	}
	if cfg.Timeframe != "M15" {
		t.Fatalf("expected M15, got %q", cfg.Timeframe)
	}
	sc := cfg.Strategy
	if sc.FibPeriod != 20 || sc.RSIPeriod != 14 || sc.MAPeriod != 200 {
		t.Fatalf("unexpected periods %+v", sc)
	}
	if sc.MinRRRatio != 2.0 || sc.RiskPercent != 2.0 || sc.MaxPositions != 1 {
		t.Fatalf("unexpected risk defaults %+v", sc)
	}
	if sc.PollInterval != time.Second || sc.ErrorCooldown != 10*time.Second || sc.CallTimeout != 10*time.Second {
		t.Fatalf("unexpected timing defaults %+v", sc)
	}
	if sc.TradingHours.Enabled {
		t.Fatal("trading hours gate should be disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("SYMBOLS", "eurusd, gbpusd ,")
	t.Setenv("TIMEFRAME", "h1")
	t.Setenv("MIN_RR_RATIO", "1.5")
	t.Setenv("USE_MA_FILTER", "no")
	t.Setenv("FIB_RETRACEMENTS", "0.236,0.382,0.618")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("RSI_PERIOD", "not-a-number")

	cfg := LoadConfig()
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "EURUSD" || cfg.Symbols[1] != "GBPUSD" {
		t.Fatalf("unexpected symbols %v", cfg.Symbols)
	}
	if cfg.Timeframe != "H1" {
		t.Fatalf("expected H1, got %q", cfg.Timeframe)
	}
	if cfg.Strategy.MinRRRatio != 1.5 {
		t.Fatalf("expected 1.5, got %v", cfg.Strategy.MinRRRatio)
	}
	if cfg.Strategy.UseMAFilter {
		t.Fatal("MA filter should be disabled")
	}
	if got := cfg.Strategy.RetracementRatios; len(got) != 3 || got[0] != 0.236 {
		t.Fatalf("unexpected retracements %v", got)
	}
	if cfg.Strategy.PollInterval != 250*time.Millisecond {
		t.Fatalf("unexpected poll interval %v", cfg.Strategy.PollInterval)
	}
	if cfg.Strategy.RSIPeriod != 14 {
		t.Fatalf("invalid int should fall back to default, got %d", cfg.Strategy.RSIPeriod)
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	if err := os.WriteFile(path, []byte("LOT_BASE=0.5\nSTATUS_ADDR=127.0.0.1:9999\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("STATUS_ADDR", "127.0.0.1:7000")
	t.Setenv("LOT_BASE", "")
	os.Unsetenv("LOT_BASE")

	if err := LoadDotEnv(path, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("LOT_BASE") })

	cfg := LoadConfig()
	if cfg.LotBase != 0.5 {
		t.Fatalf("expected lot from .env, got %v", cfg.LotBase)
	}
	if cfg.StatusAddr != "127.0.0.1:7000" {
		t.Fatalf("process env should win, got %q", cfg.StatusAddr)
	}
}

func TestLoadDotEnvMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("API_KEY=\"unterminated\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadDotEnv(path); err == nil {
		t.Fatal("expected parse error for malformed .env")
	}
}

func TestApplyFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "strategy.yaml")
	doc := `
symbols: [XAUUSD]
timeframe: h4
strategy:
  fib_period: 30
  min_rr_ratio: 3
  poll_interval: 2s
  trading_hours:
    enabled: true
    open: "08:00"
    close: "16:00"
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := LoadConfig()
	if err := cfg.ApplyFile(path); err != nil {
		t.Fatalf("ApplyFile: %v", err)
	}
	if len(cfg.Symbols) != 1 || cfg.Symbols[0] != "XAUUSD" || cfg.Timeframe != "H4" {
		t.Fatalf("unexpected instrument overlay %v %s", cfg.Symbols, cfg.Timeframe)
	}
	sc := cfg.Strategy
	if sc.FibPeriod != 30 || sc.MinRRRatio != 3 || sc.PollInterval != 2*time.Second {
		t.Fatalf("unexpected strategy overlay %+v", sc)
	}
	// keys absent from the file keep their defaults
	if sc.RSIPeriod != 14 || sc.MAPeriod != 200 {
		t.Fatalf("defaults lost: %+v", sc)
	}
	if !sc.TradingHours.Enabled || sc.TradingHours.Open != "08:00" {
		t.Fatalf("trading hours not applied: %+v", sc.TradingHours)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("overlay should validate: %v", err)
	}
}

func TestApplyFileErrors(t *testing.T) {
	cfg := LoadConfig()
	if err := cfg.ApplyFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("strategy: [1, 2"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := cfg.ApplyFile(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"fib period", func(c *Config) { c.Strategy.FibPeriod = 1 }},
		{"bar count", func(c *Config) { c.Strategy.BarCount = 50 }},
		{"bar count below floor", func(c *Config) {
			c.Strategy.MAPeriod = 100
			c.Strategy.UseMAFilter = false
			c.Strategy.BarCount = 150
		}},
		{"rsi bounds", func(c *Config) { c.Strategy.RSIOversold = 80 }},
		{"ratios order", func(c *Config) { c.Strategy.RetracementRatios = []float64{0.618, 0.5} }},
		{"extension", func(c *Config) { c.Strategy.ExtensionRatios = []float64{0.9} }},
		{"timeframe", func(c *Config) { c.Timeframe = "M2" }},
		{"broker", func(c *Config) { c.Broker = "fix" }},
		{"lot", func(c *Config) { c.LotBase = 0 }},
		{"bridge url", func(c *Config) {
			c.Broker = "rest"
			c.BridgeURL = ""
		}},
		{"symbols", func(c *Config) { c.Symbols = nil }},
		{"account refresh", func(c *Config) { c.AccountRefresh = 0 }},
		{"hours", func(c *Config) {
			c.Strategy.TradingHours.Enabled = true
			c.Strategy.TradingHours.Open = "25:00"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := LoadConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error")
			}
		})
	}
}

func TestParseClock(t *testing.T) {
	got, err := ParseClock("17:30")
	if err != nil || got != 17*60+30 {
		t.Fatalf("ParseClock = %d, %v", got, err)
	}
	if _, err := ParseClock("5pm"); err == nil {
		t.Fatal("expected error")
	}
}
