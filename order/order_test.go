package order

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"fibonacci-trader/config"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

type nopLogger struct{}

func (nopLogger) Debug(string, ...interface{})              {}
func (nopLogger) Info(string, ...interface{})               {}
func (nopLogger) Warning(string, ...interface{})            {}
func (nopLogger) Error(string, ...interface{})              {}
func (nopLogger) Fatal(string, ...interface{})              {}
func (nopLogger) Sync() error                               { return nil }
func (nopLogger) ChangeLogLevel(level logging.LogLevel)     {}
func (l nopLogger) ForAsset(string) logging.LoggerInterface { return l }

type warnLogger struct {
	nopLogger
	warnings []string
}

func (l *warnLogger) Warning(format string, v ...interface{}) {
	l.warnings = append(l.warnings, fmt.Sprintf(format, v...))
}

func (l *warnLogger) ForAsset(string) logging.LoggerInterface { return l }

// last returns the most recent warning
func (l *warnLogger) last() string {
	if len(l.warnings) == 0 {
		return ""
	}
	return l.warnings[len(l.warnings)-1]
}

type submitBroker struct {
	meta   models.SymbolMeta
	got    []models.OrderIntent
	result models.OrderResult
	err    error
}

func (b *submitBroker) Name() string { return "fake" }
func (b *submitBroker) FetchBars(context.Context, string, string, int) (models.BarWindow, error) {
	return nil, nil
}
func (b *submitBroker) CurrentTick(context.Context, string) (models.Tick, error) {
	return models.Tick{}, nil
}
func (b *submitBroker) SymbolMeta(context.Context, string) (models.SymbolMeta, error) {
	return b.meta, nil
}
func (b *submitBroker) AccountEquity(context.Context) (float64, error)         { return 0, nil }
func (b *submitBroker) OpenPositionCount(context.Context, string) (int, error) { return 0, nil }
func (b *submitBroker) Symbols(context.Context) ([]string, error)              { return nil, nil }
func (b *submitBroker) SubmitMarketOrder(_ context.Context, _ string, in models.OrderIntent) (models.OrderResult, error) {
	b.got = append(b.got, in)
	return b.result, b.err
}

func levelSet(prices map[float64]float64) models.FibonacciLevelSet {
	set := models.FibonacciLevelSet{Uptrend: true, Prices: prices}
	for r := range prices {
		if r > 1 {
			set.Extensions = append(set.Extensions, r)
		} else {
			set.Retracements = append(set.Retracements, r)
		}
	}
	return set
}

func fxMeta() models.SymbolMeta {
	return models.SymbolMeta{Symbol: "EURUSD", Point: 0.0001, VolumeMin: 0.01, VolumeMax: 100, VolumeStep: 0.01, TickValue: 1}
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestFormatQtyRespectsStep(t *testing.T) {
	om := &OrderManager{}
	if got := om.FormatQty(0.1234, 0.001); got != "0.123" {
		t.Fatalf("FormatQty wrong rounding: %s", got)
	}
	if got := om.FormatQty(2, 1); got != "2" {
		t.Fatalf("FormatQty whole number expected, got %s", got)
	}
}

func TestStopLossSelection(t *testing.T) {
	levels := levelSet(map[float64]float64{0.382: 106.18, 0.5: 105, 0.618: 103.82, 1.272: 112.72})

	cases := []struct {
		name string
		sig  models.Signal
		want float64
	}{
		{"buy highest below trigger", models.Signal{Side: models.Buy, TriggerPrice: 106.18}, 105},
		{"buy fallback", models.Signal{Side: models.Buy, TriggerPrice: 103.82}, 103.82 * 0.99},
		{"sell lowest above trigger", models.Signal{Side: models.Sell, TriggerPrice: 103.82}, 105},
		{"sell fallback", models.Signal{Side: models.Sell, TriggerPrice: 112.72}, 112.72 * 1.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := StopLoss(tc.sig, levels); !near(got, tc.want) {
				t.Fatalf("got %.6f want %.6f", got, tc.want)
			}
		})
	}
}

func TestTakeProfitSelection(t *testing.T) {
	buy := models.Signal{Side: models.Buy, TriggerPrice: 100, Price: 100}
	withTarget := levelSet(map[float64]float64{0.5: 100, 1.272: 130, 1.618: 150})
	if got := TakeProfit(buy, withTarget); got != 130 {
		t.Fatalf("buy target got %.4f want 130", got)
	}
	tooClose := levelSet(map[float64]float64{0.5: 100, 1.272: 120})
	if got := TakeProfit(buy, tooClose); !near(got, 127.2) {
		t.Fatalf("buy fallback got %.4f want 127.2", got)
	}

	sell := models.Signal{Side: models.Sell, TriggerPrice: 100, Price: 100}
	down := levelSet(map[float64]float64{0.5: 100, 1.272: 70, 1.618: 60})
	if got := TakeProfit(sell, down); got != 70 {
		t.Fatalf("sell target got %.4f want 70", got)
	}
	if got := TakeProfit(sell, levelSet(map[float64]float64{0.5: 100, 1.272: 80})); !near(got, 72.8) {
		t.Fatalf("sell fallback got %.4f want 72.8", got)
	}
}

func TestRewardRisk(t *testing.T) {
	rr, ok := RewardRisk(100, 99, 103)
	if !ok || !near(rr, 3) {
		t.Fatalf("rr got %.4f ok=%v", rr, ok)
	}
	if _, ok := RewardRisk(100, 100, 110); ok {
		t.Fatal("zero stop distance must not be ok")
	}
}

func TestVolume(t *testing.T) {
	cases := []struct {
		name   string
		equity float64
		risk   float64
		stop   float64
		meta   func(*models.SymbolMeta)
		want   float64
	}{
		{"exact", 10000, 2, 0.0050, nil, 4},
		{"rounded to step", 10000, 1, 0.0030, nil, 3.33},
		{"clamped to max", 10000, 2, 0.0050, func(m *models.SymbolMeta) { m.VolumeMax = 3 }, 3},
		{"raised to min", 100, 1, 0.0500, nil, 0.01},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			meta := fxMeta()
			if tc.meta != nil {
				tc.meta(&meta)
			}
			got, err := Volume(tc.equity, tc.risk, tc.stop, meta)
			if err != nil {
				t.Fatalf("Volume: %v", err)
			}
			if !near(got, tc.want) {
				t.Fatalf("got %.6f want %.6f", got, tc.want)
			}
		})
	}

	if _, err := Volume(10000, 2, 0.005, models.SymbolMeta{}); err == nil {
		t.Fatal("expected error without point/tick value")
	}
}

func TestPrepareBuy(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	om := NewOrderManager(&submitBroker{}, cfg, 0.1, nopLogger{})

	levels := levelSet(map[float64]float64{0.382: 1.1020, 0.5: 1.1000, 0.618: 1.0980, 1.272: 1.1400})
	sig := models.Signal{Side: models.Buy, Ratio: 0.5, TriggerPrice: 1.1000, Price: 1.1000}
	tick := models.Tick{Bid: 1.0999, Ask: 1.1001}

	plan, reason := om.Prepare(sig, levels, 10000, fxMeta(), tick)
	if reason != models.RejectNone {
		t.Fatalf("unexpected reject %q", reason)
	}
	in := plan.Intent
	if in.Entry != tick.Ask || in.Side != models.Buy {
		t.Fatalf("buy should enter at ask, got %+v", in)
	}
	if in.StopLoss != 1.0980 {
		t.Fatalf("stop got %.5f", in.StopLoss)
	}
	if !near(in.TakeProfit, 1.1000*1.272) {
		t.Fatalf("target got %.5f", in.TakeProfit)
	}
	// 200 risk / (20 points * 1.0)
	if !near(in.Volume, 10) {
		t.Fatalf("volume got %.4f", in.Volume)
	}
	if in.Deviation != 10 || in.Magic != 123456 || in.Comment != "Fibonacci Strategy" {
		t.Fatalf("unexpected order metadata %+v", in)
	}
	if plan.RewardRisk < cfg.MinRRRatio {
		t.Fatalf("rr %.2f below minimum", plan.RewardRisk)
	}
}

func TestPrepareSellEntersAtBid(t *testing.T) {
	om := NewOrderManager(&submitBroker{}, config.DefaultStrategyConfig(), 0.1, nopLogger{})
	levels := levelSet(map[float64]float64{0.5: 100, 0.618: 101, 1.618: 60})
	sig := models.Signal{Side: models.Sell, TriggerPrice: 100, Price: 100}
	meta := models.SymbolMeta{Symbol: "XAUUSD", Point: 0.01, VolumeMin: 0.01, VolumeMax: 50, VolumeStep: 0.01, TickValue: 1}

	plan, reason := om.Prepare(sig, levels, 10000, meta, models.Tick{Bid: 99.98, Ask: 100.02})
	if reason != models.RejectNone {
		t.Fatalf("unexpected reject %q", reason)
	}
	if plan.Intent.Entry != 99.98 || plan.Intent.StopLoss != 101 || plan.Intent.TakeProfit != 60 {
		t.Fatalf("unexpected sell plan %+v", plan.Intent)
	}
}

func TestPrepareRejections(t *testing.T) {
	log := &warnLogger{}
	om := NewOrderManager(&submitBroker{}, config.DefaultStrategyConfig(), 0, log)
	tick := models.Tick{Bid: 99.9, Ask: 100.1}

	wide := levelSet(map[float64]float64{0.236: 80, 0.5: 100})
	sig := models.Signal{Side: models.Buy, TriggerPrice: 100, Price: 100}
	if _, reason := om.Prepare(sig, wide, 10000, fxMeta(), tick); reason != models.RejectRewardRisk {
		t.Fatalf("expected reward_risk reject, got %q", reason)
	}
	if !strings.Contains(log.last(), "Reward/risk too low") {
		t.Fatalf("reward/risk reject must warn, got %q", log.warnings)
	}

	zero := levelSet(map[float64]float64{0.5: 100, 0.618: 99.95})
	sig = models.Signal{Side: models.Buy, TriggerPrice: 100, Price: 99.95}
	if _, reason := om.Prepare(sig, zero, 10000, fxMeta(), tick); reason != models.RejectZeroStop {
		t.Fatalf("expected zero_stop reject, got %q", reason)
	}
	if !strings.Contains(log.last(), "equals price") {
		t.Fatalf("zero stop reject must warn, got %q", log.warnings)
	}

	ok := levelSet(map[float64]float64{0.5: 100, 0.618: 99})
	sig = models.Signal{Side: models.Buy, TriggerPrice: 100, Price: 100}
	if _, reason := om.Prepare(sig, ok, 10000, models.SymbolMeta{}, tick); reason != models.RejectVolume {
		t.Fatalf("expected volume reject without metadata, got %q", reason)
	}
	if !strings.Contains(log.last(), "Cannot size order") {
		t.Fatalf("volume reject must warn, got %q", log.warnings)
	}
	if len(log.warnings) != 3 {
		t.Fatalf("expected one warning per rejection, got %q", log.warnings)
	}
}

func TestPrepareFallsBackToBaseLot(t *testing.T) {
	om := NewOrderManager(&submitBroker{}, config.DefaultStrategyConfig(), 0.25, nopLogger{})
	levels := levelSet(map[float64]float64{0.5: 100, 0.618: 99})
	sig := models.Signal{Side: models.Buy, TriggerPrice: 100, Price: 100}
	meta := models.SymbolMeta{VolumeMin: 0.01, VolumeMax: 10, VolumeStep: 0.01}

	plan, reason := om.Prepare(sig, levels, 10000, meta, models.Tick{Ask: 100})
	if reason != models.RejectNone || plan.Intent.Volume != 0.25 {
		t.Fatalf("expected base lot, got %q %+v", reason, plan.Intent)
	}
}

func TestPlaceOrderMarket(t *testing.T) {
	b := &submitBroker{result: models.OrderResult{Success: true, OrderID: "42"}}
	om := NewOrderManager(b, config.DefaultStrategyConfig(), 0.1, nopLogger{})
	intent := models.OrderIntent{Side: models.Buy, Entry: 1.1, StopLoss: 1.09, TakeProfit: 1.2, Volume: 0.1}

	res, err := om.PlaceOrderMarket(context.Background(), "EURUSD", intent)
	if err != nil || res.OrderID != "42" {
		t.Fatalf("PlaceOrderMarket: %+v %v", res, err)
	}
	if len(b.got) != 1 || b.got[0] != intent {
		t.Fatalf("broker did not receive intent: %+v", b.got)
	}

	b.result = models.OrderResult{Success: false, Reason: "market closed"}
	if _, err := om.PlaceOrderMarket(context.Background(), "EURUSD", intent); err == nil {
		t.Fatal("expected rejection error")
	}

	b.err = errors.New("timeout")
	if _, err := om.PlaceOrderMarket(context.Background(), "EURUSD", intent); err == nil {
		t.Fatal("expected transport error")
	}

	if _, err := om.PlaceOrderMarket(context.Background(), "EURUSD", models.OrderIntent{}); err == nil {
		t.Fatal("expected invalid side error")
	}
}
