package strategy

import (
	"errors"
	"math"
	"testing"

	"fibonacci-trader/config"
	"fibonacci-trader/models"
)

func barsFromCloses(closes ...float64) models.BarWindow {
	out := make(models.BarWindow, len(closes))
	for i, c := range closes {
		out[i] = models.Bar{Open: c, High: c, Low: c, Close: c}
	}
	return out
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestClassifyTrend(t *testing.T) {
	cases := []struct {
		name   string
		closes []float64
		want   models.Trend
	}{
		{"steady rise", []float64{100, 101, 102, 103, 104, 105}, models.Uptrend},
		{"steady fall", []float64{105, 104, 103, 102, 101, 100}, models.Downtrend},
		{"flat", []float64{100, 100, 100, 100}, models.Range},
		{"rise below threshold", []float64{100, 100.5, 101, 101.5}, models.Range},
		// 6 of 10 higher closes is not strictly above 0.6
		{"strength at boundary", []float64{100, 105, 110, 115, 120, 125, 130, 129, 128, 127, 126}, models.Range},
		{"big fall with strong bounces", []float64{100, 101, 102, 103, 90}, models.Range},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ClassifyTrend(barsFromCloses(tc.closes...), 2.0)
			if err != nil {
				t.Fatalf("ClassifyTrend: %v", err)
			}
			if got.Trend != tc.want {
				t.Fatalf("trend %s want %s (change %.2f strength %.2f)", got.Trend, tc.want, got.ChangePercent, got.Strength)
			}
			if got.Trend == models.Range && (got.SwingHigh != 0 || got.SwingLow != 0) {
				t.Fatalf("range should not carry swing extremes: %+v", got)
			}
		})
	}
}

func TestClassifyTrendSwingUsesHighsAndLows(t *testing.T) {
	bars := models.BarWindow{
		{High: 101, Low: 98, Close: 100},
		{High: 103, Low: 99.5, Close: 102},
		{High: 105, Low: 101, Close: 104},
		{High: 107.5, Low: 103, Close: 106},
	}
	got, err := ClassifyTrend(bars, 2.0)
	if err != nil {
		t.Fatalf("ClassifyTrend: %v", err)
	}
	if got.Trend != models.Uptrend || got.SwingHigh != 107.5 || got.SwingLow != 98 {
		t.Fatalf("unexpected state %+v", got)
	}
	if !approx(got.ChangePercent, 6) || got.Strength != 1 {
		t.Fatalf("unexpected statistics %+v", got)
	}
}

func TestClassifyTrendInsufficientData(t *testing.T) {
	if _, err := ClassifyTrend(barsFromCloses(100), 2.0); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
	if _, err := ClassifyTrend(nil, 2.0); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestFibonacciLevels(t *testing.T) {
	ret := []float64{0.382, 0.5, 0.618}
	ext := []float64{1.272, 1.618}

	up := FibonacciLevels(110, 100, true, ret, ext)
	wantUp := map[float64]float64{0.382: 106.18, 0.5: 105, 0.618: 103.82, 1.272: 112.72, 1.618: 116.18}
	for r, want := range wantUp {
		if got, _ := up.Price(r); !approx(got, want) {
			t.Fatalf("uptrend %.3f got %.5f want %.5f", r, got, want)
		}
	}

	down := FibonacciLevels(110, 100, false, ret, ext)
	wantDown := map[float64]float64{0.382: 103.82, 0.5: 105, 0.618: 106.18, 1.272: 97.28, 1.618: 93.82}
	for r, want := range wantDown {
		if got, _ := down.Price(r); !approx(got, want) {
			t.Fatalf("downtrend %.3f got %.5f want %.5f", r, got, want)
		}
	}

	// retracements stay inside the swing, extensions leave it
	for _, set := range []models.FibonacciLevelSet{up, down} {
		for _, lvl := range set.Levels() {
			inside := lvl.Price >= 100 && lvl.Price <= 110
			if lvl.Extension == inside {
				t.Fatalf("level %+v on wrong side of swing (uptrend=%v)", lvl, set.Uptrend)
			}
		}
	}

	again := FibonacciLevels(110, 100, true, ret, ext)
	for r := range up.Prices {
		if up.Prices[r] != again.Prices[r] {
			t.Fatal("levels are not deterministic")
		}
	}
}

func TestMAFilter(t *testing.T) {
	rising := []float64{1, 2, 3, 4, 5}
	falling := []float64{5, 4, 3, 2, 1}

	cases := []struct {
		name    string
		closes  []float64
		trend   models.Trend
		enabled bool
		want    bool
	}{
		{"uptrend above ma", rising, models.Uptrend, true, true},
		{"uptrend below ma", falling, models.Uptrend, true, false},
		{"downtrend below ma", falling, models.Downtrend, true, true},
		{"downtrend above ma", rising, models.Downtrend, true, false},
		{"range never passes", rising, models.Range, true, false},
		{"disabled always passes", falling, models.Uptrend, false, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := MAFilter(tc.closes, tc.trend, 5, tc.enabled)
			if err != nil {
				t.Fatalf("MAFilter: %v", err)
			}
			if res.Passed != tc.want {
				t.Fatalf("passed=%v want %v", res.Passed, tc.want)
			}
		})
	}

	if _, err := MAFilter(rising, models.Uptrend, 200, true); !errors.Is(err, ErrInsufficientData) {
		t.Fatalf("expected ErrInsufficientData, got %v", err)
	}
}

func TestEvaluateSignal(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	upLevels := FibonacciLevels(110, 100, true, cfg.RetracementRatios, cfg.ExtensionRatios)
	downLevels := FibonacciLevels(110, 100, false, cfg.RetracementRatios, cfg.ExtensionRatios)
	up := models.TrendState{Trend: models.Uptrend, SwingHigh: 110, SwingLow: 100}
	down := models.TrendState{Trend: models.Downtrend, SwingHigh: 110, SwingLow: 100}

	cases := []struct {
		name     string
		price    float64
		trend    models.TrendState
		levels   models.FibonacciLevelSet
		rsi      float64
		maPass   bool
		wantSide models.Side
		touched  int
	}{
		{"buy at 50%", 105.05, up, upLevels, 25, true, models.Buy, 1},
		{"sell at 61.8%", 106.2, down, downLevels, 75, true, models.Sell, 1},
		{"rsi not oversold", 105, up, upLevels, 35, true, "", 1},
		{"rsi not overbought", 105, down, downLevels, 65, true, "", 1},
		{"ma filter fails", 105, up, upLevels, 25, false, "", 1},
		{"wrong rsi side for downtrend", 105, down, downLevels, 25, true, "", 1},
		{"between levels", 104.5, up, upLevels, 25, true, "", 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ev := EvaluateSignal(tc.price, tc.trend, tc.levels, tc.rsi, tc.maPass, cfg)
			if len(ev.Touched) != tc.touched {
				t.Fatalf("touched %d want %d", len(ev.Touched), tc.touched)
			}
			if tc.wantSide == "" {
				if ev.Signal != nil {
					t.Fatalf("unexpected signal %+v", ev.Signal)
				}
				return
			}
			if ev.Signal == nil || ev.Signal.Side != tc.wantSide {
				t.Fatalf("expected %s signal, got %+v", tc.wantSide, ev.Signal)
			}
			if ev.Signal.Price != tc.price || ev.Signal.RSI != tc.rsi {
				t.Fatalf("signal does not carry inputs: %+v", ev.Signal)
			}
		})
	}
}

func TestEvaluateSignalLowestRatioWins(t *testing.T) {
	cfg := config.DefaultStrategyConfig()
	levels := models.FibonacciLevelSet{
		Uptrend:      true,
		Retracements: []float64{0.618, 0.5, 0.382},
		Prices:       map[float64]float64{0.382: 100.05, 0.5: 100.0, 0.618: 99.95},
	}
	up := models.TrendState{Trend: models.Uptrend}

	ev := EvaluateSignal(100, up, levels, 20, true, cfg)
	if len(ev.Touched) != 3 {
		t.Fatalf("expected all three levels touched, got %+v", ev.Touched)
	}
	if ev.Touched[0].Ratio != 0.382 || ev.Touched[2].Ratio != 0.618 {
		t.Fatalf("touched not in ascending ratio order: %+v", ev.Touched)
	}
	if ev.Signal == nil || ev.Signal.Ratio != 0.382 || ev.Signal.TriggerPrice != 100.05 {
		t.Fatalf("expected 38.2%% level to win, got %+v", ev.Signal)
	}
}

func TestTouchTolerance(t *testing.T) {
	levels := models.FibonacciLevelSet{
		Retracements: []float64{0.5},
		Prices:       map[float64]float64{0.5: 100},
	}
	if got := Touches(100.09, levels, 0.001); len(got) != 1 {
		t.Fatalf("0.09%% away should touch, got %v", got)
	}
	if got := Touches(100.11, levels, 0.001); len(got) != 0 {
		t.Fatalf("0.11%% away should not touch, got %v", got)
	}
	if got := Touches(99.89, levels, 0.001); len(got) != 0 {
		t.Fatalf("0.11%% below should not touch, got %v", got)
	}
}
