package indicators

import (
	"math"
	"testing"
)

func TestSMA(t *testing.T) {
	data := []float64{10, 20, 30, 40, 50}
	result := SMA(data)
	expected := 30.0
	if result != expected {
		t.Errorf("Expected %.1f, got %.2f", expected, result)
	}

	// Test empty slice
	emptyData := []float64{}
	result = SMA(emptyData)
	if result != 0 {
		t.Errorf("Expected 0 for empty slice, got %.2f", result)
	}
}

func TestSMAWithPeriodUsesTail(t *testing.T) {
	data := []float64{1, 2, 3, 4, 5, 6}
	if got := SMAWithPeriod(data, 3); got != 5 {
		t.Errorf("Expected 5, got %.2f", got)
	}
	if got := SMAWithPeriod(data, 10); got != 0 {
		t.Errorf("Expected 0 for short input, got %.2f", got)
	}
}

func TestRSIWithinBounds(t *testing.T) {
	closes := []float64{
		44.34, 44.09, 44.15, 43.61, 44.33, 44.83, 45.10, 45.42,
		45.84, 46.08, 45.89, 46.03, 45.61, 46.28, 46.28, 46.00,
		46.03, 46.41, 46.22, 45.64, 46.21, 46.25, 45.71, 46.45,
	}
	series := RSI(closes, 14)
	if len(series) != len(closes) {
		t.Fatalf("series length %d want %d", len(series), len(closes))
	}
	for i := 0; i < 14; i++ {
		if !math.IsNaN(series[i]) {
			t.Fatalf("expected NaN warmup at %d, got %f", i, series[i])
		}
	}
	for i := 14; i < len(series); i++ {
		if series[i] < 0 || series[i] > 100 {
			t.Fatalf("rsi[%d]=%f out of [0,100]", i, series[i])
		}
	}
	last, ok := LastRSI(closes, 14)
	if !ok || last != series[len(series)-1] {
		t.Fatalf("LastRSI mismatch: %f ok=%v", last, ok)
	}
}

func TestRSISeedMatchesHandComputation(t *testing.T) {
	// deltas: +1, -1, +2 ; period 2 seed: gain 1/2, loss 1/2 -> RSI 50
	// roll: avgGain=(0.5*1+2)/2=1.25 avgLoss=(0.5*1+0)/2=0.25 -> RS 5 -> RSI 83.33
	closes := []float64{10, 11, 10, 12}
	series := RSI(closes, 2)
	if math.Abs(series[2]-50) > 1e-9 {
		t.Fatalf("seed rsi=%f want 50", series[2])
	}
	if math.Abs(series[3]-(100-100/6.0)) > 1e-9 {
		t.Fatalf("rolled rsi=%f want %f", series[3], 100-100/6.0)
	}
}

func TestRSIZeroLossBranch(t *testing.T) {
	closes := []float64{1, 2, 3, 4, 5, 6}
	last, ok := LastRSI(closes, 3)
	if !ok {
		t.Fatalf("expected value")
	}
	if last != 0 {
		t.Fatalf("zero average loss should yield RSI 0, got %f", last)
	}
}

func TestRSIInsufficientData(t *testing.T) {
	if RSI([]float64{1, 2, 3}, 14) != nil {
		t.Fatalf("expected nil for short input")
	}
	if _, ok := LastRSI(nil, 14); ok {
		t.Fatalf("expected ok=false")
	}
}

func TestMaxMinSlice(t *testing.T) {
	data := []float64{1, 5, 3, 9, 2}
	max := MaxSlice(data)
	if max != 9 {
		t.Errorf("Expected max 9, got %.2f", max)
	}

	min := MinSlice(data)
	if min != 1 {
		t.Errorf("Expected min 1, got %.2f", min)
	}

	// Test empty slice
	empty := []float64{}
	max = MaxSlice(empty)
	if max != 0 {
		t.Errorf("Expected 0 for empty max slice, got %.2f", max)
	}

	min = MinSlice(empty)
	if min != 0 {
		t.Errorf("Expected 0 for empty min slice, got %.2f", min)
	}
}

func TestTrendStatistics(t *testing.T) {
	closes := []float64{100, 101, 100.5, 102, 103}
	if got := PercentChange(closes); math.Abs(got-3) > 1e-9 {
		t.Fatalf("PercentChange=%f want 3", got)
	}
	if got := HigherCloseRatio(closes); got != 0.75 {
		t.Fatalf("HigherCloseRatio=%f want 0.75", got)
	}
	if HigherCloseRatio([]float64{1}) != 0 {
		t.Fatalf("expected 0 for single close")
	}
}
