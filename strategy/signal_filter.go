package strategy

import (
	"math"
	"sort"

	"fibonacci-trader/config"
	"fibonacci-trader/indicators"
	"fibonacci-trader/models"
)

// MAResult is the outcome of the moving-average filter
type MAResult struct {
	Value  float64
	Passed bool
}

// MAFilter confirms the trend against the simple moving average of closes.
// UPTREND passes only above the average, DOWNTREND only below, RANGE never.
// With the filter disabled every trend passes.
func MAFilter(closes []float64, trend models.Trend, period int, enabled bool) (MAResult, error) {
	if !enabled {
		return MAResult{Passed: true}, nil
	}
	if period <= 0 || len(closes) < period {
		return MAResult{}, ErrInsufficientData
	}
	ma := indicators.SMAWithPeriod(closes, period)
	last := closes[len(closes)-1]

	res := MAResult{Value: ma}
	switch trend {
	case models.Uptrend:
		res.Passed = last > ma
	case models.Downtrend:
		res.Passed = last < ma
	}
	return res, nil
}

// Evaluation is what the evaluator decided on one tick
type Evaluation struct {
	Signal  *models.Signal
	Touched []models.Level
}

// Touches returns the retracement levels within tolerance of price,
// in ascending ratio order
func Touches(price float64, levels models.FibonacciLevelSet, tolerance float64) []models.Level {
	ratios := append([]float64(nil), levels.Retracements...)
	sort.Float64s(ratios)

	var out []models.Level
	for _, r := range ratios {
		lvl, ok := levels.Price(r)
		if !ok || lvl == 0 {
			continue
		}
		if math.Abs(price-lvl)/lvl < tolerance {
			out = append(out, models.Level{Ratio: r, Price: lvl})
		}
	}
	return out
}

// EvaluateSignal walks the touched retracements from the lowest ratio and
// returns the first one that the trend, RSI and MA confirmations qualify.
// Touched levels are always reported, qualified or not.
func EvaluateSignal(price float64, trend models.TrendState, levels models.FibonacciLevelSet, rsi float64, maPass bool, cfg config.StrategyConfig) Evaluation {
	eval := Evaluation{Touched: Touches(price, levels, cfg.TouchTolerance)}
	if !maPass {
		return eval
	}

	for _, lvl := range eval.Touched {
		var side models.Side
		switch {
		case trend.Trend == models.Uptrend && rsi < cfg.RSIOversold:
			side = models.Buy
		case trend.Trend == models.Downtrend && rsi > cfg.RSIOverbought:
			side = models.Sell
		default:
			continue
		}
		eval.Signal = &models.Signal{
			Side:         side,
			Ratio:        lvl.Ratio,
			TriggerPrice: lvl.Price,
			Price:        price,
			RSI:          rsi,
		}
		break
	}
	return eval
}
