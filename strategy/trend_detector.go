package strategy

import (
	"fmt"

	"fibonacci-trader/indicators"
	"fibonacci-trader/internal/constants"
	"fibonacci-trader/models"
)

// ClassifyTrend labels the window as UPTREND, DOWNTREND or RANGE from the
// net percent change and the share of closes above their predecessor.
// Swing extremes are filled only for a directional trend.
func ClassifyTrend(bars models.BarWindow, minTrendPercent float64) (models.TrendState, error) {
	if len(bars) < 2 {
		return models.TrendState{}, fmt.Errorf("%w: trend needs 2 bars, got %d", ErrInsufficientData, len(bars))
	}
	closes := bars.Closes()
	if closes[0] == 0 {
		return models.TrendState{}, fmt.Errorf("%w: first close is zero", ErrInsufficientData)
	}

	state := models.TrendState{
		Trend:         models.Range,
		ChangePercent: indicators.PercentChange(closes),
		Strength:      indicators.HigherCloseRatio(closes),
	}

	switch {
	case state.ChangePercent > minTrendPercent && state.Strength > constants.UptrendStrength:
		state.Trend = models.Uptrend
	case state.ChangePercent < -minTrendPercent && state.Strength < constants.DowntrendStrength:
		state.Trend = models.Downtrend
	}

	if state.Trend != models.Range {
		state.SwingHigh = indicators.MaxSlice(bars.Highs())
		state.SwingLow = indicators.MinSlice(bars.Lows())
	}
	return state, nil
}
