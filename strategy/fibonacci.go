package strategy

import "fibonacci-trader/models"

// FibonacciLevels projects retracement and extension ratios onto the swing
// range. In an uptrend retracements hang below the high and extensions sit
// above it; a downtrend mirrors this around the low. Callers pass high >= low.
func FibonacciLevels(high, low float64, uptrend bool, retracements, extensions []float64) models.FibonacciLevelSet {
	span := high - low
	set := models.FibonacciLevelSet{
		Uptrend:      uptrend,
		Retracements: append([]float64(nil), retracements...),
		Extensions:   append([]float64(nil), extensions...),
		Prices:       make(map[float64]float64, len(retracements)+len(extensions)),
	}

	for _, r := range retracements {
		if uptrend {
			set.Prices[r] = high - span*r
		} else {
			set.Prices[r] = low + span*r
		}
	}
	for _, e := range extensions {
		if uptrend {
			set.Prices[e] = high + span*(e-1)
		} else {
			set.Prices[e] = low - span*(e-1)
		}
	}
	return set
}
