package indicators

import (
	"math"
)

// SMA calculates Simple Moving Average
func SMA(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range data {
		sum += v
	}
	return sum / float64(len(data))
}

// SMAWithPeriod calculates Simple Moving Average over the last period values
func SMAWithPeriod(data []float64, period int) float64 {
	if len(data) < period || period <= 0 {
		return 0
	}
	return SMA(data[len(data)-period:])
}

// rsiFrom converts smoothed averages into an RSI value.
// A zero average loss yields RS = 0 and therefore RSI = 0.
func rsiFrom(avgGain, avgLoss float64) float64 {
	rs := 0.0
	if avgLoss != 0 {
		rs = avgGain / avgLoss
	}
	return 100 - 100/(1+rs)
}

// RSI calculates the Wilder-smoothed Relative Strength Index series.
// out[i] is NaN until i == length; nil is returned when src is too short.
func RSI(src []float64, length int) []float64 {
	if length <= 0 || len(src) < length+1 {
		return nil
	}
	out := make([]float64, len(src))
	for i := 0; i < length; i++ {
		out[i] = math.NaN()
	}
	var gain, loss float64
	for i := 1; i <= length; i++ {
		delta := src[i] - src[i-1]
		if delta > 0 {
			gain += delta
		} else {
			loss -= delta
		}
	}
	avgGain := gain / float64(length)
	avgLoss := loss / float64(length)
	out[length] = rsiFrom(avgGain, avgLoss)

	for i := length + 1; i < len(src); i++ {
		delta := src[i] - src[i-1]
		g, l := 0.0, 0.0
		if delta > 0 {
			g = delta
		} else {
			l = -delta
		}
		avgGain = (avgGain*float64(length-1) + g) / float64(length)
		avgLoss = (avgLoss*float64(length-1) + l) / float64(length)
		out[i] = rsiFrom(avgGain, avgLoss)
	}
	return out
}

// LastRSI returns the final RSI value of the series
func LastRSI(src []float64, length int) (float64, bool) {
	series := RSI(src, length)
	if len(series) == 0 {
		return 0, false
	}
	return series[len(series)-1], true
}

// MaxSlice returns the maximum value in a slice
func MaxSlice(arr []float64) float64 {
	if len(arr) == 0 {
		return 0
	}
	max := arr[0]
	for _, v := range arr[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// MinSlice returns the minimum value in a slice
func MinSlice(arr []float64) float64 {
	if len(arr) == 0 {
		return 0
	}
	min := arr[0]
	for _, v := range arr[1:] {
		if v < min {
			min = v
		}
	}
	return min
}

// PercentChange returns (last-first)/first*100
func PercentChange(closes []float64) float64 {
	if len(closes) < 2 || closes[0] == 0 {
		return 0
	}
	return (closes[len(closes)-1] - closes[0]) / closes[0] * 100
}

// HigherCloseRatio returns the fraction of closes strictly above their predecessor
func HigherCloseRatio(closes []float64) float64 {
	if len(closes) < 2 {
		return 0
	}
	up := 0
	for i := 1; i < len(closes); i++ {
		if closes[i] > closes[i-1] {
			up++
		}
	}
	return float64(up) / float64(len(closes)-1)
}
