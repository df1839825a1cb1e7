package utils

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fibonacci-trader/internal/constants"
)

// FormatPrice rounds a price to the specified point size
func FormatPrice(price, point float64) float64 {
	if point > 0 {
		return math.Round(price/point) * point
	}
	return price
}

// Decimals returns the number of fractional digits implied by a step size
func Decimals(step float64) int {
	if step <= 0 {
		return 2
	}
	return max(0, -int(decimal.NewFromFloat(step).Exponent()))
}

// FormatPriceToString formats a price with the precision of the point size
func FormatPriceToString(price, point float64) string {
	return strconv.FormatFloat(price, 'f', Decimals(point), 64)
}

// RoundToStep rounds qty to the nearest multiple of step using decimal
// arithmetic so the result is an exact multiple once formatted.
func RoundToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	n := decimal.NewFromFloat(qty).Div(s).Round(0)
	return n.Mul(s).InexactFloat64()
}

// FloorToStep truncates qty down to a multiple of step
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	s := decimal.NewFromFloat(step)
	n := decimal.NewFromFloat(qty).Div(s).Floor()
	return n.Mul(s).InexactFloat64()
}

// ClampVolume rounds to step and clamps into [volMin, volMax]
func ClampVolume(qty, step, volMin, volMax float64) float64 {
	v := RoundToStep(qty, step)
	if volMin > 0 && v < volMin {
		v = volMin
	}
	if volMax > 0 && v > volMax {
		v = FloorToStep(volMax, step)
	}
	return v
}

// FormatQuantityToString formats a quantity with step size precision
func FormatQuantityToString(qty, step float64) string {
	return strconv.FormatFloat(qty, 'f', Decimals(step), 64)
}

// NormalizeSide normalizes a side to BUY/SELL
func NormalizeSide(side string) string {
	switch strings.ToUpper(strings.TrimSpace(side)) {
	case "BUY", "LONG", "COMPRA":
		return constants.Buy
	case "SELL", "SHORT", "VENDA":
		return constants.Sell
	default:
		return ""
	}
}

// ValidTimeframe reports whether tf is one of the supported timeframes
func ValidTimeframe(tf string) bool {
	for _, t := range constants.Timeframes {
		if t == tf {
			return true
		}
	}
	return false
}

// TimeframeDuration returns the bar length of a timeframe, or 0 if unknown
func TimeframeDuration(tf string) time.Duration {
	switch tf {
	case constants.Minute1:
		return time.Minute
	case constants.Minute5:
		return 5 * time.Minute
	case constants.Minute15:
		return 15 * time.Minute
	case constants.Minute30:
		return 30 * time.Minute
	case constants.Hour1:
		return time.Hour
	case constants.Hour4:
		return 4 * time.Hour
	case constants.Day1:
		return 24 * time.Hour
	default:
		return 0
	}
}
