package constants

// Order sides
const (
	Buy  = "BUY"
	Sell = "SELL"
)

// Timeframes accepted by the terminal
const (
	Minute1  = "M1"
	Minute5  = "M5"
	Minute15 = "M15"
	Minute30 = "M30"
	Hour1    = "H1"
	Hour4    = "H4"
	Day1     = "D1"
)

// Timeframes lists every supported timeframe in ascending duration
var Timeframes = []string{Minute1, Minute5, Minute15, Minute30, Hour1, Hour4, Day1}

// Default strategy values
const (
	DefaultFibPeriod       = 20
	DefaultMinTrendPercent = 2.0
	DefaultRSIPeriod       = 14
	DefaultRSIOverbought   = 70.0
	DefaultRSIOversold     = 30.0
	DefaultMAPeriod        = 200
	DefaultBarCount        = 200
	DefaultTouchTolerance  = 0.001

	// MinBars is the smallest window a tick evaluates
	MinBars = 200
)

// Classifier thresholds on the fraction of higher closes
const (
	UptrendStrength   = 0.6
	DowntrendStrength = 0.4
)

// Target ratio gates and fallbacks relative to the trigger level
const (
	BuyTargetRatio   = 1.272
	SellTargetRatio  = 0.728
	BuyStopFallback  = 0.99
	SellStopFallback = 1.01
)

// Risk management
const (
	DefaultRiskPercent  = 2.0
	DefaultMaxPositions = 1
	DefaultMinRRRatio   = 2.0
	DefaultDeviation    = 10
	DefaultMagic        = 123456
	OrderComment        = "Fibonacci Strategy"
)
