package models

import (
	"sort"
	"time"
)

// Bar is a single OHLC candle
type Bar struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// BarWindow is an immutable snapshot of bars, most recent last
type BarWindow []Bar

// Closes returns the close prices in window order
func (w BarWindow) Closes() []float64 {
	out := make([]float64, len(w))
	for i, b := range w {
		out[i] = b.Close
	}
	return out
}

// Highs returns the high prices in window order
func (w BarWindow) Highs() []float64 {
	out := make([]float64, len(w))
	for i, b := range w {
		out[i] = b.High
	}
	return out
}

// Lows returns the low prices in window order
func (w BarWindow) Lows() []float64 {
	out := make([]float64, len(w))
	for i, b := range w {
		out[i] = b.Low
	}
	return out
}

// Last returns the most recent n bars (or the whole window if shorter)
func (w BarWindow) Last(n int) BarWindow {
	if n >= len(w) || n < 0 {
		return w
	}
	return w[len(w)-n:]
}

// Trend is the direction label produced by the classifier
type Trend string

const (
	Uptrend   Trend = "UPTREND"
	Downtrend Trend = "DOWNTREND"
	Range     Trend = "RANGE"
)

// TrendState is derived fresh every tick
type TrendState struct {
	Trend         Trend   `json:"trend"`
	SwingHigh     float64 `json:"swingHigh,omitempty"`
	SwingLow      float64 `json:"swingLow,omitempty"`
	ChangePercent float64 `json:"changePercent"`
	Strength      float64 `json:"strength"`
}

// FibonacciLevelSet maps ratio to absolute price
type FibonacciLevelSet struct {
	Uptrend      bool                `json:"uptrend"`
	Retracements []float64           `json:"retracements"`
	Extensions   []float64           `json:"extensions"`
	Prices       map[float64]float64 `json:"-"`
}

// Price returns the price for a ratio
func (s FibonacciLevelSet) Price(ratio float64) (float64, bool) {
	p, ok := s.Prices[ratio]
	return p, ok
}

// AllPrices returns every level price, ascending
func (s FibonacciLevelSet) AllPrices() []float64 {
	out := make([]float64, 0, len(s.Prices))
	for _, p := range s.Prices {
		out = append(out, p)
	}
	sort.Float64s(out)
	return out
}

// Levels returns ratio/price pairs, retracements first, each group in ratio order
func (s FibonacciLevelSet) Levels() []Level {
	out := make([]Level, 0, len(s.Retracements)+len(s.Extensions))
	for _, r := range s.Retracements {
		out = append(out, Level{Ratio: r, Price: s.Prices[r]})
	}
	for _, e := range s.Extensions {
		out = append(out, Level{Ratio: e, Price: s.Prices[e], Extension: true})
	}
	return out
}

// Level is a single ratio/price pair
type Level struct {
	Ratio     float64 `json:"ratio"`
	Price     float64 `json:"price"`
	Extension bool    `json:"extension,omitempty"`
}

// Side is an order direction
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// Signal is the evaluator's decision for one tick
type Signal struct {
	Side         Side    `json:"side"`
	Ratio        float64 `json:"ratio"`
	TriggerPrice float64 `json:"triggerPrice"`
	Price        float64 `json:"price"`
	RSI          float64 `json:"rsi"`
}

// OrderIntent is built by the sizer and consumed once by the broker
type OrderIntent struct {
	Side       Side    `json:"side"`
	Entry      float64 `json:"entry"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
	Volume     float64 `json:"volume"`
	Deviation  int     `json:"deviation"`
	Magic      int     `json:"magic"`
	Comment    string  `json:"comment"`
}

// OrderResult is the broker's answer to a submission
type OrderResult struct {
	Success bool   `json:"success"`
	OrderID string `json:"orderId,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// Tick is the current bid/ask
type Tick struct {
	Bid  float64   `json:"bid"`
	Ask  float64   `json:"ask"`
	Time time.Time `json:"time"`
}

// SymbolMeta holds instrument metadata needed for sizing
type SymbolMeta struct {
	Symbol     string  `json:"symbol"`
	Point      float64 `json:"point"`
	VolumeMin  float64 `json:"volumeMin"`
	VolumeMax  float64 `json:"volumeMax"`
	VolumeStep float64 `json:"volumeStep"`
	TickValue  float64 `json:"tickValue"`
}

// RejectReason labels a risk-gate rejection
type RejectReason string

const (
	RejectNone          RejectReason = ""
	RejectMaxPositions  RejectReason = "max_positions"
	RejectDrawdown      RejectReason = "drawdown"
	RejectRewardRisk    RejectReason = "reward_risk"
	RejectZeroStop      RejectReason = "zero_stop"
	RejectVolume        RejectReason = "volume"
	RejectTradeInterval RejectReason = "trade_interval"
)

// SignalSnapshot holds the latest emitted signal for status reporting.
type SignalSnapshot struct {
	Side         Side      `json:"side"`
	Ratio        float64   `json:"ratio"`
	TriggerPrice float64   `json:"triggerPrice"`
	Price        float64   `json:"price"`
	RSI          float64   `json:"rsi"`
	Time         time.Time `json:"time"`
}

// IndicatorSnapshot holds the latest indicator values for status reporting.
type IndicatorSnapshot struct {
	Time     time.Time  `json:"time"`
	Close    float64    `json:"close"`
	RSI      float64    `json:"rsi"`
	MA       float64    `json:"ma"`
	MAPassed bool       `json:"maPassed"`
	Trend    TrendState `json:"trend"`
	Levels   []Level    `json:"levels,omitempty"`
}

// OrderSnapshot holds the last submitted order for status reporting.
type OrderSnapshot struct {
	Ticket     string    `json:"ticket"`
	Side       Side      `json:"side"`
	Volume     float64   `json:"volume"`
	Entry      float64   `json:"entry"`
	StopLoss   float64   `json:"stopLoss"`
	TakeProfit float64   `json:"takeProfit"`
	RewardRisk float64   `json:"rewardRisk"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// StrategySnapshot is the externally visible state of one running instance.
type StrategySnapshot struct {
	Symbol         string             `json:"symbol"`
	Timeframe      string             `json:"timeframe"`
	LotBase        float64            `json:"lotBase"`
	Running        bool               `json:"running"`
	StartedAt      time.Time          `json:"startedAt"`
	StartEquity    float64            `json:"startEquity"`
	LastEvaluation time.Time          `json:"lastEvaluation,omitempty"`
	Ticks          uint64             `json:"ticks"`
	LastError      string             `json:"lastError,omitempty"`
	Indicators     *IndicatorSnapshot `json:"indicators,omitempty"`
	Signal         *SignalSnapshot    `json:"signal,omitempty"`
	Order          *OrderSnapshot     `json:"order,omitempty"`
}
