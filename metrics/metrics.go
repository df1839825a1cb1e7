// Package metrics holds the Prometheus series updated by running strategies.
//
//   - fib_ticks_total{symbol}                 evaluation ticks run
//   - fib_tick_errors_total{symbol,kind}      failed ticks (data|broker|panic)
//   - fib_signals_total{symbol,side}          signals produced by the evaluator
//   - fib_rejections_total{symbol,reason}     risk-gate rejections
//   - fib_orders_total{symbol,side,result}    submissions (ok|failed)
//   - fib_trend{symbol}                       1 uptrend, -1 downtrend, 0 range
//   - fib_rsi{symbol}                         last RSI
//   - fib_equity                              account equity
//   - fib_running_strategies                  instances in RUNNING state
//   - fib_tick_duration_seconds{symbol}       tick wall time
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	Ticks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fib_ticks_total",
			Help: "Evaluation ticks run",
		},
		[]string{"symbol"},
	)

	TickErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fib_tick_errors_total",
			Help: "Ticks that ended in an error, by kind",
		},
		[]string{"symbol", "kind"},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fib_signals_total",
			Help: "Signals produced by the evaluator",
		},
		[]string{"symbol", "side"},
	)

	Rejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fib_rejections_total",
			Help: "Risk-gate rejections by reason",
		},
		[]string{"symbol", "reason"},
	)

	Orders = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fib_orders_total",
			Help: "Market orders submitted",
		},
		[]string{"symbol", "side", "result"},
	)

	Trend = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fib_trend",
			Help: "Current trend: 1 uptrend, -1 downtrend, 0 range",
		},
		[]string{"symbol"},
	)

	RSI = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fib_rsi",
			Help: "Last RSI value",
		},
		[]string{"symbol"},
	)

	Equity = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fib_equity",
			Help: "Account equity reported by the broker",
		},
	)

	Running = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "fib_running_strategies",
			Help: "Strategy instances currently running",
		},
	)

	TickDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fib_tick_duration_seconds",
			Help:    "Wall time of one evaluation tick",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"symbol"},
	)
)

func init() {
	prometheus.MustRegister(Ticks, TickErrors, Signals, Rejections, Orders)
	prometheus.MustRegister(Trend, RSI, Equity, Running, TickDuration)
}

// TrendValue maps a trend label to the gauge encoding
func TrendValue(trend string) float64 {
	switch trend {
	case "UPTREND":
		return 1
	case "DOWNTREND":
		return -1
	default:
		return 0
	}
}
