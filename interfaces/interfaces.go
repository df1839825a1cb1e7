package interfaces

import (
	"context"

	"fibonacci-trader/models"
)

// Broker defines the market-data and execution surface the strategy needs.
// Implementations must be safe for concurrent use by several strategies.
type Broker interface {
	Name() string
	FetchBars(ctx context.Context, symbol, timeframe string, count int) (models.BarWindow, error)
	CurrentTick(ctx context.Context, symbol string) (models.Tick, error)
	SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error)
	AccountEquity(ctx context.Context) (float64, error)
	OpenPositionCount(ctx context.Context, symbol string) (int, error)
	SubmitMarketOrder(ctx context.Context, symbol string, intent models.OrderIntent) (models.OrderResult, error)
	Symbols(ctx context.Context) ([]string, error)
}

// StrategyController starts and stops per-instrument strategies
type StrategyController interface {
	Start(symbol, timeframe string, lot float64) error
	Stop(symbol string) error
	Snapshots() []models.StrategySnapshot
}
