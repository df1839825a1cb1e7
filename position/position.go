package position

import (
	"context"
	"fmt"
	"time"

	"fibonacci-trader/config"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

// PositionManager runs the pre-trade risk gate against live broker state
type PositionManager struct {
	Broker interfaces.Broker
	Config config.StrategyConfig
	Logger logging.LoggerInterface
}

// NewPositionManager creates a new position manager
func NewPositionManager(broker interfaces.Broker, cfg config.StrategyConfig, logger logging.LoggerInterface) *PositionManager {
	return &PositionManager{
		Broker: broker,
		Config: cfg,
		Logger: logger,
	}
}

// Gate is the result of a risk check
type Gate struct {
	Allowed       bool
	Reason        models.RejectReason
	OpenPositions int
	Equity        float64
	Drawdown      float64 // percent of starting equity
}

func (pm *PositionManager) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if pm.Config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, pm.Config.CallTimeout)
}

// OpenPositions reads the number of open positions for symbol
func (pm *PositionManager) OpenPositions(ctx context.Context, symbol string) (int, error) {
	cctx, cancel := pm.callCtx(ctx)
	defer cancel()
	n, err := pm.Broker.OpenPositionCount(cctx, symbol)
	if err != nil {
		return 0, fmt.Errorf("open positions for %s: %w", symbol, err)
	}
	return n, nil
}

// Equity reads current account equity
func (pm *PositionManager) Equity(ctx context.Context) (float64, error) {
	cctx, cancel := pm.callCtx(ctx)
	defer cancel()
	eq, err := pm.Broker.AccountEquity(cctx)
	if err != nil {
		return 0, fmt.Errorf("account equity: %w", err)
	}
	return eq, nil
}

// Drawdown returns the loss from start to current as a percent of start
func Drawdown(start, current float64) float64 {
	if start <= 0 {
		return 0
	}
	return (start - current) * 100 / start
}

// CanOpen rejects when the symbol already holds MaxPositions or when equity
// has fallen more than RiskPercent below startEquity. Both values are read
// fresh from the broker.
func (pm *PositionManager) CanOpen(ctx context.Context, symbol string, startEquity float64) (Gate, error) {
	started := time.Now()
	open, err := pm.OpenPositions(ctx, symbol)
	if err != nil {
		return Gate{}, err
	}
	gate := Gate{OpenPositions: open}
	if open >= pm.Config.MaxPositions {
		pm.Logger.Warning("Max positions reached: %d/%d", open, pm.Config.MaxPositions)
		gate.Reason = models.RejectMaxPositions
		return gate, nil
	}

	equity, err := pm.Equity(ctx)
	if err != nil {
		return gate, err
	}
	gate.Equity = equity
	gate.Drawdown = Drawdown(startEquity, equity)
	if gate.Drawdown > pm.Config.RiskPercent {
		pm.Logger.Warning("Drawdown %.2f%% exceeds limit %.2f%% (start %.2f, now %.2f)",
			gate.Drawdown, pm.Config.RiskPercent, startEquity, equity)
		gate.Reason = models.RejectDrawdown
		return gate, nil
	}

	gate.Allowed = true
	pm.Logger.Debug("Risk gate passed in %s: open=%d equity=%.2f drawdown=%.2f%%", time.Since(started), open, equity, gate.Drawdown)
	return gate, nil
}
