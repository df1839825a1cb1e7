package order

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"fibonacci-trader/config"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/internal/constants"
	"fibonacci-trader/internal/utils"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

// OrderManager turns a signal into a sized, bracketed market order
type OrderManager struct {
	Broker  interfaces.Broker
	Config  config.StrategyConfig
	LotBase float64
	Logger  logging.LoggerInterface
}

// NewOrderManager creates a new order manager
func NewOrderManager(broker interfaces.Broker, cfg config.StrategyConfig, lotBase float64, logger logging.LoggerInterface) *OrderManager {
	return &OrderManager{
		Broker:  broker,
		Config:  cfg,
		LotBase: lotBase,
		Logger:  logger,
	}
}

// Plan is a fully priced order awaiting submission
type Plan struct {
	Intent       models.OrderIntent
	StopDistance float64
	RewardRisk   float64
}

// FormatQty formats quantity according to instrument step
func (om *OrderManager) FormatQty(qty, step float64) string {
	return strconv.FormatFloat(utils.FloorToStep(qty, step), 'f', utils.Decimals(step), 64)
}

// StopLoss picks the nearest level beyond the trigger on the losing side.
// BUY takes the highest level strictly below, SELL the lowest strictly above.
func StopLoss(sig models.Signal, levels models.FibonacciLevelSet) float64 {
	prices := levels.AllPrices()
	if sig.Side == models.Buy {
		for i := len(prices) - 1; i >= 0; i-- {
			if prices[i] < sig.TriggerPrice {
				return prices[i]
			}
		}
		return sig.TriggerPrice * constants.BuyStopFallback
	}
	for _, p := range prices {
		if p > sig.TriggerPrice {
			return p
		}
	}
	return sig.TriggerPrice * constants.SellStopFallback
}

// TakeProfit picks the nearest level past price that is far enough from the
// trigger. BUY requires level/trigger > 1.272, SELL requires < 0.728.
func TakeProfit(sig models.Signal, levels models.FibonacciLevelSet) float64 {
	prices := levels.AllPrices()
	if sig.Side == models.Buy {
		for _, p := range prices {
			if p > sig.Price && p/sig.TriggerPrice > constants.BuyTargetRatio {
				return p
			}
		}
		return sig.Price * constants.BuyTargetRatio
	}
	for i := len(prices) - 1; i >= 0; i-- {
		p := prices[i]
		if p < sig.Price && p/sig.TriggerPrice < constants.SellTargetRatio {
			return p
		}
	}
	return sig.Price * constants.SellTargetRatio
}

// RewardRisk returns |price-target| / |price-stop|; ok is false when the
// stop distance is zero.
func RewardRisk(price, stop, target float64) (rr float64, ok bool) {
	risk := math.Abs(price - stop)
	if risk == 0 {
		return 0, false
	}
	return math.Abs(price-target) / risk, true
}

// Volume sizes the position so that a stop-out loses riskPercent of equity.
// The result is rounded to the volume step and clamped to the symbol limits.
func Volume(equity, riskPercent, stopDistance float64, meta models.SymbolMeta) (float64, error) {
	if meta.Point <= 0 || meta.TickValue <= 0 {
		return 0, fmt.Errorf("symbol %s has no point or tick value", meta.Symbol)
	}
	points := stopDistance / meta.Point
	if points <= 0 {
		return 0, fmt.Errorf("non-positive stop distance %.8f", stopDistance)
	}
	riskAmount := equity * riskPercent / 100
	raw := riskAmount / (points * meta.TickValue)
	return utils.ClampVolume(raw, meta.VolumeStep, meta.VolumeMin, meta.VolumeMax), nil
}

// Prepare prices and sizes an order for the signal. A non-empty reject
// reason means the order must not be sent.
func (om *OrderManager) Prepare(sig models.Signal, levels models.FibonacciLevelSet, equity float64, meta models.SymbolMeta, tick models.Tick) (Plan, models.RejectReason) {
	stop := StopLoss(sig, levels)
	target := TakeProfit(sig, levels)

	rr, ok := RewardRisk(sig.Price, stop, target)
	if !ok {
		om.Logger.Warning("Stop %.5f equals price, order rejected", stop)
		return Plan{}, models.RejectZeroStop
	}
	if rr < om.Config.MinRRRatio {
		om.Logger.Warning("Reward/risk too low: %.2f < %.2f (stop %.5f, target %.5f)", rr, om.Config.MinRRRatio, stop, target)
		return Plan{RewardRisk: rr}, models.RejectRewardRisk
	}
	om.Logger.Info("Reward/risk: %.2f (stop %.5f, target %.5f)", rr, stop, target)

	stopDistance := math.Abs(sig.Price - stop)
	volume, err := Volume(equity, om.Config.RiskPercent, stopDistance, meta)
	if err != nil {
		if om.LotBase <= 0 {
			om.Logger.Warning("Cannot size order: %v", err)
			return Plan{RewardRisk: rr}, models.RejectVolume
		}
		om.Logger.Warning("Risk sizing unavailable (%v), using base lot %.2f", err, om.LotBase)
		volume = utils.ClampVolume(om.LotBase, meta.VolumeStep, meta.VolumeMin, meta.VolumeMax)
	}
	if volume <= 0 {
		om.Logger.Warning("Computed volume is zero, order rejected")
		return Plan{RewardRisk: rr}, models.RejectVolume
	}

	entry := tick.Ask
	if sig.Side == models.Sell {
		entry = tick.Bid
	}

	return Plan{
		Intent: models.OrderIntent{
			Side:       sig.Side,
			Entry:      entry,
			StopLoss:   stop,
			TakeProfit: target,
			Volume:     volume,
			Deviation:  om.Config.Deviation,
			Magic:      om.Config.Magic,
			Comment:    constants.OrderComment,
		},
		StopDistance: stopDistance,
		RewardRisk:   rr,
	}, models.RejectNone
}

// PlaceOrderMarket sends the intent to the broker. A broker refusal is
// returned as an error carrying the broker's reason.
func (om *OrderManager) PlaceOrderMarket(ctx context.Context, symbol string, intent models.OrderIntent) (models.OrderResult, error) {
	if intent.Side != models.Buy && intent.Side != models.Sell {
		return models.OrderResult{}, fmt.Errorf("invalid side: %q", intent.Side)
	}
	om.Logger.Info("Sending %s market order: %s lots @ %.5f SL %.5f TP %.5f",
		intent.Side, strconv.FormatFloat(intent.Volume, 'f', -1, 64), intent.Entry, intent.StopLoss, intent.TakeProfit)

	if om.Config.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, om.Config.CallTimeout)
		defer cancel()
	}
	res, err := om.Broker.SubmitMarketOrder(ctx, symbol, intent)
	if err != nil {
		om.Logger.Error("Failed to send market order to %s: %v", om.Broker.Name(), err)
		return res, err
	}
	if !res.Success {
		om.Logger.Error("Market order rejected: %s", res.Reason)
		return res, fmt.Errorf("order rejected: %s", res.Reason)
	}
	om.Logger.Info("Market order id: %s", res.OrderID)
	return res, nil
}
