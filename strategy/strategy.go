package strategy

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"fibonacci-trader/config"
	"fibonacci-trader/indicators"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/internal/constants"
	"fibonacci-trader/internal/utils"
	"fibonacci-trader/logging"
	"fibonacci-trader/metrics"
	"fibonacci-trader/models"
	"fibonacci-trader/order"
	"fibonacci-trader/position"
)

// Strategy runs the trend/Fibonacci pipeline for one instrument
type Strategy struct {
	Symbol          string
	Timeframe       string
	LotBase         float64
	Config          config.StrategyConfig
	Broker          interfaces.Broker
	OrderManager    *order.OrderManager
	PositionManager *position.PositionManager
	Logger          logging.LoggerInterface

	// Now is the clock used for intervals and trading hours
	Now func() time.Time
	// OnUpdate receives a snapshot after every completed tick
	OnUpdate func(models.StrategySnapshot)

	// guard serialises evaluate-and-maybe-trade
	guard sync.Mutex

	mu          sync.RWMutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	startedAt   time.Time
	startEquity float64
	lastEval    time.Time
	lastTrade   time.Time
	ticket      string
	ticks       uint64
	lastErr     string
	indicators  *models.IndicatorSnapshot
	signal      *models.SignalSnapshot
	order       *models.OrderSnapshot
}

// NewStrategy creates a stopped strategy. cfg is copied.
func NewStrategy(symbol, timeframe string, lot float64, cfg config.StrategyConfig, broker interfaces.Broker, logger logging.LoggerInterface) *Strategy {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	timeframe = strings.ToUpper(strings.TrimSpace(timeframe))
	cfg.RetracementRatios = append([]float64(nil), cfg.RetracementRatios...)
	cfg.ExtensionRatios = append([]float64(nil), cfg.ExtensionRatios...)

	log := logger.ForAsset(symbol)
	return &Strategy{
		Symbol:          symbol,
		Timeframe:       timeframe,
		LotBase:         lot,
		Config:          cfg,
		Broker:          broker,
		OrderManager:    order.NewOrderManager(broker, cfg, lot, log),
		PositionManager: position.NewPositionManager(broker, cfg, log),
		Logger:          log,
		Now:             time.Now,
	}
}

func (s *Strategy) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Strategy) callCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Config.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Config.CallTimeout)
}

// Start validates the instrument, captures starting equity and launches the
// polling loop. The loop stops when Stop is called or ctx is cancelled.
func (s *Strategy) Start(ctx context.Context) error {
	if s.Symbol == "" {
		return fmt.Errorf("%w: empty", ErrInvalidSymbol)
	}
	if !utils.ValidTimeframe(s.Timeframe) {
		return fmt.Errorf("%w: %q", ErrInvalidTimeframe, s.Timeframe)
	}
	if s.LotBase <= 0 {
		return fmt.Errorf("lot must be positive, got %.4f", s.LotBase)
	}
	if err := s.Config.Validate(); err != nil {
		return fmt.Errorf("invalid strategy config: %w", err)
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	prev := s.done
	s.mu.Unlock()
	// a previous loop may still be finishing its last tick
	if prev != nil {
		<-prev
	}

	cctx, cancel := s.callCtx(ctx)
	_, err := s.Broker.SymbolMeta(cctx, s.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidSymbol, s.Symbol, err)
	}

	equity, err := s.PositionManager.Equity(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBroker, err)
	}

	loopCtx, loopCancel := context.WithCancel(ctx)
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		loopCancel()
		return ErrAlreadyRunning
	}
	s.running = true
	s.cancel = loopCancel
	s.done = make(chan struct{})
	s.startedAt = s.now()
	s.startEquity = equity
	s.lastErr = ""
	done := s.done
	s.mu.Unlock()

	s.Logger.Info("Starting Fibonacci strategy on %s (lot %.2f, start equity %.2f)", s.Timeframe, s.LotBase, equity)
	go s.run(loopCtx, done)
	return nil
}

// Stop clears the running flag and cancels the loop. A tick in flight
// completes before the loop exits; use Done to wait for it.
func (s *Strategy) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.Logger.Info("Stop requested")
	return nil
}

// Done is closed when the loop has exited. It is nil before the first Start.
func (s *Strategy) Done() <-chan struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.done
}

// Running reports whether the loop is active
func (s *Strategy) Running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Ticket returns the id of the last successfully submitted order
func (s *Strategy) Ticket() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ticket
}

func (s *Strategy) run(ctx context.Context, done chan struct{}) {
	metrics.Running.Inc()
	defer func() {
		metrics.Running.Dec()
		s.mu.Lock()
		if s.done == done {
			s.running = false
		}
		s.mu.Unlock()
		close(done)
		s.Logger.Info("Strategy stopped")
	}()

	for {
		if ctx.Err() != nil || !s.Running() {
			return
		}

		wait := s.Config.PollInterval
		// an in-flight tick always runs to completion
		if cooldown := s.safeTick(context.WithoutCancel(ctx)); cooldown {
			wait = s.Config.ErrorCooldown
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// safeTick runs one tick, turning failures into log lines. It reports
// whether the loop should back off for the error cooldown.
func (s *Strategy) safeTick(ctx context.Context) (cooldown bool) {
	defer func() {
		if r := recover(); r != nil {
			s.Logger.Error("Strategy error: %v\n%s", r, debug.Stack())
			metrics.TickErrors.WithLabelValues(s.Symbol, "panic").Inc()
			s.setError(fmt.Sprint(r))
			cooldown = true
		}
		s.publish()
	}()

	err := s.Tick(ctx)
	switch {
	case err == nil:
		s.setError("")
		return false
	case errors.Is(err, ErrInsufficientData):
		s.Logger.Error("Insufficient data: %v", err)
		metrics.TickErrors.WithLabelValues(s.Symbol, "data").Inc()
	case errors.Is(err, ErrBroker):
		s.Logger.Error("Broker error: %v", err)
		metrics.TickErrors.WithLabelValues(s.Symbol, "broker").Inc()
	default:
		s.Logger.Error("Strategy error: %v", err)
		metrics.TickErrors.WithLabelValues(s.Symbol, "unexpected").Inc()
		cooldown = true
	}
	s.setError(err.Error())
	return cooldown
}

func (s *Strategy) setError(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}

func (s *Strategy) publish() {
	if s.OnUpdate == nil {
		return
	}
	s.OnUpdate(s.Snapshot())
}

func (s *Strategy) inTradingHours(now time.Time) bool {
	th := s.Config.TradingHours
	if !th.Enabled {
		return true
	}
	open, err := config.ParseClock(th.Open)
	if err != nil {
		return true
	}
	closeAt, err := config.ParseClock(th.Close)
	if err != nil {
		return true
	}
	m := now.Hour()*60 + now.Minute()
	if open <= closeAt {
		return m >= open && m < closeAt
	}
	// overnight session
	return m >= open || m < closeAt
}

// requiredBars is the smallest window a tick evaluates, whether or not the
// MA filter is enabled
func (s *Strategy) requiredBars() int {
	return max(constants.MinBars, s.Config.MAPeriod, s.Config.FibPeriod, s.Config.RSIPeriod+1)
}

// Tick runs one evaluation: fetch bars, classify trend, compute levels and
// confirmations, and submit an order when a qualified signal passes the
// risk gate. Ticks on one strategy never overlap.
func (s *Strategy) Tick(ctx context.Context) error {
	s.guard.Lock()
	defer s.guard.Unlock()

	started := time.Now()
	defer func() {
		metrics.TickDuration.WithLabelValues(s.Symbol).Observe(time.Since(started).Seconds())
	}()

	now := s.now()
	if !s.inTradingHours(now) {
		s.Logger.Debug("Outside trading hours %s-%s, skipping", s.Config.TradingHours.Open, s.Config.TradingHours.Close)
		return nil
	}

	s.mu.Lock()
	if s.Config.MinEvalInterval > 0 && !s.lastEval.IsZero() && now.Sub(s.lastEval) < s.Config.MinEvalInterval {
		s.mu.Unlock()
		return nil
	}
	s.lastEval = now
	s.ticks++
	s.mu.Unlock()
	metrics.Ticks.WithLabelValues(s.Symbol).Inc()

	cctx, cancel := s.callCtx(ctx)
	bars, err := s.Broker.FetchBars(cctx, s.Symbol, s.Timeframe, s.Config.BarCount)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: fetch bars: %v", ErrBroker, err)
	}
	if need := s.requiredBars(); len(bars) < need {
		return fmt.Errorf("%w: %d bars for %s, need %d", ErrInsufficientData, len(bars), s.Symbol, need)
	}

	closes := bars.Closes()
	price := closes[len(closes)-1]

	trend, err := ClassifyTrend(bars.Last(s.Config.FibPeriod), s.Config.MinTrendPercent)
	if err != nil {
		return err
	}
	s.Logger.Info("Change: %.2f%% | Trend strength: %.2f", trend.ChangePercent, trend.Strength)
	metrics.Trend.WithLabelValues(s.Symbol).Set(metrics.TrendValue(string(trend.Trend)))

	rsi, ok := indicators.LastRSI(closes, s.Config.RSIPeriod)
	if !ok {
		return fmt.Errorf("%w: rsi(%d) over %d closes", ErrInsufficientData, s.Config.RSIPeriod, len(closes))
	}
	metrics.RSI.WithLabelValues(s.Symbol).Set(rsi)

	ma, err := MAFilter(closes, trend.Trend, s.Config.MAPeriod, s.Config.UseMAFilter)
	if err != nil {
		return fmt.Errorf("ma(%d): %w", s.Config.MAPeriod, err)
	}

	snap := &models.IndicatorSnapshot{
		Time:     bars[len(bars)-1].Time,
		Close:    price,
		RSI:      rsi,
		MA:       ma.Value,
		MAPassed: ma.Passed,
		Trend:    trend,
	}

	if trend.Trend == models.Range {
		s.setIndicators(snap)
		s.Logger.Info("No clear trend. Waiting for a directional move")
		return nil
	}

	levels := FibonacciLevels(trend.SwingHigh, trend.SwingLow, trend.Trend == models.Uptrend,
		s.Config.RetracementRatios, s.Config.ExtensionRatios)
	snap.Levels = levels.Levels()
	s.setIndicators(snap)

	s.Logger.Info("Trend: %s", trend.Trend)
	for _, lvl := range snap.Levels {
		s.Logger.Debug("  %.1f%%: %.5f", lvl.Ratio*100, lvl.Price)
	}
	s.Logger.Info("MA%d filter: %s (close %.5f, ma %.5f)", s.Config.MAPeriod, passLabel(ma.Passed), price, ma.Value)

	eval := EvaluateSignal(price, trend, levels, rsi, ma.Passed, s.Config)
	if len(eval.Touched) == 0 {
		s.Logger.Info("Waiting for price to reach a Fibonacci level (price %.5f)", price)
		return nil
	}
	for _, lvl := range eval.Touched {
		s.Logger.Info("Price near %.1f%% level %.5f", lvl.Ratio*100, lvl.Price)
	}
	if eval.Signal == nil {
		s.Logger.Info("Level touched without confirmation (trend %s, RSI %.2f, MA %s)", trend.Trend, rsi, passLabel(ma.Passed))
		return nil
	}

	sig := *eval.Signal
	s.Logger.Info("%s conditions met at %.1f%%: RSI %.2f", sig.Side, sig.Ratio*100, sig.RSI)
	metrics.Signals.WithLabelValues(s.Symbol, string(sig.Side)).Inc()
	s.mu.Lock()
	s.signal = &models.SignalSnapshot{
		Side:         sig.Side,
		Ratio:        sig.Ratio,
		TriggerPrice: sig.TriggerPrice,
		Price:        sig.Price,
		RSI:          sig.RSI,
		Time:         now,
	}
	s.mu.Unlock()

	return s.enter(ctx, sig, levels, now)
}

func passLabel(ok bool) string {
	if ok {
		return "passed"
	}
	return "failed"
}

func (s *Strategy) setIndicators(snap *models.IndicatorSnapshot) {
	s.mu.Lock()
	s.indicators = snap
	s.mu.Unlock()
}

func (s *Strategy) reject(reason models.RejectReason) {
	metrics.Rejections.WithLabelValues(s.Symbol, string(reason)).Inc()
}

// enter applies the trade interval and risk gate, sizes the order and
// submits it. Rejections are logged warnings, not errors.
func (s *Strategy) enter(ctx context.Context, sig models.Signal, levels models.FibonacciLevelSet, now time.Time) error {
	s.mu.RLock()
	lastTrade, startEquity := s.lastTrade, s.startEquity
	s.mu.RUnlock()

	if s.Config.MinTradeInterval > 0 && !lastTrade.IsZero() && now.Sub(lastTrade) < s.Config.MinTradeInterval {
		s.Logger.Warning("Last order %s ago, minimum interval %s", now.Sub(lastTrade).Round(time.Second), s.Config.MinTradeInterval)
		s.reject(models.RejectTradeInterval)
		return nil
	}

	gate, err := s.PositionManager.CanOpen(ctx, s.Symbol, startEquity)
	if err != nil {
		return fmt.Errorf("%w: risk gate: %v", ErrBroker, err)
	}
	if !gate.Allowed {
		s.reject(gate.Reason)
		return nil
	}

	cctx, cancel := s.callCtx(ctx)
	meta, err := s.Broker.SymbolMeta(cctx, s.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: symbol info: %v", ErrBroker, err)
	}
	cctx, cancel = s.callCtx(ctx)
	tick, err := s.Broker.CurrentTick(cctx, s.Symbol)
	cancel()
	if err != nil {
		return fmt.Errorf("%w: tick: %v", ErrBroker, err)
	}

	plan, reason := s.OrderManager.Prepare(sig, levels, gate.Equity, meta, tick)
	if reason != models.RejectNone {
		s.reject(reason)
		return nil
	}

	in := plan.Intent
	s.Logger.Info("Executing %s: entry %.5f SL %.5f TP %.5f RR %.2f volume %s",
		in.Side, in.Entry, in.StopLoss, in.TakeProfit, plan.RewardRisk, utils.FormatQuantityToString(in.Volume, meta.VolumeStep))

	res, err := s.OrderManager.PlaceOrderMarket(ctx, s.Symbol, in)
	if err != nil {
		metrics.Orders.WithLabelValues(s.Symbol, string(in.Side), "failed").Inc()
		return fmt.Errorf("%w: submit: %v", ErrBroker, err)
	}
	metrics.Orders.WithLabelValues(s.Symbol, string(in.Side), "ok").Inc()

	s.mu.Lock()
	s.ticket = res.OrderID
	s.lastTrade = now
	s.order = &models.OrderSnapshot{
		Ticket:     res.OrderID,
		Side:       in.Side,
		Volume:     in.Volume,
		Entry:      in.Entry,
		StopLoss:   in.StopLoss,
		TakeProfit: in.TakeProfit,
		RewardRisk: plan.RewardRisk,
		UpdatedAt:  now,
	}
	s.mu.Unlock()
	s.Logger.Info("Order executed: %s lots, ticket %s", utils.FormatQuantityToString(in.Volume, meta.VolumeStep), res.OrderID)
	return nil
}

// Snapshot returns a copy of the externally visible state
func (s *Strategy) Snapshot() models.StrategySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := models.StrategySnapshot{
		Symbol:         s.Symbol,
		Timeframe:      s.Timeframe,
		LotBase:        s.LotBase,
		Running:        s.running,
		StartedAt:      s.startedAt,
		StartEquity:    s.startEquity,
		LastEvaluation: s.lastEval,
		Ticks:          s.ticks,
		LastError:      s.lastErr,
	}
	if s.indicators != nil {
		ind := *s.indicators
		ind.Levels = append([]models.Level(nil), s.indicators.Levels...)
		snap.Indicators = &ind
	}
	if s.signal != nil {
		sig := *s.signal
		snap.Signal = &sig
	}
	if s.order != nil {
		o := *s.order
		snap.Order = &o
	}
	return snap
}
