// Package broker holds the in-process paper broker.
//
// The paper broker replays bars per symbol (from CSV or a seeded synthetic
// walk), advancing one bar per FetchBars call. Market orders fill at the
// quoted ask/bid and close when a later bar crosses their stop or target;
// equity is the realised balance plus open positions marked at the last close.
package broker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fibonacci-trader/internal/utils"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

// ErrUnknownSymbol is returned for symbols the broker has no feed for
var ErrUnknownSymbol = errors.New("unknown symbol")

// PaperConfig describes the simulated account and instruments
type PaperConfig struct {
	Equity       float64
	Point        float64
	TickValue    float64
	SpreadPoints float64
	VolumeMin    float64
	VolumeMax    float64
	VolumeStep   float64
	StartPrice   float64
	Seed         int64
	History      int    // synthetic bars generated up front
	Timeframe    string // spacing of synthetic bars
	Symbols      []string
}

type feed struct {
	bars      []models.Bar
	cursor    int // index of the current bar
	synthetic bool
	step      time.Duration
}

type paperPosition struct {
	id     string
	symbol string
	intent models.OrderIntent
	opened time.Time
}

// PaperBroker keeps balances, feeds and open positions in memory
type PaperBroker struct {
	cfg    PaperConfig
	logger logging.LoggerInterface

	mu        sync.Mutex
	rng       *rand.Rand
	balance   float64
	feeds     map[string]*feed
	positions []*paperPosition
	closed    int
}

// NewPaperBroker creates a paper account with a synthetic feed per symbol
func NewPaperBroker(cfg PaperConfig, logger logging.LoggerInterface) *PaperBroker {
	if cfg.History <= 0 {
		cfg.History = 400
	}
	if cfg.StartPrice <= 0 {
		cfg.StartPrice = 1.10
	}
	p := &PaperBroker{
		cfg:     cfg,
		logger:  logger,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		balance: cfg.Equity,
		feeds:   make(map[string]*feed),
	}
	for _, s := range cfg.Symbols {
		p.addSynthetic(strings.ToUpper(s))
	}
	return p
}

func (p *PaperBroker) Name() string { return "paper" }

// LoadBars replaces the feed for symbol with recorded bars. Replay starts
// once the first window is available.
func (p *PaperBroker) LoadBars(symbol string, bars []models.Bar, window int) error {
	if len(bars) == 0 {
		return fmt.Errorf("no bars for %s", symbol)
	}
	if window <= 0 || window > len(bars) {
		window = len(bars)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.feeds[strings.ToUpper(symbol)] = &feed{
		bars:   append([]models.Bar(nil), bars...),
		cursor: window - 1,
	}
	return nil
}

func (p *PaperBroker) addSynthetic(symbol string) {
	step := utils.TimeframeDuration(p.cfg.Timeframe)
	if step == 0 {
		step = 15 * time.Minute
	}
	f := &feed{synthetic: true, step: step}
	start := time.Now().UTC().Truncate(f.step).Add(-time.Duration(p.cfg.History) * f.step)
	price := p.cfg.StartPrice
	for i := 0; i < p.cfg.History; i++ {
		bar := p.nextBar(price, i, start.Add(time.Duration(i)*f.step))
		f.bars = append(f.bars, bar)
		price = bar.Close
	}
	f.cursor = len(f.bars) - 1
	p.feeds[symbol] = f
}

// nextBar draws a bar from a drifting random walk; the drift flips slowly
// so the series alternates between trends and ranges.
func (p *PaperBroker) nextBar(open float64, i int, t time.Time) models.Bar {
	drift := 0.0015 * math.Sin(float64(i)/35)
	vol := 0.002
	closePrice := open * (1 + drift + p.rng.NormFloat64()*vol)
	wick := math.Abs(p.rng.NormFloat64()) * vol * open / 2
	return models.Bar{
		Time:   t,
		Open:   open,
		High:   math.Max(open, closePrice) + wick,
		Low:    math.Min(open, closePrice) - wick,
		Close:  closePrice,
		Volume: math.Round(1000 + p.rng.Float64()*500),
	}
}

// advance moves the feed one bar forward and settles positions against it
func (p *PaperBroker) advance(symbol string, f *feed) {
	if f.cursor+1 >= len(f.bars) {
		if !f.synthetic {
			return
		}
		last := f.bars[len(f.bars)-1]
		f.bars = append(f.bars, p.nextBar(last.Close, len(f.bars), last.Time.Add(f.step)))
	}
	f.cursor++
	p.settle(symbol, f.bars[f.cursor])
}

func (p *PaperBroker) settle(symbol string, bar models.Bar) {
	kept := p.positions[:0]
	for _, pos := range p.positions {
		if pos.symbol != symbol {
			kept = append(kept, pos)
			continue
		}
		exit, reason, hit := exitPrice(pos.intent, bar)
		if !hit {
			kept = append(kept, pos)
			continue
		}
		pnl := p.pnl(pos.intent, exit)
		p.balance += pnl
		p.closed++
		if p.logger != nil {
			p.logger.Info("Paper %s %s closed by %s at %.5f, pnl %.2f, balance %.2f",
				symbol, pos.intent.Side, reason, exit, pnl, p.balance)
		}
	}
	p.positions = kept
}

// exitPrice checks the stop before the target within one bar
func exitPrice(in models.OrderIntent, bar models.Bar) (float64, string, bool) {
	if in.Side == models.Buy {
		if in.StopLoss > 0 && bar.Low <= in.StopLoss {
			return in.StopLoss, "stop_loss", true
		}
		if in.TakeProfit > 0 && bar.High >= in.TakeProfit {
			return in.TakeProfit, "take_profit", true
		}
		return 0, "", false
	}
	if in.StopLoss > 0 && bar.High >= in.StopLoss {
		return in.StopLoss, "stop_loss", true
	}
	if in.TakeProfit > 0 && bar.Low <= in.TakeProfit {
		return in.TakeProfit, "take_profit", true
	}
	return 0, "", false
}

func (p *PaperBroker) pnl(in models.OrderIntent, price float64) float64 {
	if p.cfg.Point <= 0 {
		return 0
	}
	diff := price - in.Entry
	if in.Side == models.Sell {
		diff = -diff
	}
	return diff / p.cfg.Point * p.cfg.TickValue * in.Volume
}

func (p *PaperBroker) feedFor(symbol string) (*feed, error) {
	f, ok := p.feeds[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return f, nil
}

// FetchBars advances the replay by one bar and returns the latest count bars
func (p *PaperBroker) FetchBars(ctx context.Context, symbol, timeframe string, count int) (models.BarWindow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utils.ValidTimeframe(timeframe) {
		return nil, fmt.Errorf("invalid timeframe %q", timeframe)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.feedFor(symbol)
	if err != nil {
		return nil, err
	}
	p.advance(strings.ToUpper(symbol), f)

	end := f.cursor + 1
	start := end - count
	if start < 0 {
		start = 0
	}
	return append(models.BarWindow(nil), f.bars[start:end]...), nil
}

// CurrentTick quotes the last close with the configured spread
func (p *PaperBroker) CurrentTick(ctx context.Context, symbol string) (models.Tick, error) {
	if err := ctx.Err(); err != nil {
		return models.Tick{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	f, err := p.feedFor(symbol)
	if err != nil {
		return models.Tick{}, err
	}
	bar := f.bars[f.cursor]
	half := p.cfg.SpreadPoints * p.cfg.Point / 2
	return models.Tick{
		Bid:  utils.FormatPrice(bar.Close-half, p.cfg.Point),
		Ask:  utils.FormatPrice(bar.Close+half, p.cfg.Point),
		Time: bar.Time,
	}, nil
}

// SymbolMeta returns the configured contract details
func (p *PaperBroker) SymbolMeta(ctx context.Context, symbol string) (models.SymbolMeta, error) {
	if err := ctx.Err(); err != nil {
		return models.SymbolMeta{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, err := p.feedFor(symbol); err != nil {
		return models.SymbolMeta{}, err
	}
	return models.SymbolMeta{
		Symbol:     strings.ToUpper(symbol),
		Point:      p.cfg.Point,
		VolumeMin:  p.cfg.VolumeMin,
		VolumeMax:  p.cfg.VolumeMax,
		VolumeStep: p.cfg.VolumeStep,
		TickValue:  p.cfg.TickValue,
	}, nil
}

// AccountEquity is the balance plus open positions marked to the last close
func (p *PaperBroker) AccountEquity(ctx context.Context) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	equity := p.balance
	for _, pos := range p.positions {
		f := p.feeds[pos.symbol]
		equity += p.pnl(pos.intent, f.bars[f.cursor].Close)
	}
	return equity, nil
}

// OpenPositionCount counts open positions for symbol
func (p *PaperBroker) OpenPositionCount(ctx context.Context, symbol string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	n := 0
	for _, pos := range p.positions {
		if pos.symbol == symbol {
			n++
		}
	}
	return n, nil
}

// SubmitMarketOrder fills at the current quote. Invalid requests are
// refused with Success=false and a reason, as a terminal would.
func (p *PaperBroker) SubmitMarketOrder(ctx context.Context, symbol string, in models.OrderIntent) (models.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return models.OrderResult{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	symbol = strings.ToUpper(symbol)
	f, err := p.feedFor(symbol)
	if err != nil {
		return models.OrderResult{}, err
	}

	bar := f.bars[f.cursor]
	half := p.cfg.SpreadPoints * p.cfg.Point / 2
	fill := bar.Close + half
	if in.Side == models.Sell {
		fill = bar.Close - half
	}
	fill = utils.FormatPrice(fill, p.cfg.Point)

	switch {
	case in.Side != models.Buy && in.Side != models.Sell:
		return models.OrderResult{Reason: fmt.Sprintf("invalid side %q", in.Side)}, nil
	case in.Volume < p.cfg.VolumeMin || (p.cfg.VolumeMax > 0 && in.Volume > p.cfg.VolumeMax):
		return models.OrderResult{Reason: fmt.Sprintf("invalid volume %.2f", in.Volume)}, nil
	case in.Entry > 0 && p.cfg.Point > 0 && math.Abs(fill-in.Entry)/p.cfg.Point > float64(in.Deviation):
		return models.OrderResult{Reason: fmt.Sprintf("requote: price %.5f moved from %.5f", fill, in.Entry)}, nil
	case in.Side == models.Buy && (in.StopLoss >= fill || in.TakeProfit <= fill):
		return models.OrderResult{Reason: "invalid stops"}, nil
	case in.Side == models.Sell && (in.StopLoss <= fill || in.TakeProfit >= fill):
		return models.OrderResult{Reason: "invalid stops"}, nil
	}

	in.Entry = fill
	pos := &paperPosition{
		id:     uuid.New().String(),
		symbol: symbol,
		intent: in,
		opened: bar.Time,
	}
	p.positions = append(p.positions, pos)
	if p.logger != nil {
		p.logger.Info("Paper %s %s %.2f filled at %.5f (SL %.5f TP %.5f) id %s",
			symbol, in.Side, in.Volume, fill, in.StopLoss, in.TakeProfit, pos.id)
	}
	return models.OrderResult{Success: true, OrderID: pos.id}, nil
}

// Symbols lists every symbol with a feed
func (p *PaperBroker) Symbols(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.feeds))
	for s := range p.feeds {
		out = append(out, s)
	}
	sort.Strings(out)
	return out, nil
}

// ClosedTrades returns how many positions have been settled
func (p *PaperBroker) ClosedTrades() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}
