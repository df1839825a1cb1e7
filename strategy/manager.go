package strategy

import (
	"context"
	"sort"
	"strings"
	"sync"

	"fibonacci-trader/config"
	"fibonacci-trader/interfaces"
	"fibonacci-trader/logging"
	"fibonacci-trader/models"
)

// Manager owns at most one running strategy per instrument
type Manager struct {
	ctx    context.Context
	broker interfaces.Broker
	config config.StrategyConfig
	logger logging.LoggerInterface

	// OnUpdate is attached to every strategy the manager starts
	OnUpdate func(models.StrategySnapshot)

	mu         sync.Mutex
	strategies map[string]*Strategy
	starting   map[string]bool
}

var _ interfaces.StrategyController = (*Manager)(nil)

// NewManager creates a manager whose strategies live until ctx is done
func NewManager(ctx context.Context, broker interfaces.Broker, cfg config.StrategyConfig, logger logging.LoggerInterface) *Manager {
	return &Manager{
		ctx:        ctx,
		broker:     broker,
		config:     cfg,
		logger:     logger,
		strategies: make(map[string]*Strategy),
		starting:   make(map[string]bool),
	}
}

// Start launches a strategy for symbol. A symbol that is already running
// or starting is refused. A stopped one is replaced once its loop has
// exited. Broker calls made while starting run outside the manager lock.
func (m *Manager) Start(symbol, timeframe string, lot float64) error {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	m.mu.Lock()
	old, ok := m.strategies[key]
	if m.starting[key] || (ok && old.Running()) {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.starting[key] = true
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.starting, key)
		m.mu.Unlock()
	}()

	// the previous instance may still be finishing its last tick
	if ok {
		if done := old.Done(); done != nil {
			select {
			case <-done:
			case <-m.ctx.Done():
				return m.ctx.Err()
			}
		}
	}

	s := NewStrategy(key, timeframe, lot, m.config, m.broker, m.logger)
	s.OnUpdate = m.OnUpdate
	if err := s.Start(m.ctx); err != nil {
		m.logger.Error("Failed to start %s %s: %v", key, timeframe, err)
		return err
	}

	m.mu.Lock()
	m.strategies[key] = s
	m.mu.Unlock()
	return nil
}

// Stop stops the strategy for symbol and waits for its loop to exit
func (m *Manager) Stop(symbol string) error {
	key := strings.ToUpper(strings.TrimSpace(symbol))

	m.mu.Lock()
	s, ok := m.strategies[key]
	m.mu.Unlock()
	if !ok {
		return ErrNotRunning
	}
	if err := s.Stop(); err != nil {
		return err
	}
	if done := s.Done(); done != nil {
		<-done
	}
	return nil
}

// StopAll stops every running strategy and waits for all loops to exit
func (m *Manager) StopAll() {
	m.mu.Lock()
	all := make([]*Strategy, 0, len(m.strategies))
	for _, s := range m.strategies {
		all = append(all, s)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, s := range all {
		if err := s.Stop(); err != nil {
			continue
		}
		wg.Add(1)
		go func(s *Strategy) {
			defer wg.Done()
			if done := s.Done(); done != nil {
				<-done
			}
		}(s)
	}
	wg.Wait()
}

// Get returns the strategy registered for symbol
func (m *Manager) Get(symbol string) (*Strategy, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.strategies[strings.ToUpper(strings.TrimSpace(symbol))]
	return s, ok
}

// Snapshots returns the state of every known strategy, ordered by symbol
func (m *Manager) Snapshots() []models.StrategySnapshot {
	m.mu.Lock()
	out := make([]models.StrategySnapshot, 0, len(m.strategies))
	for _, s := range m.strategies {
		out = append(out, s.Snapshot())
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
