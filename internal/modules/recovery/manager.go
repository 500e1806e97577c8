// Package recovery hedges losing positions with layered trades in correlated
// pairs, escalating layer size until the combined book turns profitable or a
// time budget expires.
package recovery

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
)

// targetProfitFactor sizes the recovery target relative to the loss at
// activation.
const targetProfitFactor = 1.2

// maxChainHistory bounds the completed/failed chain history
const maxChainHistory = 100

// ChainStatus is the lifecycle state of a recovery chain
type ChainStatus string

const (
	ChainActive    ChainStatus = "active"
	ChainCompleted ChainStatus = "completed"
	ChainFailed    ChainStatus = "failed"
)

// Config holds the recovery policy
type Config struct {
	MaxLayers          int
	Multiplier         float64
	MaxDrawdownTrigger float64 // percent of position value
	MaxRecoveryTime    time.Duration
	MinLot             float64
	LotStep            float64
}

// Layer is one hedge position in a recovery chain
type Layer struct {
	Ticket     int64       `json:"ticket"`
	Symbol     string      `json:"symbol"`
	Side       domain.Side `json:"side"`
	Volume     float64     `json:"volume"`
	LayerIndex int         `json:"layer_index"`
	OpenedAt   time.Time   `json:"opened_at"`
}

// Chain tracks one losing position and the hedge layers opened against it
type Chain struct {
	ID               string      `json:"id"`
	OriginalTicket   int64       `json:"original_ticket"`
	OriginalSymbol   string      `json:"original_symbol"`
	OriginalSide     domain.Side `json:"original_side"`
	OriginalVolume   float64     `json:"original_volume"`
	LossAtActivation float64     `json:"loss_at_activation"`
	TargetProfit     float64     `json:"target_profit"`
	Status           ChainStatus `json:"status"`
	Layers           []Layer     `json:"layers"`
	ActivatedAt      time.Time   `json:"activated_at"`
	ResolvedAt       time.Time   `json:"resolved_at,omitempty"`
	NetProfit        float64     `json:"net_profit"`
}

// Status is a snapshot of the recovery manager for the control plane
type Status struct {
	ActiveChains     []Chain `json:"active_chains"`
	TotalActivations int     `json:"total_activations"`
	Completed        int     `json:"completed"`
	Failed           int     `json:"failed"`
	SuccessRate      float64 `json:"success_rate"`
}

// Manager monitors positions for excessive drawdown and runs recovery chains.
// All orders go through the execution coordinator.
type Manager struct {
	cfg      Config
	coord    *execution.Coordinator
	tracker  *CorrelationTracker
	clock    domain.Clock
	events   *events.Manager
	log      zerolog.Logger

	mu          sync.Mutex
	chains      map[string]*Chain // keyed by original symbol
	history     []Chain
	activations int
	completed   int
	failed      int
}

// NewManager creates a recovery manager
func NewManager(cfg Config, coord *execution.Coordinator, tracker *CorrelationTracker, clock domain.Clock, eventManager *events.Manager, log zerolog.Logger) *Manager {
	return &Manager{
		cfg:     cfg,
		coord:   coord,
		tracker: tracker,
		clock:   clock,
		events:  eventManager,
		log:     log.With().Str("component", "recovery").Logger(),
		chains:  make(map[string]*Chain),
	}
}

// drawdownPercent expresses a position's floating loss relative to its
// notional open value.
func drawdownPercent(pos domain.Position) float64 {
	notional := pos.Volume * pos.OpenPrice
	if notional <= 0 {
		return 0
	}
	return math.Abs(pos.Profit) / notional * 100
}

// ShouldActivate reports whether a position's drawdown warrants a recovery
// chain. Recovery is disabled entirely when MaxLayers is zero, and at most
// one chain runs per symbol.
func (m *Manager) ShouldActivate(pos domain.Position) bool {
	if m.cfg.MaxLayers <= 0 {
		return false
	}
	if pos.Profit >= 0 {
		return false
	}
	m.mu.Lock()
	_, active := m.chains[pos.Symbol]
	m.mu.Unlock()
	if active {
		return false
	}
	return drawdownPercent(pos) > m.cfg.MaxDrawdownTrigger
}

// hedgeSide picks the hedge direction: positively correlated pairs are traded
// in the original direction, negatively correlated ones opposite.
func hedgeSide(original domain.Side, correlation float64) domain.Side {
	if correlation >= 0 {
		return original
	}
	return original.Opposite()
}

// layerVolume sizes a hedge layer from the original volume and layer index
// (indexed from 1), rounded down to the lot grid and floored at the minimum.
func (m *Manager) layerVolume(originalVolume float64, layerIndex int) float64 {
	raw := originalVolume * math.Pow(m.cfg.Multiplier, float64(layerIndex))
	stepped := math.Floor(raw/m.cfg.LotStep+1e-9) * m.cfg.LotStep
	if stepped < m.cfg.MinLot {
		return m.cfg.MinLot
	}
	return stepped
}

// Activate opens a recovery chain for a losing position: every eligible
// correlated candidate gets its own hedge layer, up to the layer budget.
func (m *Manager) Activate(ctx context.Context, pos domain.Position) (*Chain, error) {
	candidates := m.tracker.Candidates(pos.Symbol)
	if len(candidates) == 0 {
		return nil, &domain.ExecutionError{Symbol: pos.Symbol, Reason: "no correlated hedge candidate"}
	}
	if len(candidates) > m.cfg.MaxLayers {
		candidates = candidates[:m.cfg.MaxLayers]
	}

	chain := &Chain{
		ID:               uuid.NewString(),
		OriginalTicket:   pos.Ticket,
		OriginalSymbol:   pos.Symbol,
		OriginalSide:     pos.Side,
		OriginalVolume:   pos.Volume,
		LossAtActivation: pos.Profit,
		TargetProfit:     targetProfitFactor * math.Abs(pos.Profit),
		Status:           ChainActive,
		ActivatedAt:      m.clock.Now(),
	}

	hedges := make([]string, 0, len(candidates))
	for _, candidate := range candidates {
		if err := m.openLayer(ctx, chain, candidate); err != nil {
			m.log.Warn().Err(err).Str("hedge", candidate.Symbol).Msg("Failed to open recovery layer")
			continue
		}
		hedges = append(hedges, candidate.Symbol)
	}
	if len(chain.Layers) == 0 {
		return nil, &domain.ExecutionError{Symbol: pos.Symbol, Reason: "no recovery layer could be opened"}
	}

	m.mu.Lock()
	m.chains[pos.Symbol] = chain
	m.activations++
	m.mu.Unlock()

	m.events.Emit(events.RecoveryActivated, "recovery", map[string]interface{}{
		"chain_id":      chain.ID,
		"symbol":        pos.Symbol,
		"loss":          pos.Profit,
		"target_profit": chain.TargetProfit,
		"hedges":        hedges,
	})
	return chain, nil
}

// openLayer opens the next hedge layer on a chain
func (m *Manager) openLayer(ctx context.Context, chain *Chain, candidate HedgeCandidate) error {
	index := len(chain.Layers) + 1
	volume := m.layerVolume(chain.OriginalVolume, index)
	side := hedgeSide(chain.OriginalSide, candidate.Correlation)

	result, err := m.coord.OpenPosition(ctx, candidate.Symbol, side, volume, "recovery", "layer "+chain.ID[:8])
	if err != nil {
		return err
	}

	chain.Layers = append(chain.Layers, Layer{
		Ticket:     result.Ticket,
		Symbol:     candidate.Symbol,
		Side:       side,
		Volume:     volume,
		LayerIndex: index,
		OpenedAt:   m.clock.Now(),
	})

	m.log.Info().
		Str("chain_id", chain.ID).
		Str("hedge", candidate.Symbol).
		Int("layer", index).
		Float64("volume", volume).
		Float64("correlation", candidate.Correlation).
		Msg("Recovery layer opened")
	return nil
}

// chainNetProfit sums the floating P&L of the original position and all
// layers still present in the book.
func chainNetProfit(chain *Chain, book map[int64]domain.Position) float64 {
	var net float64
	if pos, ok := book[chain.OriginalTicket]; ok {
		net += pos.Profit
	}
	for _, layer := range chain.Layers {
		if pos, ok := book[layer.Ticket]; ok {
			net += pos.Profit
		}
	}
	return net
}

// Tick advances every active chain against the current position book:
// profitable chains are completed and expired chains are failed. Layers are
// only opened at activation; a chain never grows afterwards.
func (m *Manager) Tick(ctx context.Context, positions []domain.Position) {
	book := make(map[int64]domain.Position, len(positions))
	for _, pos := range positions {
		book[pos.Ticket] = pos
	}

	// Scan for new activations first.
	for _, pos := range positions {
		if pos.StrategyTag == "recovery" {
			continue
		}
		if m.ShouldActivate(pos) {
			if _, err := m.Activate(ctx, pos); err != nil {
				m.log.Warn().Err(err).Str("symbol", pos.Symbol).Msg("Recovery activation failed")
			}
		}
	}

	m.mu.Lock()
	active := make([]*Chain, 0, len(m.chains))
	for _, chain := range m.chains {
		active = append(active, chain)
	}
	m.mu.Unlock()

	now := m.clock.Now()
	for _, chain := range active {
		net := chainNetProfit(chain, book)
		chain.NetProfit = net

		switch {
		case net > 0:
			m.resolve(ctx, chain, ChainCompleted, book)
		case now.Sub(chain.ActivatedAt) > m.cfg.MaxRecoveryTime:
			err := &domain.RecoveryTimeoutError{Symbol: chain.OriginalSymbol, Elapsed: now.Sub(chain.ActivatedAt).Seconds()}
			m.log.Error().Err(err).Str("chain_id", chain.ID).Msg("Recovery chain timed out")
			m.resolve(ctx, chain, ChainFailed, book)
		}
	}
}

// resolve closes all hedge layers and retires the chain
func (m *Manager) resolve(ctx context.Context, chain *Chain, status ChainStatus, book map[int64]domain.Position) {
	for _, layer := range chain.Layers {
		pos, ok := book[layer.Ticket]
		if !ok {
			continue
		}
		if _, err := m.coord.ClosePosition(ctx, pos, 0, "recovery "+string(status)); err != nil {
			m.log.Error().Err(err).Int64("ticket", layer.Ticket).Msg("Failed to close recovery layer")
		}
	}

	chain.Status = status
	chain.ResolvedAt = m.clock.Now()

	m.mu.Lock()
	delete(m.chains, chain.OriginalSymbol)
	m.history = append(m.history, *chain)
	if len(m.history) > maxChainHistory {
		m.history = m.history[len(m.history)-maxChainHistory:]
	}
	if status == ChainCompleted {
		m.completed++
	} else {
		m.failed++
	}
	m.mu.Unlock()

	eventType := events.RecoveryCompleted
	if status == ChainFailed {
		eventType = events.RecoveryFailed
	}
	m.events.Emit(eventType, "recovery", map[string]interface{}{
		"chain_id":   chain.ID,
		"symbol":     chain.OriginalSymbol,
		"net_profit": chain.NetProfit,
		"layers":     len(chain.Layers),
	})
}

// ForceCompleteAll closes every active chain's layers, used on shutdown
func (m *Manager) ForceCompleteAll(ctx context.Context, positions []domain.Position) {
	book := make(map[int64]domain.Position, len(positions))
	for _, pos := range positions {
		book[pos.Ticket] = pos
	}

	m.mu.Lock()
	active := make([]*Chain, 0, len(m.chains))
	for _, chain := range m.chains {
		active = append(active, chain)
	}
	m.mu.Unlock()

	for _, chain := range active {
		chain.NetProfit = chainNetProfit(chain, book)
		m.resolve(ctx, chain, ChainCompleted, book)
	}
}

// ActiveChain returns the active chain for a symbol, if any
func (m *Manager) ActiveChain(symbol string) (Chain, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	chain, ok := m.chains[symbol]
	if !ok {
		return Chain{}, false
	}
	return *chain, true
}

// Status returns a snapshot for the control plane
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	status := Status{
		ActiveChains:     make([]Chain, 0, len(m.chains)),
		TotalActivations: m.activations,
		Completed:        m.completed,
		Failed:           m.failed,
	}
	for _, chain := range m.chains {
		status.ActiveChains = append(status.ActiveChains, *chain)
	}
	if resolved := m.completed + m.failed; resolved > 0 {
		status.SuccessRate = float64(m.completed) / float64(resolved) * 100
	}
	return status
}
