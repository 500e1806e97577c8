// Package engine owns the trading lifecycle: it drives the scan, recovery
// and harvest loops on independent tickers and exposes start/stop/pause
// control to the outer surfaces.
package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/config"
	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/modules/detector"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
	"github.com/arbiphoenix/phoenix/internal/modules/sizing"
)

// State is the engine lifecycle state
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
	StatePaused  State = "paused"
)

// Status is a control-plane snapshot of the engine
type Status struct {
	State              State     `json:"state"`
	StartedAt          time.Time `json:"started_at,omitempty"`
	OpportunitiesFound int64     `json:"opportunities_found"`
	TrianglesExecuted  int64     `json:"triangles_executed"`
	TrianglesFailed    int64     `json:"triangles_failed"`
	SuccessRate        float64   `json:"success_rate"`
	OpenPositions      int       `json:"open_positions"`
	FloatingProfit     float64   `json:"floating_profit"`
}

// Engine wires the detector, sizer, coordinator, recovery manager and
// harvester together and runs them on their configured intervals.
type Engine struct {
	cfg      *config.Config
	provider domain.PairProvider
	detector *detector.Detector
	sizer    *sizing.Calculator
	coord    *execution.Coordinator
	recovery *recovery.Manager
	tracker  *recovery.CorrelationTracker
	harvest  *harvest.Harvester
	book     *PositionBook
	events   *events.Manager
	clock    domain.Clock
	log      zerolog.Logger

	mu        sync.Mutex
	state     State
	startedAt time.Time
	cancel    context.CancelFunc
	wg        sync.WaitGroup

	opportunitiesFound int64
	trianglesExecuted  int64
	trianglesFailed    int64

	lastOpps  []detector.TriangleOpportunity
	lastOppMu sync.RWMutex
}

// Deps collects the engine's collaborators
type Deps struct {
	Provider    domain.PairProvider
	Detector    *detector.Detector
	Sizer       *sizing.Calculator
	Coordinator *execution.Coordinator
	Recovery    *recovery.Manager
	Tracker     *recovery.CorrelationTracker
	Harvester   *harvest.Harvester
	Events      *events.Manager
	Clock       domain.Clock
}

// New creates an engine in the stopped state. Every dependency is required;
// construction failure is fatal to startup.
func New(cfg *config.Config, deps Deps, log zerolog.Logger) (*Engine, error) {
	if deps.Provider == nil || deps.Detector == nil || deps.Sizer == nil ||
		deps.Coordinator == nil || deps.Recovery == nil || deps.Tracker == nil ||
		deps.Harvester == nil || deps.Events == nil || deps.Clock == nil {
		return nil, &domain.ConfigurationError{Key: "engine", Reason: "missing dependency"}
	}

	return &Engine{
		cfg:      cfg,
		provider: deps.Provider,
		detector: deps.Detector,
		sizer:    deps.Sizer,
		coord:    deps.Coordinator,
		recovery: deps.Recovery,
		tracker:  deps.Tracker,
		harvest:  deps.Harvester,
		book:     NewPositionBook(),
		events:   deps.Events,
		clock:    deps.Clock,
		log:      log.With().Str("component", "engine").Logger(),
		state:    StateStopped,
	}, nil
}

// Start launches the scan, recovery and harvest loops
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.state != StateStopped {
		return &domain.ValidationError{Reason: "engine already running"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancel = cancel
	e.state = StateRunning
	e.startedAt = e.clock.Now()

	e.wg.Add(3)
	go e.scanLoop(ctx)
	go e.recoveryLoop(ctx)
	go e.harvestLoop(ctx)

	e.events.Emit(events.EngineStarted, "engine", map[string]interface{}{
		"scan_interval":     e.cfg.ScanInterval.String(),
		"recovery_interval": e.cfg.RecoveryInterval.String(),
		"harvest_interval":  e.cfg.HarvestInterval.String(),
	})
	e.log.Info().Msg("Engine started")
	return nil
}

// Stop winds down the loops, force-completes recovery chains and waits for
// the workers to exit.
func (e *Engine) Stop() error {
	e.mu.Lock()
	if e.state == StateStopped {
		e.mu.Unlock()
		return nil
	}
	cancel := e.cancel
	e.state = StateStopped
	e.mu.Unlock()

	cancel()
	e.wg.Wait()

	ctx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	e.recovery.ForceCompleteAll(ctx, e.coord.OpenPositions())

	e.events.Emit(events.EngineStopped, "engine", nil)
	e.log.Info().Msg("Engine stopped")
	return nil
}

// Pause suspends trading decisions while keeping the loops and position
// refresh alive.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateRunning {
		return &domain.ValidationError{Reason: "engine is not running"}
	}
	e.state = StatePaused
	e.events.Emit(events.EnginePaused, "engine", nil)
	return nil
}

// Resume restarts trading decisions after a pause
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StatePaused {
		return &domain.ValidationError{Reason: "engine is not paused"}
	}
	e.state = StateRunning
	e.events.Emit(events.EngineResumed, "engine", nil)
	return nil
}

// EmergencyStop closes every open position at market, then runs the normal
// stop sequence.
func (e *Engine) EmergencyStop() error {
	e.events.Emit(events.EmergencyStop, "engine", nil)

	// Suspend trading first so the scan loop cannot reopen positions while
	// the book is being flattened.
	e.mu.Lock()
	if e.state == StateRunning {
		e.state = StatePaused
	}
	e.mu.Unlock()

	ctx, done := context.WithTimeout(context.Background(), 30*time.Second)
	defer done()
	for _, pos := range e.coord.OpenPositions() {
		if _, err := e.coord.ClosePosition(ctx, pos, 0, "emergency stop"); err != nil {
			e.log.Error().Err(err).Int64("ticket", pos.Ticket).Msg("Emergency close failed")
		}
	}

	return e.Stop()
}

func (e *Engine) currentState() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// scanLoop refreshes positions and prices, scans for opportunities and
// executes the best ones.
func (e *Engine) scanLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.scanTick(ctx)
		}
	}
}

func (e *Engine) scanTick(ctx context.Context) {
	e.book.Replace(e.coord.OpenPositions())

	rates := make(map[string]float64)
	for _, pair := range e.provider.TradeablePairs() {
		if mid, ok := e.provider.MidPrice(pair.StandardName); ok {
			rates[pair.StandardName] = mid
			e.tracker.Observe(pair.StandardName, mid)
		}
	}
	e.sizer.UpdateRates(rates)

	opportunities := e.detector.Scan(e.provider)

	e.lastOppMu.Lock()
	e.lastOpps = opportunities
	e.lastOppMu.Unlock()

	if e.currentState() != StateRunning {
		return
	}

	executed := 0
	for _, opp := range opportunities {
		if executed >= e.cfg.MaxConcurrentExecs {
			break
		}
		if !opp.IsExecutable {
			continue
		}

		e.mu.Lock()
		e.opportunitiesFound++
		e.mu.Unlock()
		e.events.Emit(events.OpportunityDetected, "engine", map[string]interface{}{
			"pairs":      opp.Pairs(),
			"net_profit": opp.NetProfit,
			"confidence": opp.Confidence,
		})

		pairs := opp.Pairs()
		plan := e.sizer.CalculateTriangleLots(pairs[:], e.cfg.TargetExposurePerLeg, sizing.Constraints{
			LotStep: e.cfg.LotStep,
			MinLot:  e.cfg.MinLot,
			MaxLot:  e.cfg.MaxLot,
		})

		report := e.sizer.ValidateBalance(plan, e.cfg.BalanceTolerance)
		if !report.Balanced {
			e.log.Warn().
				Float64("max_deviation", report.MaxDeviation).
				Interface("exposures", report.Exposures).
				Msg("Executing with imbalanced leg exposure")
		}

		result := e.coord.ExecuteTriangle(ctx, opp, plan)
		e.mu.Lock()
		if result.Success {
			e.trianglesExecuted++
		} else {
			e.trianglesFailed++
		}
		e.mu.Unlock()
		executed++
	}
}

// recoveryLoop drives the recovery manager
func (e *Engine) recoveryLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.RecoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.currentState() != StateRunning {
				continue
			}
			e.recovery.Tick(ctx, e.book.Snapshot())
		}
	}
}

// harvestLoop drives the profit harvester
func (e *Engine) harvestLoop(ctx context.Context) {
	defer e.wg.Done()
	ticker := time.NewTicker(e.cfg.HarvestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if e.currentState() != StateRunning {
				continue
			}
			e.harvest.Tick(ctx, e.book.Snapshot())
		}
	}
}

// Opportunities returns the most recent scan batch
func (e *Engine) Opportunities() []detector.TriangleOpportunity {
	e.lastOppMu.RLock()
	defer e.lastOppMu.RUnlock()
	out := make([]detector.TriangleOpportunity, len(e.lastOpps))
	copy(out, e.lastOpps)
	return out
}

// Positions returns the current position book snapshot
func (e *Engine) Positions() []domain.Position {
	return e.book.Snapshot()
}

// Status returns a control-plane snapshot
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	status := Status{
		State:              e.state,
		OpportunitiesFound: e.opportunitiesFound,
		TrianglesExecuted:  e.trianglesExecuted,
		TrianglesFailed:    e.trianglesFailed,
		OpenPositions:      e.book.Count(),
		FloatingProfit:     e.book.TotalProfit(),
	}
	if e.state != StateStopped {
		status.StartedAt = e.startedAt
	}
	if total := e.trianglesExecuted + e.trianglesFailed; total > 0 {
		status.SuccessRate = float64(e.trianglesExecuted) / float64(total) * 100
	}
	return status
}
