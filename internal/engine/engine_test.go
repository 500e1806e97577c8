package engine

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiphoenix/phoenix/internal/config"
	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/gateway"
	"github.com/arbiphoenix/phoenix/internal/modules/detector"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
	"github.com/arbiphoenix/phoenix/internal/modules/harvest"
	"github.com/arbiphoenix/phoenix/internal/modules/recovery"
	"github.com/arbiphoenix/phoenix/internal/modules/sizing"
)

func testConfig() *config.Config {
	return &config.Config{
		GatewayVariant:       "MT5",
		MinArbitrageProfit:   5,
		MaxSpreadCost:        8,
		ScanInterval:         10 * time.Millisecond,
		MaxConcurrentExecs:   3,
		TargetExposurePerLeg: 10000,
		LotStep:              0.01,
		MinLot:               0.01,
		MaxLot:               100,
		BalanceTolerance:     0.05,
		DefaultContractSize:  100000,
		RetryAttempts:        1,
		MaxRecoveryLayers:    6,
		RecoveryMultiplier:   1.5,
		StrongCorrelation:    0.8,
		MediumCorrelation:    0.6,
		WeakCorrelation:      0.4,
		MaxDrawdownTrigger:   15,
		MaxRecoveryTime:      4 * time.Hour,
		RecoveryInterval:     10 * time.Millisecond,
		ProfitLevels:         []float64{8, 15, 25, 40},
		ProfitPercentages:    []float64{25, 25, 30, 20},
		TrailingStopPips:     10,
		BreakevenTrigger:     15,
		MaxPositionTime:      time.Hour,
		HarvestInterval:      10 * time.Millisecond,
	}
}

func seedTriangle(sim *gateway.Sim) {
	for _, p := range []struct {
		base, quote string
		mid, spread float64
	}{
		{"EUR", "USD", 1.0850, 0.6},
		{"GBP", "USD", 1.2650, 0.9},
		{"EUR", "GBP", 0.8577, 1.0},
	} {
		name := p.base + p.quote
		sim.SetPair(domain.CurrencyPair{
			Symbol: name, StandardName: name,
			BaseCurrency: p.base, QuoteCurrency: p.quote,
			Spread: p.spread, IsTradeable: true, Category: "major",
		})
		sim.SetPrice(name, p.mid)
	}
}

func newTestEngine(t *testing.T) (*Engine, *gateway.Sim) {
	t.Helper()
	cfg := testConfig()
	clock := domain.RealClock{}
	log := zerolog.Nop()
	eventManager := events.NewManager(log)

	sim := gateway.NewSim(cfg.GatewayVariant, cfg.DefaultContractSize, clock, log)
	seedTriangle(sim)

	det := detector.New(detector.Config{
		MinProfitPips: cfg.MinArbitrageProfit,
		MaxSpreadCost: cfg.MaxSpreadCost,
	}, clock, log)

	sizer := sizing.New(nil, cfg.DefaultContractSize, nil, log)

	coord, err := execution.New(sim, execution.Config{RetryAttempts: cfg.RetryAttempts}, eventManager, log)
	require.NoError(t, err)

	tracker := recovery.NewCorrelationTracker(recovery.Thresholds{
		Strong: cfg.StrongCorrelation,
		Medium: cfg.MediumCorrelation,
		Weak:   cfg.WeakCorrelation,
	}, log)

	recoveryManager := recovery.NewManager(recovery.Config{
		MaxLayers:          cfg.MaxRecoveryLayers,
		Multiplier:         cfg.RecoveryMultiplier,
		MaxDrawdownTrigger: cfg.MaxDrawdownTrigger,
		MaxRecoveryTime:    cfg.MaxRecoveryTime,
		MinLot:             cfg.MinLot,
		LotStep:            cfg.LotStep,
	}, coord, tracker, clock, eventManager, log)

	harvester := harvest.New(harvest.Config{
		Levels:           cfg.ProfitLevels,
		Percentages:      cfg.ProfitPercentages,
		TrailingStopPips: cfg.TrailingStopPips,
		BreakevenTrigger: cfg.BreakevenTrigger,
		MaxPositionTime:  cfg.MaxPositionTime,
		MinLot:           cfg.MinLot,
		LotStep:          cfg.LotStep,
	}, coord, clock, eventManager, log)

	eng, err := New(cfg, Deps{
		Provider:    sim,
		Detector:    det,
		Sizer:       sizer,
		Coordinator: coord,
		Recovery:    recoveryManager,
		Tracker:     tracker,
		Harvester:   harvester,
		Events:      eventManager,
		Clock:       clock,
	}, log)
	require.NoError(t, err)
	return eng, sim
}

func TestNew_MissingDependency(t *testing.T) {
	_, err := New(testConfig(), Deps{}, zerolog.Nop())
	require.Error(t, err)
	var cfgErr *domain.ConfigurationError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEngine_Lifecycle(t *testing.T) {
	eng, _ := newTestEngine(t)

	assert.Equal(t, StateStopped, eng.Status().State)

	require.NoError(t, eng.Start())
	assert.Equal(t, StateRunning, eng.Status().State)
	assert.Error(t, eng.Start()) // double start

	require.NoError(t, eng.Pause())
	assert.Equal(t, StatePaused, eng.Status().State)
	assert.Error(t, eng.Pause()) // already paused

	require.NoError(t, eng.Resume())
	assert.Equal(t, StateRunning, eng.Status().State)

	require.NoError(t, eng.Stop())
	assert.Equal(t, StateStopped, eng.Status().State)
	assert.NoError(t, eng.Stop()) // idempotent
}

func TestEngine_ResumeRequiresPause(t *testing.T) {
	eng, _ := newTestEngine(t)
	assert.Error(t, eng.Resume())
}

func TestScanTick_ExecutesProfitableTriangle(t *testing.T) {
	eng, sim := newTestEngine(t)
	eng.state = StateRunning

	eng.scanTick(context.Background())

	status := eng.Status()
	assert.GreaterOrEqual(t, status.OpportunitiesFound, int64(1))
	assert.Equal(t, int64(1), status.TrianglesExecuted)

	// All three legs were opened.
	positions := sim.OpenPositions()
	assert.Len(t, positions, 3)
	for _, pos := range positions {
		assert.Equal(t, "arbitrage", pos.StrategyTag)
	}

	// The scan batch is published for the control plane.
	opps := eng.Opportunities()
	require.NotEmpty(t, opps)
	assert.True(t, opps[0].IsExecutable)
}

func TestScanTick_PausedEngineOnlyObserves(t *testing.T) {
	eng, sim := newTestEngine(t)
	eng.state = StatePaused

	eng.scanTick(context.Background())

	assert.Empty(t, sim.OpenPositions())
	assert.NotEmpty(t, eng.Opportunities())
	assert.Zero(t, eng.Status().TrianglesExecuted)
}

func TestScanTick_RefreshesPositionBook(t *testing.T) {
	eng, sim := newTestEngine(t)

	_, err := sim.Execute(context.Background(), gateway.OrderRequest{
		Symbol: "EURUSD", Side: domain.SideBuy, Volume: 0.10, StrategyTag: "arbitrage",
	})
	require.NoError(t, err)

	eng.scanTick(context.Background())
	assert.Len(t, eng.Positions(), 1)
	assert.Equal(t, 1, eng.Status().OpenPositions)
}

func TestEmergencyStop_FlattensBook(t *testing.T) {
	eng, sim := newTestEngine(t)

	require.NoError(t, eng.Start())
	time.Sleep(50 * time.Millisecond) // let the scan loop trade

	require.NoError(t, eng.EmergencyStop())
	assert.Empty(t, sim.OpenPositions())
	assert.Equal(t, StateStopped, eng.Status().State)
}

func TestEmergencyStop_FlattensFromPaused(t *testing.T) {
	eng, sim := newTestEngine(t)

	require.NoError(t, eng.Start())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, eng.Pause())
	require.NotEmpty(t, sim.OpenPositions())

	require.NoError(t, eng.EmergencyStop())
	assert.Empty(t, sim.OpenPositions())
	assert.Equal(t, StateStopped, eng.Status().State)
}
