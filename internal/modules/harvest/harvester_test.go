package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/gateway"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

type harvestHarness struct {
	sim       *gateway.Sim
	harvester *Harvester
	clock     *fakeClock
}

func newHarvestHarness(t *testing.T) *harvestHarness {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	sim := gateway.NewSim("MT5", 100000, clock, zerolog.Nop())
	sim.SetPair(domain.CurrencyPair{
		Symbol: "EURUSD", StandardName: "EURUSD",
		BaseCurrency: "EUR", QuoteCurrency: "USD",
		IsTradeable: true, Category: "major",
	})
	sim.SetPrice("EURUSD", 1.0850)

	coord, err := execution.New(sim, execution.Config{RetryAttempts: 1}, events.NewManager(zerolog.Nop()), zerolog.Nop())
	require.NoError(t, err)

	harvester := New(Config{
		Levels:              []float64{8, 15, 25, 40},
		Percentages:         []float64{25, 25, 30, 20},
		TrailingStopPips:    10,
		BreakevenTrigger:    15,
		MaxPositionTime:     time.Hour,
		OptimizationEnabled: true,
		MinLot:              0.01,
		LotStep:             0.01,
	}, coord, clock, events.NewManager(zerolog.Nop()), zerolog.Nop())

	return &harvestHarness{sim: sim, harvester: harvester, clock: clock}
}

func (h *harvestHarness) openPosition(t *testing.T, volume float64) domain.Position {
	t.Helper()
	result, err := h.sim.Execute(context.Background(), gateway.OrderRequest{
		Symbol: "EURUSD", Side: domain.SideBuy, Volume: volume, StrategyTag: "arbitrage",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	positions := h.sim.OpenPositions()
	require.Len(t, positions, 1)
	return positions[0]
}

func TestNew_BuildsTargetLadder(t *testing.T) {
	h := newHarvestHarness(t)
	targets := h.harvester.Targets()

	require.Len(t, targets, 4)
	assert.Equal(t, "quick_scalp", targets[0].Name)
	assert.Equal(t, "partial_1", targets[1].Name)
	assert.Equal(t, "partial_2", targets[2].Name)
	assert.Equal(t, "final_target", targets[3].Name)
	assert.Equal(t, 8.0, targets[0].TriggerPips)
	assert.Equal(t, 25.0, targets[0].ClosePercent)
}

func TestTick_FirstLevelPartialClose(t *testing.T) {
	h := newHarvestHarness(t)
	h.openPosition(t, 1.00)

	// +10 pips triggers only quick_scalp.
	h.sim.SetPrice("EURUSD", 1.0860)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	positions := h.sim.OpenPositions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.75, positions[0].Volume, 1e-9)

	status := h.harvester.Status()
	assert.Equal(t, 1, status.TotalHarvests)
	assert.Equal(t, 1, status.Targets[0].Hits)
	assert.Equal(t, 0, status.Targets[1].Hits)
}

func TestTick_RecordCarriesHarvestedAmount(t *testing.T) {
	h := newHarvestHarness(t)
	h.openPosition(t, 1.00)

	// +10 pips on 1.00 lot is $100 floating; closing 25% harvests $25.
	h.sim.SetPrice("EURUSD", 1.0860)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	require.Len(t, h.harvester.records, 1)
	record := h.harvester.records[0]
	assert.Equal(t, "quick_scalp", record.Level)
	assert.InDelta(t, 25.0, record.AmountHarvested, 1e-6)
	assert.InDelta(t, 25.0, record.PercentClosed, 1e-6)
	assert.InDelta(t, 0.25, record.ClosedVolume, 1e-9)
	assert.InDelta(t, 0.75, record.RemainingVolume, 1e-9)
}

func TestTick_CooldownBlocksRepeatHarvest(t *testing.T) {
	h := newHarvestHarness(t)
	h.openPosition(t, 1.00)
	h.sim.SetPrice("EURUSD", 1.0860)

	// Fast ticks: the same level must harvest at most once per hour.
	for i := 0; i < 10; i++ {
		h.harvester.Tick(context.Background(), h.sim.OpenPositions())
		h.clock.now = h.clock.now.Add(2 * time.Second)
	}

	positions := h.sim.OpenPositions()
	require.Len(t, positions, 1)
	assert.InDelta(t, 0.75, positions[0].Volume, 1e-9)
	assert.Equal(t, 1, h.harvester.Status().TotalHarvests)

	// After the cooldown expires the level may fire again.
	h.clock.now = h.clock.now.Add(levelCooldown)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())
	assert.Equal(t, 2, h.harvester.Status().TotalHarvests)
}

func TestTick_AllLevelsCascade(t *testing.T) {
	h := newHarvestHarness(t)
	h.openPosition(t, 1.00)

	// +50 pips triggers every level in ladder order.
	h.sim.SetPrice("EURUSD", 1.0900)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	status := h.harvester.Status()
	assert.Equal(t, 4, status.TotalHarvests)
	for _, target := range status.Targets {
		assert.Equal(t, 1, target.Hits, target.Name)
	}

	positions := h.sim.OpenPositions()
	require.Len(t, positions, 1)
	assert.Less(t, positions[0].Volume, 0.50)
}

func TestTick_BreakevenStopMoved(t *testing.T) {
	h := newHarvestHarness(t)
	pos := h.openPosition(t, 1.00)

	// +20 pips is past the 15 pip breakeven trigger.
	h.sim.SetPrice("EURUSD", 1.0870)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	sl, _, ok := h.sim.Stops(pos.Ticket)
	require.True(t, ok)
	// Trailing runs after breakeven and tightens further: 1.0870 - 10 pips.
	assert.InDelta(t, 1.0860, sl, 1e-9)
	assert.Greater(t, sl, pos.OpenPrice)
}

func TestTick_TrailingStopIsMonotonic(t *testing.T) {
	h := newHarvestHarness(t)
	pos := h.openPosition(t, 1.00)

	h.sim.SetPrice("EURUSD", 1.0870)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())
	sl1, _, ok := h.sim.Stops(pos.Ticket)
	require.True(t, ok)

	// Price advances: stop follows.
	h.sim.SetPrice("EURUSD", 1.0880)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())
	sl2, _, _ := h.sim.Stops(pos.Ticket)
	assert.Greater(t, sl2, sl1)

	// Price retreats: stop must not loosen.
	h.sim.SetPrice("EURUSD", 1.0872)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())
	sl3, _, _ := h.sim.Stops(pos.Ticket)
	assert.Equal(t, sl2, sl3)
}

func TestTick_MaxPositionTimeForceCloses(t *testing.T) {
	h := newHarvestHarness(t)
	h.openPosition(t, 1.00)

	h.clock.now = h.clock.now.Add(2 * time.Hour)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	assert.Empty(t, h.sim.OpenPositions())
}

func TestTick_IgnoresNonArbitragePositions(t *testing.T) {
	h := newHarvestHarness(t)
	_, err := h.sim.Execute(context.Background(), gateway.OrderRequest{
		Symbol: "EURUSD", Side: domain.SideBuy, Volume: 1.00, StrategyTag: "recovery",
	})
	require.NoError(t, err)

	h.sim.SetPrice("EURUSD", 1.0900)
	h.harvester.Tick(context.Background(), h.sim.OpenPositions())

	positions := h.sim.OpenPositions()
	require.Len(t, positions, 1)
	assert.Equal(t, 1.00, positions[0].Volume)
	assert.Zero(t, h.harvester.Status().TotalHarvests)
}

func seedRecords(h *harvestHarness, level string, targetIndex, count int, amount float64) {
	pos := domain.Position{Ticket: 1, Symbol: "EURUSD"}
	for i := 0; i < count; i++ {
		h.harvester.recordHarvest(pos, level, targetIndex, 20, harvestFill{
			amount:    amount,
			percent:   25,
			volume:    0.05,
			remaining: 0.15,
		}, h.clock.now)
	}
}

func TestOptimizeTargets_StrongLevelWidens(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 12, 60)

	h.harvester.OptimizeTargets()

	targets := h.harvester.Targets()
	assert.InDelta(t, 8.8, targets[0].TriggerPips, 1e-9) // 8 * 1.1
	// Levels with no harvests are left alone.
	assert.Equal(t, 15.0, targets[1].TriggerPips)
	assert.Equal(t, 40.0, targets[3].TriggerPips)
	// Close percentages are never retuned.
	assert.Equal(t, 25.0, targets[0].ClosePercent)
}

func TestOptimizeTargets_PoorLevelTightens(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "final_target", 3, 12, 5)

	h.harvester.OptimizeTargets()

	targets := h.harvester.Targets()
	assert.InDelta(t, 37.0, targets[3].TriggerPips, 1e-9) // 40 - 3 > 40 * 0.9
	assert.Equal(t, 8.0, targets[0].TriggerPips)
}

func TestOptimizeTargets_LevelsAdjustIndependently(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 6, 60)
	seedRecords(h, "final_target", 3, 6, 5)

	h.harvester.OptimizeTargets()

	targets := h.harvester.Targets()
	assert.InDelta(t, 8.8, targets[0].TriggerPips, 1e-9)  // widened
	assert.InDelta(t, 37.0, targets[3].TriggerPips, 1e-9) // tightened
	assert.Equal(t, 15.0, targets[1].TriggerPips)
	assert.Equal(t, 25.0, targets[2].TriggerPips)
}

func TestOptimizeTargets_MiddlingResultsUnchanged(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 12, 30)

	h.harvester.OptimizeTargets()
	assert.Equal(t, 8.0, h.harvester.Targets()[0].TriggerPips)
}

func TestOptimizeTargets_RequiresMinimumSample(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 5, 60)

	h.harvester.OptimizeTargets()
	assert.Equal(t, 8.0, h.harvester.Targets()[0].TriggerPips)
}

func TestOptimizeTargets_IgnoresStaleRecords(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 12, 60)

	h.clock.now = h.clock.now.Add(25 * time.Hour)
	h.harvester.OptimizeTargets()
	assert.Equal(t, 8.0, h.harvester.Targets()[0].TriggerPips)
}

func TestRecordHarvest_SnapshotsEveryTenth(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 20, 30)

	status := h.harvester.Status()
	assert.Equal(t, 20, status.TotalHarvests)
	assert.InDelta(t, 600.0, status.TotalHarvested, 1e-9)
	assert.Len(t, status.Snapshots, 2)
	assert.InDelta(t, 20.0, status.Snapshots[1].AvgProfitPips, 1e-9)
	assert.InDelta(t, 600.0, status.Snapshots[1].TotalHarvested, 1e-9)
}

func TestResetStatistics(t *testing.T) {
	h := newHarvestHarness(t)
	seedRecords(h, "quick_scalp", 0, 12, 60)

	h.harvester.ResetStatistics()

	status := h.harvester.Status()
	assert.Zero(t, status.TotalHarvests)
	assert.Zero(t, status.TotalHarvested)
	assert.Empty(t, status.Snapshots)
	for _, target := range status.Targets {
		assert.Zero(t, target.Hits)
	}
}
