// Package harvest takes partial profits from open positions at laddered pip
// levels, protects winners with breakeven and trailing stops, and tunes its
// own levels from realized results.
package harvest

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/modules/execution"
)

const (
	// levelCooldown is the minimum time between two harvests of the same
	// level on the same position.
	levelCooldown = time.Hour
	// breakevenBufferPips is added beyond the open price when moving the
	// stop to breakeven.
	breakevenBufferPips = 2.0
	// maxRecords bounds the harvest record and snapshot histories
	maxRecords = 100
	// minRecordsForTuning is required within the tuning window before the
	// levels are adjusted.
	minRecordsForTuning = 10
	// tuningWindow is how far back self-tuning looks
	tuningWindow = 24 * time.Hour
)

// Target is one profit-taking level
type Target struct {
	Name         string  `json:"name"`
	TriggerPips  float64 `json:"trigger_pips"`
	ClosePercent float64 `json:"close_percent"`
	Enabled      bool    `json:"enabled"`
	Hits         int     `json:"hits"`
}

// defaultTargetNames label the configured levels in ladder order
var defaultTargetNames = []string{"quick_scalp", "partial_1", "partial_2", "final_target"}

// Record is one executed harvest
type Record struct {
	Ticket          int64     `json:"ticket"`
	Symbol          string    `json:"symbol"`
	Level           string    `json:"level"`
	ProfitPips      float64   `json:"profit_pips"`
	AmountHarvested float64   `json:"amount_harvested"`
	PercentClosed   float64   `json:"percent_closed"`
	ClosedVolume    float64   `json:"closed_volume"`
	RemainingVolume float64   `json:"remaining_volume"`
	Timestamp       time.Time `json:"timestamp"`
}

// Snapshot is an aggregate performance sample, taken every tenth harvest
type Snapshot struct {
	Timestamp      time.Time `json:"timestamp"`
	TotalHarvests  int       `json:"total_harvests"`
	TotalHarvested float64   `json:"total_harvested"`
	AvgProfitPips  float64   `json:"avg_profit_pips"`
}

// Config holds the harvesting policy
type Config struct {
	Levels              []float64
	Percentages         []float64
	TrailingStopPips    float64
	BreakevenTrigger    float64
	MaxPositionTime     time.Duration
	OptimizationEnabled bool
	MinLot              float64
	LotStep             float64
}

// Status is a control-plane snapshot of the harvester
type Status struct {
	Targets        []Target   `json:"targets"`
	TotalHarvests  int        `json:"total_harvests"`
	TotalHarvested float64    `json:"total_harvested"`
	AvgProfitPips  float64    `json:"avg_profit_pips"`
	Snapshots      []Snapshot `json:"snapshots"`
}

type cooldownKey struct {
	ticket int64
	level  string
}

// Harvester manages laddered partial closes and stop management for open
// positions. All closes and stop changes go through the execution
// coordinator.
type Harvester struct {
	cfg    Config
	coord  *execution.Coordinator
	clock  domain.Clock
	events *events.Manager
	log    zerolog.Logger

	mu             sync.Mutex
	targets        []Target
	cooldowns      map[cooldownKey]time.Time
	breakeven      map[int64]bool
	trailing       map[int64]float64 // ticket -> last stop level set
	records        []Record
	snapshots      []Snapshot
	harvests       int
	totalHarvested float64
}

// New creates a harvester with targets built from the configured level and
// percentage ladders.
func New(cfg Config, coord *execution.Coordinator, clock domain.Clock, eventManager *events.Manager, log zerolog.Logger) *Harvester {
	targets := make([]Target, len(cfg.Levels))
	for i := range cfg.Levels {
		name := "level_" + string(rune('1'+i))
		if i < len(defaultTargetNames) {
			name = defaultTargetNames[i]
		}
		targets[i] = Target{
			Name:         name,
			TriggerPips:  cfg.Levels[i],
			ClosePercent: cfg.Percentages[i],
			Enabled:      true,
		}
	}

	return &Harvester{
		cfg:       cfg,
		coord:     coord,
		clock:     clock,
		events:    eventManager,
		log:       log.With().Str("component", "harvest").Logger(),
		targets:   targets,
		cooldowns: make(map[cooldownKey]time.Time),
		breakeven: make(map[int64]bool),
		trailing:  make(map[int64]float64),
	}
}

// Tick inspects every arbitrage position and applies, in order: timeout
// close, level harvests, breakeven move, trailing stop.
func (h *Harvester) Tick(ctx context.Context, positions []domain.Position) {
	now := h.clock.Now()

	for _, pos := range positions {
		if pos.StrategyTag != "arbitrage" {
			continue
		}

		if pos.Age(now) > h.cfg.MaxPositionTime {
			h.closeTimedOut(ctx, pos)
			continue
		}

		profitPips := pos.ProfitPips()
		h.applyLevels(ctx, pos, profitPips, now)
		h.applyBreakeven(ctx, pos, profitPips)
		h.applyTrailing(ctx, pos, profitPips)
	}
}

// closeTimedOut force-closes a position that exceeded the time budget
func (h *Harvester) closeTimedOut(ctx context.Context, pos domain.Position) {
	if _, err := h.coord.ClosePosition(ctx, pos, 0, "max position time"); err != nil {
		h.log.Error().Err(err).Int64("ticket", pos.Ticket).Msg("Failed to close timed-out position")
		return
	}
	h.forget(pos.Ticket)
	h.events.Emit(events.PositionTimedOut, "harvest", map[string]interface{}{
		"ticket": pos.Ticket,
		"symbol": pos.Symbol,
		"profit": pos.Profit,
	})
}

// applyLevels harvests every triggered level not on cooldown. The close
// volume is a percentage of the position's current volume, rounded to the
// lot grid; a remainder below the minimum lot closes the whole position.
func (h *Harvester) applyLevels(ctx context.Context, pos domain.Position, profitPips float64, now time.Time) {
	type hit struct {
		index  int
		target Target
	}

	h.mu.Lock()
	triggered := make([]hit, 0, len(h.targets))
	for i, target := range h.targets {
		if !target.Enabled || profitPips < target.TriggerPips {
			continue
		}
		key := cooldownKey{ticket: pos.Ticket, level: target.Name}
		if last, ok := h.cooldowns[key]; ok && now.Sub(last) < levelCooldown {
			continue
		}
		triggered = append(triggered, hit{index: i, target: target})
	}
	h.mu.Unlock()

	remaining := pos.Volume
	for _, t := range triggered {
		target := t.target

		volume := remaining * target.ClosePercent / 100
		volume = math.Floor(volume/h.cfg.LotStep+1e-9) * h.cfg.LotStep
		if volume < h.cfg.MinLot {
			volume = h.cfg.MinLot
		}
		if remaining-volume < h.cfg.MinLot {
			volume = 0 // full close
		}

		result, err := h.coord.ClosePosition(ctx, pos, volume, "harvest "+target.Name)
		if err != nil {
			h.log.Warn().Err(err).Int64("ticket", pos.Ticket).Str("level", target.Name).Msg("Harvest close failed")
			continue
		}

		closedFraction := 0.0
		if pos.Volume > 0 {
			closedFraction = result.FilledVolume / pos.Volume
		}
		remainingAfter := remaining - result.FilledVolume
		if volume == 0 {
			remainingAfter = 0
		}
		h.recordHarvest(pos, target.Name, t.index, profitPips, harvestFill{
			amount:    pos.Profit * closedFraction,
			percent:   closedFraction * 100,
			volume:    result.FilledVolume,
			remaining: remainingAfter,
		}, now)

		if volume == 0 {
			h.forget(pos.Ticket)
			return
		}
		remaining = remainingAfter
	}
}

// harvestFill describes the executed part of one harvest close
type harvestFill struct {
	amount    float64
	percent   float64
	volume    float64
	remaining float64
}

// recordHarvest updates counters, cooldowns and the record history for one
// executed harvest, sampling an aggregate snapshot every tenth harvest.
func (h *Harvester) recordHarvest(pos domain.Position, level string, targetIndex int, profitPips float64, fill harvestFill, now time.Time) {
	h.mu.Lock()
	h.targets[targetIndex].Hits++
	h.cooldowns[cooldownKey{ticket: pos.Ticket, level: level}] = now
	h.records = append(h.records, Record{
		Ticket:          pos.Ticket,
		Symbol:          pos.Symbol,
		Level:           level,
		ProfitPips:      profitPips,
		AmountHarvested: fill.amount,
		PercentClosed:   fill.percent,
		ClosedVolume:    fill.volume,
		RemainingVolume: fill.remaining,
		Timestamp:       now,
	})
	if len(h.records) > maxRecords {
		h.records = h.records[len(h.records)-maxRecords:]
	}
	h.harvests++
	h.totalHarvested += fill.amount
	if h.harvests%10 == 0 {
		h.snapshots = append(h.snapshots, Snapshot{
			Timestamp:      now,
			TotalHarvests:  h.harvests,
			TotalHarvested: h.totalHarvested,
			AvgProfitPips:  avgProfitLocked(h.records),
		})
		if len(h.snapshots) > maxRecords {
			h.snapshots = h.snapshots[len(h.snapshots)-maxRecords:]
		}
	}
	h.mu.Unlock()

	h.events.Emit(events.ProfitHarvested, "harvest", map[string]interface{}{
		"ticket":        pos.Ticket,
		"symbol":        pos.Symbol,
		"level":         level,
		"profit_pips":   profitPips,
		"amount":        fill.amount,
		"closed_volume": fill.volume,
	})
}

// applyBreakeven moves the stop to open price plus a small buffer once the
// position is sufficiently in profit. Applied once per position.
func (h *Harvester) applyBreakeven(ctx context.Context, pos domain.Position, profitPips float64) {
	if profitPips < h.cfg.BreakevenTrigger {
		return
	}
	h.mu.Lock()
	done := h.breakeven[pos.Ticket]
	h.mu.Unlock()
	if done {
		return
	}

	buffer := breakevenBufferPips * domain.PipSize(pos.Symbol)
	stop := pos.OpenPrice + buffer
	if pos.Side == domain.SideSell {
		stop = pos.OpenPrice - buffer
	}

	if err := h.coord.ModifyStops(ctx, pos.Ticket, stop, 0); err != nil {
		h.log.Warn().Err(err).Int64("ticket", pos.Ticket).Msg("Breakeven move failed")
		return
	}

	h.mu.Lock()
	h.breakeven[pos.Ticket] = true
	h.trailing[pos.Ticket] = stop
	h.mu.Unlock()

	h.log.Info().Int64("ticket", pos.Ticket).Float64("stop", stop).Msg("Stop moved to breakeven")
}

// applyTrailing trails the stop behind the current price. The stop only ever
// tightens; an adverse price move never loosens it.
func (h *Harvester) applyTrailing(ctx context.Context, pos domain.Position, profitPips float64) {
	if profitPips <= h.cfg.TrailingStopPips {
		return
	}

	distance := h.cfg.TrailingStopPips * domain.PipSize(pos.Symbol)
	candidate := pos.CurrentPrice - distance
	if pos.Side == domain.SideSell {
		candidate = pos.CurrentPrice + distance
	}

	h.mu.Lock()
	current, has := h.trailing[pos.Ticket]
	improves := !has ||
		(pos.Side == domain.SideBuy && candidate > current) ||
		(pos.Side == domain.SideSell && candidate < current)
	h.mu.Unlock()
	if !improves {
		return
	}

	if err := h.coord.ModifyStops(ctx, pos.Ticket, candidate, 0); err != nil {
		h.log.Warn().Err(err).Int64("ticket", pos.Ticket).Msg("Trailing stop update failed")
		return
	}

	h.mu.Lock()
	h.trailing[pos.Ticket] = candidate
	h.mu.Unlock()
}

// forget drops per-position state after a full close
func (h *Harvester) forget(ticket int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.breakeven, ticket)
	delete(h.trailing, ticket)
	for key := range h.cooldowns {
		if key.ticket == ticket {
			delete(h.cooldowns, key)
		}
	}
}

// avgProfitLocked averages the profit pips over a record slice
func avgProfitLocked(records []Record) float64 {
	if len(records) == 0 {
		return 0
	}
	var sum float64
	for _, r := range records {
		sum += r.ProfitPips
	}
	return sum / float64(len(records))
}

// OptimizeTargets tunes the trigger levels from recent performance, per
// level: a level whose average harvested amount is strong gets widened
// slightly, a weak one gets tightened. Requires a minimum sample inside the
// tuning window. Percentages are never touched.
func (h *Harvester) OptimizeTargets() {
	if !h.cfg.OptimizationEnabled {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	cutoff := h.clock.Now().Add(-tuningWindow)
	sums := make(map[string]float64, len(h.targets))
	counts := make(map[string]int, len(h.targets))
	recent := 0
	for _, r := range h.records {
		if !r.Timestamp.After(cutoff) {
			continue
		}
		recent++
		sums[r.Level] += r.AmountHarvested
		counts[r.Level]++
	}
	if recent < minRecordsForTuning {
		return
	}

	adjusted := false
	for i := range h.targets {
		name := h.targets[i].Name
		if counts[name] == 0 {
			continue
		}
		avg := sums[name] / float64(counts[name])
		switch {
		case avg > 50:
			h.targets[i].TriggerPips = math.Min(h.targets[i].TriggerPips*1.1, h.targets[i].TriggerPips+5)
			adjusted = true
		case avg < 10:
			h.targets[i].TriggerPips = math.Max(h.targets[i].TriggerPips*0.9, h.targets[i].TriggerPips-3)
			adjusted = true
		}
	}
	if !adjusted {
		return
	}

	levels := make([]float64, len(h.targets))
	for i, t := range h.targets {
		levels[i] = t.TriggerPips
	}
	h.log.Info().Floats64("levels", levels).Int("sample_size", recent).Msg("Profit targets retuned")
	h.events.Emit(events.TargetsOptimized, "harvest", map[string]interface{}{
		"levels":      levels,
		"sample_size": recent,
	})
}

// ResetStatistics clears counters, histories and per-position state
func (h *Harvester) ResetStatistics() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.targets {
		h.targets[i].Hits = 0
	}
	h.cooldowns = make(map[cooldownKey]time.Time)
	h.breakeven = make(map[int64]bool)
	h.trailing = make(map[int64]float64)
	h.records = nil
	h.snapshots = nil
	h.harvests = 0
	h.totalHarvested = 0
}

// Targets returns a copy of the current target ladder
func (h *Harvester) Targets() []Target {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Target, len(h.targets))
	copy(out, h.targets)
	return out
}

// Status returns a control-plane snapshot
func (h *Harvester) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()

	status := Status{
		Targets:        make([]Target, len(h.targets)),
		TotalHarvests:  h.harvests,
		TotalHarvested: h.totalHarvested,
		AvgProfitPips:  avgProfitLocked(h.records),
		Snapshots:      make([]Snapshot, len(h.snapshots)),
	}
	copy(status.Targets, h.targets)
	copy(status.Snapshots, h.snapshots)
	return status
}
