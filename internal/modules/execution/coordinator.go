// Package execution coordinates multi-leg order submission against an order
// gateway, negotiating fill modes against the gateway's capabilities and
// retrying failed legs independently.
package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/internal/events"
	"github.com/arbiphoenix/phoenix/internal/gateway"
	"github.com/arbiphoenix/phoenix/internal/modules/detector"
	"github.com/arbiphoenix/phoenix/internal/modules/sizing"
)

// minTriangleSuccessRate is the fraction of legs that must fill for a
// triangle execution to count as acceptable. This is a heuristic: filled
// legs of an abandoned triangle are deliberately not unwound.
const minTriangleSuccessRate = 0.67

// Config holds the retry policy for order submission
type Config struct {
	RetryAttempts int
	RetryDelay    time.Duration
}

// TriangleResult collects the per-leg outcomes of one triangle execution
type TriangleResult struct {
	ExecutionID string                `json:"execution_id"`
	Results     []gateway.OrderResult `json:"results"`
	FilledLegs  int                   `json:"filled_legs"`
	SuccessRate float64               `json:"success_rate"`
	Success     bool                  `json:"success"`
}

// Coordinator submits orders through a single gateway. No other component
// may place live orders.
type Coordinator struct {
	gw     gateway.OrderGateway
	caps   gateway.Capabilities
	cfg    Config
	events *events.Manager
	log    zerolog.Logger
}

// New creates an execution coordinator bound to a gateway. Returns an error
// when no gateway is supplied; the engine treats that as fatal to startup.
func New(gw gateway.OrderGateway, cfg Config, eventManager *events.Manager, log zerolog.Logger) (*Coordinator, error) {
	if gw == nil {
		return nil, &domain.ConfigurationError{Key: "gateway", Reason: "order gateway is required"}
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}

	caps := gw.Capabilities()
	log = log.With().Str("component", "execution").Str("gateway", caps.Variant).Logger()
	log.Info().
		Interface("fill_modes", caps.SupportedFillModes).
		Float64("min_volume", caps.MinVolume).
		Float64("volume_step", caps.VolumeStep).
		Msg("Execution coordinator initialized")

	return &Coordinator{gw: gw, caps: caps, cfg: cfg, events: eventManager, log: log}, nil
}

// Capabilities returns the gateway capability descriptor
func (c *Coordinator) Capabilities() gateway.Capabilities {
	return c.caps
}

// ValidateVolume rejects volumes below the gateway minimum or off the
// gateway volume step grid.
func (c *Coordinator) ValidateVolume(symbol string, volume float64) error {
	if volume < c.caps.MinVolume {
		return &domain.ValidationError{Symbol: symbol, Reason: "volume below gateway minimum"}
	}
	steps := volume / c.caps.VolumeStep
	if math.Abs(steps-math.Round(steps)) > 1e-6 {
		return &domain.ValidationError{Symbol: symbol, Reason: "volume not a multiple of gateway volume step"}
	}
	return nil
}

// legDirections returns the order sides for a triangle traversal direction
func legDirections(direction detector.Direction) [3]domain.Side {
	if direction == detector.DirectionForward {
		return [3]domain.Side{domain.SideBuy, domain.SideBuy, domain.SideSell}
	}
	return [3]domain.Side{domain.SideSell, domain.SideSell, domain.SideBuy}
}

// ExecuteTriangle submits the three legs of an approved opportunity
// concurrently: all legs are in flight before any result is awaited. A leg
// error becomes a rejected result rather than aborting the other legs.
func (c *Coordinator) ExecuteTriangle(ctx context.Context, opp detector.TriangleOpportunity, plan sizing.Plan) TriangleResult {
	executionID := uuid.NewString()
	pairs := opp.Pairs()
	sides := legDirections(opp.Direction)

	fillMode := gateway.AdjustFillMode(c.caps, gateway.FillIOC)
	if fillMode != gateway.FillIOC {
		c.log.Info().Str("fill_mode", string(fillMode)).Msg("Adjusted fill mode to gateway capabilities")
	}

	requests := make([]gateway.OrderRequest, 3)
	for i := range pairs {
		requests[i] = gateway.OrderRequest{
			Symbol:      pairs[i],
			Side:        sides[i],
			Volume:      plan.Lot(pairs[i]),
			FillMode:    fillMode,
			StrategyTag: "arbitrage",
			Comment:     "triangle " + executionID[:8],
			Deviation:   c.caps.MaxDeviation,
		}
	}

	results := make([]gateway.OrderResult, 3)
	var wg sync.WaitGroup
	for i := range requests {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.submitWithRetry(ctx, requests[i])
		}(i)
	}
	wg.Wait()

	filled := 0
	for _, r := range results {
		if r.Success {
			filled++
		}
	}

	result := TriangleResult{
		ExecutionID: executionID,
		Results:     results,
		FilledLegs:  filled,
		SuccessRate: float64(filled) / 3.0,
	}
	result.Success = result.SuccessRate >= minTriangleSuccessRate

	if result.Success {
		c.events.Emit(events.TriangleExecuted, "execution", map[string]interface{}{
			"execution_id": executionID,
			"pairs":        pairs,
			"filled_legs":  filled,
			"net_profit":   opp.NetProfit,
		})
		if filled < 3 {
			c.log.Warn().
				Str("execution_id", executionID).
				Int("filled_legs", filled).
				Msg("Triangle accepted with an unfilled leg, hedge is incomplete")
		}
	} else {
		c.events.Emit(events.TriangleFailed, "execution", map[string]interface{}{
			"execution_id": executionID,
			"pairs":        pairs,
			"filled_legs":  filled,
		})
		if filled > 0 {
			// Filled legs are left open; unwinding them is a product
			// decision that has not been taken.
			c.log.Warn().
				Str("execution_id", executionID).
				Int("filled_legs", filled).
				Msg("Triangle abandoned with filled legs left open")
		}
	}

	return result
}

// submitWithRetry validates and submits one leg, retrying failures up to the
// configured attempt count with a fixed delay.
func (c *Coordinator) submitWithRetry(ctx context.Context, req gateway.OrderRequest) gateway.OrderResult {
	// Close requests carry the ticket's volume semantics (0 = close all) and
	// skip volume validation.
	if req.CloseTicket == 0 {
		if err := c.ValidateVolume(req.Symbol, req.Volume); err != nil {
			c.log.Error().Err(err).Str("symbol", req.Symbol).Msg("Leg rejected by validation")
			return gateway.OrderResult{Status: gateway.StatusRejected, ErrorMessage: err.Error()}
		}
	}

	var last gateway.OrderResult
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		result, err := c.gw.Execute(ctx, req)
		if err != nil {
			result = gateway.OrderResult{Status: gateway.StatusRejected, ErrorMessage: err.Error()}
		}
		if result.Success {
			return result
		}
		last = result

		if attempt < c.cfg.RetryAttempts {
			c.log.Warn().
				Str("symbol", req.Symbol).
				Int("attempt", attempt).
				Str("error", result.ErrorMessage).
				Msg("Leg submission failed, retrying")
			select {
			case <-ctx.Done():
				return last
			case <-time.After(c.cfg.RetryDelay):
			}
		}
	}
	return last
}

// ClosePosition closes volume lots of an open position (the full position
// when volume <= 0) at market.
func (c *Coordinator) ClosePosition(ctx context.Context, pos domain.Position, volume float64, comment string) (gateway.OrderResult, error) {
	req := gateway.OrderRequest{
		Symbol:      pos.Symbol,
		Side:        pos.Side.Opposite(),
		Volume:      volume,
		FillMode:    gateway.AdjustFillMode(c.caps, gateway.FillMarket),
		StrategyTag: pos.StrategyTag,
		Comment:     comment,
		CloseTicket: pos.Ticket,
	}

	result := c.submitWithRetry(ctx, req)
	if !result.Success {
		return result, &domain.ExecutionError{Symbol: pos.Symbol, Code: result.ErrorCode, Reason: result.ErrorMessage}
	}
	return result, nil
}

// OpenPosition opens a standalone position (used by the recovery manager
// for hedge layers).
func (c *Coordinator) OpenPosition(ctx context.Context, symbol string, side domain.Side, volume float64, tag, comment string) (gateway.OrderResult, error) {
	req := gateway.OrderRequest{
		Symbol:      symbol,
		Side:        side,
		Volume:      volume,
		FillMode:    gateway.AdjustFillMode(c.caps, gateway.FillMarket),
		StrategyTag: tag,
		Comment:     comment,
		Deviation:   c.caps.MaxDeviation,
	}

	result := c.submitWithRetry(ctx, req)
	if !result.Success {
		return result, &domain.ExecutionError{Symbol: symbol, Code: result.ErrorCode, Reason: result.ErrorMessage}
	}
	return result, nil
}

// ModifyStops updates stop loss / take profit on an open position
func (c *Coordinator) ModifyStops(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	return c.gw.ModifyStops(ctx, ticket, stopLoss, takeProfit)
}

// OpenPositions returns the gateway's current open position snapshot
func (c *Coordinator) OpenPositions() []domain.Position {
	return c.gw.OpenPositions()
}
