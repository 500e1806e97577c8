package gateway

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/domain"
)

// Sim is an in-memory gateway used in development and tests. It fills market
// orders at the current mid price, tracks open positions, and doubles as the
// pair provider for the price book it holds. It honors the capability
// descriptor of the variant it is constructed with.
type Sim struct {
	caps         Capabilities
	clock        domain.Clock
	contractSize float64
	log          zerolog.Logger

	mu         sync.RWMutex
	connected  bool
	pairs      map[string]domain.CurrencyPair
	prices     map[string]float64
	positions  map[int64]*domain.Position
	stops      map[int64][2]float64 // ticket -> {sl, tp}
	nextTicket int64
}

// NewSim creates a sim gateway reporting the capabilities of the given
// broker variant.
func NewSim(variant string, contractSize float64, clock domain.Clock, log zerolog.Logger) *Sim {
	return &Sim{
		caps:         CapabilitiesFor(variant),
		clock:        clock,
		contractSize: contractSize,
		log:          log.With().Str("component", "sim_gateway").Logger(),
		connected:    true,
		pairs:        make(map[string]domain.CurrencyPair),
		prices:       make(map[string]float64),
		positions:    make(map[int64]*domain.Position),
		stops:        make(map[int64][2]float64),
		nextTicket:   1000,
	}
}

// Capabilities returns the static capability descriptor
func (s *Sim) Capabilities() Capabilities {
	return s.caps
}

// SetConnected toggles simulated connectivity
func (s *Sim) SetConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

// SetPair registers or updates a pair in the universe
func (s *Sim) SetPair(pair domain.CurrencyPair) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pairs[pair.StandardName] = pair
}

// SetPrice updates the mid price for a standardized pair name
func (s *Sim) SetPrice(standardName string, mid float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[standardName] = mid
}

// TradeablePairs returns the tradeable subset of the registered universe
func (s *Sim) TradeablePairs() []domain.CurrencyPair {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pairs := make([]domain.CurrencyPair, 0, len(s.pairs))
	for _, p := range s.pairs {
		if p.IsTradeable {
			pairs = append(pairs, p)
		}
	}
	return pairs
}

// PairBySymbol looks up a pair by standardized name
func (s *Sim) PairBySymbol(standardName string) (domain.CurrencyPair, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pairs[standardName]
	return p, ok
}

// MidPrice returns the current mid price for a standardized name
func (s *Sim) MidPrice(standardName string) (float64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	mid, ok := s.prices[standardName]
	return mid, ok
}

// Execute fills the request at the current mid price, or closes (part of) an
// existing position when CloseTicket is set.
func (s *Sim) Execute(ctx context.Context, req OrderRequest) (OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return OrderResult{Status: StatusCancelled, ErrorMessage: err.Error()}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.connected {
		return OrderResult{Status: StatusRejected, ErrorMessage: "gateway disconnected"},
			&domain.ConnectivityError{Gateway: s.caps.Variant, Reason: "disconnected"}
	}

	if req.CloseTicket != 0 {
		return s.closeLocked(req)
	}

	mid, ok := s.prices[req.Symbol]
	if !ok {
		return OrderResult{
			Status:       StatusRejected,
			ErrorMessage: "no price for symbol",
		}, nil
	}

	s.nextTicket++
	ticket := s.nextTicket
	s.positions[ticket] = &domain.Position{
		Ticket:       ticket,
		Symbol:       req.Symbol,
		Side:         req.Side,
		Volume:       req.Volume,
		OpenPrice:    mid,
		CurrentPrice: mid,
		OpenTime:     s.clock.Now(),
		StrategyTag:  req.StrategyTag,
	}
	if req.StopLoss != 0 || req.TakeProfit != 0 {
		s.stops[ticket] = [2]float64{req.StopLoss, req.TakeProfit}
	}

	return OrderResult{
		Success:      true,
		Ticket:       ticket,
		Status:       StatusFilled,
		FilledVolume: req.Volume,
		FilledPrice:  mid,
	}, nil
}

func (s *Sim) closeLocked(req OrderRequest) (OrderResult, error) {
	pos, ok := s.positions[req.CloseTicket]
	if !ok {
		return OrderResult{Status: StatusRejected, ErrorMessage: "unknown ticket"}, nil
	}

	mid, ok := s.prices[pos.Symbol]
	if !ok {
		mid = pos.CurrentPrice
	}

	volume := req.Volume
	if volume <= 0 || volume >= pos.Volume {
		volume = pos.Volume
		delete(s.positions, req.CloseTicket)
		delete(s.stops, req.CloseTicket)
	} else {
		pos.Volume -= volume
	}

	return OrderResult{
		Success:      true,
		Ticket:       req.CloseTicket,
		Status:       StatusFilled,
		FilledVolume: volume,
		FilledPrice:  mid,
	}, nil
}

// ModifyStops updates stop loss / take profit on an open position
func (s *Sim) ModifyStops(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return &domain.ConnectivityError{Gateway: s.caps.Variant, Reason: "disconnected"}
	}
	if _, ok := s.positions[ticket]; !ok {
		return &domain.ExecutionError{Reason: "unknown ticket"}
	}
	s.stops[ticket] = [2]float64{stopLoss, takeProfit}
	return nil
}

// Stops returns the current stop loss / take profit for a ticket
func (s *Sim) Stops(ticket int64) (stopLoss, takeProfit float64, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pair, found := s.stops[ticket]
	if !found {
		return 0, 0, false
	}
	return pair[0], pair[1], true
}

// OpenPositions returns a marked-to-market snapshot of open positions
func (s *Sim) OpenPositions() []domain.Position {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]domain.Position, 0, len(s.positions))
	for _, pos := range s.positions {
		if mid, ok := s.prices[pos.Symbol]; ok {
			pos.CurrentPrice = mid
			diff := mid - pos.OpenPrice
			if pos.Side == domain.SideSell {
				diff = -diff
			}
			pos.Profit = diff * pos.Volume * s.contractSize
		}
		out = append(out, *pos)
	}
	return out
}
