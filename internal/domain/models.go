// Package domain holds the shared models and collaborator interfaces for the
// trading core. Broker connectivity, symbol discovery and dashboards live
// outside this module and interact with it only through these types.
package domain

import (
	"strings"
	"time"
)

// Side represents the direction of an order or position
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the opposing side
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// CurrencyPair is an immutable per-tick snapshot of a tradeable pair as
// supplied by the pair provider.
type CurrencyPair struct {
	Symbol        string  // Broker-specific symbol
	StandardName  string  // Standardized name (e.g. EURUSD)
	BaseCurrency  string  // e.g. EUR
	QuoteCurrency string  // e.g. USD
	Spread        float64 // Current spread in pips
	MinLot        float64
	MaxLot        float64
	LotStep       float64
	Digits        int
	IsTradeable   bool
	Category      string // major, minor, exotic
}

// Position is an open trade as reported by the order gateway. The engine
// refreshes the position list wholesale on every tick.
type Position struct {
	Ticket       int64
	Symbol       string
	Side         Side
	Volume       float64
	OpenPrice    float64
	CurrentPrice float64
	Profit       float64 // Floating P&L in account currency
	Swap         float64
	Commission   float64
	OpenTime     time.Time
	StrategyTag  string // Owning strategy (arbitrage, recovery, ...)
}

// Age returns how long the position has been open
func (p Position) Age(now time.Time) time.Duration {
	return now.Sub(p.OpenTime)
}

// PipSize returns the pip increment for a symbol: 0.01 for JPY pairs,
// 0.0001 for everything else.
func PipSize(symbol string) float64 {
	if strings.Contains(symbol, "JPY") {
		return 0.01
	}
	return 0.0001
}

// ProfitPips converts the position's open/current price delta into pips,
// sign-flipped for sell positions.
func (p Position) ProfitPips() float64 {
	var diff float64
	if p.Side == SideBuy {
		diff = p.CurrentPrice - p.OpenPrice
	} else {
		diff = p.OpenPrice - p.CurrentPrice
	}
	return diff / PipSize(p.Symbol)
}

// PairProvider supplies the tradeable pair universe and live mid prices.
// Implementations must keep symbol -> standardized-name mapping stable
// across calls.
type PairProvider interface {
	TradeablePairs() []CurrencyPair
	PairBySymbol(standardName string) (CurrencyPair, bool)
	MidPrice(standardName string) (float64, bool)
}

// Clock abstracts wall time for age and cooldown computations
type Clock interface {
	Now() time.Time
}

// RealClock is the production Clock
type RealClock struct{}

// Now returns the current wall time
func (RealClock) Now() time.Time { return time.Now() }

// MajorPairs filters a universe down to the major category
func MajorPairs(pairs []CurrencyPair) []CurrencyPair {
	majors := make([]CurrencyPair, 0, len(pairs))
	for _, p := range pairs {
		if p.Category == "major" && p.IsTradeable {
			majors = append(majors, p)
		}
	}
	return majors
}
