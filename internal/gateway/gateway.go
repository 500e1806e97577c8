// Package gateway defines the order gateway contract and the capability model
// for the broker variants the trading core can be wired against. Concrete
// gateways are selected at construction; business logic never branches on a
// broker name at runtime.
package gateway

import (
	"context"
	"time"

	"github.com/arbiphoenix/phoenix/internal/domain"
)

// FillMode is the execution semantics requested for an order
type FillMode string

const (
	FillIOC     FillMode = "IOC"
	FillFOK     FillMode = "FOK"
	FillGTC     FillMode = "GTC"
	FillDay     FillMode = "DAY"
	FillMarket  FillMode = "MARKET"
	FillInstant FillMode = "INSTANT"
	FillRequest FillMode = "REQUEST"
)

// OrderStatus tracks an order through its lifecycle.
// Terminal states are filled, rejected, cancelled and expired.
type OrderStatus string

const (
	StatusPending   OrderStatus = "pending"
	StatusFilled    OrderStatus = "filled"
	StatusPartial   OrderStatus = "partial"
	StatusRejected  OrderStatus = "rejected"
	StatusCancelled OrderStatus = "cancelled"
	StatusExpired   OrderStatus = "expired"
)

// IsTerminal reports whether the status can no longer change
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusRejected, StatusCancelled, StatusExpired:
		return true
	}
	return false
}

// OrderRequest is a universal order request. CloseTicket, when non-zero,
// closes (part of) an existing position instead of opening a new one.
type OrderRequest struct {
	Symbol      string
	Side        domain.Side
	Volume      float64
	Price       float64 // optional, 0 = market
	StopLoss    float64
	TakeProfit  float64
	FillMode    FillMode
	StrategyTag string
	Comment     string
	Deviation   int // max price deviation in points
	CloseTicket int64
}

// OrderResult is a universal order result
type OrderResult struct {
	Success      bool
	Ticket       int64
	Status       OrderStatus
	FilledVolume float64
	FilledPrice  float64
	ErrorCode    int
	ErrorMessage string
	Elapsed      time.Duration
}

// Capabilities is the static execution capability descriptor a gateway
// reports at construction time.
type Capabilities struct {
	Variant            string
	SupportedFillModes []FillMode
	MaxDeviation       int
	MinVolume          float64
	VolumeStep         float64
}

// Supports reports whether the gateway accepts the given fill mode
func (c Capabilities) Supports(mode FillMode) bool {
	for _, m := range c.SupportedFillModes {
		if m == mode {
			return true
		}
	}
	return false
}

// OrderGateway accepts order requests and reports open positions.
// Execute blocks until the order reaches a terminal state.
type OrderGateway interface {
	Capabilities() Capabilities
	Execute(ctx context.Context, req OrderRequest) (OrderResult, error)
	ModifyStops(ctx context.Context, ticket int64, stopLoss, takeProfit float64) error
	OpenPositions() []domain.Position
}

// variantCapabilities mirrors the execution constraints of the supported
// broker backends.
var variantCapabilities = map[string]Capabilities{
	"MT5": {
		Variant:            "MT5",
		SupportedFillModes: []FillMode{FillMarket, FillIOC, FillFOK},
		MaxDeviation:       50,
		MinVolume:          0.01,
		VolumeStep:         0.01,
	},
	"MT4": {
		Variant:            "MT4",
		SupportedFillModes: []FillMode{FillMarket, FillInstant},
		MaxDeviation:       30,
		MinVolume:          0.01,
		VolumeStep:         0.01,
	},
	"CTRADER": {
		Variant:            "CTRADER",
		SupportedFillModes: []FillMode{FillMarket, FillIOC, FillFOK, FillGTC},
		MaxDeviation:       100,
		MinVolume:          0.01,
		VolumeStep:         0.01,
	},
	"IB": {
		Variant:            "IB",
		SupportedFillModes: []FillMode{FillIOC, FillFOK, FillGTC, FillDay},
		MaxDeviation:       0,
		MinVolume:          1,
		VolumeStep:         1,
	},
	"OANDA": {
		Variant:            "OANDA",
		SupportedFillModes: []FillMode{FillIOC, FillFOK, FillGTC},
		MaxDeviation:       50,
		MinVolume:          1,
		VolumeStep:         1,
	},
	"FXCM": {
		Variant:            "FXCM",
		SupportedFillModes: []FillMode{FillMarket, FillIOC, FillGTC},
		MaxDeviation:       20,
		MinVolume:          1000,
		VolumeStep:         1000,
	},
}

// CapabilitiesFor returns the capability descriptor for a broker variant,
// falling back to MT5 for unknown variants.
func CapabilitiesFor(variant string) Capabilities {
	if caps, ok := variantCapabilities[variant]; ok {
		return caps
	}
	return variantCapabilities["MT5"]
}

// fillModeFallbacks maps an unsupported fill mode to its closest supported
// alternatives, in priority order.
var fillModeFallbacks = map[FillMode][]FillMode{
	FillIOC:     {FillMarket, FillInstant},
	FillFOK:     {FillIOC, FillMarket},
	FillMarket:  {FillInstant, FillIOC},
	FillInstant: {FillMarket, FillIOC},
	FillGTC:     {FillDay, FillMarket},
	FillDay:     {FillGTC, FillMarket},
	FillRequest: {FillInstant, FillMarket},
}

// AdjustFillMode maps a requested fill mode onto the gateway's supported set.
// If the mode is supported it is returned unchanged; otherwise the static
// fallback table is consulted, defaulting to the gateway's first supported
// mode if no mapping applies.
func AdjustFillMode(caps Capabilities, requested FillMode) FillMode {
	if caps.Supports(requested) {
		return requested
	}
	for _, fallback := range fillModeFallbacks[requested] {
		if caps.Supports(fallback) {
			return fallback
		}
	}
	if len(caps.SupportedFillModes) > 0 {
		return caps.SupportedFillModes[0]
	}
	return FillMarket
}
