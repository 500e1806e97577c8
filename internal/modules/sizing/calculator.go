// Package sizing converts a target monetary exposure per triangle leg into
// broker-legal lot sizes so that each leg carries approximately equal
// exposure in the account currency.
package sizing

import (
	"math"

	"github.com/rs/zerolog"
)

const accountCurrency = "USD"

// Constraints are the broker lot constraints applied to every leg
type Constraints struct {
	LotStep float64
	MinLot  float64
	MaxLot  float64
}

// Leg is the sized result for one pair of a triangle
type Leg struct {
	Pair     string  `json:"pair"`
	Lot      float64 `json:"lot"`
	Degraded bool    `json:"degraded"` // no resolvable monetary value; lot fell back to MinLot
}

// Plan maps each pair of one triangle to its lot size. A plan is derived
// once and never mutated; the execution coordinator consumes it as-is.
type Plan struct {
	Legs map[string]Leg `json:"legs"`
}

// Lot returns the lot size for a pair, or 0 if the pair is not in the plan
func (p Plan) Lot(pair string) float64 {
	return p.Legs[pair].Lot
}

// BalanceReport is the advisory result of validating a plan's exposure
// balance. Imbalance is logged by callers but does not block execution.
type BalanceReport struct {
	Balanced     bool               `json:"balanced"`
	AvgExposure  float64            `json:"avg_exposure"`
	MaxDeviation float64            `json:"max_deviation"`
	Exposures    map[string]float64 `json:"exposures"`
}

// Summary describes the monetary exposure of a plan
type Summary struct {
	Exposures     map[string]float64 `json:"exposures"`
	TotalExposure float64            `json:"total_exposure"`
	AvgExposure   float64            `json:"avg_exposure"`
	BalanceScore  float64            `json:"balance_score"` // (1 - max deviation) * 100
}

// Calculator computes balanced lot sizes from contract sizes and live rates
type Calculator struct {
	contractSizes       map[string]float64
	defaultContractSize float64
	rates               map[string]float64
	perLotValues        map[string]float64
	log                 zerolog.Logger
}

// New creates a calculator. contractSizes maps pair -> units of base currency
// per 1.00 lot; pairs absent from the map use defaultContractSize. Rates are
// mid prices keyed by standardized pair name and may be refreshed later via
// UpdateRates.
func New(contractSizes map[string]float64, defaultContractSize float64, rates map[string]float64, log zerolog.Logger) *Calculator {
	c := &Calculator{
		contractSizes:       contractSizes,
		defaultContractSize: defaultContractSize,
		rates:               make(map[string]float64, len(rates)),
		log:                 log.With().Str("component", "sizing").Logger(),
	}
	for k, v := range rates {
		c.rates[k] = v
	}
	c.perLotValues = c.calculatePerLotValues()
	return c
}

// UpdateRates merges new rates in and recomputes cached per-lot values
func (c *Calculator) UpdateRates(newRates map[string]float64) {
	for k, v := range newRates {
		c.rates[k] = v
	}
	c.perLotValues = c.calculatePerLotValues()
}

// contractSize returns the contract size for a pair
func (c *Calculator) contractSize(pair string) float64 {
	if size, ok := c.contractSizes[pair]; ok {
		return size
	}
	return c.defaultContractSize
}

// calculatePerLotValues computes the account-currency value of one standard
// lot for every pair with a known rate.
func (c *Calculator) calculatePerLotValues() map[string]float64 {
	values := make(map[string]float64, len(c.rates))

	for pair, rate := range c.rates {
		if len(pair) < 6 {
			continue
		}
		base := pair[:3]
		quote := pair[3:]
		size := c.contractSize(pair)

		switch {
		case quote == accountCurrency:
			values[pair] = size * rate
		case base == accountCurrency:
			values[pair] = size
		default:
			// Cross pairs convert their base currency to the account
			// currency; with no usable rate path the contract is assumed
			// to be worth the standard size at par.
			if baseRate, ok := c.baseToAccountRate(base); ok {
				values[pair] = size * baseRate
			} else {
				values[pair] = c.defaultContractSize
			}
		}
	}

	return values
}

// baseToAccountRate resolves a conversion rate from a currency to the
// account currency: direct pair first, then the inverted pair, then a
// two-hop cross through EUR.
func (c *Calculator) baseToAccountRate(currency string) (float64, bool) {
	if direct, ok := c.rates[currency+accountCurrency]; ok && direct > 0 {
		return direct, true
	}
	if inverted, ok := c.rates[accountCurrency+currency]; ok && inverted > 0 {
		return 1.0 / inverted, true
	}
	if currency != "EUR" {
		eurCross, okCross := c.rates["EUR"+currency]
		eurAccount, okAccount := c.rates["EUR"+accountCurrency]
		if okCross && okAccount && eurCross > 0 {
			return eurAccount / eurCross, true
		}
	}
	return 0, false
}

// PerLotValue returns the account-currency value of one standard lot for a
// pair, if resolvable.
func (c *Calculator) PerLotValue(pair string) (float64, bool) {
	v, ok := c.perLotValues[pair]
	return v, ok
}

// CalculateTriangleLots sizes each leg of a triangle for equal monetary
// exposure. Legs with no resolvable value fall back to MinLot and are
// flagged as degraded.
func (c *Calculator) CalculateTriangleLots(trianglePairs []string, targetExposure float64, constraints Constraints) Plan {
	plan := Plan{Legs: make(map[string]Leg, len(trianglePairs))}

	for _, pair := range trianglePairs {
		perLot, ok := c.perLotValues[pair]
		if !ok || perLot <= 0 {
			plan.Legs[pair] = Leg{Pair: pair, Lot: constraints.MinLot, Degraded: true}
			c.log.Warn().Str("pair", pair).Msg("No resolvable per-lot value, using min lot")
			continue
		}

		required := targetExposure / perLot
		plan.Legs[pair] = Leg{Pair: pair, Lot: clampToConstraints(required, constraints)}
	}

	return plan
}

// clampToConstraints applies broker lot constraints: clamp to [min,max],
// then round to the nearest lot step (half up), never below the minimum.
func clampToConstraints(lot float64, c Constraints) float64 {
	if lot < c.MinLot {
		return c.MinLot
	}
	if lot > c.MaxLot {
		return c.MaxLot
	}
	steps := math.Round(lot / c.LotStep)
	rounded := steps * c.LotStep
	if rounded < c.MinLot {
		return c.MinLot
	}
	return rounded
}

// ValidateBalance computes per-leg exposure, the average, and the maximum
// relative deviation from the average. The plan is balanced iff the maximum
// deviation is within tolerance. This check is advisory only.
func (c *Calculator) ValidateBalance(plan Plan, tolerance float64) BalanceReport {
	report := BalanceReport{Exposures: make(map[string]float64, len(plan.Legs))}

	var exposures []float64
	for pair, leg := range plan.Legs {
		perLot, ok := c.perLotValues[pair]
		if !ok {
			continue
		}
		exposure := leg.Lot * perLot
		report.Exposures[pair] = exposure
		exposures = append(exposures, exposure)
	}

	if len(exposures) < 3 {
		return report
	}

	var sum float64
	for _, e := range exposures {
		sum += e
	}
	avg := sum / float64(len(exposures))
	report.AvgExposure = avg

	for _, e := range exposures {
		deviation := math.Abs(e-avg) / avg
		if deviation > report.MaxDeviation {
			report.MaxDeviation = deviation
		}
	}

	report.Balanced = report.MaxDeviation <= tolerance
	return report
}

// ExposureSummary reports per-leg and aggregate exposure for a plan
func (c *Calculator) ExposureSummary(plan Plan) Summary {
	summary := Summary{Exposures: make(map[string]float64, len(plan.Legs))}

	var exposures []float64
	for pair, leg := range plan.Legs {
		perLot, ok := c.perLotValues[pair]
		if !ok {
			continue
		}
		exposure := leg.Lot * perLot
		summary.Exposures[pair] = exposure
		summary.TotalExposure += exposure
		exposures = append(exposures, exposure)
	}

	if len(exposures) == 0 {
		return summary
	}

	summary.AvgExposure = summary.TotalExposure / float64(len(exposures))

	var maxDeviation float64
	for _, e := range exposures {
		d := math.Abs(e-summary.AvgExposure) / summary.AvgExposure
		if d > maxDeviation {
			maxDeviation = d
		}
	}
	summary.BalanceScore = (1.0 - maxDeviation) * 100

	return summary
}
