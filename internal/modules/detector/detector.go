// Package detector enumerates currency triangles from the tradeable pair
// universe and scores each for arbitrage profitability.
package detector

import (
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/internal/domain"
	"github.com/arbiphoenix/phoenix/pkg/formulas"
)

// Config holds the detector thresholds
type Config struct {
	MinProfitPips float64 // minimum net profit for executability
	MaxSpreadCost float64 // spread ceiling in pips
}

// Detector scores currency triangles against a price snapshot
type Detector struct {
	cfg   Config
	clock domain.Clock
	log   zerolog.Logger
}

// New creates a new opportunity detector
func New(cfg Config, clock domain.Clock, log zerolog.Logger) *Detector {
	return &Detector{
		cfg:   cfg,
		clock: clock,
		log:   log.With().Str("component", "detector").Logger(),
	}
}

// triangle is one deduplicated 3-currency cycle expressed as leg symbols
type triangle struct {
	legs [3]string
}

// Scan enumerates triangles over the major tradeable pairs and scores each.
// Triangles missing a price on any leg are skipped rather than failing the
// whole scan. The result is a finite batch, sorted by net profit descending.
func (d *Detector) Scan(provider domain.PairProvider) []TriangleOpportunity {
	majors := domain.MajorPairs(provider.TradeablePairs())
	triangles := d.findTriangles(majors)

	opportunities := make([]TriangleOpportunity, 0, len(triangles))
	for _, tri := range triangles {
		opp, ok := d.score(tri, provider)
		if !ok {
			continue
		}
		opportunities = append(opportunities, opp)
	}

	sort.Slice(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfit > opportunities[j].NetProfit
	})

	return opportunities
}

// findTriangles builds the currency graph and enumerates 3-cycles, keeping a
// single representative per unordered currency set so rotations and
// reflections of the same triangle are scored once.
func (d *Detector) findTriangles(pairs []domain.CurrencyPair) []triangle {
	// An edge exists between two currencies if a direct quoted pair exists
	// in either orientation; the value is the quoted symbol.
	edges := make(map[string]string, len(pairs)*2)
	currencySet := make(map[string]struct{})

	for _, p := range pairs {
		currencySet[p.BaseCurrency] = struct{}{}
		currencySet[p.QuoteCurrency] = struct{}{}
		edges[p.BaseCurrency+p.QuoteCurrency] = p.StandardName
		edges[p.QuoteCurrency+p.BaseCurrency] = p.StandardName
	}

	currencies := make([]string, 0, len(currencySet))
	for c := range currencySet {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)

	seen := make(map[string]struct{})
	var triangles []triangle

	for _, c1 := range currencies {
		for _, c2 := range currencies {
			if c2 == c1 {
				continue
			}
			for _, c3 := range currencies {
				if c3 == c1 || c3 == c2 {
					continue
				}
				leg1, ok1 := edges[c1+c2]
				leg2, ok2 := edges[c2+c3]
				leg3, ok3 := edges[c3+c1]
				if !ok1 || !ok2 || !ok3 {
					continue
				}

				key := canonicalKey(c1, c2, c3)
				if _, dup := seen[key]; dup {
					continue
				}
				seen[key] = struct{}{}

				triangles = append(triangles, triangle{legs: [3]string{leg1, leg2, leg3}})
			}
		}
	}

	return triangles
}

func canonicalKey(a, b, c string) string {
	cs := []string{a, b, c}
	sort.Strings(cs)
	return strings.Join(cs, "/")
}

// score computes the profit signal for one triangle. The forward product of
// the three quoted mid prices deviates from 1.0 when an arbitrage exists;
// the deviation in pips is (product-1)*10000. Whichever direction has the
// larger absolute deviation is chosen, then the summed leg spreads are
// subtracted to get net profit.
func (d *Detector) score(tri triangle, provider domain.PairProvider) (TriangleOpportunity, bool) {
	var prices [3]float64
	var spreadCost float64

	for i, leg := range tri.legs {
		mid, ok := provider.MidPrice(leg)
		if !ok || mid <= 0 {
			return TriangleOpportunity{}, false
		}
		prices[i] = mid

		pair, ok := provider.PairBySymbol(leg)
		if !ok {
			return TriangleOpportunity{}, false
		}
		spreadCost += pair.Spread
	}

	product := prices[0] * prices[1] * prices[2]
	forwardPips := (product - 1.0) * 10000
	reversePips := (1.0/product - 1.0) * 10000

	profitPips := forwardPips
	direction := DirectionForward
	if absFloat(reversePips) > absFloat(forwardPips) {
		profitPips = reversePips
		direction = DirectionReverse
	}

	netProfit := profitPips - spreadCost
	isExecutable := netProfit > d.cfg.MinProfitPips && spreadCost < d.cfg.MaxSpreadCost

	confidence := 1.0
	if d.cfg.MinProfitPips > 0 {
		confidence = formulas.Clamp(netProfit/(d.cfg.MinProfitPips*2), 0, 1)
	} else if netProfit <= 0 {
		confidence = 0
	}

	return TriangleOpportunity{
		Pair1:         tri.legs[0],
		Pair2:         tri.legs[1],
		Pair3:         tri.legs[2],
		Direction:     direction,
		ProfitPips:    profitPips,
		ProfitPercent: profitPips / 10000,
		SpreadCost:    spreadCost,
		NetProfit:     netProfit,
		Confidence:    confidence,
		Timestamp:     d.clock.Now(),
		IsExecutable:  isExecutable,
	}, true
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
