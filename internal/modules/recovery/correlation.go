package recovery

import (
	"math"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/arbiphoenix/phoenix/pkg/formulas"
)

const (
	// maxHistory bounds the per-pair price ring buffer
	maxHistory = 500
	// minSamples is the minimum observations before a correlation is trusted
	minSamples = 30
)

// Strength classifies the magnitude of a correlation coefficient
type Strength string

const (
	StrengthStrong Strength = "strong"
	StrengthMedium Strength = "medium"
	StrengthWeak   Strength = "weak"
	StrengthNone   Strength = "none"
)

// Thresholds are the absolute-value cutoffs for correlation strength
type Thresholds struct {
	Strong float64
	Medium float64
	Weak   float64
}

// Classify maps a coefficient to a strength bucket
func (t Thresholds) Classify(corr float64) Strength {
	abs := math.Abs(corr)
	switch {
	case abs >= t.Strong:
		return StrengthStrong
	case abs >= t.Medium:
		return StrengthMedium
	case abs >= t.Weak:
		return StrengthWeak
	default:
		return StrengthNone
	}
}

// HedgeCandidate is a correlated pair usable as a hedge instrument
type HedgeCandidate struct {
	Symbol      string   `json:"symbol"`
	Correlation float64  `json:"correlation"`
	Strength    Strength `json:"strength"`
}

// CorrelationTracker accumulates price history per pair and maintains a
// pairwise Pearson correlation matrix over log returns. Observations arrive
// from the engine's scan loop; the matrix is refreshed on a schedule.
type CorrelationTracker struct {
	thresholds Thresholds
	log        zerolog.Logger

	mu      sync.RWMutex
	history map[string][]float64
	matrix  map[string]map[string]float64
}

// NewCorrelationTracker creates an empty tracker
func NewCorrelationTracker(thresholds Thresholds, log zerolog.Logger) *CorrelationTracker {
	return &CorrelationTracker{
		thresholds: thresholds,
		log:        log.With().Str("component", "correlation").Logger(),
		history:    make(map[string][]float64),
		matrix:     make(map[string]map[string]float64),
	}
}

// Observe appends a price observation for a pair
func (t *CorrelationTracker) Observe(symbol string, price float64) {
	if price <= 0 {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	series := append(t.history[symbol], price)
	if len(series) > maxHistory {
		series = series[len(series)-maxHistory:]
	}
	t.history[symbol] = series
}

// Refresh recomputes the pairwise correlation matrix from the accumulated
// history. Pairs with fewer than minSamples observations are excluded.
func (t *CorrelationTracker) Refresh() {
	t.mu.Lock()
	defer t.mu.Unlock()

	returns := make(map[string][]float64, len(t.history))
	for symbol, prices := range t.history {
		if len(prices) < minSamples {
			continue
		}
		returns[symbol] = formulas.LogReturns(prices)
	}

	matrix := make(map[string]map[string]float64, len(returns))
	for a, ra := range returns {
		matrix[a] = make(map[string]float64)
		for b, rb := range returns {
			if a == b {
				continue
			}
			n := len(ra)
			if len(rb) < n {
				n = len(rb)
			}
			matrix[a][b] = formulas.Correlation(ra[len(ra)-n:], rb[len(rb)-n:])
		}
	}

	t.matrix = matrix
	t.log.Debug().Int("pairs", len(matrix)).Msg("Correlation matrix refreshed")
}

// Correlation returns the coefficient between two pairs, if known
func (t *CorrelationTracker) Correlation(a, b string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	row, ok := t.matrix[a]
	if !ok {
		return 0, false
	}
	corr, ok := row[b]
	return corr, ok
}

// Candidates returns the hedge candidates for a symbol with at least medium
// strength, ranked by absolute correlation descending.
func (t *CorrelationTracker) Candidates(symbol string) []HedgeCandidate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []HedgeCandidate
	for other, corr := range t.matrix[symbol] {
		strength := t.thresholds.Classify(corr)
		if strength != StrengthStrong && strength != StrengthMedium {
			continue
		}
		out = append(out, HedgeCandidate{Symbol: other, Correlation: corr, Strength: strength})
	}

	sort.Slice(out, func(i, j int) bool {
		return math.Abs(out[i].Correlation) > math.Abs(out[j].Correlation)
	})
	return out
}
