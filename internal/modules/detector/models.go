package detector

import "time"

// Direction of a triangle traversal
type Direction string

const (
	DirectionForward Direction = "forward"
	DirectionReverse Direction = "reverse"
)

// TriangleOpportunity is one scored triangular arbitrage candidate. A batch of
// these is produced per scan cycle and discarded at the next scan.
type TriangleOpportunity struct {
	Pair1         string    `json:"pair1"`
	Pair2         string    `json:"pair2"`
	Pair3         string    `json:"pair3"`
	Direction     Direction `json:"direction"`
	ProfitPips    float64   `json:"profit_pips"`
	ProfitPercent float64   `json:"profit_percent"`
	SpreadCost    float64   `json:"spread_cost"`
	NetProfit     float64   `json:"net_profit"`
	Confidence    float64   `json:"confidence"`
	Timestamp     time.Time `json:"timestamp"`
	IsExecutable  bool      `json:"is_executable"`
}

// Pairs returns the three leg symbols in order
func (o TriangleOpportunity) Pairs() [3]string {
	return [3]string{o.Pair1, o.Pair2, o.Pair3}
}
