package engine

import (
	"sync"

	"github.com/arbiphoenix/phoenix/internal/domain"
)

// PositionBook is the engine's view of open positions. It is replaced
// wholesale from the gateway on every scan tick and read by the recovery and
// harvest loops.
type PositionBook struct {
	mu        sync.RWMutex
	positions []domain.Position
}

// NewPositionBook creates an empty book
func NewPositionBook() *PositionBook {
	return &PositionBook{}
}

// Replace swaps in a fresh position snapshot
func (b *PositionBook) Replace(positions []domain.Position) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.positions = positions
}

// Snapshot returns a copy of the current positions
func (b *PositionBook) Snapshot() []domain.Position {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Position, len(b.positions))
	copy(out, b.positions)
	return out
}

// TotalProfit sums floating P&L across the book
func (b *PositionBook) TotalProfit() float64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var total float64
	for _, pos := range b.positions {
		total += pos.Profit
	}
	return total
}

// Count returns the number of open positions
func (b *PositionBook) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.positions)
}
