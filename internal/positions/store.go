package positions

import (
	"sync"

	"cryptoTradeEngine/internal/domain"
)

// Store is the concurrent map of live positions keyed by symbol. All
// mutation goes through the execution coordinator or the reconciliation
// path; the SL/TP monitor only reads.
type Store struct {
	mu       sync.RWMutex
	bySymbol map[string]*domain.Position
}

// NewStore creates an empty position store.
func NewStore() *Store {
	return &Store{bySymbol: make(map[string]*domain.Position)}
}

// Get returns a copy of the position for symbol, or false when none exists.
// Copies keep readers from racing writers over position fields.
func (s *Store) Get(symbol string) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.bySymbol[symbol]
	if !ok {
		return domain.Position{}, false
	}
	return *pos, true
}

// Upsert inserts or replaces the position for its symbol.
func (s *Store) Upsert(pos *domain.Position) {
	cp := *pos
	s.mu.Lock()
	s.bySymbol[cp.Symbol] = &cp
	s.mu.Unlock()
}

// Remove deletes the position for symbol, if present.
func (s *Store) Remove(symbol string) {
	s.mu.Lock()
	delete(s.bySymbol, symbol)
	s.mu.Unlock()
}

// AllOpen returns copies of every position that is live on the exchange.
func (s *Store) AllOpen() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.bySymbol))
	for _, pos := range s.bySymbol {
		if pos.IsOpen() {
			out = append(out, *pos)
		}
	}
	return out
}

// Len returns the number of tracked positions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.bySymbol)
}
