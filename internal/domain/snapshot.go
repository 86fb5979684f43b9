package domain

import "time"

// PortfolioSnapshot is a point-in-time view of account equity. It is
// recomputed on demand from the exchange and the position store and never
// cached beyond a single risk check.
type PortfolioSnapshot struct {
	FreeBalance        float64   // Balance available for new margin
	LockedBalance      float64   // Balance locked as margin for open positions
	UnrealizedPnLTotal float64   // Sum of mark-to-market PnL over open positions
	TakenAt            time.Time // When the snapshot was computed
}

// TotalEquity is the denominator for every risk percentage. Risk is never
// measured against the free balance alone: a mostly-deployed account would
// otherwise look far riskier than it is.
func (s PortfolioSnapshot) TotalEquity() float64 {
	return s.FreeBalance + s.LockedBalance + s.UnrealizedPnLTotal
}
