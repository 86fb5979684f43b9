package domain

import "time"

// Signal is a directional trade candidate produced by strategy consensus.
// Signals are ephemeral: they live inside the signal loop between
// confirmation cycles and are never persisted.
type Signal struct {
	Symbol      string       // Trading symbol
	Direction   PositionSide // LONG or SHORT
	Confidence  float64      // Consensus confidence in [0, 1]
	FirstSeenAt time.Time    // Closed-candle time of the first observation
	Confirmed   bool         // Set once a second independent evaluation agrees
}
