package signals

import (
	"math"

	"cryptoTradeEngine/internal/domain"
)

// ChopDetector flags a choppy market regime using Kaufman's efficiency
// ratio: net price movement over the window divided by the sum of absolute
// bar-to-bar moves. A low ratio means price churned without going anywhere,
// which is where trend entries bleed.
type ChopDetector struct {
	window    int
	threshold float64
}

// NewChopDetector creates a detector. window is the number of closed candles
// inspected; ratios below threshold are flagged choppy.
func NewChopDetector(window int, threshold float64) *ChopDetector {
	if window < 2 {
		window = 2
	}
	return &ChopDetector{window: window, threshold: threshold}
}

// IsChoppy reports whether the most recent window of closed candles shows a
// churning, directionless market. Too little data counts as choppy: an
// unreadable regime is not a tradeable one.
func (d *ChopDetector) IsChoppy(klines []*domain.Kline) bool {
	if len(klines) < d.window {
		return true
	}
	window := klines[len(klines)-d.window:]

	net := math.Abs(window[len(window)-1].Close - window[0].Close)
	var traveled float64
	for i := 1; i < len(window); i++ {
		traveled += math.Abs(window[i].Close - window[i-1].Close)
	}
	if traveled == 0 {
		return true
	}
	return net/traveled < d.threshold
}
