package strategy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

type stubStrategy struct {
	name     string
	required int
	signal   *domain.Signal
}

func (s *stubStrategy) Name() string            { return s.name }
func (s *stubStrategy) RequiredDataPoints() int { return s.required }
func (s *stubStrategy) Evaluate(ctx context.Context, klines []*domain.Kline) *domain.Signal {
	return s.signal
}

func vote(dir domain.PositionSide, conf float64) *stubStrategy {
	return &stubStrategy{name: string(dir), required: 10, signal: &domain.Signal{Direction: dir, Confidence: conf}}
}

func silent() *stubStrategy {
	return &stubStrategy{name: "silent", required: 10}
}

func window(closeTime time.Time) []*domain.Kline {
	return []*domain.Kline{{Symbol: "BTCUSDT", CloseTime: closeTime.Add(-time.Minute)}, {Symbol: "BTCUSDT", CloseTime: closeTime}}
}

func TestEvaluateMajorityWins(t *testing.T) {
	closeAt := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c, err := NewConsensus([]ports.Strategy{vote(domain.Long, 0.8), vote(domain.Long, 0.6), vote(domain.Short, 0.9)}, &mockLogger{})
	require.NoError(t, err)

	sig := c.Evaluate(context.Background(), window(closeAt))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Long, sig.Direction)
	assert.Equal(t, "BTCUSDT", sig.Symbol)
	// Mean of the agreeing votes (0.7) scaled by their share of the set (2/3).
	assert.InDelta(t, 0.7*(2.0/3.0), sig.Confidence, 1e-9)
	assert.Equal(t, closeAt, sig.FirstSeenAt)
}

func TestEvaluateSplitVoteIsNoConsensus(t *testing.T) {
	c, err := NewConsensus([]ports.Strategy{vote(domain.Long, 0.9), vote(domain.Short, 0.9)}, &mockLogger{})
	require.NoError(t, err)

	assert.Nil(t, c.Evaluate(context.Background(), window(time.Now())))
}

func TestEvaluateSilentSetIsNeutral(t *testing.T) {
	c, err := NewConsensus([]ports.Strategy{silent(), silent()}, &mockLogger{})
	require.NoError(t, err)

	assert.Nil(t, c.Evaluate(context.Background(), window(time.Now())))
}

func TestEvaluateAbstentionsDiluteConfidence(t *testing.T) {
	// One vote out of three: unanimous among voters but a weak mandate.
	c, err := NewConsensus([]ports.Strategy{vote(domain.Short, 0.9), silent(), silent()}, &mockLogger{})
	require.NoError(t, err)

	sig := c.Evaluate(context.Background(), window(time.Now()))
	require.NotNil(t, sig)
	assert.Equal(t, domain.Short, sig.Direction)
	assert.InDelta(t, 0.9/3.0, sig.Confidence, 1e-9)
}

func TestRequiredDataPointsIsMaxAcrossSet(t *testing.T) {
	c, err := NewConsensus([]ports.Strategy{
		&stubStrategy{name: "a", required: 20},
		&stubStrategy{name: "b", required: 55},
		&stubStrategy{name: "c", required: 14},
	}, &mockLogger{})
	require.NoError(t, err)

	assert.Equal(t, 55, c.RequiredDataPoints())
}

func TestNewConsensusRequiresStrategies(t *testing.T) {
	_, err := NewConsensus(nil, &mockLogger{})
	assert.Error(t, err)
}
