package risk

import (
	"context"
	"fmt"
	"time"

	"cryptoTradeEngine/config"
	"cryptoTradeEngine/internal/cooldown"
	"cryptoTradeEngine/internal/domain"
	"cryptoTradeEngine/internal/events"
	"cryptoTradeEngine/internal/ports"
	"cryptoTradeEngine/internal/positions"
	"cryptoTradeEngine/internal/prices"
)

// Rejection reasons, stable strings consumed by notifiers and tests.
const (
	ReasonCooldownActive = "cooldown_active"
	ReasonCorrelation    = "correlation_limit"
	ReasonPortfolioRisk  = "portfolio_risk"
	ReasonDailyLoss      = "daily_loss_limit"
	ReasonLeverageCap    = "leverage_cap"
)

// Rejection is the non-fatal outcome of a failed pre-trade check. It halts
// only the one candidate trade.
type Rejection struct {
	Reason  string
	Details string
}

func (r *Rejection) Error() string {
	if r.Details == "" {
		return fmt.Sprintf("signal rejected: %s", r.Reason)
	}
	return fmt.Sprintf("signal rejected: %s (%s)", r.Reason, r.Details)
}

// Gate runs the sequential pre-trade checks. Checks run in a fixed order
// and short-circuit on the first failure; each failure emits a
// SignalRejected event with the reason.
type Gate struct {
	cfgStore  *config.Store
	tracker   *cooldown.Tracker
	store     *positions.Store
	cache     *prices.Cache
	gateway   ports.ExchangeGateway
	tradeRepo ports.TradeRepository
	bus       *events.Bus
	logger    ports.Logger
	now       func() time.Time
}

// NewGate creates a risk gate.
func NewGate(
	cfgStore *config.Store,
	tracker *cooldown.Tracker,
	store *positions.Store,
	cache *prices.Cache,
	gateway ports.ExchangeGateway,
	tradeRepo ports.TradeRepository,
	bus *events.Bus,
	logger ports.Logger,
) (*Gate, error) {
	if cfgStore == nil || tracker == nil || store == nil || cache == nil || gateway == nil || tradeRepo == nil || bus == nil || logger == nil {
		return nil, fmt.Errorf("missing required dependencies for risk gate")
	}
	return &Gate{
		cfgStore:  cfgStore,
		tracker:   tracker,
		store:     store,
		cache:     cache,
		gateway:   gateway,
		tradeRepo: tradeRepo,
		bus:       bus,
		logger:    logger,
		now:       time.Now,
	}, nil
}

// Evaluate accepts or rejects the candidate signal at the given live market
// price. A nil return is acceptance; a *Rejection return names the failed
// check. Any other error is an infrastructure failure (balance query, DB).
func (g *Gate) Evaluate(ctx context.Context, sig *domain.Signal, price float64) error {
	cfg := g.cfgStore.Get()

	// (a) Cooldown. One read of both fields under one lock.
	if active, until := g.tracker.InCooldown(); active {
		return g.reject(ctx, sig, &Rejection{
			Reason:  ReasonCooldownActive,
			Details: fmt.Sprintf("until %s", until.UTC().Format(time.RFC3339)),
		})
	}

	// Equity snapshot for the remaining checks. Computed fresh per
	// evaluation; never cached longer than one risk check.
	snap, err := g.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("risk gate could not compute portfolio snapshot: %w", err)
	}
	equity := snap.TotalEquity()
	if equity <= 0 {
		return g.reject(ctx, sig, &Rejection{
			Reason:  ReasonPortfolioRisk,
			Details: "non-positive total equity",
		})
	}

	candidateMargin := price * cfg.Quantity / float64(cfg.Leverage)

	// (b) Correlation: margin concentrated in the candidate's direction,
	// including the candidate itself, must stay under the limit.
	directional := candidateMargin
	for _, pos := range g.store.AllOpen() {
		if pos.Side == sig.Direction {
			directional += pos.EntryPrice * pos.Quantity / float64(pos.Leverage)
		}
	}
	directionalPct := directional / equity * 100
	if directionalPct > cfg.CorrelationLimitPct {
		return g.reject(ctx, sig, &Rejection{
			Reason:  ReasonCorrelation,
			Details: fmt.Sprintf("%.1f%% %s exposure exceeds %.1f%% limit", directionalPct, sig.Direction, cfg.CorrelationLimitPct),
		})
	}

	// (c) Portfolio risk: estimated loss if the stop is hit, against total
	// equity (free + locked + unrealized), never free balance alone.
	lossIfStopped := price * cfg.Quantity * cfg.StopLossPct
	riskPct := lossIfStopped / equity * 100
	if riskPct > cfg.MaxPortfolioRiskPct {
		return g.reject(ctx, sig, &Rejection{
			Reason:  ReasonPortfolioRisk,
			Details: fmt.Sprintf("%.2f%% of equity at risk exceeds %.2f%% limit", riskPct, cfg.MaxPortfolioRiskPct),
		})
	}

	// (d) Daily realized loss vs starting equity. Blocks new entries only;
	// closes are never gated here.
	midnight := g.now().UTC().Truncate(24 * time.Hour)
	realizedToday, err := g.tradeRepo.RealizedPnLSince(ctx, midnight)
	if err != nil {
		return fmt.Errorf("risk gate could not load daily realized PnL: %w", err)
	}
	if realizedToday < 0 {
		startingEquity := equity - realizedToday
		lossPct := -realizedToday / startingEquity * 100
		if lossPct >= cfg.DailyLossLimitPct {
			return g.reject(ctx, sig, &Rejection{
				Reason:  ReasonDailyLoss,
				Details: fmt.Sprintf("%.2f%% daily loss at or above %.2f%% limit", lossPct, cfg.DailyLossLimitPct),
			})
		}
	}

	// (e) Leverage cap.
	if cfg.Leverage > cfg.LeverageCap {
		return g.reject(ctx, sig, &Rejection{
			Reason:  ReasonLeverageCap,
			Details: fmt.Sprintf("leverage %d exceeds cap %d", cfg.Leverage, cfg.LeverageCap),
		})
	}

	g.logger.Info(ctx, "Signal accepted by risk gate", map[string]interface{}{
		"symbol":    sig.Symbol,
		"direction": sig.Direction,
		"price":     price,
		"equity":    equity,
		"riskPct":   riskPct,
	})
	return nil
}

// Snapshot recomputes the portfolio view from the exchange and the position
// store. Callers must not hold any data lock: this performs a network call.
func (g *Gate) Snapshot(ctx context.Context) (domain.PortfolioSnapshot, error) {
	cfg := g.cfgStore.Get()
	balances, err := g.gateway.GetBalances(ctx, cfg.QuoteAsset)
	if err != nil {
		return domain.PortfolioSnapshot{}, err
	}

	var unrealized float64
	for _, pos := range g.store.AllOpen() {
		if price, _, ok := g.cache.Get(pos.Symbol); ok {
			unrealized += pos.MarkToMarket(price)
		} else {
			unrealized += pos.UnrealizedPnL
		}
	}

	return domain.PortfolioSnapshot{
		FreeBalance:        balances.Free,
		LockedBalance:      balances.Locked,
		UnrealizedPnLTotal: unrealized,
		TakenAt:            g.now().UTC(),
	}, nil
}

func (g *Gate) reject(ctx context.Context, sig *domain.Signal, rej *Rejection) error {
	g.logger.Info(ctx, "Signal rejected by risk gate", map[string]interface{}{
		"symbol":    sig.Symbol,
		"direction": sig.Direction,
		"reason":    rej.Reason,
		"details":   rej.Details,
	})
	g.bus.Publish(events.Event{
		Type:   events.SignalRejected,
		Symbol: sig.Symbol,
		Fields: map[string]interface{}{"reason": rej.Reason, "details": rej.Details},
	})
	return rej
}
