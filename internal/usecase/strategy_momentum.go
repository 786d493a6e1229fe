package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// momentumStrategy exits when the move degenerates: N consecutive
// down-ticks with negative acceleration over the price ring. Fixed
// take-profit and timeout as backstops.
type momentumStrategy struct {
	cfg StrategyConfig
}

func newMomentumStrategy(cfg StrategyConfig) *momentumStrategy {
	if cfg.MinLiquidity == 0 {
		cfg.MinLiquidity = 5
	}
	if cfg.PositionFraction == 0 {
		cfg.PositionFraction = 0.10
	}
	if cfg.MinPositionSize.IsZero() {
		cfg.MinPositionSize = decimal.NewFromFloat(0.05)
	}
	if cfg.MaxPositionSize.IsZero() {
		cfg.MaxPositionSize = decimal.NewFromFloat(0.5)
	}
	if cfg.TakeProfitMult == 0 {
		cfg.TakeProfitMult = 2.5
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 90
	}
	if cfg.MomentumDropTicks == 0 {
		cfg.MomentumDropTicks = 3
	}
	if cfg.SilenceWindowSec == 0 {
		cfg.SilenceWindowSec = 15
	}
	if cfg.NormalSlippagePct == 0 {
		cfg.NormalSlippagePct = 0.01
	}
	if cfg.PanicSlippagePct == 0 {
		cfg.PanicSlippagePct = 0.06
	}
	return &momentumStrategy{cfg: cfg}
}

func (s *momentumStrategy) ID() string { return "momentum" }

func (s *momentumStrategy) ShouldEnter(ec EntryContext) domain.EntryDecision {
	if ec.LiquidityUnits < s.cfg.MinLiquidity {
		return domain.EntryDecision{Reason: "liquidity below minimum"}
	}
	return domain.EntryDecision{Enter: true, Reason: "fresh pool"}
}

func (s *momentumStrategy) EntryParams(ec EntryContext, free decimal.Decimal) domain.EntryParams {
	return domain.EntryParams{
		Size:           sizePosition(s.cfg, free),
		TakeProfitMult: s.cfg.TakeProfitMult,
		TimeoutSec:     s.cfg.TimeoutSec,
	}
}

func (s *momentumStrategy) MonitorTick(pos *domain.Position, tick Tick) domain.MonitorDecision {
	if d, ok := silenceExit(s.cfg, tick); ok {
		return d
	}
	if tick.Price <= 0 {
		return hold()
	}

	if pos.TakeProfitPrice > 0 && tick.Price >= pos.TakeProfitPrice {
		return exit(domain.ReasonTakeProfit, false)
	}

	scratch, ok := pos.Scratch.(*domain.MomentumScratch)
	if !ok || scratch == nil {
		scratch = &domain.MomentumScratch{}
		pos.Scratch = scratch
	}
	if scratch.LastPrice > 0 {
		if tick.Price < scratch.LastPrice {
			scratch.ConsecutiveDown++
		} else if tick.Price > scratch.LastPrice {
			scratch.ConsecutiveDown = 0
		}
	}
	scratch.LastPrice = tick.Price

	if scratch.ConsecutiveDown >= s.cfg.MomentumDropTicks && accelerating(pos) {
		return exit(domain.ReasonMomentumCollapse, true)
	}

	if !pos.Deadline.IsZero() && tick.Now.After(pos.Deadline) {
		return exit(domain.ReasonTimeout, false)
	}
	return hold()
}

// accelerating reports whether the fall is speeding up: the latest
// velocity over the ring is more negative than the one before it.
func accelerating(pos *domain.Position) bool {
	pts := pos.History.Last(3)
	if len(pts) < 3 {
		return false
	}
	v1 := pts[1].Price - pts[0].Price
	v2 := pts[2].Price - pts[1].Price
	return v2 < v1 && v2 < 0
}

func (s *momentumStrategy) ExitPlan(pos *domain.Position, reason string) domain.ExitPlan {
	return exitPlanFor(s.cfg, reason)
}
