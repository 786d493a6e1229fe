package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// balancedStrategy is the medium-horizon policy: moderate entry gate,
// fixed take-profit multiplier plus a fixed trailing stop, backstopped
// by a timeout.
type balancedStrategy struct {
	cfg StrategyConfig
}

func newBalancedStrategy(cfg StrategyConfig) *balancedStrategy {
	if cfg.EntryMultiplierGate == 0 {
		cfg.EntryMultiplierGate = 1.2
	}
	if cfg.MinLiquidity == 0 {
		cfg.MinLiquidity = 8
	}
	if cfg.PositionFraction == 0 {
		cfg.PositionFraction = 0.12
	}
	if cfg.MinPositionSize.IsZero() {
		cfg.MinPositionSize = decimal.NewFromFloat(0.05)
	}
	if cfg.MaxPositionSize.IsZero() {
		cfg.MaxPositionSize = decimal.NewFromFloat(0.75)
	}
	if cfg.TakeProfitMult == 0 {
		cfg.TakeProfitMult = 3.0
	}
	if cfg.TrailingStopPct == 0 {
		cfg.TrailingStopPct = 0.25
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 120
	}
	if cfg.SilenceWindowSec == 0 {
		cfg.SilenceWindowSec = 20
	}
	if cfg.NormalSlippagePct == 0 {
		cfg.NormalSlippagePct = 0.01
	}
	if cfg.PanicSlippagePct == 0 {
		cfg.PanicSlippagePct = 0.05
	}
	return &balancedStrategy{cfg: cfg}
}

func (s *balancedStrategy) ID() string { return "balanced" }

func (s *balancedStrategy) ShouldEnter(ec EntryContext) domain.EntryDecision {
	if ec.LiquidityUnits < s.cfg.MinLiquidity {
		return domain.EntryDecision{Reason: "liquidity below minimum"}
	}
	mult := ec.Multiplier()
	if mult < s.cfg.EntryMultiplierGate {
		return domain.EntryDecision{
			Reason: fmt.Sprintf("multiplier %.2f below gate %.2f", mult, s.cfg.EntryMultiplierGate),
		}
	}
	return domain.EntryDecision{Enter: true, Reason: "multiplier gate passed"}
}

func (s *balancedStrategy) EntryParams(ec EntryContext, free decimal.Decimal) domain.EntryParams {
	return domain.EntryParams{
		Size:            sizePosition(s.cfg, free),
		TakeProfitMult:  s.cfg.TakeProfitMult,
		TrailingStopPct: s.cfg.TrailingStopPct,
		TimeoutSec:      s.cfg.TimeoutSec,
	}
}

func (s *balancedStrategy) MonitorTick(pos *domain.Position, tick Tick) domain.MonitorDecision {
	if d, ok := silenceExit(s.cfg, tick); ok {
		return d
	}
	if tick.Price <= 0 {
		return hold()
	}

	if pos.TakeProfitPrice > 0 && tick.Price >= pos.TakeProfitPrice {
		return exit(domain.ReasonTakeProfit, false)
	}
	if pos.TrailingStopPct > 0 && drawdownFromPeak(pos, tick.Price) > pos.TrailingStopPct {
		return exit(domain.ReasonTrailingStop, false)
	}
	if !pos.Deadline.IsZero() && tick.Now.After(pos.Deadline) {
		return exit(domain.ReasonTimeout, false)
	}
	return hold()
}

func (s *balancedStrategy) ExitPlan(pos *domain.Position, reason string) domain.ExitPlan {
	return exitPlanFor(s.cfg, reason)
}
