package usecase

import (
	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// scalperStrategy is the aggressive short-horizon policy: enter
// immediately on detection, hard percentage stop-loss, fixed
// take-profit multiplier, short timeout.
type scalperStrategy struct {
	cfg StrategyConfig
}

func newScalperStrategy(cfg StrategyConfig) *scalperStrategy {
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
	if cfg.StopLossPct == 0 {
		cfg.StopLossPct = 0.20
	}
	if cfg.TakeProfitMult == 0 {
		cfg.TakeProfitMult = 2.0
	}
	if cfg.TimeoutSec == 0 {
		cfg.TimeoutSec = 45
	}
	if cfg.SilenceWindowSec == 0 {
		cfg.SilenceWindowSec = 15
	}
	if cfg.NormalSlippagePct == 0 {
		cfg.NormalSlippagePct = 0.01
	}
	if cfg.PanicSlippagePct == 0 {
		cfg.PanicSlippagePct = 0.05
	}
	return &scalperStrategy{cfg: cfg}
}

func (s *scalperStrategy) ID() string { return "scalper" }

func (s *scalperStrategy) ShouldEnter(ec EntryContext) domain.EntryDecision {
	if ec.LiquidityUnits < s.cfg.MinLiquidity {
		return domain.EntryDecision{Reason: "liquidity below minimum"}
	}
	// Immediate-on-detection: no multiplier gate.
	return domain.EntryDecision{Enter: true, Reason: "fresh pool"}
}

func (s *scalperStrategy) EntryParams(ec EntryContext, free decimal.Decimal) domain.EntryParams {
	return domain.EntryParams{
		Size:           sizePosition(s.cfg, free),
		StopLossPct:    s.cfg.StopLossPct,
		TakeProfitMult: s.cfg.TakeProfitMult,
		TimeoutSec:     s.cfg.TimeoutSec,
	}
}

func (s *scalperStrategy) MonitorTick(pos *domain.Position, tick Tick) domain.MonitorDecision {
	if d, ok := silenceExit(s.cfg, tick); ok {
		return d
	}
	if tick.Price <= 0 {
		return hold()
	}

	if pos.TakeProfitPrice > 0 && tick.Price >= pos.TakeProfitPrice {
		return exit(domain.ReasonTakeProfit, false)
	}
	if pos.StopLossPrice > 0 && tick.Price <= pos.StopLossPrice {
		return exit(domain.ReasonStopLoss, true)
	}
	if !pos.Deadline.IsZero() && tick.Now.After(pos.Deadline) {
		return exit(domain.ReasonTimeout, false)
	}
	return hold()
}

func (s *scalperStrategy) ExitPlan(pos *domain.Position, reason string) domain.ExitPlan {
	return exitPlanFor(s.cfg, reason)
}
