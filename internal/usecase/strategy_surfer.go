package usecase

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// surferStrategy is the structural long-horizon policy: entry gated on
// the price multiplier vs the discovery price, no fixed take-profit or
// timeout. Exits on an adaptive trailing stop whose band widens with
// the peak multiplier, or on a structural break (a new local low below
// the prior local low).
type surferStrategy struct {
	cfg StrategyConfig
}

func newSurferStrategy(cfg StrategyConfig) *surferStrategy {
	if cfg.EntryMultiplierGate == 0 {
		cfg.EntryMultiplierGate = 1.3
	}
	if cfg.MinLiquidity == 0 {
		cfg.MinLiquidity = 10
	}
	if cfg.PositionFraction == 0 {
		cfg.PositionFraction = 0.15
	}
	if cfg.MinPositionSize.IsZero() {
		cfg.MinPositionSize = decimal.NewFromFloat(0.05)
	}
	if cfg.MaxPositionSize.IsZero() {
		cfg.MaxPositionSize = decimal.NewFromFloat(1.0)
	}
	if cfg.SilenceWindowSec == 0 {
		cfg.SilenceWindowSec = 30
	}
	if cfg.NormalSlippagePct == 0 {
		cfg.NormalSlippagePct = 0.01
	}
	if cfg.PanicSlippagePct == 0 {
		cfg.PanicSlippagePct = 0.08
	}
	return &surferStrategy{cfg: cfg}
}

func (s *surferStrategy) ID() string { return "surfer" }

func (s *surferStrategy) ShouldEnter(ec EntryContext) domain.EntryDecision {
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

func (s *surferStrategy) EntryParams(ec EntryContext, free decimal.Decimal) domain.EntryParams {
	// No fixed stop-loss, take-profit or timeout: the trailing band is
	// the only planned exit.
	return domain.EntryParams{
		Size: sizePosition(s.cfg, free),
	}
}

func (s *surferStrategy) MonitorTick(pos *domain.Position, tick Tick) domain.MonitorDecision {
	if d, ok := silenceExit(s.cfg, tick); ok {
		return d
	}
	if tick.Price <= 0 {
		return hold()
	}

	if pos.EntryPrice > 0 && pos.PeakPrice > 0 {
		band := trailingBandPct(pos.PeakPrice / pos.EntryPrice)
		if drawdownFromPeak(pos, tick.Price) > band {
			return exit(domain.ReasonTrailingStop, false)
		}
	}

	scratch, ok := pos.Scratch.(*domain.SurferScratch)
	if !ok || scratch == nil {
		scratch = &domain.SurferScratch{}
		pos.Scratch = scratch
	}
	broke := updateStructure(scratch, tick.Price)
	if broke {
		return exit(domain.ReasonStructuralBreak, true)
	}
	return hold()
}

// updateStructure tracks completed troughs. Returns true when a trough
// forms below the previous one.
func updateStructure(sc *domain.SurferScratch, price float64) bool {
	defer func() { sc.LastPrice = price }()

	if sc.LastPrice <= 0 {
		return false
	}
	if price < sc.LastPrice {
		sc.Descending = true
		return false
	}
	if price > sc.LastPrice && sc.Descending {
		trough := sc.LastPrice
		sc.Descending = false
		if sc.LastLow > 0 && trough < sc.LastLow {
			return true
		}
		sc.LastLow = trough
	}
	return false
}

func (s *surferStrategy) ExitPlan(pos *domain.Position, reason string) domain.ExitPlan {
	return exitPlanFor(s.cfg, reason)
}
