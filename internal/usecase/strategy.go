package usecase

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// EntryContext carries what the admission filters observed about a
// candidate by decision time.
type EntryContext struct {
	Candidate      domain.TokenCandidate
	ReferencePrice float64 // discovery price, or first observed quote
	CurrentPrice   float64
	LiquidityUnits float64
}

// Multiplier returns current price over the reference price, 0 if
// either side is unknown.
func (ec EntryContext) Multiplier() float64 {
	if ec.ReferencePrice <= 0 || ec.CurrentPrice <= 0 {
		return 0
	}
	return ec.CurrentPrice / ec.ReferencePrice
}

// Tick is the monitor loop's per-tick input to the strategy.
type Tick struct {
	Price      float64 // last known price, possibly stale
	Now        time.Time
	SilenceFor time.Duration // time since the last fresh quote
}

// Strategy turns live prices into hold/exit decisions for one policy.
// Strategies are stateless except for the scratch state they keep on
// the position itself.
type Strategy interface {
	ID() string
	ShouldEnter(ec EntryContext) domain.EntryDecision
	EntryParams(ec EntryContext, free decimal.Decimal) domain.EntryParams
	MonitorTick(pos *domain.Position, tick Tick) domain.MonitorDecision
	ExitPlan(pos *domain.Position, reason string) domain.ExitPlan
}

// StrategyConfig holds the tunables shared by all policy variants.
// Zero fields fall back to the variant's defaults in NewStrategy.
type StrategyConfig struct {
	EntryMultiplierGate float64         `yaml:"entry_multiplier_gate"`
	MinLiquidity        float64         `yaml:"min_liquidity"`
	PositionFraction    float64         `yaml:"position_fraction"`
	MinPositionSize     decimal.Decimal `yaml:"min_position_size"`
	MaxPositionSize     decimal.Decimal `yaml:"max_position_size"`
	StopLossPct         float64         `yaml:"stop_loss_pct"`
	TakeProfitMult      float64         `yaml:"take_profit_mult"`
	TimeoutSec          int             `yaml:"timeout_sec"`
	TrailingStopPct     float64         `yaml:"trailing_stop_pct"`
	SilenceWindowSec    int             `yaml:"silence_window_sec"`
	MomentumDropTicks   int             `yaml:"momentum_drop_ticks"`
	NormalSlippagePct   float64         `yaml:"normal_slippage_pct"`
	PanicSlippagePct    float64         `yaml:"panic_slippage_pct"`
}

// TargetMultiplier is the worst-case exit multiplier used when sizing
// the pessimistic reservation for a position.
func (c StrategyConfig) TargetMultiplier() float64 {
	if c.TakeProfitMult > 0 {
		return c.TakeProfitMult
	}
	// Open-ended policies (no fixed take-profit) reserve against a
	// conservative default.
	return 3.0
}

// NewStrategy builds the named policy variant with its defaults
// applied over cfg.
func NewStrategy(name string, cfg StrategyConfig) (Strategy, error) {
	switch name {
	case "scalper":
		return newScalperStrategy(cfg), nil
	case "surfer":
		return newSurferStrategy(cfg), nil
	case "balanced":
		return newBalancedStrategy(cfg), nil
	case "momentum":
		return newMomentumStrategy(cfg), nil
	}
	return nil, fmt.Errorf("unknown strategy: %s", name)
}

// sizePosition bounds the stake to a fraction of free balance between
// the configured floor and ceiling.
func sizePosition(cfg StrategyConfig, free decimal.Decimal) decimal.Decimal {
	size := free.Mul(decimal.NewFromFloat(cfg.PositionFraction))
	if !cfg.MaxPositionSize.IsZero() && size.GreaterThan(cfg.MaxPositionSize) {
		size = cfg.MaxPositionSize
	}
	if size.LessThan(cfg.MinPositionSize) {
		size = cfg.MinPositionSize
	}
	return size
}

// silenceExit is the failsafe shared by every variant: if no fresh
// price arrived within the window, exit on the last known price rather
// than holding blind.
func silenceExit(cfg StrategyConfig, tick Tick) (domain.MonitorDecision, bool) {
	window := time.Duration(cfg.SilenceWindowSec) * time.Second
	if window > 0 && tick.SilenceFor > window {
		return domain.MonitorDecision{
			Action: domain.ActionExit,
			Reason: domain.ReasonPriceSilence,
			Urgent: true,
		}, true
	}
	return domain.MonitorDecision{}, false
}

// trailingBandPct widens the trailing-stop tolerance as the peak
// multiplier climbs, so big winners get room to breathe.
func trailingBandPct(peakMult float64) float64 {
	switch {
	case peakMult >= 10:
		return 0.35
	case peakMult >= 5:
		return 0.30
	case peakMult >= 3:
		return 0.25
	case peakMult >= 2:
		return 0.20
	default:
		return 0.15
	}
}

// drawdownFromPeak returns the fraction price has fallen from the
// position's peak, 0 when the peak is unknown.
func drawdownFromPeak(pos *domain.Position, price float64) float64 {
	if pos.PeakPrice <= 0 || price <= 0 {
		return 0
	}
	return (pos.PeakPrice - price) / pos.PeakPrice
}

func hold() domain.MonitorDecision {
	return domain.MonitorDecision{Action: domain.ActionHold}
}

func exit(reason string, urgent bool) domain.MonitorDecision {
	return domain.MonitorDecision{Action: domain.ActionExit, Reason: reason, Urgent: urgent}
}

// exitPlanFor maps panicked exit reasons to aggressive execution and
// orderly ones to normal tolerance. Shared by all variants.
func exitPlanFor(cfg StrategyConfig, reason string) domain.ExitPlan {
	switch reason {
	case domain.ReasonStopLoss, domain.ReasonMomentumCollapse,
		domain.ReasonStructuralBreak, domain.ReasonPriceSilence:
		return domain.ExitPlan{Urgency: domain.UrgencyPanic, SlippagePct: cfg.PanicSlippagePct}
	}
	return domain.ExitPlan{Urgency: domain.UrgencyNormal, SlippagePct: cfg.NormalSlippagePct}
}
