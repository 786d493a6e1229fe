package domain

import "github.com/shopspring/decimal"

// EntryDecision answers "should we enter this candidate at all".
type EntryDecision struct {
	Enter  bool
	Reason string
}

// EntryParams sizes the position and sets the exit parameters the
// strategy wants. Zero values mean the parameter is not used.
type EntryParams struct {
	Size            decimal.Decimal
	StopLossPct     float64
	TakeProfitMult  float64
	TimeoutSec      int
	TrailingStopPct float64
}

type MonitorAction string

const (
	ActionHold MonitorAction = "HOLD"
	ActionExit MonitorAction = "EXIT"
)

// MonitorDecision is the per-tick verdict on an open position.
type MonitorDecision struct {
	Action MonitorAction
	Reason string
	Urgent bool
}

type ExitUrgency string

const (
	UrgencyNormal ExitUrgency = "NORMAL"
	UrgencyPanic  ExitUrgency = "PANIC"
)

// ExitPlan maps an exit reason to execution aggressiveness.
type ExitPlan struct {
	Urgency     ExitUrgency
	SlippagePct float64
}

// Exit reasons reported on close.
const (
	ReasonTakeProfit       = "take_profit"
	ReasonStopLoss         = "stop_loss"
	ReasonTrailingStop     = "trailing_stop"
	ReasonTimeout          = "timeout"
	ReasonMomentumCollapse = "momentum_collapse"
	ReasonStructuralBreak  = "structural_break"
	ReasonPriceSilence     = "price_silence"
)
