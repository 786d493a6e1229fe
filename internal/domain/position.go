package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type PositionStatus string

const (
	StatusActive    PositionStatus = "ACTIVE"
	StatusClosing   PositionStatus = "CLOSING"
	StatusClosed    PositionStatus = "CLOSED"
	StatusAbandoned PositionStatus = "ABANDONED"
)

// PriceHistorySize is the ring depth used for momentum estimation.
const PriceHistorySize = 5

type PricePoint struct {
	Price float64
	At    time.Time
}

// PriceRing is a small fixed-size ring of recent price samples,
// oldest samples overwritten first.
type PriceRing struct {
	points [PriceHistorySize]PricePoint
	head   int
	count  int
}

func (r *PriceRing) Push(price float64, at time.Time) {
	r.points[r.head] = PricePoint{Price: price, At: at}
	r.head = (r.head + 1) % PriceHistorySize
	if r.count < PriceHistorySize {
		r.count++
	}
}

func (r *PriceRing) Len() int {
	return r.count
}

// Last returns up to n most recent samples, oldest first.
func (r *PriceRing) Last(n int) []PricePoint {
	if n > r.count {
		n = r.count
	}
	out := make([]PricePoint, 0, n)
	for i := n; i > 0; i-- {
		idx := (r.head - i + PriceHistorySize*2) % PriceHistorySize
		out = append(out, r.points[idx])
	}
	return out
}

// StrategyScratch is per-strategy working state carried on the position.
// Each strategy variant owns exactly one concrete scratch type.
type StrategyScratch interface {
	isStrategyScratch()
}

// SurferScratch tracks local price structure for structural-break detection.
type SurferScratch struct {
	LastPrice  float64
	Descending bool
	LastLow    float64 // most recently completed trough
}

func (*SurferScratch) isStrategyScratch() {}

// MomentumScratch tracks consecutive down-ticks for collapse detection.
type MomentumScratch struct {
	LastPrice       float64
	ConsecutiveDown int
}

func (*MomentumScratch) isStrategyScratch() {}

// Position is one open stake in a single token mint. At most one
// non-terminal position exists per mint at any time.
type Position struct {
	Mint       string
	StrategyID string

	EntryPrice  float64
	Invested    decimal.Decimal // capital actually deployed after entry fee
	Reserved    decimal.Decimal // ledger hold, >= Invested (covers exit cost + slippage)
	TokenAmount decimal.Decimal // tokens received on the buy fill
	EntryTime   time.Time

	PeakPrice       float64 // high-water mark since entry
	CurrentPrice    float64
	LastPriceUpdate time.Time

	Status PositionStatus

	// Exit targets; zero values mean "not set" (structural strategies
	// use adaptive bands instead of fixed levels).
	StopLossPrice   float64
	TakeProfitPrice float64
	Deadline        time.Time
	TrailingStopPct float64

	History PriceRing
	Scratch StrategyScratch
}

// Multiplier returns current price over entry price, 0 if unknown.
func (p *Position) Multiplier() float64 {
	if p.EntryPrice <= 0 || p.CurrentPrice <= 0 {
		return 0
	}
	return p.CurrentPrice / p.EntryPrice
}

// TokenCandidate is a freshly discovered token emitted by the feed.
type TokenCandidate struct {
	Mint           string
	Symbol         string
	PoolAddress    string
	DiscoveryPrice float64 // unit price at pool creation, 0 if unknown
	LiquidityUnits float64 // settlement units in the pool at discovery
	DiscoveredAt   time.Time
}

// PositionHistory is a terminal position persisted for the journal.
type PositionHistory struct {
	ID         int64
	Mint       string
	StrategyID string
	Status     PositionStatus
	EntryPrice float64
	ExitPrice  float64
	Invested   decimal.Decimal
	Reserved   decimal.Decimal
	Proceeds   decimal.Decimal
	Multiplier float64
	Reason     string
	OpenedAt   time.Time
	ClosedAt   time.Time
}

// LifecycleEvent is a structured engine event (admission, close,
// ledger repair) mirrored to the event sink.
type LifecycleEvent struct {
	ID        string
	Mint      string
	Kind      string
	Reason    string
	Detail    string
	CreatedAt time.Time
}

// Lifecycle event kinds.
const (
	EventCandidateAdmitted = "candidate_admitted"
	EventCandidateRejected = "candidate_rejected"
	EventPositionOpened    = "position_opened"
	EventPositionClosed    = "position_closed"
	EventPositionAbandoned = "position_abandoned"
	EventLedgerRepair      = "ledger_repair"
)

// LedgerSnapshot is a point-in-time view of the capital ledger.
type LedgerSnapshot struct {
	Total  decimal.Decimal
	Locked decimal.Decimal
	Free   decimal.Decimal
	Peak   decimal.Decimal
	At     time.Time
}
