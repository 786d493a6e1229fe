package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// QuoteService returns current unit prices for token mints.
// A price of 0 means "no price available", never a real quote.
type QuoteService interface {
	GetPrice(ctx context.Context, mint string) (float64, error)
	GetPricesBatch(ctx context.Context, mints []string) (map[string]float64, error)
}

// Fill is the venue's report of an executed swap. Price is the executed
// unit price, 0 if the venue could not report one.
type Fill struct {
	Signature    string
	FilledTokens decimal.Decimal // buy side: tokens received
	Proceeds     decimal.Decimal // sell side: settlement units received
	Price        float64
}

// ExecutionAdapter submits swaps to the venue. The engine only ever
// sees success, fill data and error text; transport details stay inside.
type ExecutionAdapter interface {
	Buy(ctx context.Context, mint string, amount decimal.Decimal) (*Fill, error)
	Sell(ctx context.Context, mint string, tokens decimal.Decimal, slippagePct float64) (*Fill, error)
}

// ReadinessProbe reports whether a mint can be traded on the venue
// right now. Read-only and safe to poll at high frequency.
type ReadinessProbe interface {
	IsReady(ctx context.Context, mint string) bool
}

// CandidateFeed delivers freshly discovered tokens.
type CandidateFeed interface {
	OnCandidate(callback func(TokenCandidate))
}

// BalanceSource reports the authoritative settlement balance held at
// the venue, used for periodic ledger reconciliation.
type BalanceSource interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// TradeRepository persists the trade journal and engine events.
type TradeRepository interface {
	SavePositionHistory(ctx context.Context, h *PositionHistory) error
	ListPositionHistory(ctx context.Context, limit int) ([]*PositionHistory, error)

	SaveEvent(ctx context.Context, e *LifecycleEvent) error
	ListEvents(ctx context.Context, limit int) ([]*LifecycleEvent, error)

	SaveLedgerSnapshot(ctx context.Context, s *LedgerSnapshot) error
}
