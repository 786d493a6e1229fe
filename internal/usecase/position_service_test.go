package usecase_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
	"github.com/vitos/token_snipe_bot/internal/usecase"
)

// stubVenue plays quote service, execution adapter and readiness probe
// in one piece, the way the real venue adapter does.
type stubVenue struct {
	mu        sync.Mutex
	price     float64
	ready     bool
	buyErr    error
	sellErr   error
	sellFill  *domain.Fill
	buyCalls  int
	sellCalls int
}

func (v *stubVenue) GetPrice(ctx context.Context, mint string) (float64, error) {
	return v.price, nil
}

func (v *stubVenue) GetPricesBatch(ctx context.Context, mints []string) (map[string]float64, error) {
	out := make(map[string]float64, len(mints))
	for _, m := range mints {
		out[m] = v.price
	}
	return out, nil
}

func (v *stubVenue) IsReady(ctx context.Context, mint string) bool {
	return v.ready
}

func (v *stubVenue) Buy(ctx context.Context, mint string, amount decimal.Decimal) (*domain.Fill, error) {
	v.mu.Lock()
	v.buyCalls++
	v.mu.Unlock()
	if v.buyErr != nil {
		return nil, v.buyErr
	}
	return &domain.Fill{FilledTokens: decimal.NewFromInt(100000), Price: v.price}, nil
}

func (v *stubVenue) Sell(ctx context.Context, mint string, tokens decimal.Decimal, slippagePct float64) (*domain.Fill, error) {
	v.mu.Lock()
	v.sellCalls++
	v.mu.Unlock()
	if v.sellErr != nil {
		return nil, v.sellErr
	}
	if v.sellFill != nil {
		return v.sellFill, nil
	}
	return &domain.Fill{Proceeds: decimal.Zero, Price: v.price}, nil
}

type memRepo struct {
	mu        sync.Mutex
	histories []*domain.PositionHistory
	events    []*domain.LifecycleEvent
	snapshots []*domain.LedgerSnapshot
}

func (r *memRepo) SavePositionHistory(ctx context.Context, h *domain.PositionHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.histories = append(r.histories, h)
	return nil
}

func (r *memRepo) ListPositionHistory(ctx context.Context, limit int) ([]*domain.PositionHistory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.PositionHistory(nil), r.histories...), nil
}

func (r *memRepo) SaveEvent(ctx context.Context, e *domain.LifecycleEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memRepo) ListEvents(ctx context.Context, limit int) ([]*domain.LifecycleEvent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*domain.LifecycleEvent(nil), r.events...), nil
}

func (r *memRepo) SaveLedgerSnapshot(ctx context.Context, s *domain.LedgerSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots = append(r.snapshots, s)
	return nil
}

func (r *memRepo) hasEvent(kind string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind == kind {
			return true
		}
	}
	return false
}

type serviceFixture struct {
	svc    *usecase.PositionService
	venue  *stubVenue
	repo   *memRepo
	ledger *usecase.Ledger
}

func newServiceFixture(t *testing.T, maxPositions int, balance decimal.Decimal) *serviceFixture {
	t.Helper()
	venue := &stubVenue{price: 1.0, ready: true}
	repo := &memRepo{}
	log := zap.NewNop()
	ledger := usecase.NewLedger(balance, log)

	strategyCfg := usecase.StrategyConfig{
		PositionFraction: 0.10,
		MinPositionSize:  decimal.NewFromFloat(0.05),
		MaxPositionSize:  decimal.NewFromFloat(0.5),
		TakeProfitMult:   2.0,
		MinLiquidity:     5,
	}
	strategy, err := usecase.NewStrategy("scalper", strategyCfg)
	require.NoError(t, err)

	cfg := usecase.EngineConfig{
		MaxPositions:          maxPositions,
		MonitorInterval:       time.Hour, // keep monitors inert, tests drive the close path directly
		ReadinessPollInterval: 5 * time.Millisecond,
		ReadinessWaitTimeout:  200 * time.Millisecond,
		EntryFeePct:           0.01,
		ExitFeePct:            0.01,
		ExitSlippagePct:       0.05,
	}
	svc := usecase.NewPositionService(cfg, strategyCfg, ledger, strategy,
		usecase.NewRetryableExecutor(venue, log), venue, venue, repo, nil, log)
	return &serviceFixture{svc: svc, venue: venue, repo: repo, ledger: ledger}
}

func candidate(mint string) domain.TokenCandidate {
	return domain.TokenCandidate{
		Mint:           mint,
		Symbol:         "TKN",
		DiscoveryPrice: 1.0,
		LiquidityUnits: 50,
		DiscoveredAt:   time.Now(),
	}
}

func TestService_OpensPosition(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok, "rejected: %s", reason)

	// size = 0.1, reserved = 0.1 + 0.1*0.01 + 0.1*2.0*0.05 = 0.111,
	// entry fee 0.001 leaves principal.
	snap := f.ledger.Snapshot()
	assert.True(t, snap.Locked.Equal(dec(0.111)), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(0.999)), "total %s", snap.Total)

	positions := f.svc.ActivePositions()
	require.Len(t, positions, 1)
	assert.Equal(t, "MINT1", positions[0].Mint)
	assert.Equal(t, domain.StatusActive, positions[0].Status)
	assert.True(t, positions[0].Invested.Equal(dec(0.1)))

	assert.Equal(t, 1, f.venue.buyCalls)
	assert.True(t, f.repo.hasEvent(domain.EventCandidateAdmitted))
	assert.True(t, f.repo.hasEvent(domain.EventPositionOpened))
}

func TestService_RejectsWhenSlotsFull(t *testing.T) {
	f := newServiceFixture(t, 1, dec(1.0))

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)
	before := f.ledger.Snapshot()

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT2"))
	assert.False(t, ok)
	assert.Equal(t, "no free slots", reason)

	// The slot gate fires before any capital is touched.
	after := f.ledger.Snapshot()
	assert.True(t, after.Total.Equal(before.Total))
	assert.True(t, after.Locked.Equal(before.Locked))
	assert.Equal(t, 1, f.venue.buyCalls)
}

func TestService_RejectsDuplicateMint(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	assert.False(t, ok)
	assert.Equal(t, "position already open", reason)
	assert.Len(t, f.svc.ActivePositions(), 1)
}

func TestService_RejectsOnInsufficientBalance(t *testing.T) {
	f := newServiceFixture(t, 5, dec(0.01))

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	assert.False(t, ok)
	assert.Equal(t, "insufficient balance", reason)
	assert.Equal(t, 0, f.venue.buyCalls)
}

func TestService_ReadinessTimeoutLeavesLedgerUntouched(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.ready = false

	before := f.ledger.Snapshot()
	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	assert.False(t, ok)
	assert.Equal(t, "readiness timeout", reason)

	after := f.ledger.Snapshot()
	assert.True(t, after.Total.Equal(before.Total))
	assert.True(t, after.Locked.IsZero())
	assert.Equal(t, 0, f.venue.buyCalls)
	assert.True(t, f.repo.hasEvent(domain.EventCandidateRejected))
}

func TestService_RollsBackReservationOnFailedBuy(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.buyErr = errors.New("insufficient liquidity on venue")

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	assert.False(t, ok)
	assert.True(t, strings.HasPrefix(reason, "buy failed"), "reason %q", reason)

	// Exact rollback: the hold and the entry fee are both undone.
	snap := f.ledger.Snapshot()
	assert.True(t, snap.Total.Equal(dec(1.0)), "total %s", snap.Total)
	assert.True(t, snap.Locked.IsZero(), "locked %s", snap.Locked)
	assert.Empty(t, f.svc.ActivePositions())
}

func TestService_CloseReleasesAndCreditsProceeds(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.sellFill = &domain.Fill{Proceeds: dec(0.25), Price: 2.0}

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)

	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonTakeProfit, 2.0)

	// Only the net result lands on the ledger: 0.25 proceeds minus the
	// 0.1 stake that never left total, on top of 0.999 after the fee.
	snap := f.ledger.Snapshot()
	assert.True(t, snap.Locked.IsZero(), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(1.149)), "total %s", snap.Total)
	assert.Empty(t, f.svc.ActivePositions())
	assert.Equal(t, 1, f.venue.sellCalls)

	histories, err := f.repo.ListPositionHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, domain.StatusClosed, histories[0].Status)
	assert.Equal(t, domain.ReasonTakeProfit, histories[0].Reason)
	assert.InDelta(t, 2.0, histories[0].Multiplier, 1e-9)
	assert.True(t, f.repo.hasEvent(domain.EventPositionClosed))
}

func TestService_AbandonsPositionWhenSellFails(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.sellErr = errors.New("wallet signing error")

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)

	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonStopLoss, 0.7)

	// The stake is written off against principal and the reservation is
	// fully unlocked.
	snap := f.ledger.Snapshot()
	assert.True(t, snap.Locked.IsZero(), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(0.899)), "total %s", snap.Total)
	assert.Empty(t, f.svc.ActivePositions())

	histories, err := f.repo.ListPositionHistory(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, histories, 1)
	assert.Equal(t, domain.StatusAbandoned, histories[0].Status)
	assert.True(t, histories[0].Proceeds.IsZero())
	assert.True(t, f.repo.hasEvent(domain.EventPositionAbandoned))
}

// A round trip that sells for exactly what was invested must not grow
// the ledger: only the entry fee leaves, nothing is minted.
func TestService_BreakEvenRoundTripConservesCapital(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.sellFill = &domain.Fill{Proceeds: dec(0.1), Price: 1.0}

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)

	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonTimeout, 1.0)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Locked.IsZero(), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(0.999)), "total %s", snap.Total)
	assert.False(t, snap.Total.GreaterThan(dec(1.0)),
		"a break-even trade must never create capital")
}

// The balance gate must account for the entry fee, not just the
// reservation: with free balance covering only the reservation, the
// candidate is refused before any ledger mutation.
func TestService_BalanceGateCoversEntryFee(t *testing.T) {
	// reservedFor(0.05) = 0.0555; entry fee 0.0005. 0.0556 covers the
	// reservation alone but not the fee on top.
	f := newServiceFixture(t, 5, dec(0.0556))

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	assert.False(t, ok)
	assert.Equal(t, "insufficient balance", reason)
	assert.Equal(t, 0, f.venue.buyCalls)

	snap := f.ledger.Snapshot()
	assert.True(t, snap.Locked.IsZero())
	assert.True(t, snap.Total.Equal(dec(0.0556)))

	// Exactly covered: admission succeeds and the invariant holds with
	// no clamp, locked == total == 0.0555.
	f2 := newServiceFixture(t, 5, dec(0.056))
	ok, reason = f2.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok, "rejected: %s", reason)
	snap = f2.ledger.Snapshot()
	assert.True(t, snap.Locked.Equal(dec(0.0555)), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(0.0555)), "total %s", snap.Total)
	assert.False(t, snap.Locked.GreaterThan(snap.Total))
}

// Registry snapshots and live monitor ticks on the same position must
// not tear: run a fast monitor and hammer ActivePositions concurrently.
func TestService_SnapshotsDuringMonitoring(t *testing.T) {
	venue := &stubVenue{price: 1.0, ready: true}
	repo := &memRepo{}
	log := zap.NewNop()
	ledger := usecase.NewLedger(dec(1.0), log)

	strategyCfg := usecase.StrategyConfig{
		PositionFraction: 0.10,
		MinPositionSize:  decimal.NewFromFloat(0.05),
		MaxPositionSize:  decimal.NewFromFloat(0.5),
		TakeProfitMult:   2.0,
		MinLiquidity:     5,
	}
	strategy, err := usecase.NewStrategy("scalper", strategyCfg)
	require.NoError(t, err)

	cfg := usecase.EngineConfig{
		MaxPositions:          5,
		MonitorInterval:       time.Millisecond,
		ReadinessPollInterval: 5 * time.Millisecond,
		ReadinessWaitTimeout:  200 * time.Millisecond,
		EntryFeePct:           0.01,
		ExitFeePct:            0.01,
		ExitSlippagePct:       0.05,
	}
	svc := usecase.NewPositionService(cfg, strategyCfg, ledger, strategy,
		usecase.NewRetryableExecutor(venue, log), venue, venue, repo, nil, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ok, reason := svc.TryOpenPosition(ctx, candidate("MINT1"))
	require.True(t, ok, "rejected: %s", reason)

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		for _, p := range svc.ActivePositions() {
			assert.Equal(t, "MINT1", p.Mint)
			assert.Greater(t, p.CurrentPrice, 0.0)
			assert.GreaterOrEqual(t, p.PeakPrice, p.CurrentPrice)
		}
	}
}

func TestService_CloseIsIdempotent(t *testing.T) {
	f := newServiceFixture(t, 5, dec(1.0))
	f.venue.sellFill = &domain.Fill{Proceeds: dec(0.25), Price: 2.0}

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)

	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonTakeProfit, 2.0)
	after := f.ledger.Snapshot()

	// A second close for the same mint must be a no-op: no second sell,
	// no second release.
	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonTimeout, 2.0)
	assert.Equal(t, 1, f.venue.sellCalls)
	assert.True(t, f.ledger.Snapshot().Total.Equal(after.Total))

	histories, err := f.repo.ListPositionHistory(context.Background(), 10)
	require.NoError(t, err)
	assert.Len(t, histories, 1)
}

func TestService_SlotFreedAfterClose(t *testing.T) {
	f := newServiceFixture(t, 1, dec(10.0))
	f.venue.sellFill = &domain.Fill{Proceeds: dec(0.25), Price: 2.0}

	ok, _ := f.svc.TryOpenPosition(context.Background(), candidate("MINT1"))
	require.True(t, ok)
	f.svc.ClosePosition(context.Background(), "MINT1", domain.ReasonTakeProfit, 2.0)

	ok, reason := f.svc.TryOpenPosition(context.Background(), candidate("MINT2"))
	assert.True(t, ok, "rejected: %s", reason)
}
