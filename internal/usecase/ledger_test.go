package usecase_test

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/usecase"
)

func dec(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestLedger_ReserveReleaseScenario(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())

	require.True(t, l.Reserve(dec(0.4)))
	assert.True(t, l.Free().Equal(dec(0.6)), "free should be 0.6, got %s", l.Free())

	// Insufficient free balance: state unchanged.
	require.False(t, l.Reserve(dec(0.7)))
	assert.True(t, l.Free().Equal(dec(0.6)))

	l.Release(dec(0.4), dec(0.5))
	snap := l.Snapshot()
	assert.True(t, snap.Locked.IsZero(), "locked should be 0, got %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(1.5)), "total should be 1.5, got %s", snap.Total)
	assert.True(t, snap.Peak.Equal(dec(1.5)), "peak should be 1.5, got %s", snap.Peak)
}

func TestLedger_ReserveRejectsNonPositive(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())

	assert.False(t, l.Reserve(decimal.Zero))
	assert.False(t, l.Reserve(dec(-0.1)))
	assert.True(t, l.Free().Equal(dec(1.0)))
}

func TestLedger_ReleaseExactness(t *testing.T) {
	l := usecase.NewLedger(dec(2.0), zap.NewNop())
	require.True(t, l.Reserve(dec(0.7)))

	before := l.Snapshot()
	l.Release(dec(0.3), dec(0.1))
	after := l.Snapshot()

	assert.True(t, before.Locked.Sub(after.Locked).Equal(dec(0.3)))
	assert.True(t, after.Total.Sub(before.Total).Equal(dec(0.1)))
}

func TestLedger_ReleaseNegativeNetDebitsTotal(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())
	require.True(t, l.Reserve(dec(0.3)))

	// A losing close settles the net against principal.
	l.Release(dec(0.3), dec(-0.1))
	snap := l.Snapshot()
	assert.True(t, snap.Locked.IsZero())
	assert.True(t, snap.Total.Equal(dec(0.9)), "total %s", snap.Total)
	assert.True(t, snap.Peak.Equal(dec(1.0)), "peak must not follow total down")

	// A write-off larger than total is corruption; clamp, never negative.
	l.Release(decimal.Zero, dec(-5.0))
	snap = l.Snapshot()
	assert.True(t, snap.Total.IsZero())
	assert.False(t, snap.Locked.IsNegative())
}

func TestLedger_ReserveForEntry(t *testing.T) {
	// Free balance covers the reservation but not the entry fee on top:
	// the whole step must be refused, nothing mutated.
	l := usecase.NewLedger(dec(0.0556), zap.NewNop())
	assert.False(t, l.ReserveForEntry(dec(0.0555), dec(0.0005)))
	snap := l.Snapshot()
	assert.True(t, snap.Locked.IsZero())
	assert.True(t, snap.Total.Equal(dec(0.0556)))

	// Exactly covered: lock and fee debit land together, and the
	// invariant locked <= total holds without any clamp.
	l2 := usecase.NewLedger(dec(0.056), zap.NewNop())
	require.True(t, l2.ReserveForEntry(dec(0.0555), dec(0.0005)))
	snap = l2.Snapshot()
	assert.True(t, snap.Locked.Equal(dec(0.0555)), "locked %s", snap.Locked)
	assert.True(t, snap.Total.Equal(dec(0.0555)), "total %s", snap.Total)
	assert.False(t, snap.Locked.GreaterThan(snap.Total))
}

func TestLedger_ReleaseClampsAtZero(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())
	require.True(t, l.Reserve(dec(0.2)))

	// Releasing more than is locked is an upstream bug; the ledger
	// self-heals instead of going negative.
	l.Release(dec(0.5), decimal.Zero)
	snap := l.Snapshot()
	assert.True(t, snap.Locked.IsZero())
	assert.True(t, snap.Total.Equal(dec(1.0)))
}

func TestLedger_DeductFromPrincipalClamps(t *testing.T) {
	l := usecase.NewLedger(dec(0.3), zap.NewNop())

	l.DeductFromPrincipal(dec(0.1))
	assert.True(t, l.Snapshot().Total.Equal(dec(0.2)))

	l.DeductFromPrincipal(dec(5.0))
	assert.True(t, l.Snapshot().Total.IsZero())
}

func TestLedger_SyncClampsLocked(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())
	require.True(t, l.Reserve(dec(0.5)))

	// External balance dropped below the lock: locked must never
	// exceed the synced total.
	l.SyncToExternalBalance(dec(0.3))
	snap := l.Snapshot()
	assert.True(t, snap.Total.Equal(dec(0.3)))
	assert.True(t, snap.Locked.Equal(dec(0.3)))
	assert.False(t, snap.Free.IsNegative())
}

func TestLedger_ReconcileCorrectsDrift(t *testing.T) {
	l := usecase.NewLedger(dec(1.0), zap.NewNop())
	require.True(t, l.Reserve(dec(0.5)))

	drift := l.Reconcile(dec(0.2))
	assert.True(t, drift.Equal(dec(0.3)))
	assert.True(t, l.Snapshot().Locked.Equal(dec(0.2)))

	// No drift: no-op.
	assert.True(t, l.Reconcile(dec(0.2)).IsZero())
}

// TestLedger_InvariantsUnderRandomSequence hammers the ledger with a
// random op sequence and checks the invariants after every call.
func TestLedger_InvariantsUnderRandomSequence(t *testing.T) {
	l := usecase.NewLedger(dec(10.0), zap.NewNop())
	rng := rand.New(rand.NewSource(42))
	prevPeak := l.Snapshot().Peak

	for i := 0; i < 500; i++ {
		amount := dec(rng.Float64())
		switch rng.Intn(5) {
		case 0:
			l.Reserve(amount)
		case 1:
			l.Release(amount, dec(rng.Float64()*0.6-0.3)) // wins and losses
		case 2:
			l.DeductFromPrincipal(amount)
		case 3:
			l.Reconcile(amount)
		case 4:
			l.ReserveForEntry(amount, dec(rng.Float64()*0.05))
		}

		snap := l.Snapshot()
		require.False(t, snap.Locked.IsNegative(), "op %d: locked went negative", i)
		require.False(t, snap.Locked.GreaterThan(snap.Total), "op %d: locked %s > total %s", i, snap.Locked, snap.Total)
		require.False(t, snap.Free.IsNegative(), "op %d: free went negative", i)
		require.False(t, snap.Peak.LessThan(snap.Total), "op %d: peak below total", i)
		require.False(t, snap.Peak.LessThan(prevPeak), "op %d: peak decreased", i)
		prevPeak = snap.Peak
	}
}

// TestLedger_ConcurrentReserves verifies the single mutation point:
// with 0.4 free and 50 concurrent reserves of 0.01, exactly 40 succeed.
func TestLedger_ConcurrentReserves(t *testing.T) {
	l := usecase.NewLedger(dec(0.4), zap.NewNop())

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0

	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if l.Reserve(dec(0.01)) {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, succeeded)
	assert.True(t, l.Snapshot().Locked.Equal(dec(0.4)))
	assert.True(t, l.Free().IsZero())
}
