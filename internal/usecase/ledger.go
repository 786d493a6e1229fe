package usecase

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// Ledger is the single source of truth for available, locked and peak
// capital. All mutation goes through one mutex; the invariants
// 0 <= locked <= total and peak >= total hold after every call.
type Ledger struct {
	mu     sync.Mutex
	total  decimal.Decimal
	locked decimal.Decimal
	peak   decimal.Decimal
	logger *zap.Logger
}

func NewLedger(initial decimal.Decimal, logger *zap.Logger) *Ledger {
	if initial.IsNegative() {
		initial = decimal.Zero
	}
	return &Ledger{
		total:  initial,
		peak:   initial,
		logger: logger,
	}
}

// Reserve locks amount for a position lifecycle. Returns false if the
// amount is not positive or free balance is insufficient.
func (l *Ledger) Reserve(amount decimal.Decimal) bool {
	if !amount.IsPositive() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	free := l.total.Sub(l.locked)
	if free.LessThan(amount) {
		return false
	}
	l.locked = l.locked.Add(amount)
	return true
}

// Release unlocks a reservation and settles the net result of the
// close: proceeds minus the invested stake, negative for a loss or a
// write-off. A reservation larger than the current lock indicates an
// upstream bookkeeping bug; the lock is clamped at zero and the
// discrepancy logged, never fatal.
func (l *Ledger) Release(reserved, net decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	newLocked := l.locked.Sub(reserved)
	if newLocked.IsNegative() {
		l.logger.Error("ledger release exceeds locked balance, clamping",
			zap.String("reserved", reserved.String()),
			zap.String("locked", l.locked.String()))
		newLocked = decimal.Zero
	}
	l.locked = newLocked

	if !net.IsZero() {
		l.total = l.total.Add(net)
		if l.total.IsNegative() {
			l.logger.Error("release net exceeds total balance, clamping",
				zap.String("net", net.String()))
			l.total = decimal.Zero
		}
	}
	if l.total.GreaterThan(l.peak) {
		l.peak = l.total
	}
	l.clampLockedLocked()
}

// ReserveForEntry locks a reservation and debits the entry fee in one
// step. The free-balance check covers both, so admission can never
// pass the balance gate and then drive total below locked with the
// fee deduction.
func (l *Ledger) ReserveForEntry(reserved, fee decimal.Decimal) bool {
	if !reserved.IsPositive() || fee.IsNegative() {
		return false
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	free := l.total.Sub(l.locked)
	if free.LessThan(reserved.Add(fee)) {
		return false
	}
	l.locked = l.locked.Add(reserved)
	l.total = l.total.Sub(fee)
	return true
}

// DeductFromPrincipal debits capital directly, clamped at zero. Used
// when capital leaves principal before a reservation exists (entry fee).
func (l *Ledger) DeductFromPrincipal(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.total = l.total.Sub(amount)
	if l.total.IsNegative() {
		l.logger.Error("principal deduction below zero, clamping",
			zap.String("amount", amount.String()))
		l.total = decimal.Zero
	}
	l.clampLockedLocked()
}

// SyncToExternalBalance resets total to the venue-reported balance.
// The locked amount must never exceed the freshly synced total.
func (l *Ledger) SyncToExternalBalance(real decimal.Decimal) {
	if real.IsNegative() {
		real = decimal.Zero
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	drift := real.Sub(l.total)
	if !drift.IsZero() {
		l.logger.Info("syncing ledger to external balance",
			zap.String("internal", l.total.String()),
			zap.String("external", real.String()),
			zap.String("drift", drift.String()))
	}
	l.total = real
	if l.total.GreaterThan(l.peak) {
		l.peak = l.total
	}
	l.clampLockedLocked()
}

// Reconcile recomputes the lock from the sum of active positions'
// reservations and corrects drift. Defensive repair, not a normal-path
// operation. Returns the drift that was corrected.
func (l *Ledger) Reconcile(activeReserved decimal.Decimal) decimal.Decimal {
	if activeReserved.IsNegative() {
		activeReserved = decimal.Zero
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	drift := l.locked.Sub(activeReserved)
	if drift.IsZero() {
		return decimal.Zero
	}
	l.logger.Error("ledger lock desynchronized, repairing",
		zap.String("locked", l.locked.String()),
		zap.String("active_reserved", activeReserved.String()),
		zap.String("drift", drift.String()))
	l.locked = activeReserved
	l.clampLockedLocked()
	return drift
}

// Free returns the currently unreserved balance.
func (l *Ledger) Free() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.total.Sub(l.locked)
}

func (l *Ledger) Snapshot() domain.LedgerSnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.LedgerSnapshot{
		Total:  l.total,
		Locked: l.locked,
		Free:   l.total.Sub(l.locked),
		Peak:   l.peak,
		At:     time.Now(),
	}
}

// clampLockedLocked enforces locked <= total. Caller holds the mutex.
func (l *Ledger) clampLockedLocked() {
	if l.locked.GreaterThan(l.total) {
		l.logger.Error("locked balance exceeds total, clamping",
			zap.String("locked", l.locked.String()),
			zap.String("total", l.total.String()))
		l.locked = l.total
	}
	if l.locked.IsNegative() {
		l.locked = decimal.Zero
	}
}
