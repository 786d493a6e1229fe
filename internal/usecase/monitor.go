package usecase

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// runMonitor is the per-position tick loop. Ticks within one position
// are strictly sequential; the status check at loop head is the
// cancellation signal once the position leaves ACTIVE. The price fetch
// happens outside the service mutex; every position-field write and the
// strategy evaluation happen under it, so registry snapshots always see
// a consistent position.
func (s *PositionService) runMonitor(ctx context.Context, pos *domain.Position) {
	ticker := time.NewTicker(s.cfg.MonitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		price, at, havePrice := s.lookupPrice(ctx, pos.Mint)

		s.mu.Lock()
		if pos.Status != domain.StatusActive {
			s.mu.Unlock()
			return
		}
		now := time.Now()
		if havePrice {
			pos.CurrentPrice = price
			pos.LastPriceUpdate = at
			if price > pos.PeakPrice {
				pos.PeakPrice = price
			}
			pos.History.Push(price, at)
		}
		tick := Tick{
			Price:      pos.CurrentPrice,
			Now:        now,
			SilenceFor: now.Sub(pos.LastPriceUpdate),
		}
		d := s.strategy.MonitorTick(pos, tick)
		lastPrice := pos.CurrentPrice
		s.mu.Unlock()

		if d.Action == domain.ActionExit {
			s.logger.Info("exit triggered",
				zap.String("mint", pos.Mint),
				zap.String("reason", d.Reason),
				zap.Bool("urgent", d.Urgent),
				zap.Float64("price", lastPrice))
			s.ClosePosition(ctx, pos.Mint, d.Reason, lastPrice)
			return
		}
	}
}

// lookupPrice serves the monitor from the shared batch-refreshed cache
// when it is fresh, falling back to a direct quote. A zero price means
// "no data" and is never returned as a real quote.
func (s *PositionService) lookupPrice(ctx context.Context, mint string) (float64, time.Time, bool) {
	s.priceMu.RLock()
	cached, ok := s.priceCache[mint]
	s.priceMu.RUnlock()
	if ok && time.Since(cached.at) < s.cfg.PriceRefreshInterval {
		return cached.price, cached.at, true
	}

	price, err := s.quotes.GetPrice(ctx, mint)
	if err != nil || price <= 0 {
		return 0, time.Time{}, false
	}
	at := time.Now()
	s.priceMu.Lock()
	if s.priceCache == nil {
		s.priceCache = make(map[string]cachedPrice)
	}
	s.priceCache[mint] = cachedPrice{price: price, at: at}
	s.priceMu.Unlock()
	return price, at, true
}

// RunPriceRefresher periodically refreshes the shared price cache for
// all active positions in one batch call.
func (s *PositionService) RunPriceRefresher(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.PriceRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.mu.RLock()
		mints := make([]string, 0, len(s.positions))
		for mint := range s.positions {
			mints = append(mints, mint)
		}
		s.mu.RUnlock()
		if len(mints) == 0 {
			continue
		}

		prices, err := s.quotes.GetPricesBatch(ctx, mints)
		if err != nil {
			s.logger.Warn("batch price refresh failed", zap.Error(err))
			continue
		}
		now := time.Now()
		s.priceMu.Lock()
		if s.priceCache == nil {
			s.priceCache = make(map[string]cachedPrice)
		}
		for mint, price := range prices {
			if price > 0 {
				s.priceCache[mint] = cachedPrice{price: price, at: now}
			}
		}
		s.priceMu.Unlock()
	}
}

// RunReconciler is the defensive repair loop: it recomputes the ledger
// lock from the live registry, corrects drift, syncs against the
// venue-reported balance when one is available and snapshots the
// ledger for the journal.
func (s *PositionService) RunReconciler(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		s.mu.RLock()
		activeReserved := decimal.Zero
		for _, p := range s.positions {
			activeReserved = activeReserved.Add(p.Reserved)
		}
		s.mu.RUnlock()

		if drift := s.ledger.Reconcile(activeReserved); !drift.IsZero() {
			s.emitEvent(ctx, "", domain.EventLedgerRepair, "lock_desync",
				"corrected drift "+drift.String())
		}

		if s.balance != nil {
			real, err := s.balance.GetBalance(ctx)
			if err != nil {
				s.logger.Warn("external balance fetch failed", zap.Error(err))
			} else {
				s.ledger.SyncToExternalBalance(real)
			}
		}

		if s.repo != nil {
			snap := s.ledger.Snapshot()
			if err := s.repo.SaveLedgerSnapshot(ctx, &snap); err != nil {
				s.logger.Error("failed to persist ledger snapshot", zap.Error(err))
			}
		}
	}
}
