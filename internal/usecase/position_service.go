package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// maxSaneMultiplier caps the exit multiplier used when proceeds must be
// estimated from quotes. Anything above it is treated as upstream quote
// corruption, clamped and logged.
const maxSaneMultiplier = 1000.0

type EngineConfig struct {
	MaxPositions          int           `yaml:"max_positions"`
	MonitorInterval       time.Duration `yaml:"-"`
	PriceRefreshInterval  time.Duration `yaml:"-"`
	ReconcileInterval     time.Duration `yaml:"-"`
	ReadinessPollInterval time.Duration `yaml:"-"`
	ReadinessWaitTimeout  time.Duration `yaml:"-"`
	EntryFeePct           float64       `yaml:"entry_fee_pct"`
	ExitFeePct            float64       `yaml:"exit_fee_pct"`
	ExitSlippagePct       float64       `yaml:"exit_slippage_pct"`
}

func (c *EngineConfig) applyDefaults() {
	if c.MaxPositions <= 0 {
		c.MaxPositions = 5
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = 500 * time.Millisecond
	}
	if c.PriceRefreshInterval <= 0 {
		c.PriceRefreshInterval = 2 * time.Second
	}
	if c.ReconcileInterval <= 0 {
		c.ReconcileInterval = 30 * time.Second
	}
	if c.ReadinessPollInterval <= 0 {
		c.ReadinessPollInterval = 500 * time.Millisecond
	}
	if c.ReadinessWaitTimeout <= 0 {
		c.ReadinessWaitTimeout = 3 * time.Minute
	}
	if c.ExitFeePct <= 0 {
		c.ExitFeePct = 0.01
	}
	if c.ExitSlippagePct <= 0 {
		c.ExitSlippagePct = 0.05
	}
}

type cachedPrice struct {
	price float64
	at    time.Time
}

// PositionService owns the position lifecycle: admission gates, the
// active registry, per-position monitor goroutines and the close path.
type PositionService struct {
	cfg         EngineConfig
	strategyCfg StrategyConfig
	ledger      *Ledger
	strategy    Strategy
	executor    *RetryableExecutor
	quotes      domain.QuoteService
	gate        *readinessGate
	repo        domain.TradeRepository
	balance     domain.BalanceSource // nil in paper mode
	logger      *zap.Logger

	mu        sync.RWMutex
	positions map[string]*domain.Position
	pending   map[string]bool // mints currently inside admission

	priceMu    sync.RWMutex
	priceCache map[string]cachedPrice
}

func NewPositionService(
	cfg EngineConfig,
	strategyCfg StrategyConfig,
	ledger *Ledger,
	strategy Strategy,
	executor *RetryableExecutor,
	quotes domain.QuoteService,
	probe domain.ReadinessProbe,
	repo domain.TradeRepository,
	balance domain.BalanceSource,
	logger *zap.Logger,
) *PositionService {
	cfg.applyDefaults()
	return &PositionService{
		cfg:         cfg,
		strategyCfg: strategyCfg,
		ledger:      ledger,
		strategy:    strategy,
		executor:    executor,
		quotes:      quotes,
		gate:        newReadinessGate(probe, cfg.ReadinessPollInterval, cfg.ReadinessWaitTimeout, logger),
		repo:        repo,
		balance:     balance,
		logger:      logger,
		positions:   make(map[string]*domain.Position),
		pending:     make(map[string]bool),
	}
}

func (s *PositionService) Ledger() *Ledger { return s.ledger }

// ActivePositions returns a copy of the registry for read-only use.
func (s *PositionService) ActivePositions() []*domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		cp := *p
		out = append(out, &cp)
	}
	return out
}

func (s *PositionService) activeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions) + len(s.pending)
}

// reservedFor computes the pessimistic hold for a stake: the stake
// itself plus projected exit fee plus projected exit slippage at the
// strategy's target multiplier, so a worst-case exit can never drive
// the account negative.
func (s *PositionService) reservedFor(size decimal.Decimal) decimal.Decimal {
	exitFee := size.Mul(decimal.NewFromFloat(s.cfg.ExitFeePct))
	slippage := size.
		Mul(decimal.NewFromFloat(s.strategyCfg.TargetMultiplier())).
		Mul(decimal.NewFromFloat(s.cfg.ExitSlippagePct))
	return size.Add(exitFee).Add(slippage)
}

func (s *PositionService) entryFeeFor(size decimal.Decimal) decimal.Decimal {
	return size.Mul(decimal.NewFromFloat(s.cfg.EntryFeePct))
}

// TryOpenPosition runs the admission gates in strict order and, when
// they all pass, reserves capital, buys, registers the position and
// spawns its monitor. Gate rejections are values, not errors; no side
// effects happen before every gate has passed.
func (s *PositionService) TryOpenPosition(ctx context.Context, cand domain.TokenCandidate) (bool, string) {
	mint := cand.Mint

	// Slot gate, plus the one-active-per-mint invariant. The pending
	// marker keeps a second candidate for the same mint out while this
	// one is still inside admission.
	s.mu.Lock()
	if _, exists := s.positions[mint]; exists || s.pending[mint] {
		s.mu.Unlock()
		return s.reject(ctx, mint, "position already open")
	}
	if len(s.positions)+len(s.pending) >= s.cfg.MaxPositions {
		s.mu.Unlock()
		return s.reject(ctx, mint, "no free slots")
	}
	s.pending[mint] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, mint)
		s.mu.Unlock()
	}()

	// Balance gate: free balance must cover the minimum viable
	// reservation plus its entry fee before anything else runs.
	minSize := s.strategyCfg.MinPositionSize
	if minSize.IsZero() {
		minSize = decimal.NewFromFloat(0.05)
	}
	minViable := s.reservedFor(minSize).Add(s.entryFeeFor(minSize))
	if s.ledger.Free().LessThan(minViable) {
		return s.reject(ctx, mint, "insufficient balance")
	}

	// Strategy + readiness gates run inside the readiness state
	// machine: filters are interleaved with readiness polls.
	ec := EntryContext{
		Candidate:      cand,
		ReferencePrice: cand.DiscoveryPrice,
		LiquidityUnits: cand.LiquidityUnits,
	}
	steps := []filterStep{
		{name: "quote", run: func(stepCtx context.Context) (bool, string, error) {
			price, err := s.quotes.GetPrice(stepCtx, mint)
			if err != nil {
				return false, "", err
			}
			if price <= 0 {
				return false, "no quote available", nil
			}
			ec.CurrentPrice = price
			if ec.ReferencePrice <= 0 {
				ec.ReferencePrice = price
			}
			return true, "", nil
		}},
		{name: "strategy", run: func(stepCtx context.Context) (bool, string, error) {
			d := s.strategy.ShouldEnter(ec)
			return d.Enter, d.Reason, nil
		}},
	}
	admitted, reason := s.gate.Wait(ctx, mint, steps)
	if !admitted {
		return s.reject(ctx, mint, reason)
	}

	// Reservation. The lock and the entry-fee debit happen in one
	// ledger step; both are rolled back exactly if the buy fails.
	params := s.strategy.EntryParams(ec, s.ledger.Free())
	reserved := s.reservedFor(params.Size)
	entryFee := s.entryFeeFor(params.Size)

	if !s.ledger.ReserveForEntry(reserved, entryFee) {
		return s.reject(ctx, mint, "reservation failed")
	}

	fill, err := s.executor.Buy(ctx, mint, params.Size)
	if err != nil {
		// Exact inverse of the mutations above: unlock the hold and
		// credit the fee back. No partial state survives a failed buy.
		s.ledger.Release(reserved, entryFee)
		s.logger.Warn("buy failed, reservation rolled back",
			zap.String("mint", mint), zap.Error(err))
		return s.reject(ctx, mint, fmt.Sprintf("buy failed: %v", err))
	}

	now := time.Now()
	entryPrice := fill.Price
	if entryPrice <= 0 {
		entryPrice = ec.CurrentPrice
	}

	pos := &domain.Position{
		Mint:            mint,
		StrategyID:      s.strategy.ID(),
		EntryPrice:      entryPrice,
		Invested:        params.Size,
		Reserved:        reserved,
		TokenAmount:     fill.FilledTokens,
		EntryTime:       now,
		PeakPrice:       entryPrice,
		CurrentPrice:    entryPrice,
		LastPriceUpdate: now,
		Status:          domain.StatusActive,
	}
	if params.StopLossPct > 0 {
		pos.StopLossPrice = entryPrice * (1 - params.StopLossPct)
	}
	if params.TakeProfitMult > 0 {
		pos.TakeProfitPrice = entryPrice * params.TakeProfitMult
	}
	if params.TimeoutSec > 0 {
		pos.Deadline = now.Add(time.Duration(params.TimeoutSec) * time.Second)
	}
	pos.TrailingStopPct = params.TrailingStopPct
	pos.History.Push(entryPrice, now)

	s.mu.Lock()
	s.positions[mint] = pos
	s.mu.Unlock()

	s.logger.Info("position opened",
		zap.String("mint", mint),
		zap.String("strategy", pos.StrategyID),
		zap.Float64("entry_price", entryPrice),
		zap.String("invested", pos.Invested.String()),
		zap.String("reserved", pos.Reserved.String()))
	s.emitEvent(ctx, mint, domain.EventCandidateAdmitted, "", "")
	s.emitEvent(ctx, mint, domain.EventPositionOpened, "",
		fmt.Sprintf("invested=%s reserved=%s entry=%.12f", pos.Invested, pos.Reserved, entryPrice))

	go s.runMonitor(ctx, pos)
	return true, ""
}

func (s *PositionService) reject(ctx context.Context, mint, reason string) (bool, string) {
	s.logger.Debug("candidate rejected",
		zap.String("mint", mint), zap.String("reason", reason))
	s.emitEvent(ctx, mint, domain.EventCandidateRejected, reason, "")
	return false, reason
}

// ClosePosition exits an active position. Idempotent: a position
// enters CLOSING exactly once, so concurrent exit triggers cannot
// double-fire; the ledger release happens exactly once per position.
func (s *PositionService) ClosePosition(ctx context.Context, mint, reason string, exitPrice float64) {
	s.mu.Lock()
	pos, ok := s.positions[mint]
	if !ok || pos.Status != domain.StatusActive {
		s.mu.Unlock()
		return
	}
	pos.Status = domain.StatusClosing
	s.mu.Unlock()

	plan := s.strategy.ExitPlan(pos, reason)
	fill, err := s.executor.Sell(ctx, pos.Mint, pos.TokenAmount, plan.SlippagePct)

	var (
		status   domain.PositionStatus
		proceeds decimal.Decimal
	)
	if err != nil {
		// Irrecoverable exit failure: write the stake off against
		// principal and fully unlock the reservation, never leave it
		// in limbo.
		status = domain.StatusAbandoned
		proceeds = decimal.Zero
		s.ledger.Release(pos.Reserved, pos.Invested.Neg())
		s.logger.Error("sell failed irrecoverably, position abandoned",
			zap.String("mint", pos.Mint),
			zap.String("written_off", pos.Invested.String()),
			zap.Error(err))
	} else {
		status = domain.StatusClosed
		if fill.Price > 0 {
			exitPrice = fill.Price
		}
		if fill.Proceeds.IsPositive() {
			proceeds = fill.Proceeds
		} else {
			proceeds = s.estimateProceeds(pos, exitPrice)
		}
		// The invested stake stayed inside total for the position's
		// lifetime; the close settles only the net result, so a
		// break-even trade cannot grow the ledger.
		s.ledger.Release(pos.Reserved, proceeds.Sub(pos.Invested))
	}

	s.mu.Lock()
	pos.Status = status
	delete(s.positions, pos.Mint)
	s.mu.Unlock()

	mult := 0.0
	if pos.EntryPrice > 0 && exitPrice > 0 {
		mult = exitPrice / pos.EntryPrice
	}
	now := time.Now()

	if status == domain.StatusClosed {
		s.logger.Info("position closed",
			zap.String("mint", pos.Mint),
			zap.String("reason", reason),
			zap.Float64("multiplier", mult),
			zap.String("proceeds", proceeds.String()),
			zap.Duration("held", now.Sub(pos.EntryTime)))
		s.emitEvent(ctx, pos.Mint, domain.EventPositionClosed, reason,
			fmt.Sprintf("multiplier=%.4f proceeds=%s", mult, proceeds))
	} else {
		s.emitEvent(ctx, pos.Mint, domain.EventPositionAbandoned, reason,
			fmt.Sprintf("written_off=%s", pos.Invested))
	}

	if s.repo != nil {
		h := &domain.PositionHistory{
			Mint:       pos.Mint,
			StrategyID: pos.StrategyID,
			Status:     status,
			EntryPrice: pos.EntryPrice,
			ExitPrice:  exitPrice,
			Invested:   pos.Invested,
			Reserved:   pos.Reserved,
			Proceeds:   proceeds,
			Multiplier: mult,
			Reason:     reason,
			OpenedAt:   pos.EntryTime,
			ClosedAt:   now,
		}
		if err := s.repo.SavePositionHistory(ctx, h); err != nil {
			s.logger.Error("failed to persist position history",
				zap.String("mint", pos.Mint), zap.Error(err))
		}
	}
}

// estimateProceeds is the fallback when the venue cannot report an
// exact fill: invested stake scaled by the observed multiplier, net of
// the projected exit fee. Implausible multipliers are evidence of
// quote corruption and get clamped, not trusted.
func (s *PositionService) estimateProceeds(pos *domain.Position, exitPrice float64) decimal.Decimal {
	if pos.EntryPrice <= 0 || exitPrice <= 0 {
		return decimal.Zero
	}
	mult := exitPrice / pos.EntryPrice
	if mult > maxSaneMultiplier {
		s.logger.Error("implausible exit multiplier, clamping",
			zap.String("mint", pos.Mint),
			zap.Float64("multiplier", mult),
			zap.Float64("clamp", maxSaneMultiplier))
		mult = maxSaneMultiplier
	}
	gross := pos.Invested.Mul(decimal.NewFromFloat(mult))
	fee := gross.Mul(decimal.NewFromFloat(s.cfg.ExitFeePct))
	return gross.Sub(fee)
}

func (s *PositionService) emitEvent(ctx context.Context, mint, kind, reason, detail string) {
	if s.repo == nil {
		return
	}
	e := &domain.LifecycleEvent{
		ID:        uuid.NewString(),
		Mint:      mint,
		Kind:      kind,
		Reason:    reason,
		Detail:    detail,
		CreatedAt: time.Now(),
	}
	if err := s.repo.SaveEvent(ctx, e); err != nil {
		s.logger.Error("failed to persist lifecycle event",
			zap.String("kind", kind), zap.Error(err))
	}
}
