package usecase

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

// notTradableSignatures are the venue error fragments that mean "this
// token is not yet tradable on-chain", the only error class worth a
// single retry.
var notTradableSignatures = []string{
	"not tradable",
	"pool not initialized",
	"no route",
	"account does not exist",
	"pre-launch",
}

func isNotTradable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range notTradableSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

// RetryableExecutor wraps a single execution call with a bounded-retry
// policy: one randomized-backoff retry on a not-tradable error, then
// the call is abandoned permanently. Any other error class is returned
// immediately. Callers must not retry further.
type RetryableExecutor struct {
	adapter    domain.ExecutionAdapter
	logger     *zap.Logger
	backoffMin time.Duration
	backoffMax time.Duration
}

func NewRetryableExecutor(adapter domain.ExecutionAdapter, logger *zap.Logger) *RetryableExecutor {
	return &RetryableExecutor{
		adapter:    adapter,
		logger:     logger,
		backoffMin: 300 * time.Millisecond,
		backoffMax: 900 * time.Millisecond,
	}
}

func (e *RetryableExecutor) Buy(ctx context.Context, mint string, amount decimal.Decimal) (*domain.Fill, error) {
	return e.execute(ctx, "buy", mint, func() (*domain.Fill, error) {
		return e.adapter.Buy(ctx, mint, amount)
	})
}

func (e *RetryableExecutor) Sell(ctx context.Context, mint string, tokens decimal.Decimal, slippagePct float64) (*domain.Fill, error) {
	return e.execute(ctx, "sell", mint, func() (*domain.Fill, error) {
		return e.adapter.Sell(ctx, mint, tokens, slippagePct)
	})
}

func (e *RetryableExecutor) execute(ctx context.Context, op, mint string, call func() (*domain.Fill, error)) (*domain.Fill, error) {
	fill, err := call()
	if err == nil {
		return fill, nil
	}
	if !isNotTradable(err) {
		return nil, err
	}

	backoff := e.backoffMin + time.Duration(rand.Int63n(int64(e.backoffMax-e.backoffMin)))
	e.logger.Warn("venue reports token not tradable, retrying once",
		zap.String("op", op),
		zap.String("mint", mint),
		zap.Duration("backoff", backoff),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(backoff):
	}

	fill, err = call()
	if err == nil {
		return fill, nil
	}
	if isNotTradable(err) {
		// Circuit breaker: structurally not ready, do not hammer the venue.
		return nil, fmt.Errorf("%s %s permanently abandoned after retry: %w", op, mint, err)
	}
	return nil, err
}
