package usecase

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/token_snipe_bot/internal/domain"
)

type gateState string

const (
	gateProbing          gateState = "PROBING"
	gateFilterEvaluating gateState = "FILTER_EVALUATING"
	gateWaitingReady     gateState = "WAITING_READY"
	gateBuying           gateState = "BUYING"
	gateDiscarded        gateState = "DISCARDED"
)

// filterStep is one admission filter. It must be safe to run again
// after an interruption.
type filterStep struct {
	name string
	run  func(ctx context.Context) (bool, string, error)
}

// readinessGate drives one candidate through the pre-buy state
// machine: readiness is polled on a fixed short interval while filter
// steps are evaluated; a slow step is raced against the poll interval
// so a readiness success is never missed behind a slow filter. Once
// filters pass, the gate waits on readiness alone up to the outer
// timeout.
type readinessGate struct {
	probe        domain.ReadinessProbe
	pollInterval time.Duration
	waitTimeout  time.Duration
	logger       *zap.Logger
}

func newReadinessGate(probe domain.ReadinessProbe, pollInterval, waitTimeout time.Duration, logger *zap.Logger) *readinessGate {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if waitTimeout <= 0 {
		waitTimeout = 3 * time.Minute
	}
	return &readinessGate{
		probe:        probe,
		pollInterval: pollInterval,
		waitTimeout:  waitTimeout,
		logger:       logger,
	}
}

// Wait runs the state machine for one candidate. Returns admitted=true
// once every filter passed and the probe reported ready, otherwise
// false with the discard reason.
func (g *readinessGate) Wait(ctx context.Context, mint string, steps []filterStep) (bool, string) {
	state := gateProbing
	deadline := time.Now().Add(g.waitTimeout)
	ready := false
	stepIdx := 0

	for {
		if err := ctx.Err(); err != nil {
			return false, "cancelled"
		}
		if time.Now().After(deadline) {
			g.logger.Info("candidate discarded on readiness timeout",
				zap.String("mint", mint),
				zap.String("state", string(state)))
			return false, "readiness timeout"
		}

		if !ready {
			ready = g.probe.IsReady(ctx, mint)
		}

		if stepIdx < len(steps) {
			state = gateFilterEvaluating
			step := steps[stepIdx]

			stepCtx, cancel := context.WithTimeout(ctx, g.pollInterval)
			pass, reason, err := step.run(stepCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					// Slow filter interrupted by the readiness poll
					// interval; it resumes on the next iteration.
					continue
				}
				g.logger.Warn("admission filter failed",
					zap.String("mint", mint),
					zap.String("filter", step.name),
					zap.Error(err))
				return false, step.name + " failed"
			}
			if !pass {
				state = gateDiscarded
				return false, reason
			}
			stepIdx++
			continue
		}

		// Filters passed: wait on readiness alone, no re-evaluation.
		if ready {
			state = gateBuying
			return true, ""
		}
		state = gateWaitingReady

		select {
		case <-ctx.Done():
			return false, "cancelled"
		case <-time.After(g.pollInterval):
		}
	}
}
