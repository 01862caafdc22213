package bridge

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/kr8tiv/cctp-relayer/internal/metrics"
	"github.com/kr8tiv/cctp-relayer/pkg/config"
	"github.com/kr8tiv/cctp-relayer/pkg/store"
)

const triggerLeaseKey = "bridge_trigger"

// Safety is the slice of the safety system the trigger consults.
type Safety interface {
	IsKilled(ctx context.Context) (bool, error)
	CheckBridgeLimits(ctx context.Context, amount, maxSingle, maxDaily decimal.Decimal) (bool, string, error)
	CheckIdempotency(ctx context.Context, key string) (bool, error)
	ClearIdempotency(ctx context.Context, key string) error
}

// JobStarter creates new bridge jobs.
type JobStarter interface {
	StartBridge(ctx context.Context, amountUSDC decimal.Decimal) (*store.BridgeJob, error)
}

// Trigger decides whether accrued fees should be bridged right now. Every
// evaluation walks the same gate sequence; the first closed gate wins and the
// run is a no-op.
type Trigger struct {
	config     *config.BridgeConfig
	store      JobStore
	base       BaseChain
	safety     Safety
	controller JobStarter
	logger     *zap.Logger
}

// NewTrigger creates a new bridge trigger
func NewTrigger(
	cfg *config.BridgeConfig,
	jobStore JobStore,
	base BaseChain,
	safety Safety,
	controller JobStarter,
	logger *zap.Logger,
) *Trigger {
	return &Trigger{
		config:     cfg,
		store:      jobStore,
		base:       base,
		safety:     safety,
		controller: controller,
		logger:     logger,
	}
}

// CheckAndTrigger evaluates the gates in order and starts a bridge job only
// when all five pass. A nil job with a nil error means a gate was closed.
//
// Gate order: kill switch, no pending job, accrued fees over the threshold,
// base fee under the ceiling, safety caps plus the idempotency lease.
func (t *Trigger) CheckAndTrigger(ctx context.Context) (*store.BridgeJob, error) {
	killed, err := t.safety.IsKilled(ctx)
	if err != nil {
		return nil, err
	}
	if killed {
		metrics.SafetyRejections.WithLabelValues("kill_switch").Inc()
		t.logger.Info("Trigger skipped: kill switch active")
		return nil, nil
	}

	pending, err := t.store.PendingJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending jobs: %w", err)
	}
	if len(pending) > 0 {
		t.logger.Debug("Trigger skipped: bridge job already in flight",
			zap.Int64("job_id", pending[0].ID),
			zap.String("state", string(pending[0].State)))
		return nil, nil
	}

	balance, err := t.base.USDCBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read operator USDC balance: %w", err)
	}
	accrued := decimal.NewFromBigInt(balance, -6)
	threshold := decimal.NewFromFloat(t.config.ThresholdUSD)
	if accrued.LessThan(threshold) {
		t.logger.Debug("Trigger skipped: accrued fees below threshold",
			zap.String("accrued_usdc", accrued.String()),
			zap.String("threshold_usdc", threshold.String()))
		return nil, nil
	}

	baseFee, err := t.base.BaseFee(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read base fee: %w", err)
	}
	baseFeeGwei := decimal.NewFromBigInt(baseFee, -9)
	if baseFeeGwei.GreaterThan(decimal.NewFromFloat(t.config.MaxBaseFeeGwei)) {
		t.logger.Info("Trigger skipped: base fee too high",
			zap.String("base_fee_gwei", baseFeeGwei.String()),
			zap.Float64("ceiling_gwei", t.config.MaxBaseFeeGwei))
		return nil, nil
	}

	maxSingle := decimal.NewFromFloat(t.config.MaxSingleUSD)
	maxDaily := decimal.NewFromFloat(t.config.MaxDailyUSD)
	amount := accrued
	if amount.GreaterThan(maxSingle) {
		amount = maxSingle
	}

	claimed, err := t.safety.CheckIdempotency(ctx, triggerLeaseKey)
	if err != nil {
		return nil, err
	}
	if !claimed {
		t.logger.Warn("Trigger skipped: lease already held")
		return nil, nil
	}
	defer func() {
		if err := t.safety.ClearIdempotency(ctx, triggerLeaseKey); err != nil {
			t.logger.Error("Failed to release trigger lease", zap.Error(err))
		}
	}()

	ok, reason, err := t.safety.CheckBridgeLimits(ctx, amount, maxSingle, maxDaily)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.SafetyRejections.WithLabelValues("bridge_limits").Inc()
		t.logger.Warn("Trigger skipped: bridge limits", zap.String("reason", reason))
		return nil, nil
	}

	job, err := t.controller.StartBridge(ctx, amount)
	if err != nil {
		return nil, err
	}
	t.logger.Info("Bridge triggered",
		zap.Int64("job_id", job.ID),
		zap.String("amount_usdc", amount.String()))
	return job, nil
}
